package clipboard

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLineEndingsToClientAddsCR(t *testing.T) {
	assert.Equal(t, "a\r\nb", NormalizeLineEndings("a\nb", true))
}

func TestNormalizeLineEndingsFromClientStripsCR(t *testing.T) {
	assert.Equal(t, "a\nb", NormalizeLineEndings("a\r\nb", false))
}

func TestUTF16LERoundTrip(t *testing.T) {
	original := "hello\r\nworld"
	encoded := EncodeUTF16LE(original)
	decoded := DecodeUTF16LE(encoded)
	assert.Equal(t, original, decoded)
}

func TestPNGToBMPRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	img.Set(1, 1, color.RGBA{0, 255, 0, 255})

	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	bmpData, err := PNGToBMP(pngBuf.Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, bmpData)

	pngBack, err := BMPToPNG(bmpData)
	require.NoError(t, err)
	assert.NotEmpty(t, pngBack)
}

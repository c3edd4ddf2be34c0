package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

func TestConvertTo420WhiteFrame(t *testing.T) {
	c := NewScalarConverter()
	frame := solidFrame(4, 4, 255, 255, 255)

	planes := c.ConvertTo420(frame, 4*4, 4, 4, types.PixelFormatBGRA)
	require.Len(t, planes.Y, 16)
	for _, y := range planes.Y {
		assert.InDelta(t, 235, int(y), 2)
	}
}

func TestConvertTo444PreservesResolution(t *testing.T) {
	c := NewScalarConverter()
	frame := solidFrame(4, 4, 0, 0, 0)

	planes := c.ConvertTo444(frame, 4*4, 4, 4, types.PixelFormatBGRA)
	assert.Len(t, planes.U, 16)
	assert.Len(t, planes.V, 16)
}

func TestSplitAVC444SubframesSameDimensions(t *testing.T) {
	c := NewScalarConverter()
	frame := solidFrame(8, 8, 50, 100, 150)
	full := c.ConvertTo444(frame, 8*4, 8, 8, types.PixelFormatBGRA)

	main, aux := SplitAVC444Subframes(full)
	assert.Equal(t, main.Width, aux.Width)
	assert.Equal(t, main.Height, aux.Height)
	assert.Len(t, main.Y, 64)
	assert.Len(t, aux.Y, len(main.Y))
}

package clipboard

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"
	"unicode/utf16"

	"golang.org/x/image/bmp"
)

// NormalizeLineEndings converts line endings per RDPECLIP direction:
// toClient content (destined for CF_UNICODETEXT) uses CRLF, the way
// Windows text clipboard formats require; content read back from the
// client (or destined for CF_TEXT / the local Linux clipboard) uses LF.
func NormalizeLineEndings(s string, toClient bool) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if toClient {
		return strings.ReplaceAll(s, "\n", "\r\n")
	}
	return s
}

// EncodeUTF16LE encodes a Go string (already CRLF-normalized if destined
// for CF_UNICODETEXT) as UTF-16LE with no BOM, the wire format
// CF_UNICODETEXT requires.
func EncodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2+2) // +2 for the trailing NUL terminator
	for i, u := range units {
		out[i*2] = byte(u)
		out[i*2+1] = byte(u >> 8)
	}
	return out
}

// DecodeUTF16LE decodes CF_UNICODETEXT wire data (UTF-16LE, NUL
// terminated) back to a Go string.
func DecodeUTF16LE(data []byte) string {
	if len(data) >= 2 && data[len(data)-2] == 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-2]
	}
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, uint16(data[i])|uint16(data[i+1])<<8)
	}
	return string(utf16.Decode(units))
}

// PNGToBMP converts PNG-encoded image data (as produced by the local
// clipboard's ReadPNG) into a Windows BMP (CF_DIB-compatible) payload,
// using golang.org/x/image/bmp since the corpus carries it as an
// indirect teacher dependency rather than reaching for a hand-rolled BMP
// encoder.
func PNGToBMP(pngData []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("clipboard: decode PNG: %w", err)
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("clipboard: encode BMP: %w", err)
	}
	return buf.Bytes(), nil
}

// BMPToPNG converts a CF_DIB/BMP payload received from the client into
// PNG for writing to the local clipboard.
func BMPToPNG(bmpData []byte) ([]byte, error) {
	img, err := bmp.Decode(bytes.NewReader(bmpData))
	if err != nil {
		return nil, fmt.Errorf("clipboard: decode BMP: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("clipboard: encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

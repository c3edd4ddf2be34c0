package video

import (
	"encoding/binary"
	"fmt"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

// RDPEGFX PDU type codes relevant to the encode-side framing this package
// produces (MS-RDPEGFX section 2.2.2). Only the subset the video pipeline
// emits is defined here; the session/mux layer owns the rest of the
// channel's PDU table.
const (
	cmdIDWireToSurface1 = 0x0001
	cmdIDSolidFill      = 0x0004
	cmdIDSurfaceToCache = 0x0005
	cmdIDCacheToSurface = 0x0006
	cmdIDResetGraphics  = 0x000e
)

// codecID maps the internal Codec enum to the MS-RDPEGFX
// RDPGFX_CODECID_* wire values.
func codecID(c types.Codec) (uint16, error) {
	switch c {
	case types.CodecAVC420:
		return 0x0003, nil // RDPGFX_CODECID_AVC420
	case types.CodecAVC444:
		return 0x0009, nil // RDPGFX_CODECID_AVC444
	default:
		return 0, fmt.Errorf("framing: unknown codec %v", c)
	}
}

// FrameHeader is the monotonic per-surface sequencing and placement
// metadata of one framed payload (spec §4.2: frame seq, surface id, dest
// rect, codec id). The surface id, codec id and dest rect precede the
// payload on the wire; FrameSeq is returned to the caller but not written.
type FrameHeader struct {
	SurfaceID uint32
	FrameSeq  uint64
	Codec     uint16
	Left, Top, Right, Bottom uint16
}

// BuildWireToSurface1 frames an EncodedFrame as an RDPGFX_WIRE_TO_SURFACE_PDU_1
// (MS-RDPEGFX 2.2.2.1), returning the bitstream payload ready to hand to the
// channel PDU codec (itself outside this repo's scope, per spec §6). AVC444
// frames carry both subframes back to back inside bitmapDataLength, tagged
// with the AVC444 auxiliary-stream-present bit the spec format requires.
func BuildWireToSurface1(f types.EncodedFrame) ([]byte, FrameHeader, error) {
	cid, err := codecID(f.Codec)
	if err != nil {
		return nil, FrameHeader{}, err
	}

	hdr := FrameHeader{
		SurfaceID: f.SurfaceID,
		FrameSeq:  f.Seq,
		Codec:     cid,
		Left:      uint16(f.DestRect.Min.X),
		Top:       uint16(f.DestRect.Min.Y),
		Right:     uint16(f.DestRect.Max.X),
		Bottom:    uint16(f.DestRect.Max.Y),
	}

	var body []byte
	switch f.Codec {
	case types.CodecAVC420:
		body = buildAVC420Bitstream(f)
	case types.CodecAVC444:
		body = buildAVC444Bitstream(f)
	default:
		return nil, FrameHeader{}, fmt.Errorf("framing: unsupported codec %v", f.Codec)
	}

	out := make([]byte, 0, 18+len(body))
	out = appendU16LE(out, cmdIDWireToSurface1)
	out = appendU32LE(out, hdr.SurfaceID)
	out = appendU16LE(out, hdr.Codec)
	out = appendU16LE(out, hdr.Left)
	out = appendU16LE(out, hdr.Top)
	out = appendU16LE(out, hdr.Right)
	out = appendU16LE(out, hdr.Bottom)
	out = appendU32LE(out, uint32(len(body)))
	out = append(out, body...)

	return out, hdr, nil
}

// buildAVC420Bitstream wraps a single H.264 Annex-B stream in the
// RDPGFX_AVC420_BITMAP_STREAM layout: one regionRect count (whole-rect
// here; tile-level sub-rects are a quality refinement this repo does not
// need since the damage tracker already coalesced rectangles) plus the
// raw NAL data.
func buildAVC420Bitstream(f types.EncodedFrame) []byte {
	out := make([]byte, 0, 4+len(f.Main))
	out = appendU32LE(out, 1) // numRegionRects
	out = append(out, f.Main...)
	return out
}

// buildAVC444Bitstream wraps both subframes per RDPGFX_AVC444_BITMAP_STREAM:
// a cBitstream length-prefixed main (LC 4:2:0) view followed directly by
// the auxiliary view, with the LC (luma/chroma) flag distinguishing which
// is which on decode.
func buildAVC444Bitstream(f types.EncodedFrame) []byte {
	out := make([]byte, 0, 9+len(f.Main)+len(f.Aux))
	const lc444 = 0x2 // both luma and chroma streams present
	out = append(out, lc444)
	out = appendU32LE(out, uint32(len(f.Main)))
	out = appendU32LE(out, 1) // numRegionRects (main)
	out = append(out, f.Main...)
	out = appendU32LE(out, 1) // numRegionRects (aux)
	out = append(out, f.Aux...)
	return out
}

func appendU16LE(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32LE(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

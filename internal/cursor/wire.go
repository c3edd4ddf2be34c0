package cursor

import "encoding/binary"

// BuildPointerUpdate frames one cursor Update into the bytes the
// RDPEGFX pointer sub-channel carries (spec §12): position, hotspot,
// dimensions, and, when present, the raw ARGB bitmap. A zero-length ARGB
// means position moved but the shape is unchanged, mirroring the teacher's
// cursor_state.go split between UpdatePosition and UpdateShape.
func BuildPointerUpdate(u Update) []byte {
	out := make([]byte, 20, 20+len(u.ARGB))
	binary.LittleEndian.PutUint32(out[0:4], uint32(int32(u.X)))
	binary.LittleEndian.PutUint32(out[4:8], uint32(int32(u.Y)))
	binary.LittleEndian.PutUint32(out[8:12], uint32(int32(u.HotspotX)))
	binary.LittleEndian.PutUint32(out[12:16], uint32(int32(u.HotspotY)))
	binary.LittleEndian.PutUint16(out[16:18], uint16(u.Width))
	binary.LittleEndian.PutUint16(out[18:20], uint16(u.Height))
	return append(out, u.ARGB...)
}

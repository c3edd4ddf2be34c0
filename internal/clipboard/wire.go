package clipboard

import "encoding/binary"

// RDPECLIP PDU message types (MS-RDPECLIP 2.2.2), the subset the
// clipboard handler produces responses for.
const (
	msgTypeFormatDataResponse   uint16 = 0x0005
	msgTypeFileContentsResponse uint16 = 0x0009
)

// RDPECLIP msgFlags (MS-RDPECLIP 2.2.1).
const (
	responseOK   uint16 = 0x0001
	responseFail uint16 = 0x0002
)

// buildHeader writes the 8-byte CLIPRDR_HEADER (MS-RDPECLIP 2.2.1):
// msgType, msgFlags, dataLen, all little-endian.
func buildHeader(msgType, msgFlags uint16, dataLen uint32) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint16(out[0:2], msgType)
	binary.LittleEndian.PutUint16(out[2:4], msgFlags)
	binary.LittleEndian.PutUint32(out[4:8], dataLen)
	return out
}

// BuildFormatDataResponse frames a CLIPRDR_FORMAT_DATA_RESPONSE (MS-RDPECLIP
// 2.2.5.2): the requestedFormatData the multi-format fulfillment in
// state.go produced, or an empty failure response if err != nil.
func BuildFormatDataResponse(data []byte, err error) []byte {
	if err != nil {
		return buildHeader(msgTypeFormatDataResponse, responseFail, 0)
	}
	out := buildHeader(msgTypeFormatDataResponse, responseOK, uint32(len(data)))
	return append(out, data...)
}

// BuildFileContentsResponse frames a CLIPRDR_FILECONTENTS_RESPONSE
// (MS-RDPECLIP 2.2.5.4): streamId followed by the requested size or byte
// range, or an empty failure response if err != nil.
func BuildFileContentsResponse(streamID uint32, data []byte, err error) []byte {
	if err != nil {
		out := buildHeader(msgTypeFileContentsResponse, responseFail, 4)
		var id [4]byte
		binary.LittleEndian.PutUint32(id[:], streamID)
		return append(out, id[:]...)
	}
	body := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(body[0:4], streamID)
	copy(body[4:], data)
	out := buildHeader(msgTypeFileContentsResponse, responseOK, uint32(len(body)))
	return append(out, body...)
}

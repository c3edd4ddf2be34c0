package clipboard

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFormatDataResponseOK(t *testing.T) {
	data := []byte("hello clipboard")
	out := BuildFormatDataResponse(data, nil)

	require := assert.New(t)
	require.Equal(msgTypeFormatDataResponse, binary.LittleEndian.Uint16(out[0:2]))
	require.Equal(responseOK, binary.LittleEndian.Uint16(out[2:4]))
	require.Equal(uint32(len(data)), binary.LittleEndian.Uint32(out[4:8]))
	require.Equal(data, out[8:])
}

func TestBuildFormatDataResponseFailure(t *testing.T) {
	out := BuildFormatDataResponse(nil, errors.New("read failed"))

	assert.Equal(t, msgTypeFormatDataResponse, binary.LittleEndian.Uint16(out[0:2]))
	assert.Equal(t, responseFail, binary.LittleEndian.Uint16(out[2:4]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(out[4:8]))
	assert.Len(t, out, 8)
}

func TestBuildFileContentsResponseOK(t *testing.T) {
	out := BuildFileContentsResponse(42, []byte{1, 2, 3, 4}, nil)

	assert.Equal(t, msgTypeFileContentsResponse, binary.LittleEndian.Uint16(out[0:2]))
	assert.Equal(t, responseOK, binary.LittleEndian.Uint16(out[2:4]))
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(out[8:12]))
	assert.Equal(t, []byte{1, 2, 3, 4}, out[12:])
}

func TestBuildFileContentsResponseFailureStillCarriesStreamID(t *testing.T) {
	out := BuildFileContentsResponse(7, nil, errors.New("no such file"))

	assert.Equal(t, responseFail, binary.LittleEndian.Uint16(out[2:4]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(out[8:12]))
}

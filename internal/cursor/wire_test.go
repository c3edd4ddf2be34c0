package cursor

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPointerUpdateLayout(t *testing.T) {
	u := Update{
		X: 10, Y: -20,
		HotspotX: 1, HotspotY: 2,
		Width: 32, Height: 32,
		ARGB: []byte{0xAA, 0xBB, 0xCC, 0xDD},
	}

	out := BuildPointerUpdate(u)
	require.Len(t, out, 20+4)

	assert.Equal(t, int32(10), int32(binary.LittleEndian.Uint32(out[0:4])))
	assert.Equal(t, int32(-20), int32(binary.LittleEndian.Uint32(out[4:8])))
	assert.Equal(t, int32(1), int32(binary.LittleEndian.Uint32(out[8:12])))
	assert.Equal(t, int32(2), int32(binary.LittleEndian.Uint32(out[12:16])))
	assert.Equal(t, uint16(32), binary.LittleEndian.Uint16(out[16:18]))
	assert.Equal(t, uint16(32), binary.LittleEndian.Uint16(out[18:20]))
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, out[20:])
}

func TestBuildPointerUpdatePositionOnlyHasNoBitmap(t *testing.T) {
	out := BuildPointerUpdate(Update{X: 5, Y: 5})
	assert.Len(t, out, 20)
}

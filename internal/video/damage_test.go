package video

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(w, h int, b, g, r byte) []byte {
	buf := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		buf[i*4] = b
		buf[i*4+1] = g
		buf[i*4+2] = r
		buf[i*4+3] = 0xff
	}
	return buf
}

func TestTrackerFirstFrameIsFullRect(t *testing.T) {
	tr := NewTracker(128, 128, 0.75, time.Hour, 0)
	frame := solidFrame(128, 128, 10, 10, 10)

	regions := tr.Scan(frame, 128*4, nil)
	require.Len(t, regions, 1)
	assert.Equal(t, image.Rect(0, 0, 128, 128), regions[0].Rect)
}

func TestTrackerNoChangeSuppressesFrame(t *testing.T) {
	tr := NewTracker(128, 128, 0.75, time.Hour, 0)
	frame := solidFrame(128, 128, 10, 10, 10)

	tr.Scan(frame, 128*4, nil) // prime
	regions := tr.Scan(frame, 128*4, nil)
	assert.Nil(t, regions)
}

func TestTrackerSingleTileChangeIsLocalRect(t *testing.T) {
	tr := NewTracker(128, 128, 0.75, time.Hour, 0)
	frame := solidFrame(128, 128, 10, 10, 10)
	tr.Scan(frame, 128*4, nil) // prime

	// Mutate one tile (top-left 64x64).
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			off := y*128*4 + x*4
			frame[off] = 200
		}
	}

	regions := tr.Scan(frame, 128*4, nil)
	require.Len(t, regions, 1)
	assert.Equal(t, image.Rect(0, 0, 64, 64), regions[0].Rect)
}

func TestTrackerAboveThresholdDegeneratesToFullRect(t *testing.T) {
	// 2x2 tile grid (128x128 at TileSize 64): changing 3/4 tiles is 75%,
	// at the threshold, so it must degenerate to a full-screen rect.
	tr := NewTracker(128, 128, 0.75, time.Hour, 0)
	frame := solidFrame(128, 128, 10, 10, 10)
	tr.Scan(frame, 128*4, nil) // prime

	mutateTile := func(tx, ty int) {
		for y := ty * 64; y < ty*64+64; y++ {
			for x := tx * 64; x < tx*64+64; x++ {
				off := y*128*4 + x*4
				frame[off] = 200
			}
		}
	}
	mutateTile(0, 0)
	mutateTile(1, 0)
	mutateTile(0, 1)

	regions := tr.Scan(frame, 128*4, nil)
	require.Len(t, regions, 1)
	assert.Equal(t, image.Rect(0, 0, 128, 128), regions[0].Rect)
}

func TestTrackerBelowThresholdStaysLocal(t *testing.T) {
	tr := NewTracker(128, 128, 0.75, time.Hour, 0)
	frame := solidFrame(128, 128, 10, 10, 10)
	tr.Scan(frame, 128*4, nil) // prime

	mutateTile := func(tx, ty int) {
		for y := ty * 64; y < ty*64+64; y++ {
			for x := tx * 64; x < tx*64+64; x++ {
				off := y*128*4 + x*4
				frame[off] = 200
			}
		}
	}
	mutateTile(0, 0)
	mutateTile(1, 0)

	regions := tr.Scan(frame, 128*4, nil)
	require.NotEmpty(t, regions)
	for _, r := range regions {
		assert.NotEqual(t, image.Rect(0, 0, 128, 128), r.Rect)
	}
}

func TestTrackerForcedFullByFrameCount(t *testing.T) {
	tr := NewTracker(128, 128, 0.75, time.Hour, 3)
	frame := solidFrame(128, 128, 10, 10, 10)

	tr.Scan(frame, 128*4, nil) // frame 1: first-frame full rect
	tr.Scan(frame, 128*4, nil) // frame 2: no change, suppressed
	tr.Scan(frame, 128*4, nil) // frame 3: no change, suppressed
	regions := tr.Scan(frame, 128*4, nil) // frame 4: forced full
	require.Len(t, regions, 1)
	assert.Equal(t, image.Rect(0, 0, 128, 128), regions[0].Rect)
}

func TestTrackerUnionsCompositorHint(t *testing.T) {
	tr := NewTracker(128, 128, 0.75, time.Hour, 0)
	frame := solidFrame(128, 128, 10, 10, 10)
	tr.Scan(frame, 128*4, nil) // prime, same buffer below so no hash diff

	hint := []image.Rectangle{image.Rect(100, 100, 110, 110)}
	regions := tr.Scan(frame, 128*4, hint)
	require.Len(t, regions, 1)
	assert.Equal(t, hint[0], regions[0].Rect)
}

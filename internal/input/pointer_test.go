package input

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

func singleMonitorTopology(w, h int) *types.MonitorTopology {
	return &types.MonitorTopology{
		Monitors: []types.Monitor{
			{ID: 0, Rect: image.Rect(0, 0, w, h), StreamRect: image.Rect(0, 0, w, h), Primary: true, Scale: 1},
		},
		VirtualDesktop: image.Rect(0, 0, w, h),
	}
}

func TestPointerToRelativeFirstMoveFromOrigin(t *testing.T) {
	pt := NewPointerTransform(singleMonitorTopology(1920, 1080))

	dx, dy := pt.ToRelative(960, 540, image.Pt(1920, 1080))
	assert.Equal(t, int32(960), dx)
	assert.Equal(t, int32(540), dy)
}

func TestPointerToRelativeWholePixelMovesLeaveNoResidue(t *testing.T) {
	pt := NewPointerTransform(singleMonitorTopology(3, 1))

	// Stream width 3 at virtual-desktop width 3: each unit move is exactly
	// 1px, so residue should stay at zero across repeated identical calls.
	dx1, _ := pt.ToRelative(1, 0, image.Pt(3, 1))
	dx2, _ := pt.ToRelative(1, 0, image.Pt(3, 1))
	assert.Equal(t, int32(1), dx1)
	assert.Equal(t, int32(0), dx2)
}

func TestPointerInvertRoundTrips(t *testing.T) {
	pt := NewPointerTransform(singleMonitorTopology(1920, 1080))
	streamX, streamY := pt.Invert(960, 540, image.Pt(1920, 1080))
	assert.Equal(t, int32(960), streamX)
	assert.Equal(t, int32(540), streamY)
}

func TestSetButtonTracksBitmask(t *testing.T) {
	pt := NewPointerTransform(singleMonitorTopology(100, 100))
	mask := pt.SetButton(0, true)
	assert.Equal(t, uint8(1), mask)
	mask = pt.SetButton(1, true)
	assert.Equal(t, uint8(3), mask)
	mask = pt.SetButton(0, false)
	assert.Equal(t, uint8(2), mask)
}

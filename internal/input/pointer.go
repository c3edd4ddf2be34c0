package input

import (
	"image"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

// PointerTransform converts an RDP pointer PDU's normalized stream
// coordinates into the relative motion deltas the Wayland virtual
// pointer protocol requires (it has no absolute-positioning request,
// mirroring wayland_input.go's MouseMoveAbsolute: it tracks an absolute
// position locally and emits the delta). The steps are: normalize -> map
// into virtual-desktop space -> locate the owning monitor -> map through
// that monitor's stream sub-rect -> accumulate fractional residue so slow
// diagonal motion is not lost to integer truncation. No DPI scaling is
// applied: client and monitor DPI values are not consulted.
type PointerTransform struct {
	topology *types.MonitorTopology
	state    *types.PointerState
}

// NewPointerTransform builds a transform against the given (shared,
// read-mostly) monitor topology, starting from an empty pointer state.
func NewPointerTransform(topology *types.MonitorTopology) *PointerTransform {
	return &PointerTransform{topology: topology, state: &types.PointerState{}}
}

// ToRelative converts one absolute stream-coordinate pointer event (as
// delivered by an RDP client, 0..streamWidth/Height) into an integer
// (dx, dy) relative motion, updating internal residue so repeated small
// moves eventually add up to whole pixels instead of being dropped.
func (p *PointerTransform) ToRelative(streamX, streamY int32, streamSize image.Point) (dx, dy int32) {
	if streamSize.X <= 0 || streamSize.Y <= 0 {
		return 0, 0
	}

	normX := float64(streamX) / float64(streamSize.X)
	normY := float64(streamY) / float64(streamSize.Y)

	vd := p.topology.VirtualDesktop
	targetX := vd.Min.X + normX*float64(vd.Dx())
	targetY := vd.Min.Y + normY*float64(vd.Dy())

	// The monitor lookup/stream-sub-rect mapping is a no-op when the
	// event already arrived in virtual-desktop space (single-monitor,
	// stream==desktop); multi-monitor layouts where the RDP client
	// addresses one monitor's stream sub-rect go through MonitorAt to
	// find which physical monitor owns (targetX, targetY) and reproject
	// if that monitor's StreamRect differs from its Rect.
	if m := p.topology.MonitorAt(image.Pt(int(targetX), int(targetY))); m != nil && m.StreamRect != m.Rect {
		relX := (targetX - float64(m.Rect.Min.X)) / float64(m.Rect.Dx())
		relY := (targetY - float64(m.Rect.Min.Y)) / float64(m.Rect.Dy())
		targetX = float64(m.StreamRect.Min.X) + relX*float64(m.StreamRect.Dx())
		targetY = float64(m.StreamRect.Min.Y) + relY*float64(m.StreamRect.Dy())
	}

	rawDX := targetX - p.state.LastX + p.state.ResidueX
	rawDY := targetY - p.state.LastY + p.state.ResidueY

	dx = int32(rawDX)
	dy = int32(rawDY)

	p.state.ResidueX = rawDX - float64(dx)
	p.state.ResidueY = rawDY - float64(dy)
	p.state.LastX = targetX
	p.state.LastY = targetY

	return dx, dy
}

// Invert is the inverse of the normalize->map-into-virtual-desktop steps
// of ToRelative's target computation, used by tests to assert the
// transform round-trips a virtual-desktop point back to stream-normalized
// coordinates (spec §8's testable property for the pointer transform). It
// does not undo the per-monitor stream sub-rect reprojection, so it is
// exact only where each monitor's StreamRect equals its Rect.
func (p *PointerTransform) Invert(targetX, targetY float64, streamSize image.Point) (streamX, streamY int32) {
	vd := p.topology.VirtualDesktop
	if vd.Dx() == 0 || vd.Dy() == 0 {
		return 0, 0
	}
	normX := (targetX - float64(vd.Min.X)) / float64(vd.Dx())
	normY := (targetY - float64(vd.Min.Y)) / float64(vd.Dy())
	return int32(normX * float64(streamSize.X)), int32(normY * float64(streamSize.Y))
}

// SetButton updates the tracked button mask bit for button (0=left,
// 1=right, 2=middle), returning the new mask.
func (p *PointerTransform) SetButton(bit uint8, down bool) uint8 {
	if down {
		p.state.Buttons |= 1 << bit
	} else {
		p.state.Buttons &^= 1 << bit
	}
	return p.state.Buttons
}

package cursor

import "github.com/lamco-admin/wayland-rdp-sub000/internal/rdperrors"

// ErrMetadataUnavailable is returned by unavailableSource, the placeholder
// MetadataSource shipped in this module: no Go binding in this dependency
// set reaches PipeWire's SPA_META_Cursor buffer metadata without the cgo
// calls the teacher's pipewire_cursor.go makes directly against
// libpipewire/libspa. A real deployment wires a cgo-backed MetadataSource
// in at session setup in place of this stub, the same seam rdpproto's
// codec placeholder uses.
var ErrMetadataUnavailable = rdperrors.New(rdperrors.Resource, "cursor: no metadata source wired")

type unavailableSource struct{}

// NewUnavailableSource returns a MetadataSource that always fails to
// start, keeping the cursor channel's plumbing (Tracker, wire framing,
// session pump) buildable and exercised up to this boundary.
func NewUnavailableSource() MetadataSource { return unavailableSource{} }

func (unavailableSource) Start(handler func(Update)) error { return ErrMetadataUnavailable }
func (unavailableSource) Stop()                            {}

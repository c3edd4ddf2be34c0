// Package cursor tracks the compositor's pointer shape and position and
// turns changes into updates for the RDP client's hardware cursor, instead
// of the shape being baked into captured frames (SPEC_FULL.md §12).
// Grounded on the teacher's cursor_state.go (a mutex-guarded position+shape
// struct) generalized from a poll-only Get() into a push subscription, and
// on pipewire_cursor.go's change-detection hash, reimplemented in pure Go
// against a MetadataSource boundary rather than linking libpipewire/libspa
// directly.
package cursor

import (
	"hash/fnv"
	"sync"
)

// Update is one cursor shape/position change ready for the wire.
type Update struct {
	X, Y               int32
	HotspotX, HotspotY int32
	Width, Height      int
	// ARGB is raw premultiplied-alpha pixel data, Width*Height*4 bytes.
	// Empty when only position moved and the shape is unchanged.
	ARGB []byte
}

func (u Update) shapeHash() uint64 {
	h := fnv.New64a()
	var buf [16]byte
	buf[0] = byte(u.Width)
	buf[1] = byte(u.Width >> 8)
	buf[2] = byte(u.Height)
	buf[3] = byte(u.Height >> 8)
	h.Write(buf[:4])
	h.Write(u.ARGB)
	return h.Sum64()
}

// MetadataSource is the external collaborator that reads cursor shape and
// position from the compositor's capture stream. No Go binding in this
// module's dependency set exposes PipeWire's SPA_META_Cursor buffer
// metadata (the teacher reads it via direct libpipewire/libspa cgo calls in
// pipewire_cursor.go) — see the stub in this package and DESIGN.md for the
// boundary this leaves for a future cgo-backed implementation.
type MetadataSource interface {
	Start(handler func(Update)) error
	Stop()
}

// Tracker deduplicates a MetadataSource's raw callbacks down to genuine
// shape/position changes and fans them out to one subscriber, mirroring
// cursor_state.go's shared state but push- rather than poll-based.
type Tracker struct {
	source MetadataSource

	mu        sync.Mutex
	last      Update
	lastShape uint64
	haveLast  bool

	updates chan Update
}

// NewTracker builds a Tracker around a MetadataSource. Call Start to begin
// receiving updates.
func NewTracker(source MetadataSource) *Tracker {
	return &Tracker{
		source:  source,
		updates: make(chan Update, 8),
	}
}

// Start begins reading from the metadata source. Updates are available on
// Updates() until Stop is called or the source reports an error.
func (t *Tracker) Start() error {
	return t.source.Start(t.onUpdate)
}

func (t *Tracker) onUpdate(u Update) {
	t.mu.Lock()
	shape := t.lastShape
	if len(u.ARGB) > 0 {
		shape = u.shapeHash()
	}
	unchanged := t.haveLast && shape == t.lastShape && t.last.X == u.X && t.last.Y == u.Y
	t.last = u
	t.lastShape = shape
	t.haveLast = true
	t.mu.Unlock()

	if unchanged {
		return
	}

	select {
	case t.updates <- u:
	default:
		// Drop under backpressure; the next update supersedes this one
		// entirely (position/shape are both absolute, never deltas).
	}
}

// Updates returns the channel of deduplicated cursor changes.
func (t *Tracker) Updates() <-chan Update {
	return t.updates
}

// Stop halts the underlying metadata source.
func (t *Tracker) Stop() {
	t.source.Stop()
}

// Package types holds the shared data model for the RDP bridge: the
// entities that cross package boundaries between capture, video, input,
// clipboard, multiplexer and session code. Kept deliberately small and
// dependency-free so every other internal package can import it without
// creating cycles, the way helixml/helix's own pkg/types anchors its
// wider package graph.
package types

import (
	"image"
	"time"
)

// PixelFormat identifies the memory layout of a captured framebuffer.
type PixelFormat int

const (
	PixelFormatBGRA PixelFormat = iota
	PixelFormatBGRx
)

// BufferHandle is an opaque reference to a frame's backing memory: either a
// shared-memory mapping or a GPU-exportable (DMA-BUF) descriptor. The
// capture adapter owns the handle until it hands it to the encode stage;
// after that, exactly one consumer reads it once then releases it.
type BufferHandle struct {
	// FD is the underlying dmabuf/shm file descriptor, or -1 if Data is
	// already a mapped byte slice (e.g. from a software capture path).
	FD int
	// DescriptorID uniquely identifies the backing allocation (device+inode
	// pair, or an equivalent stable key) so the mmap cache in the capture
	// adapter can recognize repeated frames of the same buffer.
	DescriptorID uint64
	// Data is the mapped pixel data. Populated either by the adapter
	// (software path) or by the cache on first map of a GPU descriptor.
	Data []byte
}

// CapturedFrame is a single framebuffer produced by the capture source
// adapter (spec §4.1) and consumed exactly once by the damage/encode
// stage.
type CapturedFrame struct {
	Seq        uint64
	CapturedAt time.Time
	Width      int
	Height     int
	Stride     int
	Format     PixelFormat
	Buffer     BufferHandle
	// DamageHint carries compositor-reported damage rectangles, if the
	// capture source surfaced any; nil when unavailable. The damage
	// tracker unions this with its own hash-based damage.
	DamageHint []image.Rectangle
}

// DamageRegion is one rectangle known to have changed since the last
// emitted frame, plus the coalescing bucket it was assigned during the
// greedy merge pass.
type DamageRegion struct {
	Rect   image.Rectangle
	Bucket int
}

// Codec identifies the RDPEGFX codec used to encode a surface.
type Codec int

const (
	CodecAVC420 Codec = iota
	CodecAVC444
)

func (c Codec) String() string {
	if c == CodecAVC444 {
		return "AVC444"
	}
	return "AVC420"
}

// FrameType distinguishes self-contained (IDR) from predicted (P) H.264
// frames.
type FrameType int

const (
	FrameTypeIDR FrameType = iota
	FrameTypeP
)

// EncodedFrame is the output of the video pipeline: one or two AVC
// subframe bitstreams (main, and for AVC444 an auxiliary residual-chroma
// subframe) ready to be wrapped in RDPEGFX framing and queued on the
// graphics channel.
type EncodedFrame struct {
	Seq           uint64
	Type          FrameType
	Codec         Codec
	Main          []byte // Annex-B bitstream
	Aux           []byte // nil unless Codec == CodecAVC444
	SurfaceID     uint32
	DestRect      image.Rectangle
	SPS           []byte // most recently seen SPS, attached to every frame; nil until one is seen
	PPS           []byte // most recently seen PPS, same rule as SPS
	EncodedAt     time.Time
}

// SurfaceState tracks what has been sent for one RDPEGFX surface so the
// graphics drain can decide what a new EncodedFrame needs to carry.
type SurfaceState struct {
	SurfaceID     uint32
	Width, Height int
	Codec         Codec
	LastSentRects []image.Rectangle
	LastAckedSeq  uint64
	HighestSeq    uint64
}

// ClipboardDirection distinguishes the two flow directions of a clipboard
// transfer: server announcing local content to the client (ToClient), or
// the server requesting/receiving client content (FromClient).
type ClipboardDirection int

const (
	ClipboardToClient ClipboardDirection = iota
	ClipboardFromClient
)

// ClipboardFormatID is the RDPECLIP standard or registered format
// identifier (e.g. CF_TEXT=1, CF_UNICODETEXT=13, CF_DIB=8).
type ClipboardFormatID uint32

const (
	CFText          ClipboardFormatID = 1
	CFBitmap        ClipboardFormatID = 2
	CFDIB           ClipboardFormatID = 8
	CFUnicodeText   ClipboardFormatID = 13
	CFHDROP         ClipboardFormatID = 15
	CFLocale        ClipboardFormatID = 16
)

// ClipboardRequest is an outstanding format-data request, queued FIFO per
// direction per spec §4.4.2.
type ClipboardRequest struct {
	Direction ClipboardDirection
	Format    ClipboardFormatID
	// Slot correlates this request to the eventual local caller waiting on
	// its result (e.g. an HTTP handler or a file-transfer stream).
	Slot     uint64
	Deadline time.Time
}

// KeyboardState is the input handler's view of currently pressed keys,
// active modifiers and the current layout, mutated only by the input
// handler task.
type KeyboardState struct {
	Pressed       map[int]bool // evdev keycode -> held
	ShiftDown     bool
	CtrlDown      bool
	AltDown       bool
	MetaDown      bool
	CapsLock      bool
	NumLock       bool
	ScrollLock    bool
	LayoutID      uint32
}

// NewKeyboardState returns an empty keyboard state.
func NewKeyboardState() *KeyboardState {
	return &KeyboardState{Pressed: make(map[int]bool)}
}

// PointerState is the input handler's view of the last absolute pointer
// position (in stream coordinates) and button mask, plus the fractional
// residue accumulated across events so slow diagonal motion does not
// stall (spec §4.3.2 step 6).
type PointerState struct {
	LastX, LastY   float64
	ResidueX       float64
	ResidueY       float64
	Buttons        uint8 // bitmask: bit0=left, bit1=right, bit2=middle
}

// Monitor describes one display in the virtual desktop topology: its
// rectangle in the virtual-desktop coordinate space, its sub-rectangle on
// the single output stream surface, DPI and scale.
type Monitor struct {
	ID          int
	Rect        image.Rectangle // position/size in virtual-desktop space
	StreamRect  image.Rectangle // position/size on the output stream surface
	DPI         int
	Scale       float64
	Primary     bool
}

// MonitorTopology is the ordered, read-mostly monitor layout shared across
// the input and video pipelines. Mutations only happen in response to a
// display-control PDU or a portal monitor-layout change signal.
type MonitorTopology struct {
	Monitors      []Monitor
	VirtualDesktop image.Rectangle
}

// PrimaryMonitor returns the monitor carrying the primary flag, or the
// first monitor if none is flagged (should not happen if the topology
// invariant holds, but callers must not panic on malformed input).
func (t *MonitorTopology) PrimaryMonitor() *Monitor {
	for i := range t.Monitors {
		if t.Monitors[i].Primary {
			return &t.Monitors[i]
		}
	}
	if len(t.Monitors) > 0 {
		return &t.Monitors[0]
	}
	return nil
}

// MonitorAt returns the monitor containing pt in virtual-desktop space,
// falling back to the primary monitor when pt is outside every rectangle
// (spec §4.3.2 step 4).
func (t *MonitorTopology) MonitorAt(pt image.Point) *Monitor {
	for i := range t.Monitors {
		if pt.In(t.Monitors[i].Rect) {
			return &t.Monitors[i]
		}
	}
	return t.PrimaryMonitor()
}

// Valid checks the monitor topology invariants of spec §3: rectangles are
// non-overlapping, their union equals the virtual-desktop bounding box,
// and exactly one monitor is primary.
func (t *MonitorTopology) Valid() bool {
	if len(t.Monitors) == 0 {
		return false
	}
	primaryCount := 0
	union := image.Rectangle{}
	for i, m := range t.Monitors {
		if m.Primary {
			primaryCount++
		}
		for j, other := range t.Monitors {
			if i == j {
				continue
			}
			if m.Rect.Overlaps(other.Rect) {
				return false
			}
		}
		if union.Empty() {
			union = m.Rect
		} else {
			union = union.Union(m.Rect)
		}
	}
	return primaryCount == 1 && union == t.VirtualDesktop
}

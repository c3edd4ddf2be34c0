// Package rdpproto defines the boundary to the RDP protocol codec
// library (spec §6): the external collaborator that turns a TLS byte
// stream into framed PDUs and back. No Go RDP server codec exists in the
// reference corpus, so this package carries interfaces only — the
// concrete wire implementation is a collaborator the session wires in,
// not something this repo builds. The shapes here mirror what §6
// requires of that collaborator: virtual-channel construction for
// graphics (RDPEGFX), input, clipboard (RDPECLIP) and display-control;
// interception of inbound input before default handling; and the
// ability to initiate the clipboard handshake server-side.
package rdpproto

import (
	"context"
	"image"
	"time"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

// Capabilities is what the negotiation handshake settles on: desktop
// size, monitor layout, and which optional channels the client accepted.
type Capabilities struct {
	DesktopWidth, DesktopHeight int
	Monitors                    types.MonitorTopology
	SupportsAVC444              bool
	SupportsDisplayControl      bool
	SupportsClipboard           bool
	ClientDPI                   int
}

// InputEventKind distinguishes the PDU kinds the input virtual channel
// carries (spec §4.3).
type InputEventKind int

const (
	InputEventScancode InputEventKind = iota
	InputEventUnicode
	InputEventPointer
	InputEventPointerWheel
	InputEventSync
)

// InputEvent is a decoded inbound input PDU, already demultiplexed to a
// single logical event.
type InputEvent struct {
	Kind InputEventKind

	// InputEventScancode
	Scancode uint8
	Extended bool
	Down     bool

	// InputEventPointer / InputEventPointerWheel
	X, Y          int32
	StreamSize    image.Point
	Buttons       uint8
	WheelDeltaX   float64
	WheelDeltaY   float64

	// InputEventSync
	ShiftDown, CtrlDown, AltDown, MetaDown bool
	CapsLock, NumLock, ScrollLock          bool
}

// ClipboardEventKind distinguishes inbound RDPECLIP PDU kinds relevant to
// the clipboard handler (spec §4.4).
type ClipboardEventKind int

const (
	ClipboardEventFormatListAnnounce ClipboardEventKind = iota
	ClipboardEventFormatDataRequest
	ClipboardEventFormatDataResponse
	ClipboardEventFileContentsRequest
	ClipboardEventFileContentsResponse
)

// ClipboardEvent is a decoded inbound RDPECLIP PDU.
type ClipboardEvent struct {
	Kind   ClipboardEventKind
	Format types.ClipboardFormatID
	Data   []byte
	Error  bool

	// ClipboardEventFileContentsRequest/Response. FilePath is the local
	// path the codec's CF_HDROP bookkeeping already resolved the client's
	// list index to; this package does not itself parse CF_HDROP.
	FileRequestID uint32
	FilePath      string
	FileSizeOnly  bool
	FileOffset    int64
	FileLength    int
}

// FrameAck is the client's RDPGFX_FRAME_ACKNOWLEDGE_PDU, translated into
// the feedback the rate/quality governor consumes (spec §4.2.5).
type FrameAck struct {
	Seq        uint64
	QueueDepth int
	RTT        time.Duration
}

// Conn is one negotiated RDP connection: the codec's per-connection
// surface. A session drives it by reading InputEvents/ClipboardEvents and
// writing framed PDU bytes via the Graphics/Input/Clipboard/Control
// channel writers, each of which implements mux.Sink against its own
// virtual channel.
type Conn interface {
	// Negotiate runs capability exchange and virtual-channel construction.
	Negotiate(ctx context.Context) (Capabilities, error)

	// InputEvents returns a receive endpoint for decoded input PDUs,
	// intercepted ahead of the codec's own default handling per §6.
	InputEvents() <-chan InputEvent

	// ClipboardEvents returns a receive endpoint for decoded RDPECLIP PDUs.
	ClipboardEvents() <-chan ClipboardEvent

	// FrameAcks returns a receive endpoint for decoded graphics-channel
	// frame acknowledgements, feeding the video governor's feedback loop.
	FrameAcks() <-chan FrameAck

	// InitiateClipboardHandshake starts the server-initiated clipboard
	// format-list announcement; some client-role-only codec libraries
	// cannot do this, in which case it returns ErrClipboardHandshakeUnsupported.
	InitiateClipboardHandshake(ctx context.Context) error

	// ChannelWriter returns the PDU sink for one virtual channel, for use
	// as a mux.Sink.
	ChannelWriter(channel Channel) ChannelWriter

	// Close tears down the connection and its virtual channels.
	Close() error
}

// Channel identifies one RDP virtual channel.
type Channel int

const (
	ChannelControl Channel = iota
	ChannelGraphics
	ChannelInput
	ChannelClipboard
	ChannelDisplayControl
	ChannelCursor
)

// ChannelWriter writes one fully-framed PDU to its virtual channel. The
// multiplexer's drain goroutine is the only caller (spec §4.5).
type ChannelWriter interface {
	WritePDU(ctx context.Context, payload []byte) error
}

// Acceptor produces negotiated Conns from accepted TLS connections (the
// "TLS listener" + "RDP protocol codec library" collaborators of §6
// composed together).
type Acceptor interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

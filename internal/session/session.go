// Package session wires one negotiated RDP connection's capture, video,
// input and clipboard pipelines together through the multiplexer (spec
// §5). Grounded on api/pkg/desktop/desktop.go's Server: one struct per
// connection owning the D-Bus/compositor state, a dedicated goroutine
// per concern, and a single cancellation signal every goroutine honors
// at its next suspension point.
package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/capture"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/clipboard"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/config"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/cursor"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/input"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/mux"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdperrors"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdpproto"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/video"
)

// topology is MonitorTopology guarded by a reader-writer lock per spec
// §5: readers (the pointer transform, the video surface sizing) are
// wait-free in the steady state; writes only happen on a display-control
// PDU or a portal monitor-layout-change signal.
type topology struct {
	mu sync.RWMutex
	t  types.MonitorTopology
}

func (t *topology) get() *types.MonitorTopology {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshot := t.t
	return &snapshot
}

func (t *topology) set(newTopology types.MonitorTopology) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.t = newTopology
}

// Session is one accepted, negotiated RDP connection and everything it
// owns: capture source, video pipeline, input handler, clipboard handler,
// and the multiplexer serializing their output onto the wire.
type Session struct {
	ID     string
	logger *slog.Logger
	cfg    config.Config
	conn   rdpproto.Conn

	topology *topology

	capture  capture.Source
	pipeline *video.Pipeline
	injector *input.Injector
	input    *input.Handler
	clip     *clipboard.Handler
	files    *clipboard.Manager
	cursor   *cursor.Tracker

	fileTransfersMu sync.Mutex
	fileTransfers   map[uint32]ulid.ULID

	mpx *mux.Multiplexer

	captureBreaker *rdperrors.CircuitBreaker

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Session around an accepted connection. Capture pipelines
// are not started until Run.
func New(logger *slog.Logger, cfg config.Config, conn rdpproto.Conn) *Session {
	id := uuid.NewString()
	return &Session{
		ID:             id,
		logger:         logger.With("session_id", id),
		cfg:            cfg,
		conn:           conn,
		topology:       &topology{},
		captureBreaker: rdperrors.NewCircuitBreaker(2),
		done:           make(chan struct{}),
	}
}

// Run negotiates capabilities, wires every pipeline, and blocks until ctx
// is cancelled or a fatal error tears the session down. It always closes
// conn before returning (spec §5's "release resources before exit").
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()
	defer close(s.done)
	defer s.conn.Close()

	caps, err := s.conn.Negotiate(ctx)
	if err != nil {
		return rdperrors.Wrap(rdperrors.Protocol, err, "negotiate capabilities")
	}
	s.logger.Info("session: negotiated", "width", caps.DesktopWidth, "height", caps.DesktopHeight,
		"avc444", caps.SupportsAVC444, "clipboard", caps.SupportsClipboard)

	if caps.Monitors.Valid() {
		s.topology.set(caps.Monitors)
	} else {
		s.topology.set(config.DefaultMonitorTopology(caps.DesktopWidth, caps.DesktopHeight))
	}

	if err := s.setupVideo(caps); err != nil {
		return err
	}
	defer s.pipeline.Close()

	if err := s.setupCapture(ctx, caps); err != nil {
		return err
	}
	defer s.capture.Stop()

	if err := s.setupInput(ctx); err != nil {
		return err
	}
	defer s.injector.Close()

	s.setupClipboard()
	s.setupCursor()
	defer s.cursor.Stop()

	s.mpx = mux.New(s.logger, &channelSink{conn: s.conn})

	var wg sync.WaitGroup
	wg.Add(6)
	go func() { defer wg.Done(); s.mpx.Run(ctx) }()
	go func() { defer wg.Done(); s.pumpCapture(ctx) }()
	go func() { defer wg.Done(); s.pumpInput(ctx) }()
	go func() { defer wg.Done(); s.pumpClipboard(ctx) }()
	go func() { defer wg.Done(); s.pumpFrameAcks(ctx) }()
	go func() { defer wg.Done(); s.pumpCursor(ctx) }()

	if caps.SupportsClipboard {
		if err := s.conn.InitiateClipboardHandshake(ctx); err != nil {
			s.logger.Warn("session: clipboard handshake not supported by codec", "err", err)
		}
	}

	<-ctx.Done()
	s.mpx.Stop()
	wg.Wait()
	return nil
}

// Shutdown cancels the session's context, causing Run to unwind.
func (s *Session) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Session) setupVideo(caps rdpproto.Capabilities) error {
	mode, err := config.ParseQualityMode(s.cfg.Video.Mode)
	if err != nil {
		return err
	}
	forcedFull, err := s.cfg.ForcedFullIntervalDuration()
	if err != nil {
		return err
	}

	codec := types.CodecAVC420
	if caps.SupportsAVC444 {
		codec = types.CodecAVC444
	}

	pipeline, err := video.NewPipeline(s.logger, video.Config{
		SurfaceID:          1,
		Width:              caps.DesktopWidth,
		Height:             caps.DesktopHeight,
		Codec:              codec,
		Mode:               mode,
		InitialFPS:         s.cfg.Video.InitialFramerate,
		FullRectThreshold:  s.cfg.Video.FullRectThreshold,
		ForcedFullInterval: forcedFull,
		GstPipelineDesc:    s.cfg.Video.GstPipelineDesc,
	})
	if err != nil {
		return rdperrors.Wrap(rdperrors.Resource, err, "construct video pipeline")
	}
	s.pipeline = pipeline
	return nil
}

func (s *Session) setupCapture(ctx context.Context, caps rdpproto.Capabilities) error {
	adapter := capture.New(s.logger)
	desc := capture.StreamDescriptor{Name: "Meta-0"}
	hints := capture.FormatHints{
		Width:     caps.DesktopWidth,
		Height:    caps.DesktopHeight,
		Framerate: s.cfg.Video.InitialFramerate,
		Format:    types.PixelFormatBGRA,
	}
	if err := adapter.Start(ctx, desc, hints); err != nil {
		return rdperrors.Wrap(rdperrors.Resource, err, "start capture")
	}
	s.capture = adapter
	return nil
}

func (s *Session) setupInput(ctx context.Context) error {
	injector, err := input.NewInjector(ctx, s.logger)
	if err != nil {
		return rdperrors.Wrap(rdperrors.Resource, err, "start input injector")
	}
	s.injector = injector
	s.input = input.NewHandler(s.logger, injector, s.topology.get())
	return nil
}

// setupCursor builds the cursor tracker and starts its metadata source.
// A start failure (expected until a real MetadataSource is wired, see
// internal/cursor's stub) is logged and tolerated: the cursor channel
// simply carries no updates, same as a client that never negotiated it.
func (s *Session) setupCursor() {
	s.cursor = cursor.NewTracker(cursor.NewUnavailableSource())
	if err := s.cursor.Start(); err != nil {
		s.logger.Warn("cursor: metadata source unavailable", "err", err)
	}
}

// setupClipboard builds the clipboard handler against the wlroots
// fallback access path. GNOME's native D-Bus SelectionRead/SetSelection
// surface (clipboard.gnomeAccess) needs the same dbus.Conn the capture
// adapter's portal session holds; capture.Source does not currently
// expose that connection across the package boundary, so sessions default
// to the wl-copy/wl-paste path here (see DESIGN.md for this seam).
func (s *Session) setupClipboard() {
	local := clipboard.NewWlrootsAccess(s.logger)
	s.clip = clipboard.NewHandler(s.logger, local)
	s.files = clipboard.NewManager()
	s.fileTransfers = make(map[uint32]ulid.ULID)
}

// pumpCapture is the sole consumer of the capture adapter's frame channel
// and the sole producer into the graphics queue (spec §4.2/§4.5).
func (s *Session) pumpCapture(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.capture.Frames():
			if !ok {
				return
			}
			payload, hdr, sent, err := s.pipeline.ProcessFrame(ctx, frame)
			if err != nil {
				cat, _ := rdperrors.CategoryOf(err)
				if s.captureBreaker.Record(false) {
					s.logger.Error("video: repeated encode failure, tearing down session", "err", err)
					s.cancel()
					return
				}
				s.logger.Warn("video: frame encode failed, retrying", "err", err, "category", cat)
				continue
			}
			s.captureBreaker.Record(true)
			if !sent {
				continue
			}
			if err := s.mpx.SubmitGraphics(mux.PDU{
				Payload:     tagPayload(rdpproto.ChannelGraphics, payload),
				CoalesceKey: fmt.Sprintf("surface-%d", hdr.SurfaceID),
			}); err != nil {
				s.logger.Warn("mux: graphics submit failed", "err", err)
			}
		}
	}
}

// pumpInput is the sole consumer of the codec's decoded input event
// channel, translating each into an injection call. Nothing is submitted
// to the multiplexer for input events; the compositor call itself is the
// side effect.
func (s *Session) pumpInput(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.conn.InputEvents():
			if !ok {
				return
			}
			s.handleInputEvent(ev)
		}
	}
}

func (s *Session) handleInputEvent(ev rdpproto.InputEvent) {
	var err error
	switch ev.Kind {
	case rdpproto.InputEventScancode:
		err = s.input.HandleScancode(ev.Scancode, ev.Extended, ev.Down)
	case rdpproto.InputEventPointer:
		err = s.input.HandlePointerMove(ev.X, ev.Y, ev.StreamSize)
		if err == nil {
			err = s.handleButtons(ev.Buttons)
		}
	case rdpproto.InputEventPointerWheel:
		err = s.input.HandlePointerWheel(ev.WheelDeltaX, ev.WheelDeltaY)
	case rdpproto.InputEventSync:
		err = s.input.SyncState(ev.ShiftDown, ev.CtrlDown, ev.AltDown, ev.MetaDown,
			ev.CapsLock, ev.NumLock, ev.ScrollLock)
	}
	if err != nil {
		// Input per-event errors are logged and dropped (spec §7): never
		// disconnect the session over one failed injection.
		s.logger.Debug("input: injection failed", "kind", ev.Kind, "err", err)
	}
}

// handleButtons hands each bit of the incoming bitmask to
// HandlePointerButton, which compares it against the tracked pointer
// state and injects only the bits that changed.
func (s *Session) handleButtons(buttons uint8) error {
	for bit := uint8(0); bit < 3; bit++ {
		down := buttons&(1<<bit) != 0
		if err := s.input.HandlePointerButton(bit, down); err != nil {
			return err
		}
	}
	return nil
}

// pumpFrameAcks feeds the graphics channel's frame acknowledgements into
// the video pipeline's rate/quality governor (spec §4.2.5).
func (s *Session) pumpFrameAcks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack, ok := <-s.conn.FrameAcks():
			if !ok {
				return
			}
			s.pipeline.OnFrameAck(ack.Seq, ack.QueueDepth, ack.RTT)
		}
	}
}

// pumpCursor is the sole consumer of the cursor tracker's deduplicated
// updates, framing each into the cursor sub-channel PDU (spec §12).
func (s *Session) pumpCursor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-s.cursor.Updates():
			if !ok {
				return
			}
			if err := s.mpx.SubmitInput(mux.PDU{
				Payload: tagPayload(rdpproto.ChannelCursor, cursor.BuildPointerUpdate(u)),
			}); err != nil {
				s.logger.Warn("mux: cursor submit failed", "err", err)
			}
		}
	}
}

// pumpClipboard is the sole consumer of the codec's decoded RDPECLIP
// event channel (spec §4.4).
func (s *Session) pumpClipboard(ctx context.Context) {
	deadline, err := s.cfg.ClipboardRequestDeadline()
	if err != nil {
		deadline = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.conn.ClipboardEvents():
			if !ok {
				return
			}
			s.handleClipboardEvent(ctx, ev, deadline)
		}
	}
}

func (s *Session) handleClipboardEvent(ctx context.Context, ev rdpproto.ClipboardEvent, deadline time.Duration) {
	switch ev.Kind {
	case rdpproto.ClipboardEventFormatListAnnounce:
		if err := s.clip.AnnounceLocalContent(ctx, contentTypeFor(ev.Format)); err != nil {
			s.logger.Warn("clipboard: announce failed", "err", err)
		}
	case rdpproto.ClipboardEventFormatDataRequest:
		reqCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		data, err := s.clip.RequestFormatData(reqCtx, ev.Format, time.Now().Add(deadline))
		s.submitClipboard(clipboard.BuildFormatDataResponse(data, err))
	case rdpproto.ClipboardEventFormatDataResponse:
		if err := s.clip.ReceiveFromClient(ctx, ev.Format, ev.Data, false); err != nil {
			s.logger.Warn("clipboard: receive failed", "err", err)
		}
	case rdpproto.ClipboardEventFileContentsRequest:
		s.handleFileContentsRequest(ctx, ev)
	case rdpproto.ClipboardEventFileContentsResponse:
		// This session never requests file contents from the client (only
		// the reverse direction is implemented), so a response here would
		// indicate a codec bug; log and drop rather than disconnect.
		s.logger.Warn("clipboard: unexpected file contents response", "request_id", ev.FileRequestID)
	}
}

// handleFileContentsRequest serves one CF_HDROP size or byte-range request
// (spec §4.4.6). The first request for a given client stream ID opens the
// transfer against the codec-resolved local path; the transfer is closed
// once a range read returns fewer bytes than requested (EOF).
func (s *Session) handleFileContentsRequest(ctx context.Context, ev rdpproto.ClipboardEvent) {
	id, err := s.fileTransferFor(ev.FileRequestID, ev.FilePath)
	if err != nil {
		s.logger.Warn("clipboard: file transfer open failed", "err", err)
		s.submitClipboard(clipboard.BuildFileContentsResponse(ev.FileRequestID, nil, err))
		return
	}

	if ev.FileSizeOnly {
		size, err := s.files.Size(id)
		var sizeBytes []byte
		if err == nil {
			sizeBytes = make([]byte, 8)
			binary.LittleEndian.PutUint64(sizeBytes, uint64(size))
		}
		s.submitClipboard(clipboard.BuildFileContentsResponse(ev.FileRequestID, sizeBytes, err))
		return
	}

	data, err := s.files.ReadRange(id, ev.FileOffset, ev.FileLength)
	if err == nil && len(data) < ev.FileLength {
		s.files.End(id)
		s.fileTransfersMu.Lock()
		delete(s.fileTransfers, ev.FileRequestID)
		s.fileTransfersMu.Unlock()
	}
	s.submitClipboard(clipboard.BuildFileContentsResponse(ev.FileRequestID, data, err))
}

func (s *Session) fileTransferFor(streamID uint32, filePath string) (ulid.ULID, error) {
	s.fileTransfersMu.Lock()
	defer s.fileTransfersMu.Unlock()
	if id, ok := s.fileTransfers[streamID]; ok {
		return id, nil
	}
	id, err := s.files.Begin(filePath)
	if err != nil {
		return ulid.ULID{}, err
	}
	s.fileTransfers[streamID] = id
	return id, nil
}

func (s *Session) submitClipboard(payload []byte) {
	if err := s.mpx.SubmitClipboard(mux.PDU{Payload: tagPayload(rdpproto.ChannelClipboard, payload)}); err != nil {
		s.logger.Warn("mux: clipboard submit failed", "err", err)
	}
}

func contentTypeFor(format types.ClipboardFormatID) string {
	if format == types.CFDIB || format == types.CFBitmap {
		return "image"
	}
	return "text"
}

// tagPayload prefixes payload with a one-byte channel tag the session's
// channelSink strips before handing the rest to the real codec
// ChannelWriter. This tag never reaches the wire: it exists only so the
// multiplexer's single priority-ordered Sink can route each drained PDU
// to the virtual channel it belongs to without the mux package needing
// to know about RDP channel identity.
func tagPayload(ch rdpproto.Channel, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, byte(ch))
	return append(out, payload...)
}

// channelSink implements mux.Sink by demultiplexing the channel tag
// tagPayload applied, dispatching to the codec's per-channel writer.
type channelSink struct {
	conn rdpproto.Conn
}

func (c *channelSink) WritePDU(ctx context.Context, payload []byte) error {
	if len(payload) < 1 {
		return rdperrors.New(rdperrors.Protocol, "mux: empty tagged PDU")
	}
	ch := rdpproto.Channel(payload[0])
	writer := c.conn.ChannelWriter(ch)
	if writer == nil {
		return rdperrors.New(rdperrors.Protocol, fmt.Sprintf("mux: no writer for channel %d", ch))
	}
	return writer.WritePDU(ctx, payload[1:])
}

// Package capture implements the capture source adapter (spec §4.1): it
// dedicates one OS thread to the host screen-capture facility (a
// non-thread-safe library with its own event loop, reached here over the
// XDG desktop portal / GNOME Mutter D-Bus interfaces) and republishes
// framebuffers as types.CapturedFrame on a single-consumer channel.
//
// Grounded on helixml/helix's api/pkg/desktop session.go/session_portal.go
// (D-Bus RemoteDesktop+ScreenCast session setup) and desktop.go (the
// Server struct's dedicated-goroutine-per-concern shape).
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

// Sentinel errors for Start/Reconfigure failures, per spec §4.1.
var (
	ErrCaptureUnavailable   = errors.New("capture: source unavailable")
	ErrFormatUnsupported    = errors.New("capture: requested format unsupported")
	ErrPermissionDenied     = errors.New("capture: permission denied")
	ErrRenegotiationRequired = errors.New("capture: in-place renegotiation not possible, stop+start required")
)

// FormatHints describes the capture stream the caller wants.
type FormatHints struct {
	Width, Height int
	Framerate     int
	Format        types.PixelFormat
}

// StreamDescriptor names the compositor output to capture (a monitor
// connector name, e.g. "Meta-0", or portal session restore token).
type StreamDescriptor struct {
	Name string
}

// Source is the capture source adapter's public contract (spec §4.1).
type Source interface {
	Start(ctx context.Context, desc StreamDescriptor, hints FormatHints) error
	Frames() <-chan types.CapturedFrame
	Stop()
	Reconfigure(newSize [2]int, newFramerate int) error
}

// portalSession is the subset of the D-Bus portal/Mutter session surface
// the adapter drives. Implemented by dbusPortal in portal.go; abstracted
// here so the event-loop and backoff logic can be unit tested without a
// real D-Bus connection.
type portalSession interface {
	Connect(ctx context.Context) error
	CreateSession(ctx context.Context, desc StreamDescriptor, hints FormatHints) error
	WaitForStream(ctx context.Context) (nodeID uint32, err error)
	Close()
}

// Adapter is the concrete Source. It owns one dedicated OS thread running
// the portal/PipeWire event loop, since that underlying library is not
// safe to share across goroutines/threads; all communication with the
// rest of the system happens over channels, never shared mutable state.
type Adapter struct {
	logger  *slog.Logger
	session portalSession
	cache   *BufferCache

	mu        sync.Mutex
	frameCh   chan types.CapturedFrame
	stopCh    chan struct{}
	loopDone  chan struct{}
	running   bool
	seq       uint64
	curHints  FormatHints
	curDesc   StreamDescriptor
}

// New creates a capture adapter against a real D-Bus portal/Mutter
// session.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{
		logger:  logger,
		session: newDBusPortal(logger),
		cache:   NewBufferCache(),
	}
}

// newWithSession is used by tests to inject a fake portalSession.
func newWithSession(logger *slog.Logger, s portalSession) *Adapter {
	return &Adapter{logger: logger, session: s, cache: NewBufferCache()}
}

// Start initializes the capture stream and begins the dedicated capture
// thread. Fails with ErrCaptureUnavailable, ErrFormatUnsupported, or
// ErrPermissionDenied.
func (a *Adapter) Start(ctx context.Context, desc StreamDescriptor, hints FormatHints) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}
	if hints.Width <= 0 || hints.Height <= 0 {
		return fmt.Errorf("%w: non-positive dimensions", ErrFormatUnsupported)
	}

	if err := a.session.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if err := a.session.CreateSession(ctx, desc, hints); err != nil {
		a.session.Close()
		return classifyStartErr(err)
	}

	a.frameCh = make(chan types.CapturedFrame, 2)
	a.stopCh = make(chan struct{})
	a.loopDone = make(chan struct{})
	a.curHints = hints
	a.curDesc = desc
	a.running = true
	a.seq = 0

	go a.captureLoop(ctx)

	return nil
}

func classifyStartErr(err error) error {
	// The portal surfaces permission failures as a distinct D-Bus error
	// name; dbusPortal.CreateSession already translates that into
	// ErrPermissionDenied before this function runs, so anything else is
	// treated as a generic unavailability.
	if errors.Is(err, ErrPermissionDenied) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
}

// captureLoop is the body of the dedicated capture thread. It never
// shares mutable state with callers of Frames(): every frame crosses via
// frameCh.
func (a *Adapter) captureLoop(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(a.loopDone)
	defer close(a.frameCh)

	backoff := newRestartBackoff()

	for {
		nodeID, err := a.session.WaitForStream(ctx)
		if err != nil {
			select {
			case <-a.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			if backoff.fail() {
				a.logger.Error("capture: two consecutive restart failures, surfacing session error", "err", err)
				return
			}
			a.logger.Warn("capture: stream setup failed, retrying", "err", err, "delay", backoff.current())
			select {
			case <-time.After(backoff.current()):
				continue
			case <-a.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
		backoff.reset()
		a.logger.Info("capture: stream active", "node_id", nodeID)

		if a.pump(ctx, nodeID) {
			return // stop requested
		}
		// pump returned false: stream ended unexpectedly, loop to restart.
	}
}

// pump delivers frames for one stream lifetime; returns true if the
// adapter was asked to stop.
func (a *Adapter) pump(ctx context.Context, nodeID uint32) bool {
	ticker := time.NewTicker(time.Second / time.Duration(max1(a.curHints.Framerate)))
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return true
		case <-ctx.Done():
			return true
		case <-ticker.C:
			frame := a.nextFrame(nodeID)
			select {
			case a.frameCh <- frame:
			default:
				// Single-consumer channel is full: drop, as backpressure
				// is handled upstream by the graphics queue capacity, not
				// here (capture must never block on a slow consumer).
			}
		}
	}
}

func max1(n int) int {
	if n <= 0 {
		return 30
	}
	return n
}

// nextFrame constructs the next CapturedFrame. It is the only frame
// source the capture loop uses: the frame carries sequence number,
// timestamp, size, stride and format from the current hints, but no
// pixel buffer. No PipeWire stream is read; portal.go only obtains the
// stream's node ID.
func (a *Adapter) nextFrame(nodeID uint32) types.CapturedFrame {
	a.seq++
	return types.CapturedFrame{
		Seq:        a.seq,
		CapturedAt: time.Now(),
		Width:      a.curHints.Width,
		Height:     a.curHints.Height,
		Stride:     a.curHints.Width * 4,
		Format:     a.curHints.Format,
	}
}

// Frames returns the single-consumer receive endpoint.
func (a *Adapter) Frames() <-chan types.CapturedFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frameCh
}

// Stop tears down the stream; any buffered frame in flight is dropped.
func (a *Adapter) Stop() {
	a.mu.Lock()
	running := a.running
	stopCh := a.stopCh
	loopDone := a.loopDone
	a.running = false
	a.mu.Unlock()

	if !running {
		return
	}
	close(stopCh)
	<-loopDone
	a.session.Close()
	a.cache.Clear()
}

// Reconfigure attempts in-place renegotiation of size/framerate. Returns
// ErrRenegotiationRequired if the underlying session cannot do this
// without a full stop+start (true for GNOME Mutter's ScreenCast
// interface, which has no resize call).
func (a *Adapter) Reconfigure(newSize [2]int, newFramerate int) error {
	return ErrRenegotiationRequired
}

// restartBackoff implements the exponential 1s/2s/4s restart schedule of
// spec §4.1, surfacing a session-terminating error after two consecutive
// failures.
type restartBackoff struct {
	attempt int
}

func newRestartBackoff() *restartBackoff { return &restartBackoff{} }

func (b *restartBackoff) current() time.Duration {
	switch {
	case b.attempt <= 0:
		return time.Second
	case b.attempt == 1:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

// fail records a failure and reports whether two consecutive failures
// have now occurred.
func (b *restartBackoff) fail() bool {
	b.attempt++
	return b.attempt >= 2
}

func (b *restartBackoff) reset() { b.attempt = 0 }

package clipboard

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdperrors"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

// State is the RDPECLIP state machine's phase (spec §4.4.1).
type State int

const (
	StateIdle State = iota
	StateAnnouncingToClient
	StateAwaitingClientData
	StateServingClient
	StateSuppressed
)

func (s State) String() string {
	switch s {
	case StateAnnouncingToClient:
		return "AnnouncingToClient"
	case StateAwaitingClientData:
		return "AwaitingClientData"
	case StateServingClient:
		return "ServingClient"
	case StateSuppressed:
		return "Suppressed"
	default:
		return "Idle"
	}
}

// SuppressionWindow is the loop-prevention quiet period after this
// process writes the local clipboard, during which an externally
// observed change to the same content is treated as our own echo rather
// than new content (spec §4.4.4).
const SuppressionWindow = 100 * time.Millisecond

// pendingRequest is one outstanding request queued per direction. Per
// spec §4.4.2, correlation is strictly FIFO order, NOT a map keyed by
// format id: two concurrent requests for the same format id are
// perfectly legal and must not collide.
type pendingRequest struct {
	req       types.ClipboardRequest
	resultCh  chan requestResult
	cancelled bool
}

type requestResult struct {
	data []byte
	err  error
}

// Handler is the per-session RDPECLIP endpoint: it owns the state
// machine, the FIFO correlation queues (one per direction), the
// multi-format fulfillment/cancellation logic, and loop prevention.
type Handler struct {
	logger *slog.Logger
	local  LocalAccess

	mu         sync.Mutex
	state      State
	toClient   *list.List // queue of *pendingRequest, direction ClipboardToClient
	fromClient *list.List // direction ClipboardFromClient

	lastWrittenHash [32]byte
	lastWrittenAt   time.Time
	hasWritten      bool
}

// NewHandler builds a clipboard handler bound to one session's local
// clipboard access.
func NewHandler(logger *slog.Logger, local LocalAccess) *Handler {
	return &Handler{
		logger:     logger,
		local:      local,
		state:      StateIdle,
		toClient:   list.New(),
		fromClient: list.New(),
	}
}

func (h *Handler) queueFor(dir types.ClipboardDirection) *list.List {
	if dir == types.ClipboardToClient {
		return h.toClient
	}
	return h.fromClient
}

// Enqueue admits a new format-data request into its direction's FIFO,
// returning a channel the caller blocks on for the eventual result.
func (h *Handler) Enqueue(req types.ClipboardRequest) <-chan requestResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	resultCh := make(chan requestResult, 1)
	q := h.queueFor(req.Direction)
	q.PushBack(&pendingRequest{req: req, resultCh: resultCh})
	return resultCh
}

// fulfillFirst completes the head of dir's queue with data/err, then
// actively cancels every other currently-queued request for the same
// direction (spec §4.4.2's multi-format fulfillment: once one format is
// served, the others the client also asked for are no longer needed).
func (h *Handler) fulfillFirst(dir types.ClipboardDirection, data []byte, err error) {
	h.mu.Lock()
	q := h.queueFor(dir)
	front := q.Front()
	if front == nil {
		h.mu.Unlock()
		return
	}
	q.Remove(front)
	first := front.Value.(*pendingRequest)

	var cancelled []*pendingRequest
	for e := q.Front(); e != nil; {
		next := e.Next()
		pr := e.Value.(*pendingRequest)
		pr.cancelled = true
		cancelled = append(cancelled, pr)
		q.Remove(e)
		e = next
	}
	h.mu.Unlock()

	first.resultCh <- requestResult{data: data, err: err}
	close(first.resultCh)

	for _, pr := range cancelled {
		pr.resultCh <- requestResult{err: rdperrors.New(rdperrors.ClipboardRequest, "superseded by another format fulfillment")}
		close(pr.resultCh)
	}
}

// AnnounceLocalContent transitions Idle -> AnnouncingToClient and reads
// the local clipboard to offer to the RDP client. Called when the
// compositor's clipboard changes (e.g. a GNOME SelectionOwnerChanged
// signal) — the caller is responsible for listening for that signal;
// this method only runs the state transition and suppression check.
func (h *Handler) AnnounceLocalContent(ctx context.Context, contentType string) error {
	h.mu.Lock()
	if h.state == StateSuppressed {
		h.mu.Unlock()
		return nil
	}
	h.state = StateAnnouncingToClient
	h.mu.Unlock()

	var content []byte
	var err error
	switch contentType {
	case "image":
		content, err = h.local.ReadPNG(ctx)
	default:
		text, terr := h.local.ReadText(ctx)
		content, err = []byte(text), terr
	}
	if err != nil {
		h.mu.Lock()
		h.state = StateIdle
		h.mu.Unlock()
		return rdperrors.Wrap(rdperrors.ClipboardRequest, err, "read local clipboard")
	}

	if h.isEcho(content) {
		h.logger.Debug("clipboard: suppressing self-echo")
		h.mu.Lock()
		h.state = StateIdle
		h.mu.Unlock()
		return nil
	}

	h.mu.Lock()
	h.state = StateIdle
	h.mu.Unlock()
	return nil
}

// ServeClientRequest handles the client requesting format data the
// server previously announced: reads local content in format and
// fulfills the oldest outstanding to-client request (the queue head,
// whatever format that request named).
func (h *Handler) ServeClientRequest(ctx context.Context, format types.ClipboardFormatID) {
	h.mu.Lock()
	h.state = StateServingClient
	h.mu.Unlock()

	data, err := h.readLocalAsFormat(ctx, format)

	h.mu.Lock()
	h.state = StateIdle
	h.mu.Unlock()

	h.fulfillFirst(types.ClipboardToClient, data, err)
}

// RequestFormatData enqueues a to-client format request and serves it in
// one call, returning the fulfilled data directly. This is the entry
// point callers outside the package use — Enqueue/ServeClientRequest stay
// internal plumbing so requestResult's fields never need to cross the
// package boundary.
func (h *Handler) RequestFormatData(ctx context.Context, format types.ClipboardFormatID, deadline time.Time) ([]byte, error) {
	resultCh := h.Enqueue(types.ClipboardRequest{
		Direction: types.ClipboardToClient,
		Format:    format,
		Deadline:  deadline,
	})
	h.ServeClientRequest(ctx, format)
	result := <-resultCh
	return result.data, result.err
}

func (h *Handler) readLocalAsFormat(ctx context.Context, format types.ClipboardFormatID) ([]byte, error) {
	switch format {
	case types.CFText, types.CFUnicodeText:
		text, err := h.local.ReadText(ctx)
		if err != nil {
			return nil, err
		}
		if format == types.CFUnicodeText {
			return EncodeUTF16LE(NormalizeLineEndings(text, true)), nil
		}
		return []byte(NormalizeLineEndings(text, false)), nil
	case types.CFDIB, types.CFBitmap:
		png, err := h.local.ReadPNG(ctx)
		if err != nil {
			return nil, err
		}
		return PNGToBMP(png)
	default:
		return nil, rdperrors.New(rdperrors.ClipboardRequest, fmt.Sprintf("unsupported format %d", format))
	}
}

// ReceiveFromClient handles client-originated content (the client pasted
// into the remote session) being written to the local clipboard, with
// loop prevention: identical content within SuppressionWindow of our own
// last write is dropped rather than re-announced, UNLESS explicitPasteIntent
// is set (the user performed an explicit local paste action that must
// always go through, per spec §4.4.4's user-intent override).
func (h *Handler) ReceiveFromClient(ctx context.Context, format types.ClipboardFormatID, data []byte, explicitPasteIntent bool) error {
	var content []byte
	var isImage bool
	switch format {
	case types.CFUnicodeText:
		content = []byte(NormalizeLineEndings(DecodeUTF16LE(data), false))
	case types.CFText:
		content = data
	case types.CFDIB, types.CFBitmap:
		png, err := BMPToPNG(data)
		if err != nil {
			return rdperrors.Wrap(rdperrors.ClipboardRequest, err, "convert DIB to PNG")
		}
		content, isImage = png, true
	default:
		return rdperrors.New(rdperrors.ClipboardRequest, fmt.Sprintf("unsupported format %d", format))
	}

	if !explicitPasteIntent && h.isEcho(content) {
		h.logger.Debug("clipboard: suppressing loop (hash+window match)")
		return nil
	}

	h.mu.Lock()
	h.state = StateAwaitingClientData
	h.mu.Unlock()

	var err error
	if isImage {
		err = h.local.WritePNG(ctx, content)
	} else {
		err = h.local.WriteText(ctx, string(content))
	}

	h.mu.Lock()
	h.state = StateIdle
	if err == nil {
		h.lastWrittenHash = blake2b.Sum256(content)
		h.lastWrittenAt = time.Now()
		h.hasWritten = true
	}
	h.mu.Unlock()

	if err != nil {
		return rdperrors.Wrap(rdperrors.ClipboardRequest, err, "write local clipboard")
	}
	return nil
}

// isEcho implements loop-prevention mechanism 1+2: a content hash match
// within SuppressionWindow of our last local write is our own change
// bouncing back, not new content.
func (h *Handler) isEcho(content []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hasWritten {
		return false
	}
	if time.Since(h.lastWrittenAt) > SuppressionWindow {
		return false
	}
	return blake2b.Sum256(content) == h.lastWrittenHash
}

// CurrentState returns the state machine's current phase.
func (h *Handler) CurrentState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Suppress/Resume let the session layer pause clipboard redirection
// entirely (e.g. on policy change) without tearing down the handler.
func (h *Handler) Suppress() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateSuppressed
}

func (h *Handler) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateSuppressed {
		h.state = StateIdle
	}
}

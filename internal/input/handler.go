package input

import (
	"image"
	"log/slog"
	"sync"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
)

// Linux evdev keycodes for modifier keys, grounded on keyboard.go's
// keyLeft*/keyRight* constants.
const (
	keyLeftCtrl   = 29
	keyLeftShift  = 42
	keyLeftAlt    = 56
	keyLeftMeta   = 125
	keyRightCtrl  = 97
	keyRightShift = 54
	keyRightAlt   = 100
	keyRightMeta  = 126
	keyCapsLock   = 58
	keyNumLock    = 69
	keyScrollLock = 70
)

// Handler is the session's compositor input endpoint: it owns the
// keyboard/pointer state, the scancode translation tables, the pointer
// coordinate transform, and the concrete Injector. One Handler per
// session, called directly by the session's input pump goroutine
// (session.pumpInput) as each decoded input event arrives, so all
// injection calls come from that single goroutine. Input events do not
// pass through the multiplexer's input queue.
type Handler struct {
	logger   *slog.Logger
	injector *Injector
	pointer  *PointerTransform

	mu       sync.Mutex
	kb       *types.KeyboardState
	overrides LayoutOverrides

	pauseHalf bool // tracks having seen the first half of a Pause sequence
}

// NewHandler builds a Handler around an already-connected Injector and
// monitor topology.
func NewHandler(logger *slog.Logger, injector *Injector, topology *types.MonitorTopology) *Handler {
	return &Handler{
		logger:   logger,
		injector: injector,
		pointer:  NewPointerTransform(topology),
		kb:       types.NewKeyboardState(),
	}
}

// SetLayoutOverrides installs a layout-specific scancode override table
// (spec §4.3.1's "per-layout override table"), e.g. in response to a
// client persistent-keyboard-layout negotiation.
func (h *Handler) SetLayoutOverrides(overrides LayoutOverrides) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.overrides = overrides
}

// HandleScancode processes one RDP scancode key event. Unknown
// scancodes are dropped and logged rather than forwarded (spec §4.3.1).
func (h *Handler) HandleScancode(scancode uint8, extended bool, down bool) error {
	h.mu.Lock()

	if IsPauseSequence(scancode, extended) {
		// Only the press half carries meaning; the PC hardware quirk
		// sends both halves on key-down and nothing on key-up.
		if h.pauseHalf {
			h.pauseHalf = false
			h.mu.Unlock()
			if err := h.injectAndTrack(pauseEvdevCode, true); err != nil {
				return err
			}
			return h.injectAndTrack(pauseEvdevCode, false)
		}
		h.pauseHalf = true
		h.mu.Unlock()
		return nil
	}

	evdevCode, ok := TranslateWithLayout(scancode, extended, h.overrides, h.logger)
	if !ok {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	return h.injectAndTrack(evdevCode, down)
}

// injectAndTrack updates the modifier/pressed-key bookkeeping and calls
// into the injector. Must be called without h.mu held (Injector has its
// own lock and may block briefly on the compositor).
func (h *Handler) injectAndTrack(evdevCode int, down bool) error {
	h.mu.Lock()
	h.kb.Pressed[evdevCode] = down
	switch evdevCode {
	case keyLeftShift, keyRightShift:
		h.kb.ShiftDown = down
	case keyLeftCtrl, keyRightCtrl:
		h.kb.CtrlDown = down
	case keyLeftAlt, keyRightAlt:
		h.kb.AltDown = down
	case keyLeftMeta, keyRightMeta:
		h.kb.MetaDown = down
	case keyCapsLock:
		if down {
			h.kb.CapsLock = !h.kb.CapsLock
		}
	case keyNumLock:
		if down {
			h.kb.NumLock = !h.kb.NumLock
		}
	case keyScrollLock:
		if down {
			h.kb.ScrollLock = !h.kb.ScrollLock
		}
	}
	h.mu.Unlock()

	return h.injector.KeyEvent(evdevCode, down)
}

// SyncState applies a client keyboard-sync PDU atomically: every
// tracked modifier and lock state is set to exactly the given values
// rather than trusting accumulated local state (spec §4.3.3 — the
// LED/modifier synchronization PDU). It updates the tracked state only;
// no key press or release is injected into the compositor.
func (h *Handler) SyncState(shift, ctrl, alt, meta, capsLock, numLock, scrollLock bool) error {
	h.mu.Lock()
	h.kb.ShiftDown = shift
	h.kb.CtrlDown = ctrl
	h.kb.AltDown = alt
	h.kb.MetaDown = meta
	h.kb.CapsLock = capsLock
	h.kb.NumLock = numLock
	h.kb.ScrollLock = scrollLock
	h.mu.Unlock()

	// The compositor's own lock latches are not touched: a mismatch
	// between the client's toggle state and the compositor's is not
	// corrected by tapping the key.
	return nil
}

// KeyboardState returns a snapshot of the current tracked state.
func (h *Handler) KeyboardState() types.KeyboardState {
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot := *h.kb
	snapshot.Pressed = make(map[int]bool, len(h.kb.Pressed))
	for k, v := range h.kb.Pressed {
		snapshot.Pressed[k] = v
	}
	return snapshot
}

// HandlePointerMove processes an absolute pointer move in stream
// coordinates.
func (h *Handler) HandlePointerMove(streamX, streamY int32, streamSize image.Point) error {
	dx, dy := h.pointer.ToRelative(streamX, streamY, streamSize)
	if dx == 0 && dy == 0 {
		return nil
	}
	return h.injector.MouseMoveRelative(dx, dy)
}

// HandlePointerButton processes a button press/release. bit: 0=left,
// 1=right, 2=middle. A call that leaves the tracked bit unchanged
// injects nothing.
func (h *Handler) HandlePointerButton(bit uint8, down bool) error {
	before := h.pointer.state.Buttons
	if h.pointer.SetButton(bit, down) == before {
		return nil
	}
	return h.injector.MouseButton(bit, down)
}

// HandlePointerWheel processes a scroll event.
func (h *Handler) HandlePointerWheel(deltaX, deltaY float64) error {
	return h.injector.MouseWheel(deltaX, deltaY)
}

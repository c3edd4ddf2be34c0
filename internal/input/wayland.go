package input

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/wayland-virtual-input-go/virtual_keyboard"
	"github.com/bnema/wayland-virtual-input-go/virtual_pointer"
)

// Injector is the compositor input injection collaborator named in spec
// §6: the concrete Wayland-native implementation using
// zwlr_virtual_pointer_v1 and zwp_virtual_keyboard_v1, grounded directly
// on api/pkg/desktop/wayland_input.go's WaylandInput.
type Injector struct {
	pointerManager  *virtual_pointer.VirtualPointerManager
	pointer         *virtual_pointer.VirtualPointer
	keyboardManager *virtual_keyboard.VirtualKeyboardManager
	keyboard        *virtual_keyboard.VirtualKeyboard
	logger          *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewInjector connects to the Wayland compositor and creates virtual
// pointer and keyboard devices.
func NewInjector(ctx context.Context, logger *slog.Logger) (*Injector, error) {
	pointerManager, err := virtual_pointer.NewVirtualPointerManager(ctx)
	if err != nil {
		return nil, fmt.Errorf("input: create virtual pointer manager: %w", err)
	}
	pointer, err := pointerManager.CreatePointer()
	if err != nil {
		pointerManager.Close()
		return nil, fmt.Errorf("input: create virtual pointer: %w", err)
	}
	keyboardManager, err := virtual_keyboard.NewVirtualKeyboardManager(ctx)
	if err != nil {
		pointer.Close()
		pointerManager.Close()
		return nil, fmt.Errorf("input: create virtual keyboard manager: %w", err)
	}
	keyboard, err := keyboardManager.CreateKeyboard()
	if err != nil {
		keyboardManager.Close()
		pointer.Close()
		pointerManager.Close()
		return nil, fmt.Errorf("input: create virtual keyboard: %w", err)
	}

	logger.Info("input: wayland virtual input devices created")

	return &Injector{
		pointerManager:  pointerManager,
		pointer:         pointer,
		keyboardManager: keyboardManager,
		keyboard:        keyboard,
		logger:          logger,
	}, nil
}

// Close releases all virtual input devices.
func (w *Injector) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.keyboard != nil {
		record(w.keyboard.Close())
	}
	if w.keyboardManager != nil {
		record(w.keyboardManager.Close())
	}
	if w.pointer != nil {
		record(w.pointer.Close())
	}
	if w.pointerManager != nil {
		record(w.pointerManager.Close())
	}
	return firstErr
}

// KeyEvent injects a key press (down=true) or release using an evdev
// keycode (the output of Translate/TranslateWithLayout).
func (w *Injector) KeyEvent(evdevCode int, down bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.keyboard == nil {
		return nil
	}
	state := virtual_keyboard.KeyStateReleased
	if down {
		state = virtual_keyboard.KeyStatePressed
	}
	return w.keyboard.Key(time.Now(), uint32(evdevCode), state)
}

// MouseMoveRelative injects a relative pointer motion.
func (w *Injector) MouseMoveRelative(dx, dy int32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.pointer == nil {
		return nil
	}
	w.pointer.MoveRelative(float64(dx), float64(dy))
	return nil
}

// button 0=left,1=right,2=middle, matching PointerState.SetButton's bit.
func waylandButtonCode(bit uint8) (uint32, bool) {
	switch bit {
	case 0:
		return virtual_pointer.BTN_LEFT, true
	case 1:
		return virtual_pointer.BTN_RIGHT, true
	case 2:
		return virtual_pointer.BTN_MIDDLE, true
	default:
		return 0, false
	}
}

// MouseButton injects a button press/release and flushes the pointer
// frame, the way wayland_input.go does after every button event.
func (w *Injector) MouseButton(bit uint8, down bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.pointer == nil {
		return nil
	}
	btn, ok := waylandButtonCode(bit)
	if !ok {
		return nil
	}
	state := virtual_pointer.BUTTON_STATE_RELEASED
	if down {
		state = virtual_pointer.BUTTON_STATE_PRESSED
	}
	w.pointer.Button(time.Now(), btn, state)
	w.pointer.Frame()
	return nil
}

// MouseWheel injects a scroll event. deltaY positive scrolls down.
func (w *Injector) MouseWheel(deltaX, deltaY float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.pointer == nil {
		return nil
	}
	if deltaY != 0 {
		w.pointer.ScrollVertical(deltaY)
	}
	if deltaX != 0 {
		w.pointer.ScrollHorizontal(deltaX)
	}
	w.pointer.Frame()
	return nil
}

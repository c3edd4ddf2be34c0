// Package clipboard implements the RDPECLIP virtual channel: the state
// machine, FIFO request/response correlation, multi-format fulfillment,
// loop prevention and format conversion of spec §4.4, plus the local
// clipboard access side grounded on api/pkg/desktop/clipboard.go's
// GNOME D-Bus SelectionRead/SetSelection/SelectionTransfer handling.
package clipboard

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	remoteDesktopBus          = "org.gnome.Mutter.RemoteDesktop"
	remoteDesktopSessionIface = "org.gnome.Mutter.RemoteDesktop.Session"
)

// LocalAccess is the desktop-side clipboard: reading/writing the
// compositor's real selection buffer. Local is distinct from the
// RDPECLIP protocol state machine (state.go) — this is the thing that
// state machine's Idle/ServingClient actions call into.
type LocalAccess interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
	ReadPNG(ctx context.Context) ([]byte, error)
	WritePNG(ctx context.Context, png []byte) error
}

// gnomeAccess drives the GNOME Mutter RemoteDesktop D-Bus clipboard
// interface, avoiding wl-copy/wl-paste subprocess spawns the way
// clipboard.go's getClipboardGNOME/setClipboardGNOME do.
type gnomeAccess struct {
	logger        *slog.Logger
	conn          *dbus.Conn
	rdSessionPath dbus.ObjectPath

	mu             sync.Mutex
	pendingContent []byte
	pendingMime    string
	signalStarted  bool
}

// NewGNOMEAccess wraps an already-established RemoteDesktop session
// (shared with the capture adapter's D-Bus connection).
func NewGNOMEAccess(logger *slog.Logger, conn *dbus.Conn, rdSessionPath dbus.ObjectPath) LocalAccess {
	return &gnomeAccess{logger: logger, conn: conn, rdSessionPath: rdSessionPath}
}

var textMimeTypes = []string{"text/plain;charset=utf-8", "text/plain", "UTF8_STRING", "STRING"}

func (g *gnomeAccess) session() dbus.BusObject {
	return g.conn.Object(remoteDesktopBus, g.rdSessionPath)
}

func (g *gnomeAccess) enableClipboard() {
	opts := map[string]dbus.Variant{}
	if err := g.session().Call(remoteDesktopSessionIface+".EnableClipboard", 0, opts).Err; err != nil {
		g.logger.Debug("clipboard: EnableClipboard", "err", err)
	}
}

func (g *gnomeAccess) readSelection(mimeType string) ([]byte, error) {
	call := g.session().Call(remoteDesktopSessionIface+".SelectionRead", 0, mimeType)
	if call.Err != nil {
		return nil, call.Err
	}
	if len(call.Body) == 0 {
		return nil, fmt.Errorf("clipboard: SelectionRead returned no fd")
	}
	fd, ok := call.Body[0].(dbus.UnixFD)
	if !ok {
		return nil, fmt.Errorf("clipboard: SelectionRead returned invalid fd type")
	}
	file := os.NewFile(uintptr(fd), "clipboard-read")
	if file == nil {
		return nil, fmt.Errorf("clipboard: failed to open fd")
	}
	defer file.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := file.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}

func (g *gnomeAccess) ReadText(ctx context.Context) (string, error) {
	g.enableClipboard()
	for _, mt := range textMimeTypes {
		data, err := g.readSelection(mt)
		if err == nil && len(data) > 0 {
			return string(data), nil
		}
	}
	return "", nil
}

func (g *gnomeAccess) ReadPNG(ctx context.Context) ([]byte, error) {
	g.enableClipboard()
	return g.readSelection("image/png")
}

func (g *gnomeAccess) announce(content []byte, mimeType string, offerMimeTypes []string) error {
	g.enableClipboard()

	g.mu.Lock()
	g.pendingContent = content
	g.pendingMime = mimeType
	g.mu.Unlock()

	setOpts := map[string]dbus.Variant{"mime-types": dbus.MakeVariant(offerMimeTypes)}
	if err := g.session().Call(remoteDesktopSessionIface+".SetSelection", 0, setOpts).Err; err != nil {
		return fmt.Errorf("clipboard: SetSelection: %w", err)
	}
	g.startSignalHandler()
	return nil
}

func (g *gnomeAccess) WriteText(ctx context.Context, text string) error {
	return g.announce([]byte(text), "text/plain;charset=utf-8", textMimeTypes)
}

func (g *gnomeAccess) WritePNG(ctx context.Context, png []byte) error {
	return g.announce(png, "image/png", []string{"image/png"})
}

// startSignalHandler subscribes (once) to SelectionTransfer, fulfilling
// the compositor's read-back of whatever this process last announced.
func (g *gnomeAccess) startSignalHandler() {
	g.mu.Lock()
	if g.signalStarted {
		g.mu.Unlock()
		return
	}
	g.signalStarted = true
	g.mu.Unlock()

	if err := g.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(g.rdSessionPath),
		dbus.WithMatchInterface(remoteDesktopSessionIface),
		dbus.WithMatchMember("SelectionTransfer"),
	); err != nil {
		g.logger.Error("clipboard: subscribe SelectionTransfer", "err", err)
		return
	}

	signalChan := make(chan *dbus.Signal, 10)
	g.conn.Signal(signalChan)

	go func() {
		for sig := range signalChan {
			if sig.Name == remoteDesktopSessionIface+".SelectionTransfer" {
				g.handleSelectionTransfer(sig)
			}
		}
	}()
}

func (g *gnomeAccess) handleSelectionTransfer(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	serial, ok := sig.Body[1].(uint32)
	if !ok {
		return
	}

	g.mu.Lock()
	content := g.pendingContent
	g.mu.Unlock()

	session := g.session()
	if len(content) == 0 {
		session.Call(remoteDesktopSessionIface+".SelectionWriteDone", 0, serial, false)
		return
	}

	call := session.Call(remoteDesktopSessionIface+".SelectionWrite", 0, serial)
	if call.Err != nil || len(call.Body) == 0 {
		session.Call(remoteDesktopSessionIface+".SelectionWriteDone", 0, serial, false)
		return
	}
	fd, ok := call.Body[0].(dbus.UnixFD)
	if !ok {
		session.Call(remoteDesktopSessionIface+".SelectionWriteDone", 0, serial, false)
		return
	}
	file := os.NewFile(uintptr(fd), "clipboard-write")
	_, writeErr := file.Write(content)
	file.Close()

	session.Call(remoteDesktopSessionIface+".SelectionWriteDone", 0, serial, writeErr == nil)
}

// wlAccess is the Sway/wlroots fallback using wl-copy/wl-paste, for
// compositors without the GNOME Mutter RemoteDesktop clipboard
// extension. Grounded on clipboard.go's getClipboardWayland path.
type wlAccess struct{ logger *slog.Logger }

func NewWlrootsAccess(logger *slog.Logger) LocalAccess { return &wlAccess{logger: logger} }

func (w *wlAccess) ReadText(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "wl-paste", "--no-newline").Output()
	if err != nil {
		return "", fmt.Errorf("clipboard: wl-paste: %w", err)
	}
	return string(out), nil
}

func (w *wlAccess) WriteText(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, "wl-copy")
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

func (w *wlAccess) ReadPNG(ctx context.Context) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "wl-paste", "--type", "image/png").Output()
	if err != nil {
		return nil, fmt.Errorf("clipboard: wl-paste image: %w", err)
	}
	return out, nil
}

func (w *wlAccess) WritePNG(ctx context.Context, png []byte) error {
	cmd := exec.CommandContext(ctx, "wl-copy", "--type", "image/png")
	cmd.Stdin = bytes.NewReader(png)
	return cmd.Run()
}

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// D-Bus names for the GNOME Mutter RemoteDesktop/ScreenCast portal
// backend. Grounded on api/pkg/desktop/session.go.
const (
	remoteDesktopBus          = "org.gnome.Mutter.RemoteDesktop"
	remoteDesktopPath         = "/org/gnome/Mutter/RemoteDesktop"
	remoteDesktopIface        = "org.gnome.Mutter.RemoteDesktop"
	remoteDesktopSessionIface = "org.gnome.Mutter.RemoteDesktop.Session"

	screenCastBus          = "org.gnome.Mutter.ScreenCast"
	screenCastPath         = "/org/gnome/Mutter/ScreenCast"
	screenCastIface        = "org.gnome.Mutter.ScreenCast"
	screenCastSessionIface = "org.gnome.Mutter.ScreenCast.Session"
	screenCastStreamIface  = "org.gnome.Mutter.ScreenCast.Stream"

	// Cursor mode 1 (embedded) bakes the cursor into the captured frames.
	// The video pipeline instead uses cursorModeMetadata plus the RDPEGFX
	// pointer channel so the client renders a hardware cursor (see
	// SPEC_FULL.md §12 "Cursor shape/position channel").
	cursorModeMetadata = uint32(2)
)

// dbusPortal drives the GNOME Mutter RemoteDesktop+ScreenCast D-Bus
// interfaces to obtain a PipeWire node ID for the requested output.
// Grounded on session.go's connectDBus/createSession/startSession.
type dbusPortal struct {
	logger *slog.Logger

	conn          *dbus.Conn
	rdSessionPath dbus.ObjectPath
	scSessionPath dbus.ObjectPath
	scStreamPath  dbus.ObjectPath
}

func newDBusPortal(logger *slog.Logger) *dbusPortal {
	return &dbusPortal{logger: logger}
}

// Connect connects to the session bus with retry, verifying the
// RemoteDesktop portal service is reachable.
func (p *dbusPortal) Connect(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < 60; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.conn, err = dbus.ConnectSessionBus()
		if err != nil {
			time.Sleep(time.Second)
			continue
		}

		obj := p.conn.Object(remoteDesktopBus, remoteDesktopPath)
		if err = obj.Call("org.freedesktop.DBus.Introspectable.Introspect", 0).Err; err != nil {
			p.conn.Close()
			time.Sleep(time.Second)
			continue
		}

		p.logger.Debug("capture: D-Bus portal connected")
		return nil
	}
	return fmt.Errorf("D-Bus portal not ready after 60 attempts: %w", err)
}

// CreateSession creates the linked RemoteDesktop+ScreenCast sessions and
// records the requested monitor connector.
func (p *dbusPortal) CreateSession(ctx context.Context, desc StreamDescriptor, hints FormatHints) error {
	rdObj := p.conn.Object(remoteDesktopBus, remoteDesktopPath)

	var rdSessionPath dbus.ObjectPath
	if err := rdObj.Call(remoteDesktopIface+".CreateSession", 0).Store(&rdSessionPath); err != nil {
		if isPermissionDenied(err) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("create RemoteDesktop session: %w", err)
	}
	p.rdSessionPath = rdSessionPath

	sessionID := string(rdSessionPath)
	if idx := strings.LastIndex(sessionID, "/"); idx >= 0 {
		sessionID = sessionID[idx+1:]
	}

	scObj := p.conn.Object(screenCastBus, screenCastPath)
	options := map[string]dbus.Variant{
		"remote-desktop-session-id": dbus.MakeVariant(sessionID),
	}

	var scSessionPath dbus.ObjectPath
	if err := scObj.Call(screenCastIface+".CreateSession", 0, options).Store(&scSessionPath); err != nil {
		return fmt.Errorf("create ScreenCast session: %w", err)
	}
	p.scSessionPath = scSessionPath

	scSession := p.conn.Object(screenCastBus, scSessionPath)
	recordOptions := map[string]dbus.Variant{
		"cursor-mode": dbus.MakeVariant(cursorModeMetadata),
	}

	name := desc.Name
	if name == "" {
		name = "Meta-0"
	}

	var streamPath dbus.ObjectPath
	if err := scSession.Call(screenCastSessionIface+".RecordMonitor", 0, name, recordOptions).Store(&streamPath); err != nil {
		return fmt.Errorf("RecordMonitor: %w", err)
	}
	p.scStreamPath = streamPath

	rdSession := p.conn.Object(remoteDesktopBus, p.rdSessionPath)
	return rdSession.Call(remoteDesktopSessionIface+".Start", 0).Err
}

// WaitForStream waits for the PipeWireStreamAdded signal carrying the
// node ID the capture thread will read frames from.
func (p *dbusPortal) WaitForStream(ctx context.Context) (uint32, error) {
	if err := p.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(p.scStreamPath),
		dbus.WithMatchInterface(screenCastStreamIface),
		dbus.WithMatchMember("PipeWireStreamAdded"),
	); err != nil {
		return 0, fmt.Errorf("add signal match: %w", err)
	}

	signalChan := make(chan *dbus.Signal, 10)
	p.conn.Signal(signalChan)

	timeout := time.After(10 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case sig := <-signalChan:
			if sig.Name == screenCastStreamIface+".PipeWireStreamAdded" && len(sig.Body) > 0 {
				if nodeID, ok := sig.Body[0].(uint32); ok {
					return nodeID, nil
				}
			}
		case <-timeout:
			return 0, fmt.Errorf("timeout waiting for PipeWireStreamAdded signal")
		}
	}
}

// Close tears down the D-Bus session and connection.
func (p *dbusPortal) Close() {
	if p.conn == nil {
		return
	}
	if p.rdSessionPath != "" {
		rdSession := p.conn.Object(remoteDesktopBus, p.rdSessionPath)
		rdSession.Call(remoteDesktopSessionIface+".Stop", 0)
	}
	p.conn.Close()
	p.conn = nil
}

func isPermissionDenied(err error) bool {
	if dbusErr, ok := err.(dbus.Error); ok {
		return strings.Contains(dbusErr.Name, "AccessDenied") || strings.Contains(dbusErr.Name, "PermissionDenied")
	}
	return false
}

// Package config loads the RDP bridge's file-based configuration.
// TOML loading itself is out of scope for the core per spec §1, but the
// binary still needs a concrete Config to exercise the CLI surface of
// §6, the way cmd/desktop-bridge/main.go's desktop.Config does for its
// own (env-var based) settings.
package config

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdperrors"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/types"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/video"
)

// Config is the root configuration document.
type Config struct {
	Listen    ListenConfig    `toml:"listen"`
	TLS       TLSConfig       `toml:"tls"`
	Session   SessionConfig   `toml:"session"`
	Video     VideoConfig     `toml:"video"`
	Clipboard ClipboardConfig `toml:"clipboard"`
}

// ListenConfig is the TLS listener's bind address, per spec §6's
// listen_address/port CLI surface.
type ListenConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// TLSConfig names the certificate material the TLS listener reads
// (read-only inputs per spec §6).
type TLSConfig struct {
	CertPath string `toml:"cert_path"`
	KeyPath  string `toml:"key_path"`
}

// SessionConfig bounds how many concurrent RDP sessions this process
// will accept.
type SessionConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
}

// VideoConfig seeds the video pipeline (spec §4.2).
type VideoConfig struct {
	InitialFramerate   int     `toml:"initial_framerate"`
	Mode               string  `toml:"mode"` // interactive | balanced | quality
	FullRectThreshold  float64 `toml:"full_rect_threshold"`
	ForcedFullInterval string  `toml:"forced_full_interval"` // parsed with time.ParseDuration
	GstPipelineDesc    string  `toml:"gstreamer_pipeline"`
}

// ClipboardConfig seeds the clipboard subsystem (spec §4.4).
type ClipboardConfig struct {
	RequestDeadline string `toml:"request_deadline"` // parsed with time.ParseDuration
}

// Default returns the configuration spec §6 implies when no config file
// is given: port 3389, a 5s clipboard request deadline, balanced quality.
func Default() Config {
	return Config{
		Listen:  ListenConfig{Address: "0.0.0.0", Port: 3389},
		Session: SessionConfig{MaxConcurrent: 4},
		Video: VideoConfig{
			InitialFramerate:   video.DefaultFramerate,
			Mode:               "balanced",
			FullRectThreshold:  video.DefaultFullRectThreshold,
			ForcedFullInterval: video.DefaultForcedFullInterval.String(),
			GstPipelineDesc:    "appsrc name=src ! videoconvert ! x264enc name=enc tune=zerolatency key-int-max=250 ! appsink name=sink",
		},
		Clipboard: ClipboardConfig{RequestDeadline: "5s"},
	}
}

// Load reads and parses a TOML config file, filling any field the file
// omits from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, rdperrors.Wrap(rdperrors.Configuration, err, "read config file")
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, rdperrors.Wrap(rdperrors.Configuration, err, "parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports a Configuration-category error for any value that
// would make the process unable to start (spec §7).
func (c Config) Validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return rdperrors.New(rdperrors.Configuration, fmt.Sprintf("invalid port %d", c.Listen.Port))
	}
	if c.TLS.CertPath != "" && c.TLS.KeyPath == "" {
		return rdperrors.New(rdperrors.Configuration, "tls cert_path set without key_path")
	}
	if c.Video.FullRectThreshold <= 0 || c.Video.FullRectThreshold > 1 {
		return rdperrors.New(rdperrors.Configuration, "video.full_rect_threshold must be in (0,1]")
	}
	if _, err := c.ForcedFullIntervalDuration(); err != nil {
		return rdperrors.Wrap(rdperrors.Configuration, err, "video.forced_full_interval")
	}
	if _, err := c.ClipboardRequestDeadline(); err != nil {
		return rdperrors.Wrap(rdperrors.Configuration, err, "clipboard.request_deadline")
	}
	if _, err := ParseQualityMode(c.Video.Mode); err != nil {
		return err
	}
	return nil
}

// ForcedFullIntervalDuration parses the video forced-full-refresh interval.
func (c Config) ForcedFullIntervalDuration() (time.Duration, error) {
	return time.ParseDuration(c.Video.ForcedFullInterval)
}

// ClipboardRequestDeadline parses the per-request clipboard timeout
// (spec §5, default 5s).
func (c Config) ClipboardRequestDeadline() (time.Duration, error) {
	return time.ParseDuration(c.Clipboard.RequestDeadline)
}

// ParseQualityMode maps a config string to a video.QualityMode.
func ParseQualityMode(s string) (video.QualityMode, error) {
	switch s {
	case "interactive":
		return video.ModeInteractive, nil
	case "balanced", "":
		return video.ModeBalanced, nil
	case "quality":
		return video.ModeQuality, nil
	default:
		return 0, rdperrors.New(rdperrors.Configuration, fmt.Sprintf("unknown video mode %q", s))
	}
}

// DefaultMonitorTopology builds a single-monitor topology matching the
// negotiated desktop size, used until a display-control PDU or portal
// layout signal replaces it.
func DefaultMonitorTopology(width, height int) types.MonitorTopology {
	rect := image.Rect(0, 0, width, height)
	return types.MonitorTopology{
		Monitors: []types.Monitor{{
			ID: 0, Rect: rect, StreamRect: rect, DPI: 96, Scale: 1.0, Primary: true,
		}},
		VirtualDesktop: rect,
	}
}

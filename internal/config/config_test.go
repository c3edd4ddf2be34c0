package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/video"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 3389, cfg.Listen.Port)
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rdp-server.toml")
	body := `
[listen]
address = "127.0.0.1"
port = 4000

[video]
mode = "interactive"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Listen.Address)
	assert.Equal(t, 4000, cfg.Listen.Port)
	assert.Equal(t, "interactive", cfg.Video.Mode)
	// Untouched fields keep Default()'s values.
	assert.Equal(t, 4, cfg.Session.MaxConcurrent)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Listen.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsCertWithoutKey(t *testing.T) {
	cfg := Default()
	cfg.TLS.CertPath = "/etc/rdp/cert.pem"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadFullRectThreshold(t *testing.T) {
	cfg := Default()
	cfg.Video.FullRectThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg.Video.FullRectThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadDurations(t *testing.T) {
	cfg := Default()
	cfg.Video.ForcedFullInterval = "not-a-duration"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Clipboard.RequestDeadline = "not-a-duration"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownVideoMode(t *testing.T) {
	cfg := Default()
	cfg.Video.Mode = "ultra"
	assert.Error(t, cfg.Validate())
}

func TestParseQualityModeDefaultsEmptyToBalanced(t *testing.T) {
	mode, err := ParseQualityMode("")
	require.NoError(t, err)
	assert.Equal(t, video.ModeBalanced, mode)
}

func TestDefaultMonitorTopologyIsValid(t *testing.T) {
	topo := DefaultMonitorTopology(1920, 1080)
	assert.True(t, topo.Valid())
	assert.Len(t, topo.Monitors, 1)
	assert.True(t, topo.Monitors[0].Primary)
}

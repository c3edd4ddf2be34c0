package input

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateBaseScancode(t *testing.T) {
	code, ok := Translate(0x1E, false) // 'A'
	assert.True(t, ok)
	assert.Equal(t, 30, code)
}

func TestTranslateExtendedScancode(t *testing.T) {
	code, ok := Translate(0x48, true) // up arrow
	assert.True(t, ok)
	assert.Equal(t, 103, code)
}

func TestTranslateUnknownScancodeDropped(t *testing.T) {
	_, ok := Translate(0xFE, false)
	assert.False(t, ok)
}

func TestTranslateExtendedDiffersFromBase(t *testing.T) {
	base, _ := Translate(0x1C, false) // enter
	ext, _ := Translate(0x1C, true)   // KP enter
	assert.NotEqual(t, base, ext)
}

func TestIsPauseSequenceRecognizesBothHalves(t *testing.T) {
	assert.True(t, IsPauseSequence(pauseScancode1, true))
	assert.True(t, IsPauseSequence(pauseScancode2, true))
	assert.False(t, IsPauseSequence(pauseScancode1, false))
}

func TestTranslateWithLayoutOverrideTakesPrecedence(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	overrides := LayoutOverrides{layoutKey(0x1E, false): 999}

	code, ok := TranslateWithLayout(0x1E, false, overrides, logger)
	assert.True(t, ok)
	assert.Equal(t, 999, code)
}

func TestTranslateWithLayoutFallsBackWithoutOverride(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	code, ok := TranslateWithLayout(0x1E, false, nil, logger)
	assert.True(t, ok)
	assert.Equal(t, 30, code)
}

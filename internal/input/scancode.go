// Package input implements compositor input injection (spec §4.3):
// RDP scancode -> evdev keycode translation, pointer coordinate
// transforms through the monitor topology, and the Wayland virtual
// input wrapper that actually injects events.
package input

import "log/slog"

// RDP scancodes follow the original IBM PC/AT Set 1 numbering for the
// base (non-extended) range, which is also what Linux evdev KEY_* codes
// use for the same physical keys — so the base table is close to
// identity. Extended scancodes (arrived with the RDP extended flag set,
// equivalent to an 0xE0 prefix byte on the wire) diverge and need an
// explicit override, the way vk_evdev.go's vkToEvdev map hand-lists
// every code rather than relying on a formula. This file does the same,
// keyed by (scancode, extended) instead of Windows VK code, since RDP's
// INPUT_EVENT_SCANCODE already carries that pair.
var baseScancodeToEvdev = map[uint8]int{
	0x01: 1, // ESC
	0x02: 2, 0x03: 3, 0x04: 4, 0x05: 5, 0x06: 6, 0x07: 7, 0x08: 8, 0x09: 9, 0x0A: 10, 0x0B: 11, // 1-0
	0x0C: 12, // -
	0x0D: 13, // =
	0x0E: 14, // backspace
	0x0F: 15, // tab
	0x10: 16, 0x11: 17, 0x12: 18, 0x13: 19, 0x14: 20, 0x15: 21, 0x16: 22, 0x17: 23, 0x18: 24, 0x19: 25, // Q-P
	0x1A: 26, // [
	0x1B: 27, // ]
	0x1C: 28, // enter
	0x1D: 29, // left ctrl
	0x1E: 30, 0x1F: 31, 0x20: 32, 0x21: 33, 0x22: 34, 0x23: 35, 0x24: 36, 0x25: 37, 0x26: 38, // A-L
	0x27: 39, // ;
	0x28: 40, // '
	0x29: 41, // `
	0x2A: 42, // left shift
	0x2B: 43, // backslash
	0x2C: 44, 0x2D: 45, 0x2E: 46, 0x2F: 47, 0x30: 48, 0x31: 49, 0x32: 50, // Z-M
	0x33: 51, // ,
	0x34: 52, // .
	0x35: 53, // /
	0x36: 54, // right shift
	0x37: 55, // KP *
	0x38: 56, // left alt
	0x39: 57, // space
	0x3A: 58, // capslock
	0x3B: 59, 0x3C: 60, 0x3D: 61, 0x3E: 62, 0x3F: 63, 0x40: 64, 0x41: 65, 0x42: 66, 0x43: 67, 0x44: 68, // F1-F10
	0x45: 69, // numlock
	0x46: 70, // scrolllock
	0x47: 71, 0x48: 72, 0x49: 73, // KP7 KP8 KP9
	0x4A: 74, // KP-
	0x4B: 75, 0x4C: 76, 0x4D: 77, // KP4 KP5 KP6
	0x4E: 78, // KP+
	0x4F: 79, 0x50: 80, 0x51: 81, // KP1 KP2 KP3
	0x52: 82, // KP0
	0x53: 83, // KP.
	0x56: 86, // 102nd key
	0x57: 87, 0x58: 88, // F11 F12
}

// extendedScancodeToEvdev is consulted when the RDP extended flag is set
// (wire equivalent of an 0xE0 prefix byte).
var extendedScancodeToEvdev = map[uint8]int{
	0x1C: 96,  // KP enter
	0x1D: 97,  // right ctrl
	0x35: 98,  // KP /
	0x38: 100, // right alt
	0x47: 102, // home
	0x48: 103, // up
	0x49: 104, // pageup
	0x4B: 105, // left
	0x4D: 106, // right
	0x4F: 107, // end
	0x50: 108, // down
	0x51: 109, // pagedown
	0x52: 110, // insert
	0x53: 111, // delete
	0x5B: 125, // left meta
	0x5C: 126, // right meta
	0x5D: 127, // menu/compose
}

// pauseScancode1, pauseScancode2 are the two halves of the Pause/Break
// key's unique two-packet encoding (PC hardware quirk: Pause has no
// make/break pair like every other key — it sends a fixed sequence on
// press and nothing on release). RDP clients that forward raw scancodes
// reproduce this as two back-to-back INPUT_EVENT_SCANCODE events; any
// other client sends it as a single extended scancode 0x1D with a
// separate "numlock flag" marker per MS-RDPBCGR 2.2.8.1.1.3.1.1.1.
const (
	pauseScancode1 = 0x1D // first half, extended + numlock-flag variant
	pauseScancode2 = 0x45
)

// Translate converts one RDP scancode to a Linux evdev keycode. Returns
// (0, false) for scancodes this table does not recognize; callers must
// drop and log rather than forward an unknown code (spec §4.3.1).
func Translate(scancode uint8, extended bool) (int, bool) {
	if extended {
		if code, ok := extendedScancodeToEvdev[scancode]; ok {
			return code, true
		}
		return 0, false
	}
	if code, ok := baseScancodeToEvdev[scancode]; ok {
		return code, true
	}
	return 0, false
}

// IsPauseSequence reports whether (scancode, extended) is one of the two
// halves of the Pause key's special encoding, so the caller can
// synthesize a single KEY_PAUSE press/release pair instead of forwarding
// both halves as ordinary keys.
func IsPauseSequence(scancode uint8, extended bool) bool {
	return extended && (scancode == pauseScancode1 || scancode == pauseScancode2)
}

const pauseEvdevCode = 119

// LayoutOverrides lets a specific keyboard layout remap a handful of
// scancodes before the base/extended tables are consulted (e.g. ISO vs
// ANSI layouts disagree on a couple of punctuation keys sharing one
// physical position). Nil or missing entries fall through to the
// default tables.
type LayoutOverrides map[uint16]int

func layoutKey(scancode uint8, extended bool) uint16 {
	key := uint16(scancode)
	if extended {
		key |= 0x100
	}
	return key
}

// TranslateWithLayout is Translate, consulting layout-specific overrides
// first.
func TranslateWithLayout(scancode uint8, extended bool, overrides LayoutOverrides, logger *slog.Logger) (int, bool) {
	if overrides != nil {
		if code, ok := overrides[layoutKey(scancode, extended)]; ok {
			return code, true
		}
	}
	code, ok := Translate(scancode, extended)
	if !ok && logger != nil {
		logger.Warn("input: unknown scancode, dropping", "scancode", scancode, "extended", extended)
	}
	return code, ok
}

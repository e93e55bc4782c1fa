// Package keymap maps human-readable key names to HID keyboard usage codes.
package keymap

import "strings"

// HID keyboard usage page codes for the keys the resolver understands.
const (
	UsageA         uint16 = 4
	UsageEnter     uint16 = 40
	UsageEscape    uint16 = 41
	UsageBackspace uint16 = 42
	UsageTab       uint16 = 43
	UsageSpace     uint16 = 44
	UsageMinus     uint16 = 45
	UsageEqual     uint16 = 46
	UsageF1        uint16 = 58
	UsageInsert    uint16 = 73
	UsageHome      uint16 = 74
	UsagePageUp    uint16 = 75
	UsageDelete    uint16 = 76
	UsageEnd       uint16 = 77
	UsagePageDown  uint16 = 78
	UsageRight     uint16 = 79
	UsageLeft      uint16 = 80
	UsageDown      uint16 = 81
	UsageUp        uint16 = 82

	UsageLeftCtrl   uint16 = 224
	UsageLeftShift  uint16 = 225
	UsageLeftAlt    uint16 = 226
	UsageLeftSuper  uint16 = 227
	UsageRightCtrl  uint16 = 228
	UsageRightShift uint16 = 229
	UsageRightAlt   uint16 = 230
	UsageRightSuper uint16 = 231
)

// usageByName is the canonical lookup table. Keys are upper-case names;
// Resolve case-folds before lookup. Unqualified modifier names resolve to
// the left-hand variant.
var usageByName = buildTable()

func buildTable() map[string]uint16 {
	t := make(map[string]uint16, 96)

	// Letters: A=4 .. Z=29
	for i := 0; i < 26; i++ {
		t[string(rune('A'+i))] = UsageA + uint16(i)
	}
	// Digits: 1=30 .. 9=38, 0=39
	for i := 1; i <= 9; i++ {
		t[string(rune('0'+i))] = 30 + uint16(i-1)
	}
	t["0"] = 39

	t["ENTER"] = UsageEnter
	t["RETURN"] = UsageEnter
	t["ESCAPE"] = UsageEscape
	t["ESC"] = UsageEscape
	t["BACKSPACE"] = UsageBackspace
	t["TAB"] = UsageTab
	t["SPACE"] = UsageSpace
	t["MINUS"] = UsageMinus
	t["EQUAL"] = UsageEqual

	// F1=58 .. F12=69
	for i := 1; i <= 12; i++ {
		t["F"+itoa(i)] = UsageF1 + uint16(i-1)
	}

	t["INSERT"] = UsageInsert
	t["HOME"] = UsageHome
	t["PAGEUP"] = UsagePageUp
	t["DELETE"] = UsageDelete
	t["END"] = UsageEnd
	t["PAGEDOWN"] = UsagePageDown
	t["RIGHT"] = UsageRight
	t["LEFT"] = UsageLeft
	t["DOWN"] = UsageDown
	t["UP"] = UsageUp

	t["CTRL"] = UsageLeftCtrl
	t["LCTRL"] = UsageLeftCtrl
	t["RCTRL"] = UsageRightCtrl
	t["SHIFT"] = UsageLeftShift
	t["LSHIFT"] = UsageLeftShift
	t["RSHIFT"] = UsageRightShift
	t["ALT"] = UsageLeftAlt
	t["LALT"] = UsageLeftAlt
	t["RALT"] = UsageRightAlt
	t["SUPER"] = UsageLeftSuper
	t["LSUPER"] = UsageLeftSuper
	t["RSUPER"] = UsageRightSuper
	t["CMD"] = UsageLeftSuper
	t["WIN"] = UsageLeftSuper

	return t
}

func itoa(n int) string {
	if n >= 10 {
		return string(rune('0'+n/10)) + string(rune('0'+n%10))
	}
	return string(rune('0' + n))
}

// Lookup resolves a single key name. The name is trimmed and case-folded.
func Lookup(name string) (uint16, bool) {
	usage, ok := usageByName[strings.ToUpper(strings.TrimSpace(name))]
	return usage, ok
}

// Resolve maps key names to a set of HID usage codes. Empty or
// whitespace-only names are skipped, unknown names are dropped without
// error, and duplicates collapse. The result is never nil.
func Resolve(names []string) map[uint16]struct{} {
	usages := make(map[uint16]struct{}, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if usage, ok := usageByName[strings.ToUpper(trimmed)]; ok {
			usages[usage] = struct{}{}
		}
	}
	return usages
}

// IsModifier reports whether usage is one of the eight modifier keys.
func IsModifier(usage uint16) bool {
	return usage >= UsageLeftCtrl && usage <= UsageRightSuper
}

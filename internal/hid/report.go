// Package hid emits USB HID boot-protocol keyboard reports to a gadget
// device node.
package hid

import "errors"

// ErrRollover is returned when more than six non-modifier keys would be
// held at once; the boot protocol report has six key slots.
var ErrRollover = errors.New("hid: more than six keys held")

const (
	reportSize = 8
	keySlots   = 6

	modifierBase uint16 = 224 // LeftCtrl .. RightSuper occupy bits 0..7
	modifierLast uint16 = 231
)

// Report is the 8-byte boot keyboard report: modifier bitmask, reserved
// byte, six key slots.
type Report struct {
	modifiers byte
	keys      [keySlots]byte
}

// Press adds a usage to the report. Modifier usages set their bit; other
// usages take the first free slot. Pressing an already-present usage is a
// no-op, so redundant transitions are harmless.
func (r *Report) Press(usage uint16) error {
	if usage >= modifierBase && usage <= modifierLast {
		r.modifiers |= 1 << (usage - modifierBase)
		return nil
	}
	code := byte(usage)
	free := -1
	for i, k := range r.keys {
		if k == code {
			return nil
		}
		if k == 0 && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return ErrRollover
	}
	r.keys[free] = code
	return nil
}

// Release removes a usage from the report. Releasing a usage that is not
// present is a no-op.
func (r *Report) Release(usage uint16) {
	if usage >= modifierBase && usage <= modifierLast {
		r.modifiers &^= 1 << (usage - modifierBase)
		return
	}
	code := byte(usage)
	for i, k := range r.keys {
		if k == code {
			r.keys[i] = 0
		}
	}
}

// Bytes renders the wire form of the report.
func (r *Report) Bytes() [reportSize]byte {
	var out [reportSize]byte
	out[0] = r.modifiers
	copy(out[2:], r.keys[:])
	return out
}

// Empty reports whether no key or modifier is asserted.
func (r *Report) Empty() bool {
	if r.modifiers != 0 {
		return false
	}
	for _, k := range r.keys {
		if k != 0 {
			return false
		}
	}
	return true
}

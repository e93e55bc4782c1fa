package player

// Sink is the output device playback drives. Implementations assert HID
// key-down and key-up transitions for a usage code. The player never
// constructs a sink; the caller supplies one (a HID gadget, a test double)
// and retains exclusive access to it for the lifetime of a run.
type Sink interface {
	AssertDown(usage uint16) error
	AssertUp(usage uint16) error
}

package player

import "sync"

// Hold represents one asserted key-down awaiting its release. Its done
// channel closes when the hold is stolen by a re-press, waking the deferred
// key-up early.
type Hold struct {
	done chan struct{}
}

// Done returns the channel closed when the hold is stolen.
func (h *Hold) Done() <-chan struct{} {
	return h.done
}

// HeldKeys tracks the usage codes currently asserted down on the sink.
// A usage appears at most once; whoever removes an entry owns the matching
// key-up, so downs and ups are never duplicated. The mutex is held only for
// map access, never across a sleep or a sink call.
type HeldKeys struct {
	mu   sync.Mutex
	keys map[uint16]*Hold
}

func NewHeldKeys() *HeldKeys {
	return &HeldKeys{keys: make(map[uint16]*Hold)}
}

// Press records a new hold for usage. Any prior hold for the same usage must
// have been stolen first.
func (h *HeldKeys) Press(usage uint16) *Hold {
	hd := &Hold{done: make(chan struct{})}
	h.mu.Lock()
	h.keys[usage] = hd
	h.mu.Unlock()
	return hd
}

// Release removes usage only if hd is still its current hold. It reports
// whether the caller now owns the key-up for that usage.
func (h *HeldKeys) Release(usage uint16, hd *Hold) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.keys[usage] != hd {
		return false
	}
	delete(h.keys, usage)
	return true
}

// Steal removes and returns the current hold for usage, closing its done
// channel. It returns nil when the usage is not held.
func (h *HeldKeys) Steal(usage uint16) *Hold {
	h.mu.Lock()
	hd := h.keys[usage]
	if hd != nil {
		delete(h.keys, usage)
	}
	h.mu.Unlock()
	if hd != nil {
		close(hd.done)
	}
	return hd
}

// Drain removes every held usage and returns them, closing their done
// channels. The caller owns the key-up for each returned usage.
func (h *HeldKeys) Drain() []uint16 {
	h.mu.Lock()
	usages := make([]uint16, 0, len(h.keys))
	holds := make([]*Hold, 0, len(h.keys))
	for usage, hd := range h.keys {
		usages = append(usages, usage)
		holds = append(holds, hd)
	}
	h.keys = make(map[uint16]*Hold)
	h.mu.Unlock()
	for _, hd := range holds {
		close(hd.done)
	}
	return usages
}

// Len reports how many usages are currently held.
func (h *HeldKeys) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.keys)
}

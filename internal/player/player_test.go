package player

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/hkondo/kbreplay/internal/recording"
	"github.com/hkondo/kbreplay/internal/transform"
)

// fakeSink records every assertion and tracks which usages are down.
type fakeSink struct {
	mu     sync.Mutex
	log    []string // "down:4", "up:4"
	down   map[uint16]bool
	failOn string // assertion at which to return an error, e.g. "down:5"
}

func newFakeSink() *fakeSink {
	return &fakeSink{down: make(map[uint16]bool)}
}

func (s *fakeSink) AssertDown(usage uint16) error {
	return s.record(fmt.Sprintf("down:%d", usage), usage, true)
}

func (s *fakeSink) AssertUp(usage uint16) error {
	return s.record(fmt.Sprintf("up:%d", usage), usage, false)
}

func (s *fakeSink) record(entry string, usage uint16, down bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && entry == s.failOn {
		return fmt.Errorf("sink: injected failure at %s", entry)
	}
	s.log = append(s.log, entry)
	if down {
		if s.down[usage] {
			return fmt.Errorf("sink: duplicate down for usage %d", usage)
		}
		s.down[usage] = true
	} else {
		delete(s.down, usage)
	}
	return nil
}

func (s *fakeSink) entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.log))
	copy(out, s.log)
	return out
}

func (s *fakeSink) heldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.down)
}

func runOnce(t *testing.T, sink Sink, actions []recording.Action, opts Options) error {
	t.Helper()
	p := New(sink)
	return p.Run(context.Background(), actions, opts, nil, rand.New(rand.NewSource(1)))
}

func TestRun_EmitsDownUpPairs(t *testing.T) {
	sink := newFakeSink()
	actions := []recording.Action{
		{Usage: 4, Press: 0.0, Hold: 0.01},
		{Usage: 5, Press: 0.03, Hold: 0.01},
	}

	err := runOnce(t, sink, actions, Options{Transform: transform.Options{Speed: 1.0}})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	want := []string{"down:4", "up:4", "down:5", "up:5"}
	got := sink.entries()
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if sink.heldCount() != 0 {
		t.Errorf("sink has %d keys held after completion", sink.heldCount())
	}
}

func TestRun_OverlappingHoldsChord(t *testing.T) {
	sink := newFakeSink()
	// 224 held for 60ms, 4 pressed 10ms in for 20ms: both down together.
	actions := []recording.Action{
		{Usage: 224, Press: 0.0, Hold: 0.06},
		{Usage: 4, Press: 0.01, Hold: 0.02},
	}

	err := runOnce(t, sink, actions, Options{Transform: transform.Options{Speed: 1.0}})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	got := sink.entries()
	want := []string{"down:224", "down:4", "up:4", "up:224"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRun_RepressForcesEarlyRelease(t *testing.T) {
	sink := newFakeSink()
	// Usage 4 re-pressed at 20ms while its 100ms hold is still live: the
	// stale hold must release before the second down.
	actions := []recording.Action{
		{Usage: 4, Press: 0.0, Hold: 0.1},
		{Usage: 4, Press: 0.02, Hold: 0.01},
	}

	err := runOnce(t, sink, actions, Options{Transform: transform.Options{Speed: 1.0}})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	got := sink.entries()
	want := []string{"down:4", "up:4", "down:4", "up:4"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRun_RepressAtExactHoldExpiry(t *testing.T) {
	// A re-press scheduled at the instant the previous hold expires races
	// the deferred key-up's Release against the walker's Steal. Whichever
	// side wins, the sink must see strict down/up alternation; the fakeSink
	// errors out on a duplicate down. Many short iterations to give the
	// scheduler chances to interleave both orders.
	actions := []recording.Action{
		{Usage: 4, Press: 0.0, Hold: 0.0001},
		{Usage: 4, Press: 0.0001, Hold: 0.0001},
	}

	for i := 0; i < 2000; i++ {
		sink := newFakeSink()
		err := runOnce(t, sink, actions, Options{Transform: transform.Options{Speed: 1.0}})
		if err != nil {
			t.Fatalf("iteration %d: Run error: %v (entries %v)", i, err, sink.entries())
		}
		if sink.heldCount() != 0 {
			t.Fatalf("iteration %d: %d keys still down (entries %v)", i, sink.heldCount(), sink.entries())
		}
		prev := ""
		for _, e := range sink.entries() {
			if e == prev {
				t.Fatalf("iteration %d: consecutive %s (entries %v)", i, e, sink.entries())
			}
			prev = e
		}
	}
}

func TestRun_CancellationReleasesHeldKeys(t *testing.T) {
	sink := newFakeSink()
	actions := []recording.Action{
		{Usage: 224, Press: 0.0, Hold: 5.0}, // long hold
		{Usage: 4, Press: 10.0, Hold: 0.1},  // never reached
	}

	p := New(sink)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(ctx, actions, Options{Transform: transform.Options{Speed: 1.0}}, nil, rand.New(rand.NewSource(1)))
	}()

	// Wait until 224 is asserted down, then cancel mid-hold.
	deadline := time.After(2 * time.Second)
	for sink.heldCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for key-down")
		case <-time.After(time.Millisecond):
		}
	}
	start := time.Now()
	cancel()

	err := <-errCh
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v; must not wait out the hold", elapsed)
	}
	if sink.heldCount() != 0 {
		t.Errorf("sink has %d keys held after cancellation", sink.heldCount())
	}
	if p.Held() != 0 {
		t.Errorf("HeldKeys has %d entries after cancellation", p.Held())
	}

	// The cleanup up for 224 must be in the log.
	found := false
	for _, e := range sink.entries() {
		if e == "up:224" {
			found = true
		}
	}
	if !found {
		t.Error("expected up:224 during cancellation cleanup")
	}
}

func TestRun_SinkFailureCleansUp(t *testing.T) {
	sink := newFakeSink()
	sink.failOn = "down:5"
	actions := []recording.Action{
		{Usage: 224, Press: 0.0, Hold: 1.0},
		{Usage: 5, Press: 0.02, Hold: 0.01},
	}

	err := runOnce(t, sink, actions, Options{Transform: transform.Options{Speed: 1.0}})
	if err == nil {
		t.Fatal("expected sink error")
	}
	if sink.heldCount() != 0 {
		t.Errorf("sink has %d keys held after failure", sink.heldCount())
	}
}

func TestRun_LoopCountRepeats(t *testing.T) {
	sink := newFakeSink()
	actions := []recording.Action{{Usage: 4, Press: 0.0, Hold: 0.005}}

	err := runOnce(t, sink, actions, Options{
		Transform: transform.Options{Speed: 1.0},
		LoopCount: 3,
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := len(sink.entries()); got != 6 {
		t.Errorf("got %d assertions, want 6 (3 loops x down+up)", got)
	}
}

func TestRun_LoopCountBelowOnePlaysOnce(t *testing.T) {
	sink := newFakeSink()
	actions := []recording.Action{{Usage: 4, Press: 0.0, Hold: 0.005}}

	err := runOnce(t, sink, actions, Options{Transform: transform.Options{Speed: 1.0}, LoopCount: 0})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := len(sink.entries()); got != 2 {
		t.Errorf("got %d assertions, want 2", got)
	}
}

func TestRun_ResampleDrawsPerLoop(t *testing.T) {
	// With tolerance 0.5 and resampling on, loop passes should not all emit
	// the same number of keys. Seeded rng keeps the test deterministic.
	sink := newFakeSink()
	actions := []recording.Action{
		{Usage: 4, Press: 0.0, Hold: 0.001},
		{Usage: 5, Press: 0.002, Hold: 0.001},
		{Usage: 6, Press: 0.004, Hold: 0.001},
	}
	ignore := map[uint16]struct{}{4: {}, 5: {}, 6: {}}

	p := New(sink)
	err := p.Run(context.Background(), actions, Options{
		Transform: transform.Options{Speed: 100.0, IgnoreTolerance: 0.5},
		LoopCount: 20,
		Resample:  true,
	}, ignore, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	total := len(sink.entries())
	if total == 0 || total == 20*6 {
		t.Errorf("got %d assertions; resampling should drop some but not all keys", total)
	}
}

func TestRun_EmptySchedule(t *testing.T) {
	sink := newFakeSink()
	if err := runOnce(t, sink, nil, Options{Transform: transform.Options{Speed: 1.0}}); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(sink.entries()) != 0 {
		t.Errorf("expected no assertions, got %v", sink.entries())
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	sink := newFakeSink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(sink)
	err := p.Run(ctx, []recording.Action{{Usage: 4, Press: 0, Hold: 0.01}},
		Options{Transform: transform.Options{Speed: 1.0}}, nil, rand.New(rand.NewSource(1)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if len(sink.entries()) != 0 {
		t.Errorf("expected no assertions, got %v", sink.entries())
	}
}

func TestHeldKeys(t *testing.T) {
	h := NewHeldKeys()

	hd := h.Press(4)
	if h.Len() != 1 {
		t.Fatalf("Len = %d, want 1", h.Len())
	}

	// Identity check: a stale hold cannot release the current one.
	stale := &Hold{done: make(chan struct{})}
	if h.Release(4, stale) {
		t.Error("stale hold released the current entry")
	}
	if !h.Release(4, hd) {
		t.Error("current hold failed to release")
	}
	if h.Release(4, hd) {
		t.Error("second release of the same hold succeeded")
	}

	hd2 := h.Press(5)
	stolen := h.Steal(5)
	if stolen != hd2 {
		t.Error("Steal returned a different hold")
	}
	select {
	case <-hd2.Done():
	default:
		t.Error("stolen hold's done channel not closed")
	}
	if h.Steal(5) != nil {
		t.Error("Steal on empty usage should return nil")
	}

	h.Press(6)
	h.Press(7)
	drained := h.Drain()
	if len(drained) != 2 {
		t.Errorf("Drain returned %d usages, want 2", len(drained))
	}
	if h.Len() != 0 {
		t.Errorf("Len = %d after Drain, want 0", h.Len())
	}
}

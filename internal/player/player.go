// Package player schedules transformed key actions against an output sink
// with correct relative timing, overlapping holds, loop repetition, and
// cancellation with guaranteed key-release cleanup.
package player

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hkondo/kbreplay/internal/recording"
	"github.com/hkondo/kbreplay/internal/transform"
)

// Options control one playback run.
type Options struct {
	Transform transform.Options
	// LoopCount is the number of independent passes; values below 1 play once.
	LoopCount int
	// Resample re-draws ignore filtering and jitter for every pass. When
	// false, one sampled schedule is replayed identically across passes.
	Resample bool
}

// Observer receives per-pass notifications. All methods are called from the
// playback goroutine and must not block.
type Observer interface {
	PassStarted(pass int)
	KeyEmitted(usage uint16)
}

// Player drives a Sink through scheduled actions. A Player runs one request
// at a time; independent requests need independent Players and sinks.
type Player struct {
	sink     Sink
	held     *HeldKeys
	observer Observer

	// sinkMu serializes sink calls and, critically, makes each HeldKeys
	// ownership decision atomic with the sink assertion that follows it.
	// A key-up that wins Release must reach the sink before a re-press of
	// the same usage can observe the empty slot and assert its down.
	sinkMu sync.Mutex
}

func (p *Player) assertUp(usage uint16) error {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	return p.sink.AssertUp(usage)
}

func New(sink Sink) *Player {
	return &Player{sink: sink, held: NewHeldKeys()}
}

// SetObserver wires an optional observer. Must be called before Run.
func (p *Player) SetObserver(o Observer) {
	p.observer = o
}

// Held exposes the currently-held key count, for status reporting.
func (p *Player) Held() int {
	return p.held.Len()
}

// Run plays the normalized action list for opts.LoopCount passes, invoking
// the transform pipeline per pass. It returns nil on completion, ctx.Err()
// on cancellation, and the first sink error on failure. On every path the
// sink ends with all keys released.
func (p *Player) Run(ctx context.Context, actions []recording.Action, opts Options, ignore map[uint16]struct{}, rng *rand.Rand) error {
	loops := opts.LoopCount
	if loops < 1 {
		loops = 1
	}

	var fixed []transform.Scheduled
	if !opts.Resample {
		fixed = transform.Apply(actions, opts.Transform, ignore, rng)
	}

	for pass := 0; pass < loops; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		schedule := fixed
		if opts.Resample {
			schedule = transform.Apply(actions, opts.Transform, ignore, rng)
		}
		if p.observer != nil {
			p.observer.PassStarted(pass)
		}
		if err := p.playOnce(ctx, schedule); err != nil {
			return err
		}
	}
	return nil
}

// playOnce walks one schedule. The walker goroutine owns the inter-action
// sleeps and the key-downs; each key-up runs deferred in its own goroutine
// at pressAt+hold. Both suspension points select on the run context, so a
// stop request is never blocked behind a long hold.
func (p *Player) playOnce(ctx context.Context, schedule []transform.Scheduled) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	start := time.Now()

	var walkErr error
	for _, a := range schedule {
		if walkErr = sleepUntil(gctx, start, a.PressAt); walkErr != nil {
			break
		}

		// A usage re-pressed while still held: force the stale hold up
		// before the new down, so the sink never sees a duplicate down.
		// Steal, forced up, the new down, and the Press all happen under
		// sinkMu as one unit; a concurrent key-up landing between them
		// would otherwise void the Steal and leave the down duplicated.
		p.sinkMu.Lock()
		if prev := p.held.Steal(a.Usage); prev != nil {
			if walkErr = p.sink.AssertUp(a.Usage); walkErr != nil {
				p.sinkMu.Unlock()
				break
			}
		}
		var hd *Hold
		if walkErr = p.sink.AssertDown(a.Usage); walkErr == nil {
			hd = p.held.Press(a.Usage)
		}
		p.sinkMu.Unlock()
		if walkErr != nil {
			break
		}
		if p.observer != nil {
			p.observer.KeyEmitted(a.Usage)
		}

		usage, holdFor := a.Usage, a.Hold
		g.Go(func() error {
			t := time.NewTimer(holdFor)
			defer t.Stop()
			select {
			case <-gctx.Done():
				return nil // the final drain releases whatever is held
			case <-hd.Done():
				return nil // stolen by a re-press or the drain
			case <-t.C:
			}
			p.sinkMu.Lock()
			defer p.sinkMu.Unlock()
			if !p.held.Release(usage, hd) {
				return nil
			}
			return p.sink.AssertUp(usage)
		})
	}

	if walkErr != nil {
		cancelRun()
	}
	upErr := g.Wait()

	// Cleanup runs on every exit path: no leaked held keys.
	drainErr := p.releaseAll()

	if err := ctx.Err(); err != nil {
		return err
	}
	if upErr != nil {
		return upErr
	}
	if walkErr != nil {
		return walkErr
	}
	return drainErr
}

// releaseAll asserts key-up for every held usage and empties the set.
// It keeps going past individual sink errors and returns the first one.
func (p *Player) releaseAll() error {
	var firstErr error
	for _, usage := range p.held.Drain() {
		if err := p.assertUp(usage); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sleepUntil suspends until `at` relative to start, or until ctx is done.
// Cancellation is checked even when no sleep is needed.
func sleepUntil(ctx context.Context, start time.Time, at time.Duration) error {
	delta := at - time.Since(start)
	if delta <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delta)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

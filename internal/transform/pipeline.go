// Package transform turns a normalized action list into the timed schedule
// for one playback pass: speed scaling, probabilistic ignore filtering, and
// bounded timing jitter.
package transform

import (
	"math/rand"
	"sort"
	"time"

	"github.com/hkondo/kbreplay/internal/recording"
)

// Scheduled is one action ready for the playback scheduler. PressAt is
// relative to the start of the pass; both values are non-negative.
type Scheduled struct {
	Usage   uint16
	PressAt time.Duration
	Hold    time.Duration
}

// Options are the per-request transform parameters. Out-of-range values are
// recovered, never rejected: Speed <= 0 falls back to 1.0 and
// IgnoreTolerance is clamped to [0, 1].
type Options struct {
	Speed           float64
	JitterTime      float64 // seconds, max absolute offset on press times
	JitterHold      float64 // seconds, max absolute offset on hold durations
	IgnoreTolerance float64 // per-occurrence drop probability for ignored keys
}

// Apply produces the schedule for a single pass. Randomness comes solely
// from rng, so a seeded generator makes the output deterministic. Call it
// once per loop iteration to re-draw filtering and jitter.
func Apply(actions []recording.Action, opts Options, ignore map[uint16]struct{}, rng *rand.Rand) []Scheduled {
	invSpeed := 1.0
	if opts.Speed > 0 {
		invSpeed = 1.0 / opts.Speed
	}

	tolerance := opts.IgnoreTolerance
	if tolerance < 0 {
		tolerance = 0
	} else if tolerance > 1 {
		tolerance = 1
	}
	filtering := tolerance > 0 && len(ignore) > 0

	out := make([]Scheduled, 0, len(actions))
	for _, a := range actions {
		press := clamp(a.Press * invSpeed)
		hold := clamp(a.Hold * invSpeed)

		if filtering {
			if _, ignorable := ignore[a.Usage]; ignorable && rng.Float64() < tolerance {
				continue
			}
		}

		if opts.JitterTime > 0 {
			press = clamp(press + uniform(rng, opts.JitterTime))
		}
		if opts.JitterHold > 0 {
			hold = clamp(hold + uniform(rng, opts.JitterHold))
		}

		out = append(out, Scheduled{
			Usage:   a.Usage,
			PressAt: seconds(press),
			Hold:    seconds(hold),
		})
	}

	// Jitter can perturb relative order; the scheduler requires press times
	// ascending with ties kept in original action order.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PressAt < out[j].PressAt
	})

	return out
}

// uniform draws from [-max, +max).
func uniform(rng *rand.Rand, max float64) float64 {
	return (rng.Float64()*2 - 1) * max
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

package transform

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkondo/kbreplay/internal/keymap"
	"github.com/hkondo/kbreplay/internal/recording"
)

func testActions() []recording.Action {
	return []recording.Action{
		{Usage: 4, Press: 0.0, Hold: 0.1},
		{Usage: 44, Press: 0.2, Hold: 0.05},
		{Usage: 5, Press: 0.4, Hold: 0.1},
		{Usage: 44, Press: 0.6, Hold: 0.05},
		{Usage: 224, Press: 0.8, Hold: 0.1},
	}
}

func usages(s []Scheduled) []uint16 {
	out := make([]uint16, len(s))
	for i, a := range s {
		out[i] = a.Usage
	}
	return out
}

func TestApply_NoTransformIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	got := Apply(testActions(), Options{Speed: 1.0}, nil, rng)

	require.Len(t, got, 5)
	assert.Equal(t, []uint16{4, 44, 5, 44, 224}, usages(got))
	assert.Equal(t, 400*time.Millisecond, got[2].PressAt)
	assert.Equal(t, 100*time.Millisecond, got[2].Hold)
}

func TestApply_SpeedScaling(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	got := Apply(testActions(), Options{Speed: 2.0}, nil, rng)

	assert.Equal(t, 100*time.Millisecond, got[1].PressAt)
	assert.Equal(t, 25*time.Millisecond, got[1].Hold)
}

func TestApply_InvalidSpeedRecoversToDefault(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, speed := range []float64{0, -1} {
		got := Apply(testActions(), Options{Speed: speed}, nil, rng)
		assert.Equal(t, 200*time.Millisecond, got[1].PressAt, "speed=%v", speed)
	}
}

func TestApply_IgnoreToleranceOne(t *testing.T) {
	// Spec scenario: ignore "a" and "space" with tolerance 1.0 drops every
	// occurrence of usages 4 and 44 deterministically.
	ignore := keymap.Resolve([]string{"a", "space"})
	require.Equal(t, map[uint16]struct{}{4: {}, 44: {}}, ignore)

	rng := rand.New(rand.NewSource(42))
	got := Apply(testActions(), Options{Speed: 1.0, IgnoreTolerance: 1.0}, ignore, rng)

	assert.Equal(t, []uint16{5, 224}, usages(got))
}

func TestApply_IgnoreToleranceZeroDropsNothing(t *testing.T) {
	ignore := keymap.Resolve([]string{"a", "space"})
	rng := rand.New(rand.NewSource(42))

	got := Apply(testActions(), Options{Speed: 1.0, IgnoreTolerance: 0.0}, ignore, rng)
	assert.Equal(t, []uint16{4, 44, 5, 44, 224}, usages(got))
}

func TestApply_UnresolvableIgnoreKeyFiltersNothing(t *testing.T) {
	// "invalid" resolves to an empty set, so tolerance 1.0 has no effect.
	ignore := keymap.Resolve([]string{"invalid"})
	require.Empty(t, ignore)

	rng := rand.New(rand.NewSource(42))
	got := Apply(testActions(), Options{Speed: 1.0, IgnoreTolerance: 1.0}, ignore, rng)
	assert.Equal(t, []uint16{4, 44, 5, 44, 224}, usages(got))
}

func TestApply_IgnoreToleranceClamped(t *testing.T) {
	ignore := map[uint16]struct{}{4: {}}
	rng := rand.New(rand.NewSource(7))

	got := Apply(testActions(), Options{Speed: 1.0, IgnoreTolerance: 5.0}, ignore, rng)
	assert.Equal(t, []uint16{44, 5, 44, 224}, usages(got))

	got = Apply(testActions(), Options{Speed: 1.0, IgnoreTolerance: -3.0}, ignore, rng)
	assert.Len(t, got, 5)
}

func TestApply_JitterClampsNonNegative(t *testing.T) {
	actions := []recording.Action{
		{Usage: 4, Press: 0.0, Hold: 0.0},
		{Usage: 5, Press: 0.001, Hold: 0.001},
	}
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 200; i++ {
		got := Apply(actions, Options{Speed: 1.0, JitterTime: 0.5, JitterHold: 0.5}, nil, rng)
		for _, a := range got {
			assert.GreaterOrEqual(t, a.PressAt, time.Duration(0))
			assert.GreaterOrEqual(t, a.Hold, time.Duration(0))
		}
	}
}

func TestApply_OutputSortedByPressAt(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 100; i++ {
		got := Apply(testActions(), Options{Speed: 1.0, JitterTime: 0.3}, nil, rng)
		for j := 1; j < len(got); j++ {
			require.LessOrEqual(t, got[j-1].PressAt, got[j].PressAt,
				"output must be sorted ascending by press time")
		}
	}
}

func TestApply_UnsortedInputSorted(t *testing.T) {
	// Storage order is arbitrary; the pipeline must not assume it.
	actions := []recording.Action{
		{Usage: 5, Press: 0.4, Hold: 0.1},
		{Usage: 4, Press: 0.0, Hold: 0.1},
		{Usage: 44, Press: 0.2, Hold: 0.05},
	}
	rng := rand.New(rand.NewSource(1))
	got := Apply(actions, Options{Speed: 1.0}, nil, rng)

	assert.Equal(t, []uint16{4, 44, 5}, usages(got))
}

func TestApply_DeterministicUnderFixedSeed(t *testing.T) {
	opts := Options{Speed: 1.5, JitterTime: 0.05, JitterHold: 0.02, IgnoreTolerance: 0.5}
	ignore := map[uint16]struct{}{44: {}}

	a := Apply(testActions(), opts, ignore, rand.New(rand.NewSource(11)))
	b := Apply(testActions(), opts, ignore, rand.New(rand.NewSource(11)))
	assert.Equal(t, a, b)
}

func TestApply_FreshDrawsPerInvocation(t *testing.T) {
	// Two passes over one shared generator differ: filtering is per-instance,
	// re-sampled each call.
	opts := Options{Speed: 1.0, IgnoreTolerance: 0.5}
	ignore := map[uint16]struct{}{4: {}, 44: {}, 5: {}, 224: {}}
	rng := rand.New(rand.NewSource(2))

	counts := make(map[int]bool)
	for i := 0; i < 50; i++ {
		counts[len(Apply(testActions(), opts, ignore, rng))] = true
	}
	assert.Greater(t, len(counts), 1, "survivor counts should vary across passes")
}

func TestApply_EmptyInput(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	got := Apply(nil, Options{Speed: 1.0}, nil, rng)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

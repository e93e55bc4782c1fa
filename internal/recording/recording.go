// Package recording loads persisted keyboard recordings and normalizes them
// into a canonical action list for playback.
package recording

import "errors"

// ErrInvalidFormat is returned when a recording carries neither of the two
// recognized shapes (an action list or a raw event stream).
var ErrInvalidFormat = errors.New("recording: unrecognized format")

// Kind tags which of the two persisted shapes a Recording carries.
// The shape is resolved exactly once at load time.
type Kind int

const (
	KindActions Kind = iota
	KindEvents
)

// Action is one replayable key press: a usage code, a press time relative to
// the recording's start, and a hold duration. Times are in seconds and are
// never negative once loaded.
type Action struct {
	Usage uint16  `json:"usage"`
	Press float64 `json:"press"`
	Hold  float64 `json:"hold"`
}

// RawEvent is one physical press or release transition, in absolute seconds
// since the recording's start.
type RawEvent struct {
	Usage uint16  `json:"usage"`
	At    float64 `json:"at"`
	Down  bool    `json:"down"`
}

// Recording is a loaded recording in exactly one of its two shapes.
// It is read-only input: Normalize copies rather than mutates.
type Recording struct {
	T0      float64
	Kind    Kind
	Actions []Action
	Events  []RawEvent
}

// Normalize converts either shape into a canonical ordered action list.
// The actions shape is copied through unchanged. The events shape pairs the
// first unmatched down for a usage with the next release of the same usage,
// in stream order; a down never released yields a zero-hold action at its
// press time.
func (r *Recording) Normalize() []Action {
	switch r.Kind {
	case KindActions:
		out := make([]Action, len(r.Actions))
		copy(out, r.Actions)
		return out
	case KindEvents:
		return pairEvents(r.Events)
	default:
		return nil
	}
}

func pairEvents(events []RawEvent) []Action {
	actions := make([]Action, 0, len(events)/2)
	// Index into actions of the open (unreleased) press per usage.
	open := make(map[uint16]int)

	for _, ev := range events {
		if ev.Down {
			if _, held := open[ev.Usage]; held {
				// Duplicate down without a release; keep the first press.
				continue
			}
			open[ev.Usage] = len(actions)
			actions = append(actions, Action{Usage: ev.Usage, Press: clampNonNegative(ev.At)})
			continue
		}
		idx, held := open[ev.Usage]
		if !held {
			// Release without a matching press; nothing to pair.
			continue
		}
		hold := ev.At - actions[idx].Press
		actions[idx].Hold = clampNonNegative(hold)
		delete(open, ev.Usage)
	}

	// Unreleased downs stay at Hold = 0.
	return actions
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

package model

import "fmt"

// PlaybackStatus is the lifecycle state of one playback session.
type PlaybackStatus string

const (
	PlaybackIdle      PlaybackStatus = "idle"
	PlaybackRunning   PlaybackStatus = "running"
	PlaybackCompleted PlaybackStatus = "completed"
	PlaybackCancelled PlaybackStatus = "cancelled"
	PlaybackFailed    PlaybackStatus = "failed"
)

var terminalPlaybackStatuses = map[PlaybackStatus]bool{
	PlaybackCompleted: true,
	PlaybackCancelled: true,
	PlaybackFailed:    true,
}

// Session transitions: idle → running → completed|cancelled|failed
var validPlaybackTransitions = map[PlaybackStatus]map[PlaybackStatus]bool{
	PlaybackIdle: {
		PlaybackRunning:   true,
		PlaybackCancelled: true, // stop request lands before the first action fires
	},
	PlaybackRunning: {
		PlaybackCompleted: true,
		PlaybackCancelled: true,
		PlaybackFailed:    true,
	},
}

func IsTerminal(s PlaybackStatus) bool {
	return terminalPlaybackStatuses[s]
}

func ValidatePlaybackTransition(from, to PlaybackStatus) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validPlaybackTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid playback transition: %q → %q", from, to)
	}
	return nil
}

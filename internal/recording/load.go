package recording

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// Load reads and parses a recording file. See Parse for format rules.
func Load(path string, maxBytes int) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, fmt.Errorf("recording %s exceeds max size: %d > %d bytes", path, len(data), maxBytes)
	}
	rec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", path, err)
	}
	return rec, nil
}

// Parse decodes a JSON recording object. The object must carry exactly one
// of the two recognized shapes: an "actions" array of {usage, press, hold}
// or an "events" array of {usage, at, down}. Anything else is
// ErrInvalidFormat. Missing or negative numeric fields are coerced to zero
// rather than rejected; recordings come from heterogeneous producers.
func Parse(data []byte) (*Recording, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidFormat
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, ErrInvalidFormat
	}

	actions := root.Get("actions")
	events := root.Get("events")

	switch {
	case actions.IsArray() && !events.Exists():
		return parseActions(root, actions), nil
	case events.IsArray() && !actions.Exists():
		return parseEvents(root, events), nil
	default:
		return nil, ErrInvalidFormat
	}
}

func parseActions(root, arr gjson.Result) *Recording {
	rec := &Recording{
		T0:   clampNonNegative(root.Get("t0").Float()),
		Kind: KindActions,
	}
	arr.ForEach(func(_, item gjson.Result) bool {
		rec.Actions = append(rec.Actions, Action{
			Usage: uint16(item.Get("usage").Uint()),
			Press: clampNonNegative(item.Get("press").Float()),
			Hold:  clampNonNegative(item.Get("hold").Float()),
		})
		return true
	})
	return rec
}

func parseEvents(root, arr gjson.Result) *Recording {
	rec := &Recording{
		T0:   clampNonNegative(root.Get("t0").Float()),
		Kind: KindEvents,
	}
	arr.ForEach(func(_, item gjson.Result) bool {
		rec.Events = append(rec.Events, RawEvent{
			Usage: uint16(item.Get("usage").Uint()),
			At:    clampNonNegative(item.Get("at").Float()),
			Down:  item.Get("down").Bool(),
		})
		return true
	})
	return rec
}

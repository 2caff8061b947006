package copilot

import (
	"bytes"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"time"
)

var errMissingType = errors.New("frame has no type")

// wireEvent is the inbound frame layout.
type wireEvent struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Data      EventData  `json:"data"`
}

// Decode parses one frame. It returns ok=false for blank lines, which carry no event.
// Anything else that is not a JSON object with a type yields a *DecodeError.
func Decode(line []byte) (ev Event, ok bool, err error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Event{}, false, nil
	}

	var w wireEvent
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Event{}, true, &DecodeError{Line: string(trimmed), Err: err}
	}
	if w.Type == "" {
		return Event{}, true, &DecodeError{Line: string(trimmed), Err: errMissingType}
	}

	ts := time.Now()
	if w.Timestamp != nil {
		ts = *w.Timestamp
	}
	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)

	return Event{
		Type:      EventType(w.Type),
		SessionID: w.SessionID,
		RequestID: w.RequestID,
		Timestamp: ts,
		Data:      w.Data,
		Raw:       raw,
	}, true, nil
}

// Events decodes frames lazily, in the order they arrive. A malformed frame
// yields an EventDecodeError event and decoding continues with the next one.
func Events(frames iter.Seq[[]byte], log *slog.Logger) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for line := range frames {
			ev, ok, err := Decode(line)
			if !ok {
				continue
			}
			if err != nil {
				log.Warn("failed to decode frame", "error", err)
				ev = Event{
					Type:      EventDecodeError,
					Timestamp: time.Now(),
					Raw:       json.RawMessage(bytes.Clone(line)),
					Err:       err,
				}
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// truncateForLog truncates long strings for log messages
func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

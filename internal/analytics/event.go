// Package analytics holds the page-view event model, the ingestion path that
// appends events to an EventStore and the aggregation that turns the stored
// log into a Snapshot for the dashboard.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultCapacity is the number of events the log keeps before evicting
// the oldest ones.
const DefaultCapacity = 10000

// isoLayout matches the output of JavaScript's Date.toISOString, which is
// what browsers send and what the dashboard expects to read back.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Event is one page view or custom action reported by the browser.
// An empty EventName means a plain page view.
type Event struct {
	Path      string         `json:"path"`
	Referrer  string         `json:"referrer,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Timestamp string         `json:"timestamp"`
	EventName string         `json:"eventName,omitempty"`
	EventData map[string]any `json:"eventData,omitzero"`
}

// Kind returns "pageview" or "custom".
func (e Event) Kind() string {
	if e.EventName == "" {
		return "pageview"
	}
	return "custom"
}

// Time parses the event timestamp. ok is false when it is not a valid
// ISO-8601 instant.
func (e Event) Time() (t time.Time, ok bool) {
	return ParseTimestamp(e.Timestamp)
}

// Input is a raw beacon submission. ClientIP is request metadata used for
// metrics only and is never persisted.
type Input struct {
	Path      string         `json:"path"`
	Referrer  string         `json:"referrer"`
	UserAgent string         `json:"userAgent"`
	Timestamp string         `json:"timestamp"`
	EventName string         `json:"eventName"`
	EventData map[string]any `json:"eventData"`
	ClientIP  string         `json:"-"`
}

// DecodeInput decodes one beacon submission. A field holding the wrong JSON
// type is left empty and the rest of the submission is kept, so a bad
// optional field never drops the event. Syntax errors are returned.
func DecodeInput(data []byte) (Input, error) {
	var in Input
	err := json.Unmarshal(data, &in)
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return in, nil
	}
	return in, err
}

// EventStore is the durable, capacity-bounded, ordered event log.
//
// ReadAll returns events in arrival order; an absent log is not an error and
// yields an empty slice. Append and Replace enforce the capacity by dropping
// the oldest events first.
type EventStore interface {
	Append(ctx context.Context, e Event) error
	ReadAll(ctx context.Context) ([]Event, error)
	Replace(ctx context.Context, events []Event) error
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 instant. Values without a zone are read
// as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way browsers serialise dates.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// Normalize validates in and converts it to an Event. Empty optional strings
// become absent fields and a missing timestamp is replaced with now. Other
// timestamps are kept as sent; Compute leaves unparseable ones out of the
// windowed counts.
func Normalize(in Input, now time.Time) (Event, error) {
	if in.Path == "" {
		return Event{}, ErrPathRequired
	}
	e := Event{
		Path:      in.Path,
		Referrer:  in.Referrer,
		UserAgent: in.UserAgent,
		Timestamp: in.Timestamp,
		EventName: in.EventName,
		EventData: in.EventData,
	}
	if e.Timestamp == "" {
		e.Timestamp = FormatTimestamp(now)
	}
	return e, nil
}

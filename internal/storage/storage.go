// Package storage persists the analytics event log. Two backends implement
// the same contract: a single pretty-printed JSON document (the default) and
// an embedded SQLite table.
package storage

import (
	"context"
	"fmt"

	"github.com/dustin/sitepulse/internal/analytics"
)

// Backend is an analytics.EventStore with the housekeeping the server and
// metrics need.
type Backend interface {
	analytics.EventStore
	Len(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Kind names a storage backend.
type Kind string

const (
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Kind     Kind
	Path     string
	Capacity int
}

// Open returns the backend described by opts.
func Open(opts Options) (Backend, error) {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = analytics.DefaultCapacity
	}
	switch opts.Kind {
	case KindFile, "":
		return NewFileStore(opts.Path, capacity), nil
	case KindSQLite:
		return NewSQLStore(opts.Path, capacity)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Kind)
	}
}

// keepNewest trims events to the newest capacity entries.
func keepNewest(events []analytics.Event, capacity int) []analytics.Event {
	if capacity > 0 && len(events) > capacity {
		return events[len(events)-capacity:]
	}
	return events
}

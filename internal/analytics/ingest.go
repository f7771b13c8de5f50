package analytics

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrPathRequired is returned by Ingest when the submission has no path.
var ErrPathRequired = errors.New("path is required")

// Recorder observes ingestion outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordIngest(e Event, clientIP string)
	RecordIngestFailure()
	RecordIngestRejected()
}

// Publisher receives every event after it has been stored.
type Publisher interface {
	Publish(e Event)
}

// Ingestor appends beacon submissions to the event log.
type Ingestor struct {
	store EventStore
	rec   Recorder
	pub   Publisher
	now   func() time.Time
}

// NewIngestor returns an Ingestor writing to store. rec and pub may be nil.
func NewIngestor(store EventStore, rec Recorder, pub Publisher) *Ingestor {
	return &Ingestor{
		store: store,
		rec:   rec,
		pub:   pub,
		now:   time.Now,
	}
}

// Ingest validates and stores one event. The only error it returns is
// ErrPathRequired: storage failures are logged and counted but the caller
// still sees success, so analytics can never break the page that sent the
// beacon. The write is detached from ctx cancellation so an event survives
// a client that hangs up early.
func (i *Ingestor) Ingest(ctx context.Context, in Input) error {
	e, err := Normalize(in, i.now())
	if err != nil {
		if i.rec != nil {
			i.rec.RecordIngestRejected()
		}
		return err
	}
	if _, ok := e.Time(); !ok {
		slog.Debug("storing event with unparseable timestamp", "timestamp", e.Timestamp, "path", e.Path)
	}

	if err := i.store.Append(context.WithoutCancel(ctx), e); err != nil {
		slog.Error("analytics tracking failed", "path", e.Path, "event", e.EventName, "error", err)
		if i.rec != nil {
			i.rec.RecordIngestFailure()
		}
		return nil
	}

	if i.rec != nil {
		i.rec.RecordIngest(e, in.ClientIP)
	}
	if i.pub != nil {
		i.pub.Publish(e)
	}
	return nil
}

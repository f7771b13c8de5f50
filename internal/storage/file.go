package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/sitepulse/internal/analytics"
)

// FileStore keeps the whole event log in one JSON array on disk. Every
// operation reads the full document; writes go through a temp file and a
// rename so a reader never sees a half-written log.
type FileStore struct {
	path     string
	capacity int
	mu       sync.RWMutex
}

// NewFileStore returns a store backed by path. The file and its directory are
// created on first write.
func NewFileStore(path string, capacity int) *FileStore {
	return &FileStore{path: path, capacity: capacity}
}

// Path returns the location of the JSON document.
func (s *FileStore) Path() string {
	return s.path
}

// Append adds e to the end of the log, evicting the oldest events past
// capacity. A corrupt document is moved aside and the log restarts empty.
func (s *FileStore) Append(ctx context.Context, e analytics.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.read()
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
			return err
		}
		if qerr := s.quarantine(); qerr != nil {
			return fmt.Errorf("quarantine corrupt log: %w", qerr)
		}
		events = nil
	}

	events = append(events, e)
	return s.write(keepNewest(events, s.capacity))
}

// ReadAll returns the log in arrival order. A missing file yields no events.
func (s *FileStore) ReadAll(ctx context.Context) ([]analytics.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read()
}

// Replace overwrites the log with the newest capacity entries of events.
func (s *FileStore) Replace(ctx context.Context, events []analytics.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if events == nil {
		events = []analytics.Event{}
	}
	return s.write(keepNewest(events, s.capacity))
}

// Len returns the number of stored events.
func (s *FileStore) Len(ctx context.Context) (int, error) {
	events, err := s.ReadAll(ctx)
	return len(events), err
}

// Ping checks that the log, if present, can be inspected.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read() ([]analytics.Event, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	var events []analytics.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode event log: %w", err)
	}
	return events, nil
}

func (s *FileStore) write(events []analytics.Event) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	buf, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("encode event log: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp log: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace event log: %w", err)
	}
	return nil
}

func (s *FileStore) quarantine() error {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	slog.Warn("event log is corrupt, moving it aside", "path", s.path, "moved_to", dst)
	return os.Rename(s.path, dst)
}

// Package follow feeds newline-delimited JSON beacon events from a file into
// the ingestion path, either once or by tailing the file.
package follow

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hpcloud/tail"

	"github.com/dustin/sitepulse/internal/analytics"
)

const maxLineBytes = 1 << 20

// Ingester is the part of analytics.Ingestor the follower needs.
type Ingester interface {
	Ingest(ctx context.Context, in analytics.Input) error
}

// Result counts what happened to the lines of one import.
type Result struct {
	Lines    int
	Ingested int
	Skipped  int
}

// ParseLine decodes one NDJSON line. Blank lines return ok false and no error.
func ParseLine(line string) (in analytics.Input, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return analytics.Input{}, false, nil
	}
	in, err = analytics.DecodeInput([]byte(line))
	if err != nil {
		return analytics.Input{}, false, fmt.Errorf("decode line: %w", err)
	}
	return in, true, nil
}

// Import ingests every line of r.
func Import(ctx context.Context, r io.Reader, ing Ingester) (Result, error) {
	var res Result
	err := scan(ctx, r, func(in analytics.Input) {
		if err := ing.Ingest(ctx, in); err != nil {
			res.Skipped++
			return
		}
		res.Ingested++
	}, &res)
	return res, err
}

// ImportFile ingests every line of the file at path.
func ImportFile(ctx context.Context, path string, ing Ingester) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	return Import(ctx, f, ing)
}

// ReadEvents decodes and normalises every line of r without storing
// anything. Lines without a path are skipped.
func ReadEvents(ctx context.Context, r io.Reader, now time.Time) ([]analytics.Event, Result, error) {
	var res Result
	var events []analytics.Event
	err := scan(ctx, r, func(in analytics.Input) {
		e, err := analytics.Normalize(in, now)
		if err != nil {
			res.Skipped++
			return
		}
		events = append(events, e)
		res.Ingested++
	}, &res)
	return events, res, err
}

func scan(ctx context.Context, r io.Reader, handle func(analytics.Input), res *Result) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		in, ok, err := ParseLine(sc.Text())
		if err != nil {
			res.Lines++
			res.Skipped++
			slog.Debug("skipping malformed beacon line", "line", res.Lines, "error", err)
			continue
		}
		if !ok {
			continue
		}
		res.Lines++
		handle(in)
	}
	return sc.Err()
}

// Options controls Follow.
type Options struct {
	// FromStart reads the existing content first instead of only new lines.
	FromStart bool
	// Poll uses polling instead of inotify, for filesystems without events.
	Poll bool
}

// Follow tails path, reopening it after rotation, and ingests each new line
// until ctx is cancelled. The file does not need to exist yet.
func Follow(ctx context.Context, path string, ing Ingester, opts Options) error {
	loc := &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	if opts.FromStart {
		loc = &tail.SeekInfo{Offset: 0, Whence: io.SeekStart}
	}
	t, err := tail.TailFile(path, tail.Config{
		ReOpen:    true,
		Follow:    true,
		Poll:      opts.Poll,
		Logger:    tail.DiscardingLogger,
		MustExist: false,
		Location:  loc,
	})
	if err != nil {
		return fmt.Errorf("tail %s: %w", path, err)
	}
	defer t.Cleanup()

	slog.Info("following beacon log", "path", path)
	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				slog.Warn("beacon log read error", "path", path, "error", line.Err)
				continue
			}
			in, ok, err := ParseLine(line.Text)
			if err != nil {
				slog.Warn("skipping malformed beacon line", "path", path, "error", err)
				continue
			}
			if !ok {
				continue
			}
			if err := ing.Ingest(ctx, in); err != nil && !errors.Is(err, analytics.ErrPathRequired) {
				slog.Warn("beacon ingest failed", "path", path, "error", err)
			}
		}
	}
}

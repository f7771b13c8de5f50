package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dustin/sitepulse/internal/analytics"
	"github.com/dustin/sitepulse/internal/config"
	"github.com/dustin/sitepulse/internal/follow"
	"github.com/dustin/sitepulse/internal/storage"
)

type importOptions struct {
	follow  bool
	replace bool
	poll    bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load newline-delimited JSON beacon events into the store",
		Long: `Load a file holding one beacon JSON object per line. Each line goes
through the same validation as POST /api/track; malformed lines are skipped.

With --replace the file becomes the whole log (newest events kept up to
MAX_EVENTS). With --follow the file keeps being read as it grows until
interrupted.`,
		Example: `  sitepulse import beacons.ndjson
  sitepulse import --replace backup.ndjson
  sitepulse import --follow /var/log/caddy/beacons.log`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd.OutOrStdout(), loadConfig(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.follow, "follow", false, "keep reading new lines until interrupted")
	cmd.Flags().BoolVar(&opts.replace, "replace", false, "replace the stored log instead of appending")
	cmd.Flags().BoolVar(&opts.poll, "poll", false, "poll for changes instead of using file events (with --follow)")
	return cmd
}

func runImport(ctx context.Context, w io.Writer, cfg config.Config, path string, opts importOptions) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	ingestor := analytics.NewIngestor(store, nil, nil)

	switch {
	case opts.replace:
		res, err := replaceLog(ctx, store, path)
		if err != nil {
			return err
		}
		printResult(ctx, w, store, res)
	case !opts.follow:
		res, err := follow.ImportFile(ctx, path, ingestor)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		printResult(ctx, w, store, res)
	}

	if !opts.follow {
		return nil
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// After --replace the existing content is already stored.
	return follow.Follow(ctx, path, ingestor, follow.Options{FromStart: !opts.replace, Poll: opts.poll})
}

func replaceLog(ctx context.Context, store storage.Backend, path string) (follow.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return follow.Result{}, fmt.Errorf("import %s: %w", path, err)
	}
	defer f.Close()

	events, res, err := follow.ReadEvents(ctx, f, time.Now())
	if err != nil {
		return res, fmt.Errorf("import %s: %w", path, err)
	}
	if err := store.Replace(ctx, events); err != nil {
		return res, fmt.Errorf("replace log: %w", err)
	}
	return res, nil
}

func printResult(ctx context.Context, w io.Writer, store storage.Backend, res follow.Result) {
	fmt.Fprintf(w, "lines: %d  ingested: %d  skipped: %d\n", res.Lines, res.Ingested, res.Skipped)
	if n, err := store.Len(ctx); err == nil {
		fmt.Fprintf(w, "events stored: %d\n", n)
	}
}

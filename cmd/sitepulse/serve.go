package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dustin/sitepulse/internal/analytics"
	"github.com/dustin/sitepulse/internal/config"
	"github.com/dustin/sitepulse/internal/contact"
	"github.com/dustin/sitepulse/internal/content"
	"github.com/dustin/sitepulse/internal/follow"
	"github.com/dustin/sitepulse/internal/geo"
	"github.com/dustin/sitepulse/internal/metrics"
	"github.com/dustin/sitepulse/internal/server"
	"github.com/dustin/sitepulse/internal/sse"
	"github.com/dustin/sitepulse/internal/version"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. When BEACON_LOG_PATH is set, beacon lines
appended to that file are ingested as they arrive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), loadConfig())
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	geoLookup, err := geo.Open(cfg.GeoIPDBPath)
	if err != nil {
		slog.Warn("geo disabled", "path", cfg.GeoIPDBPath, "error", err)
		geoLookup = nil
	}
	defer geoLookup.Close()

	hub := sse.NewHub()
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.Options{
		StoreLen: func() int {
			n, err := store.Len(context.Background())
			if err != nil {
				slog.Debug("store length unavailable", "error", err)
			}
			return n
		},
		SSEClients: hub.ClientCount,
		Country:    geoLookup.Country,
	})
	if err := m.Register(reg); err != nil {
		return err
	}

	ingestor := analytics.NewIngestor(store, m, hub)
	mail := contact.FromConfig(cfg.Mail, m)

	srv := server.New(cfg, server.Deps{
		Ingestor:   ingestor,
		Aggregator: analytics.NewAggregator(store, cfg.AdminToken),
		Store:      store,
		Hub:        hub,
		Contact:    mail,
		Content:    content.NewStore(cfg.GeneratedContentPath()),
		Metrics:    m,
		Gatherer:   reg,
	})
	defer srv.Close()

	if cfg.BeaconLogPath != "" {
		go func() {
			if err := follow.Follow(ctx, cfg.BeaconLogPath, ingestor, follow.Options{}); err != nil {
				slog.Error("beacon follower stopped", "error", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		// Open event streams end with the signal context instead of holding
		// Shutdown until its timeout.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening",
			"addr", cfg.ListenAddr,
			"version", version.Version,
			"store", cfg.StoreBackend,
			"stats_enabled", cfg.StatsEnabled(),
			"mail_providers", mail.Providers(),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}

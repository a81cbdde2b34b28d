package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/introspect-labs/introspect/internal/alert"
	"github.com/introspect-labs/introspect/internal/analysis"
	"github.com/introspect-labs/introspect/internal/config"
	"github.com/introspect-labs/introspect/internal/outbox"
	"github.com/introspect-labs/introspect/internal/profile"
	"github.com/introspect-labs/introspect/internal/resilience"
	"github.com/introspect-labs/introspect/internal/server"
	"github.com/introspect-labs/introspect/internal/session"
	"github.com/introspect-labs/introspect/internal/tasks"
	"github.com/introspect-labs/introspect/internal/telemetry"
	"github.com/introspect-labs/introspect/pkg/types"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the introspect server: HTTP API, outbox relay, and analysis workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		return fmt.Errorf("creating alert dispatcher: %w", err)
	}
	alertFn := dispatcher.AlertFunc()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	str, err := newStream(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	defer func() { _ = str.Close() }()

	// Breakers alert when a dependency circuit opens.
	breakers := resilience.NewRegistry(breakerConfig(cfg.Guard), logger, func(name, from, to string) {
		if to != "open" {
			return
		}
		alertFn(context.Background(), types.Alert{
			Level:     types.AlertLevelWarning,
			Category:  "circuit_open",
			Message:   fmt.Sprintf("circuit for %s opened (was %s)", name, from),
			Timestamp: time.Now(),
		})
	})

	registry := tasks.NewRegistry(ctx, logger)

	relay := outbox.NewRelay(store, str, relayConfig(cfg.Relay), alertFn, logger)

	coordinator := analysis.NewCoordinator(
		store,
		analysis.NewTiers(cfg.Analysis.Tiers),
		breakers,
		retryPolicy(cfg.Guard),
		registry,
		analysis.Config{
			InstantTimeout: types.ParseDurationDefault(cfg.Analysis.InstantTimeout, 0),
			DeepTimeout:    types.ParseDurationDefault(cfg.Analysis.DeepTimeout, 0),
		},
		alertFn,
		logger,
	)

	sessions := session.NewService(store, logger)

	addr := ":3000"
	if cfg.Server != nil && cfg.Server.Addr != "" {
		addr = cfg.Server.Addr
	}
	srv := server.New(addr, sessions, store, breakers, registry)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return relay.Run(gctx)
	})

	for i := 0; i < cfg.Analysis.Consumers; i++ {
		consumer := fmt.Sprintf("%s-%d", hostname(), i)
		g.Go(func() error {
			return str.Consume(gctx, cfg.Analysis.Group, consumer, coordinator.Handle)
		})
	}

	if cfg.Profile.Enabled {
		profiles := profile.NewConsumer(store, logger)
		consumer := hostname() + "-profile"
		g.Go(func() error {
			return str.Consume(gctx, cfg.Profile.Group, consumer, profiles.Handle)
		})
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		cancel()
		_ = g.Wait()
		return err
	case err := <-waitErr(g):
		color.Red("worker failed: %v", err)
		cancel()
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
	}

	drainTimeout := types.ParseDurationDefault(cfg.Shutdown.DrainTimeout, 30*time.Second)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	cancel()
	_ = g.Wait()

	// In-flight deep analyses finish before the process exits; their
	// completion events are already in the outbox or never will be.
	if err := registry.Drain(shutdownCtx); err != nil {
		logger.Warn("background drain incomplete", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}

	color.Green("Server stopped gracefully")
	return nil
}

func waitErr(g *errgroup.Group) <-chan error {
	ch := make(chan error, 1)
	go func() {
		if err := g.Wait(); err != nil && err != context.Canceled {
			ch <- err
		}
	}()
	return ch
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "introspect"
}

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/introspect-labs/introspect/internal/alert"
	"github.com/introspect-labs/introspect/internal/config"
	"github.com/introspect-labs/introspect/internal/outbox"
)

// NewRelayCmd creates the relay command, which runs the outbox relay on
// its own. Useful when the relay is scaled independently of the API.
func NewRelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the outbox relay without the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay()
		},
	}
}

func runRelay() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		return fmt.Errorf("creating alert dispatcher: %w", err)
	}

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

	relay := outbox.NewRelay(store, str, relayConfig(cfg.Relay), dispatcher.AlertFunc(), logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		color.Yellow("\nReceived %s, shutting down...", sig)
		cancel()
	}()

	color.Green("Relay running")
	if err := relay.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/introspect-labs/introspect/internal/config"
	"github.com/introspect-labs/introspect/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show outbox backlog by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	counts, err := store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("reading outbox counts: %w", err)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Println("Outbox:")

	pending := counts[types.OutboxPending]
	published := counts[types.OutboxPublished]
	failed := counts[types.OutboxFailed]

	fmt.Printf("  pending:   %s\n", color.YellowString("%d", pending))
	fmt.Printf("  published: %s\n", color.GreenString("%d", published))
	if failed > 0 {
		fmt.Printf("  failed:    %s\n", color.RedString("%d", failed))
	} else {
		fmt.Printf("  failed:    %d\n", failed)
	}
	return nil
}

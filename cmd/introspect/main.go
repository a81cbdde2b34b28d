package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/introspect-labs/introspect/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "introspect",
		Short: "Event substrate for AI-assisted coaching sessions",
		Long: `Introspect records coaching answers with a transactional outbox and
relays them to a partitioned event stream. Analysis workers consume the
stream, run a bounded instant pass and a background deep pass through a
guarded model fallback chain, and emit results back through the outbox.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewMigrateCmd(),
		commands.NewServeCmd(),
		commands.NewRelayCmd(),
		commands.NewStatusCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

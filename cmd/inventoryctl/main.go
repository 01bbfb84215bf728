// Command inventoryctl runs the inventory mail agent outside Lambda: it polls
// a mailbox, seeds and inspects the inventory database, and answers a single
// request from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"inventory-agent/internal/repository"
	"inventory-agent/internal/usecase"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	dbPath      string
	verbose     bool
	callTimeout time.Duration
	log         *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "inventoryctl",
		Short:         "Answer inventory questions received by email",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.log = newLogger(cmd.ErrOrStderr(), opts.verbose)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("INVENTORY_DB", "inventory.db"), "SQLite inventory database (env INVENTORY_DB)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().DurationVar(&opts.callTimeout, "call-timeout", 10*time.Second, "Deadline for each store and mail call")

	root.AddCommand(
		newPollCmd(opts),
		newSeedCmd(opts),
		newAskCmd(opts),
		newStatsCmd(opts),
	)
	return root
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *globalOptions) openStore(ctx context.Context) (*repository.InventoryStore, error) {
	store, err := repository.OpenInventory(ctx, o.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open inventory %s: %w", o.dbPath, err)
	}
	return store, nil
}

func (o *globalOptions) newProcessService(store usecase.InventoryStore, mailer usecase.Mailer, extra ...usecase.Option) (*usecase.ProcessService, error) {
	opts := append([]usecase.Option{usecase.WithCallTimeout(o.callTimeout)}, extra...)
	return usecase.NewProcessService(store, mailer, o.log, opts...)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// closeWith joins a deferred Close error into *errp.
func closeWith(errp *error, c io.Closer, what string) {
	if err := c.Close(); err != nil {
		*errp = errors.Join(*errp, fmt.Errorf("close %s: %w", what, err))
	}
}

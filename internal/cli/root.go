package cli

import (
	"context"
	"time"

	"github.com/smallbiznis/docflow/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const startTimeout = 30 * time.Second

// NewRootCmd builds the docflow command tree. Running it without a
// subcommand serves the HTTP API.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docflow",
		Short: "Document numbering and tax computation service",
		Long: `docflow issues estimates, purchase orders, order confirmations,
delivery notes and invoices with gap-free monthly numbering.

By default, running docflow without arguments serves the HTTP API.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSequenceCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	app := fx.New(
		coreOptions(true),
		domainOptions(),
		server.Module,
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), coreOptions(false))
		},
	}
}

// runOnce starts and stops an app, so its invokes run and its resources close.
func runOnce(ctx context.Context, opts ...fx.Option) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	return app.Stop(context.WithoutCancel(ctx))
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"flowdeck/backend/internal/app"
	"flowdeck/backend/internal/config"
	"flowdeck/backend/internal/logging"
	"flowdeck/backend/internal/repository"
	"flowdeck/backend/internal/session"
)

// Actor is the audit user name of changes made with flowctl.
const Actor = "flowctl"

type options struct {
	envFile string
	asJSON  bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Inspect and change dashboard workflows",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env", "", "Path to .env file")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print raw JSON")

	root.AddCommand(
		newWorkflowsCmd(opts),
		newScheduleCmd(opts),
		newActiveCmd(opts, "activate", true),
		newActiveCmd(opts, "deactivate", false),
		newExecuteCmd(opts),
		newAuditCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

func loadConfig(opts *options) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(opts.envFile)
	if err != nil {
		return nil, nil, err
	}
	// Request logs would interleave with command output.
	level := cfg.Log.Level
	if level == "" || level == "info" {
		level = "warn"
	}
	logger := logging.New(logging.Options{Level: level, Format: cfg.Log.Format, File: cfg.Log.File})
	return cfg, logger, nil
}

// withApp builds the application and runs fn with a system session.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app.App, sess *session.Session) error) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.Upstream.APIKey == "" {
		return errors.New("upstream.api_key is not configured")
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a, session.NewSystem(cfg.Upstream.APIKey, Actor))
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the audit log schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			pool, err := app.InitDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.NewPostgresAuditStore(pool).Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "audit schema is up to date")
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

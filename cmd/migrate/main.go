package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yerniteja1/deploykit/internal/app/migrate"
	"github.com/yerniteja1/deploykit/pkg/config"
	"github.com/yerniteja1/deploykit/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		timeout time.Duration
		dir     string
		envFile string
	)
	log := logger.New("migrate", slog.LevelInfo)

	withRunner := func(fn func(context.Context, migrate.Runner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				log.Error("failed to load env file", "path", envFile, "error", err)
				return err
			}
			cfg := config.LoadAPIConfig()
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			runner, err := migrate.New(cfg.DatabaseURL, dir, log)
			if err != nil {
				log.Error("failed to configure migration runner", "error", err)
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := fn(ctx, runner); err != nil {
				log.Error("migration command failed", "command", cmd.Name(), "error", err)
				return err
			}
			log.Info("migration command completed", "command", cmd.Name())
			return nil
		}
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the deploykit database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "command timeout")
	root.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (defaults to DB_MIGRATIONS_DIR, then embedded)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to preload")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			return r.Ensure(ctx)
		}),
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			return r.Status(ctx)
		}),
	}

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration or down to --target",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			return r.Down(ctx, target)
		}),
	}
	down.Flags().Int64Var(&target, "target", 0, "target version (optional)")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			v, err := r.Version(ctx)
			if err != nil {
				return err
			}
			log.Info("schema version", "version", v)
			return nil
		}),
	}

	root.AddCommand(up, status, down, version)
	return root
}

package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/untibullet/teamhub/internal/config"
	"github.com/untibullet/teamhub/internal/migrate"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, r *migrate.Runner) error {
				return r.Up(ctx)
			})
		},
	}

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration, or every migration above --to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, r *migrate.Runner) error {
				return r.Down(ctx, target)
			})
		},
	}
	down.Flags().Int64Var(&target, "to", 0, "target version to roll back to")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), func(ctx context.Context, r *migrate.Runner) error {
				states, err := r.Status(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
				for _, s := range states {
					state, at := "pending", "-"
					if s.Applied {
						state, at = "applied", s.AppliedAt.Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, state, at, s.Path)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func withRunner(ctx context.Context, fn func(ctx context.Context, r *migrate.Runner) error) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Storage.Driver != config.DriverPostgres {
		return fmt.Errorf("migrations require storage.driver=%s, got %q", config.DriverPostgres, cfg.Storage.Driver)
	}

	pool, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	runner, err := migrate.New(pool, logger)
	if err != nil {
		return err
	}
	if err := fn(ctx, runner); err != nil {
		logger.Error("migration command failed", zap.Error(err))
		return err
	}
	return nil
}

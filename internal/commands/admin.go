package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jask/tesouraria/internal/config"
	"github.com/jask/tesouraria/internal/database"
	"github.com/jask/tesouraria/internal/database/repository"
	"github.com/jask/tesouraria/internal/service"
	"github.com/jask/tesouraria/internal/testdata"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				path = filepath.Join(os.Getenv("HOME"), ".config", "tesouraria", "config.toml")
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and seed default count categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context) error {
				v, dirty, err := database.SchemaVersion(a.cfg.Database.Path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
				return nil
			})
		},
	}
}

func newSeedCommand(a *app) *cobra.Command {
	var opts testdata.Options
	var start string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a deterministic demo ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireOrg(); err != nil {
				return err
			}
			opts.OrgID = a.orgID
			if start != "" {
				d, err := parseDay("start", start)
				if err != nil {
					return err
				}
				opts.Start = d
			}
			return a.withDB(cmd, func(ctx context.Context) error {
				var res testdata.Result
				err := database.WithTx(ctx, a.db, func(tx *sql.Tx) error {
					var err error
					res, err = testdata.Seed(ctx, repository.NewStore(tx), opts)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d statement lines and %d transactions\n", res.Statements, res.Transactions)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.AccountID, "account", "conta-corrente", "account id")
	cmd.Flags().StringVar(&start, "start", "", "first day of the seeded month (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&opts.Noise, "noise", 5, "unmatched filler rows per side")
	return cmd
}

func newWatchCommand(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Regenerate suggestions for configured targets on an interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context) error {
				s := &service.Scheduler{
					Reconciler: a.reconciler,
					Counting:   a.counting,
					Interval:   a.cfg.Scheduler.Interval,
					Log:        a.log,
				}
				if interval > 0 {
					s.Interval = interval
				}
				for _, t := range a.cfg.Scheduler.Targets {
					s.Targets = append(s.Targets, service.Target{OrgID: t.OrgID, BranchID: t.BranchID, AccountID: t.AccountID})
				}
				if len(s.Targets) == 0 {
					return fmt.Errorf("no scheduler.targets configured")
				}
				a.log.WithField("targets", len(s.Targets)).WithField("interval", s.Interval.String()).Info("watching")
				if err := s.Run(ctx); err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "override scheduler.interval")
	return cmd
}

func newResetCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all ledger, suggestion and session data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			return a.withDB(cmd, func(ctx context.Context) error {
				if err := (&service.MaintenanceService{DB: a.db}).Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "all data removed")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

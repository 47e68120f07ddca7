package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jask/tesouraria/internal/config"
	"github.com/jask/tesouraria/internal/database"
	"github.com/jask/tesouraria/internal/logging"
	"github.com/jask/tesouraria/internal/service"
)

// app is the state shared by subcommands once the root has loaded config and
// opened the database.
type app struct {
	configPath string
	orgID      string
	actor      string

	cfg        config.Config
	log        *logrus.Logger
	db         *sql.DB
	reconciler *service.Reconciler
	counting   *service.CountingService
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "tesouraria",
		Short: "Bank statement reconciliation and offering counts",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $HOME/.config/tesouraria/config.toml)")
	rootCmd.PersistentFlags().StringVar(&a.orgID, "org", os.Getenv("TESOURARIA_ORG"), "organization id")
	rootCmd.PersistentFlags().StringVar(&a.actor, "actor", os.Getenv("USER"), "acting user id")

	rootCmd.AddCommand(
		newConfigCommand(a),
		newMigrateCommand(a),
		newSeedCommand(a),
		newGenerateCommand(a, false),
		newGenerateCommand(a, true),
		newSuggestionsCommand(a),
		newAcceptCommand(a),
		newRejectCommand(a),
		newUndoCommand(a),
		newSessionCommand(a),
		newWatchCommand(a),
		newResetCommand(a),
	)
	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// load reads config and builds the logger. It does not touch the database.
func (a *app) load() error {
	if a.log != nil {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(cfg.Log.Level, cfg.Log.Format)
	a.log.SetOutput(os.Stderr)
	return nil
}

// open loads config, migrates and opens the database, and wires the services.
func (a *app) open(ctx context.Context) error {
	if err := a.load(); err != nil {
		return err
	}
	if a.db != nil {
		return nil
	}
	path := a.cfg.Database.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(path); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if err := database.SeedDefaults(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("seed defaults: %w", err)
	}
	a.db = db

	engine, err := a.cfg.Matching.Engine()
	if err != nil {
		return err
	}
	a.reconciler = service.NewReconciler(db, engine, a.cfg.Matching.ScoreMin, a.cfg.Matching.SuppressRejected, a.log)

	tol, err := a.cfg.Counting.ToleranceCents()
	if err != nil {
		return err
	}
	a.counting = &service.CountingService{
		DB:             db,
		ToleranceCents: tol,
		Policy:         service.DivergentPolicy(a.cfg.Counting.DivergentPolicy),
		LookbackDays:   a.cfg.Counting.LookbackDays,
		Expected:       service.LedgerExpectedTotals{},
		Log:            a.log,
	}
	return nil
}

// withDB opens the database for the duration of fn.
func (a *app) withDB(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	ctx := cmd.Context()
	if err := a.open(ctx); err != nil {
		_ = a.close()
		return err
	}
	defer a.close()
	return fn(ctx)
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *app) requireOrg() error {
	if strings.TrimSpace(a.orgID) == "" {
		return fmt.Errorf("--org is required (or set TESOURARIA_ORG)")
	}
	return nil
}

// conferentes is the capability check backed by counting.conferentes.
func (a *app) conferentes() service.ConferenteCheck {
	set := service.StaticConferentes{}
	for _, id := range a.cfg.Counting.Conferentes {
		set[id] = true
	}
	return set
}

func parseDay(flag, v string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: want YYYY-MM-DD: %w", flag, err)
	}
	return d, nil
}

package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jask/tesouraria/internal/database"
)

// MaintenanceService houses destructive/ops actions surfaced through the CLI.
type MaintenanceService struct {
	DB *sql.DB
}

// resetTables lists data tables children first so foreign keys hold during the wipe.
var resetTables = []string{
	"audit_log",
	"reconciliation_links",
	"suggestions",
	"count_submission_values",
	"count_submissions",
	"counting_sessions",
	"transactions",
	"statement_lines",
}

// Reset wipes all ledger, suggestion and session data. It keeps the schema and the
// count categories intact so the app can continue running.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, t := range resetTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return nil
}

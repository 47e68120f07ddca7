package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/tesouraria/internal/database"
	"github.com/jask/tesouraria/internal/database/repository"
	"github.com/jask/tesouraria/internal/match"
)

const (
	testOrg     = "org-1"
	testAccount = "acc-1"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, database.RunMigrations(dbPath))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.SeedDefaults(context.Background(), db))
	return db
}

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func march() repository.Scope {
	return repository.Scope{OrgID: testOrg, AccountID: testAccount, PeriodStart: day("2024-03-01"), PeriodEnd: day("2024-03-31")}
}

func newReconciler(db *sql.DB) *Reconciler {
	return NewReconciler(db, match.DefaultConfig(), match.DefaultScoreMin, true, nil)
}

func addStatement(t *testing.T, db *sql.DB, id string, cents int64, date, desc string) {
	t.Helper()
	require.NoError(t, repository.NewStatementRepo(db).Insert(context.Background(), repository.StatementLine{
		ID: id, OrgID: testOrg, AccountID: testAccount, Date: day(date), AmountCents: cents, Description: desc,
	}))
}

func addTransaction(t *testing.T, db *sql.DB, id string, cents int64, date, desc string) {
	t.Helper()
	require.NoError(t, repository.NewTransactionRepo(db).Insert(context.Background(), repository.Transaction{
		ID: id, OrgID: testOrg, AccountID: testAccount, Date: day(date), AmountCents: cents, Description: desc,
	}))
}

type ledgerSnapshot struct {
	Statements   []repository.StatementLine
	Transactions []repository.Transaction
}

func snapshot(t *testing.T, db *sql.DB) ledgerSnapshot {
	t.Helper()
	ctx := context.Background()
	f := repository.LedgerFilter{OrgID: testOrg}
	stmts, err := repository.NewStatementRepo(db).List(ctx, f)
	require.NoError(t, err)
	txns, err := repository.NewTransactionRepo(db).List(ctx, f)
	require.NoError(t, err)
	return ledgerSnapshot{Statements: stmts, Transactions: txns}
}

func findShape(t *testing.T, got []repository.Suggestion, shape match.Shape) repository.Suggestion {
	t.Helper()
	for _, s := range got {
		if s.Shape == shape {
			return s
		}
	}
	require.Failf(t, "suggestion not found", "no %s suggestion in %d results", shape, len(got))
	return repository.Suggestion{}
}

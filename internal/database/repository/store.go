package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so a repo can run inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store bundles every repo over one handle.
type Store struct {
	Statements   *StatementRepo
	Transactions *TransactionRepo
	Suggestions  *SuggestionRepo
	Links        *LinkRepo
	Sessions     *SessionRepo
	Submissions  *SubmissionRepo
	Categories   *CategoryRepo
	Audit        *AuditRepo
}

func NewStore(db DBTX) *Store {
	return &Store{
		Statements:   NewStatementRepo(db),
		Transactions: NewTransactionRepo(db),
		Suggestions:  NewSuggestionRepo(db),
		Links:        NewLinkRepo(db),
		Sessions:     NewSessionRepo(db),
		Submissions:  NewSubmissionRepo(db),
		Categories:   NewCategoryRepo(db),
		Audit:        NewAuditRepo(db),
	}
}

// calendarDay keeps only the calendar date, as midnight UTC. Ledger dates carry
// no time of day.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// scanner handles both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

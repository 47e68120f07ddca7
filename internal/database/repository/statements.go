package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// LedgerFilter selects ledger rows of an org within an inclusive range of
// calendar days.
// Zero dates leave that side open; an empty AccountID spans all accounts.
type LedgerFilter struct {
	OrgID     string
	AccountID string
	From      time.Time
	To        time.Time
}

func (f LedgerFilter) where(prefix string) ([]string, []interface{}) {
	where := []string{prefix + "org_id = ?"}
	args := []interface{}{f.OrgID}
	if f.AccountID != "" {
		where = append(where, prefix+"account_id = ?")
		args = append(args, f.AccountID)
	}
	if !f.From.IsZero() {
		where = append(where, prefix+"date >= ?")
		args = append(args, calendarDay(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, prefix+"date < ?")
		args = append(args, calendarDay(f.To).AddDate(0, 0, 1))
	}
	return where, args
}

// StatementRepo handles bank statement lines.
type StatementRepo struct{ db DBTX }

func NewStatementRepo(db DBTX) *StatementRepo { return &StatementRepo{db: db} }

const statementColumns = "id, org_id, account_id, date, amount, description, status, created_at"

func (r *StatementRepo) Insert(ctx context.Context, s StatementLine) error {
	if s.Status == "" {
		s.Status = StatementUnmatched
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO statement_lines(id, org_id, account_id, date, amount, description, status, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, s.ID, s.OrgID, s.AccountID, calendarDay(s.Date), s.AmountCents, s.Description, s.Status)
	return err
}

func (r *StatementRepo) Get(ctx context.Context, id string) (*StatementLine, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM statement_lines WHERE id = ?`, id)
	s, err := scanStatement(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// List returns every line in the filter regardless of status, oldest first.
func (r *StatementRepo) List(ctx context.Context, f LedgerFilter) ([]StatementLine, error) {
	where, args := f.where("")
	return r.query(ctx, `SELECT `+statementColumns+` FROM statement_lines WHERE `+strings.Join(where, " AND ")+` ORDER BY date, id`, args...)
}

// ListUnmatched returns unmatched, non-zero lines in the filter that no accepted
// suggestion links.
func (r *StatementRepo) ListUnmatched(ctx context.Context, f LedgerFilter) ([]StatementLine, error) {
	where, args := f.where("sl.")
	where = append(where,
		"sl.status = 'unmatched'",
		"sl.amount != 0",
		`NOT EXISTS (SELECT 1 FROM reconciliation_links l JOIN suggestions s ON s.id = l.suggestion_id
			WHERE l.statement_line_id = sl.id AND s.status = 'accepted')`)
	query := `SELECT sl.id, sl.org_id, sl.account_id, sl.date, sl.amount, sl.description, sl.status, sl.created_at
	FROM statement_lines sl WHERE ` + strings.Join(where, " AND ") + ` ORDER BY sl.date, sl.id`
	return r.query(ctx, query, args...)
}

// Claim moves an unmatched line to status. It affects zero rows when the line
// was claimed concurrently.
func (r *StatementRepo) Claim(ctx context.Context, id string, status StatementStatus) (int64, error) {
	return affected(r.db.ExecContext(ctx, `UPDATE statement_lines SET status = ? WHERE id = ? AND status = 'unmatched'`, status, id))
}

// Release moves a line from status back to unmatched.
func (r *StatementRepo) Release(ctx context.Context, id string, from StatementStatus) (int64, error) {
	return affected(r.db.ExecContext(ctx, `UPDATE statement_lines SET status = 'unmatched' WHERE id = ? AND status = ?`, id, from))
}

func (r *StatementRepo) query(ctx context.Context, query string, args ...interface{}) ([]StatementLine, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatementLine
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanStatement(row scanner) (StatementLine, error) {
	var s StatementLine
	if err := row.Scan(&s.ID, &s.OrgID, &s.AccountID, &s.Date, &s.AmountCents, &s.Description, &s.Status, &s.CreatedAt); err != nil {
		return StatementLine{}, err
	}
	return s, nil
}

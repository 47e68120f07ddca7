package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// SuggestionFilter defines list filters. Zero values mean no filter.
type SuggestionFilter struct {
	OrgID     string
	AccountID string
	Status    SuggestionStatus
	From      time.Time // period_end >= From
	To        time.Time // period_start <= To
}

// SuggestionRepo handles scored candidate pairings and their lifecycle.
type SuggestionRepo struct{ db DBTX }

func NewSuggestionRepo(db DBTX) *SuggestionRepo { return &SuggestionRepo{db: db} }

const suggestionColumns = `id, org_id, account_id, period_start, period_end, shape, statement_ids, transaction_ids,
 score, date_delta_days, amount_delta, description_sim, status, decided_by, decided_at, reason, created_at`

func (r *SuggestionRepo) Add(ctx context.Context, s Suggestion) error {
	if s.Status == "" {
		s.Status = SuggestionPending
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO suggestions(
	 id, org_id, account_id, period_start, period_end, shape, statement_ids, transaction_ids,
	 score, date_delta_days, amount_delta, description_sim, status, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, s.ID, s.Scope.OrgID, s.Scope.AccountID, s.Scope.PeriodStart, s.Scope.PeriodEnd, s.Shape,
		strings.Join(s.StatementIDs, ","), strings.Join(s.TransactionIDs, ","),
		s.Score, s.Features.DateDeltaDays, s.Features.AmountDeltaCents, s.Features.DescriptionSimilarity, s.Status)
	return err
}

func (r *SuggestionRepo) Get(ctx context.Context, id string) (*Suggestion, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?`, id)
	s, err := scanSuggestion(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SuggestionRepo) List(ctx context.Context, f SuggestionFilter) ([]Suggestion, error) {
	var where []string
	var args []interface{}
	if f.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, f.OrgID)
	}
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.From.IsZero() {
		where = append(where, "period_end >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "period_start <= ?")
		args = append(args, f.To)
	}
	query := "SELECT " + suggestionColumns + " FROM suggestions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY score DESC, created_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeletePendingInScope drops pending suggestions of the org whose period overlaps
// the scope. Decided suggestions stay as history.
func (r *SuggestionRepo) DeletePendingInScope(ctx context.Context, sc Scope) (int64, error) {
	return affected(r.db.ExecContext(ctx, `
	DELETE FROM suggestions
	WHERE status = 'pending' AND org_id = ? AND (? = '' OR account_id = ?)
	 AND period_start <= ? AND period_end >= ?
	`, sc.OrgID, sc.AccountID, sc.AccountID, sc.PeriodEnd, sc.PeriodStart))
}

// Transition moves a suggestion from one status to another, stamping the decision.
// It affects zero rows when the suggestion is no longer in from.
func (r *SuggestionRepo) Transition(ctx context.Context, id string, from, to SuggestionStatus, actor, reason string, at time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx, `
	UPDATE suggestions SET status = ?, decided_by = ?, decided_at = ?, reason = ?
	WHERE id = ? AND status = ?
	`, to, actor, at, reason, id, from))
}

// RejectedPairings returns the row sets of every rejected suggestion of the org.
func (r *SuggestionRepo) RejectedPairings(ctx context.Context, orgID string) ([][2][]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT statement_ids, transaction_ids FROM suggestions WHERE org_id = ? AND status = 'rejected'`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][2][]string
	for rows.Next() {
		var stmts, txns string
		if err := rows.Scan(&stmts, &txns); err != nil {
			return nil, err
		}
		out = append(out, [2][]string{splitIDs(stmts), splitIDs(txns)})
	}
	return out, rows.Err()
}

// AcceptedReferencing returns ids of accepted suggestions, other than exclude,
// that link any of the given statement lines or transactions.
func (r *SuggestionRepo) AcceptedReferencing(ctx context.Context, statementIDs, transactionIDs []string, exclude string) ([]string, error) {
	var or []string
	args := []interface{}{exclude}
	if len(statementIDs) > 0 {
		or = append(or, "l.statement_line_id IN ("+placeholders(len(statementIDs))+")")
		args = append(args, stringArgs(statementIDs)...)
	}
	if len(transactionIDs) > 0 {
		or = append(or, "l.transaction_id IN ("+placeholders(len(transactionIDs))+")")
		args = append(args, stringArgs(transactionIDs)...)
	}
	if len(or) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
	SELECT DISTINCT s.id FROM reconciliation_links l JOIN suggestions s ON s.id = l.suggestion_id
	WHERE s.status = 'accepted' AND s.id != ? AND (`+strings.Join(or, " OR ")+`)
	ORDER BY s.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func scanSuggestion(row scanner) (Suggestion, error) {
	var s Suggestion
	var stmts, txns string
	var decidedBy, reason sql.NullString
	var decidedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.Scope.OrgID, &s.Scope.AccountID, &s.Scope.PeriodStart, &s.Scope.PeriodEnd,
		&s.Shape, &stmts, &txns, &s.Score, &s.Features.DateDeltaDays, &s.Features.AmountDeltaCents,
		&s.Features.DescriptionSimilarity, &s.Status, &decidedBy, &decidedAt, &reason, &s.CreatedAt); err != nil {
		return Suggestion{}, err
	}
	s.StatementIDs = splitIDs(stmts)
	s.TransactionIDs = splitIDs(txns)
	s.DecidedBy = nullableString(decidedBy)
	s.Reason = nullableString(reason)
	if decidedAt.Valid {
		s.DecidedAt = &decidedAt.Time
	}
	return s, nil
}

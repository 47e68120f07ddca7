package repository

import (
	"context"
	"database/sql"
	"strings"
)

// TransactionRepo handles internal ledger transactions.
type TransactionRepo struct {
	db DBTX
}

func NewTransactionRepo(db DBTX) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = "id, org_id, account_id, date, amount, description, category, event_id, source_session_id, reconciled_suggestion_id, created_at"

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, org_id, account_id, date, amount, description, category, event_id,
	 source_session_id, reconciled_suggestion_id, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`,
		t.ID, t.OrgID, t.AccountID, calendarDay(t.Date), t.AmountCents, t.Description, t.Category, t.EventID,
		t.SourceSessionID, t.ReconciledSuggestionID)
	return err
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// List returns every transaction in the filter, oldest first.
func (r *TransactionRepo) List(ctx context.Context, f LedgerFilter) ([]Transaction, error) {
	where, args := f.where("")
	return r.query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE `+strings.Join(where, " AND ")+` ORDER BY date, id`, args...)
}

// ListUnreconciled returns non-zero transactions in the filter that no accepted
// suggestion links.
func (r *TransactionRepo) ListUnreconciled(ctx context.Context, f LedgerFilter) ([]Transaction, error) {
	where, args := f.where("t.")
	where = append(where,
		"t.reconciled_suggestion_id IS NULL",
		"t.amount != 0",
		`NOT EXISTS (SELECT 1 FROM reconciliation_links l JOIN suggestions s ON s.id = l.suggestion_id
			WHERE l.transaction_id = t.id AND s.status = 'accepted')`)
	query := `SELECT t.id, t.org_id, t.account_id, t.date, t.amount, t.description, t.category, t.event_id,
	 t.source_session_id, t.reconciled_suggestion_id, t.created_at
	FROM transactions t WHERE ` + strings.Join(where, " AND ") + ` ORDER BY t.date, t.id`
	return r.query(ctx, query, args...)
}

// Claim marks an unreconciled transaction as reconciled via suggestionID.
// It affects zero rows when another accept got there first.
func (r *TransactionRepo) Claim(ctx context.Context, id, suggestionID string) (int64, error) {
	return affected(r.db.ExecContext(ctx, `UPDATE transactions SET reconciled_suggestion_id = ? WHERE id = ? AND reconciled_suggestion_id IS NULL`, suggestionID, id))
}

// ReleaseSuggestion clears the reconciliation of every transaction linked via suggestionID.
func (r *TransactionRepo) ReleaseSuggestion(ctx context.Context, suggestionID string) (int64, error) {
	return affected(r.db.ExecContext(ctx, `UPDATE transactions SET reconciled_suggestion_id = NULL WHERE reconciled_suggestion_id = ?`, suggestionID))
}

// SumByCategoryForEvent totals posted entries of an event per category, leaving
// out entries that counting sessions posted themselves.
func (r *TransactionRepo) SumByCategoryForEvent(ctx context.Context, orgID, eventID string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT category, SUM(amount)
	FROM transactions
	WHERE org_id = ? AND event_id = ? AND source_session_id IS NULL AND category IS NOT NULL
	GROUP BY category
	`, orgID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var cat string
		var total int64
		if err := rows.Scan(&cat, &total); err != nil {
			return nil, err
		}
		out[cat] = total
	}
	return out, rows.Err()
}

// ListBySourceSession returns entries a counting session posted.
func (r *TransactionRepo) ListBySourceSession(ctx context.Context, sessionID string) ([]Transaction, error) {
	return r.query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE source_session_id = ? ORDER BY category, id`, sessionID)
}

func (r *TransactionRepo) query(ctx context.Context, query string, args ...interface{}) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var category, event, source, suggestion sql.NullString
	if err := row.Scan(&t.ID, &t.OrgID, &t.AccountID, &t.Date, &t.AmountCents, &t.Description,
		&category, &event, &source, &suggestion, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	t.Category = nullableString(category)
	t.EventID = nullableString(event)
	t.SourceSessionID = nullableString(source)
	t.ReconciledSuggestionID = nullableString(suggestion)
	return t, nil
}

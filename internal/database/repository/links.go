package repository

import "context"

// LinkRepo handles reconciliation link rows.
type LinkRepo struct{ db DBTX }

func NewLinkRepo(db DBTX) *LinkRepo { return &LinkRepo{db: db} }

func (r *LinkRepo) Add(ctx context.Context, l Link) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO reconciliation_links(id, suggestion_id, statement_line_id, transaction_id, shape, created_at)
	VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, l.ID, l.SuggestionID, l.StatementLineID, l.TransactionID, l.Shape)
	return err
}

func (r *LinkRepo) ListBySuggestion(ctx context.Context, suggestionID string) ([]Link, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, suggestion_id, statement_line_id, transaction_id, shape, created_at FROM reconciliation_links WHERE suggestion_id = ? ORDER BY statement_line_id, transaction_id`, suggestionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.SuggestionID, &l.StatementLineID, &l.TransactionID, &l.Shape, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AcceptedSuggestionsForTransaction returns ids of accepted suggestions linking the transaction.
func (r *LinkRepo) AcceptedSuggestionsForTransaction(ctx context.Context, transactionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT DISTINCT s.id FROM reconciliation_links l JOIN suggestions s ON s.id = l.suggestion_id
	WHERE l.transaction_id = ? AND s.status = 'accepted'
	ORDER BY s.id`, transactionID)
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

func (r *LinkRepo) DeleteBySuggestion(ctx context.Context, suggestionID string) (int64, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM reconciliation_links WHERE suggestion_id = ?`, suggestionID))
}

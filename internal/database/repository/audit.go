package repository

import "context"

// AuditRepo records actor-attributed changes.
type AuditRepo struct{ db DBTX }

func NewAuditRepo(db DBTX) *AuditRepo { return &AuditRepo{db: db} }

func (r *AuditRepo) Add(ctx context.Context, e AuditEntry) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO audit_log(id, entity_type, entity_id, action, actor, reason, created_at)
	VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, e.ID, e.EntityType, e.EntityID, e.Action, e.Actor, e.Reason)
	return err
}

func (r *AuditRepo) ListForEntity(ctx context.Context, entityType, entityID string) ([]AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, entity_type, entity_id, action, actor, reason, created_at FROM audit_log WHERE entity_type = ? AND entity_id = ? ORDER BY created_at, rowid`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Actor, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

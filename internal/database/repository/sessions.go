package repository

import (
	"context"
	"database/sql"
	"time"
)

// ServiceDateLayout is how service dates are keyed in storage.
const ServiceDateLayout = time.DateOnly

// SessionRepo handles counting sessions.
type SessionRepo struct{ db DBTX }

func NewSessionRepo(db DBTX) *SessionRepo { return &SessionRepo{db: db} }

const sessionColumns = "id, org_id, branch_id, service_date, period, event_id, status, variance, rejected_reason, closed_at, created_at, updated_at"

func (r *SessionRepo) Insert(ctx context.Context, s CountingSession) error {
	if s.Status == "" {
		s.Status = SessionOpen
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO counting_sessions(id, org_id, branch_id, service_date, period, event_id, status, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, s.ID, s.OrgID, s.BranchID, s.ServiceDate.Format(ServiceDateLayout), s.Period, s.EventID, s.Status)
	return err
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*CountingSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM counting_sessions WHERE id = ?`, id)
	return r.one(row)
}

// FindLive returns the session currently holding key, or nil.
func (r *SessionRepo) FindLive(ctx context.Context, key SessionKey) (*CountingSession, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+sessionColumns+` FROM counting_sessions
	WHERE org_id = ? AND branch_id = ? AND service_date = ? AND period = ?
	 AND status IN ('open', 'counting', 'validated', 'divergent')
	`, key.OrgID, key.BranchID, key.ServiceDate.Format(ServiceDateLayout), key.Period)
	return r.one(row)
}

// Transition moves a session from one of from to to. variance is written when non-nil.
func (r *SessionRepo) Transition(ctx context.Context, id string, to SessionStatus, variance *int64, from ...SessionStatus) (int64, error) {
	args := []interface{}{to, variance, variance, id}
	for _, f := range from {
		args = append(args, f)
	}
	return affected(r.db.ExecContext(ctx, `
	UPDATE counting_sessions
	SET status = ?, variance = CASE WHEN ? IS NULL THEN variance ELSE ? END, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND status IN (`+placeholders(len(from))+`)
	`, args...))
}

// Close finalizes a session from one of from.
func (r *SessionRepo) Close(ctx context.Context, id string, at time.Time, from ...SessionStatus) (int64, error) {
	args := []interface{}{at, id}
	for _, f := range from {
		args = append(args, f)
	}
	return affected(r.db.ExecContext(ctx, `
	UPDATE counting_sessions SET status = 'closed', closed_at = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND status IN (`+placeholders(len(from))+`)
	`, args...))
}

// Reject moves a live session to rejected with reason.
func (r *SessionRepo) Reject(ctx context.Context, id, reason string) (int64, error) {
	return affected(r.db.ExecContext(ctx, `
	UPDATE counting_sessions SET status = 'rejected', rejected_reason = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND status IN ('open', 'counting', 'validated', 'divergent')
	`, reason, id))
}

// LatestClose returns the most recent close timestamp of a branch, or nil.
func (r *SessionRepo) LatestClose(ctx context.Context, orgID, branchID string) (*time.Time, error) {
	var at sql.NullTime
	row := r.db.QueryRowContext(ctx, `
	SELECT closed_at FROM counting_sessions
	WHERE org_id = ? AND branch_id = ? AND status = 'closed' AND closed_at IS NOT NULL
	ORDER BY closed_at DESC LIMIT 1
	`, orgID, branchID)
	if err := row.Scan(&at); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}

func (r *SessionRepo) one(row scanner) (*CountingSession, error) {
	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func scanSession(row scanner) (CountingSession, error) {
	var s CountingSession
	var serviceDate string
	var event, reason sql.NullString
	var variance sql.NullInt64
	var closed sql.NullTime
	if err := row.Scan(&s.ID, &s.OrgID, &s.BranchID, &serviceDate, &s.Period, &event, &s.Status,
		&variance, &reason, &closed, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return CountingSession{}, err
	}
	d, err := time.Parse(ServiceDateLayout, serviceDate)
	if err != nil {
		return CountingSession{}, err
	}
	s.ServiceDate = d
	s.EventID = nullableString(event)
	s.RejectedReason = nullableString(reason)
	if variance.Valid {
		v := variance.Int64
		s.VarianceCents = &v
	}
	if closed.Valid {
		s.ClosedAt = &closed.Time
	}
	return s, nil
}

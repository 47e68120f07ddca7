package repository

import (
	"context"
	"database/sql"
	"sort"
	"time"
)

// SubmissionRepo handles append-only count submissions.
type SubmissionRepo struct{ db DBTX }

func NewSubmissionRepo(db DBTX) *SubmissionRepo { return &SubmissionRepo{db: db} }

// Add appends a submission and its values. Seq is assigned per session and
// returned on the stored copy.
func (r *SubmissionRepo) Add(ctx context.Context, s CountSubmission) (CountSubmission, error) {
	var seq int
	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM count_submissions WHERE session_id = ?`, s.SessionID)
	if err := row.Scan(&seq); err != nil {
		return CountSubmission{}, err
	}
	s.Seq = seq
	if _, err := r.db.ExecContext(ctx, `
	INSERT INTO count_submissions(id, session_id, counter_id, seq, created_at)
	VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, s.ID, s.SessionID, s.CounterID, s.Seq); err != nil {
		return CountSubmission{}, err
	}
	cats := make([]string, 0, len(s.Values))
	for c := range s.Values {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO count_submission_values(submission_id, category, amount) VALUES(?, ?, ?)`, s.ID, c, s.Values[c]); err != nil {
			return CountSubmission{}, err
		}
	}
	return s, nil
}

// ListActive returns the session's submissions not discarded by a rejection, in seq order.
func (r *SubmissionRepo) ListActive(ctx context.Context, sessionID string) ([]CountSubmission, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, session_id, counter_id, seq, discarded_at, created_at
	FROM count_submissions WHERE session_id = ? AND discarded_at IS NULL ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	var out []CountSubmission
	for rows.Next() {
		var s CountSubmission
		var discarded sql.NullTime
		if err := rows.Scan(&s.ID, &s.SessionID, &s.CounterID, &s.Seq, &discarded, &s.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if discarded.Valid {
			s.DiscardedAt = &discarded.Time
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		vals, err := r.values(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Values = vals
	}
	return out, nil
}

// Discard stamps every active submission of a session as discarded.
func (r *SubmissionRepo) Discard(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx, `UPDATE count_submissions SET discarded_at = ? WHERE session_id = ? AND discarded_at IS NULL`, at, sessionID))
}

func (r *SubmissionRepo) values(ctx context.Context, submissionID string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT category, amount FROM count_submission_values WHERE submission_id = ?`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var cat string
		var amt int64
		if err := rows.Scan(&cat, &amt); err != nil {
			return nil, err
		}
		out[cat] = amt
	}
	return out, rows.Err()
}

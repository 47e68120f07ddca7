package repository

import (
	"context"
)

// CategoryRepo handles count categories.
type CategoryRepo struct {
	db DBTX
}

func NewCategoryRepo(db DBTX) *CategoryRepo {
	return &CategoryRepo{db: db}
}

func (r *CategoryRepo) Upsert(ctx context.Context, c CountCategory) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO count_categories(id, name, sort_order)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name,
	 sort_order=excluded.sort_order;
	`, c.ID, c.Name, c.SortOrder)
	return err
}

func (r *CategoryRepo) List(ctx context.Context) ([]CountCategory, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, sort_order FROM count_categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CountCategory
	for rows.Next() {
		var c CountCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Names returns the set of known category names.
func (r *CategoryRepo) Names(ctx context.Context) (map[string]bool, error) {
	cats, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(cats))
	for _, c := range cats {
		out[c.Name] = true
	}
	return out, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jask/tesouraria/internal/database/repository"
)

// DefaultCountCategories are the tally buckets a counting session starts with.
var DefaultCountCategories = []string{"oferta", "dizimo", "missoes"}

// SeedDefaults ensures baseline count categories exist for new databases.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	cats := repository.NewCategoryRepo(db)
	existing, err := cats.List(ctx)
	if err == nil && len(existing) > 0 {
		return nil
	}
	for idx, name := range DefaultCountCategories {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("count-category:"+name)).String()
		if err := cats.Upsert(ctx, repository.CountCategory{ID: id, Name: name, SortOrder: idx}); err != nil {
			return fmt.Errorf("seed category %s: %w", name, err)
		}
	}
	return nil
}

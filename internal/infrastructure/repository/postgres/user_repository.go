package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// ResolveUser returns the id for name, creating the user on first use.
func (r *UserRepository) ResolveUser(ctx context.Context, name string) (int64, error) {
	const op = "resolve user"
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, domain.Invalid(op, "user name is required")
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO user_info (user_name)
VALUES ($1)
ON CONFLICT (user_name) DO UPDATE SET user_name = EXCLUDED.user_name
RETURNING user_id
`, name).Scan(&id)
	if err != nil {
		return 0, fail(ctx, op, err)
	}
	return id, nil
}

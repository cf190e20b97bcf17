package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

// ClassificationRegistry maps classification names to ids. It holds no cache;
// every call reads the store so concurrent writers are always observed.
type ClassificationRegistry struct {
	db *sql.DB
}

func NewClassificationRegistry(db *sql.DB) *ClassificationRegistry {
	return &ClassificationRegistry{db: db}
}

// Upsert returns an id for every name, creating the missing ones.
func (r *ClassificationRegistry) Upsert(ctx context.Context, names []string) (map[string]int64, error) {
	const op = "upsert classifications"
	normalized, err := domain.NormalizeClassificationNames(names)
	if err != nil {
		return nil, err
	}
	out, err := upsertClassifications(ctx, r.db, normalized)
	if err != nil {
		return nil, fail(ctx, op, err)
	}
	return out, nil
}

// UpsertTx is Upsert inside the caller's transaction.
func (r *ClassificationRegistry) UpsertTx(ctx context.Context, tx *sql.Tx, names []string) (map[string]int64, error) {
	normalized, err := domain.NormalizeClassificationNames(names)
	if err != nil {
		return nil, err
	}
	return upsertClassifications(ctx, tx, normalized)
}

// List returns the whole vocabulary sorted by name.
func (r *ClassificationRegistry) List(ctx context.Context) ([]string, error) {
	const op = "list classifications"
	rows, err := r.db.QueryContext(ctx, `
SELECT classification_name
FROM classification_info
ORDER BY classification_name
`)
	if err != nil {
		return nil, fail(ctx, op, err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fail(ctx, op, fmt.Errorf("scan classification: %w", err))
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(ctx, op, fmt.Errorf("iterate classifications: %w", err))
	}
	return out, nil
}

// upsertClassifications expects names already normalized (sorted, unique) so
// concurrent callers lock index entries in the same order.
//
// DO UPDATE rather than DO NOTHING: a no-op update still returns the existing
// row, including one committed by a concurrent transaction after our snapshot.
func upsertClassifications(ctx context.Context, q queryer, names []string) (map[string]int64, error) {
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	rows, err := q.QueryContext(ctx, `
INSERT INTO classification_info (classification_name)
VALUES `+valuesRows(1, len(names), 1)+`
ON CONFLICT (classification_name) DO UPDATE SET classification_name = EXCLUDED.classification_name
RETURNING classification_id, classification_name
`, args...)
	if err != nil {
		return nil, fmt.Errorf("upsert classification names: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64, len(names))
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan classification id: %w", err)
		}
		out[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classification ids: %w", err)
	}

	for _, n := range names {
		if _, ok := out[n]; !ok {
			return nil, domain.WrapError(domain.ErrConsistency, "upsert classifications", fmt.Errorf("no id returned for %q", n))
		}
	}
	return out, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

const schemaLockKey = int64(2026101501)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS user_info (
	user_id BIGSERIAL PRIMARY KEY,
	user_name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tag_state (
	tag_state_id INTEGER PRIMARY KEY,
	tag_state_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS image_info (
	image_id BIGSERIAL PRIMARY KEY,
	original_image_name TEXT NOT NULL,
	image_location TEXT NOT NULL UNIQUE,
	height INTEGER NOT NULL CHECK (height > 0),
	width INTEGER NOT NULL CHECK (width > 0),
	created_by_user BIGINT NOT NULL REFERENCES user_info(user_id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_image_info_created_at ON image_info(created_at, image_id);

CREATE TABLE IF NOT EXISTS image_tagging_state (
	image_id BIGINT PRIMARY KEY REFERENCES image_info(image_id),
	tag_state_id INTEGER NOT NULL REFERENCES tag_state(tag_state_id),
	modified_by_user BIGINT NOT NULL REFERENCES user_info(user_id),
	modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_image_tagging_state_state ON image_tagging_state(tag_state_id, modified_at);

CREATE TABLE IF NOT EXISTS image_tagging_state_audit (
	audit_id BIGSERIAL PRIMARY KEY,
	image_id BIGINT NOT NULL REFERENCES image_info(image_id),
	tag_state_id INTEGER NOT NULL REFERENCES tag_state(tag_state_id),
	modified_by_user BIGINT NOT NULL REFERENCES user_info(user_id),
	modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_image_tagging_state_audit_image ON image_tagging_state_audit(image_id, modified_at);

CREATE TABLE IF NOT EXISTS classification_info (
	classification_id BIGSERIAL PRIMARY KEY,
	classification_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS image_tags (
	image_tag_id BIGSERIAL PRIMARY KEY,
	image_id BIGINT NOT NULL REFERENCES image_info(image_id),
	x_min DOUBLE PRECISION NOT NULL,
	x_max DOUBLE PRECISION NOT NULL,
	y_min DOUBLE PRECISION NOT NULL,
	y_max DOUBLE PRECISION NOT NULL,
	created_by_user BIGINT NOT NULL REFERENCES user_info(user_id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS annotated_labels (
	annotated_label_id BIGSERIAL PRIMARY KEY,
	image_tag_id BIGINT NOT NULL REFERENCES image_tags(image_tag_id),
	image_id BIGINT NOT NULL REFERENCES image_info(image_id),
	classification_id BIGINT NOT NULL REFERENCES classification_info(classification_id),
	x_min DOUBLE PRECISION NOT NULL,
	x_max DOUBLE PRECISION NOT NULL,
	y_min DOUBLE PRECISION NOT NULL,
	y_max DOUBLE PRECISION NOT NULL,
	created_by_user BIGINT NOT NULL REFERENCES user_info(user_id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (image_tag_id, classification_id)
);

CREATE INDEX IF NOT EXISTS idx_annotated_labels_image ON annotated_labels(image_id);

CREATE TABLE IF NOT EXISTS training_info (
	training_id BIGSERIAL PRIMARY KEY,
	training_description TEXT NOT NULL DEFAULT '',
	model_location TEXT NOT NULL,
	class_perf_avg DOUBLE PRECISION NOT NULL,
	class_performance JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prediction_labels (
	prediction_label_id BIGSERIAL PRIMARY KEY,
	training_id BIGINT NOT NULL REFERENCES training_info(training_id),
	image_id BIGINT NOT NULL REFERENCES image_info(image_id),
	classification_id BIGINT NOT NULL REFERENCES classification_info(classification_id),
	x_min DOUBLE PRECISION NOT NULL,
	x_max DOUBLE PRECISION NOT NULL,
	y_min DOUBLE PRECISION NOT NULL,
	y_max DOUBLE PRECISION NOT NULL,
	box_confidence DOUBLE PRECISION NOT NULL CHECK (box_confidence BETWEEN 0 AND 1),
	image_confidence DOUBLE PRECISION NOT NULL CHECK (image_confidence BETWEEN 0 AND 1),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_prediction_labels_training_image ON prediction_labels(training_id, image_id);
`

// EnsureSchema creates the tables and seeds the tag state enumeration.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	states := domain.AllStates()
	args := make([]any, 0, len(states)*2)
	for _, s := range states {
		args = append(args, int64(s), s.String())
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO tag_state (tag_state_id, tag_state_name)
VALUES `+valuesRows(1, len(states), 2)+`
ON CONFLICT (tag_state_id) DO UPDATE SET tag_state_name = EXCLUDED.tag_state_name
`, args...); err != nil {
		return fmt.Errorf("seed tag states: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"

	// Rows per multi-row INSERT; keeps every statement well under the 65535 bind parameter limit.
	maxRowsPerInsert = 1000
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in one transaction. Any error from fn rolls everything back.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// fail classifies err for the caller. Errors that already carry a domain kind
// pass through; driver errors are logged with the operation and wrapped.
func fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsSemantic(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return domain.WrapError(domain.ErrConflict, op, fmt.Errorf("%s violates %s", pgErr.TableName, pgErr.ConstraintName))
		case pgForeignKeyViolation:
			return domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("%s references a missing row (%s)", pgErr.TableName, pgErr.ConstraintName))
		case pgSerializationFail, pgDeadlockDetected:
			slog.WarnContext(ctx, "storage_retryable_failure", "operation", op, "code", pgErr.Code, "error", err)
			return domain.WrapError(domain.ErrTemporary, op, err)
		}
	}

	slog.ErrorContext(ctx, "storage_failure", "operation", op, "error", err)
	return domain.WrapError(domain.ErrStorage, op, err)
}

// placeholders renders "$start,$start+1,...,$start+n-1".
func placeholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}

// valuesRows renders rows tuples of width columns starting at $start.
func valuesRows(start, rows, width int) string {
	var b strings.Builder
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		b.WriteString(placeholders(start+r*width, width))
		b.WriteByte(')')
	}
	return b.String()
}

func idArgs(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func stateArgs(states []domain.ImageTagState) []any {
	out := make([]any, len(states))
	for i, s := range states {
		out[i] = int64(s)
	}
	return out
}

func validateIDs(op string, ids []int64) error {
	for _, id := range ids {
		if id <= 0 {
			return domain.Invalid(op, "image id must be positive, got %d", id)
		}
	}
	return nil
}

func validateActor(op string, actor int64) error {
	if actor <= 0 {
		return domain.Invalid(op, "acting user id must be positive, got %d", actor)
	}
	return nil
}

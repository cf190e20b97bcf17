package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks validation failures raised before any store access.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorage marks failures surfaced by the database gateway.
	ErrStorage = errors.New("storage failure")
	// ErrConsistency marks a store result that violates a registry or state invariant.
	ErrConsistency  = errors.New("consistency violation")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("state conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTemporary    = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Invalid builds an ErrInvalidInput error for operation with a formatted reason.
func Invalid(operation, format string, args ...any) error {
	return WrapError(ErrInvalidInput, operation, fmt.Errorf(format, args...))
}

// IsSemantic reports whether err already carries a caller-facing kind
// (anything other than a raw storage failure).
func IsSemantic(err error) bool {
	return IsKind(err, ErrInvalidInput) ||
		IsKind(err, ErrNotFound) ||
		IsKind(err, ErrConflict) ||
		IsKind(err, ErrConsistency) ||
		IsKind(err, ErrUnauthorized)
}

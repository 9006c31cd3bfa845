package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// Sentinel errors for common database conditions
var (
	// ErrNotFound indicates the requested row does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique constraint violation or conflicting state
	ErrConflict = errors.New("conflict")
)

// wrapDBError wraps a database error with operation context. Missing rows
// come back as the structured not_found kind with ErrNotFound in the chain,
// so both errors.Is and types.IsKind see them.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound) {
		e := types.WrapError(types.ErrNotFound, ErrNotFound, "%s: not found", op)
		e.Retryable = false
		return e
	}
	return fmt.Errorf("%s: %w", op, err)
}

// notFoundError builds the structured NotFound the public API surfaces.
// Like wrapDBError, it keeps ErrNotFound in the chain so both errors.Is
// and types.IsKind see it.
func notFoundError(kind, name string) error {
	e := types.WrapError(types.ErrNotFound, ErrNotFound, "%s %q not found for the active version", kind, name)
	e.Retryable = false
	return e
}

// wrapSchemaError marks a migration failure as the structured schema error.
func wrapSchemaError(err error) error {
	return types.WrapError(types.ErrSchema, err, "database migration failed; store opened read-only")
}

// errReadOnly is returned for writes after a failed migration.
func errReadOnly() error {
	return types.NewError(types.ErrSchema, "database is read-only after a failed migration")
}

// isNotFound checks if an error is or wraps ErrNotFound.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound)
}

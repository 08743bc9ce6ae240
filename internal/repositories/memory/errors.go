package memory

import (
	"fmt"

	"github.com/earth-harvest/checkout-api/internal/repositories"
)

type errKind int

const (
	kindNotFound errKind = iota
	kindConflict
)

// Error implements repositories.RepositoryError for in-memory stores.
type Error struct {
	op   string
	id   string
	kind errKind
}

var _ repositories.RepositoryError = (*Error)(nil)

func notFoundError(op, id string) *Error {
	return &Error{op: op, id: id, kind: kindNotFound}
}

func conflictError(op, id string) *Error {
	return &Error{op: op, id: id, kind: kindConflict}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.kind {
	case kindNotFound:
		return fmt.Sprintf("%s: %q not found", e.op, e.id)
	case kindConflict:
		return fmt.Sprintf("%s: conflicting update for %q", e.op, e.id)
	}
	return fmt.Sprintf("%s: %q", e.op, e.id)
}

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

// IsConflict reports whether the error represents a conflicting update.
func (e *Error) IsConflict() bool { return e != nil && e.kind == kindConflict }

// IsUnavailable always reports false for in-memory stores.
func (e *Error) IsUnavailable() bool { return false }

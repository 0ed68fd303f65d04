package core

import (
	"errors"
	"fmt"
)

// ErrNotFound marks lookups that matched no row. Services wrap it with entity
// context; the web adapter maps it to HTTP 404.
var ErrNotFound = errors.New("not found")

// ValidationError rejects bad input before any transaction opens.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// StateError rejects an operation that is illegal in the entity's current
// state (receiving a non-PROGRESS PO, editing a non-DRAFT PO, completing a
// settled project). No partial mutation occurs.
type StateError struct {
	Entity  string
	ID      int
	Current string
	Op      string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %d cannot be %s: status is %s", e.Entity, e.ID, e.Op, e.Current)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStateConflict reports whether err is (or wraps) a StateError.
func IsStateConflict(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

package recordsync

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrNotImplemented      = errors.New("not implemented")
)

// ConstraintError carries the storage-level detail of a rejected write,
// most commonly a duplicate external key when two syncs race on the same
// identifier between lookup and insert.
type ConstraintError struct {
	Constraint string
	Detail     string
}

func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("constraint violation on %s: %s", e.Constraint, e.Detail)
	}
	return "constraint violation: " + e.Detail
}

func (e *ConstraintError) Is(target error) bool {
	return target == ErrConstraintViolation
}

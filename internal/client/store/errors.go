package store

import (
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/common"
)

// ConstraintViolationError reports a unique index clash. It matches
// common.ErrConstraintViolation with errors.Is.
type ConstraintViolationError struct {
	Collection string
	Index      string
	Value      string
	ID         string
	ExistingID string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation: %s.%s = %q of %s already used by %s",
		e.Collection, e.Index, e.Value, e.ID, e.ExistingID)
}

func (e *ConstraintViolationError) Unwrap() error {
	return common.ErrConstraintViolation
}

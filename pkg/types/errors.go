package types

import (
	"errors"
	"fmt"
)

// ErrorCategory is the machine-readable class of an error that aborts a run.
type ErrorCategory string

const (
	CategoryInvalidPortSpec   ErrorCategory = "invalid_port_spec"
	CategoryEmptyIdentityList ErrorCategory = "empty_identity_list"
	CategoryScoringArity      ErrorCategory = "scoring_arity"
	CategoryInvalidConfig     ErrorCategory = "invalid_config"
	CategoryEnumerationFailed ErrorCategory = "enumeration_failed"
)

// BatchError aborts a whole run. Per-asset failures are never BatchErrors;
// they are carried inside the asset's own record.
type BatchError struct {
	Category ErrorCategory
	Err      error
}

func NewBatchError(category ErrorCategory, err error) *BatchError {
	return &BatchError{Category: category, Err: err}
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// CategoryOf returns the category of the first BatchError in err's chain.
func CategoryOf(err error) (ErrorCategory, bool) {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Category, true
	}
	return "", false
}

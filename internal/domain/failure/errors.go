// Package failure declares the error taxonomy shared by the orchestration engines.
package failure

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrValidation is returned for rejected input such as a cyclic dependency or a missing approver
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrTransientStore is returned when the record store failed in a way worth retrying
	ErrTransientStore = errors.New("transient store failure")

	// ErrWorkflowLogic is returned when a step handler reports failure
	ErrWorkflowLogic = errors.New("workflow step failed")

	// ErrSyncDivergence is returned when a paired aggregate could not be brought in line
	ErrSyncDivergence = errors.New("status sync diverged")

	// ErrConflict is returned when an operation races with a state it no longer applies to
	ErrConflict = errors.New("state conflict")
)

// Validationf wraps a formatted message with ErrValidation
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps a formatted message with ErrNotFound
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Transient marks err as a transient store failure
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransientStore, err)
}

// IsRetryable reports whether an operation failing with err may succeed on a later attempt.
// Validation, not-found, conflict and workflow logic errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrWorkflowLogic):
		return false
	}
	return true
}

// FromValidator converts validator/v10 errors into ErrValidation naming the failing fields
func FromValidator(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msg := ""
		for i, fe := range verrs {
			if i > 0 {
				msg += "; "
			}
			msg += fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag())
		}
		return Validationf("%s", msg)
	}
	return Validationf("%v", err)
}

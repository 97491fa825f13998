package invoicing

import (
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrSweepInProgress is returned when an overdue sweep is already running
	ErrSweepInProgress = errors.New("overdue sweep already in progress")
)

// ValidationError is a rejected input. Its message is safe to show to users.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(message string) error {
	return &ValidationError{Message: message}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

package library

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistenceRead marks a stored collection that could not be read or decoded.
	ErrPersistenceRead = errors.New("library: persistence read failed")
	// ErrPersistenceWrite marks a collection that could not be stored.
	ErrPersistenceWrite = errors.New("library: persistence write failed")
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("library: game not found")
)

// ValidationError reports a draft rejected at the save boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

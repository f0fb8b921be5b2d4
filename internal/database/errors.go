package database

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks caller mistakes detected before any request is sent.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDatabaseError marks failures talking to or decoding from Supabase.
	ErrDatabaseError = errors.New("database error")
)

// NotFoundError reports a missing row.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFoundError returns a NotFoundError for resource/id.
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidInput marks client mistakes: bad uploads, unreadable policy,
	// empty bundles, malformed queries.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorage marks a failed write to the similarity-search store.
	ErrStorage = errors.New("storage failure")
)

// Error carries the HTTP status a failure should be reported with.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

// Invalid builds a client input error. The message is shown to the caller verbatim.
func Invalid(format string, args ...interface{}) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrInvalidInput,
	}
}

// Storage wraps err as a store failure.
func Storage(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// MapError resolves err to an *Error. Anything unrecognized becomes a 500
// with a generic message.
func MapError(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, ErrInvalidInput) {
		return New(http.StatusBadRequest, err.Error(), err)
	}
	return New(http.StatusInternalServerError, "internal server error", err)
}

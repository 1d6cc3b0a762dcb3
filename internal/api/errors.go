package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnavailable indicates the circuit breaker is open and requests are
// being refused without reaching the server.
var ErrUnavailable = errors.New("api: server unavailable")

// Error is a non-2xx response from the server.
type Error struct {
	// Status is the HTTP status code.
	Status int

	// Op names the operation that failed, e.g. "send-message".
	Op string

	// Message is the server-provided error description, if any.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("api: %s: %s (status %d)", e.Op, msg, e.Status)
}

// IsNotFound reports whether the error is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsUnauthorized reports whether the error is a 401 response.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

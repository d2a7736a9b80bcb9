package transport

import (
	"errors"
	"fmt"
)

// ErrTimeout is the cause recorded when an attempt exceeds the request timeout.
var ErrTimeout = errors.New("request timeout")

// FatalHTTPError is returned immediately for a non-transient non-2xx status.
type FatalHTTPError struct {
	Status int
	// Body is a bounded prefix of the response body, for diagnostics.
	Body string
}

func (e *FatalHTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fatal http status %d", e.Status)
	}
	return fmt.Sprintf("fatal http status %d: %s", e.Status, e.Body)
}

// ExhaustedRetriesError is returned when every attempt was classified transient.
type ExhaustedRetriesError struct {
	Attempts int
	// LastCause is the classified cause of the final attempt, e.g. "status_503" or "timeout".
	LastCause string
	// LastStatus is the final HTTP status, or 0 when the last attempt timed out.
	LastStatus int
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("exhausted %d attempts (last cause: %s)", e.Attempts, e.LastCause)
}

// IsFatal reports whether err is a FatalHTTPError.
func IsFatal(err error) bool {
	var fe *FatalHTTPError
	return errors.As(err, &fe)
}

// IsExhausted reports whether err is an ExhaustedRetriesError.
func IsExhausted(err error) bool {
	var ee *ExhaustedRetriesError
	return errors.As(err, &ee)
}

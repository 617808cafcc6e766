package api

import "fmt"

// StatusError is a non-auth REST failure. It is surfaced to the caller as a
// retryable error and never mutates any store.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

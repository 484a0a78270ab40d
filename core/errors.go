package core

import "fmt"

// The gateway error taxonomy. Validation failures surface verbatim to the
// caller with HTTP 400; auth and upstream failures map to HTTP 500 with a
// generic message while the detail stays in the server logs.

// ValidationError reports a missing required field in a caller request.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// AuthError reports a failure to acquire the upstream bearer credential.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("failed to acquire access token: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError reports a transport failure or non-2xx response from the
// reasoning engine.
type UpstreamError struct {
	Operation string // upstream class_method that failed
	Status    int    // HTTP status when one was received, 0 on transport failure
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s returned status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

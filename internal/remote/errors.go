package remote

import (
	"errors"
	"fmt"
)

// NetworkError is a transient transport failure. The affected queue items
// stay pending and are retried on the next triggered pass.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthError means the credential was rejected. It aborts the whole pass and
// is never retried automatically; the collaborator must re-authenticate.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (status %d)", e.StatusCode)
}

// ServerError is a remote-side failure. Retried like a network error but
// logged distinctly.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("server error (status %d)", e.StatusCode)
}

// IsAuth reports whether err is an authentication failure
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsNetwork reports whether err is a transient transport failure
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsServer reports whether err is a remote-side failure
func IsServer(err error) bool {
	var srvErr *ServerError
	return errors.As(err, &srvErr)
}

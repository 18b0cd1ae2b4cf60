package policyapi

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for 404 answers.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned for 401/403 answers and failed logins.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRejected is returned for any other 4xx answer: the API understood
	// the request and refused it.
	ErrRejected = errors.New("rejected by policy api")

	// ErrUnavailable is returned for 5xx answers, transport failures and an
	// open circuit breaker.
	ErrUnavailable = errors.New("policy api unavailable")

	// ErrMalformedResponse is returned when a 2xx body cannot be decoded or
	// lacks required fields.
	ErrMalformedResponse = errors.New("malformed policy api response")
)

// APIError describes a failed call to the Policy API.
type APIError struct {
	Op         string // client operation, e.g. "FetchPolicy"
	StatusCode int    // 0 when no HTTP answer was received
	Message    string // message from the response body, if any
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("policyapi %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("policyapi %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("policyapi %s: %v", e.Op, e.Err)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the Policy API.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRejected reports whether the Policy API refused the request (4xx other
// than 401/403/404).
func IsRejected(err error) bool { return errors.Is(err, ErrRejected) }

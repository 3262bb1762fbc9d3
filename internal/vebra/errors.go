package vebra

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuthenticationFailed is returned when the credential exchange is rejected
	// or suppressed by the cooldown window.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrTokenMissing is returned when the credential exchange succeeds but no
	// token header is present on the response.
	ErrTokenMissing = errors.New("no token received from upstream")
)

// AuthError describes a failed or suppressed credential exchange.
// It matches ErrAuthenticationFailed with errors.Is.
type AuthError struct {
	// Status and Body of the upstream response; zero when no request was made.
	Status int
	Body   string

	// RetryAfter is set when the exchange was suppressed by the cooldown window.
	RetryAfter time.Duration
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: recent authentication failure; upstream may hold an active token (retry in %s)",
			ErrAuthenticationFailed, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%s - please check username and password: %d - %s", ErrAuthenticationFailed, e.Status, e.Body)
}

func (e *AuthError) Unwrap() error {
	return ErrAuthenticationFailed
}

// UpstreamError is a non-2xx response from the upstream API.
type UpstreamError struct {
	Status int
	Body   string

	// Retried reports whether the response came from the single retry after reauthentication.
	Retried bool
}

func (e *UpstreamError) Error() string {
	if e.Retried {
		return fmt.Sprintf("API error after retry: %d - %s", e.Status, e.Body)
	}
	return fmt.Sprintf("API error: %d - %s", e.Status, e.Body)
}

package usagegate

import "errors"

var (
	// ErrNotAuthenticated is returned when no caller identity is
	// available or the usage service rejects the caller's credentials.
	// Metered actions require identity; this is the only failure-mode
	// error Evaluate propagates.
	ErrNotAuthenticated = errors.New("caller not authenticated")

	// ErrUnknownAction is returned for an action outside the metered set.
	ErrUnknownAction = errors.New("unknown metered action")

	// ErrAuthorityUnavailable is returned by Authority implementations
	// when the usage service is unreachable or returned a server error.
	ErrAuthorityUnavailable = errors.New("usage service unavailable")

	// ErrMalformedResponse is returned by Authority implementations when
	// the usage service response cannot be parsed.
	ErrMalformedResponse = errors.New("malformed usage service response")
)

package usagegate

import "context"

// Authority is the remote usage service that owns limit enforcement.
// Both methods are network I/O over an authenticated channel and may fail
// with ErrAuthorityUnavailable or ErrMalformedResponse.
type Authority interface {
	// RecordUsage asks the service to authorize and record one unit of
	// the given action for the user. Not idempotent by contract: call
	// at most once per logical user action. When the returned decision
	// denies the action, the service recorded no usage.
	RecordUsage(ctx context.Context, userID string, action Action, metadata map[string]string) (*Decision, error)

	// FetchSnapshot returns the authoritative metering state for the
	// user. Read-only and safe to retry.
	FetchSnapshot(ctx context.Context, userID string) (*Snapshot, error)
}

// Identity resolves the authenticated caller for the current operation.
type Identity interface {
	// UserID returns the caller's user ID, or "" when no caller is
	// authenticated.
	UserID(ctx context.Context) string
}

// IdentityFunc adapts a function to the Identity interface.
type IdentityFunc func(ctx context.Context) string

func (f IdentityFunc) UserID(ctx context.Context) string { return f(ctx) }

// StaticIdentity returns an Identity that always reports the given user.
// Useful for mobile sessions where one signed-in user owns the process.
func StaticIdentity(userID string) Identity {
	return IdentityFunc(func(context.Context) string { return userID })
}

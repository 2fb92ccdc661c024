package security

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when an authenticated identity lacks the
// permission required for an operation.
var ErrForbidden = errors.New("access denied")

// AuthKind classifies authentication failures.
type AuthKind string

const (
	// AuthCredentials covers wrong passwords and challenge responses.
	AuthCredentials AuthKind = "credentials"

	// AuthNonce covers expired or tampered challenge nonces.
	AuthNonce AuthKind = "nonce"

	// AuthToken covers invalid, expired or revoked auth tokens.
	AuthToken AuthKind = "token"

	// AuthDisabled covers logins for disabled user accounts.
	AuthDisabled AuthKind = "disabled"

	// AuthBlocked covers sources rate limited after repeated failures.
	AuthBlocked AuthKind = "blocked"
)

// AuthError is an authentication failure with a stable kind for
// dispatch and a reason safe to log. The reason is never sent to
// clients.
type AuthError struct {
	Kind   AuthKind
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%s): %s", e.Kind, e.Reason)
}

func authErrorf(kind AuthKind, format string, args ...any) *AuthError {
	return &AuthError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// IsAuthError returns the AuthError wrapped in err, or nil.
func IsAuthError(err error) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return nil
}

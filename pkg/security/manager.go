package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/metrics"
	"github.com/hutchhq/hutch/pkg/storage"
)

// DefaultRealm is the authentication realm unless the server
// configuration sets another one. Password hashes bind to the realm,
// so changing it invalidates stored credentials.
const DefaultRealm = "Hutch"

// RegisterTypes adds the user and role object constructors to a
// storage registry.
func RegisterTypes(reg *storage.Registry) {
	reg.Register(UserInitializer, NewUserObject)
	reg.Register(RoleInitializer, NewRoleObject)
}

// Manager authenticates users and answers access control questions
// against the stored users and roles.
type Manager struct {
	root  *storage.Root
	realm string
	log   zerolog.Logger
}

// NewManager creates a security manager over the given storage. An
// empty realm falls back to DefaultRealm.
func NewManager(root *storage.Root, realm string) *Manager {
	if realm == "" {
		realm = DefaultRealm
	}
	return &Manager{
		root:  root,
		realm: realm,
		log:   log.WithComponent("security"),
	}
}

// Realm returns the active authentication realm.
func (m *Manager) Realm() string {
	return m.realm
}

// User loads a user account by id, or nil when missing.
func (m *Manager) User(id string) (*User, error) {
	if id == "" {
		return nil, nil
	}
	obj, err := m.root.LoadObject(UserPath.Child(id, false))
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	if obj == nil {
		return nil, nil
	}
	user, ok := obj.(*User)
	if !ok {
		return nil, fmt.Errorf("failed to load user %s: unexpected object type %T", id, obj)
	}
	return user, nil
}

// Role loads a role by id, or nil when missing.
func (m *Manager) Role(id string) (*Role, error) {
	if id == "" {
		return nil, nil
	}
	obj, err := m.root.LoadObject(RolePath.Child(id, false))
	if err != nil {
		return nil, fmt.Errorf("failed to load role %s: %w", id, err)
	}
	if obj == nil {
		return nil, nil
	}
	role, ok := obj.(*Role)
	if !ok {
		return nil, fmt.Errorf("failed to load role %s: unexpected object type %T", id, obj)
	}
	return role, nil
}

// EachRole walks all stored roles until fn returns false. Unloadable
// roles are logged and skipped.
func (m *Manager) EachRole(fn func(*Role) bool) error {
	return m.root.Query(RolePath, func(meta storage.Metadata) bool {
		obj, err := m.root.LoadObject(meta.Path)
		if err != nil || obj == nil {
			m.log.Warn().Err(err).Str("path", meta.Path.String()).Msg("Skipping unloadable role")
			return true
		}
		role, ok := obj.(*Role)
		if !ok {
			return true
		}
		return fn(role)
	})
}

// AuthByPassword authenticates with a plain-text password.
func (m *Manager) AuthByPassword(id, password string) (*User, error) {
	user, err := m.userForAuth(id)
	if err != nil {
		return nil, err
	}
	if !user.VerifyPassword(password) {
		return nil, m.denied(authErrorf(AuthCredentials, "wrong password for %s", id))
	}
	return user, nil
}

// AuthByChallenge authenticates a hash challenge handshake: the client
// proves knowledge of the password hash by returning it salted with a
// server nonce, so the hash never travels in clear.
func (m *Manager) AuthByChallenge(id, nonce, response string) (*User, error) {
	if err := VerifyNonce(nonce, time.Now()); err != nil {
		return nil, m.denied(err)
	}
	user, err := m.userForAuth(id)
	if err != nil {
		return nil, err
	}
	if !equalHash(response, ChallengeResponse(user.PasswordHash(), nonce)) {
		return nil, m.denied(authErrorf(AuthCredentials, "wrong challenge response for %s", id))
	}
	return user, nil
}

// AuthByToken authenticates a JWT or legacy auth token.
func (m *Manager) AuthByToken(token string) (*User, error) {
	id, err := TokenSubject(token)
	if err != nil {
		return nil, m.denied(err)
	}
	user, err := m.userForAuth(id)
	if err != nil {
		return nil, err
	}
	verified, err := VerifyToken(token, user.PasswordHash(), user.AuthorizedTime(), time.Now())
	if err != nil {
		return nil, m.denied(err)
	}
	if verified != id {
		return nil, m.denied(authErrorf(AuthToken, "token subject mismatch"))
	}
	return user, nil
}

// CreateNonce issues a challenge nonce for the hash handshake.
func (m *Manager) CreateNonce() string {
	return CreateNonce(time.Now())
}

// IssueToken creates an auth token for a user. A non-positive
// validity uses the default token lifetime; legacy selects the
// pre-JWT format.
func (m *Manager) IssueToken(id string, validity time.Duration, legacy bool) (string, error) {
	user, err := m.userForAuth(id)
	if err != nil {
		return "", err
	}
	if validity <= 0 {
		validity = DefaultTokenValidity
	}
	expiry := time.Now().Add(validity)
	if legacy {
		return CreateLegacyToken(id, user.PasswordHash(), expiry), nil
	}
	return CreateToken(id, user.PasswordHash(), expiry)
}

// HasAccess reports whether a user (nil for anonymous) holds the
// permission for an object path, without a caller constraint.
func (m *Manager) HasAccess(user *User, path, permission string) bool {
	return m.HasAccessVia(user, path, permission, "", nil)
}

// HasAccessVia reports whether a user holds the permission for an
// object path when called through via (the caller's storage path) or,
// when via is empty, from any of the procedure ids on the call stack.
// Roles are scanned in storage order; the first decisive rule wins and
// a deny rule blocks all later grants. Default is deny.
func (m *Manager) HasAccessVia(user *User, path, permission, via string, stack []string) bool {
	permission = strings.ToLower(strings.TrimSpace(permission))
	if permission == "" {
		permission = PermRead
	}
	decision := DecisionNone
	m.EachRole(func(role *Role) bool {
		if !role.AppliesTo(user) {
			return true
		}
		if d := role.Access(path, permission, via, stack); d != DecisionNone {
			decision = d
			return false
		}
		return true
	})
	return decision == DecisionAllow
}

// AccessPath converts a storage path to the form used in access
// rules, without the leading slash.
func AccessPath(path data.Path) string {
	return strings.TrimPrefix(path.String(), "/")
}

// userForAuth loads a user for an authentication attempt, rejecting
// unknown and disabled accounts.
func (m *Manager) userForAuth(id string) (*User, error) {
	user, err := m.User(id)
	if err != nil {
		return nil, m.denied(authErrorf(AuthCredentials, "user lookup failed: %v", err))
	}
	if user == nil {
		return nil, m.denied(authErrorf(AuthCredentials, "unknown user %s", id))
	}
	if !user.IsEnabled() {
		return nil, m.denied(authErrorf(AuthDisabled, "user %s is disabled", id))
	}
	return user, nil
}

// denied records a failed authentication and returns the error.
func (m *Manager) denied(err error) error {
	metrics.AuthFailuresTotal.Inc()
	if authErr := IsAuthError(err); authErr != nil {
		m.log.Warn().
			Str("kind", string(authErr.Kind)).
			Str("reason", authErr.Reason).
			Msg("Authentication failed")
	} else {
		m.log.Warn().Err(err).Msg("Authentication failed")
	}
	return err
}

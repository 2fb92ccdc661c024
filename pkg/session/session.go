// Package session tracks client sessions as storage objects with
// sliding expiry: thirty minutes for anonymous sessions, thirty days
// once a user is bound. Sessions also track temporary files, removed
// with the session.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/storage"
)

// SessionType is the storage type identifier for sessions.
const SessionType = "session"

// SessionInitializer is the registry symbol constructing session
// objects.
const SessionInitializer = "session/session"

// SessionPath is the storage index holding sessions.
var SessionPath = data.NewPath("/session/")

// Session lifetimes. Anonymous sessions are short-lived; a successful
// authentication extends the session to the authenticated lifetime.
const (
	AnonymousTTL     = 30 * time.Minute
	AuthenticatedTTL = 30 * 24 * time.Hour
)

// RegisterTypes adds the session object constructor to a storage
// registry.
func RegisterTypes(reg *storage.Registry) {
	reg.Register(SessionInitializer, NewSessionObject)
}

// Session is a stored client session. Sessions track the bound user,
// creation and expiry times and the last access, which is refreshed on
// every request and persisted through cache write-backs.
type Session struct {
	*storage.BaseObject
}

// NewSessionObject constructs a session from its stored dictionary.
func NewSessionObject(id, typ string, d *data.Dict) (storage.Object, error) {
	return &Session{BaseObject: storage.NewBaseObject(id, typ, d)}, nil
}

// newSessionDict builds the dictionary for a fresh session.
func newSessionDict(id, userID, ip, client string, now time.Time) *data.Dict {
	ttl := AnonymousTTL
	if userID != "" {
		ttl = AuthenticatedTTL
	}
	d := data.NewDict()
	d.Set("id", id)
	d.Set("type", SessionType)
	d.Set("user", userID)
	d.Set("createTime", now)
	d.Set("destroyTime", now.Add(ttl))
	d.Set("accessedTime", now)
	d.Set("ip", ip)
	d.Set("client", client)
	return d
}

// newSessionID returns a fresh unguessable session identifier.
func newSessionID() (string, error) {
	raw := make([]byte, 30)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// UserID returns the bound user id, or an empty string for anonymous
// sessions.
func (s *Session) UserID() string {
	return s.Dict().GetString("user", "")
}

// IsAuthenticated reports whether a user is bound to this session.
func (s *Session) IsAuthenticated() bool {
	return s.UserID() != ""
}

// CreateTime returns the session creation time.
func (s *Session) CreateTime() time.Time {
	return s.Dict().GetTime("createTime", time.Time{})
}

// DestroyTime returns the scheduled expiry time.
func (s *Session) DestroyTime() time.Time {
	return s.Dict().GetTime("destroyTime", time.Time{})
}

// AccessedTime returns the last request time.
func (s *Session) AccessedTime() time.Time {
	return s.Dict().GetTime("accessedTime", time.Time{})
}

// IP returns the client address the session was created from.
func (s *Session) IP() string {
	return s.Dict().GetString("ip", "")
}

// Client returns the client identifier (user agent).
func (s *Session) Client() string {
	return s.Dict().GetString("client", "")
}

// IsValid reports whether the session has not yet expired.
func (s *Session) IsValid(now time.Time) bool {
	destroy := s.DestroyTime()
	return !destroy.IsZero() && now.Before(destroy)
}

// TTL returns the session lifetime, longer once a user is bound.
func (s *Session) TTL() time.Duration {
	if s.IsAuthenticated() {
		return AuthenticatedTTL
	}
	return AnonymousTTL
}

// Touch refreshes the last access time, pushes the expiry forward by
// the session TTL and flags the session for write-back on the next
// cache sweep.
func (s *Session) Touch(now time.Time) {
	s.Dict().Set("accessedTime", now)
	s.Dict().Set("destroyTime", now.Add(s.TTL()))
	s.MarkModified()
}

// Authenticate binds a user to the session and extends its lifetime
// to the authenticated TTL. A session bound to one user can never be
// re-bound to another.
func (s *Session) Authenticate(userID string, now time.Time) error {
	if userID == "" {
		return fmt.Errorf("failed to authenticate session %s: empty user id", s.ID())
	}
	if bound := s.UserID(); bound != "" && bound != userID {
		return fmt.Errorf("failed to authenticate session %s: already bound to %s", s.ID(), bound)
	}
	s.Dict().Set("user", userID)
	s.Touch(now)
	return nil
}

// Invalidate expires the session immediately.
func (s *Session) Invalidate(now time.Time) {
	s.Dict().Set("destroyTime", now)
	s.MarkModified()
}

// filesKey is the hidden dictionary tracking per-session temporary
// files, keyed by a caller-chosen name.
const filesKey = ".files"

// AddFile tracks a temporary file owned by this session. Tracked
// files are deleted when the session is destroyed.
func (s *Session) AddFile(name, path string) {
	// A miss hands back a detached dict, so it must be linked in
	// before it can track anything.
	files := s.Dict().GetDict(filesKey)
	if !s.Dict().Has(filesKey) {
		s.Dict().Set(filesKey, files)
	}
	files.Set(name, path)
	s.MarkModified()
}

// RemoveFile stops tracking a temporary file without deleting it.
func (s *Session) RemoveFile(name string) {
	if !s.Dict().Has(filesKey) {
		return
	}
	s.Dict().GetDict(filesKey).Remove(name)
	s.MarkModified()
}

// Files returns the tracked temporary file paths by name.
func (s *Session) Files() map[string]string {
	files := s.Dict().GetDict(filesKey)
	out := make(map[string]string, len(files.Keys()))
	for _, name := range files.Keys() {
		out[name] = files.GetString(name, "")
	}
	return out
}

// Destroy deletes the session's tracked temporary files.
func (s *Session) Destroy() {
	logger := log.WithComponent("session")
	for _, file := range s.Files() {
		if file == "" {
			continue
		}
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			logger.Warn().
				Err(err).
				Str("session", s.ID()).
				Msg("Failed to remove session temp file")
		}
	}
}

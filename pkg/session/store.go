package session

import (
	"fmt"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/events"
	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/metrics"
	"github.com/hutchhq/hutch/pkg/storage"
)

// Create starts a fresh session and persists it. An empty userID
// creates an anonymous session with the short TTL.
func Create(root *storage.Root, userID, ip, client string) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	dict := newSessionDict(id, userID, ip, client, now)
	path := SessionPath.Child(id, false)
	if err := root.Store(path, dict); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	obj, err := root.LoadObject(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s, ok := obj.(*Session)
	if !ok {
		return nil, fmt.Errorf("failed to create session: stored object is %T", obj)
	}
	metrics.SessionsActive.Inc()
	return s, nil
}

// Find returns the session with the given id, or nil when missing or
// not a session object.
func Find(root *storage.Root, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	obj, err := root.LoadObject(SessionPath.Child(id, false))
	if err != nil || obj == nil {
		return nil, err
	}
	s, _ := obj.(*Session)
	return s, nil
}

// Save writes the session through to storage immediately, rather than
// waiting for the next cache write-back sweep.
func Save(root *storage.Root, s *Session) error {
	if err := root.Store(SessionPath.Child(s.ID(), false), s.Dict()); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID(), err)
	}
	s.ClearModified()
	return nil
}

// Remove destroys a session: tracked temp files are deleted, the
// stored object removed and a destroy event published.
func Remove(root *storage.Root, broker *events.Broker, id string) error {
	s, err := Find(root, id)
	if err != nil {
		return err
	}
	if s != nil {
		s.Destroy()
	}
	if err := root.Remove(SessionPath.Child(id, false)); err != nil {
		return fmt.Errorf("failed to remove session %s: %w", id, err)
	}
	metrics.SessionsActive.Dec()
	if broker != nil {
		broker.Emit(events.EventSessionDestroyed, SessionPath.Child(id, false).String(), "")
	}
	return nil
}

// UserCheck reports whether a bound user id is still usable. A nil
// check accepts every user.
type UserCheck func(id string) bool

// RemoveExpired sweeps the session index and deletes sessions that
// have expired or whose bound user no longer passes the check.
// Individual delete failures are logged and the sweep continues.
func RemoveExpired(root *storage.Root, broker *events.Broker, usable UserCheck) int {
	logger := log.WithComponent("session")
	now := time.Now()
	var doomed []data.Path
	err := root.Query(SessionPath, func(meta storage.Metadata) bool {
		obj, err := root.LoadObject(meta.Path)
		if err != nil || obj == nil {
			return true
		}
		s, ok := obj.(*Session)
		if !ok {
			return true
		}
		expired := !s.IsValid(now)
		if !expired && s.IsAuthenticated() && usable != nil && !usable(s.UserID()) {
			expired = true
		}
		if expired {
			doomed = append(doomed, meta.Path)
		}
		return true
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Session sweep query failed")
	}
	removed := 0
	for _, path := range doomed {
		if err := Remove(root, broker, path.Name()); err != nil {
			logger.Warn().Err(err).Str("path", path.String()).Msg("Failed to remove expired session")
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info().Int("count", removed).Msg("Expired sessions removed")
	}
	return removed
}

package web

import (
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/hutchhq/hutch/pkg/security"
	"github.com/hutchhq/hutch/pkg/session"
)

// RequestContext carries the per-request state through the dispatch
// pipeline: the resolved user and session plus the request id used in
// logs. It is created per request and never shared.
type RequestContext struct {
	ID   string
	IP   string
	User *security.User

	session    *session.Session
	newSession bool
}

// newRequestContext creates the context for one inbound request.
func newRequestContext(r *http.Request) *RequestContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return &RequestContext{ID: uuid.NewString(), IP: ip}
}

// Session returns the bound session, or nil.
func (cx *RequestContext) Session() *session.Session {
	return cx.session
}

// SetSession binds a session created during handling; the dispatcher
// persists it and sets the cookie after the handler returns.
func (cx *RequestContext) SetSession(s *session.Session) {
	cx.session = s
	cx.newSession = true
}

// Authenticated reports whether a user is bound to this request.
func (cx *RequestContext) Authenticated() bool {
	return cx.User != nil
}

package web

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hutchhq/hutch/pkg/events"
	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/metrics"
	"github.com/hutchhq/hutch/pkg/security"
	"github.com/hutchhq/hutch/pkg/session"
	"github.com/hutchhq/hutch/pkg/storage"
)

// DefaultCookieName is the session cookie name.
const DefaultCookieName = "sessionid"

// matcherEntry pairs one matcher with the service answering it.
type matcherEntry struct {
	matcher   *Matcher
	serviceID string
	order     int
}

// Dispatcher routes inbound requests: it resolves the caller
// (session cookie or Authorization header), scores the cached matcher
// table, dispatches to the winning service and writes the session
// back afterwards. The matcher cache is rebuilt only on reset and
// plug-in operations, never per request.
type Dispatcher struct {
	root    *storage.Root
	sec     *security.Manager
	broker  *events.Broker
	reg     *metrics.Registry
	limiter *security.FailureLimiter

	CookieName string
	CookiePath string

	services map[string]Service
	direct   []matcherEntry

	mu      sync.RWMutex
	entries []matcherEntry

	log zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given storage tree and
// security manager.
func NewDispatcher(root *storage.Root, sec *security.Manager, broker *events.Broker, reg *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		root:       root,
		sec:        sec,
		broker:     broker,
		reg:        reg,
		limiter:    security.NewFailureLimiter(0, 0),
		CookieName: DefaultCookieName,
		CookiePath: "/",
		services:   make(map[string]Service),
		log:        log.WithComponent("web"),
	}
}

// RegisterService binds a service implementation to a web service id.
// Stored web service configs reference implementations by id; built-in
// services may also pass their matchers directly. Registration
// happens at wiring time, before the dispatcher serves.
func (d *Dispatcher) RegisterService(id string, svc Service, matchers ...*Matcher) {
	d.services[id] = svc
	for _, m := range matchers {
		d.direct = append(d.direct, matcherEntry{matcher: m, serviceID: id})
	}
	d.swapEntries(d.buildEntries(nil))
}

// RebuildMatchers reloads the matcher table from the stored web
// service configs, keeping directly registered matchers. The table is
// swapped in one step, so concurrent dispatches see either the old
// set or the complete new set.
func (d *Dispatcher) RebuildMatchers() error {
	var stored []matcherEntry
	err := d.root.Query(WebServicePath, func(meta storage.Metadata) bool {
		obj, err := d.root.LoadObject(meta.Path)
		if err != nil || obj == nil {
			return true
		}
		ws, ok := obj.(*WebService)
		if !ok {
			return true
		}
		for _, m := range ws.Matchers() {
			stored = append(stored, matcherEntry{matcher: m, serviceID: ws.ID()})
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild matchers: %w", err)
	}
	entries := d.buildEntries(stored)
	d.swapEntries(entries)
	d.log.Debug().Int("matchers", len(entries)).Msg("Matcher table rebuilt")
	return nil
}

// buildEntries renumbers the direct and stored matchers in
// declaration order.
func (d *Dispatcher) buildEntries(stored []matcherEntry) []matcherEntry {
	entries := make([]matcherEntry, 0, len(d.direct)+len(stored))
	for _, e := range append(append([]matcherEntry{}, d.direct...), stored...) {
		e.order = len(entries)
		entries = append(entries, e)
	}
	return entries
}

func (d *Dispatcher) swapEntries(entries []matcherEntry) {
	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
}

func (d *Dispatcher) snapshotEntries() []matcherEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries
}

// ServeHTTP runs the request pipeline.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cx := newRequestContext(r)
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

	authErr := d.resolveCaller(r, cx)

	entry := d.selectMatcher(r)
	if entry == nil {
		Error(sw, http.StatusNotFound, "not found")
		d.finish(sw, r, cx, start, nil)
		return
	}
	if authErr != nil || (entry.matcher.Auth && !cx.Authenticated()) {
		d.challenge(sw, cx)
		d.finish(sw, r, cx, start, authErr)
		return
	}
	svc, ok := d.services[entry.serviceID]
	if !ok {
		d.log.Error().Str("service", entry.serviceID).Msg("Matched service has no implementation")
		Error(sw, http.StatusNotFound, "not found")
		d.finish(sw, r, cx, start, nil)
		return
	}
	metrics.DispatchTotal.WithLabelValues(entry.serviceID).Inc()
	svc.Serve(sw, r, cx)
	d.finish(sw, r, cx, start, nil)
}

// resolveCaller binds the request's user from the session cookie or
// an Authorization header. Auth failures clear any partially resolved
// identity and count against the client's failure budget.
func (d *Dispatcher) resolveCaller(r *http.Request, cx *RequestContext) error {
	if cookie, err := r.Cookie(d.CookieName); err == nil && cookie.Value != "" {
		s, err := session.Find(d.root, cookie.Value)
		if err == nil && s != nil && s.IsValid(time.Now()) {
			cx.session = s
			if id := s.UserID(); id != "" {
				if user, err := d.sec.User(id); err == nil && user != nil && user.IsEnabled() {
					cx.User = user
				}
			}
			return nil
		}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil
	}
	if d.limiter.Blocked(cx.IP) {
		return security.ErrForbidden
	}
	user, err := d.authenticate(header)
	if err != nil {
		cx.User = nil
		cx.session = nil
		d.limiter.Fail(cx.IP)
		return err
	}
	d.limiter.Reset(cx.IP)
	cx.User = user
	return nil
}

// authenticate verifies one Authorization header value.
func (d *Dispatcher) authenticate(header string) (*security.User, error) {
	scheme, rest, _ := strings.Cut(header, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(scheme) {
	case "digest":
		params := parseDigest(rest)
		return d.sec.AuthByChallenge(params["username"], params["nonce"], params["response"])
	case "token", "bearer":
		return d.sec.AuthByToken(rest)
	}
	return nil, fmt.Errorf("unsupported authorization scheme %s", scheme)
}

// challenge sends a 401 with a fresh digest nonce. The response never
// reveals why authentication failed.
func (d *Dispatcher) challenge(w http.ResponseWriter, cx *RequestContext) {
	cx.User = nil
	cx.session = nil
	header := fmt.Sprintf("Digest realm=%q, nonce=%q", d.sec.Realm(), d.sec.CreateNonce())
	w.Header().Set("WWW-Authenticate", header)
	Error(w, http.StatusUnauthorized, "authentication required")
}

// selectMatcher returns the highest scoring matcher for the request,
// earliest declaration winning ties, or nil when nothing matches.
func (d *Dispatcher) selectMatcher(r *http.Request) *matcherEntry {
	entries := d.snapshotEntries()
	var best *matcherEntry
	bestScore := 0
	for i := range entries {
		e := &entries[i]
		if score := e.matcher.Match(r); score > bestScore {
			best = e
			bestScore = score
		}
	}
	return best
}

// Allow returns the methods answered for a request across all
// matchers and the given service, for 405 responses.
func (d *Dispatcher) Allow(r *http.Request, svc Service) []string {
	seen := make(map[string]bool)
	for _, m := range svc.Methods(r) {
		seen[m] = true
	}
	for _, e := range d.snapshotEntries() {
		if e.matcher.Method != "" && e.matcher.MatchAnyMethod(r) > 0 {
			seen[e.matcher.Method] = true
		}
	}
	methods := make([]string, 0, len(seen))
	for m := range seen {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// finish writes the session back, sets the cookie for fresh sessions
// and records the request metrics. The session write happens before
// the response finishes so a crash never loses the access-time
// update.
func (d *Dispatcher) finish(w http.ResponseWriter, r *http.Request, cx *RequestContext, start time.Time, authErr error) {
	if s := cx.session; s != nil {
		s.Touch(time.Now())
		if err := session.Save(d.root, s); err != nil {
			d.log.Warn().Err(err).Str("session", s.ID()).Msg("Session write-back failed")
		} else if cx.newSession {
			http.SetCookie(w, &http.Cookie{
				Name:     d.CookieName,
				Value:    s.ID(),
				Path:     d.CookiePath,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			if d.broker != nil {
				d.broker.Emit(events.EventSessionCreated, session.SessionPath.Child(s.ID(), false).String(), "")
			}
		}
	}
	if d.reg != nil && cx.User != nil {
		var callErr error
		if sw, ok := w.(*statusWriter); ok && sw.status >= http.StatusBadRequest {
			callErr = fmt.Errorf("status %d", sw.status)
		}
		d.reg.Record(metrics.CategoryUser, cx.User.ID(), start, callErr)
	}
	status := http.StatusOK
	if sw, ok := w.(*statusWriter); ok {
		status = sw.status
	}
	if authErr != nil {
		metrics.AuthFailuresTotal.Inc()
	}
	metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	cx.User = nil
	cx.session = nil
}

// parseDigest splits the comma-separated key=value parameters of a
// Digest authorization header.
func parseDigest(s string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return params
}

// statusWriter records the response status for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

// SessionFor returns the request's session, creating and binding a
// fresh one when the request has none. Services call this when they
// need session affinity.
func (d *Dispatcher) SessionFor(cx *RequestContext, client string) (*session.Session, error) {
	if cx.session != nil {
		return cx.session, nil
	}
	userID := ""
	if cx.User != nil {
		userID = cx.User.ID()
	}
	s, err := session.Create(d.root, userID, cx.IP, client)
	if err != nil {
		return nil, err
	}
	cx.SetSession(s)
	return s, nil
}

package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/hutchhq/hutch/pkg/data"
)

// Matcher binds one request pattern to a web service. Matchers carry
// a pre-computed score so dispatch is a single comparison pass: the
// more specific a matcher, the higher its score, and path length plus
// an explicit prio break near-ties.
type Matcher struct {
	Method   string
	Protocol string
	Host     string
	Port     int
	Path     string
	Auth     bool
	Prio     int

	score int
}

// ParseMatcher reads a matcher from its stored form.
func ParseMatcher(d *data.Dict) *Matcher {
	m := &Matcher{
		Method:   strings.ToUpper(d.GetString("method", "")),
		Protocol: strings.ToLower(d.GetString("protocol", "")),
		Host:     strings.ToLower(d.GetString("host", "")),
		Port:     d.GetInt("port", 0),
		Path:     d.GetString("path", ""),
		Auth:     d.GetBool("auth", false),
		Prio:     d.GetInt("prio", 0),
	}
	m.computeScore()
	return m
}

// NewMatcher creates a matcher for a path with optional method.
func NewMatcher(method, path string, auth bool, prio int) *Matcher {
	m := &Matcher{Method: strings.ToUpper(method), Path: path, Auth: auth, Prio: prio}
	m.computeScore()
	return m
}

// computeScore derives the static specificity score. Each declared
// predicate adds a band so no amount of path length outweighs an
// extra predicate.
func (m *Matcher) computeScore() {
	score := 1 + len(m.Path) + m.Prio
	if m.Method != "" {
		score += 400
	}
	if m.Protocol != "" {
		score += 300
	}
	if m.Host != "" {
		score += 200
	}
	if m.Port > 0 {
		score += 100
	}
	m.score = score
}

// Score returns the static specificity score.
func (m *Matcher) Score() int {
	return m.score
}

// Match scores this matcher against a request. A full predicate and
// path-boundary match returns the full score, a bare prefix match one
// less, any mismatch zero.
func (m *Matcher) Match(r *http.Request) int {
	if m.Method != "" && m.Method != r.Method {
		return 0
	}
	return m.MatchAnyMethod(r)
}

// MatchAnyMethod scores the matcher ignoring its method predicate,
// used to build Allow headers for 405 responses.
func (m *Matcher) MatchAnyMethod(r *http.Request) int {
	if m.Protocol != "" {
		proto := "http"
		if r.TLS != nil {
			proto = "https"
		}
		if m.Protocol != proto {
			return 0
		}
	}
	host, port := splitHostPort(r.Host)
	if m.Host != "" && m.Host != host {
		return 0
	}
	if m.Port > 0 && m.Port != port {
		return 0
	}
	path := r.URL.Path
	prefix := m.Path
	switch {
	case path == prefix, strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/"):
		return m.score
	case strings.HasPrefix(path, prefix):
		return m.score - 1
	}
	return 0
}

func splitHostPort(hostport string) (string, int) {
	host := hostport
	port := 0
	if idx := strings.LastIndexByte(hostport, ':'); idx != -1 {
		if p, err := strconv.Atoi(hostport[idx+1:]); err == nil {
			host = hostport[:idx]
			port = p
		}
	}
	return strings.ToLower(host), port
}

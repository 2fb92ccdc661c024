package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchhq/hutch/pkg/data"
)

func TestMatcherScoreBands(t *testing.T) {
	bare := NewMatcher("", "/api/", false, 0)
	assert.Equal(t, 1+len("/api/"), bare.Score())

	withMethod := NewMatcher("GET", "/api/", false, 0)
	assert.Equal(t, 400+1+len("/api/"), withMethod.Score())

	// an extra predicate always outweighs a longer path
	long := NewMatcher("", "/api/some/very/deep/prefix/", false, 0)
	assert.Greater(t, withMethod.Score(), long.Score())

	prio := NewMatcher("", "/api/", false, 7)
	assert.Equal(t, bare.Score()+7, prio.Score())
}

func TestMatcherPathBoundary(t *testing.T) {
	m := NewMatcher("", "/api/users", false, 0)

	exact := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	assert.Equal(t, m.Score(), m.Match(exact))

	sub := httptest.NewRequest(http.MethodGet, "/api/users/42", nil)
	assert.Equal(t, m.Score(), m.Match(sub))

	// prefix without a path boundary scores one less
	bare := httptest.NewRequest(http.MethodGet, "/api/usersfoo", nil)
	assert.Equal(t, m.Score()-1, m.Match(bare))

	miss := httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	assert.Zero(t, m.Match(miss))
}

func TestMatcherPredicates(t *testing.T) {
	m := &Matcher{Method: "GET", Host: "example.com", Port: 8080, Path: "/"}
	m.computeScore()

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Host = "example.com:8080"
	assert.Equal(t, m.Score(), m.Match(r))

	r.Host = "other.com:8080"
	assert.Zero(t, m.Match(r))

	r.Host = "example.com:9090"
	assert.Zero(t, m.Match(r))

	r.Host = "example.com:8080"
	post := httptest.NewRequest(http.MethodPost, "/x", nil)
	post.Host = r.Host
	assert.Zero(t, m.Match(post))
	assert.Equal(t, m.Score(), m.MatchAnyMethod(post))
}

func TestMatcherMethodBeatsPathLength(t *testing.T) {
	post := NewMatcher("POST", "/api/users", false, 0)
	get := NewMatcher("GET", "/api/users/", false, 0)

	r := httptest.NewRequest(http.MethodGet, "/api/users/42", nil)
	assert.Zero(t, post.Match(r))
	assert.Equal(t, get.Score(), get.Match(r))

	r = httptest.NewRequest(http.MethodPost, "/api/users", nil)
	assert.Equal(t, post.Score(), post.Match(r))
	assert.Zero(t, get.Match(r))
}

func TestParseMatcher(t *testing.T) {
	d := data.NewDict()
	require.NoError(t, d.Set("method", "post"))
	require.NoError(t, d.Set("path", "/proc/"))
	require.NoError(t, d.Set("auth", true))
	require.NoError(t, d.Set("prio", 3))

	m := ParseMatcher(d)
	assert.Equal(t, "POST", m.Method)
	assert.Equal(t, "/proc/", m.Path)
	assert.True(t, m.Auth)
	assert.Equal(t, 400+1+len("/proc/")+3, m.Score())
}

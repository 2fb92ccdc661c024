package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/events"
	"github.com/hutchhq/hutch/pkg/proc"
	"github.com/hutchhq/hutch/pkg/security"
	"github.com/hutchhq/hutch/pkg/session"
	"github.com/hutchhq/hutch/pkg/storage"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *storage.Root, *security.Manager) {
	t.Helper()
	root := storage.NewRoot(nil)
	mem := storage.NewMemoryStorage()
	mount := data.NewPath("/storage/memory/test/")
	require.NoError(t, root.Mount(mem, mount))
	require.NoError(t, root.Remount(mount, false, data.Root, 0))

	RegisterTypes(root.Registry())
	security.RegisterTypes(root.Registry())
	session.RegisterTypes(root.Registry())
	for id, init := range map[string]string{
		WebServiceType:      WebServiceInitializer,
		security.UserType:   security.UserInitializer,
		security.RoleType:   security.RoleInitializer,
		session.SessionType: session.SessionInitializer,
	} {
		d := data.NewDict()
		d.Set("initializer", init)
		require.NoError(t, root.Store(storage.TypePath.Child(id, false), d))
	}

	sec := security.NewManager(root, "")
	admin := security.NewUser("admin", "Administrator", sec.Realm())
	require.NoError(t, admin.SetPassword("s3cret"))
	require.NoError(t, root.Store(security.UserPath.Child("admin", false), admin.Dict()))

	t.Cleanup(func() { root.Close() })
	return NewDispatcher(root, sec, nil, nil), root, sec
}

// textService answers every dispatched request with a fixed body.
type textService struct {
	*BaseService
}

func newTextService(body string) *textService {
	s := &textService{BaseService: NewBaseService()}
	s.Handle(http.MethodGet, func(w http.ResponseWriter, r *http.Request, cx *RequestContext) {
		fmt.Fprint(w, body)
	})
	return s
}

func TestDispatcherRouting(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	d.RegisterService("api", newTextService("api"), NewMatcher("GET", "/api/", false, 0))
	d.RegisterService("users", newTextService("users"), NewMatcher("GET", "/api/users/", false, 0))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "users", rec.Body.String())

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/other", nil))
	assert.Equal(t, "api", rec.Body.String())

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatcherTieBreak(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	d.RegisterService("first", newTextService("first"), NewMatcher("GET", "/same/", false, 0))
	d.RegisterService("second", newTextService("second"), NewMatcher("GET", "/same/", false, 0))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/same/x", nil))
	assert.Equal(t, "first", rec.Body.String())
}

func TestDispatcherSessionCookie(t *testing.T) {
	d, root, _ := newTestDispatcher(t)
	svc := &textService{BaseService: NewBaseService()}
	svc.Handle(http.MethodGet, func(w http.ResponseWriter, r *http.Request, cx *RequestContext) {
		s, err := d.SessionFor(cx, r.UserAgent())
		require.NoError(t, err)
		fmt.Fprint(w, s.ID())
	})
	d.RegisterService("app", svc, NewMatcher("GET", "/app/", false, 0))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Body.String()

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.Equal(t, sessionID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	stored, err := session.Find(root, sessionID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	// replay carries the cookie and keeps the session
	r := httptest.NewRequest(http.MethodGet, "/app/", nil)
	r.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, r)
	assert.Equal(t, sessionID, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())
}

func TestDispatcherAuthChallenge(t *testing.T) {
	d, _, sec := newTestDispatcher(t)
	d.RegisterService("secure", newTextService("secret"), NewMatcher("GET", "/secure/", true, 0))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secure/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	header := rec.Header().Get("WWW-Authenticate")
	assert.Contains(t, header, "Digest")
	assert.Contains(t, header, fmt.Sprintf("realm=%q", sec.Realm()))
	assert.Contains(t, header, "nonce=")
}

func TestDispatcherDigestAuth(t *testing.T) {
	d, _, sec := newTestDispatcher(t)
	svc := &textService{BaseService: NewBaseService()}
	svc.Handle(http.MethodGet, func(w http.ResponseWriter, r *http.Request, cx *RequestContext) {
		fmt.Fprint(w, cx.User.ID())
	})
	d.RegisterService("secure", svc, NewMatcher("GET", "/secure/", true, 0))

	nonce := sec.CreateNonce()
	hash := security.PasswordHash("admin", sec.Realm(), "s3cret")
	response := security.ChallengeResponse(hash, nonce)

	r := httptest.NewRequest(http.MethodGet, "/secure/", nil)
	r.Header.Set("Authorization",
		fmt.Sprintf(`Digest username="admin", nonce="%s", response="%s"`, nonce, response))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", rec.Body.String())
}

func TestDispatcherTokenAuth(t *testing.T) {
	d, _, sec := newTestDispatcher(t)
	svc := &textService{BaseService: NewBaseService()}
	svc.Handle(http.MethodGet, func(w http.ResponseWriter, r *http.Request, cx *RequestContext) {
		fmt.Fprint(w, cx.User.ID())
	})
	d.RegisterService("secure", svc, NewMatcher("GET", "/secure/", true, 0))

	token, err := sec.IssueToken("admin", time.Hour, false)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/secure/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", rec.Body.String())

	// a tampered token never reaches the service
	r = httptest.NewRequest(http.MethodGet, "/secure/", nil)
	r.Header.Set("Authorization", "Bearer "+token+"x")
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDispatcherRebuildMatchers(t *testing.T) {
	d, root, _ := newTestDispatcher(t)
	d.RegisterService("echo", newTextService("echo"))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	match := data.NewDict()
	match.Set("method", "GET")
	match.Set("path", "/echo/")
	cfg := data.NewDict()
	cfg.Set("id", "echo")
	cfg.Set("type", WebServiceType)
	cfg.Set("match", data.NewListOf(match))
	require.NoError(t, root.Store(WebServicePath.Child("echo", false), cfg))
	require.NoError(t, d.RebuildMatchers())

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo", rec.Body.String())
}

func TestBaseServiceProtocol(t *testing.T) {
	svc := newTextService("body")
	cx := &RequestContext{}

	rec := httptest.NewRecorder()
	svc.Serve(rec, httptest.NewRequest(http.MethodOptions, "/", nil), cx)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Allow"), http.MethodGet)
	assert.Contains(t, rec.Header().Get("Allow"), http.MethodHead)

	rec = httptest.NewRecorder()
	svc.Serve(rec, httptest.NewRequest(http.MethodHead, "/", nil), cx)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = httptest.NewRecorder()
	svc.Serve(rec, httptest.NewRequest(http.MethodDelete, "/", nil), cx)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Allow"))
}

func TestStatusService(t *testing.T) {
	d, root, _ := newTestDispatcher(t)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	svc := NewStatusService(root, broker, "1.2.3")
	d.RegisterService("status", svc, NewMatcher("GET", "/status", false, 0))

	broker.Emit(events.EventServerStarted, "/", "")
	time.Sleep(20 * time.Millisecond)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	body, err := data.Unmarshal(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "hutch", body.GetString("name", ""))
	assert.Equal(t, "1.2.3", body.GetString("version", ""))
	recent := body.GetList("events")
	require.NotNil(t, recent)
	assert.Equal(t, 1, recent.Len())
}

func TestProcService(t *testing.T) {
	d, root, sec := newTestDispatcher(t)
	lib := proc.NewLibrary(root)
	lib.AddBuiltIn(&proc.BuiltIn{
		ProcName: "greet",
		Inputs: proc.NewBindings(proc.Binding{
			Name: "name",
			Kind: proc.BindArgument,
		}),
		Handler: func(cx *proc.CallContext, bindings *data.Dict) (any, error) {
			return "hello " + bindings.GetString("name", ""), nil
		},
	})
	factory := func(r *http.Request) *proc.CallContext {
		return proc.NewCallContext(r.Context(), root, lib, sec, nil, nil)
	}
	d.RegisterService("proc", NewProcService(factory), NewMatcher("POST", "/proc/", false, 0))

	r := httptest.NewRequest(http.MethodPost, "/proc/greet", strings.NewReader(`{"name":"world"}`))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	out, err := data.Unmarshal(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.GetString("data", ""))

	// unknown procedures map to 404
	r = httptest.NewRequest(http.MethodPost, "/proc/missing", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// a missing argument is the caller's fault
	r = httptest.NewRequest(http.MethodPost, "/proc/greet", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

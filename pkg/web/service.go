package web

import (
	"net/http"
	"sort"
	"strings"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/storage"
)

// WebServiceType is the storage type prefix for web service configs.
const WebServiceType = "webservice"

// WebServiceInitializer is the registry symbol constructing web
// service objects.
const WebServiceInitializer = "web/webservice"

// WebServicePath is the storage index holding web service configs.
var WebServicePath = data.NewPath("/webservice/")

// Service handles matched requests. Implementations typically embed
// BaseService and register per-method handlers.
type Service interface {
	// Serve handles one dispatched request.
	Serve(w http.ResponseWriter, r *http.Request, cx *RequestContext)

	// Methods returns the HTTP methods this service answers for a
	// request, used to build 405 Allow headers.
	Methods(r *http.Request) []string
}

// HandlerFunc handles one method of a service.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, cx *RequestContext)

// BaseService maps HTTP methods to handlers and fills in the
// protocol plumbing: OPTIONS is answered automatically, HEAD runs the
// GET handler with the body suppressed and unhandled methods get a
// 405 with an Allow header.
type BaseService struct {
	handlers map[string]HandlerFunc
}

// NewBaseService creates an empty method table.
func NewBaseService() *BaseService {
	return &BaseService{handlers: make(map[string]HandlerFunc)}
}

// Handle registers the handler for an HTTP method.
func (s *BaseService) Handle(method string, fn HandlerFunc) {
	s.handlers[strings.ToUpper(method)] = fn
}

// Methods returns the answered methods, including the automatic ones.
func (s *BaseService) Methods(r *http.Request) []string {
	methods := []string{http.MethodOptions}
	for method := range s.handlers {
		methods = append(methods, method)
	}
	if _, ok := s.handlers[http.MethodGet]; ok {
		methods = append(methods, http.MethodHead)
	}
	sort.Strings(methods)
	return methods
}

// Serve dispatches to the method handler.
func (s *BaseService) Serve(w http.ResponseWriter, r *http.Request, cx *RequestContext) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Allow", strings.Join(s.Methods(r), ", "))
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodHead:
		if fn, ok := s.handlers[http.MethodGet]; ok {
			fn(&headWriter{ResponseWriter: w}, r, cx)
			return
		}
	default:
		if fn, ok := s.handlers[r.Method]; ok {
			fn(w, r, cx)
			return
		}
	}
	w.Header().Set("Allow", strings.Join(s.Methods(r), ", "))
	Error(w, http.StatusMethodNotAllowed, "method not allowed")
}

// headWriter suppresses the response body for HEAD requests.
type headWriter struct {
	http.ResponseWriter
}

func (h *headWriter) Write(b []byte) (int, error) {
	return len(b), nil
}

// WebService is a stored web service config. It owns the lifecycle of
// its matchers; the dispatcher collects them when the matcher cache
// is rebuilt. The id selects which registered service implementation
// answers the matched requests.
type WebService struct {
	*storage.BaseObject
	matchers []*Matcher
}

// NewWebServiceObject constructs a web service from its stored
// dictionary.
func NewWebServiceObject(id, typ string, d *data.Dict) (storage.Object, error) {
	return &WebService{BaseObject: storage.NewBaseObject(id, typ, d)}, nil
}

// RegisterTypes adds the web service constructor to a storage
// registry.
func RegisterTypes(reg *storage.Registry) {
	reg.Register(WebServiceInitializer, NewWebServiceObject)
}

// Init parses the matcher declarations.
func (s *WebService) Init() error {
	for _, entry := range s.Dict().GetList("match").Dicts() {
		s.matchers = append(s.matchers, ParseMatcher(entry))
	}
	return nil
}

// Description returns the stored description.
func (s *WebService) Description() string {
	return s.Dict().GetString("description", "")
}

// Matchers returns the declared matchers in declaration order.
func (s *WebService) Matchers() []*Matcher {
	return s.matchers
}

// Error writes a plain-text error response.
func Error(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg + "\n"))
}

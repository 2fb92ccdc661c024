package web

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/events"
	"github.com/hutchhq/hutch/pkg/metrics"
	"github.com/hutchhq/hutch/pkg/proc"
	"github.com/hutchhq/hutch/pkg/storage"
)

// maxProcBody bounds procedure call request bodies.
const maxProcBody = 1 << 20

// recentEventCount is the size of the status service's event ring.
const recentEventCount = 32

// StatusService answers GET /status with a server health dictionary:
// version, uptime, storage cache size and the most recent kernel
// events.
type StatusService struct {
	*BaseService
	root    *storage.Root
	version string
	started time.Time

	events events.Subscriber
	recent []*events.Event
}

// NewStatusService creates the status service. When a broker is
// given, the service keeps a ring of recent events for the status
// body.
func NewStatusService(root *storage.Root, broker *events.Broker, version string) *StatusService {
	s := &StatusService{
		BaseService: NewBaseService(),
		root:        root,
		version:     version,
		started:     time.Now(),
	}
	if broker != nil {
		s.events = broker.Subscribe()
	}
	s.Handle(http.MethodGet, s.get)
	return s
}

func (s *StatusService) get(w http.ResponseWriter, r *http.Request, cx *RequestContext) {
	s.drainEvents()
	d := data.NewDict()
	d.Set("name", "hutch")
	d.Set("version", s.version)
	d.Set("uptime", time.Since(s.started).Round(time.Second).String())
	d.Set("cacheObjects", s.root.CacheSize())
	if cx.Authenticated() {
		d.Set("user", cx.User.ID())
	}
	list := data.NewList()
	for _, e := range s.recent {
		entry := data.NewDict()
		entry.Set("type", string(e.Type))
		entry.Set("path", e.Path)
		entry.Set("time", e.Timestamp)
		list.Add(entry)
	}
	d.Set("events", list)
	writeJSON(w, http.StatusOK, d)
}

// drainEvents pulls pending broker events into the recent ring.
func (s *StatusService) drainEvents() {
	if s.events == nil {
		return
	}
	for {
		select {
		case e := <-s.events:
			s.recent = append(s.recent, e)
			if len(s.recent) > recentEventCount {
				s.recent = s.recent[len(s.recent)-recentEventCount:]
			}
		default:
			return
		}
	}
}

// ContextFactory creates the call context for one procedure call
// request. The application context supplies it so reset swaps the
// backing state atomically.
type ContextFactory func(r *http.Request) *proc.CallContext

// ProcService executes named procedures over HTTP: POST /proc/<name>
// with a JSON body of named arguments. The response carries the
// result under "data" or a sanitized error, plus the trace when
// requested.
type ProcService struct {
	*BaseService
	factory ContextFactory
}

// NewProcService creates the procedure call service.
func NewProcService(factory ContextFactory) *ProcService {
	s := &ProcService{BaseService: NewBaseService(), factory: factory}
	s.Handle(http.MethodPost, s.post)
	return s
}

func (s *ProcService) post(w http.ResponseWriter, r *http.Request, cx *RequestContext) {
	name := strings.TrimPrefix(r.URL.Path, "/proc/")
	if name == "" {
		Error(w, http.StatusBadRequest, "missing procedure name")
		return
	}
	args := data.NewDict()
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxProcBody))
		if err != nil {
			Error(w, http.StatusBadRequest, "unreadable request body")
			return
		}
		if len(body) > 0 {
			args, err = data.Unmarshal(body)
			if err != nil {
				Error(w, http.StatusBadRequest, "malformed argument object")
				return
			}
		}
	}
	callCx := s.factory(r)
	callCx.SetUser(cx.User)
	callCx.Attributes().Set(proc.AttrSource, "web")
	callCx.Attributes().Set(proc.AttrRequestID, cx.ID)
	if sess := cx.Session(); sess != nil {
		callCx.Attributes().Set(proc.AttrSessionID, sess.ID())
	}
	if r.URL.Query().Get("trace") == "true" {
		callCx.SetTrace(true)
	}
	result, err := callCx.Execute(name, args)
	out := data.NewDict()
	if err != nil {
		status := http.StatusInternalServerError
		if procErr := proc.IsError(err); procErr != nil {
			switch procErr.Kind {
			case proc.KindNotFound:
				status = http.StatusNotFound
			case proc.KindForbidden:
				status = http.StatusForbidden
			case proc.KindCancelled:
				status = http.StatusRequestTimeout
			case proc.KindBinding:
				status = http.StatusBadRequest
			}
		}
		out.Set("error", err.Error())
		writeTrace(out, callCx)
		writeJSON(w, status, out)
		return
	}
	out.Set("data", result)
	writeTrace(out, callCx)
	writeJSON(w, http.StatusOK, out)
}

func writeTrace(out *data.Dict, cx *proc.CallContext) {
	if trace := cx.Trace(); len(trace) > 0 {
		list := data.NewList()
		for _, line := range trace {
			list.Add(line)
		}
		out.Set("trace", list)
	}
}

// MetricsService exposes the prometheus registry at GET /metrics.
type MetricsService struct {
	*BaseService
}

// NewMetricsService creates the metrics endpoint service.
func NewMetricsService() *MetricsService {
	s := &MetricsService{BaseService: NewBaseService()}
	handler := metrics.Handler()
	s.Handle(http.MethodGet, func(w http.ResponseWriter, r *http.Request, cx *RequestContext) {
		handler.ServeHTTP(w, r)
	})
	return s
}

// writeJSON serializes a dictionary response, omitting hidden keys.
func writeJSON(w http.ResponseWriter, status int, d *data.Dict) {
	body, err := data.MarshalPublic(d)
	if err != nil {
		Error(w, http.StatusInternalServerError, "serialization failed")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

// interface checks
var (
	_ Service = (*StatusService)(nil)
	_ Service = (*ProcService)(nil)
	_ Service = (*MetricsService)(nil)
)

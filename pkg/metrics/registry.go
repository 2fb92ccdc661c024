package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
)

// MetricsPath is the reserved storage index for persisted call metrics.
var MetricsPath = data.NewPath("/.metrics/")

// Series categories used by the kernel.
const (
	CategoryConnection = "connection"
	CategoryProcedure  = "procedure"
	CategoryUser       = "user"
)

// Store is the storage write surface used when flushing series.
type Store interface {
	Store(path data.Path, d *data.Dict) error
}

// Series aggregates calls for one subject, such as a procedure, a
// connection or a user.
type Series struct {
	Category    string
	ID          string
	Count       int64
	TotalMillis int64
	Errors      int64
	LastError   string
	LastTime    time.Time
}

// AvgMillis returns the mean call duration in milliseconds.
func (s *Series) AvgMillis() int64 {
	if s.Count == 0 {
		return 0
	}
	return s.TotalMillis / s.Count
}

// Dict returns the series in its persisted form.
func (s *Series) Dict() *data.Dict {
	d := data.NewDict()
	d.Set("type", "metrics")
	d.Set("id", s.ID)
	d.Set("category", s.Category)
	d.Set("count", s.Count)
	d.Set("avgMillis", s.AvgMillis())
	d.Set("errors", s.Errors)
	if s.LastError != "" {
		d.Set("lastError", s.LastError)
	}
	d.Set("lastTime", s.LastTime)
	return d
}

// Registry aggregates call counts and durations in memory until flushed to
// storage under /.metrics/. One registry exists per application context.
type Registry struct {
	mu     sync.Mutex
	series map[string]*Series
	dirty  map[string]bool
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		series: make(map[string]*Series),
		dirty:  make(map[string]bool),
	}
}

// Record adds one call observation for the given subject. The duration is
// measured from start to now.
func (r *Registry) Record(category, id string, start time.Time, callErr error) {
	now := time.Now()
	key := category + "/" + id

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[key]
	if !ok {
		s = &Series{Category: category, ID: id}
		r.series[key] = s
	}
	s.Count++
	s.TotalMillis += now.Sub(start).Milliseconds()
	s.LastTime = now
	if callErr != nil {
		s.Errors++
		s.LastError = callErr.Error()
	}
	r.dirty[key] = true
}

// Snapshot returns a copy of the series for a subject, or nil if absent.
func (r *Registry) Snapshot(category, id string) *Series {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[category+"/"+id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// All returns copies of every series, sorted by category and id.
func (r *Registry) All() []Series {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Series, 0, len(r.series))
	for _, s := range r.series {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Flush writes all modified series to storage and clears their dirty flag.
// Series that fail to store stay dirty for the next flush.
func (r *Registry) Flush(store Store) error {
	r.mu.Lock()
	pending := make([]*Series, 0, len(r.dirty))
	keys := make([]string, 0, len(r.dirty))
	for key := range r.dirty {
		cp := *r.series[key]
		pending = append(pending, &cp)
		keys = append(keys, key)
	}
	r.mu.Unlock()

	var firstErr error
	stored := make(map[string]bool, len(keys))
	for i, s := range pending {
		path := MetricsPath.Child(s.Category, true).Child(pathSafe(s.ID), false)
		if err := store.Store(path, s.Dict()); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to store metrics for %s: %w", keys[i], err)
			}
			continue
		}
		stored[keys[i]] = true
	}

	r.mu.Lock()
	for key := range stored {
		delete(r.dirty, key)
	}
	r.mu.Unlock()
	return firstErr
}

// pathSafe flattens subject ids containing slashes into single segments.
func pathSafe(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] == '/' {
			out[i] = '.'
		} else {
			out[i] = id[i]
		}
	}
	return string(out)
}

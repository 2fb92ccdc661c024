package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Web dispatcher metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_requests_total",
			Help: "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hutch_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_dispatch_total",
			Help: "Total number of requests dispatched by web service",
		},
		[]string{"service"},
	)

	AuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_auth_failures_total",
			Help: "Total number of failed authentication attempts",
		},
	)

	// Procedure metrics
	ProcCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_proc_calls_total",
			Help: "Total number of procedure calls by status",
		},
		[]string{"status"},
	)

	ProcCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hutch_proc_call_duration_seconds",
			Help:    "Procedure call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Connection pool metrics
	PoolChannelsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_pool_channels_open",
			Help: "Open channels per connection",
		},
		[]string{"connection"},
	)

	PoolChannelsIdle = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_pool_channels_idle",
			Help: "Idle pooled channels per connection",
		},
		[]string{"connection"},
	)

	PoolExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_pool_exhausted_total",
			Help: "Total number of channel reservations that timed out",
		},
		[]string{"connection"},
	)

	// Storage metrics
	CacheObjects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_storage_cache_objects",
			Help: "Objects currently held in the storage cache",
		},
	)

	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_storage_cache_evictions_total",
			Help: "Total number of objects evicted from the storage cache",
		},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_sessions_active",
			Help: "Currently valid sessions",
		},
	)

	// Plug-in metrics
	PluginsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_plugins_loaded",
			Help: "Currently loaded plug-ins",
		},
	)

	// Scheduler metrics
	TaskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_task_runs_total",
			Help: "Total number of background task runs by task and status",
		},
		[]string{"task", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DispatchTotal)
	prometheus.MustRegister(AuthFailuresTotal)
	prometheus.MustRegister(ProcCallsTotal)
	prometheus.MustRegister(ProcCallDuration)
	prometheus.MustRegister(PoolChannelsOpen)
	prometheus.MustRegister(PoolChannelsIdle)
	prometheus.MustRegister(PoolExhaustedTotal)
	prometheus.MustRegister(CacheObjects)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(PluginsLoaded)
	prometheus.MustRegister(TaskRunsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

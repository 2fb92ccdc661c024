/*
Package metrics provides the server's observability surface: a
Prometheus exposition layer and a storable call-series registry.

# Prometheus Collectors

All collectors are registered at package init and exposed through
Handler(), which the /metrics web service serves:

	hutch_requests_total{method,status}       request counter
	hutch_request_duration_seconds{method}    request latency
	hutch_dispatch_total{service}             matcher dispatches
	hutch_proc_calls_total{status}            procedure calls
	hutch_proc_call_duration_seconds          procedure latency
	hutch_pool_channels_open{connection}      open pool channels
	hutch_pool_channels_idle{connection}      idle pool channels
	hutch_pool_exhausted_total{connection}    borrow timeouts
	hutch_sessions_active                     live sessions
	hutch_plugins_loaded                      loaded plug-ins
	hutch_cache_objects                       cached storage objects
	hutch_cache_evictions_total               cache evictions
	hutch_task_runs_total{task,status}        background task runs
	hutch_auth_failures_total                 failed authentications

# Call Series

The Registry accumulates per-target call statistics (count, errors,
cumulative duration, last call time) keyed by category and id:

	registry.Record(metrics.CategoryProcedure, "system/status", start, err)

Categories cover connections, procedures and users. Dirty series are
written back to storage under /.metrics/<category>/<id> by Flush,
which the cache maintenance task drives; the bolt-backed mount makes
the series durable across restarts and queryable through the normal
storage surface.

Snapshot and All return copies, so callers can render statistics
without holding the registry lock.
*/
package metrics

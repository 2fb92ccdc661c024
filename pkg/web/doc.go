/*
Package web dispatches HTTP requests to declaratively matched
services.

Web services are configuration objects: each /webservice/<id> object
declares matchers binding request patterns to a registered service
implementation. The dispatcher scores the cached matcher table per
request and hands the request to the single best match.

# Matching

A matcher declares method, protocol, host, port, path, an auth flag
and a priority. Its score is computed once:

	400·method + 300·protocol + 200·host + 100·port + 1 + len(path) + prio

so every extra predicate outranks any path length. At request time a
full predicate-and-boundary match returns the full score, a bare
prefix match one less, and any mismatch zero. The highest non-zero
score wins; ties go to the earliest declared matcher. The table is
rebuilt only on reset and plug-in operations, never per request.

# Request pipeline

	resolveCaller: session cookie → user, else Authorization header
	               (Digest challenge-response, Bearer/Token)
	selectMatcher: 404 when nothing matches
	auth gate:     401 + WWW-Authenticate Digest challenge
	service:       per-method handlers, automatic OPTIONS/HEAD/405
	finish:        session touch + write-back, cookie for new
	               sessions, request metrics

Authentication failures count against the origin's failure budget;
blocked origins are challenged without credential evaluation.

# Services

BaseService maps methods to handlers and fills in protocol plumbing.
The kernel ships three built-ins: the status service (health dict
with recent events), the procedure service (POST /proc/<name>
executing procedures with JSON arguments) and the Prometheus metrics
endpoint. Application services arrive through plug-ins: the plug-in
carries the /webservice/<id> config and the implementation registers
under the same id.
*/
package web

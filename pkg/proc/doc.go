/*
Package proc implements the procedure call runtime.

Procedures are the kernel's unit of executable behavior: code-defined
built-ins and stored procedure objects share one library, one binding
model and one execution pipeline. A call context carries the caller's
identity, the call stack and the channels reserved from connection
pools; everything reserved during a call is released when the
top-level call returns.

# Execution pipeline

	Execute(name, args)
	    │
	    ├─ Lookup: built-ins → /procedure/<name> → alias scan
	    ├─ resolve declared bindings (data, procedure, argument)
	    │
	    ├─ interceptor chain:
	    │      security  → access check with caller path and stack
	    │      compile   → hook for compiled procedure types
	    │      execute   → run the procedure body
	    │
	    └─ releaseAll: commit or roll back reserved channels
	       in reverse acquisition order, record call metrics

Recursion is bounded at 64 frames. Cancellation of the surrounding
context aborts the call and invalidates reserved channels rather than
returning them to their pools.

# Bindings

A procedure declares its inputs: data bindings are constants,
procedure bindings name another procedure (verified at call time),
argument bindings come from the caller with optional defaults, and
connection bindings declare a connection id that resolves lazily on
first use. Undeclared caller arguments never reach the body.

# Connections

Connection(id) reserves a channel from the named connection's pool,
trying the environment's connection path prefix before the global
index. Within one call context a connection is reserved once;
repeated requests share the held channel when the channel allows
sharing and fail otherwise.

# Errors

Call failures carry an ErrorKind (not-found, forbidden, recursion,
cancelled, binding, runtime) and the procedure name, so transports
can map them to their own status codes without string matching.
*/
package proc

package proc

import (
	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/security"
)

// Interceptor filters procedure execution. Interceptors are linked
// into a chain at build time; each performs its pre-action and
// delegates to its successor. Per-call state belongs on the
// CallContext, never on the interceptor.
type Interceptor interface {
	// Call runs the procedure through this filter.
	Call(cx *CallContext, p Procedure, bindings *data.Dict) (any, error)
}

// Next embeds the successor link shared by all interceptors.
type Next struct {
	next Interceptor
}

// Delegate passes the call to the successor.
func (n *Next) Delegate(cx *CallContext, p Procedure, bindings *data.Dict) (any, error) {
	if n.next == nil {
		return nil, errorf(KindRuntime, p.Name(), "interceptor chain has no executor")
	}
	return n.next.Call(cx, p, bindings)
}

// Chain links interceptors in order, outermost first, terminated by
// the execute interceptor.
func Chain(interceptors ...Interceptor) Interceptor {
	all := append(interceptors, &ExecuteInterceptor{})
	for i := len(all) - 2; i >= 0; i-- {
		if link, ok := all[i].(interface{ setNext(Interceptor) }); ok {
			link.setNext(all[i+1])
		}
	}
	return all[0]
}

func (n *Next) setNext(next Interceptor) {
	n.next = next
}

// DefaultChain builds the standard security → compile → execute
// chain. The security manager may be nil, which skips access checks
// (used by internal maintenance calls).
func DefaultChain(sec *security.Manager) Interceptor {
	return Chain(&SecurityInterceptor{sec: sec}, &CompileInterceptor{})
}

// SecurityInterceptor denies procedures the caller may not read. The
// check uses the caller's procedure path as the via path, so role
// rules can restrict procedures to specific call sites, and internal
// procedures stay reachable only from other procedures.
type SecurityInterceptor struct {
	Next
	sec *security.Manager
}

// Call checks access before delegating.
func (s *SecurityInterceptor) Call(cx *CallContext, p Procedure, bindings *data.Dict) (any, error) {
	if err := cx.Cancelled(); err != nil {
		return nil, err
	}
	if s.sec != nil {
		path := ProcedurePath.Resolve(data.NewPath(p.Name())).String()
		via := cx.currentCaller()
		if !s.sec.HasAccessVia(cx.User(), path, security.PermRead, via, cx.callerStack()) {
			cx.Tracef("deny %s", p.Name())
			return nil, errorf(KindForbidden, p.Name(), "access denied")
		}
	}
	return s.Delegate(cx, p, bindings)
}

// CompileFunc prepares a procedure for execution, typically compiling
// script source. Called once per call before execution.
type CompileFunc func(cx *CallContext, p Procedure) error

// CompileInterceptor runs an optional compilation step. The default
// is a no-op; script engines install a CompileFunc at chain build.
type CompileInterceptor struct {
	Next
	Compile CompileFunc
}

// Call compiles then delegates.
func (c *CompileInterceptor) Call(cx *CallContext, p Procedure, bindings *data.Dict) (any, error) {
	if err := cx.Cancelled(); err != nil {
		return nil, err
	}
	if c.Compile != nil {
		if err := c.Compile(cx, p); err != nil {
			return nil, wrapError(p.Name(), err)
		}
	}
	return c.Delegate(cx, p, bindings)
}

// ExecuteInterceptor terminates the chain by running the procedure
// body.
type ExecuteInterceptor struct {
	Next
}

// Call executes the procedure.
func (e *ExecuteInterceptor) Call(cx *CallContext, p Procedure, bindings *data.Dict) (any, error) {
	if err := cx.Cancelled(); err != nil {
		return nil, err
	}
	return p.Call(cx, bindings)
}

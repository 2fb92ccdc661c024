package proc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/metrics"
	"github.com/hutchhq/hutch/pkg/pool"
	"github.com/hutchhq/hutch/pkg/security"
	"github.com/hutchhq/hutch/pkg/storage"
)

// MaxCallDepth bounds procedure call nesting.
const MaxCallDepth = 64

// EnvironmentPath is the storage index holding environment records.
var EnvironmentPath = data.NewPath("/environment/")

// Attribute keys used on the call context.
const (
	AttrSource    = "source"
	AttrRequestID = "requestId"
	AttrSessionID = "sessionId"
	AttrResult    = "result"
	AttrError     = "error"
)

type frame struct {
	proc     Procedure
	bindings *data.Dict

	// caller is the storage path of the procedure that made this
	// call, empty at the root.
	caller string
}

type reserved struct {
	connectionID string
	channel      pool.Channel
	err          error
}

// CallContext carries the state of one top-level procedure call: the
// storage handle, the resolved environment, the caller's identity,
// the call stack and the channels reserved so far. A context belongs
// to a single request and is never shared.
type CallContext struct {
	ctx      context.Context
	root     *storage.Root
	lib      *Library
	sec      *security.Manager
	registry *metrics.Registry
	chain    Interceptor

	user       *security.User
	envPrefix  string
	attributes *data.Dict
	stack      []frame
	channels   []*reserved

	trace    bool
	traceBuf []string

	log zerolog.Logger
}

// NewCallContext creates a context for one top-level call. The chain
// argument may be nil to use the default security→compile→execute
// chain.
func NewCallContext(ctx context.Context, root *storage.Root, lib *Library, sec *security.Manager, registry *metrics.Registry, chain Interceptor) *CallContext {
	if chain == nil {
		chain = DefaultChain(nil)
	}
	return &CallContext{
		ctx:        ctx,
		root:       root,
		lib:        lib,
		sec:        sec,
		registry:   registry,
		chain:      chain,
		attributes: data.NewDict(),
		log:        log.WithComponent("proc"),
	}
}

// Context returns the cancellation context for this call.
func (cx *CallContext) Context() context.Context {
	return cx.ctx
}

// Storage returns the storage tree.
func (cx *CallContext) Storage() *storage.Root {
	return cx.root
}

// Library returns the procedure library.
func (cx *CallContext) Library() *Library {
	return cx.lib
}

// User returns the authenticated caller, or nil for anonymous calls.
func (cx *CallContext) User() *security.User {
	return cx.user
}

// SetUser binds the caller identity for this call.
func (cx *CallContext) SetUser(u *security.User) {
	cx.user = u
}

// SetEnvironment applies an environment record: its connectionPath
// becomes the lookup prefix for connection bindings. An unknown id
// fails; an empty id clears the environment.
func (cx *CallContext) SetEnvironment(id string) error {
	if id == "" {
		cx.envPrefix = ""
		return nil
	}
	dict, err := cx.root.Load(EnvironmentPath.Child(id, false))
	if err != nil {
		return fmt.Errorf("failed to load environment %s: %w", id, err)
	}
	if dict == nil {
		return fmt.Errorf("failed to load environment %s: not found", id)
	}
	cx.envPrefix = dict.GetString("connectionPath", "")
	return nil
}

// Attributes returns the per-call attribute dictionary.
func (cx *CallContext) Attributes() *data.Dict {
	return cx.attributes
}

// SetTrace toggles trace collection for this call.
func (cx *CallContext) SetTrace(on bool) {
	cx.trace = on
}

// Trace returns the collected trace lines.
func (cx *CallContext) Trace() []string {
	return cx.traceBuf
}

// Tracef appends a formatted line to the trace buffer when tracing is
// enabled.
func (cx *CallContext) Tracef(format string, args ...any) {
	if cx.trace {
		cx.traceBuf = append(cx.traceBuf, fmt.Sprintf(format, args...))
	}
}

// Depth returns the current call stack depth.
func (cx *CallContext) Depth() int {
	return len(cx.stack)
}

// Stack returns the procedure names on the call stack, outermost
// first.
func (cx *CallContext) Stack() []string {
	names := make([]string, len(cx.stack))
	for i, f := range cx.stack {
		names[i] = f.proc.Name()
	}
	return names
}

// CallerPath returns the storage path of the procedure on top of the
// stack, or an empty string at the root call.
func (cx *CallContext) CallerPath() string {
	if len(cx.stack) == 0 {
		return ""
	}
	name := cx.stack[len(cx.stack)-1].proc.Name()
	return ProcedurePath.Resolve(data.NewPath(name)).String()
}

// currentCaller returns the caller path recorded for the procedure
// now executing, or an empty string at the root call.
func (cx *CallContext) currentCaller() string {
	if len(cx.stack) == 0 {
		return ""
	}
	return cx.stack[len(cx.stack)-1].caller
}

// callerStack returns the storage paths of the procedures that led to
// the current frame, for via-rule matching. The executing procedure
// itself is excluded, so a root call has an empty caller stack.
func (cx *CallContext) callerStack() []string {
	if len(cx.stack) < 2 {
		return nil
	}
	paths := make([]string, len(cx.stack)-1)
	for i, f := range cx.stack[:len(cx.stack)-1] {
		paths[i] = ProcedurePath.Resolve(data.NewPath(f.proc.Name())).String()
	}
	return paths
}

// Execute runs a top-level procedure call. On return all reserved
// channels have been committed (success) or rolled back (failure) and
// released in reverse acquisition order, and the call has been
// recorded in the procedure and user metrics.
func (cx *CallContext) Execute(name string, args *data.Dict) (any, error) {
	start := time.Now()
	result, err := cx.Call(name, args)
	cx.releaseAll(err)
	if cx.registry != nil {
		cx.registry.Record(metrics.CategoryProcedure, name, start, err)
		if cx.user != nil {
			cx.registry.Record(metrics.CategoryUser, cx.user.ID(), start, err)
		}
	}
	status := "success"
	if err != nil {
		status = "error"
		cx.attributes.Set(AttrError, err.Error())
	} else {
		cx.attributes.Set(AttrResult, result)
	}
	metrics.ProcCallsTotal.WithLabelValues(status).Inc()
	metrics.ProcCallDuration.Observe(time.Since(start).Seconds())
	return result, err
}

// Call resolves and runs a procedure, nested inside the current call
// stack. Procedure bodies use this for sub-calls; reserved channels
// stay held until the top-level Execute returns.
func (cx *CallContext) Call(name string, args *data.Dict) (any, error) {
	if err := cx.Cancelled(); err != nil {
		return nil, err
	}
	if len(cx.stack) >= MaxCallDepth {
		return nil, errorf(KindRecursion, name, "call depth exceeds %d", MaxCallDepth)
	}
	p, err := cx.lib.Lookup(name)
	if err != nil {
		return nil, wrapError(name, err)
	}
	if p == nil {
		return nil, errorf(KindNotFound, name, "no procedure with this name")
	}
	if notice := p.Deprecated(); notice != "" {
		cx.log.Warn().Str("procedure", name).Str("notice", notice).Msg("Deprecated procedure called")
	}
	bindings, err := cx.resolveBindings(p, args)
	if err != nil {
		return nil, err
	}
	cx.stack = append(cx.stack, frame{proc: p, bindings: bindings, caller: cx.CallerPath()})
	cx.Tracef("call %s depth=%d", name, len(cx.stack))
	result, err := cx.chain.Call(cx, p, bindings)
	cx.stack = cx.stack[:len(cx.stack)-1]
	if err != nil {
		cx.Tracef("fail %s: %v", name, err)
		return nil, wrapError(name, err)
	}
	cx.Tracef("done %s", name)
	return result, nil
}

// resolveBindings materializes the procedure's declared inputs. Data
// bindings are constants, procedure bindings resolve to the named
// procedure, arguments come from the caller. Connection bindings stay
// declared by id and resolve on first use through Connection.
func (cx *CallContext) resolveBindings(p Procedure, args *data.Dict) (*data.Dict, error) {
	out := data.NewDict()
	for _, bind := range p.Bindings().All() {
		switch bind.Kind {
		case BindData:
			out.Set(bind.Name, bind.Value)
		case BindProcedure:
			target, err := cx.lib.Lookup(bind.Value)
			if err != nil || target == nil {
				return nil, errorf(KindBinding, p.Name(), "bound procedure %s not found", bind.Value)
			}
			out.Set(bind.Name, target.Name())
		case BindConnection:
			out.Set(bind.Name, bind.Value)
		case BindArgument:
			if args != nil && args.Has(bind.Name) {
				out.Set(bind.Name, args.Get(bind.Name))
			} else if bind.Value != "" {
				out.Set(bind.Name, bind.Value)
			} else {
				return nil, errorf(KindBinding, p.Name(), "missing argument %s", bind.Name)
			}
		default:
			return nil, errorf(KindBinding, p.Name(), "unknown binding kind %s", bind.Kind)
		}
	}
	return out, nil
}

// Connection reserves a channel against the named connection.
// Within one call context each connection is reserved at most once:
// repeated requests share the held channel when it allows sharing and
// fail otherwise. Lookup tries the environment connection prefix
// first, then the global connection index.
func (cx *CallContext) Connection(id string) (pool.Channel, error) {
	if err := cx.Cancelled(); err != nil {
		return nil, err
	}
	for _, r := range cx.channels {
		if r.connectionID != id {
			continue
		}
		if !r.channel.IsShared() {
			return nil, wrapError(cx.procName(), pool.ErrNotShared)
		}
		cx.Tracef("share channel %s", id)
		return r.channel, nil
	}
	conn, err := cx.findConnection(id)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Pool().Reserve(cx.ctx)
	if err != nil {
		if cx.ctx.Err() != nil {
			return nil, errorf(KindCancelled, cx.procName(), "call cancelled")
		}
		return nil, wrapError(cx.procName(), err)
	}
	cx.channels = append(cx.channels, &reserved{connectionID: id, channel: ch})
	cx.Tracef("reserve channel %s", id)
	return ch, nil
}

// findConnection resolves a connection object by id, trying the
// environment prefix first and falling back to the global index.
func (cx *CallContext) findConnection(id string) (*pool.Connection, error) {
	candidates := []string{id}
	if cx.envPrefix != "" {
		candidates = []string{cx.envPrefix + id, id}
	}
	for _, candidate := range candidates {
		obj, err := cx.root.LoadObject(pool.ConnectionPath.Resolve(data.NewPath(candidate)))
		if err != nil {
			return nil, wrapError(cx.procName(), err)
		}
		if conn, ok := obj.(*pool.Connection); ok {
			return conn, nil
		}
	}
	return nil, errorf(KindBinding, cx.procName(), "connection %s not found", id)
}

// Cancelled returns a cancellation error when the context is done.
func (cx *CallContext) Cancelled() error {
	if cx.ctx.Err() != nil {
		return errorf(KindCancelled, cx.procName(), "call cancelled")
	}
	return nil
}

// ReservedCount returns the number of held channels, for tests and
// introspection.
func (cx *CallContext) ReservedCount() int {
	return len(cx.channels)
}

// releaseAll ends all channel reservations in reverse acquisition
// order. On success every channel is committed before release; on
// failure every channel is rolled back instead. A cancelled call
// invalidates its channels so they are never pooled again. Release
// errors are logged, never returned.
func (cx *CallContext) releaseAll(callErr error) {
	cancelled := cx.ctx.Err() != nil
	for i := len(cx.channels) - 1; i >= 0; i-- {
		r := cx.channels[i]
		ch := r.channel
		returnErr := callErr
		if callErr == nil {
			if err := ch.Commit(); err != nil {
				cx.log.Warn().Err(err).Str("connection", r.connectionID).Msg("Channel commit failed")
				returnErr = err
			}
		}
		if cancelled {
			if base, ok := ch.(interface{ Invalidate() }); ok {
				base.Invalidate()
			}
			if returnErr == nil {
				returnErr = context.Canceled
			}
		}
		ch.Connection().Pool().Return(ch, returnErr)
	}
	cx.channels = nil
}

// procName returns the name of the procedure being executed, or an
// empty string at the root.
func (cx *CallContext) procName() string {
	if len(cx.stack) == 0 {
		return ""
	}
	return cx.stack[len(cx.stack)-1].proc.Name()
}

package proc

import (
	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/storage"
)

// ProcedureType is the storage type prefix for procedure configs.
const ProcedureType = "procedure"

// ProcedureInitializer is the registry symbol constructing stored
// procedure objects.
const ProcedureInitializer = "proc/procedure"

// ProcedurePath is the storage index holding procedure configs.
var ProcedurePath = data.NewPath("/procedure/")

// Procedure is a named server-side operation. Built-ins implement it
// in code; stored procedures are constructed from their configs via
// the type registry and executed by a registered runner.
type Procedure interface {
	// Name returns the unique procedure name.
	Name() string

	// Description returns the human-readable description.
	Description() string

	// Alias returns a legacy name resolving to this procedure, or
	// an empty string.
	Alias() string

	// Deprecated returns a deprecation notice, or an empty string
	// for live procedures.
	Deprecated() string

	// Bindings returns the declared inputs.
	Bindings() *Bindings

	// Call executes the procedure with resolved bindings.
	Call(cx *CallContext, bindings *data.Dict) (any, error)
}

// Runner executes procedures of one stored type, typically by
// compiling and evaluating their code binding. Runners are registered
// on the library per procedure type.
type Runner func(cx *CallContext, p *StoredProcedure, bindings *data.Dict) (any, error)

// StoredProcedure is a procedure instantiated from its storage
// config. Execution delegates to the runner registered for the
// procedure's type.
type StoredProcedure struct {
	*storage.BaseObject
	lib *Library
}

// NewProcedureObject returns the storage constructor for procedure
// objects bound to a library.
func NewProcedureObject(lib *Library) storage.Constructor {
	return func(id, typ string, d *data.Dict) (storage.Object, error) {
		return &StoredProcedure{BaseObject: storage.NewBaseObject(id, typ, d), lib: lib}, nil
	}
}

// Name returns the procedure name.
func (p *StoredProcedure) Name() string {
	return p.ID()
}

// Description returns the stored description.
func (p *StoredProcedure) Description() string {
	return p.Dict().GetString("description", "")
}

// Alias returns the stored legacy name, if any.
func (p *StoredProcedure) Alias() string {
	return p.Dict().GetString("alias", "")
}

// Deprecated returns the stored deprecation notice, if any.
func (p *StoredProcedure) Deprecated() string {
	return p.Dict().GetString("deprecated", "")
}

// Bindings returns the declared inputs.
func (p *StoredProcedure) Bindings() *Bindings {
	return ParseBindings(p.Dict())
}

// Call executes through the runner registered for this procedure's
// type.
func (p *StoredProcedure) Call(cx *CallContext, bindings *data.Dict) (any, error) {
	runner := p.lib.runner(p.Type())
	if runner == nil {
		return nil, errorf(KindRuntime, p.Name(), "no runner for procedure type %s", p.Type())
	}
	return runner(cx, p, bindings)
}

// BuiltIn is a code-defined procedure.
type BuiltIn struct {
	ProcName    string
	ProcDesc    string
	ProcAlias   string
	Deprecation string
	Inputs      *Bindings
	Handler     func(cx *CallContext, bindings *data.Dict) (any, error)
}

// Name returns the procedure name.
func (b *BuiltIn) Name() string { return b.ProcName }

// Description returns the procedure description.
func (b *BuiltIn) Description() string { return b.ProcDesc }

// Alias returns the legacy name, if any.
func (b *BuiltIn) Alias() string { return b.ProcAlias }

// Deprecated returns the deprecation notice, if any.
func (b *BuiltIn) Deprecated() string { return b.Deprecation }

// Bindings returns the declared inputs.
func (b *BuiltIn) Bindings() *Bindings {
	if b.Inputs == nil {
		return NewBindings()
	}
	return b.Inputs
}

// Call runs the handler.
func (b *BuiltIn) Call(cx *CallContext, bindings *data.Dict) (any, error) {
	return b.Handler(cx, bindings)
}

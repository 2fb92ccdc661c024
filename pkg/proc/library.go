package proc

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/storage"
)

// Library is the procedure registry. Built-ins are registered in
// code; stored procedures resolve through the storage tree on every
// lookup so plug-in loads and unloads take effect immediately.
type Library struct {
	root *storage.Root

	mu       sync.RWMutex
	builtins map[string]Procedure
	runners  map[string]Runner

	log zerolog.Logger
}

// NewLibrary creates a library over the given storage tree and
// registers the stored procedure constructor.
func NewLibrary(root *storage.Root) *Library {
	lib := &Library{
		root:     root,
		builtins: make(map[string]Procedure),
		runners:  make(map[string]Runner),
		log:      log.WithComponent("proc"),
	}
	root.Registry().Register(ProcedureInitializer, NewProcedureObject(lib))
	return lib
}

// AddBuiltIn registers a code-defined procedure, replacing any
// previous registration under the same name.
func (l *Library) AddBuiltIn(p Procedure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.builtins[p.Name()] = p
}

// RemoveBuiltIn drops a code-defined procedure.
func (l *Library) RemoveBuiltIn(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.builtins, name)
}

// AddRunner registers the executor for one stored procedure type.
// Lookup walks slash-separated parent types.
func (l *Library) AddRunner(typ string, runner Runner) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runners[typ] = runner
}

// Lookup resolves a procedure by name: built-ins first, then stored
// procedures, then an alias scan over both. Returns nil when unknown.
func (l *Library) Lookup(name string) (Procedure, error) {
	if name == "" {
		return nil, nil
	}
	l.mu.RLock()
	builtin := l.builtins[name]
	l.mu.RUnlock()
	if builtin != nil {
		return builtin, nil
	}
	obj, err := l.root.LoadObject(ProcedurePath.Resolve(data.NewPath(name)))
	if err != nil {
		return nil, err
	}
	if p, ok := obj.(Procedure); ok {
		return p, nil
	}
	return l.lookupAlias(name)
}

// lookupAlias scans for a procedure whose alias matches the name.
func (l *Library) lookupAlias(name string) (Procedure, error) {
	l.mu.RLock()
	for _, p := range l.builtins {
		if p.Alias() == name {
			l.mu.RUnlock()
			return p, nil
		}
	}
	l.mu.RUnlock()
	var found Procedure
	err := l.root.Query(ProcedurePath, func(meta storage.Metadata) bool {
		obj, err := l.root.LoadObject(meta.Path)
		if err != nil || obj == nil {
			return true
		}
		if p, ok := obj.(Procedure); ok && p.Alias() == name {
			found = p
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Names returns all known procedure names, built-in and stored, in
// sorted order.
func (l *Library) Names() []string {
	seen := make(map[string]bool)
	l.mu.RLock()
	for name := range l.builtins {
		seen[name] = true
	}
	l.mu.RUnlock()
	l.root.Query(ProcedurePath, func(meta storage.Metadata) bool {
		if sub, ok := meta.Path.Subpath(ProcedurePath); ok {
			seen[strings.TrimPrefix(sub.String(), "/")] = true
		}
		return true
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// runner resolves the executor for a stored procedure type, walking
// parent types.
func (l *Library) runner(typ string) Runner {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for id := typ; id != ""; id = parentType(id) {
		if runner, ok := l.runners[id]; ok {
			return runner
		}
	}
	return nil
}

func parentType(typ string) string {
	for i := len(typ) - 1; i > 0; i-- {
		if typ[i] == '/' {
			return typ[:i]
		}
	}
	return ""
}

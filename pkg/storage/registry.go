package storage

import (
	"sort"
	"sync"

	"github.com/hutchhq/hutch/pkg/data"
)

// Constructor builds a typed object from its stored dictionary. The id
// is the last path segment and typ the resolved type identifier.
type Constructor func(id, typ string, d *data.Dict) (Object, error)

// Registry maps initializer symbols to object constructors. Core
// packages register their symbols at startup; plug-ins may add more
// before their storage is mounted.
type Registry struct {
	mu           sync.RWMutex
	initializers map[string]Constructor
}

// NewRegistry creates a registry with the built-in type object
// constructor registered.
func NewRegistry() *Registry {
	r := &Registry{initializers: make(map[string]Constructor)}
	r.Register(TypeInitializer, NewTypeDesc)
	return r
}

// Register binds a constructor to an initializer symbol, replacing any
// previous binding.
func (r *Registry) Register(symbol string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initializers[symbol] = ctor
}

// Unregister removes an initializer symbol.
func (r *Registry) Unregister(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.initializers, symbol)
}

// Lookup returns the constructor for a symbol, or nil when unknown.
func (r *Registry) Lookup(symbol string) Constructor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initializers[symbol]
}

// Symbols returns all registered initializer symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	symbols := make([]string, 0, len(r.initializers))
	for symbol := range r.initializers {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// TypeDescType is the type identifier for type descriptor objects.
const TypeDescType = "type"

// TypeInitializer is the initializer symbol for type descriptors.
const TypeInitializer = "storage/type"

// TypePath is the storage index holding all type descriptors.
var TypePath = data.NewPath("/type/")

// TypeDesc is a type descriptor object. Descriptors live under /type/
// and declare the initializer symbol, aliases and documented
// properties for one object type.
type TypeDesc struct {
	*BaseObject
}

// NewTypeDesc constructs a type descriptor from its stored dictionary.
func NewTypeDesc(id, typ string, d *data.Dict) (Object, error) {
	return &TypeDesc{BaseObject: NewBaseObject(id, typ, d)}, nil
}

// Initializer returns the symbol used to construct objects of this
// type, or an empty string for plain dictionary objects.
func (t *TypeDesc) Initializer() string {
	return t.Dict().GetString("initializer", "")
}

// Description returns the human-readable type description.
func (t *TypeDesc) Description() string {
	return t.Dict().GetString("description", "")
}

// Aliases returns alternate type identifiers resolving to this type.
func (t *TypeDesc) Aliases() []string {
	return t.Dict().GetStrings("alias")
}

// Properties returns the declared property descriptors.
func (t *TypeDesc) Properties() []*data.Dict {
	return t.Dict().GetList("property").Dicts()
}

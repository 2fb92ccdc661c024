// Package vault resolves secret references in configuration data, so
// connection credentials and procedure bindings never store plaintext
// secrets. Secrets live in named vaults and are referenced with
// ${{key}} expansion markers.
package vault

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hutchhq/hutch/pkg/data"
)

// Vault provides read access to named secret values.
type Vault interface {
	// ID returns the vault identifier used in ${{id!key}} references.
	ID() string

	// Lookup returns the secret value for key.
	Lookup(key string) (string, bool)
}

// Registry holds the active vaults. Unqualified references search all
// vaults in registration order; qualified references address one vault
// by id.
type Registry struct {
	mu     sync.RWMutex
	vaults []Vault
	byID   map[string]Vault
}

// NewRegistry creates an empty vault registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Vault)}
}

// Register adds a vault. Re-registering an id replaces the previous
// vault but keeps its search position.
func (r *Registry) Register(v Vault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[v.ID()]; ok {
		for i, existing := range r.vaults {
			if existing.ID() == v.ID() {
				r.vaults[i] = v
				break
			}
		}
	} else {
		r.vaults = append(r.vaults, v)
	}
	r.byID[v.ID()] = v
}

// Unregister removes a vault by id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, v := range r.vaults {
		if v.ID() == id {
			r.vaults = append(r.vaults[:i], r.vaults[i+1:]...)
			break
		}
	}
}

// Vault returns the vault with the given id, or nil.
func (r *Registry) Vault(id string) Vault {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// IDs returns the registered vault ids in search order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.vaults))
	for _, v := range r.vaults {
		ids = append(ids, v.ID())
	}
	return ids
}

// Lookup resolves a key. An empty vault id searches all vaults in
// registration order.
func (r *Registry) Lookup(vaultID, key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if vaultID != "" {
		if v, ok := r.byID[vaultID]; ok {
			return v.Lookup(key)
		}
		return "", false
	}
	for _, v := range r.vaults {
		if value, ok := v.Lookup(key); ok {
			return value, true
		}
	}
	return "", false
}

// Expand replaces ${{key}} references in a string with vault values.
// References take the form ${{key}}, ${{vault!key}} or ${{key:default}}.
// Unresolved references without a default are left in place.
func (r *Registry) Expand(s string) string {
	if !strings.Contains(s, "${{") {
		return s
	}
	var out strings.Builder
	for {
		start := strings.Index(s, "${{")
		if start < 0 {
			out.WriteString(s)
			break
		}
		length := strings.Index(s[start:], "}}")
		if length < 0 {
			out.WriteString(s)
			break
		}
		token := s[start : start+length+2]
		out.WriteString(s[:start])
		out.WriteString(r.resolve(token, s[start+3:start+length]))
		s = s[start+length+2:]
	}
	return out.String()
}

// ExpandDict returns a deep copy of a dictionary with all string
// values expanded. The input is never modified, so sealed dictionaries
// expand safely.
func (r *Registry) ExpandDict(d *data.Dict) *data.Dict {
	if d == nil {
		return nil
	}
	out := data.NewDict()
	for _, key := range d.Keys() {
		out.Set(key, r.expandValue(d.Get(key)))
	}
	return out
}

func (r *Registry) expandValue(v any) any {
	switch c := v.(type) {
	case string:
		return r.Expand(c)
	case *data.Dict:
		return r.ExpandDict(c)
	case *data.List:
		out := data.NewList()
		for _, item := range c.Items() {
			out.Add(r.expandValue(item))
		}
		return out
	default:
		return v
	}
}

// resolve evaluates one reference body. The original token is returned
// when the key cannot be resolved and no default is given.
func (r *Registry) resolve(token, ref string) string {
	vaultID := ""
	if pos := strings.Index(ref, "!"); pos >= 0 {
		vaultID = strings.TrimSpace(ref[:pos])
		ref = ref[pos+1:]
	}
	def := ""
	hasDefault := false
	if pos := strings.Index(ref, ":"); pos >= 0 {
		def = ref[pos+1:]
		hasDefault = true
		ref = ref[:pos]
	}
	key := strings.TrimSpace(ref)
	if key != "" {
		if value, ok := r.Lookup(vaultID, key); ok {
			return value
		}
	}
	if hasDefault {
		return def
	}
	return token
}

// NewFromDict constructs a vault from its stored configuration. The
// dictionary type property selects the implementation.
func NewFromDict(id string, d *data.Dict) (Vault, error) {
	switch typ := d.GetString("type", ""); typ {
	case "vault/env":
		return NewEnvVault(id, d.GetString("prefix", "")), nil
	case "vault/cipher":
		return NewCipherVaultFromDict(id, d)
	default:
		return nil, fmt.Errorf("failed to create vault %s: unknown type %q", id, typ)
	}
}

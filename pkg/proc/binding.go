package proc

import (
	"github.com/hutchhq/hutch/pkg/data"
)

// Binding kinds. Data and procedure bindings resolve when the call
// starts, argument bindings come from the caller, connection bindings
// resolve lazily so unused connections are never opened.
const (
	BindData       = "data"
	BindProcedure  = "procedure"
	BindConnection = "connection"
	BindArgument   = "argument"
)

// Binding declares one procedure input.
type Binding struct {
	Name        string
	Kind        string
	Value       string
	Description string
}

// Bindings is the ordered input declaration list of a procedure.
type Bindings struct {
	list []Binding
}

// NewBindings creates a binding list.
func NewBindings(bindings ...Binding) *Bindings {
	return &Bindings{list: bindings}
}

// ParseBindings reads a binding list from its stored form, a list of
// dictionaries under the "binding" key.
func ParseBindings(d *data.Dict) *Bindings {
	b := &Bindings{}
	for _, entry := range d.GetList("binding").Dicts() {
		b.list = append(b.list, Binding{
			Name:        entry.GetString("name", ""),
			Kind:        entry.GetString("type", BindData),
			Value:       entry.GetString("value", ""),
			Description: entry.GetString("description", ""),
		})
	}
	return b
}

// Names returns the binding names in declaration order.
func (b *Bindings) Names() []string {
	names := make([]string, len(b.list))
	for i, bind := range b.list {
		names[i] = bind.Name
	}
	return names
}

// Find returns the declaration for a name, or nil.
func (b *Bindings) Find(name string) *Binding {
	for i := range b.list {
		if b.list[i].Name == name {
			return &b.list[i]
		}
	}
	return nil
}

// All returns the declarations in order.
func (b *Bindings) All() []Binding {
	return b.list
}

// Dict returns the bindings in their stored form.
func (b *Bindings) Dict() *data.Dict {
	out := data.NewDict()
	list := data.NewList()
	for _, bind := range b.list {
		d := data.NewDict()
		d.Set("name", bind.Name)
		d.Set("type", bind.Kind)
		if bind.Value != "" {
			d.Set("value", bind.Value)
		}
		if bind.Description != "" {
			d.Set("description", bind.Description)
		}
		list.Add(d)
	}
	out.Set("binding", list)
	return out
}

package capability

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Registry holds the host types known to the bridge. Go cannot enumerate the
// interfaces a type implements, so the interfaces registered here are the
// ones considered during ancestor widening. It also resolves type names for
// scripts that refer to host types by name.
type Registry struct {
	mu     sync.RWMutex
	order  []reflect.Type
	byName map[string]reflect.Type
	gen    atomic.Uint64
}

// NewRegistry returns a registry containing types.
func NewRegistry(types ...reflect.Type) *Registry {
	r := &Registry{byName: make(map[string]reflect.Type)}
	r.Register(types...)
	return r
}

// Register adds types. Registering the same type twice is a no-op.
func (r *Registry) Register(types ...reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		if t == nil {
			continue
		}
		name := TypeName(t)
		if _, ok := r.byName[name]; ok {
			continue
		}
		r.byName[name] = t
		r.order = append(r.order, t)
		r.gen.Add(1)
	}
}

// Generation changes whenever a new type is registered.
func (r *Registry) Generation() uint64 {
	if r == nil {
		return 0
	}
	return r.gen.Load()
}

// Lookup resolves a full type name.
func (r *Registry) Lookup(fullName string) (reflect.Type, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[fullName]
	return t, ok
}

// Interfaces returns the registered interface types in registration order.
func (r *Registry) Interfaces() []reflect.Type {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]reflect.Type, 0, len(r.order))
	for _, t := range r.order {
		if t.Kind() == reflect.Interface {
			out = append(out, t)
		}
	}
	return out
}

// Ancestors returns the direct ancestors of t: the types of its embedded
// fields, followed by every registered interface t implements.
//
// For a pointer to a struct, embedded value fields are reported as pointers,
// since their pointer-receiver methods are promoted through the outer pointer.
func (r *Registry) Ancestors(t reflect.Type) []reflect.Type {
	if t == nil {
		return nil
	}
	var out []reflect.Type
	base := t
	isPtr := t.Kind() == reflect.Pointer
	if isPtr {
		base = t.Elem()
	}
	if base.Kind() == reflect.Struct {
		for i := 0; i < base.NumField(); i++ {
			f := base.Field(i)
			if !f.Anonymous {
				continue
			}
			ft := f.Type
			if isPtr && ft.Kind() == reflect.Struct {
				ft = reflect.PointerTo(ft)
			}
			out = append(out, ft)
		}
	}
	for _, iface := range r.Interfaces() {
		if iface != t && t.Implements(iface) {
			out = append(out, iface)
		}
	}
	return out
}

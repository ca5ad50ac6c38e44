package scripting

import (
	"reflect"
	"sort"
	"sync"
)

// EnumRegistry records the named values of enumerated host types, so that
// script strings can be converted to them by name and back.
type EnumRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*enumTable
}

type enumTable struct {
	byName  map[string]any
	byValue map[any]string
}

// NewEnumRegistry returns an empty registry.
func NewEnumRegistry() *EnumRegistry {
	return &EnumRegistry{byType: make(map[reflect.Type]*enumTable)}
}

// RegisterEnum records values as the named constants of T, replacing any
// earlier registration of T.
func RegisterEnum[T comparable](r *EnumRegistry, values map[string]T) {
	tbl := &enumTable{
		byName:  make(map[string]any, len(values)),
		byValue: make(map[any]string, len(values)),
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	// aliases: the lexically first name wins the reverse mapping
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names {
		v := values[name]
		tbl.byName[name] = v
		tbl.byValue[v] = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[reflect.TypeFor[T]()] = tbl
}

// IsEnum reports whether t has been registered.
func (r *EnumRegistry) IsEnum(t reflect.Type) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byType[t]
	return ok
}

// Lookup returns the value of t named name.
func (r *EnumRegistry) Lookup(t reflect.Type, name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tbl, ok := r.byType[t]
	if !ok {
		return nil, false
	}
	v, ok := tbl.byName[name]
	return v, ok
}

// Name returns the registered name of v.
func (r *EnumRegistry) Name(v any) (string, bool) {
	if r == nil || v == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tbl, ok := r.byType[reflect.TypeOf(v)]
	if !ok {
		return "", false
	}
	name, ok := tbl.byValue[v]
	return name, ok
}

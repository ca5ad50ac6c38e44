package adapter

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/joeycumines/hostbridge/internal/capability"
)

// Scope resolves interface types by full name (see [capability.TypeName]).
// An interface set can only be adapted if every member resolves, in one
// scope, to the very type requested. *capability.Registry is a Scope.
type Scope interface {
	Lookup(fullName string) (reflect.Type, bool)
}

var _ Scope = (*capability.Registry)(nil)

// Method is a method declared by one of an adapter's interfaces.
type Method struct {
	Name string
	// Type is the method signature.
	Type reflect.Type
	// Interface is the first interface declaring the method.
	Interface reflect.Type
}

func (m Method) String() string {
	return capability.TypeName(m.Interface) + "." + m.Name
}

// returnsError reports whether the last result is an error.
func (m Method) returnsError() bool {
	n := m.Type.NumOut()
	return n > 0 && m.Type.Out(n-1) == errorType
}

// Descriptor is the resolved form of an interface set: the merged method
// table every adapter for the set forwards through.
type Descriptor struct {
	interfaces []reflect.Type
	methods    []Method
	byName     map[string]int
}

// Interfaces returns the adapted interfaces, in request order.
func (d *Descriptor) Interfaces() []reflect.Type { return slices.Clone(d.interfaces) }

// Methods returns the merged method table, sorted by name.
func (d *Descriptor) Methods() []Method { return slices.Clone(d.methods) }

// Method looks up a method by name.
func (d *Descriptor) Method(name string) (Method, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Method{}, false
	}
	return d.methods[i], true
}

// descriptorCache holds one descriptor per distinct interface set.
type descriptorCache struct {
	mu sync.Mutex
	m  map[string]*Descriptor
}

func setKey(interfaces []reflect.Type) string {
	names := make([]string, len(interfaces))
	for i, t := range interfaces {
		names[i] = capability.TypeName(t)
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}

func (c *descriptorCache) get(scope Scope, interfaces []reflect.Type) (*Descriptor, error) {
	key := setKey(interfaces)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.m[key]; ok {
		return d, nil
	}
	d, err := describe(scope, interfaces)
	if err != nil {
		return nil, err
	}
	if c.m == nil {
		c.m = make(map[string]*Descriptor)
	}
	c.m[key] = d
	return d, nil
}

func describe(scope Scope, interfaces []reflect.Type) (*Descriptor, error) {
	if len(interfaces) == 0 {
		return nil, fmt.Errorf("no interfaces to implement")
	}
	d := &Descriptor{byName: make(map[string]int)}
	seen := make(map[reflect.Type]bool, len(interfaces))
	for _, t := range interfaces {
		if t == nil || t.Kind() != reflect.Interface {
			return nil, fmt.Errorf("%v is not an interface", t)
		}
		name := capability.TypeName(t)
		if resolved, ok := scope.Lookup(name); !ok || resolved != t {
			return nil, fmt.Errorf("interface %s is not resolvable in the adapter scope", name)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		d.interfaces = append(d.interfaces, t)
		for i := 0; i < t.NumMethod(); i++ {
			m := t.Method(i)
			if j, ok := d.byName[m.Name]; ok {
				if prev := d.methods[j]; prev.Type != m.Type {
					return nil, fmt.Errorf("method %s conflicts with %s: %v vs %v", m.Name, prev, m.Type, prev.Type)
				}
				continue
			}
			d.byName[m.Name] = len(d.methods)
			d.methods = append(d.methods, Method{Name: m.Name, Type: m.Type, Interface: t})
		}
	}
	slices.SortFunc(d.methods, func(a, b Method) int { return strings.Compare(a.Name, b.Name) })
	for i, m := range d.methods {
		d.byName[m.Name] = i
	}
	return d, nil
}

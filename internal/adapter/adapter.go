// Package adapter implements host interfaces on behalf of scripts.
//
// Go cannot synthesize a type implementing an interface at runtime, so an
// [Adapter] is the dynamic half of the arrangement: it owns the merged
// method table of an interface set and forwards every call to a [Handler].
// Host code reaches it through [Adapter.Call], typed functions from
// [Adapter.Func], or a stub struct filled by [Adapter.Bind] whose methods
// delegate to its func fields.
package adapter

import (
	"errors"
	"fmt"
	"hash/maphash"
	"reflect"
	"strings"

	"github.com/joeycumines/hostbridge/internal/capability"
	"github.com/joeycumines/hostbridge/internal/scripting"
)

var errorType = reflect.TypeFor[error]()

// Handler receives every forwarded call.
type Handler interface {
	Invoke(ctx *scripting.Context, target any, scope Scope, a *Adapter, m Method, args []any) ([]any, error)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx *scripting.Context, target any, scope Scope, a *Adapter, m Method, args []any) ([]any, error)

func (f HandlerFunc) Invoke(ctx *scripting.Context, target any, scope Scope, a *Adapter, m Method, args []any) ([]any, error) {
	return f(ctx, target, scope, a, m, args)
}

// Factory creates adapters, resolving each distinct interface set once.
type Factory struct {
	scope       Scope
	descriptors descriptorCache
}

// NewFactory returns a factory resolving interfaces in scope. A nil scope
// means the registry of the creating context's capability filter.
func NewFactory(scope Scope) *Factory {
	return &Factory{scope: scope}
}

// Describe resolves an interface set without creating an adapter.
func (f *Factory) Describe(ctx *scripting.Context, interfaces ...reflect.Type) (*Descriptor, error) {
	return f.descriptors.get(f.scopeFor(ctx), interfaces)
}

func (f *Factory) scopeFor(ctx *scripting.Context) Scope {
	if f.scope != nil {
		return f.scope
	}
	return ctx.Filter().Registry()
}

// Create returns an adapter implementing interfaces by forwarding to
// handler, which receives target with every call. If ctx is nil the context
// associated with the calling goroutine is used. Every interface must be
// visible to scripts under the context's capability filter.
//
// Failures are *scripting.RuntimeError values.
func (f *Factory) Create(ctx *scripting.Context, interfaces []reflect.Type, handler Handler, target any) (*Adapter, error) {
	const op = "adapter.Create"
	if ctx == nil {
		if ctx = scripting.Current(); ctx == nil {
			return nil, scripting.WrapRuntime(op, errors.New("no execution context"))
		}
	}
	if handler == nil {
		return nil, scripting.WrapRuntime(op, errors.New("nil handler"))
	}
	for _, t := range interfaces {
		if t == nil {
			continue
		}
		if name := capability.TypeName(t); !ctx.Filter().TypeVisible(name) {
			return nil, scripting.WrapRuntime(op, &capability.AccessError{
				Type: name, Reason: "not visible to scripts", Terminal: true,
			})
		}
	}
	scope := f.scopeFor(ctx)
	desc, err := f.descriptors.get(scope, interfaces)
	if err != nil {
		return nil, scripting.WrapRuntime(op, err)
	}
	ctx.Observer().ObserveAdapter(len(desc.interfaces))
	return &Adapter{desc: desc, handler: handler, target: target, scope: scope, ctx: ctx}, nil
}

// Adapter is a runtime implementation of an interface set. Equality is
// identity: two adapters are never equal, even over the same target.
type Adapter struct {
	desc    *Descriptor
	handler Handler
	target  any
	scope   Scope
	ctx     *scripting.Context
}

// Descriptor returns the resolved interface set.
func (a *Adapter) Descriptor() *Descriptor { return a.desc }

// Target returns the value passed to the handler.
func (a *Adapter) Target() any { return a.target }

// Context returns the context the adapter was created in.
func (a *Adapter) Context() *scripting.Context { return a.ctx }

// Implements reports whether t is one of the adapted interfaces.
func (a *Adapter) Implements(t reflect.Type) bool {
	for _, it := range a.desc.interfaces {
		if it == t {
			return true
		}
	}
	return false
}

// Equal reports whether other is this very adapter.
func (a *Adapter) Equal(other any) bool {
	o, ok := other.(*Adapter)
	return ok && o == a
}

var hashSeed = maphash.MakeSeed()

// Hash returns the target's hash: its Hash method if it has one, otherwise
// the hash of the value itself if comparable, otherwise zero. A value whose
// static type is comparable but which holds an uncomparable dynamic value in
// an interface field also hashes to zero.
func (a *Adapter) Hash() (h uint64) {
	switch t := a.target.(type) {
	case nil:
		return 0
	case interface{ Hash() uint64 }:
		return t.Hash()
	}
	if !reflect.TypeOf(a.target).Comparable() {
		return 0
	}
	defer func() {
		if recover() != nil {
			h = 0
		}
	}()
	return maphash.Comparable(hashSeed, a.target)
}

func (a *Adapter) String() string {
	return "Adapter[" + fmt.Sprint(a.target) + "]"
}

// special handles the object identity methods, which are answered by the
// adapter itself whatever the interfaces declare.
func (a *Adapter) special(m Method, args []any) ([]any, bool) {
	switch {
	case m.Name == "Equal" && m.Type.NumIn() == 1 && m.Type.NumOut() == 1 && m.Type.Out(0).Kind() == reflect.Bool:
		var other any
		if len(args) > 0 {
			other = args[0]
		}
		return []any{a.Equal(other)}, true
	case m.Name == "Hash" && m.Type.NumIn() == 0 && m.Type.NumOut() == 1 && m.Type.Out(0).Kind() == reflect.Uint64:
		return []any{a.Hash()}, true
	case m.Name == "String" && m.Type.NumIn() == 0 && m.Type.NumOut() == 1 && m.Type.Out(0).Kind() == reflect.String:
		return []any{a.String()}, true
	}
	return nil, false
}

// Call invokes the named method. The results exclude a trailing error
// result, which is returned as the error instead.
func (a *Adapter) Call(name string, args ...any) ([]any, error) {
	m, ok := a.desc.Method(name)
	if !ok {
		return nil, scripting.WrapRuntime(name, fmt.Errorf("no method %q in %s", name, a.interfaceNames()))
	}
	return a.invoke(m, args)
}

func (a *Adapter) invoke(m Method, args []any) ([]any, error) {
	if out, ok := a.special(m, args); ok {
		return out, nil
	}
	release := scripting.Enter(a.ctx)
	defer release()

	out, err := a.handler.Invoke(a.ctx, a.target, a.scope, a, m, args)
	if err != nil {
		return nil, scripting.WrapRuntime(m.String(), err)
	}
	out, err = fitResults(m, out)
	if err != nil {
		return nil, scripting.WrapRuntime(m.String(), err)
	}
	return out, nil
}

// fitResults checks handler results against the method's non-error
// results. Missing results are zero values.
func fitResults(m Method, out []any) ([]any, error) {
	n := m.Type.NumOut()
	if m.returnsError() {
		n--
	}
	if len(out) > n {
		return nil, fmt.Errorf("handler returned %d results, want %d", len(out), n)
	}
	fitted := make([]any, n)
	for i := range n {
		rt := m.Type.Out(i)
		if i >= len(out) || out[i] == nil {
			fitted[i] = reflect.Zero(rt).Interface()
			continue
		}
		if ot := reflect.TypeOf(out[i]); !ot.AssignableTo(rt) {
			return nil, fmt.Errorf("result %d: %s is not assignable to %s", i, ot, rt)
		}
		fitted[i] = out[i]
	}
	return fitted, nil
}

// Func returns a function value with the method's signature that invokes
// it. If the method has no error result, failures panic with the
// *scripting.RuntimeError.
func (a *Adapter) Func(name string) (reflect.Value, error) {
	m, ok := a.desc.Method(name)
	if !ok {
		return reflect.Value{}, fmt.Errorf("adapter: no method %q in %s", name, a.interfaceNames())
	}
	return reflect.MakeFunc(m.Type, func(in []reflect.Value) []reflect.Value {
		args := make([]any, 0, len(in))
		for i, v := range in {
			if m.Type.IsVariadic() && i == len(in)-1 {
				for j := 0; j < v.Len(); j++ {
					args = append(args, v.Index(j).Interface())
				}
				continue
			}
			args = append(args, v.Interface())
		}
		out, err := a.invoke(m, args)
		results := make([]reflect.Value, m.Type.NumOut())
		for i := range results {
			rt := m.Type.Out(i)
			switch {
			case err == nil && i < len(out):
				results[i] = reflect.New(rt).Elem()
				if out[i] != nil {
					results[i].Set(reflect.ValueOf(out[i]))
				}
			case err != nil && i == len(results)-1 && m.returnsError():
				results[i] = reflect.ValueOf(&err).Elem()
			default:
				results[i] = reflect.Zero(rt)
			}
		}
		if err != nil && !m.returnsError() {
			panic(err)
		}
		return results
	}), nil
}

// Bind fills the func fields of the struct stub points to. A field is bound
// to the method named by its `adapter` tag, or else to the method named by
// the field name without a trailing "Func". Fields naming no method are left
// alone; a field whose type does not match its method is an error.
func (a *Adapter) Bind(stub any) error {
	v := reflect.ValueOf(stub)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("adapter: Bind needs a pointer to a struct, got %T", stub)
	}
	v = v.Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Type.Kind() != reflect.Func {
			continue
		}
		name, ok := f.Tag.Lookup("adapter")
		if !ok {
			name = strings.TrimSuffix(f.Name, "Func")
		}
		m, ok := a.desc.Method(name)
		if !ok {
			continue
		}
		if f.Type != m.Type {
			return fmt.Errorf("adapter: field %s.%s is %s, method %s is %s", t.Name(), f.Name, f.Type, m, m.Type)
		}
		fn, err := a.Func(name)
		if err != nil {
			return err
		}
		v.Field(i).Set(fn)
	}
	return nil
}

func (a *Adapter) interfaceNames() string {
	names := make([]string, len(a.desc.interfaces))
	for i, t := range a.desc.interfaces {
		names[i] = capability.TypeName(t)
	}
	return strings.Join(names, ", ")
}

// Package hostobject exposes the methods of Go values to scripts, restricted
// to the members the capability filter lets scripts see.
package hostobject

import (
	"errors"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/joeycumines/hostbridge/internal/capability"
	"github.com/joeycumines/hostbridge/internal/scripting"
)

var errorType = reflect.TypeFor[error]()

// Object is a read-only script view of a host value. It implements
// goja.DynamicObject; use [Object.Value] to obtain the script value.
type Object struct {
	ctx     *scripting.Context
	target  reflect.Value
	res     *capability.Resolution
	methods map[string]goja.Value
	obj     *goja.Object
}

var (
	_ goja.DynamicObject   = (*Object)(nil)
	_ scripting.HostValuer = (*Object)(nil)
)

// New resolves the members of v's type against the context's filter. It
// fails with the filter's *capability.AccessError if scripts may not use v.
func New(ctx *scripting.Context, v any) (*Object, error) {
	if v == nil {
		return nil, errors.New("hostobject: nil value")
	}
	target := reflect.ValueOf(v)
	res, err := ctx.Filter().Resolve(target.Type())
	if err != nil {
		return nil, err
	}
	return &Object{
		ctx:     ctx,
		target:  target,
		res:     res,
		methods: make(map[string]goja.Value),
	}, nil
}

// Wrap returns the script value for v, throwing the access error into the
// running script if v may not be used.
func Wrap(ctx *scripting.Context, v any) goja.Value {
	o, err := New(ctx, v)
	if err != nil {
		panic(ctx.Runtime().NewGoError(err))
	}
	return o.Value()
}

// Value returns the script object, creating it on first use.
func (o *Object) Value() *goja.Object {
	if o.obj == nil {
		o.obj = o.ctx.Runtime().NewDynamicObject(o)
	}
	return o.obj
}

// HostValue returns the wrapped Go value.
func (o *Object) HostValue() any { return o.target.Interface() }

// Resolution returns the members scripts may use.
func (o *Object) Resolution() *capability.Resolution { return o.res }

// memberName maps a script property name to a visible member, accepting the
// Go name or its lowerCamel form.
func (o *Object) memberName(name string) (string, bool) {
	if _, ok := o.res.Member(name); ok {
		return name, true
	}
	if up := exportedName(name); up != name {
		if _, ok := o.res.Member(up); ok {
			return up, true
		}
	}
	return "", false
}

// hidden reports whether name is a method of the value that the filter
// withheld.
func (o *Object) hidden(name string) (string, bool) {
	t := o.target.Type()
	for _, n := range []string{name, exportedName(name)} {
		if _, ok := t.MethodByName(n); ok {
			return n, true
		}
	}
	return "", false
}

// Get implements goja.DynamicObject.
func (o *Object) Get(key string) goja.Value {
	name, ok := o.memberName(key)
	if !ok {
		if n, hidden := o.hidden(key); hidden {
			panic(o.ctx.Runtime().NewGoError(o.res.Check(n)))
		}
		return nil
	}
	if fn, ok := o.methods[name]; ok {
		return fn
	}
	fn := o.ctx.Runtime().ToValue(o.method(name))
	o.methods[name] = fn
	return fn
}

// Set implements goja.DynamicObject. Host objects are read-only.
func (o *Object) Set(string, goja.Value) bool { return false }

// Has implements goja.DynamicObject.
func (o *Object) Has(key string) bool {
	_, ok := o.memberName(key)
	return ok
}

// Delete implements goja.DynamicObject.
func (o *Object) Delete(string) bool { return false }

// Keys implements goja.DynamicObject.
func (o *Object) Keys() []string { return o.res.Names() }

func (o *Object) method(name string) func(goja.FunctionCall) goja.Value {
	m := o.target.MethodByName(name)
	return func(call goja.FunctionCall) goja.Value {
		args, err := convertArgs(o.ctx, m.Type(), call.Arguments)
		if err != nil {
			panic(o.ctx.Runtime().NewGoError(err))
		}
		return wrapResults(o.ctx, m.Call(args))
	}
}

// convertArgs converts script arguments to the parameters of ft. Missing
// arguments are zero values; extra ones are dropped unless ft is variadic.
func convertArgs(ctx *scripting.Context, ft reflect.Type, in []goja.Value) ([]reflect.Value, error) {
	n := ft.NumIn()
	variadic := ft.IsVariadic()
	count := n
	if variadic {
		count = max(n-1, len(in))
	}
	out := make([]reflect.Value, count)
	for i := range out {
		var pt reflect.Type
		if variadic && i >= n-1 {
			pt = ft.In(n - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		if i >= len(in) {
			out[i] = reflect.Zero(pt)
			continue
		}
		v, err := ctx.Convert(in[i], pt)
		if err != nil {
			return nil, err
		}
		if v == nil {
			out[i] = reflect.Zero(pt)
		} else {
			out[i] = reflect.ValueOf(v)
		}
	}
	return out, nil
}

// wrapResults maps Go results to a script value. A trailing error result is
// thrown if non-nil; two or more remaining results become an array.
func wrapResults(ctx *scripting.Context, results []reflect.Value) goja.Value {
	if n := len(results); n > 0 && results[n-1].Type() == errorType {
		if err, _ := results[n-1].Interface().(error); err != nil {
			panic(ctx.Runtime().NewGoError(err))
		}
		results = results[:n-1]
	}
	switch len(results) {
	case 0:
		return goja.Undefined()
	case 1:
		return ctx.Wrap(results[0].Interface())
	}
	vals := make([]any, len(results))
	for i, r := range results {
		vals[i] = ctx.Wrap(r.Interface())
	}
	return ctx.Runtime().NewArray(vals...)
}

func exportedName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

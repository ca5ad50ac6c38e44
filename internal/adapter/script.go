package adapter

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/joeycumines/hostbridge/internal/scripting"
)

// ScriptHandler forwards calls to script code. The target must be a goja
// value: a function, called for every method, or an object whose property
// named after the method (Go name, then lowerCamel name) is called with the
// object as this.
//
// Arguments are wrapped with the context's wrap factory. A method with one
// non-error result converts the return value to it; a method with several
// expects an array.
type ScriptHandler struct{}

var _ Handler = ScriptHandler{}

func (ScriptHandler) Invoke(ctx *scripting.Context, target any, _ Scope, _ *Adapter, m Method, args []any) ([]any, error) {
	v, ok := target.(goja.Value)
	if !ok {
		return nil, fmt.Errorf("target %T is not a script value", target)
	}

	this := goja.Undefined()
	fn, isFunc := goja.AssertFunction(v)
	jsArgs := make([]goja.Value, len(args))
	for i, arg := range args {
		jsArgs[i] = ctx.Wrap(arg)
	}
	if !isFunc {
		obj, ok := v.(*goja.Object)
		if !ok {
			return nil, fmt.Errorf("target %s is neither a function nor an object", v)
		}
		for _, name := range []string{m.Name, lowerCamel(m.Name)} {
			if fn, isFunc = goja.AssertFunction(obj.Get(name)); isFunc {
				break
			}
		}
		if !isFunc {
			return nil, fmt.Errorf("script object has no method %s", m.Name)
		}
		this = obj
	}

	res, err := fn(this, jsArgs...)
	if err != nil {
		return nil, err
	}
	return convertResults(ctx, m, res)
}

func convertResults(ctx *scripting.Context, m Method, res goja.Value) ([]any, error) {
	var outs []reflect.Type
	for i := 0; i < m.Type.NumOut(); i++ {
		outs = append(outs, m.Type.Out(i))
	}
	if m.returnsError() {
		outs = outs[:len(outs)-1]
	}
	switch len(outs) {
	case 0:
		return nil, nil
	case 1:
		v, err := ctx.Convert(res, outs[0])
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	}
	obj, ok := res.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil, fmt.Errorf("%s must return an array of %d values", m.Name, len(outs))
	}
	out := make([]any, len(outs))
	for i, t := range outs {
		v, err := ctx.Convert(obj.Get(fmt.Sprint(i)), t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func lowerCamel(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || unicode.IsLower(r) {
		return name
	}
	return string(unicode.ToLower(r)) + name[size:]
}

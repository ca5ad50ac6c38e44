package engine

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/dop251/goja"

	"github.com/joeycumines/hostbridge/internal/adapter"
	"github.com/joeycumines/hostbridge/internal/scripting"
)

// require loads the hostbridge module:
//
//	const hb = require("hostbridge");
//	hb.implement("pkg.Iface" | ["pkg.A", "pkg.B"], handler) // adapter
//	hb.features()                                         // ["mapAccess", ...]
//	hb.setFeature("strictKeys", true)
func (e *Engine) require(rt *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)

	_ = exports.Set("implement", func(call goja.FunctionCall) goja.Value {
		types, err := e.interfaceTypes(call.Argument(0))
		if err != nil {
			panic(rt.NewTypeError("%s", err.Error()))
		}
		handler := call.Argument(1)
		if goja.IsUndefined(handler) || goja.IsNull(handler) {
			panic(rt.NewTypeError("implement: handler is required"))
		}
		if _, ok := handler.(*goja.Object); !ok {
			panic(rt.NewTypeError("implement: handler must be a function or an object"))
		}
		a, err := e.adapters.Create(e.ctx, types, adapter.ScriptHandler{}, handler)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return rt.ToValue(a)
	})

	_ = exports.Set("features", func(goja.FunctionCall) goja.Value {
		names := e.ctx.Features().Names()
		out := make([]any, len(names))
		for i, n := range names {
			out[i] = n
		}
		return rt.NewArray(out...)
	})

	_ = exports.Set("setFeature", func(call goja.FunctionCall) goja.Value {
		f, err := scripting.ParseFeature(call.Argument(0).String())
		if err != nil {
			panic(rt.NewTypeError("%s", err.Error()))
		}
		e.ctx.SetFeatures(e.ctx.Features().With(f, call.Argument(1).ToBoolean()))
		return goja.Undefined()
	})
}

// interfaceTypes resolves a name or an array of names against the type
// registry.
func (e *Engine) interfaceTypes(v goja.Value) ([]reflect.Type, error) {
	var names []string
	switch {
	case goja.IsUndefined(v) || goja.IsNull(v):
		return nil, errImplementNames
	case v.ExportType() != nil && v.ExportType().Kind() == reflect.String:
		names = []string{v.String()}
	default:
		if err := e.rt.ExportTo(v, &names); err != nil {
			return nil, errImplementNames
		}
	}
	if len(names) == 0 {
		return nil, errImplementNames
	}
	types := make([]reflect.Type, len(names))
	for i, name := range names {
		t, ok := e.types.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("implement: unknown interface %q", name)
		}
		types[i] = t
	}
	return types, nil
}

var errImplementNames = errors.New("implement: expected an interface name or an array of names")

package collection

import (
	"reflect"

	"github.com/dop251/goja"

	"github.com/joeycumines/hostbridge/internal/scripting"
)

// Wrapper is a [scripting.WrapFactory] that bridges collections, and Go maps
// while map access is enabled, delegating every other value to Next.
type Wrapper struct {
	Next scripting.WrapFactory
}

var _ scripting.WrapFactory = Wrapper{}

func (w Wrapper) Wrap(ctx *scripting.Context, v any) goja.Value {
	switch x := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return x
	case *Bridge:
		return x.Object()
	case Collection:
		return New(ctx, x).Object()
	}
	if ctx.Has(scripting.FeatureMapAccess) && reflect.TypeOf(v).Kind() == reflect.Map {
		if m, err := FromMap(v); err == nil {
			return New(ctx, m).Object()
		}
	}
	if w.Next != nil {
		return w.Next.Wrap(ctx, v)
	}
	return ctx.Runtime().ToValue(v)
}

package collection

import (
	"github.com/dop251/goja"

	"github.com/joeycumines/hostbridge/internal/scripting"
)

type entry struct {
	key, value any
}

// Iterator is a single-pass iterator over a snapshot of a collection's
// entries. Once exhausted it keeps returning the undefined pair.
type Iterator struct {
	ctx     *scripting.Context
	entries []entry
	pos     int
}

// Next returns the next [key, value] pair, both wrapped for script use. When
// there are no more entries it returns undefined for both and false.
func (it *Iterator) Next() (key, value goja.Value, ok bool) {
	if it.pos >= len(it.entries) {
		return goja.Undefined(), goja.Undefined(), false
	}
	e := it.entries[it.pos]
	it.pos++
	return it.ctx.Wrap(e.key), it.ctx.Wrap(e.value), true
}

// Object returns a script iterator driving it: next() yields
// {value: [key, value], done} results, and the object is itself iterable.
func (it *Iterator) Object() *goja.Object {
	rt := it.ctx.Runtime()
	obj := rt.NewObject()
	obj.SetPrototype(iteratorPrototype(it.ctx))
	_ = obj.Set("next", func(goja.FunctionCall) goja.Value {
		k, v, ok := it.Next()
		res := rt.NewObject()
		_ = res.Set("value", rt.NewArray(k, v))
		_ = res.Set("done", !ok)
		return res
	})
	return obj
}

type prototypeKey struct{}

type iteratorPrototypeKey struct{}

// prototype returns the prototype shared by all bridge objects of ctx. It
// carries the Symbol.iterator method.
func prototype(ctx *scripting.Context) *goja.Object {
	return ctx.Memo(prototypeKey{}, func() any {
		rt := ctx.Runtime()
		proto := rt.NewObject()
		_ = proto.SetSymbol(goja.SymIterator, func(call goja.FunctionCall) goja.Value {
			if obj, ok := call.This.(*goja.Object); ok {
				if d, ok := obj.Export().(*dynamic); ok {
					return d.b.Iterate().Object()
				}
			}
			panic(rt.NewTypeError("Method [Symbol.iterator] called on incompatible receiver %s", receiverString(call.This)))
		})
		return proto
	}).(*goja.Object)
}

func iteratorPrototype(ctx *scripting.Context) *goja.Object {
	return ctx.Memo(iteratorPrototypeKey{}, func() any {
		proto := ctx.Runtime().NewObject()
		_ = proto.SetSymbol(goja.SymIterator, func(call goja.FunctionCall) goja.Value {
			return call.This
		})
		_ = proto.SetSymbol(goja.SymToStringTag, "Host Map Iterator")
		return proto
	}).(*goja.Object)
}

func receiverString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := v.(*goja.Object); ok {
		return "object"
	}
	return v.String()
}

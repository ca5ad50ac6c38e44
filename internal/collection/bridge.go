package collection

import (
	"log/slog"

	"github.com/dop251/goja"

	"github.com/joeycumines/hostbridge/internal/hostobject"
	"github.com/joeycumines/hostbridge/internal/keycodec"
	"github.com/joeycumines/hostbridge/internal/scripting"
)

// Bridge exposes a [Collection] to scripts. With [scripting.FeatureMapAccess]
// enabled, script properties address collection entries; otherwise, and for
// properties naming no entry, the collection's own methods are reachable as
// with any host object.
//
// The bridge references the collection without owning it; writes go straight
// through. A Bridge is not safe for concurrent use.
type Bridge struct {
	ctx   *scripting.Context
	coll  Collection
	codec *keycodec.Codec

	obj     *goja.Object
	host    *hostobject.Object
	hostErr error
}

// New returns a bridge over coll.
func New(ctx *scripting.Context, coll Collection) *Bridge {
	return &Bridge{ctx: ctx, coll: coll, codec: keycodec.New(ctx, coll)}
}

// Object returns the script object for the bridge, creating it on first use.
func (b *Bridge) Object() *goja.Object {
	if b.obj == nil {
		b.obj = b.ctx.Runtime().NewDynamicObject(&dynamic{b: b})
		b.obj.SetPrototype(prototype(b.ctx))
	}
	return b.obj
}

// Codec returns the key codec of the bridge.
func (b *Bridge) Codec() *keycodec.Codec { return b.codec }

// Unwrap hands the collection back to host code. The key translation table
// is dropped, since the host may now change the keys.
func (b *Bridge) Unwrap() Collection {
	b.codec.Invalidate()
	return b.coll
}

// HostValue unwraps the bridge, returning the adapted value for collections
// implementing [Rawer].
func (b *Bridge) HostValue() any {
	coll := b.Unwrap()
	if r, ok := coll.(Rawer); ok {
		return r.Raw()
	}
	return coll
}

func (b *Bridge) mapAccess() bool {
	return b.ctx.Has(scripting.FeatureMapAccess)
}

// lookup finds the entry for k. Index keys try the literal index in the
// declared key type before their string form.
func (b *Bridge) lookup(k keycodec.Key) (hostKey, value any, ok bool, err error) {
	if k.IsIndex {
		if lit, ok := b.codec.IndexKey(k.Index); ok {
			if v, ok := b.coll.Get(lit); ok {
				return lit, v, true, nil
			}
		}
	}
	hostKey, _, err = b.codec.Lookup(k.String())
	if err != nil {
		return nil, nil, false, err
	}
	value, ok = b.coll.Get(hostKey)
	return hostKey, value, ok, nil
}

// Has reports whether the collection has an entry for k.
func (b *Bridge) Has(k keycodec.Key) (bool, error) {
	_, _, ok, err := b.lookup(k)
	return ok, err
}

// Get returns the entry for k, wrapped for script use.
func (b *Bridge) Get(k keycodec.Key) (goja.Value, bool, error) {
	_, v, ok, err := b.lookup(k)
	if err != nil || !ok {
		return nil, false, err
	}
	return b.ctx.Wrap(v), true, nil
}

// Put writes v under k, creating the host key if no existing key has k's
// string form. The value is converted to the declared value type.
func (b *Bridge) Put(k keycodec.Key, v goja.Value) error {
	var key any
	ok := false
	if k.IsIndex {
		key, ok = b.codec.IndexKey(k.Index)
	}
	if !ok {
		var err error
		if key, err = b.codec.ToHostKey(k.String()); err != nil {
			return err
		}
	}
	value, err := b.ctx.Convert(v, b.coll.ValueType())
	if err != nil {
		return err
	}
	return b.coll.Put(key, value)
}

// Delete removes the entry for k. It reports false if there is none or the
// collection does not support removal.
func (b *Bridge) Delete(k keycodec.Key) (bool, error) {
	r, ok := b.coll.(Remover)
	if !ok {
		return false, nil
	}
	key, _, found, err := b.lookup(k)
	if err != nil || !found {
		return false, err
	}
	return r.Remove(key), nil
}

// Keys rebuilds the key translation table and returns the script keys.
func (b *Bridge) Keys() ([]keycodec.Key, error) {
	return b.codec.Keys()
}

// Iterate returns an iterator over the entries as they are now, in the
// collection's iteration order.
func (b *Bridge) Iterate() *Iterator {
	it := &Iterator{ctx: b.ctx}
	b.coll.Each(func(k, v any) bool {
		it.entries = append(it.entries, entry{k, v})
		return true
	})
	return it
}

// fallback is the host object view of the collection itself, or nil if the
// capability filter refuses it.
func (b *Bridge) fallback() *hostobject.Object {
	if b.host == nil && b.hostErr == nil {
		b.host, b.hostErr = hostobject.New(b.ctx, b.coll)
		if b.hostErr != nil {
			b.ctx.Logger().Debug("collection: no member access",
				slog.Any("reason", b.hostErr))
		}
	}
	return b.host
}

func (b *Bridge) throw(err error) *goja.Object {
	return b.ctx.Runtime().NewGoError(err)
}

// dynamic is the goja.DynamicObject behind [Bridge.Object].
type dynamic struct {
	b *Bridge
}

var (
	_ goja.DynamicObject   = (*dynamic)(nil)
	_ scripting.HostValuer = (*dynamic)(nil)
)

func (d *dynamic) HostValue() any { return d.b.HostValue() }

func (d *dynamic) Get(key string) goja.Value {
	if d.b.mapAccess() {
		v, ok, err := d.b.Get(keycodec.ParseKey(key))
		if err != nil {
			panic(d.b.throw(err))
		}
		if ok {
			return v
		}
	}
	if h := d.b.fallback(); h != nil {
		return h.Get(key)
	}
	return nil
}

func (d *dynamic) Set(key string, val goja.Value) bool {
	if !d.b.mapAccess() {
		return false
	}
	if err := d.b.Put(keycodec.ParseKey(key), val); err != nil {
		panic(d.b.throw(err))
	}
	return true
}

func (d *dynamic) Has(key string) bool {
	if d.b.mapAccess() {
		ok, err := d.b.Has(keycodec.ParseKey(key))
		if err != nil {
			panic(d.b.throw(err))
		}
		if ok {
			return true
		}
	}
	if h := d.b.fallback(); h != nil {
		return h.Has(key)
	}
	return false
}

func (d *dynamic) Delete(key string) bool {
	if !d.b.mapAccess() {
		return false
	}
	if _, ok := d.b.coll.(Remover); !ok {
		return false
	}
	if _, err := d.b.Delete(keycodec.ParseKey(key)); err != nil {
		panic(d.b.throw(err))
	}
	return true
}

func (d *dynamic) Keys() []string {
	if !d.b.mapAccess() {
		if h := d.b.fallback(); h != nil {
			return h.Keys()
		}
		return nil
	}
	keys, err := d.b.Keys()
	if err != nil {
		panic(d.b.throw(err))
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

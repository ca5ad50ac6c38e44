package keycodec

import (
	"log/slog"
	"reflect"

	"github.com/joeycumines/hostbridge/internal/scripting"
)

// Source is the view of a host collection the codec needs.
type Source interface {
	// KeyType is the declared key type; nil or the empty interface means
	// unknown.
	KeyType() reflect.Type
	// Keys returns the host keys in the collection's iteration order.
	Keys() []any
}

var stringType = reflect.TypeFor[string]()

type tableState int

const (
	tableInvalid tableState = iota
	// tablePassThrough: every host key is a string, script keys are used
	// as host keys unchanged.
	tablePassThrough
	tableBuilt
)

// Codec translates keys for one host collection. It is not safe for
// concurrent use.
type Codec struct {
	ctx   *scripting.Context
	src   Source
	state tableState
	table map[string]any
}

// New returns a codec for src. No translation table exists until a key is
// first translated.
func New(ctx *scripting.Context, src Source) *Codec {
	return &Codec{ctx: ctx, src: src}
}

// HasTable reports whether a translation table is currently allocated.
func (c *Codec) HasTable() bool { return c.table != nil }

// TableSize returns the number of entries in the translation table.
func (c *Codec) TableSize() int { return len(c.table) }

// Invalidate drops the translation table. It must be called whenever host
// code may have changed the collection's keys behind the codec's back.
func (c *Codec) Invalidate() {
	c.state = tableInvalid
	c.table = nil
}

// Rebuild invalidates and immediately rebuilds the translation table.
func (c *Codec) Rebuild() error {
	c.Invalidate()
	return c.init()
}

func (c *Codec) init() error {
	if c.state != tableInvalid {
		return nil
	}
	if !c.requiresTranslation() {
		c.state = tablePassThrough
		return nil
	}

	keys := c.src.Keys()
	table := make(map[string]any, len(keys))
	rt := c.ctx.Runtime()
	for _, key := range keys {
		name := Stringify(rt, c.ctx.Enums(), key)
		if old, ok := table[name]; ok {
			if c.ctx.Has(scripting.FeatureStrictKeys) {
				return &AmbiguityError{Name: name, First: old, Second: key}
			}
			c.ctx.Observer().ObserveAmbiguity()
			c.ctx.Report(slog.LevelWarn, "keycodec: ambiguous host keys",
				slog.String("name", name),
				slog.Any("first", old),
				slog.String("firstType", typeName(old)),
				slog.Any("second", key),
				slog.String("secondType", typeName(key)))
		}
		table[name] = key
	}
	c.table = table
	c.state = tableBuilt
	c.ctx.Observer().ObserveTableBuild(len(keys))
	c.ctx.Logger().Debug("keycodec: translation table built", slog.Int("keys", len(keys)))
	return nil
}

// requiresTranslation is false when script strings can be used as host keys
// directly: the key type is string, or it is unknown and all current keys
// are strings.
func (c *Codec) requiresTranslation() bool {
	kt := c.src.KeyType()
	if kt == stringType {
		return false
	}
	if !scripting.IsUnknown(kt) {
		return true
	}
	for _, k := range c.src.Keys() {
		if _, ok := k.(string); !ok {
			return true
		}
	}
	return false
}

// Lookup translates a script string to the host key that produced it. If
// none did, the string itself is returned with ok false, matching a host key
// only in collections that hold string keys.
func (c *Codec) Lookup(name string) (key any, ok bool, err error) {
	if err := c.init(); err != nil {
		return nil, false, err
	}
	if c.state == tableBuilt {
		if key, ok := c.table[name]; ok {
			return key, true, nil
		}
	}
	return name, c.state == tablePassThrough, nil
}

// ToHostKey translates a script string to a host key, creating one of the
// declared key type if no existing key has that string form. Created keys
// are remembered.
func (c *Codec) ToHostKey(name string) (any, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	if c.state == tablePassThrough {
		return name, nil
	}
	if key, ok := c.table[name]; ok {
		return key, nil
	}
	key, err := c.createKey(name)
	if err != nil {
		return nil, err
	}
	c.table[name] = key
	return key, nil
}

func (c *Codec) createKey(name string) (any, error) {
	kt := c.src.KeyType()
	if scripting.IsUnknown(kt) {
		return name, nil
	}
	return c.ctx.ConvertString(name, kt)
}

// IndexKey returns the literal host key for array index n, if the declared
// key type is an integer type able to hold it.
func (c *Codec) IndexKey(n int) (any, bool) {
	kt := c.src.KeyType()
	if kt == nil || c.ctx.Enums().IsEnum(kt) {
		return nil, false
	}
	v := reflect.ValueOf(n)
	switch kt.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out := v.Convert(kt)
		if out.Int() != int64(n) {
			return nil, false
		}
		return out.Interface(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if n < 0 {
			return nil, false
		}
		out := v.Convert(kt)
		if out.Uint() != uint64(n) {
			return nil, false
		}
		return out.Interface(), true
	}
	return nil, false
}

// ToScriptKey returns the script key for a host key: an index key for
// integral numbers in int32 range, otherwise the string form.
func (c *Codec) ToScriptKey(key any) Key {
	if n, ok := asIndex(c.ctx.Enums(), key); ok {
		return IndexKey(n)
	}
	return NameKey(Stringify(c.ctx.Runtime(), c.ctx.Enums(), key))
}

// Keys rebuilds the translation table and returns one script key per host
// key, in iteration order, or indices first if the context asks for it.
// Distinct host keys with the same string form each produce a key.
func (c *Codec) Keys() ([]Key, error) {
	if err := c.Rebuild(); err != nil {
		return nil, err
	}
	hostKeys := c.src.Keys()
	out := make([]Key, len(hostKeys))
	for i, k := range hostKeys {
		out[i] = c.ToScriptKey(k)
	}
	if c.ctx.Has(scripting.FeatureEnumerateIndicesFirst) {
		SortIndicesFirst(out)
	}
	return out, nil
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

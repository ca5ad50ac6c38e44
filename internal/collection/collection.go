// Package collection presents host key-value collections to scripts as
// ordinary objects: properties read and write entries, Object.keys lists the
// keys and for-of iterates [key, value] pairs.
package collection

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Collection is a host-owned mutable mapping. Implementations are not
// required to be safe for concurrent use.
type Collection interface {
	// KeyType is the declared key type; nil or the empty interface means
	// keys of any type.
	KeyType() reflect.Type
	// ValueType is the declared value type, with the same convention.
	ValueType() reflect.Type
	Len() int
	// Keys returns the keys in iteration order.
	Keys() []any
	Get(key any) (any, bool)
	// Put stores value under key, failing if either has the wrong type.
	Put(key, value any) error
	// Each calls fn for every entry in iteration order until it returns
	// false.
	Each(fn func(key, value any) bool)
}

// Remover is implemented by collections that support deleting entries.
type Remover interface {
	Remove(key any) bool
}

// Rawer is implemented by collections that adapt another value, such as a Go
// map. Raw returns the adapted value.
type Rawer interface {
	Raw() any
}

// Linked is an insertion-ordered collection.
type Linked struct {
	keyType   reflect.Type
	valueType reflect.Type
	m         *linkedhashmap.Map
}

var (
	_ Collection = (*Linked)(nil)
	_ Remover    = (*Linked)(nil)
)

// NewLinked returns an empty collection with the given declared types; nil
// means any type.
func NewLinked(keyType, valueType reflect.Type) *Linked {
	return &Linked{keyType: keyType, valueType: valueType, m: linkedhashmap.New()}
}

// NewLinkedOf returns an empty collection declared as K to V.
func NewLinkedOf[K comparable, V any]() *Linked {
	return NewLinked(reflect.TypeFor[K](), reflect.TypeFor[V]())
}

func (l *Linked) KeyType() reflect.Type { return l.keyType }
func (l *Linked) ValueType() reflect.Type { return l.valueType }
func (l *Linked) Len() int { return l.m.Size() }
func (l *Linked) Keys() []any { return l.m.Keys() }

func (l *Linked) Get(key any) (any, bool) {
	if !l.acceptsKey(key) {
		return nil, false
	}
	return l.m.Get(key)
}

func (l *Linked) Put(key, value any) error {
	if !l.acceptsKey(key) {
		return fmt.Errorf("collection: key %#v is not a %s", key, typeString(l.keyType))
	}
	if err := checkValue(l.valueType, value); err != nil {
		return err
	}
	l.m.Put(key, value)
	return nil
}

// MustPut is Put for setup code; it panics on error.
func (l *Linked) MustPut(key, value any) *Linked {
	if err := l.Put(key, value); err != nil {
		panic(err)
	}
	return l
}

func (l *Linked) Remove(key any) bool {
	if _, ok := l.Get(key); !ok {
		return false
	}
	l.m.Remove(key)
	return true
}

func (l *Linked) Each(fn func(key, value any) bool) {
	it := l.m.Iterator()
	for it.Next() {
		if !fn(it.Key(), it.Value()) {
			return
		}
	}
}

func (l *Linked) String() string {
	return l.m.String()
}

func (l *Linked) acceptsKey(key any) bool {
	if key == nil {
		return l.keyType == nil || l.keyType.Kind() == reflect.Interface
	}
	kt := reflect.TypeOf(key)
	if !kt.Comparable() {
		return false
	}
	return l.keyType == nil || kt.AssignableTo(l.keyType)
}

func checkValue(t reflect.Type, value any) error {
	if t == nil {
		return nil
	}
	if value == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return nil
		}
	} else if reflect.TypeOf(value).AssignableTo(t) {
		return nil
	}
	return fmt.Errorf("collection: value %#v is not a %s", value, t)
}

// Map adapts a Go map. Go maps have no iteration order, so keys are
// iterated sorted by their printed form, then by type name.
type Map struct {
	v reflect.Value
}

var (
	_ Collection = (*Map)(nil)
	_ Remover    = (*Map)(nil)
	_ Rawer      = (*Map)(nil)
)

// FromMap adapts m, which must be a non-nil map.
func FromMap(m any) (*Map, error) {
	v := reflect.ValueOf(m)
	if v.Kind() != reflect.Map {
		return nil, fmt.Errorf("collection: %T is not a map", m)
	}
	if v.IsNil() {
		return nil, fmt.Errorf("collection: nil %T", m)
	}
	return &Map{v: v}, nil
}

func (m *Map) KeyType() reflect.Type { return m.v.Type().Key() }
func (m *Map) ValueType() reflect.Type { return m.v.Type().Elem() }
func (m *Map) Len() int { return m.v.Len() }

// Raw returns the adapted map.
func (m *Map) Raw() any { return m.v.Interface() }

func (m *Map) Keys() []any {
	keys := m.v.MapKeys()
	type sortKey struct {
		key        any
		text, kind string
	}
	sorted := make([]sortKey, len(keys))
	for i, k := range keys {
		key := k.Interface()
		sorted[i] = sortKey{key: key, text: fmt.Sprint(key), kind: fmt.Sprintf("%T", key)}
	}
	slices.SortFunc(sorted, func(a, b sortKey) int {
		return cmp.Or(cmp.Compare(a.text, b.text), cmp.Compare(a.kind, b.kind))
	})
	out := make([]any, len(sorted))
	for i, k := range sorted {
		out[i] = k.key
	}
	return out
}

func (m *Map) Get(key any) (any, bool) {
	k, ok := m.key(key)
	if !ok {
		return nil, false
	}
	v := m.v.MapIndex(k)
	if !v.IsValid() {
		return nil, false
	}
	return v.Interface(), true
}

func (m *Map) Put(key, value any) error {
	k, ok := m.key(key)
	if !ok {
		return fmt.Errorf("collection: key %#v is not a %s", key, m.KeyType())
	}
	if err := checkValue(m.ValueType(), value); err != nil {
		return err
	}
	v := reflect.Zero(m.ValueType())
	if value != nil {
		v = reflect.ValueOf(value)
	}
	m.v.SetMapIndex(k, v)
	return nil
}

func (m *Map) Remove(key any) bool {
	k, ok := m.key(key)
	if !ok || !m.v.MapIndex(k).IsValid() {
		return false
	}
	m.v.SetMapIndex(k, reflect.Value{})
	return true
}

func (m *Map) Each(fn func(key, value any) bool) {
	for _, k := range m.Keys() {
		v, ok := m.Get(k)
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}

func (m *Map) key(key any) (reflect.Value, bool) {
	kt := m.KeyType()
	if key == nil {
		if kt.Kind() == reflect.Interface {
			return reflect.Zero(kt), true
		}
		return reflect.Value{}, false
	}
	k := reflect.ValueOf(key)
	if !k.Type().Comparable() || !k.Type().AssignableTo(kt) {
		return reflect.Value{}, false
	}
	return k, true
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "any"
	}
	return t.String()
}

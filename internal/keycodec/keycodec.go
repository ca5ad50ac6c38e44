// Package keycodec translates between script property keys and the keys of
// host collections.
//
// Scripts address properties by string (or array index); host collections
// may be keyed by any Go type. A [Codec] stringifies every host key the way
// the script runtime would, remembers which host key produced each string,
// and synthesizes new host keys from strings on write.
package keycodec

import (
	"cmp"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"

	"github.com/dop251/goja"

	"github.com/joeycumines/hostbridge/internal/scripting"
)

// Key is a script property key: either an array index or a string.
type Key struct {
	Index   int
	Name    string
	IsIndex bool
}

// IndexKey returns an index-shaped key.
func IndexKey(n int) Key { return Key{Index: n, IsIndex: true} }

// NameKey returns a string key.
func NameKey(s string) Key { return Key{Name: s} }

// ParseKey classifies a property name the way the runtime does for array
// indices: canonical decimal integers in int32 range are indices.
func ParseKey(s string) Key {
	if n, err := strconv.ParseInt(s, 10, 32); err == nil && strconv.FormatInt(n, 10) == s && n >= 0 {
		return IndexKey(int(n))
	}
	return NameKey(s)
}

func (k Key) String() string {
	if k.IsIndex {
		return strconv.Itoa(k.Index)
	}
	return k.Name
}

// compareIndicesFirst orders index keys before string keys, indices
// ascending; string keys compare equal so a stable sort keeps their order.
func compareIndicesFirst(a, b Key) int {
	switch {
	case a.IsIndex && b.IsIndex:
		return cmp.Compare(a.Index, b.Index)
	case a.IsIndex:
		return -1
	case b.IsIndex:
		return 1
	}
	return 0
}

// SortIndicesFirst stably reorders keys so that index keys come first.
func SortIndicesFirst(keys []Key) {
	slices.SortStableFunc(keys, compareIndicesFirst)
}

// AmbiguityError reports two host keys with the same string form.
type AmbiguityError struct {
	Name   string
	First  any
	Second any
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("keys %v (type %T) and %v (type %T) are ambiguous as %q",
		e.First, e.First, e.Second, e.Second, e.Name)
}

// Stringify returns the script string form of a host key: strings as is,
// registered enum constants by name, fmt.Stringer values via String,
// integers in decimal, floats formatted as script numbers and nil as "null".
func Stringify(rt *goja.Runtime, enums *scripting.EnumRegistry, key any) string {
	switch k := key.(type) {
	case nil:
		return "null"
	case string:
		return k
	}
	if name, ok := enums.Name(key); ok {
		return name
	}
	if s, ok := key.(fmt.Stringer); ok {
		return s.String()
	}
	v := reflect.ValueOf(key)
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return formatNumber(rt, v.Float())
	}
	return fmt.Sprint(key)
}

func formatNumber(rt *goja.Runtime, f float64) string {
	if rt == nil {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return rt.ToValue(f).String()
}

// asIndex reports whether key is a plain number with an integral value in
// int32 range. Enum constants and Stringers are not numbers.
func asIndex(enums *scripting.EnumRegistry, key any) (int, bool) {
	if key == nil {
		return 0, false
	}
	if _, ok := key.(fmt.Stringer); ok {
		return 0, false
	}
	if _, ok := enums.Name(key); ok {
		return 0, false
	}
	var d float64
	v := reflect.ValueOf(key)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		d = float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		d = float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		d = v.Float()
	default:
		return 0, false
	}
	if d < math.MinInt32 || d > math.MaxInt32 || d != math.Trunc(d) {
		return 0, false
	}
	return int(d), true
}

package scripting

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"

	"github.com/dop251/goja"
)

// HostValuer is implemented by script-side wrappers of host values. Converting
// a wrapper to a host type yields the wrapped value.
type HostValuer interface {
	HostValue() any
}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

// IsUnknown reports whether t carries no type information, i.e. it is nil or
// the empty interface.
func IsUnknown(t reflect.Type) bool {
	return t == nil || (t.Kind() == reflect.Interface && t.NumMethod() == 0)
}

// Convert converts a script value to a value of host type t. An unknown
// target exports the value unchanged.
func (c *Context) Convert(v goja.Value, t reflect.Type) (any, error) {
	var exported any
	if v != nil {
		exported = v.Export()
	}
	if hv, ok := exported.(HostValuer); ok {
		exported = hv.HostValue()
		if IsUnknown(t) || (exported != nil && reflect.TypeOf(exported).AssignableTo(t)) {
			return exported, nil
		}
		v = c.rt.ToValue(exported)
	}
	if IsUnknown(t) {
		return exported, nil
	}
	if s, ok := exported.(string); ok && isNumericKind(t.Kind()) {
		return c.ConvertString(s, t)
	}
	if v == nil {
		v = goja.Undefined()
	}
	ptr := reflect.New(t)
	if err := c.rt.ExportTo(v, ptr.Interface()); err != nil {
		return nil, &ConversionError{Value: exported, Target: t, Err: err}
	}
	return ptr.Elem().Interface(), nil
}

// ConvertString converts a script string, typically a property key, to a
// value of host type t. Registered enums are looked up by name; types
// implementing encoding.TextUnmarshaler parse the text; numeric and boolean
// kinds are parsed strictly. Anything else goes through the runtime's
// generic export.
func (c *Context) ConvertString(s string, t reflect.Type) (any, error) {
	if IsUnknown(t) {
		return s, nil
	}
	if c.enums.IsEnum(t) {
		if v, ok := c.enums.Lookup(t, s); ok {
			return v, nil
		}
		return nil, &ConversionError{Value: s, Target: t, Err: fmt.Errorf("no constant named %q", s)}
	}
	if reflect.PointerTo(t).Implements(textUnmarshalerType) {
		ptr := reflect.New(t)
		if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return nil, &ConversionError{Value: s, Target: t, Err: err}
		}
		return ptr.Elem().Interface(), nil
	}

	out := reflect.New(t).Elem()
	var err error
	switch t.Kind() {
	case reflect.String:
		out.SetString(s)
	case reflect.Bool:
		var b bool
		if b, err = strconv.ParseBool(s); err == nil {
			out.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if n, err = strconv.ParseInt(s, 10, t.Bits()); err == nil {
			out.SetInt(n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		var n uint64
		if n, err = strconv.ParseUint(s, 10, t.Bits()); err == nil {
			out.SetUint(n)
		}
	case reflect.Float32, reflect.Float64:
		var f float64
		if f, err = strconv.ParseFloat(s, t.Bits()); err == nil {
			out.SetFloat(f)
		}
	default:
		ptr := reflect.New(t)
		if err = c.rt.ExportTo(c.rt.ToValue(s), ptr.Interface()); err == nil {
			return ptr.Elem().Interface(), nil
		}
	}
	if err != nil {
		return nil, &ConversionError{Value: s, Target: t, Err: err}
	}
	return out.Interface(), nil
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Package capability decides which host types and members scripts may see.
//
// A host injects a [Policy]. The [Filter] applies it to a concrete Go type:
// when the type itself is refused but the refusal allows a fallback, the
// filter widens the search to the type's ancestors (embedded types and
// registered interfaces it implements), collecting the members of every
// ancestor the policy allows, and asks the policy whether that union is
// usable. If it is, scripts may use the concrete value through those members
// only.
package capability

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrAccessDenied matches every [AccessError] via errors.Is.
var ErrAccessDenied = errors.New("access denied")

// Decision is the outcome of a direct policy check for a single type.
type Decision int

const (
	// Allow means the type is visible and accessible.
	Allow Decision = iota
	// DenyWithFallback means the type is refused but its ancestors may
	// still be searched for usable members.
	DenyWithFallback
	// DenyTerminal means the type is refused outright.
	DenyTerminal
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyWithFallback:
		return "deny-with-fallback"
	case DenyTerminal:
		return "deny-terminal"
	default:
		return "unknown"
	}
}

// Member is an exported method of a host type.
type Member struct {
	// Name is the Go method name.
	Name string
	// Type is the method signature, without receiver.
	Type reflect.Type
	// Owner is the type whose method set the member was taken from.
	Owner reflect.Type
}

func (m Member) String() string {
	return TypeName(m.Owner) + "." + m.Name
}

// Policy is the host-supplied access rule set. Embed [Permissive] to
// override only some of the methods.
type Policy interface {
	// TypeVisible reports whether a type with the given full name (see
	// [TypeName]) may be revealed to scripts at all.
	TypeVisible(fullName string) bool
	// CheckAccessible returns nil if the type may be used directly. A
	// non-nil error denies access; unless it is a terminal [AccessError],
	// the filter then searches the type's ancestors.
	CheckAccessible(t reflect.Type) error
	// MemberVisible reports whether a single member of t is visible.
	MemberVisible(t reflect.Type, m Member) bool
	// IsUsable is asked after ancestor widening whether the members found
	// are enough to use a refused type.
	IsUsable(t reflect.Type, members []Member) bool
}

// Permissive allows everything. It is the policy used when none is configured.
type Permissive struct{}

var _ Policy = Permissive{}

func (Permissive) TypeVisible(string) bool { return true }
func (Permissive) CheckAccessible(reflect.Type) error { return nil }
func (Permissive) MemberVisible(reflect.Type, Member) bool { return true }
func (Permissive) IsUsable(reflect.Type, []Member) bool { return true }

// AccessError is the access-control failure raised when a policy refuses a
// type or member.
type AccessError struct {
	// Type is the full name of the refused type.
	Type string
	// Member is set when a single member was refused.
	Member string
	// Reason is an optional human readable explanation.
	Reason string
	// Terminal disables ancestor widening for this denial.
	Terminal bool
	// Err is an optional underlying cause.
	Err error
}

func (e *AccessError) Error() string {
	var b strings.Builder
	b.WriteString("access denied: ")
	if e.Member != "" {
		b.WriteString("member ")
		b.WriteString(e.Type)
		b.WriteByte('.')
		b.WriteString(e.Member)
	} else {
		b.WriteString("type ")
		b.WriteString(e.Type)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AccessError) Is(target error) bool { return target == ErrAccessDenied }

func (e *AccessError) Unwrap() error { return e.Err }

// Deny builds a non-terminal AccessError for t.
func Deny(t reflect.Type, format string, args ...any) *AccessError {
	return &AccessError{Type: TypeName(t), Reason: fmt.Sprintf(format, args...)}
}

// TypeName returns the full name used for policy checks: "pkgpath.Name" for
// named types, "*" + name for pointers, the predeclared name for builtin
// types, and the Go syntax for other unnamed types.
func TypeName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	if t.Kind() == reflect.Pointer {
		return "*" + TypeName(t.Elem())
	}
	if t.Name() != "" {
		if pkg := t.PkgPath(); pkg != "" {
			return pkg + "." + t.Name()
		}
		return t.Name()
	}
	return t.String()
}

// Members returns the exported methods of t's method set, in method order.
func Members(t reflect.Type) []Member {
	if t == nil {
		return nil
	}
	n := t.NumMethod()
	out := make([]Member, 0, n)
	for i := 0; i < n; i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		out = append(out, Member{Name: m.Name, Type: signature(t, m), Owner: t})
	}
	return out
}

// signature strips the receiver that reflect includes for concrete types.
func signature(t reflect.Type, m reflect.Method) reflect.Type {
	if t.Kind() == reflect.Interface {
		return m.Type
	}
	ft := m.Type
	in := make([]reflect.Type, 0, ft.NumIn()-1)
	for i := 1; i < ft.NumIn(); i++ {
		in = append(in, ft.In(i))
	}
	out := make([]reflect.Type, ft.NumOut())
	for i := range out {
		out[i] = ft.Out(i)
	}
	return reflect.FuncOf(in, out, ft.IsVariadic())
}

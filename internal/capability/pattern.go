package capability

import (
	"fmt"
	"path"
	"reflect"
	"strings"
)

// PatternPolicy is a [Policy] driven by allow and deny lists of type name
// patterns.
//
// A pattern is one of:
//   - "*", matching every type;
//   - a prefix ending in "...", e.g. "os/..." or "github.com/acme/...";
//   - a [path.Match] pattern, matched against the full type name.
//
// Type patterns ignore pointer indirection: a pattern for "pkg.T" also
// applies to "*pkg.T". Member patterns have the form "TypePattern.Member",
// where Member is itself a path.Match pattern, e.g. "*.SetLevel".
type PatternPolicy struct {
	// AllowTypes, if not empty, restricts visible types to those matching.
	AllowTypes []string
	// DenyTypes hides matching types entirely (terminal denial).
	DenyTypes []string
	// DenyAccess refuses direct access to matching types, allowing
	// ancestor widening.
	DenyAccess []string
	// DenyMembers hides matching members.
	DenyMembers []string
	// MinMembers is the number of members ancestor widening must find for
	// a refused type to be usable.
	MinMembers int
}

var _ Policy = (*PatternPolicy)(nil)

// Validate reports the first malformed pattern.
func (p *PatternPolicy) Validate() error {
	check := func(label string, patterns []string) error {
		for _, raw := range patterns {
			pat := strings.TrimSpace(raw)
			if pat == "" {
				return fmt.Errorf("capability: %s pattern cannot be empty", label)
			}
			if _, err := path.Match(pat, "probe"); err != nil {
				return fmt.Errorf("capability: invalid %s pattern %q: %w", label, raw, err)
			}
		}
		return nil
	}
	if err := check("allow-type", p.AllowTypes); err != nil {
		return err
	}
	if err := check("deny-type", p.DenyTypes); err != nil {
		return err
	}
	if err := check("deny-access", p.DenyAccess); err != nil {
		return err
	}
	for _, raw := range p.DenyMembers {
		if i := strings.LastIndexByte(raw, '.'); i <= 0 || i == len(raw)-1 {
			return fmt.Errorf("capability: deny-member pattern %q must have the form Type.Member", raw)
		}
	}
	return check("deny-member", p.DenyMembers)
}

func (p *PatternPolicy) TypeVisible(fullName string) bool {
	name := strings.TrimLeft(fullName, "*")
	if matchAny(p.DenyTypes, name) {
		return false
	}
	return len(p.AllowTypes) == 0 || matchAny(p.AllowTypes, name)
}

func (p *PatternPolicy) CheckAccessible(t reflect.Type) error {
	name := strings.TrimLeft(TypeName(t), "*")
	for _, pat := range p.DenyAccess {
		if matchPattern(pat, name) {
			return Deny(t, "matches %q", pat)
		}
	}
	return nil
}

func (p *PatternPolicy) MemberVisible(t reflect.Type, m Member) bool {
	name := strings.TrimLeft(TypeName(t), "*")
	for _, raw := range p.DenyMembers {
		i := strings.LastIndexByte(raw, '.')
		if i <= 0 {
			continue
		}
		typePat, memberPat := raw[:i], raw[i+1:]
		if !matchPattern(typePat, name) {
			continue
		}
		if ok, err := path.Match(memberPat, m.Name); err == nil && ok {
			return false
		}
	}
	return true
}

func (p *PatternPolicy) IsUsable(_ reflect.Type, members []Member) bool {
	return len(members) >= p.MinMembers
}

func matchAny(patterns []string, name string) bool {
	for _, pat := range patterns {
		if matchPattern(pat, name) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, name string) bool {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "*":
		return name != ""
	case strings.HasSuffix(pattern, "..."):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "..."))
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// All returns a policy that allows only what every one of policies allows.
func All(policies ...Policy) Policy {
	return allPolicy(policies)
}

type allPolicy []Policy

func (a allPolicy) TypeVisible(fullName string) bool {
	for _, p := range a {
		if !p.TypeVisible(fullName) {
			return false
		}
	}
	return true
}

func (a allPolicy) CheckAccessible(t reflect.Type) error {
	for _, p := range a {
		if err := p.CheckAccessible(t); err != nil {
			return err
		}
	}
	return nil
}

func (a allPolicy) MemberVisible(t reflect.Type, m Member) bool {
	for _, p := range a {
		if !p.MemberVisible(t, m) {
			return false
		}
	}
	return true
}

func (a allPolicy) IsUsable(t reflect.Type, members []Member) bool {
	for _, p := range a {
		if !p.IsUsable(t, members) {
			return false
		}
	}
	return true
}

package capability

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRuleCacheSize bounds the number of compiled rule programs an
// [ExprPolicy] keeps unless [WithRuleCacheSize] says otherwise.
const DefaultRuleCacheSize = 256

// RuleEnv is the environment rule expressions are evaluated against.
type RuleEnv struct {
	// Type is the full type name, e.g. "*github.com/acme/log.Logger".
	Type string
	// Package is the type's package path, empty for builtin and unnamed types.
	Package string
	// Name is the type's unqualified name.
	Name string
	// Kind is the reflect kind, e.g. "struct", "ptr", "interface".
	Kind string
	// Member is the member name; empty outside member rules.
	Member string
	// Members holds the member names found by widening; usable rules only.
	Members []string
}

func newRuleEnv(t reflect.Type) RuleEnv {
	env := RuleEnv{Type: TypeName(t)}
	if t == nil {
		return env
	}
	env.Kind = t.Kind().String()
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	env.Package = base.PkgPath()
	env.Name = base.Name()
	return env
}

// nameRuleEnv splits a full type name into package and name.
func nameRuleEnv(fullName string) RuleEnv {
	env := RuleEnv{Type: fullName}
	base := strings.TrimLeft(fullName, "*")
	if i := strings.LastIndexByte(base, '.'); i > strings.LastIndexByte(base, '/') {
		env.Package, env.Name = base[:i], base[i+1:]
	} else {
		env.Name = base
	}
	return env
}

// ExprRules holds rule expressions in the expr language
// (github.com/expr-lang/expr). Each must evaluate to a bool; an empty rule
// allows everything.
//
//	Visible:    Package != "os" && !(Type startsWith "unsafe")
//	Accessible: Kind == "interface" || Package startsWith "github.com/acme/"
//	Member:     Member not in ["Close", "SetLevel"]
//	Usable:     len(Members) > 1
type ExprRules struct {
	Visible    string
	Accessible string
	Member     string
	Usable     string
}

// ExprPolicy is a [Policy] backed by [ExprRules]. Compiled programs are kept
// in a bounded cache owned by the policy.
type ExprPolicy struct {
	rules ExprRules
	cache *lru.Cache[string, *vm.Program]
}

var _ Policy = (*ExprPolicy)(nil)

type exprOptions struct {
	cacheSize int
}

// ExprOption configures [NewExprPolicy].
type ExprOption func(*exprOptions)

// WithRuleCacheSize bounds the policy's compiled program cache. Sizes below
// one mean [DefaultRuleCacheSize].
func WithRuleCacheSize(size int) ExprOption {
	return func(o *exprOptions) { o.cacheSize = size }
}

// NewExprPolicy compiles rules, failing on the first invalid expression.
func NewExprPolicy(rules ExprRules, opts ...ExprOption) (*ExprPolicy, error) {
	var o exprOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize < 1 {
		o.cacheSize = DefaultRuleCacheSize
	}
	cache, err := lru.New[string, *vm.Program](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("capability: rule cache: %w", err)
	}
	p := &ExprPolicy{rules: rules, cache: cache}
	for _, r := range []struct{ label, src string }{
		{"visible", rules.Visible},
		{"accessible", rules.Accessible},
		{"member", rules.Member},
		{"usable", rules.Usable},
	} {
		if r.src == "" {
			continue
		}
		if _, err := p.compile(r.src); err != nil {
			return nil, fmt.Errorf("capability: invalid %s rule: %w", r.label, err)
		}
	}
	return p, nil
}

// CacheLen returns the number of compiled programs the policy holds.
func (p *ExprPolicy) CacheLen() int {
	return p.cache.Len()
}

func (p *ExprPolicy) compile(src string) (*vm.Program, error) {
	if prog, ok := p.cache.Get(src); ok {
		return prog, nil
	}
	prog, err := expr.Compile(src, expr.Env(RuleEnv{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	p.cache.Add(src, prog)
	return prog, nil
}

func (p *ExprPolicy) eval(src string, env RuleEnv) (bool, error) {
	if src == "" {
		return true, nil
	}
	prog, err := p.compile(src)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

// TypeVisible evaluates the Visible rule, which sees only Type, Package and
// Name. Evaluation errors hide the type.
func (p *ExprPolicy) TypeVisible(fullName string) bool {
	ok, err := p.eval(p.rules.Visible, nameRuleEnv(fullName))
	return err == nil && ok
}

// CheckAccessible evaluates the Accessible rule. Evaluation errors are
// terminal denials.
func (p *ExprPolicy) CheckAccessible(t reflect.Type) error {
	ok, err := p.eval(p.rules.Accessible, newRuleEnv(t))
	if err != nil {
		return &AccessError{Type: TypeName(t), Reason: "accessible rule failed", Terminal: true, Err: err}
	}
	if !ok {
		return Deny(t, "accessible rule refused")
	}
	return nil
}

// MemberVisible evaluates the Member rule.
func (p *ExprPolicy) MemberVisible(t reflect.Type, m Member) bool {
	env := newRuleEnv(t)
	env.Member = m.Name
	ok, err := p.eval(p.rules.Member, env)
	return err == nil && ok
}

// IsUsable evaluates the Usable rule.
func (p *ExprPolicy) IsUsable(t reflect.Type, members []Member) bool {
	env := newRuleEnv(t)
	env.Members = make([]string, len(members))
	for i, m := range members {
		env.Members[i] = m.Name
	}
	ok, err := p.eval(p.rules.Usable, env)
	return err == nil && ok
}

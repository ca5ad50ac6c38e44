package capability

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Greeter interface {
	Greet() string
}

type Concrete struct{}

func (*Concrete) Greet() string  { return "hi" }
func (*Concrete) Secret() string { return "s3cret" }

type Base struct{}

func (Base) Hello() string { return "hello" }

type Outer struct {
	Base
}

func (Outer) Extra() string { return "extra" }

var (
	greeterType  = reflect.TypeFor[Greeter]()
	concreteType = reflect.TypeFor[*Concrete]()
	concreteName = TypeName(reflect.TypeFor[Concrete]())
)

type recordingObserver struct {
	names   []string
	widened []bool
	errs    []error
}

func (o *recordingObserver) ObserveResolution(typeName string, _ Decision, widened bool, err error) {
	o.names = append(o.names, typeName)
	o.widened = append(o.widened, widened)
	o.errs = append(o.errs, err)
}

func TestTypeName(t *testing.T) {
	pkg := reflect.TypeFor[Concrete]().PkgPath()
	assert.Equal(t, pkg+".Concrete", TypeName(reflect.TypeFor[Concrete]()))
	assert.Equal(t, "*"+pkg+".Concrete", TypeName(concreteType))
	assert.Equal(t, "int64", TypeName(reflect.TypeFor[int64]()))
	assert.Equal(t, "map[string]int", TypeName(reflect.TypeFor[map[string]int]()))
	assert.Equal(t, "nil", TypeName(nil))
}

func TestMembers_StripsReceiver(t *testing.T) {
	members := Members(concreteType)
	require.Len(t, members, 2)
	assert.Equal(t, "Greet", members[0].Name)
	assert.Equal(t, 0, members[0].Type.NumIn())
	assert.Equal(t, concreteType, members[0].Owner)

	iface := Members(greeterType)
	require.Len(t, iface, 1)
	assert.Equal(t, "Greet", iface[0].Name)
}

func TestResolve_PermissiveAllowsEverything(t *testing.T) {
	f := NewFilter(nil, nil)
	res, err := f.Resolve(concreteType)
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Decision)
	assert.False(t, res.Widened)
	assert.Equal(t, []string{"Greet", "Secret"}, res.Names())
}

func TestResolve_WidensToRegisteredInterface(t *testing.T) {
	obs := &recordingObserver{}
	f := NewFilter(&PatternPolicy{DenyAccess: []string{concreteName}},
		NewRegistry(greeterType), WithObserver(obs))

	res, err := f.Resolve(concreteType)
	require.NoError(t, err)
	assert.Equal(t, DenyWithFallback, res.Decision)
	assert.True(t, res.Widened)
	assert.Equal(t, []string{"Greet"}, res.Names())

	m, ok := res.Member("Greet")
	require.True(t, ok)
	assert.Equal(t, greeterType, m.Owner)

	require.NoError(t, res.Check("Greet"))
	err = res.Check("Secret")
	require.ErrorIs(t, err, ErrAccessDenied)
	var ae *AccessError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Secret", ae.Member)
	assert.Contains(t, ae.Error(), "member *"+concreteName+".Secret")

	require.Len(t, obs.names, 1)
	assert.Equal(t, "*"+concreteName, obs.names[0])
	assert.True(t, obs.widened[0])
	assert.NoError(t, obs.errs[0])
}

func TestResolve_WidensToEmbeddedType(t *testing.T) {
	outerName := TypeName(reflect.TypeFor[Outer]())
	f := NewFilter(&PatternPolicy{DenyAccess: []string{outerName}}, nil)

	res, err := f.Resolve(reflect.TypeFor[Outer]())
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello"}, res.Names())

	// the pointer form promotes through *Base
	res, err = f.Resolve(reflect.TypeFor[*Outer]())
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello"}, res.Names())
}

func TestResolve_NoUsableAncestorsReraisesOriginalDenial(t *testing.T) {
	f := NewFilter(&PatternPolicy{DenyAccess: []string{concreteName}, MinMembers: 2},
		NewRegistry(greeterType))

	res, err := f.Resolve(concreteType)
	require.Nil(t, res)
	var ae *AccessError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "*"+concreteName, ae.Type)
	assert.Empty(t, ae.Member)
	assert.Contains(t, ae.Reason, concreteName)
	assert.False(t, ae.Terminal)
}

func TestResolve_TerminalDenialSkipsWidening(t *testing.T) {
	obs := &recordingObserver{}
	f := NewFilter(&PatternPolicy{DenyTypes: []string{concreteName}},
		NewRegistry(greeterType), WithObserver(obs))

	_, err := f.Resolve(concreteType)
	var ae *AccessError
	require.ErrorAs(t, err, &ae)
	assert.True(t, ae.Terminal)
	require.Len(t, obs.widened, 1)
	assert.False(t, obs.widened[0])

	d, err := f.Decide(concreteType)
	assert.Equal(t, DenyTerminal, d)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

type plainErrPolicy struct{ Permissive }

func (plainErrPolicy) CheckAccessible(t reflect.Type) error {
	if t.Kind() == reflect.Interface {
		return nil
	}
	return errors.New("concrete types are off limits")
}

func TestDecide_PlainErrorIsFallback(t *testing.T) {
	f := NewFilter(plainErrPolicy{}, NewRegistry(greeterType))
	d, err := f.Decide(concreteType)
	assert.Equal(t, DenyWithFallback, d)
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.Contains(t, err.Error(), "off limits")

	res, err := f.Resolve(concreteType)
	require.NoError(t, err)
	assert.Equal(t, []string{"Greet"}, res.Names())
}

func TestResolve_MemberDeny(t *testing.T) {
	f := NewFilter(&PatternPolicy{DenyMembers: []string{concreteName + ".Sec*"}}, nil)
	res, err := f.Resolve(concreteType)
	require.NoError(t, err)
	assert.Equal(t, []string{"Greet"}, res.Names())
	assert.ErrorIs(t, res.Check("Secret"), ErrAccessDenied)
}

func TestPatternPolicy_Matching(t *testing.T) {
	for _, tc := range []struct {
		pattern, name string
		want          bool
	}{
		{"*", "os.File", true},
		{"*", "", false},
		{"os/...", "os/exec.Cmd", true},
		{"os/...", "io.Reader", false},
		{"github.com/acme/*.Logger", "github.com/acme/log.Logger", true},
		{"github.com/acme/*.Logger", "github.com/acme/log/sub.Logger", false},
		{"os.File", "os.File", true},
		{"os.[", "os.File", false},
	} {
		t.Run(tc.pattern+"|"+tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matchPattern(tc.pattern, tc.name))
		})
	}
}

func TestPatternPolicy_AllowList(t *testing.T) {
	p := &PatternPolicy{AllowTypes: []string{"github.com/acme/..."}, DenyTypes: []string{"github.com/acme/internal/..."}}
	assert.True(t, p.TypeVisible("*github.com/acme/log.Logger"))
	assert.False(t, p.TypeVisible("github.com/acme/internal/db.Conn"))
	assert.False(t, p.TypeVisible("os.File"))
}

func TestPatternPolicy_Validate(t *testing.T) {
	require.NoError(t, (&PatternPolicy{DenyTypes: []string{"os/..."}, DenyMembers: []string{"*.Close"}}).Validate())
	require.Error(t, (&PatternPolicy{DenyTypes: []string{""}}).Validate())
	require.Error(t, (&PatternPolicy{DenyAccess: []string{"os.["}}).Validate())
	require.Error(t, (&PatternPolicy{DenyMembers: []string{"Close"}}).Validate())
	require.Error(t, (&PatternPolicy{DenyMembers: []string{"os.File."}}).Validate())
}

func TestAll_Conjunction(t *testing.T) {
	p := All(Permissive{}, &PatternPolicy{DenyTypes: []string{"os.*"}})
	assert.True(t, p.TypeVisible("io.Reader"))
	assert.False(t, p.TypeVisible("os.File"))
	assert.True(t, p.IsUsable(nil, nil))
	assert.NoError(t, p.CheckAccessible(concreteType))
}

func TestExprPolicy(t *testing.T) {
	p, err := NewExprPolicy(ExprRules{
		Accessible: `Kind == "interface"`,
		Member:     `Member != "Secret"`,
		Usable:     `len(Members) >= 1`,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, p.CacheLen())

	f := NewFilter(p, NewRegistry(greeterType))
	res, err := f.Resolve(concreteType)
	require.NoError(t, err)
	assert.True(t, res.Widened)
	assert.Equal(t, []string{"Greet"}, res.Names())

	strict, err := NewExprPolicy(ExprRules{Accessible: `Kind == "interface"`, Usable: `len(Members) > 5`})
	require.NoError(t, err)
	_, err = NewFilter(strict, NewRegistry(greeterType)).Resolve(concreteType)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestExprPolicy_Visible(t *testing.T) {
	p, err := NewExprPolicy(ExprRules{Visible: `not (Type startsWith "os.")`})
	require.NoError(t, err)
	assert.True(t, p.TypeVisible("io.Reader"))
	assert.False(t, p.TypeVisible("os.File"))

	p, err = NewExprPolicy(ExprRules{Visible: `Package != "github.com/acme/db" && Name != "Secret"`})
	require.NoError(t, err)
	assert.False(t, p.TypeVisible("*github.com/acme/db.Conn"))
	assert.False(t, p.TypeVisible("example.com/x.Secret"))
	assert.True(t, p.TypeVisible("github.com/acme/log.Logger"))
	assert.True(t, p.TypeVisible("int"))
}

func TestExprPolicy_InvalidRules(t *testing.T) {
	_, err := NewExprPolicy(ExprRules{Accessible: `Name +`})
	require.ErrorContains(t, err, "invalid accessible rule")

	_, err = NewExprPolicy(ExprRules{Member: `Name`})
	require.ErrorContains(t, err, "invalid member rule")
}

func TestExprPolicy_CachePerPolicy(t *testing.T) {
	rules := ExprRules{
		Visible:    `Name != "a"`,
		Accessible: `Name != "b"`,
		Member:     `Member != "c"`,
	}
	big, err := NewExprPolicy(rules)
	require.NoError(t, err)
	assert.Equal(t, 3, big.CacheLen())

	small, err := NewExprPolicy(rules, WithRuleCacheSize(1))
	require.NoError(t, err)
	assert.Equal(t, 1, small.CacheLen())
	assert.Equal(t, 3, big.CacheLen())

	// evicted programs are recompiled on demand
	assert.False(t, small.TypeVisible("x.a"))
	assert.NoError(t, small.CheckAccessible(concreteType))
	assert.Equal(t, 1, small.CacheLen())

	fallback, err := NewExprPolicy(rules, WithRuleCacheSize(0))
	require.NoError(t, err)
	assert.Equal(t, 3, fallback.CacheLen())
}

type Hellower interface{ Hello() string }

type Left struct{ Base }

type Right struct{ Base }

// Diamond reaches Base and Hellower through both Left and Right.
type Diamond struct {
	Left
	Right
}

type countingPolicy struct {
	Policy
	checks  map[string]int
	members map[string]int
}

func newCountingPolicy(p Policy) *countingPolicy {
	return &countingPolicy{Policy: p, checks: map[string]int{}, members: map[string]int{}}
}

func (c *countingPolicy) CheckAccessible(t reflect.Type) error {
	c.checks[TypeName(t)]++
	return c.Policy.CheckAccessible(t)
}

func (c *countingPolicy) MemberVisible(t reflect.Type, m Member) bool {
	c.members[TypeName(t)]++
	return c.Policy.MemberVisible(t, m)
}

func TestResolve_WidenVisitsSharedAncestorOnce(t *testing.T) {
	var (
		baseName     = TypeName(reflect.TypeFor[Base]())
		hellowerName = TypeName(reflect.TypeFor[Hellower]())
		leftName     = TypeName(reflect.TypeFor[Left]())
		rightName    = TypeName(reflect.TypeFor[Right]())
		diamondName  = TypeName(reflect.TypeFor[Diamond]())
	)
	policy := newCountingPolicy(&PatternPolicy{DenyAccess: []string{diamondName, leftName, rightName}})
	f := NewFilter(policy, NewRegistry(reflect.TypeFor[Hellower]()))

	res, err := f.Resolve(reflect.TypeFor[Diamond]())
	require.NoError(t, err)
	assert.True(t, res.Widened)
	assert.Equal(t, []string{"Hello"}, res.Names())

	m, ok := res.Member("Hello")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[Base](), m.Owner)

	assert.Equal(t, map[string]int{
		diamondName:  1,
		leftName:     1,
		rightName:    1,
		baseName:     1,
		hellowerName: 1,
	}, policy.checks)
	assert.Equal(t, 1, policy.members[baseName])
	assert.Equal(t, 1, policy.members[hellowerName])
	assert.Zero(t, policy.members[leftName])
	assert.Zero(t, policy.members[rightName])
}

func TestResolve_CachedPerType(t *testing.T) {
	obs := &recordingObserver{}
	policy := newCountingPolicy(&PatternPolicy{DenyAccess: []string{concreteName}, MinMembers: 1})
	registry := NewRegistry()
	f := NewFilter(policy, registry, WithObserver(obs))

	_, err := f.Resolve(concreteType)
	require.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.Resolve(concreteType)
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, 1, policy.checks["*"+concreteName])

	registry.Register(greeterType)
	first, err := f.Resolve(concreteType)
	require.NoError(t, err)
	assert.Equal(t, []string{"Greet"}, first.Names())
	assert.Equal(t, 2, policy.checks["*"+concreteName])
	assert.Equal(t, 1, policy.checks[TypeName(greeterType)])

	second, err := f.Resolve(concreteType)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 2, policy.checks["*"+concreteName])
	assert.Equal(t, 1, policy.checks[TypeName(greeterType)])

	require.Len(t, obs.names, 4)
	assert.Equal(t, []bool{true, true, true, true}, obs.widened)
	assert.Error(t, obs.errs[1])
	assert.NoError(t, obs.errs[3])
}

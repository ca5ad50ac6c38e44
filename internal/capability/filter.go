package capability

import (
	"errors"
	"log/slog"
	"reflect"
	"sync"
)

// Observer receives the outcome of every [Filter.Resolve] call.
type Observer interface {
	ObserveResolution(typeName string, direct Decision, widened bool, err error)
}

// Filter applies a [Policy] to host types. Its methods are safe for
// concurrent use.
//
// Resolutions are cached per type. Registering a new type with the filter's
// registry invalidates the cache, since it may change the ancestors seen
// during widening.
type Filter struct {
	policy   Policy
	registry *Registry
	logger   *slog.Logger
	observer Observer
	resolved sync.Map // reflect.Type -> *resolved
}

type resolved struct {
	gen uint64
	res *Resolution
	err error
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithLogger sets the logger used for widening diagnostics.
func WithLogger(logger *slog.Logger) FilterOption {
	return func(f *Filter) { f.logger = logger }
}

// WithObserver sets an observer notified of each resolution.
func WithObserver(o Observer) FilterOption {
	return func(f *Filter) { f.observer = o }
}

// NewFilter returns a filter for policy. A nil policy is [Permissive]; a nil
// registry means only embedded types are considered ancestors.
func NewFilter(policy Policy, registry *Registry, opts ...FilterOption) *Filter {
	if policy == nil {
		policy = Permissive{}
	}
	if registry == nil {
		registry = NewRegistry()
	}
	f := &Filter{policy: policy, registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Policy returns the policy in effect.
func (f *Filter) Policy() Policy { return f.policy }

// Registry returns the type registry used for widening.
func (f *Filter) Registry() *Registry { return f.registry }

// TypeVisible reports whether the named type may be revealed to scripts.
func (f *Filter) TypeVisible(fullName string) bool {
	return f.policy.TypeVisible(fullName)
}

// TypeAccessible returns nil if t is visible and directly accessible, or the
// *AccessError describing the denial.
func (f *Filter) TypeAccessible(t reflect.Type) error {
	_, err := f.Decide(t)
	return err
}

// MemberVisible reports whether m of t is visible.
func (f *Filter) MemberVisible(t reflect.Type, m Member) bool {
	return f.policy.MemberVisible(t, m)
}

// IsUsable asks the policy whether members suffice to use t.
func (f *Filter) IsUsable(t reflect.Type, members []Member) bool {
	return f.policy.IsUsable(t, members)
}

// Decide performs the direct check for t, without widening.
func (f *Filter) Decide(t reflect.Type) (Decision, error) {
	name := TypeName(t)
	if !f.policy.TypeVisible(name) {
		return DenyTerminal, &AccessError{Type: name, Reason: "not visible to scripts", Terminal: true}
	}
	err := f.policy.CheckAccessible(t)
	if err == nil {
		return Allow, nil
	}
	var ae *AccessError
	if !errors.As(err, &ae) {
		ae = &AccessError{Type: name, Err: err}
		err = ae
	}
	if ae.Terminal {
		return DenyTerminal, err
	}
	return DenyWithFallback, err
}

// Resolution is the set of members scripts may use on a type.
type Resolution struct {
	// Type is the resolved type.
	Type reflect.Type
	// Decision is the outcome of the direct check on Type.
	Decision Decision
	// Widened is true when the members were collected from ancestors.
	Widened bool

	members []Member
	byName  map[string]int
}

// Members returns the visible members, in discovery order.
func (r *Resolution) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// Names returns the visible member names, in discovery order.
func (r *Resolution) Names() []string {
	out := make([]string, len(r.members))
	for i, m := range r.members {
		out[i] = m.Name
	}
	return out
}

// Member looks up a visible member by name.
func (r *Resolution) Member(name string) (Member, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Member{}, false
	}
	return r.members[i], true
}

// Check returns an *AccessError if name is not a visible member.
func (r *Resolution) Check(name string) error {
	if _, ok := r.byName[name]; ok {
		return nil
	}
	return &AccessError{Type: TypeName(r.Type), Member: name, Reason: "member not visible to scripts"}
}

func (r *Resolution) add(m Member) {
	if _, ok := r.byName[m.Name]; ok {
		return
	}
	r.byName[m.Name] = len(r.members)
	r.members = append(r.members, m)
}

type resolveState int

const (
	stateStart resolveState = iota
	stateAllowed
	stateWiden
	stateDecide
	stateDone
)

// Resolve determines the members of t that scripts may use. The result is
// shared between callers and must not be modified. The observer is notified
// on every call, including those answered from the cache.
func (f *Filter) Resolve(t reflect.Type) (*Resolution, error) {
	gen := f.registry.Generation()
	var r *resolved
	if v, ok := f.resolved.Load(t); ok && v.(*resolved).gen == gen {
		r = v.(*resolved)
	} else {
		res, err := f.resolve(t)
		r = &resolved{gen: gen, res: res, err: err}
		f.resolved.Store(t, r)
	}
	if f.observer != nil {
		f.observer.ObserveResolution(TypeName(t), r.res.Decision, r.res.Widened, r.err)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.res, nil
}

// resolve walks the type without consulting the cache. The partial
// resolution is returned alongside any error.
//
// The walk is an explicit state machine: START performs the direct check and
// moves to ALLOWED or, for a fallback denial, to WIDEN. WIDEN visits the
// ancestor closure breadth-first, collecting the visible members of every
// allowed ancestor and expanding only refused ones. DECIDE asks the policy
// whether the union is usable; if not, the original denial is returned.
func (f *Filter) resolve(t reflect.Type) (res *Resolution, err error) {
	res = &Resolution{Type: t, byName: make(map[string]int)}
	var denial error

	state := stateStart
	for state != stateDone {
		switch state {
		case stateStart:
			res.Decision, denial = f.Decide(t)
			switch res.Decision {
			case Allow:
				state = stateAllowed
			case DenyWithFallback:
				state = stateWiden
			default:
				err = denial
				state = stateDone
			}

		case stateAllowed:
			f.collect(res, t)
			state = stateDone

		case stateWiden:
			f.logger.Debug("capability: type refused, searching ancestors",
				slog.String("type", TypeName(t)),
				slog.Any("reason", denial))
			res.Widened = true
			visited := map[reflect.Type]struct{}{t: {}}
			queue := f.registry.Ancestors(t)
			for len(queue) > 0 {
				a := queue[0]
				queue = queue[1:]
				if _, seen := visited[a]; seen {
					continue
				}
				visited[a] = struct{}{}
				switch d, _ := f.Decide(a); d {
				case Allow:
					f.collect(res, a)
				case DenyWithFallback:
					queue = append(queue, f.registry.Ancestors(a)...)
				}
			}
			state = stateDecide

		case stateDecide:
			if !f.policy.IsUsable(t, res.Members()) {
				err = denial
			}
			state = stateDone
		}
	}

	return res, err
}

func (f *Filter) collect(res *Resolution, t reflect.Type) {
	for _, m := range Members(t) {
		if f.policy.MemberVisible(t, m) {
			res.add(m)
		}
	}
}

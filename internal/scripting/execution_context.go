package scripting

import (
	"context"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/joeycumines/hostbridge/internal/capability"
	"github.com/joeycumines/hostbridge/internal/ctxslot"
)

// WrapFactory turns host values into script values. The engine supplies the
// implementation, choosing a representation by the value's type.
type WrapFactory interface {
	Wrap(c *Context, v any) goja.Value
}

// WrapFunc adapts a function to [WrapFactory].
type WrapFunc func(c *Context, v any) goja.Value

func (f WrapFunc) Wrap(c *Context, v any) goja.Value { return f(c, v) }

// Observer receives bridge events, e.g. to export them as metrics.
type Observer interface {
	capability.Observer
	// ObserveTableBuild is called whenever a key translation table is
	// (re)built, with the number of host keys it covers.
	ObserveTableBuild(keys int)
	// ObserveAmbiguity is called once per key collision.
	ObserveAmbiguity()
	// ObserveAdapter is called when an adapter is created.
	ObserveAdapter(interfaces int)
}

type nopObserver struct{}

func (nopObserver) ObserveResolution(string, capability.Decision, bool, error) {}
func (nopObserver) ObserveTableBuild(int) {}
func (nopObserver) ObserveAmbiguity() {}
func (nopObserver) ObserveAdapter(int) {}

// Context is the execution environment the bridge runs in: the script
// runtime plus the feature flags, access policy, conversions and diagnostic
// sink in effect. A Context, like its runtime, must only be used by one
// goroutine at a time.
type Context struct {
	rt       *goja.Runtime
	features Features
	filter   *capability.Filter
	wrap     WrapFactory
	enums    *EnumRegistry
	diag     *Diagnostics
	logger   *slog.Logger
	observer Observer
	memo     map[any]any
}

// Option configures a Context.
type Option func(*Context)

// WithFeatures sets the enabled features, replacing [DefaultFeatures].
func WithFeatures(f Features) Option {
	return func(c *Context) { c.features = f }
}

// WithFilter sets the capability filter.
func WithFilter(f *capability.Filter) Option {
	return func(c *Context) { c.filter = f }
}

// WithWrapFactory sets the factory used by [Context.Wrap].
func WithWrapFactory(w WrapFactory) Option {
	return func(c *Context) { c.wrap = w }
}

// WithEnums sets the enum registry used for string conversion.
func WithEnums(r *EnumRegistry) Option {
	return func(c *Context) { c.enums = r }
}

// WithDiagnostics sets the diagnostic handler.
func WithDiagnostics(d *Diagnostics) Option {
	return func(c *Context) { c.diag = d }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(c *Context) { c.observer = o }
}

// NewContext returns a context over rt. Unless overridden, the features are
// [DefaultFeatures], the filter is permissive and diagnostics are retained in
// memory and forwarded to slog.Default.
func NewContext(rt *goja.Runtime, opts ...Option) *Context {
	c := &Context{rt: rt, features: DefaultFeatures}
	for _, opt := range opts {
		opt(c)
	}
	if c.filter == nil {
		c.filter = capability.NewFilter(nil, nil)
	}
	if c.enums == nil {
		c.enums = NewEnumRegistry()
	}
	if c.diag == nil {
		c.diag = NewDiagnostics(0, slog.Default().Handler())
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	c.logger = slog.New(c.diag)
	return c
}

// Runtime returns the script runtime.
func (c *Context) Runtime() *goja.Runtime { return c.rt }

// Features returns the enabled features.
func (c *Context) Features() Features { return c.features }

// SetFeatures replaces the enabled features.
func (c *Context) SetFeatures(f Features) { c.features = f }

// Has reports whether feature f is enabled.
func (c *Context) Has(f Features) bool { return c.features.Has(f) }

// Filter returns the capability filter.
func (c *Context) Filter() *capability.Filter { return c.filter }

// Enums returns the enum registry.
func (c *Context) Enums() *EnumRegistry { return c.enums }

// Diagnostics returns the diagnostic handler.
func (c *Context) Diagnostics() *Diagnostics { return c.diag }

// Logger returns a logger writing to the diagnostic handler.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Observer returns the event observer, never nil.
func (c *Context) Observer() Observer { return c.observer }

// Wrap converts a host value for script use.
func (c *Context) Wrap(v any) goja.Value {
	if c.wrap == nil {
		return c.rt.ToValue(v)
	}
	return c.wrap.Wrap(c, v)
}

// Memo returns the value stored under key, calling init to create it on
// first use. It holds per-context singletons such as shared prototypes.
func (c *Context) Memo(key any, init func() any) any {
	if v, ok := c.memo[key]; ok {
		return v
	}
	if c.memo == nil {
		c.memo = make(map[any]any)
	}
	v := init()
	c.memo[key] = v
	return v
}

// Report records a non-fatal diagnostic.
func (c *Context) Report(level slog.Level, msg string, attrs ...slog.Attr) {
	c.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Enter associates c with the calling goroutine until the returned release
// function is called, which restores the previous association. Calls nest.
func Enter(c *Context) (release func()) {
	slot := ctxslot.Current()
	prev, had := ctxslot.Read(slot)
	ctxslot.Write(slot, c)
	return func() {
		if had {
			ctxslot.Write(slot, prev)
			return
		}
		ctxslot.Clear(slot)
		ctxslot.Release()
	}
}

// Current returns the context associated with the calling goroutine, or nil.
func Current() *Context {
	c, _ := ctxslot.Load[*Context](ctxslot.Peek())
	return c
}

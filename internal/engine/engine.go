// Package engine assembles a script runtime with the host object bridge:
// the capability filter built from configuration, collection bridging, host
// objects, interface adapters and metrics.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joeycumines/hostbridge/internal/adapter"
	"github.com/joeycumines/hostbridge/internal/capability"
	"github.com/joeycumines/hostbridge/internal/collection"
	"github.com/joeycumines/hostbridge/internal/config"
	"github.com/joeycumines/hostbridge/internal/hostobject"
	"github.com/joeycumines/hostbridge/internal/metrics"
	"github.com/joeycumines/hostbridge/internal/scripting"
)

// ModuleName is the name scripts pass to require.
const ModuleName = "hostbridge"

// Engine owns a goja runtime and its bridge context. Like the runtime, it is
// not safe for concurrent use.
type Engine struct {
	rt       *goja.Runtime
	registry *require.Registry
	types    *capability.Registry
	ctx      *scripting.Context
	adapters *adapter.Factory
	metrics  *metrics.Metrics
}

type options struct {
	types       []reflect.Type
	enums       *scripting.EnumRegistry
	policy      capability.Policy
	registerer  prometheus.Registerer
	logHandler  slog.Handler
	diagEntries int
}

// Option configures [New].
type Option func(*options)

// WithTypes registers interfaces (and other types) that widening and
// implement may resolve by name.
func WithTypes(types ...reflect.Type) Option {
	return func(o *options) { o.types = append(o.types, types...) }
}

// WithEnums sets the enum registry used for key conversion.
func WithEnums(r *scripting.EnumRegistry) Option {
	return func(o *options) { o.enums = r }
}

// WithPolicy replaces the policy from the [policy] config section.
func WithPolicy(p capability.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithRegisterer registers the engine's metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogHandler sets the handler diagnostics are forwarded to. The default
// is slog.Default's handler.
func WithLogHandler(h slog.Handler) Option {
	return func(o *options) { o.logHandler = h }
}

// WithDiagnosticEntries bounds the retained diagnostics.
func WithDiagnosticEntries(n int) Option {
	return func(o *options) { o.diagEntries = n }
}

// New builds an engine from cfg, which may be nil.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logHandler == nil {
		o.logHandler = slog.Default().Handler()
	}

	schema := config.DefaultSchema()

	policy := o.policy
	if policy == nil {
		var err error
		cacheSize := capability.WithRuleCacheSize(schema.GetInt(cfg, "exprCacheSize"))
		if policy, err = cfg.Policy.Build(cacheSize); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	m, err := metrics.New(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("engine: registering metrics: %w", err)
	}

	diag := scripting.NewDiagnostics(o.diagEntries, o.logHandler)
	types := capability.NewRegistry(o.types...)
	filter := capability.NewFilter(policy, types,
		capability.WithLogger(slog.New(diag)),
		capability.WithObserver(m),
	)

	rt := goja.New()
	ctxOpts := []scripting.Option{
		scripting.WithFeatures(schema.Features(cfg)),
		scripting.WithFilter(filter),
		scripting.WithWrapFactory(collection.Wrapper{Next: scripting.WrapFunc(wrapHost)}),
		scripting.WithDiagnostics(diag),
		scripting.WithObserver(m),
	}
	if o.enums != nil {
		ctxOpts = append(ctxOpts, scripting.WithEnums(o.enums))
	}

	e := &Engine{
		rt:       rt,
		registry: require.NewRegistry(),
		types:    types,
		ctx:      scripting.NewContext(rt, ctxOpts...),
		adapters: adapter.NewFactory(types),
		metrics:  m,
	}
	e.registry.RegisterNativeModule(ModuleName, e.require)
	e.registry.Enable(rt)

	e.ctx.Logger().Debug("engine: ready", "features", e.ctx.Features().String())
	return e, nil
}

// wrapHost exposes values with methods as host objects and everything else
// the way goja does by default.
func wrapHost(ctx *scripting.Context, v any) goja.Value {
	t := reflect.TypeOf(v)
	if t == nil {
		return goja.Null()
	}
	switch t.Kind() {
	case reflect.Pointer:
		if reflect.ValueOf(v).IsNil() {
			return goja.Null()
		}
		fallthrough
	case reflect.Struct:
		if t.NumMethod() > 0 {
			return hostobject.Wrap(ctx, v)
		}
	}
	return ctx.Runtime().ToValue(v)
}

// Runtime returns the script runtime.
func (e *Engine) Runtime() *goja.Runtime { return e.rt }

// Context returns the bridge context.
func (e *Engine) Context() *scripting.Context { return e.ctx }

// Types returns the registry of named types.
func (e *Engine) Types() *capability.Registry { return e.types }

// Adapters returns the adapter factory.
func (e *Engine) Adapters() *adapter.Factory { return e.adapters }

// Metrics returns the engine's metrics.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Enter associates the engine's context with the calling goroutine until
// release is called.
func (e *Engine) Enter() (release func()) {
	return scripting.Enter(e.ctx)
}

// Bind exposes v to scripts as the global name. Collections, and Go maps
// while map access is enabled, are bridged.
func (e *Engine) Bind(name string, v any) (err error) {
	defer e.Enter()()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: binding %s: %w", name, recovered(r))
		}
	}()
	return e.rt.Set(name, e.ctx.Wrap(v))
}

// RunString evaluates src with the engine's context entered.
func (e *Engine) RunString(src string) (goja.Value, error) {
	defer e.Enter()()
	return e.rt.RunString(src)
}

// recovered extracts the error thrown by a bridge callback.
func recovered(r any) error {
	switch x := r.(type) {
	case *goja.Object:
		if v := x.Get("value"); v != nil {
			if err, ok := v.Export().(error); ok {
				return err
			}
		}
		return errors.New(x.String())
	case goja.Value:
		return errors.New(x.String())
	case error:
		return x
	}
	panic(r)
}

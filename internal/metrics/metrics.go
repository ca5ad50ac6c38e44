// Package metrics exports bridge activity as Prometheus metrics.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joeycumines/hostbridge/internal/capability"
	"github.com/joeycumines/hostbridge/internal/scripting"
)

const namespace = "hostbridge"

// Metrics implements [scripting.Observer] with Prometheus collectors.
type Metrics struct {
	TableBuilds prometheus.Counter
	TableKeys   prometheus.Histogram
	Ambiguities prometheus.Counter
	Resolutions *prometheus.CounterVec
	Adapters    *prometheus.HistogramVec
}

var _ scripting.Observer = (*Metrics)(nil)

// New creates the collectors and, if reg is non-nil, registers them.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TableBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keys",
			Name:      "table_builds_total",
			Help:      "Key translation tables built or rebuilt.",
		}),
		TableKeys: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keys",
			Name:      "table_size",
			Help:      "Host keys covered by each key translation table build.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		Ambiguities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keys",
			Name:      "ambiguities_total",
			Help:      "Host keys that collided with another key's string form.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capability",
			Name:      "resolutions_total",
			Help:      "Type resolutions by direct decision, widening and outcome.",
		}, []string{"decision", "widened", "outcome"}),
		Adapters: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "interfaces",
			Help:      "Interfaces implemented by each created adapter.",
			Buckets:   []float64{1, 2, 4, 8},
		}, nil),
	}
	if reg != nil {
		var err error
		if m.TableBuilds, err = register(reg, m.TableBuilds); err != nil {
			return nil, err
		}
		if m.TableKeys, err = register(reg, m.TableKeys); err != nil {
			return nil, err
		}
		if m.Ambiguities, err = register(reg, m.Ambiguities); err != nil {
			return nil, err
		}
		if m.Resolutions, err = register(reg, m.Resolutions); err != nil {
			return nil, err
		}
		if m.Adapters, err = register(reg, m.Adapters); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// register adopts the existing collector when an identical one is already
// registered, so several engines can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveResolution implements [capability.Observer].
func (m *Metrics) ObserveResolution(_ string, direct capability.Decision, widened bool, err error) {
	outcome := "allowed"
	if err != nil {
		outcome = "denied"
	}
	m.Resolutions.WithLabelValues(direct.String(), strconv.FormatBool(widened), outcome).Inc()
}

// ObserveTableBuild implements [scripting.Observer].
func (m *Metrics) ObserveTableBuild(keys int) {
	m.TableBuilds.Inc()
	m.TableKeys.Observe(float64(keys))
}

// ObserveAmbiguity implements [scripting.Observer].
func (m *Metrics) ObserveAmbiguity() {
	m.Ambiguities.Inc()
}

// ObserveAdapter implements [scripting.Observer].
func (m *Metrics) ObserveAdapter(interfaces int) {
	m.Adapters.WithLabelValues().Observe(float64(interfaces))
}

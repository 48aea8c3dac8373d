// Package metrics exports move and polling counters for Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jt05610/drawbot/machine"
)

var _ machine.Observer = (*Recorder)(nil)

const namespace = "drawbot"

// Recorder counts machine events. It is safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	Moves        *prometheus.CounterVec
	MoveDuration prometheus.Histogram
	Polls        prometheus.Histogram
	Steps        *prometheus.CounterVec
	InFlight     prometheus.Gauge
}

// NewRecorder registers the collectors on reg, or on a fresh registry when reg
// is nil. machineName is attached to every series as a constant label.
func NewRecorder(reg *prometheus.Registry, machineName string) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"machine": machineName}
	r := &Recorder{
		registry: reg,
		Moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "moves_total",
			Help:        "Moves finished, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		MoveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "move_duration_seconds",
			Help:        "Time from dispatch to completion of a move.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		Polls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "move_polls",
			Help:        "Status queries issued while waiting for a move.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "steps_total",
			Help:        "Absolute steps dispatched, by drive index.",
			ConstLabels: labels,
		}, []string{"drive"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "moves_in_flight",
			Help:        "1 while a move is dispatched and not yet resolved.",
			ConstLabels: labels,
		}),
	}
	for _, c := range []prometheus.Collector{r.Moves, r.MoveDuration, r.Polls, r.Steps, r.InFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) Observe(_ context.Context, e machine.Event) {
	switch e.Kind {
	case machine.MoveDispatched:
		r.InFlight.Set(1)
		for i, s := range e.Steps {
			if s < 0 {
				s = -s
			}
			r.Steps.WithLabelValues(strconv.Itoa(i)).Add(float64(s))
		}
	case machine.MovePolled:
		r.Polls.Observe(float64(e.Polls))
	case machine.MoveCommitted:
		r.InFlight.Set(0)
		r.Moves.WithLabelValues("committed").Inc()
		r.MoveDuration.Observe(e.Elapsed.Seconds())
	case machine.MoveFailed:
		r.InFlight.Set(0)
		r.Moves.WithLabelValues("failed").Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry so other collectors can be added.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

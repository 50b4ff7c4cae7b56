// Package metrics provides ports.Metrics sinks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/fallbatch/internal/ports"
)

// Outcome label values.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Prometheus exports engine measurements as Prometheus collectors.
type Prometheus struct {
	batchSize        *prometheus.HistogramVec
	batchUtilization *prometheus.HistogramVec
	fallbacks        *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer to expose them on promhttp.Handler.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fallbatch_batch_size",
				Help:    "Number of items per flushed batch.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"name"},
		),
		batchUtilization: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fallbatch_batch_utilization_ratio",
				Help:    "Flushed batch size divided by batch capacity.",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"name"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fallbatch_fallbacks_total",
				Help: "Total number of demotions from the primary to the secondary backend.",
			},
			[]string{"name"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fallbatch_outcomes_total",
				Help: "Total number of fallback operations by operation, tier and result.",
			},
			[]string{"name", "operation", "tier", "result"},
		),
	}

	for _, c := range []prometheus.Collector{p.batchSize, p.batchUtilization, p.fallbacks, p.outcomes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Init pre-creates the label combinations of name so they show up with
// value 0 before the first observation.
func (p *Prometheus) Init(name string) {
	p.fallbacks.WithLabelValues(name)
	for _, op := range []ports.Operation{ports.OpSingle, ports.OpBatch} {
		for _, tier := range []ports.Tier{ports.TierPrimary, ports.TierSecondary} {
			p.outcomes.WithLabelValues(name, string(op), string(tier), resultSuccess)
			p.outcomes.WithLabelValues(name, string(op), string(tier), resultFailure)
		}
	}
}

func (p *Prometheus) ObserveBatchSize(name string, size int) {
	p.batchSize.WithLabelValues(name).Observe(float64(size))
}

func (p *Prometheus) ObserveBatchUtilization(name string, ratio float64) {
	p.batchUtilization.WithLabelValues(name).Observe(ratio)
}

func (p *Prometheus) IncFallback(name string) {
	p.fallbacks.WithLabelValues(name).Inc()
}

func (p *Prometheus) RecordOutcome(name string, op ports.Operation, tier ports.Tier, success bool) {
	result := resultFailure
	if success {
		result = resultSuccess
	}
	p.outcomes.WithLabelValues(name, string(op), string(tier), result).Inc()
}

var _ ports.Metrics = (*Prometheus)(nil)

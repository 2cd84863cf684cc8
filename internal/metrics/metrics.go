// Package metrics provides Prometheus metrics for the article ingestion pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Gateway error kinds.
const (
	GatewayRateLimited     = "rate_limited"
	GatewayPaymentRequired = "payment_required"
	GatewayStatus          = "gateway"
	GatewayTransport       = "transport"
)

// Extraction outcomes.
const (
	OutcomeNew    = "new"
	OutcomeReused = "reused"
	OutcomeFailed = "failed"
)

// Pipeline stages.
const (
	StageClassify = "classify"
	StageExtract  = "extract"
	StageProcess  = "process"
)

// Pipeline groups the ingestion metrics. A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	ClassificationsTotal *prometheus.CounterVec
	ExtractionsTotal     *prometheus.CounterVec
	GatewayErrorsTotal   *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
}

// NewPipeline creates the metrics and registers them on registry.
func NewPipeline(registry prometheus.Registerer) (*Pipeline, error) {
	m := &Pipeline{
		ClassificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incident_classifications_total",
				Help: "Articles classified, partitioned by verdict.",
			},
			[]string{"verdict"},
		),
		ExtractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incident_extractions_total",
				Help: "Extraction runs, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		GatewayErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incident_gateway_errors_total",
				Help: "Failed language model gateway calls, partitioned by kind.",
			},
			[]string{"kind"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "incident_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"stage"},
		),
	}

	for _, c := range []prometheus.Collector{m.ClassificationsTotal, m.ExtractionsTotal, m.GatewayErrorsTotal, m.StageDuration} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Pipeline) Classified(positive bool) {
	if m == nil {
		return
	}
	verdict := "negative"
	if positive {
		verdict = "positive"
	}
	m.ClassificationsTotal.WithLabelValues(verdict).Inc()
}

func (m *Pipeline) Extracted(outcome string) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Pipeline) GatewayError(kind string) {
	if m == nil {
		return
	}
	m.GatewayErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveStage records the time elapsed since start; use with defer.
func (m *Pipeline) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

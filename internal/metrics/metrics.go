// Package metrics exposes Prometheus collectors for analyses.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// Recorder records analysis outcomes. A nil *Recorder records nothing.
type Recorder struct {
	registry      *prometheus.Registry
	analyses      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	disagreements prometheus.Counter
	duration      prometheus.Histogram
}

// NewRecorder creates a recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_analyses_total",
			Help: "Completed analyses by final risk class and recommendation.",
		}, []string{"risk_class", "recommendation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_analysis_failures_total",
			Help: "Analyses that produced no result, by reason.",
		}, []string{"reason"}),
		disagreements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dossier_analysis_disagreements_total",
			Help: "Analyses where the narrative scorer disagreed with the threshold table.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dossier_analysis_duration_seconds",
			Help:    "End-to-end analysis duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	r.registry.MustRegister(
		r.analyses,
		r.failures,
		r.disagreements,
		r.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Completed records a scoring result.
func (r *Recorder) Completed(result *domain.ScoringResult, elapsed time.Duration) {
	if r == nil || result == nil {
		return
	}
	r.analyses.WithLabelValues(string(result.RiskClass), string(result.Recommendation)).Inc()
	if result.Disagreement {
		r.disagreements.Inc()
	}
	r.duration.Observe(elapsed.Seconds())
}

// Failed records an analysis that produced no result.
func (r *Recorder) Failed(reason string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

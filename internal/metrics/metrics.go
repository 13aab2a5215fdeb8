// Package metrics exposes remediation run counters as Prometheus metrics.
// The CLI is short-lived, so metrics are exported through the node_exporter
// textfile collector rather than served.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/papapumpkin/optifix/internal/loop"
)

const namespace = "optifix"

// Recorder counts findings, attempts and file outcomes. It implements
// loop.Hook and owns a private registry so concurrent recorders never clash.
type Recorder struct {
	registry *prometheus.Registry

	findings        *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	files           *prometheus.CounterVec
	tokens          prometheus.Counter
	attemptDuration *prometheus.HistogramVec
}

// NewRecorder creates a recorder with all metrics registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Findings in files entering remediation, by rule severity and language",
		}, []string{"severity", "language"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Remediation attempts by outcome and rejection reason",
		}, []string{"outcome", "reason"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files processed by terminal state",
		}, []string{"state"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by the remediation service",
		}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Duration of one propose-apply-verify cycle",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(r.findings, r.attempts, r.files, r.tokens, r.attemptDuration)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// OnEvent updates the counters for one lifecycle event.
func (r *Recorder) OnEvent(_ context.Context, ev loop.Event) {
	switch ev.Kind {
	case loop.EventFileStart:
		for _, f := range ev.Findings {
			r.findings.WithLabelValues(f.Severity.String(), ev.Language).Inc()
		}
	case loop.EventAttempt:
		if a := ev.Attempt; a != nil {
			r.attempts.WithLabelValues(string(a.Outcome), string(a.Reason)).Inc()
			r.attemptDuration.WithLabelValues(string(a.Outcome)).Observe(a.Duration.Seconds())
			r.tokens.Add(float64(a.Tokens))
		}
	case loop.EventAccepted, loop.EventAbandoned, loop.EventClean, loop.EventSkipped:
		if ev.Result != nil {
			r.files.WithLabelValues(ev.Result.State.String()).Inc()
		}
	}
}

// WriteTextfile writes the current metric values to path in the text
// exposition format. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

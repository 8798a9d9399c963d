// Package metrics exposes run telemetry as Prometheus collectors.
//
// Every Metrics value owns its registry so several runners (or tests) in one
// process never collide on registration. The CLI exports the registry to a
// node_exporter textfile after each run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

// Metrics holds the Prometheus collectors of one runner.
//
// Metrics:
//   - deepipe_phase_runs_total{phase} - executor invocations
//   - deepipe_phase_results_total{phase,status} - executor results (completed, failed)
//   - deepipe_phase_duration_seconds{phase} - executor wall time
//   - deepipe_retries_total{phase,kind} - scheduled retries by error kind
//   - deepipe_retry_delay_seconds_total{phase} - total backoff scheduled
//   - deepipe_approvals_total{phase,result} - approval verdicts (approved, rejected)
//   - deepipe_run_outcomes_total{outcome} - finished runs
//   - deepipe_progress_ratio - share of phases completed, 0..1
type Metrics struct {
	registry *prometheus.Registry

	PhaseRuns     *prometheus.CounterVec
	PhaseResults  *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	Retries       *prometheus.CounterVec
	RetryDelay    *prometheus.CounterVec
	Approvals     *prometheus.CounterVec
	RunOutcomes   *prometheus.CounterVec
	Progress      prometheus.Gauge
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PhaseRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepipe_phase_runs_total",
			Help: "Total number of phase executor invocations",
		}, []string{"phase"}),
		PhaseResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepipe_phase_results_total",
			Help: "Total number of phase executor results by status",
		}, []string{"phase", "status"}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deepipe_phase_duration_seconds",
			Help:    "Duration of phase executor invocations in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"phase"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepipe_retries_total",
			Help: "Total number of scheduled phase retries by error kind",
		}, []string{"phase", "kind"}),
		RetryDelay: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepipe_retry_delay_seconds_total",
			Help: "Total backoff delay scheduled before retries in seconds",
		}, []string{"phase"}),
		Approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepipe_approvals_total",
			Help: "Total number of approval verdicts",
		}, []string{"phase", "result"}),
		RunOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepipe_run_outcomes_total",
			Help: "Total number of finished runs by outcome",
		}, []string{"outcome"}),
		Progress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deepipe_progress_ratio",
			Help: "Share of phases completed or approved (0..1)",
		}),
	}
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func phaseLabel(p int) string {
	return strconv.Itoa(p)
}

// PhaseStarted counts an executor invocation
func (m *Metrics) PhaseStarted(phase int) {
	m.PhaseRuns.WithLabelValues(phaseLabel(phase)).Inc()
}

// PhaseFinished records the executor result and its duration
func (m *Metrics) PhaseFinished(phase int, status execution.PhaseStatus, elapsed time.Duration) {
	m.PhaseResults.WithLabelValues(phaseLabel(phase), status.String()).Inc()
	m.PhaseDuration.WithLabelValues(phaseLabel(phase)).Observe(elapsed.Seconds())
}

// RetryScheduled counts a retry and its backoff
func (m *Metrics) RetryScheduled(phase int, kind execution.ErrorKind, delay time.Duration) {
	m.Retries.WithLabelValues(phaseLabel(phase), kind.String()).Inc()
	m.RetryDelay.WithLabelValues(phaseLabel(phase)).Add(delay.Seconds())
}

// ApprovalEvaluated counts an approval verdict
func (m *Metrics) ApprovalEvaluated(phase int, approved bool) {
	result := "rejected"
	if approved {
		result = "approved"
	}
	m.Approvals.WithLabelValues(phaseLabel(phase), result).Inc()
}

// RunFinished counts the outcome and sets the progress gauge
func (m *Metrics) RunFinished(outcome string, progress float64) {
	m.RunOutcomes.WithLabelValues(outcome).Inc()
	m.Progress.Set(progress / 100)
}

// WriteTextfile exports all collectors in the node_exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: create dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

// Package metrics exposes Prometheus collectors for run and step outcomes and
// writes them in node-exporter textfile format for one-shot CLI runs.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"uipilot/internal/engine"
	"uipilot/internal/flow"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "uipilot"

// Metrics implements engine.Observer.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepAttempts *prometheus.HistogramVec
	artifacts    *prometheus.CounterVec
	lastRun      *prometheus.GaugeVec
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs by flow and outcome.",
		}, []string{"flow", "status", "error_kind"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock run duration.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"flow", "status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed steps by action and status.",
		}, []string{"step", "action", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step duration including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action", "status"}),
		stepAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_attempts",
			Help:      "Attempts a step needed, 1 meaning no retry.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"action"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_detected_total",
			Help:      "Runs that produced an artifact.",
		}, []string{"flow"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the flow last finished, by outcome.",
		}, []string{"flow", "status"}),
	}
	reg.MustRegister(m.runs, m.runDuration, m.steps, m.stepDuration, m.stepAttempts, m.artifacts, m.lastRun)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// StepFinished implements engine.Observer.
func (m *Metrics) StepFinished(step flow.Step, res engine.StepResult) {
	if m == nil {
		return
	}
	action := string(step.Action)
	status := string(res.Status)
	m.steps.WithLabelValues(step.Name, action, status).Inc()
	m.stepDuration.WithLabelValues(action, status).Observe(res.Elapsed.Seconds())
	m.stepAttempts.WithLabelValues(action).Observe(float64(res.Attempts))
}

// RunFinished implements engine.Observer.
func (m *Metrics) RunFinished(res *engine.RunResult) {
	if m == nil || res == nil {
		return
	}
	status := string(res.Status)
	m.runs.WithLabelValues(res.Flow, status, res.ErrorKind).Inc()
	m.runDuration.WithLabelValues(res.Flow, status).Observe(res.Duration().Seconds())
	if res.Artifact != "" {
		m.artifacts.WithLabelValues(res.Flow).Inc()
	}
	m.lastRun.WithLabelValues(res.Flow, status).Set(float64(res.FinishedAt.Unix()))
}

// WriteTextfile writes every collector to path in the text exposition format.
// The write is atomic, so a node-exporter scrape never sees a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Package metrics holds the Prometheus collectors shared by the backend
// client, the analysis workflow and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the service exports.
type Metrics struct {
	BackendRequests *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	Analyses        *prometheus.CounterVec
	ResultCommits   prometheus.Counter
	ActiveSessions  prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldscan",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Requests issued to the analysis backend, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldscan",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Latency of analysis backend requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		Analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldscan",
			Subsystem: "workflow",
			Name:      "analyses_total",
			Help:      "Finished analysis runs, by outcome.",
		}, []string{"outcome"}),
		ResultCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldscan",
			Subsystem: "analysis",
			Name:      "result_commits_total",
			Help:      "Results committed to a session's analysis context.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldscan",
			Subsystem: "analysis",
			Name:      "active_sessions",
			Help:      "Session contexts currently held in memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.BackendRequests, m.BackendLatency, m.Analyses, m.ResultCommits, m.ActiveSessions)
	}
	return m
}

// Nop returns unregistered collectors; handy for tests and the CLI.
func Nop() *Metrics { return New(nil) }

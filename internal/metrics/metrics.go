package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/homelabops/remedyd/internal/models"
)

const (
	// OutcomeSucceeded labels remediations whose plan and post-check passed.
	OutcomeSucceeded = "succeeded"
	// OutcomeFailed labels remediations that ran but did not recover the service.
	OutcomeFailed = "failed"
	// OutcomeSkipped labels attempts refused by the severity or cooldown guard.
	OutcomeSkipped = "skipped"
)

var (
	remediationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Name:      "remediations_total",
			Help:      "Total remediation attempts handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	remediationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "remedyd",
			Name:      "remediation_seconds",
			Help:      "Full remediation attempt latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Name:      "executions_total",
			Help:      "Command execution attempts, partitioned by mode and success.",
		},
		[]string{"mode", "success"},
	)

	executionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "remedyd",
			Name:      "execution_seconds",
			Help:      "Command execution latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Name:      "anomalies_total",
			Help:      "Detected anomalies, partitioned by severity.",
		},
		[]string{"severity"},
	)
)

// Register attaches remedyd collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		remediationsTotal,
		remediationDurationSeconds,
		executionsTotal,
		executionDurationSeconds,
		anomaliesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRemediation records one remediation attempt.
func ObserveRemediation(outcome string, duration time.Duration) {
	switch outcome {
	case OutcomeSucceeded, OutcomeFailed, OutcomeSkipped:
	default:
		outcome = OutcomeFailed
	}
	remediationsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	remediationDurationSeconds.Observe(duration.Seconds())
}

// ObserveExecution records one command execution attempt.
func ObserveExecution(mode models.ExecutionMode, success bool, duration time.Duration) {
	executionsTotal.WithLabelValues(string(mode), strconv.FormatBool(success)).Inc()
	if duration < 0 {
		duration = 0
	}
	executionDurationSeconds.Observe(duration.Seconds())
}

// ObserveAnomaly records one detected anomaly.
func ObserveAnomaly(severity models.Severity) {
	anomaliesTotal.WithLabelValues(string(severity)).Inc()
}

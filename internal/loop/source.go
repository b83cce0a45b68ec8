package loop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/homelabops/remedyd/internal/detector"
	"github.com/homelabops/remedyd/internal/models"
)

// HealthChecker is the slice of the agent client the failure source needs.
type HealthChecker interface {
	CheckHealth(ctx context.Context, service string) (models.HealthSnapshot, error)
}

// AnomalyScorer folds live telemetry into per-metric baselines and scores
// samples against them.
type AnomalyScorer interface {
	UpdateBaseline(ctx context.Context, service, metric string, samples []float64, windowHours int) (models.MetricBaseline, error)
	DetectAll(ctx context.Context, serviceMetrics map[string]map[string]float64) []models.AnomalyEvent
}

// FailureSource yields the failures a tick should act on.
type FailureSource interface {
	Detect(ctx context.Context) ([]models.DetectedFailure, error)
}

const (
	// minWindowSamples gates baseline rebuilds until enough ticks have been
	// observed to make the statistics meaningful.
	minWindowSamples = 10
	// maxWindowSamples bounds the in-memory sample window per metric.
	maxWindowSamples = 288
)

// AgentFailureSource polls the host agent for every watched service and
// evaluates each snapshot two ways: against the fixed health thresholds, and
// statistically against learned baselines when a scorer is wired. An
// unreachable service is itself a failure, not an error: the loop must keep
// running when the thing it watches is down. Detect is driven by the loop
// tick and is not safe for concurrent use.
type AgentFailureSource struct {
	checker     HealthChecker
	scorer      AnomalyScorer
	services    []string
	windowHours int
	windows     map[string]map[string][]float64
	logger      *slog.Logger
}

// NewAgentFailureSource constructs a source. scorer may be nil, in which case
// only the fixed-threshold evaluation runs.
func NewAgentFailureSource(checker HealthChecker, scorer AnomalyScorer, services []string, windowHours int, logger *slog.Logger) *AgentFailureSource {
	if windowHours <= 0 {
		windowHours = 24
	}
	return &AgentFailureSource{
		checker:     checker,
		scorer:      scorer,
		services:    services,
		windowHours: windowHours,
		windows:     make(map[string]map[string][]float64),
		logger:      logger,
	}
}

func (s *AgentFailureSource) Detect(ctx context.Context) ([]models.DetectedFailure, error) {
	var failures []models.DetectedFailure
	flagged := make(map[string]bool)
	live := make(map[string]map[string]float64)

	for _, service := range s.services {
		if err := ctx.Err(); err != nil {
			return failures, err
		}

		snap, err := s.checker.CheckHealth(ctx, service)
		if err != nil {
			s.logger.Warn("health check unreachable", "service", service, "error", err)
			failures = append(failures, models.DetectedFailure{
				Service:  service,
				Severity: models.SeverityHigh,
				Reason:   "health check unreachable: " + err.Error(),
			})
			flagged[service] = true
			continue
		}

		live[service] = map[string]float64{
			"cpu_percent":    snap.CPUPercent,
			"memory_percent": snap.MemoryPercent,
		}

		if failure, failing := detector.EvaluateFailure(snap); failing {
			failures = append(failures, failure)
			flagged[service] = true
		}
	}

	for _, event := range s.scoreAnomalies(ctx, live) {
		if flagged[event.Service] || !event.Severity.AtLeast(models.SeverityHigh) {
			continue
		}
		failures = append(failures, models.DetectedFailure{
			Service:  event.Service,
			Severity: event.Severity,
			Reason: fmt.Sprintf("%s anomaly: %.1f against baseline mean %.1f (z=%.2f)",
				event.Metric, event.Value, event.BaselineMean, event.ZScore),
		})
		flagged[event.Service] = true
	}

	return failures, nil
}

// scoreAnomalies runs the live samples through the scorer before folding them
// into the per-metric windows, so each sample is judged against a baseline it
// did not help shape.
func (s *AgentFailureSource) scoreAnomalies(ctx context.Context, live map[string]map[string]float64) []models.AnomalyEvent {
	if s.scorer == nil || len(live) == 0 {
		return nil
	}

	events := s.scorer.DetectAll(ctx, live)

	for service, metricValues := range live {
		window, ok := s.windows[service]
		if !ok {
			window = make(map[string][]float64)
			s.windows[service] = window
		}
		for metric, value := range metricValues {
			samples := append(window[metric], value)
			if len(samples) > maxWindowSamples {
				samples = samples[len(samples)-maxWindowSamples:]
			}
			window[metric] = samples

			if len(samples) < minWindowSamples {
				continue
			}
			if _, err := s.scorer.UpdateBaseline(ctx, service, metric, samples, s.windowHours); err != nil {
				s.logger.Warn("baseline update failed",
					"service", service, "metric", metric, "error", err)
			}
		}
	}

	return events
}

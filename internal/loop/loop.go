package loop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/homelabops/remedyd/internal/models"
	"github.com/homelabops/remedyd/internal/orchestrator"
	"github.com/homelabops/remedyd/internal/utils"
)

// Remediator handles one detected failure end to end.
type Remediator interface {
	DetectAndRemediate(ctx context.Context, failure models.DetectedFailure) orchestrator.Result
}

// Summary aggregates one tick's outcomes.
type Summary struct {
	Detected  int
	Attempted int
	Skipped   int
	Succeeded int
	Failed    int
}

const latencyLogEvery = 20

// SelfHealLoop drives the periodic detect-then-remediate cycle. Each tick
// fans failures out to a bounded worker pool; services are independent, so
// one slow remediation must not starve the rest.
type SelfHealLoop struct {
	logger     *slog.Logger
	source     FailureSource
	remediator Remediator
	workers    int
	latencies  *utils.LatencyTracker
	ticks      int
}

// New builds a loop. workers below one is clamped to one.
func New(logger *slog.Logger, source FailureSource, remediator Remediator, workers int) *SelfHealLoop {
	if workers < 1 {
		workers = 1
	}
	return &SelfHealLoop{
		logger:     logger,
		source:     source,
		remediator: remediator,
		workers:    workers,
		latencies:  utils.NewLatencyTracker(256),
	}
}

// Run ticks at the given interval until ctx is cancelled. The first tick
// fires immediately.
func (l *SelfHealLoop) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("self-heal loop started", "interval", interval, "workers", l.workers)
	l.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("self-heal loop stopped")
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one full detection and remediation cycle and returns its summary.
func (l *SelfHealLoop) Tick(ctx context.Context) Summary {
	start := time.Now()
	var summary Summary

	failures, err := l.source.Detect(ctx)
	if err != nil {
		l.logger.Warn("failure detection incomplete", "error", err)
	}
	summary.Detected = len(failures)
	if len(failures) == 0 {
		l.observeTick(start, summary)
		return summary
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, l.workers)
	)
	for _, failure := range failures {
		wg.Add(1)
		sem <- struct{}{}
		go func(f models.DetectedFailure) {
			defer wg.Done()
			defer func() { <-sem }()

			res := l.remediator.DetectAndRemediate(ctx, f)

			mu.Lock()
			switch res.Outcome {
			case orchestrator.OutcomeSkipped:
				summary.Skipped++
			case orchestrator.OutcomeSucceeded:
				summary.Attempted++
				summary.Succeeded++
			case orchestrator.OutcomeFailed:
				summary.Attempted++
				summary.Failed++
			}
			mu.Unlock()

			if res.Outcome != orchestrator.OutcomeSkipped {
				l.logger.Info("remediation attempt",
					"service", res.Service,
					"outcome", res.Outcome,
					"reason", res.Reason,
					"record_id", res.RecordID)
			} else {
				l.logger.Debug("remediation skipped", "service", res.Service, "reason", res.Reason)
			}
		}(failure)
	}
	wg.Wait()

	l.observeTick(start, summary)
	return summary
}

func (l *SelfHealLoop) observeTick(start time.Time, summary Summary) {
	l.latencies.Observe(time.Since(start))
	l.ticks++

	l.logger.Info("tick complete",
		"detected", summary.Detected,
		"attempted", summary.Attempted,
		"skipped", summary.Skipped,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", time.Since(start).Round(time.Millisecond))

	if l.ticks%latencyLogEvery == 0 {
		l.logger.Info("tick latency",
			"p50", l.latencies.Percentile(50),
			"p95", l.latencies.Percentile(95),
			"samples", l.latencies.Count())
	}
}

package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homelabops/remedyd/internal/metrics"
	"github.com/homelabops/remedyd/internal/models"
	"github.com/homelabops/remedyd/internal/utils"
)

// Store abstracts persistence for baselines and detected anomalies. Either
// method may be backed by any storage engine; the detector only appends.
type Store interface {
	SaveBaseline(ctx context.Context, baseline models.MetricBaseline) error
	SaveAnomaly(ctx context.Context, event models.AnomalyEvent) error
}

// Detection is the verdict for a single sample.
type Detection struct {
	IsAnomaly bool
	Score     float64
	Severity  models.Severity
	Direction models.Direction
}

// Detector maintains per-(service, metric) baselines and scores live samples
// against them. Safe for concurrent use.
type Detector struct {
	mu          sync.RWMutex
	baselines   map[string]models.MetricBaseline
	sensitivity float64
	store       Store
	logger      *slog.Logger
}

// New constructs a Detector. store may be nil when persistence is not wired.
func New(logger *slog.Logger, store Store, sensitivity float64) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if sensitivity <= 0 {
		sensitivity = 2.0
	}
	return &Detector{
		baselines:   make(map[string]models.MetricBaseline),
		sensitivity: sensitivity,
		store:       store,
		logger:      logger,
	}
}

func baselineKey(service, metric string) string {
	return service + "/" + metric
}

// UpdateBaseline recomputes the baseline for (service, metric) from the given
// sample window, replacing any previous baseline for that key.
func (d *Detector) UpdateBaseline(ctx context.Context, service, metric string, samples []float64, windowHours int) (models.MetricBaseline, error) {
	if len(samples) == 0 {
		return models.MetricBaseline{}, utils.NewAppError("detector.UpdateBaseline", "samples must be non-empty", ErrInsufficientData)
	}

	baseline := computeBaseline(service, metric, samples, windowHours, d.sensitivity)

	d.mu.Lock()
	d.baselines[baselineKey(service, metric)] = baseline
	d.mu.Unlock()

	if d.store != nil {
		if err := d.store.SaveBaseline(ctx, baseline); err != nil {
			d.logger.Warn("failed to persist baseline",
				slog.String("service", service), slog.String("metric", metric), slog.Any("error", err))
		}
	}

	return baseline, nil
}

// Baseline returns the current baseline for (service, metric), if any.
func (d *Detector) Baseline(service, metric string) (models.MetricBaseline, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.baselines[baselineKey(service, metric)]
	return b, ok
}

// Restore seeds the in-memory baseline table, typically from the store at
// startup.
func (d *Detector) Restore(baselines []models.MetricBaseline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range baselines {
		d.baselines[baselineKey(b.Service, b.Metric)] = b
	}
}

// DetectAnomaly scores one live sample against its baseline. Missing baselines
// and zero deviation fail soft: not an anomaly, severity unknown.
func (d *Detector) DetectAnomaly(service, metric string, value float64) Detection {
	baseline, ok := d.Baseline(service, metric)
	if !ok || baseline.StdDev == 0 {
		return Detection{Severity: models.SeverityUnknown}
	}

	score := (value - baseline.Mean) / baseline.StdDev
	abs := score
	if abs < 0 {
		abs = -abs
	}

	direction := models.DirectionBelow
	if value > baseline.Mean {
		direction = models.DirectionAbove
	}

	outsideThresholds := value < baseline.ThresholdLow || value > baseline.ThresholdHigh
	isAnomaly := outsideThresholds || abs > baseline.Sensitivity

	// Severity reflects how far the sample strayed even when it stays inside
	// the anomaly gate, so a 1.5 sigma drift still reports warning.
	return Detection{
		IsAnomaly: isAnomaly,
		Score:     score,
		Severity:  models.SeverityFromZScore(abs),
		Direction: direction,
	}
}

// DetectAll scores every (service, metric) sample in the batch and persists an
// AnomalyEvent for each true anomaly. Non-anomalies produce no writes.
func (d *Detector) DetectAll(ctx context.Context, serviceMetrics map[string]map[string]float64) []models.AnomalyEvent {
	events := make([]models.AnomalyEvent, 0)

	for service, metricValues := range serviceMetrics {
		for metric, value := range metricValues {
			verdict := d.DetectAnomaly(service, metric, value)
			if !verdict.IsAnomaly {
				continue
			}

			baseline, _ := d.Baseline(service, metric)
			event := models.AnomalyEvent{
				ID:             uuid.NewString(),
				Service:        service,
				Metric:         metric,
				Value:          value,
				BaselineMean:   baseline.Mean,
				BaselineStdDev: baseline.StdDev,
				ZScore:         verdict.Score,
				Severity:       verdict.Severity,
				Direction:      verdict.Direction,
				DetectedAt:     time.Now().UTC(),
			}

			metrics.ObserveAnomaly(event.Severity)

			if d.store != nil {
				if err := d.store.SaveAnomaly(ctx, event); err != nil {
					d.logger.Warn("failed to persist anomaly event",
						slog.String("service", service), slog.String("metric", metric), slog.Any("error", err))
				}
			}

			events = append(events, event)
		}
	}

	return events
}

package detector

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/homelabops/remedyd/internal/models"
)

type fakeStore struct {
	baselines []models.MetricBaseline
	anomalies []models.AnomalyEvent
	failSave  bool
}

func (f *fakeStore) SaveBaseline(_ context.Context, b models.MetricBaseline) error {
	if f.failSave {
		return errors.New("save failed")
	}
	f.baselines = append(f.baselines, b)
	return nil
}

func (f *fakeStore) SaveAnomaly(_ context.Context, e models.AnomalyEvent) error {
	if f.failSave {
		return errors.New("save failed")
	}
	f.anomalies = append(f.anomalies, e)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPercentileInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}

	// k = 3 * 50 / 100 = 1.5, halfway between 20 and 30.
	if got := percentile(sorted, 50); !almostEqual(got, 25) {
		t.Fatalf("p50 = %v, want 25", got)
	}
	if got := percentile(sorted, 0); !almostEqual(got, 10) {
		t.Fatalf("p0 = %v, want 10", got)
	}
	if got := percentile(sorted, 100); !almostEqual(got, 40) {
		t.Fatalf("p100 = %v, want 40", got)
	}
	if got := percentile([]float64{7}, 95); !almostEqual(got, 7) {
		t.Fatalf("single sample p95 = %v, want 7", got)
	}
}

func TestUpdateBaselineRequiresSamples(t *testing.T) {
	d := New(discardLogger(), nil, 2.0)

	_, err := d.UpdateBaseline(context.Background(), "db", "cpu", nil, 24)
	if err == nil {
		t.Fatal("expected error for empty sample window")
	}
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestBaselinePercentileGuards(t *testing.T) {
	d := New(discardLogger(), nil, 2.0)
	ctx := context.Background()

	samples := make([]float64, 19)
	for i := range samples {
		samples[i] = float64(i)
	}
	b, err := d.UpdateBaseline(ctx, "db", "cpu", samples, 24)
	if err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}
	if b.P95 != nil || b.P99 != nil {
		t.Fatal("p95/p99 must be absent below 20 samples")
	}

	samples = make([]float64, 20)
	for i := range samples {
		samples[i] = float64(i)
	}
	b, err = d.UpdateBaseline(ctx, "db", "cpu", samples, 24)
	if err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}
	if b.P95 == nil {
		t.Fatal("p95 must be present at 20 samples")
	}
	if b.P99 != nil {
		t.Fatal("p99 must be absent below 100 samples")
	}

	samples = make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i)
	}
	b, err = d.UpdateBaseline(ctx, "db", "cpu", samples, 24)
	if err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}
	if b.P95 == nil || b.P99 == nil {
		t.Fatal("p95 and p99 must be present at 100 samples")
	}
}

func TestBaselineLowThresholdClampedAtZero(t *testing.T) {
	d := New(discardLogger(), nil, 3.0)

	// Small mean, large spread: mean - 3*stddev goes negative.
	b, err := d.UpdateBaseline(context.Background(), "db", "cpu", []float64{0, 1, 2, 30}, 24)
	if err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}
	if b.ThresholdLow != 0 {
		t.Fatalf("low threshold = %v, want clamp at 0", b.ThresholdLow)
	}
	if b.ThresholdHigh <= b.Mean {
		t.Fatalf("high threshold %v must exceed mean %v", b.ThresholdHigh, b.Mean)
	}
}

func TestDetectAnomalyFailSoft(t *testing.T) {
	d := New(discardLogger(), nil, 2.0)

	// No baseline at all.
	verdict := d.DetectAnomaly("db", "cpu", 99)
	if verdict.IsAnomaly {
		t.Fatal("missing baseline must not flag an anomaly")
	}
	if verdict.Severity != models.SeverityUnknown {
		t.Fatalf("severity = %s, want unknown", verdict.Severity)
	}

	// Constant samples give zero standard deviation.
	if _, err := d.UpdateBaseline(context.Background(), "db", "cpu", []float64{5, 5, 5, 5}, 24); err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}
	verdict = d.DetectAnomaly("db", "cpu", 99)
	if verdict.IsAnomaly || verdict.Severity != models.SeverityUnknown {
		t.Fatalf("zero stddev must fail soft, got %+v", verdict)
	}
}

func TestDetectAnomalySeverityMonotonic(t *testing.T) {
	d := New(discardLogger(), nil, 2.0)

	// mean=50, stddev=10.
	samples := []float64{40, 60, 40, 60, 40, 60, 40, 60, 40, 60}
	if _, err := d.UpdateBaseline(context.Background(), "db", "cpu", samples, 24); err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}
	b, _ := d.Baseline("db", "cpu")
	if !almostEqual(b.Mean, 50) || !almostEqual(b.StdDev, 10) {
		t.Fatalf("unexpected baseline mean=%v stddev=%v", b.Mean, b.StdDev)
	}

	cases := []struct {
		value   float64
		want    models.Severity
		anomaly bool
	}{
		{value: 55, want: models.SeverityNormal},                  // z = 0.5, inside thresholds
		{value: 65, want: models.SeverityWarning},                 // z = 1.5, below the anomaly gate but still warning
		{value: 75, want: models.SeverityMedium, anomaly: true},   // z = 2.5
		{value: 85, want: models.SeverityHigh, anomaly: true},     // z = 3.5
		{value: 95, want: models.SeverityCritical, anomaly: true}, // z = 4.5
		{value: 5, want: models.SeverityCritical, anomaly: true},  // z = -4.5, below works the same
	}
	for _, tc := range cases {
		verdict := d.DetectAnomaly("db", "cpu", tc.value)
		if verdict.Severity != tc.want {
			t.Errorf("value %v: severity = %s, want %s", tc.value, verdict.Severity, tc.want)
		}
		if verdict.IsAnomaly != tc.anomaly {
			t.Errorf("value %v: isAnomaly = %v, want %v", tc.value, verdict.IsAnomaly, tc.anomaly)
		}
	}

	below := d.DetectAnomaly("db", "cpu", 5)
	if below.Direction != models.DirectionBelow {
		t.Fatalf("direction = %s, want below", below.Direction)
	}
	above := d.DetectAnomaly("db", "cpu", 95)
	if above.Direction != models.DirectionAbove {
		t.Fatalf("direction = %s, want above", above.Direction)
	}
}

func TestDetectAllPersistsOnlyAnomalies(t *testing.T) {
	store := &fakeStore{}
	d := New(discardLogger(), store, 2.0)
	ctx := context.Background()

	samples := []float64{40, 60, 40, 60, 40, 60, 40, 60, 40, 60}
	if _, err := d.UpdateBaseline(ctx, "db", "cpu", samples, 24); err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}

	events := d.DetectAll(ctx, map[string]map[string]float64{
		"db": {
			"cpu":    95, // z = 4.5, anomaly
			"memory": 80, // no baseline, fail soft
		},
	})

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if len(store.anomalies) != 1 {
		t.Fatalf("persisted anomalies = %d, want 1", len(store.anomalies))
	}
	got := store.anomalies[0]
	if got.Service != "db" || got.Metric != "cpu" {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.ID == "" {
		t.Fatal("event must carry a generated ID")
	}
	if got.Severity != models.SeverityCritical {
		t.Fatalf("severity = %s, want critical", got.Severity)
	}
}

func TestDetectAllToleratesStoreFailure(t *testing.T) {
	store := &fakeStore{failSave: true}
	d := New(discardLogger(), store, 2.0)
	ctx := context.Background()

	d.Restore([]models.MetricBaseline{{
		Service:       "db",
		Metric:        "cpu",
		Mean:          50,
		StdDev:        10,
		ThresholdLow:  30,
		ThresholdHigh: 70,
		Sensitivity:   2.0,
	}})

	events := d.DetectAll(ctx, map[string]map[string]float64{"db": {"cpu": 95}})
	if len(events) != 1 {
		t.Fatalf("store failure must not drop the event, got %d", len(events))
	}
}

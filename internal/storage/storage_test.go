package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/homelabops/remedyd/internal/models"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	store, err := Open(Config{InMemory: true}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBaselineRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	p95 := 88.5
	baseline := models.MetricBaseline{
		Service:       "db",
		Metric:        "cpu",
		Mean:          50,
		StdDev:        10,
		Min:           30,
		Max:           95,
		P25:           42,
		P50:           50,
		P75:           58,
		P95:           &p95,
		SampleCount:   240,
		ThresholdLow:  30,
		ThresholdHigh: 70,
		Sensitivity:   2.0,
		WindowHours:   24,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := store.SaveBaseline(ctx, baseline); err != nil {
		t.Fatalf("SaveBaseline: %v", err)
	}

	// Same key replaces in place.
	baseline.Mean = 55
	if err := store.SaveBaseline(ctx, baseline); err != nil {
		t.Fatalf("SaveBaseline replace: %v", err)
	}

	got, err := store.ListBaselines(ctx)
	if err != nil {
		t.Fatalf("ListBaselines: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("baselines = %d, want 1", len(got))
	}
	if got[0].Mean != 55 {
		t.Fatalf("mean = %v, want replaced value 55", got[0].Mean)
	}
	if got[0].P95 == nil || *got[0].P95 != 88.5 {
		t.Fatalf("p95 = %v, want 88.5", got[0].P95)
	}
	if got[0].P99 != nil {
		t.Fatal("p99 must stay nil")
	}
}

func TestAnomalyAcknowledge(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	event := models.AnomalyEvent{
		Service:    "db",
		Metric:     "cpu",
		Value:      95,
		ZScore:     4.5,
		Severity:   models.SeverityCritical,
		Direction:  models.DirectionAbove,
		DetectedAt: time.Now().UTC(),
	}
	if err := store.SaveAnomaly(ctx, event); err != nil {
		t.Fatalf("SaveAnomaly: %v", err)
	}

	listed, err := store.ListAnomalies(ctx, 10)
	if err != nil {
		t.Fatalf("ListAnomalies: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(listed))
	}
	if listed[0].ID == "" {
		t.Fatal("anomaly must receive a generated ID")
	}
	if listed[0].Acknowledged {
		t.Fatal("new anomaly must not be acknowledged")
	}

	if err := store.AcknowledgeAnomaly(ctx, listed[0].ID); err != nil {
		t.Fatalf("AcknowledgeAnomaly: %v", err)
	}
	listed, err = store.ListAnomalies(ctx, 10)
	if err != nil {
		t.Fatalf("ListAnomalies: %v", err)
	}
	if !listed[0].Acknowledged {
		t.Fatal("acknowledge must persist")
	}

	if err := store.AcknowledgeAnomaly(ctx, "no-such-id"); err == nil {
		t.Fatal("acknowledging a missing anomaly must fail")
	}
}

func TestRecordHistoryOrdering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := models.RemediationRecord{
			Service:   "db",
			Severity:  models.SeverityHigh,
			Success:   i == 2,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if _, err := store.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("SaveRecord: %v", err)
		}
	}
	if _, err := store.SaveRecord(ctx, models.RemediationRecord{
		Service:   "web",
		Severity:  models.SeverityCritical,
		StartedAt: base.Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	records, err := store.ListRecords(ctx, "db", 10)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("db records = %d, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].StartedAt.After(records[i-1].StartedAt) {
			t.Fatal("records must be newest first")
		}
	}

	limited, err := store.ListRecords(ctx, "db", 2)
	if err != nil {
		t.Fatalf("ListRecords limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited records = %d, want 2", len(limited))
	}

	all, err := store.ListRecords(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecords all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("all records = %d, want 4", len(all))
	}
}

func TestLastAttempt(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LastAttempt(ctx, "db"); err != nil || ok {
		t.Fatalf("empty history: ok=%v err=%v", ok, err)
	}

	first := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	second := first.Add(2 * time.Hour)
	for _, at := range []time.Time{first, second} {
		if _, err := store.SaveRecord(ctx, models.RemediationRecord{
			Service:   "db",
			Severity:  models.SeverityHigh,
			StartedAt: at,
		}); err != nil {
			t.Fatalf("SaveRecord: %v", err)
		}
	}

	at, ok, err := store.LastAttempt(ctx, "db")
	if err != nil {
		t.Fatalf("LastAttempt: %v", err)
	}
	if !ok {
		t.Fatal("expected an attempt")
	}
	if !at.Equal(second) {
		t.Fatalf("last attempt = %v, want %v", at, second)
	}
}

func TestMinePatterns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	save := func(service string, success bool, action models.ActionType, offset time.Duration) {
		t.Helper()
		rec := models.RemediationRecord{
			Service:   service,
			Severity:  models.SeverityHigh,
			Success:   success,
			StartedAt: base.Add(offset),
			Actions: []models.RemediationAction{
				{Order: 1, Action: action, Executed: true, Success: success},
			},
		}
		if _, err := store.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("SaveRecord: %v", err)
		}
	}

	save("db", true, models.ActionRestart, 0)
	save("db", false, models.ActionRestart, time.Hour)
	save("db", true, models.ActionCheckLogs, 2*time.Hour)
	save("web", true, models.ActionRestart, 30*time.Minute)

	patterns, err := store.MinePatterns(ctx, 100)
	if err != nil {
		t.Fatalf("MinePatterns: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("patterns = %d, want 2", len(patterns))
	}

	// Sorted by attempts, db first.
	db := patterns[0]
	if db.Service != "db" {
		t.Fatalf("first pattern service = %s, want db", db.Service)
	}
	if db.Attempts != 3 || db.Successes != 2 {
		t.Fatalf("db attempts=%d successes=%d", db.Attempts, db.Successes)
	}
	if db.SuccessRatio < 0.66 || db.SuccessRatio > 0.67 {
		t.Fatalf("db ratio = %v", db.SuccessRatio)
	}
	if db.FrequentAction != models.ActionRestart {
		t.Fatalf("db frequent action = %s, want restart", db.FrequentAction)
	}
	if !db.LastSeen.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("db last seen = %v", db.LastSeen)
	}
}

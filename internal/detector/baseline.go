package detector

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/homelabops/remedyd/internal/models"
)

// ErrInsufficientData signals that a baseline cannot be computed from the
// provided samples.
var ErrInsufficientData = errors.New("insufficient baseline data")

const (
	minSamplesP95 = 20
	minSamplesP99 = 100
)

// computeBaseline derives the statistical summary for one sample window. The
// low anomaly threshold is clamped at zero so resource-style metrics never get
// a negative floor.
func computeBaseline(service, metric string, samples []float64, windowHours int, sensitivity float64) models.MetricBaseline {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	mean := 0.0
	for _, v := range sorted {
		mean += v
	}
	mean /= float64(len(sorted))

	variance := 0.0
	for _, v := range sorted {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(sorted))
	stdDev := math.Sqrt(variance)

	low := mean - sensitivity*stdDev
	if low < 0 {
		low = 0
	}

	baseline := models.MetricBaseline{
		Service:       service,
		Metric:        metric,
		Mean:          mean,
		StdDev:        stdDev,
		Min:           sorted[0],
		Max:           sorted[len(sorted)-1],
		P25:           percentile(sorted, 25),
		P50:           percentile(sorted, 50),
		P75:           percentile(sorted, 75),
		SampleCount:   len(sorted),
		LastValue:     samples[len(samples)-1],
		ThresholdLow:  low,
		ThresholdHigh: mean + sensitivity*stdDev,
		Sensitivity:   sensitivity,
		WindowHours:   windowHours,
		UpdatedAt:     time.Now().UTC(),
	}

	if len(sorted) >= minSamplesP95 {
		p95 := percentile(sorted, 95)
		baseline.P95 = &p95
	}
	if len(sorted) >= minSamplesP99 {
		p99 := percentile(sorted, 99)
		baseline.P99 = &p99
	}

	return baseline
}

// percentile interpolates linearly between ranks: k = (n-1) * p / 100.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	k := float64(len(sorted)-1) * p / 100
	lower := int(math.Floor(k))
	upper := int(math.Ceil(k))
	if lower == upper {
		return sorted[lower]
	}
	frac := k - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

package models

import "time"

// Severity captures impact levels for anomalies and failures.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	// SeverityUnknown is reported when no baseline exists for a metric.
	SeverityUnknown Severity = "unknown"
)

var severityRank = map[Severity]int{
	SeverityUnknown:  -1,
	SeverityNormal:   0,
	SeverityWarning:  1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as other. Unknown is never
// at least anything actionable.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// ParseSeverity maps a configuration string to a severity level. Only the
// five actionable levels parse; "unknown" and typos do not, so a misconfigured
// threshold cannot silently rank below everything.
func ParseSeverity(value string) (Severity, bool) {
	switch s := Severity(value); s {
	case SeverityNormal, SeverityWarning, SeverityMedium, SeverityHigh, SeverityCritical:
		return s, true
	default:
		return SeverityUnknown, false
	}
}

// SeverityFromZScore maps an absolute z-score to the highest severity bucket
// it clears.
func SeverityFromZScore(z float64) Severity {
	if z < 0 {
		z = -z
	}
	switch {
	case z >= 4.0:
		return SeverityCritical
	case z >= 3.0:
		return SeverityHigh
	case z >= 2.0:
		return SeverityMedium
	case z >= 1.5:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

// Direction indicates which side of the baseline mean a sample fell on.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// MetricBaseline summarises learned normal behaviour for one (service, metric)
// pair. Percentile pointers stay nil until enough samples exist (p95 needs 20,
// p99 needs 100).
type MetricBaseline struct {
	Service       string    `json:"service"`
	Metric        string    `json:"metric"`
	Mean          float64   `json:"mean"`
	StdDev        float64   `json:"std_dev"`
	Min           float64   `json:"min"`
	Max           float64   `json:"max"`
	P25           float64   `json:"p25"`
	P50           float64   `json:"p50"`
	P75           float64   `json:"p75"`
	P95           *float64  `json:"p95,omitempty"`
	P99           *float64  `json:"p99,omitempty"`
	SampleCount   int       `json:"sample_count"`
	LastValue     float64   `json:"last_value"`
	ThresholdLow  float64   `json:"threshold_low"`
	ThresholdHigh float64   `json:"threshold_high"`
	Sensitivity   float64   `json:"sensitivity"`
	WindowHours   int       `json:"window_hours"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AnomalyEvent records one detected deviation from a baseline.
type AnomalyEvent struct {
	ID             string    `json:"id"`
	Service        string    `json:"service"`
	Metric         string    `json:"metric"`
	Value          float64   `json:"value"`
	BaselineMean   float64   `json:"baseline_mean"`
	BaselineStdDev float64   `json:"baseline_std_dev"`
	ZScore         float64   `json:"z_score"`
	Severity       Severity  `json:"severity"`
	Direction      Direction `json:"direction"`
	Acknowledged   bool      `json:"acknowledged"`
	DetectedAt     time.Time `json:"detected_at"`
}

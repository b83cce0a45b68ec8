package detector

import (
	"fmt"

	"github.com/homelabops/remedyd/internal/models"
)

// HealthResult is the outcome of scoring one telemetry snapshot.
type HealthResult struct {
	Score     int
	Status    models.ServiceStatus
	Breakdown []string
}

// HealthScore deterministically maps raw telemetry to a 0-100 score. Fixed
// penalties are subtracted per threshold crossed; no hidden state.
func HealthScore(snapshot models.HealthSnapshot) HealthResult {
	score := 100
	breakdown := make([]string, 0, 4)

	switch {
	case snapshot.CPUPercent > 90:
		score -= 30
		breakdown = append(breakdown, fmt.Sprintf("cpu %.1f%% above 90%% (-30)", snapshot.CPUPercent))
	case snapshot.CPUPercent > 70:
		score -= 15
		breakdown = append(breakdown, fmt.Sprintf("cpu %.1f%% above 70%% (-15)", snapshot.CPUPercent))
	}

	switch {
	case snapshot.MemoryPercent > 90:
		score -= 30
		breakdown = append(breakdown, fmt.Sprintf("memory %.1f%% above 90%% (-30)", snapshot.MemoryPercent))
	case snapshot.MemoryPercent > 70:
		score -= 15
		breakdown = append(breakdown, fmt.Sprintf("memory %.1f%% above 70%% (-15)", snapshot.MemoryPercent))
	}

	switch {
	case snapshot.RestartCount > 5:
		score -= 25
		breakdown = append(breakdown, fmt.Sprintf("%d restarts above 5 (-25)", snapshot.RestartCount))
	case snapshot.RestartCount > 2:
		score -= 10
		breakdown = append(breakdown, fmt.Sprintf("%d restarts above 2 (-10)", snapshot.RestartCount))
	}

	if snapshot.Status != "running" {
		score -= 50
		breakdown = append(breakdown, fmt.Sprintf("container status %q (-50)", snapshot.Status))
	}

	if !snapshot.Healthy {
		score -= 30
		breakdown = append(breakdown, "health check failing (-30)")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	status := models.StatusUnhealthy
	switch {
	case score >= 80:
		status = models.StatusHealthy
	case score >= 50:
		status = models.StatusDegraded
	}

	return HealthResult{Score: score, Status: status, Breakdown: breakdown}
}

// EvaluateFailure maps a snapshot to a detected failure, if any. Severity is
// driven by the strongest signal rather than the aggregate score so that a
// single hard breach (stopped container, saturated CPU) is actionable on its
// own.
func EvaluateFailure(snapshot models.HealthSnapshot) (models.DetectedFailure, bool) {
	failure := models.DetectedFailure{Service: snapshot.Service}

	switch {
	case snapshot.Status != "running":
		failure.Severity = models.SeverityCritical
		failure.Reason = fmt.Sprintf("container status %q", snapshot.Status)
	case !snapshot.Healthy:
		failure.Severity = models.SeverityHigh
		failure.Reason = "health check failing"
	case snapshot.CPUPercent > 90:
		failure.Severity = models.SeverityHigh
		failure.Reason = fmt.Sprintf("cpu at %.1f%%", snapshot.CPUPercent)
	case snapshot.MemoryPercent > 90:
		failure.Severity = models.SeverityHigh
		failure.Reason = fmt.Sprintf("memory at %.1f%%", snapshot.MemoryPercent)
	case snapshot.RestartCount > 5:
		failure.Severity = models.SeverityHigh
		failure.Reason = fmt.Sprintf("%d restarts", snapshot.RestartCount)
	case snapshot.CPUPercent > 70 || snapshot.MemoryPercent > 70 || snapshot.RestartCount > 2:
		failure.Severity = models.SeverityMedium
		failure.Reason = "resource pressure"
	default:
		return models.DetectedFailure{}, false
	}

	return failure, true
}

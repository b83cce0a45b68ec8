package models

import "time"

// ServiceStatus buckets the deterministic health score.
type ServiceStatus string

const (
	StatusHealthy   ServiceStatus = "healthy"
	StatusDegraded  ServiceStatus = "degraded"
	StatusUnhealthy ServiceStatus = "unhealthy"
)

// HealthSnapshot is the telemetry view of one service at a point in time, as
// reported by the node agent.
type HealthSnapshot struct {
	Service       string    `json:"service"`
	Status        string    `json:"status"`
	Healthy       bool      `json:"healthy"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	RestartCount  int       `json:"restart_count"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	CheckedAt     time.Time `json:"checked_at"`
}

// DetectedFailure is one (service, severity) pair handed to the orchestrator.
type DetectedFailure struct {
	Service  string   `json:"service"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason,omitempty"`
}

package models

import "time"

// RiskLevel orders command risk classifications from safe to critical.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// AtLeast reports whether r is at least as risky as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return riskRank[r] >= riskRank[other]
}

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	_, ok := riskRank[r]
	return ok
}

// ExecutionMode describes how an execution request terminated.
type ExecutionMode string

const (
	ModeDryRun           ExecutionMode = "dry_run"
	ModeExecute          ExecutionMode = "execute"
	ModeApprovalRequired ExecutionMode = "approval_required"
)

// ExecutionResult is the immutable outcome of one command attempt. One is
// produced for every attempt, including blocked, rate-limited and timed-out
// ones.
type ExecutionResult struct {
	Command          string        `json:"command"`
	Success          bool          `json:"success"`
	Stdout           string        `json:"stdout,omitempty"`
	Stderr           string        `json:"stderr,omitempty"`
	ExitCode         int           `json:"exit_code"`
	Duration         time.Duration `json:"duration"`
	Risk             RiskLevel     `json:"risk_level"`
	Mode             ExecutionMode `json:"mode"`
	Timestamp        time.Time     `json:"timestamp"`
	RequiresApproval bool          `json:"requires_approval"`
	Message          string        `json:"message,omitempty"`
}

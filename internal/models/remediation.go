package models

import "time"

// ActionType enumerates the closed remediation action vocabulary. Plan steps
// whose action is not one of these is dropped before execution.
type ActionType string

const (
	ActionRestart        ActionType = "restart"
	ActionCheckLogs      ActionType = "check_logs"
	ActionCheckResources ActionType = "check_resources"
	ActionClearCache     ActionType = "clear_cache"
	ActionWait           ActionType = "wait"
	ActionEscalate       ActionType = "escalate"
)

// PlanStep is one ordered step template inside a RemediationPlan.
type PlanStep struct {
	Order           int        `json:"order"`
	Action          ActionType `json:"action"`
	Description     string     `json:"description"`
	Command         string     `json:"command,omitempty"`
	ExpectedOutcome string     `json:"expected_outcome,omitempty"`
}

// RemediationPlan is the advisor-produced plan for one issue.
type RemediationPlan struct {
	IssueSummary      string     `json:"issue_summary"`
	Severity          Severity   `json:"severity"`
	Steps             []PlanStep `json:"steps"`
	EstimatedDuration string     `json:"estimated_duration,omitempty"`
	Rollback          string     `json:"rollback,omitempty"`
}

// RemediationAction is the executed outcome of one plan step.
type RemediationAction struct {
	Order       int           `json:"order"`
	Action      ActionType    `json:"action"`
	Description string        `json:"description"`
	Command     string        `json:"command,omitempty"`
	Executed    bool          `json:"executed"`
	Success     bool          `json:"success"`
	Result      string        `json:"result,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// RemediationRecord is the durable trace of one remediation attempt.
type RemediationRecord struct {
	ID          string              `json:"id"`
	Service     string              `json:"service"`
	Severity    Severity            `json:"severity"`
	Diagnosis   string              `json:"diagnosis,omitempty"`
	Plan        RemediationPlan     `json:"plan"`
	Actions     []RemediationAction `json:"actions"`
	Success     bool                `json:"success"`
	LogsBefore  string              `json:"logs_before,omitempty"`
	LogsAfter   string              `json:"logs_after,omitempty"`
	CooldownKey string              `json:"cooldown_key"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// FailurePattern aggregates remediation history for one service.
type FailurePattern struct {
	Service        string     `json:"service"`
	Attempts       int        `json:"attempts"`
	Successes      int        `json:"successes"`
	SuccessRatio   float64    `json:"success_ratio"`
	FrequentAction ActionType `json:"frequent_action,omitempty"`
	LastSeen       time.Time  `json:"last_seen"`
}

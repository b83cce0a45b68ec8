// Package advisor defines the diagnosis/planning boundary. Advisor responses
// are untrusted free text: plans are schema-validated and anything unusable
// degrades to the fixed fallback plan, never to an aborted loop.
package advisor

import (
	"context"

	"github.com/homelabops/remedyd/internal/models"
)

// Service produces a human-readable diagnosis and a structured remediation
// plan. Calls are side-effect free and may block on network I/O; callers own
// timeouts via the context.
type Service interface {
	Diagnose(ctx context.Context, prompt string) (string, error)
	GeneratePlan(ctx context.Context, prompt string) (models.RemediationPlan, error)
}

// FallbackPlan is the fixed two-step plan applied when the advisor fails or
// returns an unusable plan: inspect logs, then restart.
func FallbackPlan(service string) models.RemediationPlan {
	return models.RemediationPlan{
		IssueSummary: "advisor unavailable, applying generic recovery for " + service,
		Severity:     models.SeverityHigh,
		Steps: []models.PlanStep{
			{
				Order:           1,
				Action:          models.ActionCheckLogs,
				Description:     "Capture recent logs before intervening",
				ExpectedOutcome: "error context recorded",
			},
			{
				Order:           2,
				Action:          models.ActionRestart,
				Description:     "Restart the service",
				ExpectedOutcome: "service returns to healthy state",
			},
		},
		EstimatedDuration: "1m",
		Rollback:          "none required; restart is idempotent",
	}
}

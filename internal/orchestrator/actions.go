package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/homelabops/remedyd/internal/executor"
	"github.com/homelabops/remedyd/internal/models"
)

const (
	// Identity recorded against automated executions in the audit trail.
	autoUser = "remedyd-auto"

	logTailLines     = 50
	stepResultLimit  = 2000
	defaultStepPause = 10 * time.Second
)

// actionFunc executes one plan step against a service and returns a
// human-readable result.
type actionFunc func(ctx context.Context, service string, step models.PlanStep) (string, error)

// handlerTable builds the closed action vocabulary. Plan steps whose action is
// not a key here are dropped during validation rather than executed.
func (o *Orchestrator) handlerTable() map[models.ActionType]actionFunc {
	return map[models.ActionType]actionFunc{
		models.ActionRestart:        o.handleRestart,
		models.ActionCheckLogs:      o.handleCheckLogs,
		models.ActionCheckResources: o.handleCheckResources,
		models.ActionClearCache:     o.handleClearCache,
		models.ActionWait:           o.handleWait,
		models.ActionEscalate:       o.handleEscalate,
	}
}

func (o *Orchestrator) handleRestart(ctx context.Context, service string, step models.PlanStep) (string, error) {
	command := strings.TrimSpace(step.Command)
	if command == "" {
		command = fmt.Sprintf("docker restart %s", service)
	}
	res := o.exec.Execute(ctx, command, autoUser, executor.ExecOptions{})
	if !res.Success {
		detail := res.Message
		if detail == "" {
			detail = truncate(res.Stderr, stepResultLimit)
		}
		return truncate(res.Stderr, stepResultLimit), fmt.Errorf("restart via %q failed (exit %d): %s", command, res.ExitCode, detail)
	}
	return truncate(res.Stdout, stepResultLimit), nil
}

func (o *Orchestrator) handleCheckLogs(ctx context.Context, service string, _ models.PlanStep) (string, error) {
	logs, err := o.health.GetLogs(ctx, service, logTailLines)
	if err != nil {
		return "", fmt.Errorf("fetch logs: %w", err)
	}
	return truncate(logs, stepResultLimit), nil
}

func (o *Orchestrator) handleCheckResources(ctx context.Context, service string, _ models.PlanStep) (string, error) {
	snap, err := o.health.CheckHealth(ctx, service)
	if err != nil {
		return "", fmt.Errorf("check health: %w", err)
	}
	return fmt.Sprintf("status=%s cpu=%.1f%% mem=%.1f%% restarts=%d uptime=%ds",
		snap.Status, snap.CPUPercent, snap.MemoryPercent, snap.RestartCount, snap.UptimeSeconds), nil
}

func (o *Orchestrator) handleClearCache(_ context.Context, service string, _ models.PlanStep) (string, error) {
	// No per-service cache integration exists yet; record the gap instead of
	// guessing at a flush command.
	return "", fmt.Errorf("clear_cache not implemented for %s", service)
}

func (o *Orchestrator) handleWait(ctx context.Context, _ string, _ models.PlanStep) (string, error) {
	pause := o.cfg.WaitDuration
	if pause <= 0 {
		pause = defaultStepPause
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(pause):
		return fmt.Sprintf("waited %s", pause), nil
	}
}

func (o *Orchestrator) handleEscalate(_ context.Context, service string, step models.PlanStep) (string, error) {
	o.logger.Warn("escalating to operator",
		"service", service,
		"description", step.Description)
	return "escalated to operator", nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "... [truncated]"
}

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/homelabops/remedyd/internal/advisor"
	"github.com/homelabops/remedyd/internal/executor"
	"github.com/homelabops/remedyd/internal/metrics"
	"github.com/homelabops/remedyd/internal/models"
)

// HealthProvider reads service health and logs from the host agent.
type HealthProvider interface {
	CheckHealth(ctx context.Context, service string) (models.HealthSnapshot, error)
	GetLogs(ctx context.Context, service string, lines int) (string, error)
}

// Executor runs a single command through the safety pipeline.
type Executor interface {
	Execute(ctx context.Context, command, user string, opts executor.ExecOptions) models.ExecutionResult
}

// HistoryStore persists remediation records and serves them back for pattern
// context.
type HistoryStore interface {
	SaveRecord(ctx context.Context, rec models.RemediationRecord) (string, error)
	MinePatterns(ctx context.Context, maxRecords int) ([]models.FailurePattern, error)
}

// Outcome classifies how a remediation attempt ended. Skipped is distinct
// from Failed: skips never touch the target service.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Result summarises one DetectAndRemediate call.
type Result struct {
	Service  string
	Outcome  Outcome
	Reason   string
	RecordID string
}

// Config carries orchestration policy knobs.
type Config struct {
	// ActionThreshold is the minimum severity that triggers remediation.
	ActionThreshold models.Severity
	// WaitDuration is the pause applied by "wait" plan steps.
	WaitDuration time.Duration
	// PatternContext caps how many history records feed pattern mining.
	PatternContext int
}

// Orchestrator drives the remediation state machine: guard, diagnose, plan,
// validate, execute, record. At most one attempt runs per service at any
// time; concurrent triggers for the same service are skipped, not queued.
type Orchestrator struct {
	logger    *slog.Logger
	health    HealthProvider
	adv       advisor.Service
	exec      Executor
	history   HistoryStore
	cooldowns *CooldownStore
	cfg       Config
	handlers  map[models.ActionType]actionFunc

	mu       sync.Mutex
	inFlight map[string]bool
}

// New wires an orchestrator. adv may be nil, in which case every attempt uses
// the fixed fallback plan.
func New(logger *slog.Logger, health HealthProvider, adv advisor.Service, exec Executor, history HistoryStore, cooldowns *CooldownStore, cfg Config) *Orchestrator {
	if _, ok := models.ParseSeverity(string(cfg.ActionThreshold)); !ok {
		if cfg.ActionThreshold != "" {
			logger.Warn("unrecognized action threshold, defaulting to high",
				"configured", string(cfg.ActionThreshold))
		}
		cfg.ActionThreshold = models.SeverityHigh
	}
	if cfg.PatternContext <= 0 {
		cfg.PatternContext = 200
	}
	o := &Orchestrator{
		logger:    logger,
		health:    health,
		adv:       adv,
		exec:      exec,
		history:   history,
		cooldowns: cooldowns,
		cfg:       cfg,
		inFlight:  make(map[string]bool),
	}
	o.handlers = o.handlerTable()
	return o
}

// DetectAndRemediate runs the full remediation attempt for one detected
// failure. It always returns a Result; errors along the way degrade the
// attempt rather than aborting it, and every non-skipped attempt leaves a
// durable record and refreshes the service cooldown.
func (o *Orchestrator) DetectAndRemediate(ctx context.Context, failure models.DetectedFailure) Result {
	service := failure.Service

	if !failure.Severity.AtLeast(o.cfg.ActionThreshold) {
		return Result{
			Service: service,
			Outcome: OutcomeSkipped,
			Reason:  fmt.Sprintf("severity %s below action threshold %s", failure.Severity, o.cfg.ActionThreshold),
		}
	}

	if !o.tryAcquire(service) {
		return Result{
			Service: service,
			Outcome: OutcomeSkipped,
			Reason:  "remediation already in flight",
		}
	}
	defer o.release(service)

	if cooling, remaining := o.cooldowns.InCooldown(ctx, service); cooling {
		return Result{
			Service: service,
			Outcome: OutcomeSkipped,
			Reason:  fmt.Sprintf("in cooldown for another %s", remaining.Round(time.Second)),
		}
	}

	leased, releaseLease := o.cooldowns.AcquireLease(ctx, service, 0)
	if !leased {
		return Result{
			Service: service,
			Outcome: OutcomeSkipped,
			Reason:  "remediation lease held by another instance",
		}
	}
	defer releaseLease()

	started := time.Now()
	o.logger.Info("remediation started",
		"service", service,
		"severity", failure.Severity,
		"reason", failure.Reason)

	rec := models.RemediationRecord{
		Service:     service,
		Severity:    failure.Severity,
		CooldownKey: service,
		StartedAt:   started,
	}

	snapshot, snapErr := o.health.CheckHealth(ctx, service)
	if snapErr != nil {
		o.logger.Warn("pre-check health unavailable", "service", service, "error", snapErr)
	}
	if logs, err := o.health.GetLogs(ctx, service, logTailLines); err == nil {
		rec.LogsBefore = truncate(logs, stepResultLimit)
	}

	rec.Diagnosis, rec.Plan = o.diagnoseAndPlan(ctx, failure, snapshot, rec.LogsBefore)
	rec.Plan.Steps = o.validateSteps(service, rec.Plan.Steps)
	if len(rec.Plan.Steps) == 0 {
		// A plan stripped of every step must not pass on the post-check alone.
		o.logger.Warn("plan empty after validation, using fallback plan", "service", service)
		rec.Plan = advisor.FallbackPlan(service)
	}

	rec.Actions = o.executeSteps(ctx, service, rec.Plan.Steps)

	stepsOK := true
	for _, a := range rec.Actions {
		if !a.Success {
			stepsOK = false
			break
		}
	}

	post, postErr := o.health.CheckHealth(ctx, service)
	if postErr == nil {
		rec.Success = stepsOK && post.Healthy
		if logs, err := o.health.GetLogs(ctx, service, logTailLines); err == nil {
			rec.LogsAfter = truncate(logs, stepResultLimit)
		}
	} else {
		// Cannot confirm recovery without a post-check.
		rec.Success = false
	}
	rec.FinishedAt = time.Now()

	// Cooldown is refreshed whether the attempt worked or not.
	o.cooldowns.MarkAttempt(ctx, service)

	result := Result{Service: service, Outcome: OutcomeFailed}
	if rec.Success {
		result.Outcome = OutcomeSucceeded
		result.Reason = "service healthy after remediation"
	} else if postErr != nil {
		result.Reason = fmt.Sprintf("post-check failed: %v", postErr)
	} else if !stepsOK {
		result.Reason = "one or more plan steps failed"
	} else {
		result.Reason = "service still unhealthy after plan execution"
	}

	if id, err := o.history.SaveRecord(ctx, rec); err != nil {
		o.logger.Error("persist remediation record", "service", service, "error", err)
	} else {
		result.RecordID = id
	}

	outcome := metrics.OutcomeFailed
	if rec.Success {
		outcome = metrics.OutcomeSucceeded
	}
	metrics.ObserveRemediation(outcome, time.Since(started))

	o.logger.Info("remediation finished",
		"service", service,
		"outcome", result.Outcome,
		"steps", len(rec.Actions),
		"duration", time.Since(started).Round(time.Millisecond))
	return result
}

// diagnoseAndPlan consults the advisor, falling back to the fixed plan when
// the advisor is missing or any call fails.
func (o *Orchestrator) diagnoseAndPlan(ctx context.Context, failure models.DetectedFailure, snapshot models.HealthSnapshot, logs string) (string, models.RemediationPlan) {
	service := failure.Service
	if o.adv == nil {
		return "advisor not configured", advisor.FallbackPlan(service)
	}

	diagnosis, err := o.adv.Diagnose(ctx, o.diagnosisPrompt(failure, snapshot, logs))
	if err != nil {
		o.logger.Warn("diagnosis failed, using fallback plan", "service", service, "error", err)
		return fmt.Sprintf("advisor unavailable: %v", err), advisor.FallbackPlan(service)
	}

	plan, err := o.adv.GeneratePlan(ctx, o.planPrompt(failure, diagnosis))
	if err != nil {
		o.logger.Warn("plan generation failed, using fallback plan", "service", service, "error", err)
		return diagnosis, advisor.FallbackPlan(service)
	}
	if len(plan.Steps) == 0 {
		return diagnosis, advisor.FallbackPlan(service)
	}
	return diagnosis, plan
}

func (o *Orchestrator) diagnosisPrompt(failure models.DetectedFailure, snapshot models.HealthSnapshot, logs string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Service %q is failing.\n", failure.Service)
	fmt.Fprintf(&b, "Detected: %s (severity %s)\n", failure.Reason, failure.Severity)
	if snapshot.Service != "" {
		fmt.Fprintf(&b, "Health: status=%s cpu=%.1f%% mem=%.1f%% restarts=%d uptime=%ds\n",
			snapshot.Status, snapshot.CPUPercent, snapshot.MemoryPercent, snapshot.RestartCount, snapshot.UptimeSeconds)
	}
	if patterns := o.patternContext(failure.Service); patterns != "" {
		b.WriteString(patterns)
	}
	if logs != "" {
		fmt.Fprintf(&b, "Recent logs:\n%s\n", logs)
	}
	return b.String()
}

func (o *Orchestrator) planPrompt(failure models.DetectedFailure, diagnosis string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Service: %s\nSeverity: %s\nDiagnosis: %s\n", failure.Service, failure.Severity, diagnosis)
	b.WriteString("Produce a remediation plan for this service.\n")
	return b.String()
}

// patternContext summarises remediation history so the advisor can see what
// has and has not worked for this service before.
func (o *Orchestrator) patternContext(service string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	patterns, err := o.history.MinePatterns(ctx, o.cfg.PatternContext)
	if err != nil {
		return ""
	}
	for _, p := range patterns {
		if p.Service != service {
			continue
		}
		return fmt.Sprintf("History: %d prior attempts, %d succeeded (ratio %.2f), most frequent action %q.\n",
			p.Attempts, p.Successes, p.SuccessRatio, p.FrequentAction)
	}
	return ""
}

// validateSteps drops steps outside the action vocabulary and returns the
// remainder in strict order.
func (o *Orchestrator) validateSteps(service string, steps []models.PlanStep) []models.PlanStep {
	kept := make([]models.PlanStep, 0, len(steps))
	for _, s := range steps {
		if _, ok := o.handlers[s.Action]; !ok {
			o.logger.Warn("dropping plan step with unknown action",
				"service", service,
				"action", s.Action,
				"description", s.Description)
			continue
		}
		kept = append(kept, s)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Order < kept[j].Order })
	return kept
}

// executeSteps runs each validated step in order. A failed step never aborts
// the sequence; its failure is recorded and execution moves on.
func (o *Orchestrator) executeSteps(ctx context.Context, service string, steps []models.PlanStep) []models.RemediationAction {
	actions := make([]models.RemediationAction, 0, len(steps))
	for _, step := range steps {
		action := models.RemediationAction{
			Order:       step.Order,
			Action:      step.Action,
			Description: step.Description,
			Command:     step.Command,
		}

		stepStart := time.Now()
		result, err := o.handlers[step.Action](ctx, service, step)
		action.Duration = time.Since(stepStart)
		action.Executed = true
		if err != nil {
			action.Success = false
			action.Result = err.Error()
			o.logger.Warn("plan step failed",
				"service", service,
				"action", step.Action,
				"error", err)
		} else {
			action.Success = true
			action.Result = result
		}
		actions = append(actions, action)
	}
	return actions
}

func (o *Orchestrator) tryAcquire(service string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[service] {
		return false
	}
	o.inFlight[service] = true
	return true
}

func (o *Orchestrator) release(service string) {
	o.mu.Lock()
	delete(o.inFlight, service)
	o.mu.Unlock()
}

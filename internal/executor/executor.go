package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/homelabops/remedyd/internal/metrics"
	"github.com/homelabops/remedyd/internal/models"
	"github.com/homelabops/remedyd/internal/policy"
)

// exitCodeTimeout mirrors coreutils timeout(1) semantics.
const exitCodeTimeout = 124

// ProcessRunner is the process execution boundary: command in, captured
// output and exit code out. Split out so tests never spawn real processes.
type ProcessRunner interface {
	Run(ctx context.Context, command, dir string, env map[string]string) (stdout, stderr string, exitCode int, err error)
}

// Config carries the executor settings.
type Config struct {
	DryRun         bool
	MaxPerMinute   int
	DefaultTimeout time.Duration
	WorkDir        string
}

// ExecOptions override per-call execution behaviour.
type ExecOptions struct {
	Timeout time.Duration
	Dir     string
	Env     map[string]string
}

// SafeExecutor wraps process execution with policy checks, rate limiting,
// dry-run mode and exhaustive audit logging. Every call produces exactly one
// ExecutionResult and exactly one audit entry, whichever branch is taken.
type SafeExecutor struct {
	policy         *policy.Policy
	limiter        *slidingLimiter
	sink           AuditSink
	runner         ProcessRunner
	dryRun         bool
	defaultTimeout time.Duration
	workDir        string
	logger         *slog.Logger
}

// New constructs a SafeExecutor. sink must be non-nil; runner defaults to a
// real process runner.
func New(logger *slog.Logger, pol *policy.Policy, sink AuditSink, cfg Config) *SafeExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &SafeExecutor{
		policy:         pol,
		limiter:        newSlidingLimiter(cfg.MaxPerMinute, time.Minute),
		sink:           sink,
		runner:         execRunner{},
		dryRun:         cfg.DryRun,
		defaultTimeout: cfg.DefaultTimeout,
		workDir:        cfg.WorkDir,
		logger:         logger,
	}
}

// SetRunner swaps the process boundary, for tests.
func (e *SafeExecutor) SetRunner(r ProcessRunner) {
	e.runner = r
}

// DryRun classifies the command without spawning anything.
func (e *SafeExecutor) DryRun(command, user string) models.ExecutionResult {
	verdict := e.policy.Classify(command)
	result := models.ExecutionResult{
		Command:          command,
		Success:          verdict.Allowed,
		Risk:             verdict.Risk,
		Mode:             models.ModeDryRun,
		Timestamp:        time.Now().UTC(),
		RequiresApproval: verdict.RequiresApproval,
		Message:          verdict.Message,
	}
	return e.finish(result, user)
}

// Execute runs the full pipeline: classify, rate-limit, approval gate, spawn.
// It never returns an error; failures of any kind are encoded in the result.
func (e *SafeExecutor) Execute(ctx context.Context, command, user string, opts ExecOptions) models.ExecutionResult {
	verdict := e.policy.Classify(command)
	result := models.ExecutionResult{
		Command:          command,
		Risk:             verdict.Risk,
		Mode:             models.ModeExecute,
		Timestamp:        time.Now().UTC(),
		RequiresApproval: verdict.RequiresApproval,
	}

	if !verdict.Allowed {
		result.ExitCode = 1
		result.Message = verdict.Message
		return e.finish(result, user)
	}

	if e.dryRun {
		result.Mode = models.ModeDryRun
		result.Success = true
		result.Message = "dry-run mode: " + verdict.Message
		return e.finish(result, user)
	}

	if !e.limiter.Allow() {
		result.ExitCode = 1
		result.Message = fmt.Sprintf("rate limit exceeded: at most %d executions per minute", e.limiter.limit)
		return e.finish(result, user)
	}

	if verdict.RequiresApproval {
		result.Mode = models.ModeApprovalRequired
		result.Message = "approval required for " + string(verdict.Risk) + " risk command"
		return e.finish(result, user)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	dir := opts.Dir
	if dir == "" {
		dir = e.workDir
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := e.runner.Run(runCtx, command, dir, opts.Env)
	result.Duration = time.Since(start)
	result.Stdout = stdout
	result.Stderr = stderr
	result.ExitCode = exitCode

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.ExitCode = exitCodeTimeout
		result.Message = fmt.Sprintf("command timed out after %s", timeout)
	case err != nil:
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
		result.Message = "execution error: " + err.Error()
	case exitCode != 0:
		result.Message = fmt.Sprintf("command exited with code %d", exitCode)
	default:
		result.Success = true
		result.Message = verdict.Message
	}

	return e.finish(result, user)
}

// finish is the single exit path: audit first, then hand the result back.
func (e *SafeExecutor) finish(result models.ExecutionResult, user string) models.ExecutionResult {
	if e.sink != nil {
		e.sink.Record(result, user)
	}
	metrics.ObserveExecution(result.Mode, result.Success, result.Duration)
	e.logger.Debug("execution finished",
		slog.String("command", result.Command),
		slog.String("mode", string(result.Mode)),
		slog.Bool("success", result.Success),
		slog.Int("exit_code", result.ExitCode))
	return result
}

// execRunner spawns real processes. The command is split into argv directly;
// no shell is involved, which is load-bearing for the policy guarantees.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, command, dir string, env map[string]string) (string, string, int, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return "", "", 1, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	return stdout.String(), stderr.String(), exitCode, err
}

package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/homelabops/remedyd/internal/models"
	"github.com/homelabops/remedyd/internal/policy"
)

type recordedEntry struct {
	result models.ExecutionResult
	user   string
}

type fakeSink struct {
	mu      sync.Mutex
	entries []recordedEntry
}

func (f *fakeSink) Record(result models.ExecutionResult, user string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, recordedEntry{result: result, user: user})
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *fakeSink) last() recordedEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[len(f.entries)-1]
}

type fakeRunner struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
	block    bool
	calls    int
}

func (f *fakeRunner) Run(ctx context.Context, command, dir string, env map[string]string) (string, string, int, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	return f.stdout, f.stderr, f.exitCode, f.err
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func testPolicy() *policy.Policy {
	return policy.New(policy.Pack{
		ApprovalThreshold: models.RiskHigh,
		Categories: []policy.Category{
			{
				Name: "diagnostics",
				Risk: models.RiskSafe,
				Commands: []policy.Command{
					{Pattern: "docker ps"},
					{Pattern: "docker logs *"},
				},
			},
			{
				Name: "service-control",
				Risk: models.RiskMedium,
				Commands: []policy.Command{
					{Pattern: "docker restart *"},
				},
			},
			{
				Name: "service-stop",
				Risk: models.RiskHigh,
				Commands: []policy.Command{
					{Pattern: "docker stop *"},
				},
			},
		},
		Blacklist: []string{"rm -rf *"},
	}, testLogger())
}

func newTestExecutor(t *testing.T, sink AuditSink, cfg Config) (*SafeExecutor, *fakeRunner) {
	t.Helper()
	e := New(testLogger(), testPolicy(), sink, cfg)
	runner := &fakeRunner{}
	e.SetRunner(runner)
	return e, runner
}

func TestExecuteSuccess(t *testing.T) {
	sink := &fakeSink{}
	e, runner := newTestExecutor(t, sink, Config{MaxPerMinute: 10})
	runner.stdout = "db restarted"

	res := e.Execute(context.Background(), "docker restart db", "operator", ExecOptions{})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Stdout != "db restarted" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if res.Mode != models.ModeExecute {
		t.Fatalf("mode = %s", res.Mode)
	}
	if runner.calls != 1 {
		t.Fatalf("runner calls = %d", runner.calls)
	}
	if sink.count() != 1 {
		t.Fatalf("audit entries = %d, want 1", sink.count())
	}
	if got := sink.last(); got.user != "operator" {
		t.Fatalf("audited user = %q", got.user)
	}
}

func TestExecuteBlockedCommandNeverSpawns(t *testing.T) {
	sink := &fakeSink{}
	e, runner := newTestExecutor(t, sink, Config{MaxPerMinute: 10})

	for _, cmd := range []string{"rm -rf /", "curl http://example.com", "docker ps; reboot"} {
		res := e.Execute(context.Background(), cmd, "operator", ExecOptions{})
		if res.Success {
			t.Errorf("%q must fail", cmd)
		}
		if res.ExitCode != 1 {
			t.Errorf("%q exit code = %d, want 1", cmd, res.ExitCode)
		}
	}
	if runner.calls != 0 {
		t.Fatalf("blocked commands must never spawn, got %d calls", runner.calls)
	}
	if sink.count() != 3 {
		t.Fatalf("audit entries = %d, want one per attempt", sink.count())
	}
}

func TestExecuteTimeoutExitCode(t *testing.T) {
	sink := &fakeSink{}
	e, runner := newTestExecutor(t, sink, Config{MaxPerMinute: 10})
	runner.block = true

	res := e.Execute(context.Background(), "docker restart db", "operator", ExecOptions{Timeout: 20 * time.Millisecond})
	if res.Success {
		t.Fatal("timed out command must not succeed")
	}
	if res.ExitCode != 124 {
		t.Fatalf("exit code = %d, want 124", res.ExitCode)
	}
	if sink.count() != 1 {
		t.Fatalf("audit entries = %d, want 1", sink.count())
	}
}

func TestExecuteApprovalGate(t *testing.T) {
	sink := &fakeSink{}
	e, runner := newTestExecutor(t, sink, Config{MaxPerMinute: 10})

	res := e.Execute(context.Background(), "docker stop db", "operator", ExecOptions{})
	if res.Success {
		t.Fatal("high risk command must not run unattended")
	}
	if res.Mode != models.ModeApprovalRequired {
		t.Fatalf("mode = %s, want approval_required", res.Mode)
	}
	if !res.RequiresApproval {
		t.Fatal("result must flag approval")
	}
	if runner.calls != 0 {
		t.Fatal("approval-gated command must not spawn")
	}
	if sink.count() != 1 {
		t.Fatalf("audit entries = %d, want 1", sink.count())
	}
}

func TestExecuteGlobalDryRun(t *testing.T) {
	sink := &fakeSink{}
	e, runner := newTestExecutor(t, sink, Config{MaxPerMinute: 10, DryRun: true})

	res := e.Execute(context.Background(), "docker restart db", "operator", ExecOptions{})
	if !res.Success {
		t.Fatalf("dry-run of an allowed command reports success, got %+v", res)
	}
	if res.Mode != models.ModeDryRun {
		t.Fatalf("mode = %s, want dry_run", res.Mode)
	}
	if runner.calls != 0 {
		t.Fatal("dry-run mode must not spawn")
	}
}

func TestDryRunClassifiesWithoutSpawning(t *testing.T) {
	sink := &fakeSink{}
	e, runner := newTestExecutor(t, sink, Config{MaxPerMinute: 10})

	allowed := e.DryRun("docker ps", "operator")
	if !allowed.Success || allowed.Risk != models.RiskSafe {
		t.Fatalf("unexpected verdict %+v", allowed)
	}
	denied := e.DryRun("rm -rf /", "operator")
	if denied.Success {
		t.Fatal("denied command must not report success")
	}
	if runner.calls != 0 {
		t.Fatal("dry run must not spawn")
	}
	if sink.count() != 2 {
		t.Fatalf("audit entries = %d, want one per dry run", sink.count())
	}
}

func TestExecuteRateLimit(t *testing.T) {
	sink := &fakeSink{}
	e, runner := newTestExecutor(t, sink, Config{MaxPerMinute: 3})

	for i := 0; i < 3; i++ {
		if res := e.Execute(context.Background(), "docker ps", "operator", ExecOptions{}); !res.Success {
			t.Fatalf("run %d should pass: %s", i, res.Message)
		}
	}
	res := e.Execute(context.Background(), "docker ps", "operator", ExecOptions{})
	if res.Success {
		t.Fatal("fourth run inside the window must be refused")
	}
	if runner.calls != 3 {
		t.Fatalf("runner calls = %d, want 3", runner.calls)
	}
	// The refusal is still audited.
	if sink.count() != 4 {
		t.Fatalf("audit entries = %d, want 4", sink.count())
	}
}

func TestSlidingLimiterWindow(t *testing.T) {
	current := time.Unix(1000, 0)
	l := newSlidingLimiter(2, time.Minute)
	l.now = func() time.Time { return current }

	if !l.Allow() || !l.Allow() {
		t.Fatal("first two must pass")
	}
	if l.Allow() {
		t.Fatal("third inside the window must be refused")
	}

	// Refusals consume nothing: once the window slides past the first stamp,
	// exactly one slot frees up.
	current = current.Add(61 * time.Second)
	if !l.Allow() {
		t.Fatal("slot must free after the window slides")
	}
}

func TestExecuteRunnerError(t *testing.T) {
	sink := &fakeSink{}
	e, runner := newTestExecutor(t, sink, Config{MaxPerMinute: 10})
	runner.exitCode = 2
	runner.stderr = "no such container"
	runner.err = errors.New("exit status 2")

	res := e.Execute(context.Background(), "docker restart ghost", "operator", ExecOptions{})
	if res.Success {
		t.Fatal("failed command must not report success")
	}
	if res.ExitCode != 2 {
		t.Fatalf("exit code = %d, want 2", res.ExitCode)
	}
	if res.Stderr != "no such container" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestFileAuditSinkAppendsJSONL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	sink, err := NewFileAuditSink(path, testLogger())
	if err != nil {
		t.Fatalf("NewFileAuditSink: %v", err)
	}
	defer sink.Close()

	sink.Record(models.ExecutionResult{
		Command:   "docker ps",
		Success:   true,
		Risk:      models.RiskSafe,
		Mode:      models.ModeExecute,
		Timestamp: time.Now().UTC(),
		Duration:  42 * time.Millisecond,
	}, "operator")
	sink.Record(models.ExecutionResult{
		Command:   "rm -rf /",
		Risk:      models.RiskCritical,
		Mode:      models.ModeExecute,
		ExitCode:  1,
		Timestamp: time.Now().UTC(),
		Message:   "command matches denied pattern",
	}, "intruder")

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []auditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry auditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		lines = append(lines, entry)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].User != "operator" || !lines[0].Success {
		t.Fatalf("unexpected first entry %+v", lines[0])
	}
	if lines[1].User != "intruder" || lines[1].Success {
		t.Fatalf("unexpected second entry %+v", lines[1])
	}
	if lines[1].ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", lines[1].ExitCode)
	}
}

package advisor

import (
	"strings"
	"testing"

	"github.com/homelabops/remedyd/internal/models"
)

const validPlanJSON = `{
  "issue_summary": "db is saturating its CPU",
  "severity": "high",
  "steps": [
    {"order": 1, "action": "check_logs", "description": "inspect recent errors"},
    {"order": 2, "action": "restart", "description": "restart the container", "command": "docker restart db"}
  ],
  "estimated_duration": "2m",
  "rollback": "none"
}`

func TestParsePlanValid(t *testing.T) {
	plan, err := ParsePlan(validPlanJSON)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.IssueSummary == "" {
		t.Fatal("issue summary missing")
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(plan.Steps))
	}
	if plan.Steps[0].Action != models.ActionCheckLogs {
		t.Fatalf("first action = %s", plan.Steps[0].Action)
	}
	if plan.Steps[1].Command != "docker restart db" {
		t.Fatalf("command = %q", plan.Steps[1].Command)
	}
}

func TestParsePlanStripsCodeFence(t *testing.T) {
	fenced := "```json\n" + validPlanJSON + "\n```"
	plan, err := ParsePlan(fenced)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(plan.Steps))
	}

	bare := "```\n" + validPlanJSON + "\n```"
	if _, err := ParsePlan(bare); err != nil {
		t.Fatalf("bare fence: %v", err)
	}
}

func TestParsePlanRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"prose", "I think you should restart the database."},
		{"truncated json", `{"issue_summary": "db broke", "steps": [`},
		{"missing summary", `{"steps": [{"order": 1, "action": "restart", "description": "x"}]}`},
		{"no steps", `{"issue_summary": "db broke", "steps": []}`},
		{"step missing action", `{"issue_summary": "db broke", "steps": [{"order": 1, "description": "x"}]}`},
		{"order below one", `{"issue_summary": "db broke", "steps": [{"order": 0, "action": "restart", "description": "x"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParsePlan(tc.raw); err == nil {
				t.Fatalf("%q must be rejected", tc.raw)
			}
		})
	}
}

func TestParsePlanKeepsUnknownActions(t *testing.T) {
	// Vocabulary filtering happens downstream; the parser only enforces shape.
	raw := `{"issue_summary": "db broke", "steps": [{"order": 1, "action": "format_disk", "description": "x"}]}`
	plan, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.Steps[0].Action != models.ActionType("format_disk") {
		t.Fatalf("action = %s", plan.Steps[0].Action)
	}
}

func TestFallbackPlanShape(t *testing.T) {
	plan := FallbackPlan("db")
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(plan.Steps))
	}
	if plan.Steps[0].Action != models.ActionCheckLogs {
		t.Fatalf("first action = %s, want check_logs", plan.Steps[0].Action)
	}
	if plan.Steps[1].Action != models.ActionRestart {
		t.Fatalf("second action = %s, want restart", plan.Steps[1].Action)
	}
	if !strings.Contains(plan.IssueSummary, "db") {
		t.Fatalf("summary %q must name the service", plan.IssueSummary)
	}
}

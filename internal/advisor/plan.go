package advisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/homelabops/remedyd/internal/models"
)

// planSchema is the contract plan JSON must satisfy. Unknown actions are not
// rejected here; the orchestrator filters them against its handler table.
const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["issue_summary", "steps"],
  "properties": {
    "issue_summary": {"type": "string", "minLength": 1},
    "severity": {"type": "string"},
    "estimated_duration": {"type": "string"},
    "rollback": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["order", "action", "description"],
        "properties": {
          "order": {"type": "integer", "minimum": 1},
          "action": {"type": "string", "minLength": 1},
          "description": {"type": "string", "minLength": 1},
          "command": {"type": "string"},
          "expected_outcome": {"type": "string"}
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(planSchema)

// ParsePlan validates raw advisor output against the plan schema and decodes
// it. No recovery of partially malformed JSON is attempted beyond stripping a
// markdown code fence.
func ParsePlan(raw string) (models.RemediationPlan, error) {
	payload := stripCodeFence(raw)
	if strings.TrimSpace(payload) == "" {
		return models.RemediationPlan{}, fmt.Errorf("empty plan response")
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(payload))
	if err != nil {
		return models.RemediationPlan{}, fmt.Errorf("plan schema validation: %w", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}
		return models.RemediationPlan{}, fmt.Errorf("plan failed schema validation: %s", strings.Join(issues, "; "))
	}

	var plan models.RemediationPlan
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return models.RemediationPlan{}, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

// stripCodeFence removes a surrounding ```json ... ``` fence, which chat
// models frequently wrap JSON in.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

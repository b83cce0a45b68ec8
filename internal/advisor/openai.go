package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/homelabops/remedyd/internal/models"
)

const diagnoseSystemPrompt = "You are an infrastructure operator diagnosing a homelab service. " +
	"Answer with a short plain-text diagnosis of the most likely root cause."

const planSystemPrompt = "You are an infrastructure operator planning remediation for a homelab service. " +
	"Respond with a single JSON object: {\"issue_summary\", \"severity\", \"steps\": " +
	"[{\"order\", \"action\", \"description\", \"expected_outcome\"}], \"estimated_duration\", \"rollback\"}. " +
	"Allowed actions: restart, check_logs, check_resources, clear_cache, wait, escalate. No prose outside the JSON."

// OpenAIAdvisor implements Service on top of the OpenAI chat completions API.
type OpenAIAdvisor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAI constructs an advisor from OPENAI_API_KEY. baseURL may point at
// any OpenAI-compatible endpoint (e.g. a local inference server).
func NewOpenAI(model, baseURL string, timeout time.Duration, logger *slog.Logger) (*OpenAIAdvisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIAdvisor{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Diagnose asks for a plain-text root cause analysis.
func (a *OpenAIAdvisor) Diagnose(ctx context.Context, prompt string) (string, error) {
	return a.complete(ctx, diagnoseSystemPrompt, prompt)
}

// GeneratePlan asks for a structured plan and validates the response.
func (a *OpenAIAdvisor) GeneratePlan(ctx context.Context, prompt string) (models.RemediationPlan, error) {
	raw, err := a.complete(ctx, planSystemPrompt, prompt)
	if err != nil {
		return models.RemediationPlan{}, err
	}
	return ParsePlan(raw)
}

func (a *OpenAIAdvisor) complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	a.logger.Debug("advisor response received",
		slog.String("model", a.model),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message.Content, nil
}

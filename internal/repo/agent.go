package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/homelabops/remedyd/internal/models"
)

// AgentClient wraps the node agent telemetry APIs: container health snapshots
// and recent logs.
type AgentClient struct {
	baseURL    string
	healthPath string
	logsPath   string
	httpClient *http.Client
}

// NewAgentClient constructs a client targeting the configured node agent.
func NewAgentClient(baseURL, healthPath, logsPath string, timeout time.Duration) *AgentClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AgentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		healthPath: healthPath,
		logsPath:   logsPath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CheckHealth fetches the current telemetry snapshot for one service.
func (c *AgentClient) CheckHealth(ctx context.Context, service string) (models.HealthSnapshot, error) {
	if c == nil || c.baseURL == "" {
		return models.HealthSnapshot{}, fmt.Errorf("agent client not configured")
	}

	payload := map[string]interface{}{"service": service}

	var response struct {
		Service       string  `json:"service"`
		Status        string  `json:"status"`
		Healthy       bool    `json:"healthy"`
		CPUPercent    float64 `json:"cpu_percent"`
		MemoryPercent float64 `json:"memory_percent"`
		RestartCount  int     `json:"restart_count"`
		UptimeSeconds int64   `json:"uptime_seconds"`
	}

	if err := c.postJSON(ctx, c.endpoint(c.healthPath), payload, &response); err != nil {
		return models.HealthSnapshot{}, fmt.Errorf("agent health request failed: %w", err)
	}

	snapshot := models.HealthSnapshot{
		Service:       service,
		Status:        response.Status,
		Healthy:       response.Healthy,
		CPUPercent:    response.CPUPercent,
		MemoryPercent: response.MemoryPercent,
		RestartCount:  response.RestartCount,
		UptimeSeconds: response.UptimeSeconds,
		CheckedAt:     time.Now().UTC(),
	}
	if response.Service != "" {
		snapshot.Service = response.Service
	}
	return snapshot, nil
}

// GetLogs fetches the most recent log lines for one service.
func (c *AgentClient) GetLogs(ctx context.Context, service string, lines int) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("agent client not configured")
	}
	if lines <= 0 {
		lines = 100
	}

	payload := map[string]interface{}{
		"service": service,
		"lines":   lines,
	}

	var response struct {
		Logs string `json:"logs"`
	}

	if err := c.postJSON(ctx, c.endpoint(c.logsPath), payload, &response); err != nil {
		return "", fmt.Errorf("agent logs request failed: %w", err)
	}
	return response.Logs, nil
}

func (c *AgentClient) endpoint(p string) string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + p
	}
	u.Path = path.Join(u.Path, p)
	return u.String()
}

func (c *AgentClient) postJSON(ctx context.Context, endpoint string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

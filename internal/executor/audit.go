package executor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/homelabops/remedyd/internal/models"
)

// AuditSink receives one entry per execution attempt. Implementations must
// never propagate failures to the caller; a broken sink is logged, not fatal
// mid-loop.
type AuditSink interface {
	Record(result models.ExecutionResult, user string)
}

type auditEntry struct {
	Timestamp        time.Time            `json:"timestamp"`
	User             string               `json:"user"`
	Command          string               `json:"command"`
	RiskLevel        models.RiskLevel     `json:"riskLevel"`
	Mode             models.ExecutionMode `json:"mode"`
	Success          bool                 `json:"success"`
	ExitCode         int                  `json:"exitCode"`
	DurationMs       int64                `json:"durationMs"`
	RequiresApproval bool                 `json:"requiresApproval"`
	Message          string               `json:"message,omitempty"`
}

// FileAuditSink appends one JSON object per line and fsyncs before returning,
// so the audit log is never behind in-memory reporting.
type FileAuditSink struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewFileAuditSink opens (or creates) the audit log. Construction failure is
// fatal at startup: running without an audit trail is worse than not running.
func NewFileAuditSink(path string, logger *slog.Logger) (*FileAuditSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileAuditSink{file: file, logger: logger}, nil
}

// Record writes the entry. Errors are logged and swallowed.
func (s *FileAuditSink) Record(result models.ExecutionResult, user string) {
	entry := auditEntry{
		Timestamp:        result.Timestamp,
		User:             user,
		Command:          result.Command,
		RiskLevel:        result.Risk,
		Mode:             result.Mode,
		Success:          result.Success,
		ExitCode:         result.ExitCode,
		DurationMs:       result.Duration.Milliseconds(),
		RequiresApproval: result.RequiresApproval,
		Message:          result.Message,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("audit entry marshal failed", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		s.logger.Error("audit write failed", slog.Any("error", err))
		return
	}
	if err := s.file.Sync(); err != nil {
		s.logger.Error("audit sync failed", slog.Any("error", err))
	}
}

// Close releases the underlying file.
func (s *FileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

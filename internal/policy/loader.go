package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/homelabops/remedyd/internal/models"
)

// Pack is the YAML representation of a command policy pack.
type Pack struct {
	ApprovalThreshold models.RiskLevel `yaml:"approval_threshold"`
	Categories        []Category       `yaml:"categories"`
	Blacklist         []string         `yaml:"blacklist"`
}

// Category groups whitelisted commands sharing one risk level.
type Category struct {
	Name     string           `yaml:"name"`
	Risk     models.RiskLevel `yaml:"risk"`
	Commands []Command        `yaml:"commands"`
}

// Command is one whitelisted pattern.
type Command struct {
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
}

// LoadPack reads and parses a policy pack from the given path.
func LoadPack(path string) (Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pack{}, fmt.Errorf("read policy pack: %w", err)
	}
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return Pack{}, fmt.Errorf("parse policy pack: %w", err)
	}
	if len(pack.Categories) == 0 {
		return Pack{}, fmt.Errorf("policy pack %s defines no categories", path)
	}
	return pack, nil
}

// Watch reloads the policy whenever the pack file changes. It blocks until the
// context is cancelled; a pack that fails to parse leaves the previous rules
// in place.
func Watch(ctx context.Context, path string, p *Policy, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files, which drops the watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch policy dir: %w", err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pack, err := LoadPack(path)
			if err != nil {
				logger.Warn("policy pack reload failed, keeping previous rules",
					slog.String("path", path), slog.Any("error", err))
				continue
			}
			p.Reload(pack)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("policy watcher error", slog.Any("error", err))
		}
	}
}

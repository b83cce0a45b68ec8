package policy

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/homelabops/remedyd/internal/models"
)

// CommandInfo describes one whitelisted command pattern.
type CommandInfo struct {
	Pattern     string
	Description string
	Category    string
	Risk        models.RiskLevel
}

// Verdict is the classification outcome for one command string.
type Verdict struct {
	Allowed          bool
	Risk             models.RiskLevel
	Message          string
	RequiresApproval bool
}

// shellMeta characters are rejected outright: the executor never hands
// commands to a shell, and chained input must not sneak past a whitelisted
// prefix.
const shellMeta = ";|&$`<>(){}"

// Policy classifies shell command strings against a whitelist/blacklist pack.
// Unknown commands are never allowed. Safe for concurrent use; Reload swaps
// the rule set atomically under the lock.
type Policy struct {
	mu                sync.RWMutex
	allowed           []compiledRule
	denied            []compiledRule
	approvalThreshold models.RiskLevel
	logger            *slog.Logger
}

type compiledRule struct {
	info   CommandInfo
	tokens []string
}

// New builds a Policy from a loaded pack.
func New(pack Pack, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Policy{logger: logger}
	p.apply(pack)
	return p
}

// Reload replaces the active rule set with the given pack.
func (p *Policy) Reload(pack Pack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apply(pack)
	p.logger.Info("command policy reloaded",
		slog.Int("allowed", len(p.allowed)), slog.Int("denied", len(p.denied)))
}

// apply assumes the caller holds the lock (or that no readers exist yet).
func (p *Policy) apply(pack Pack) {
	allowed := make([]compiledRule, 0)
	for _, category := range pack.Categories {
		risk := category.Risk
		if !risk.Valid() {
			risk = models.RiskCritical
		}
		for _, cmd := range category.Commands {
			tokens := normalizeTokens(cmd.Pattern)
			if len(tokens) == 0 {
				continue
			}
			allowed = append(allowed, compiledRule{
				info: CommandInfo{
					Pattern:     cmd.Pattern,
					Description: cmd.Description,
					Category:    category.Name,
					Risk:        risk,
				},
				tokens: tokens,
			})
		}
	}

	denied := make([]compiledRule, 0, len(pack.Blacklist))
	for _, pattern := range pack.Blacklist {
		tokens := normalizeTokens(pattern)
		if len(tokens) == 0 {
			continue
		}
		denied = append(denied, compiledRule{info: CommandInfo{Pattern: pattern}, tokens: tokens})
	}

	threshold := pack.ApprovalThreshold
	if !threshold.Valid() {
		threshold = models.RiskHigh
	}

	p.allowed = allowed
	p.denied = denied
	p.approvalThreshold = threshold
}

// Classify decides whether a command may run and at what risk. Malformed or
// unmatched input fails closed.
func (p *Policy) Classify(command string) Verdict {
	tokens := normalizeTokens(command)
	if len(tokens) == 0 {
		return Verdict{Allowed: false, Risk: models.RiskCritical, Message: "empty command"}
	}
	if strings.ContainsAny(command, shellMeta) {
		return Verdict{Allowed: false, Risk: models.RiskCritical, Message: "command contains shell metacharacters"}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, rule := range p.denied {
		if matchTokens(rule.tokens, tokens) {
			return Verdict{
				Allowed: false,
				Risk:    models.RiskCritical,
				Message: "command matches denied pattern " + rule.info.Pattern,
			}
		}
	}

	for _, rule := range p.allowed {
		if matchTokens(rule.tokens, tokens) {
			return Verdict{
				Allowed:          true,
				Risk:             rule.info.Risk,
				Message:          "allowed: " + rule.info.Category + " (" + string(rule.info.Risk) + " risk)",
				RequiresApproval: rule.info.Risk.AtLeast(p.approvalThreshold),
			}
		}
	}

	return Verdict{Allowed: false, Risk: models.RiskCritical, Message: "command not in whitelist"}
}

// Describe returns whitelist metadata for the command, if it matches a known
// pattern.
func (p *Policy) Describe(command string) (CommandInfo, bool) {
	tokens := normalizeTokens(command)
	if len(tokens) == 0 {
		return CommandInfo{}, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rule := range p.allowed {
		if matchTokens(rule.tokens, tokens) {
			return rule.info, true
		}
	}
	return CommandInfo{}, false
}

// ListAllowed returns the whitelist grouped by category, for dry-run and help
// surfaces.
func (p *Policy) ListAllowed() map[string][]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string][]string)
	for _, rule := range p.allowed {
		out[rule.info.Category] = append(out[rule.info.Category], rule.info.Pattern)
	}
	for _, patterns := range out {
		sort.Strings(patterns)
	}
	return out
}

// normalizeTokens lowercases and splits a command into fields, stripping
// surrounding quotes so quoting tricks cannot dodge pattern matching.
func normalizeTokens(command string) []string {
	fields := strings.Fields(command)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'`)
		if f == "" {
			continue
		}
		tokens = append(tokens, strings.ToLower(f))
	}
	return tokens
}

// matchTokens compares pattern tokens against command tokens. "*" matches any
// single token; a trailing "*" consumes one or more remaining tokens.
func matchTokens(pattern, tokens []string) bool {
	for i, pt := range pattern {
		if i >= len(tokens) {
			return false
		}
		if pt == "*" {
			if i == len(pattern)-1 {
				return true
			}
			continue
		}
		if pt != tokens[i] {
			return false
		}
	}
	return len(pattern) == len(tokens)
}

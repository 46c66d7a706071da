// Package guardrail evaluates safety checks that gate every patch
// before it can touch the target. Evaluation is pure: the same change
// always produces the same result, and nothing here mutates state.
package guardrail

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// Config holds the guardrail policy. Zero values fall back to
// DefaultConfig fields at New time.
type Config struct {
	// AllowedFiles are glob patterns a patched file must match.
	AllowedFiles []string
	// ForbiddenFiles are glob patterns that reject a file even when it
	// matches the allowlist.
	ForbiddenFiles []string
	// MaxLOC is the largest number of changed lines a patch may carry.
	MaxLOC int
	// SecretPatterns and DangerousPatterns are regexes matched against
	// lowercased added lines.
	SecretPatterns    []string
	DangerousPatterns []string
}

// DefaultConfig returns the standard policy for the catalog target.
func DefaultConfig() Config {
	return Config{
		AllowedFiles: []string{
			"services/catalog_sync.*",
			"mappings/policy_fields.*",
			"handlers/return_policy.*",
		},
		ForbiddenFiles: []string{
			"*.env",
			"config/*",
			"secrets/*",
			"infrastructure/*",
		},
		MaxLOC: 30,
		SecretPatterns: []string{
			`password\s*=\s*["'][^"']+["']`,
			`api_key\s*=\s*["'][^"']+["']`,
			`secret\s*=\s*["'][^"']+["']`,
			`token\s*=\s*["'][^"']+["']`,
			`["'][a-f0-9]{32,}["']`,
		},
		DangerousPatterns: []string{
			`os\.system\s*\(`,
			`subprocess\.`,
			`\beval\s*\(`,
			`\bexec\s*\(`,
			`__import__\s*\(`,
			`rm\s+-rf`,
			`drop\s+table`,
			`delete\s+from\s+\w+\s*;`,
		},
	}
}

// Engine is a compiled guardrail policy.
type Engine struct {
	logger    *slog.Logger
	allowed   []*regexp.Regexp
	forbidden []*regexp.Regexp
	maxLOC    int
	secrets   []*regexp.Regexp
	dangerous []*regexp.Regexp
}

// New compiles the policy. Pattern compilation errors are reported at
// startup rather than per evaluation.
func New(logger *slog.Logger, cfg Config) (*Engine, error) {
	def := DefaultConfig()
	if cfg.AllowedFiles == nil {
		cfg.AllowedFiles = def.AllowedFiles
	}
	if cfg.ForbiddenFiles == nil {
		cfg.ForbiddenFiles = def.ForbiddenFiles
	}
	if cfg.MaxLOC <= 0 {
		cfg.MaxLOC = def.MaxLOC
	}
	if cfg.SecretPatterns == nil {
		cfg.SecretPatterns = def.SecretPatterns
	}
	if cfg.DangerousPatterns == nil {
		cfg.DangerousPatterns = def.DangerousPatterns
	}

	e := &Engine{logger: logger, maxLOC: cfg.MaxLOC}
	var err error
	if e.allowed, err = compileGlobs(cfg.AllowedFiles); err != nil {
		return nil, fmt.Errorf("guardrail: allowed patterns: %w", err)
	}
	if e.forbidden, err = compileGlobs(cfg.ForbiddenFiles); err != nil {
		return nil, fmt.Errorf("guardrail: forbidden patterns: %w", err)
	}
	if e.secrets, err = compileAll(cfg.SecretPatterns); err != nil {
		return nil, fmt.Errorf("guardrail: secret patterns: %w", err)
	}
	if e.dangerous, err = compileAll(cfg.DangerousPatterns); err != nil {
		return nil, fmt.Errorf("guardrail: dangerous patterns: %w", err)
	}
	return e, nil
}

// compileGlobs turns shell-style globs into prefix-anchored regexes.
func compileGlobs(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(p), `\*`, ".*")
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Evaluate runs all checks against a proposed change. Every check runs
// even after one fails so the result reports the full picture.
func (e *Engine) Evaluate(change *model.CodeChange) model.GuardrailResult {
	added := addedLines(change.Diff)

	result := model.GuardrailResult{
		Allowlist:      e.fileAllowed(change.File),
		MaxLOC:         change.LOCChanged <= e.maxLOC,
		NoSecrets:      !matchesAny(e.secrets, added),
		NoDangerousOps: !matchesAny(e.dangerous, added),
	}

	if failed := result.FailedChecks(); len(failed) > 0 {
		e.logger.Warn("guardrail: patch rejected",
			"file", change.File, "loc_changed", change.LOCChanged, "failed", failed)
	}
	return result
}

// fileAllowed reports whether the file matches the allowlist and no
// forbidden pattern. Forbidden patterns win over allowed ones.
func (e *Engine) fileAllowed(file string) bool {
	for _, re := range e.forbidden {
		if re.MatchString(file) {
			return false
		}
	}
	for _, re := range e.allowed {
		if re.MatchString(file) {
			return true
		}
	}
	return false
}

// addedLines extracts the added content from a unified diff, skipping
// the "+++" header line.
func addedLines(diff []string) []string {
	var out []string
	for _, line := range diff {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			out = append(out, strings.ToLower(line[1:]))
		}
	}
	return out
}

func matchesAny(res []*regexp.Regexp, lines []string) bool {
	for _, line := range lines {
		for _, re := range res {
			if re.MatchString(line) {
				return true
			}
		}
	}
	return false
}

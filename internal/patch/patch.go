// Package patch generates code changes from diagnosis instructions. The
// actual code rewriting is a black box behind Provider; this package
// turns its output into a CodeChange with a unified diff and a line
// count that the guardrails can evaluate.
package patch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// ErrNoChange is returned when the provider's output is byte-identical
// to the original code.
var ErrNoChange = errors.New("patch: generated code is identical to original")

// Provider rewrites source according to natural-language instructions.
type Provider interface {
	Generate(ctx context.Context, originalCode, instructions string) (string, error)
}

// Builder turns provider output into an evaluable CodeChange.
type Builder struct {
	provider Provider
}

func NewBuilder(provider Provider) *Builder {
	return &Builder{provider: provider}
}

// Build asks the provider for updated code and wraps the result in a
// CodeChange. The diff is a standard unified diff; LOCChanged counts
// the larger side of the change, so a single modified line counts as
// one line, not two.
func (b *Builder) Build(ctx context.Context, file, originalCode, instructions string) (*model.CodeChange, error) {
	updated, err := b.provider.Generate(ctx, originalCode, instructions)
	if err != nil {
		return nil, fmt.Errorf("patch: generate: %w", err)
	}
	if updated == originalCode {
		return nil, ErrNoChange
	}

	diff, err := unifiedDiff(file, originalCode, updated)
	if err != nil {
		return nil, fmt.Errorf("patch: diff: %w", err)
	}

	return &model.CodeChange{
		File:         file,
		OriginalCode: originalCode,
		UpdatedCode:  updated,
		Diff:         diff,
		LOCChanged:   locChanged(diff),
	}, nil
}

func unifiedDiff(file, original, updated string) ([]string, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(updated),
		FromFile: "a/" + file,
		ToFile:   "b/" + file,
		Context:  3,
	})
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	return lines, nil
}

// locChanged counts changed lines as max(added, removed): a modified
// line appears as one removal plus one addition but is one changed
// line.
func locChanged(diff []string) int {
	var added, removed int
	for _, line := range diff {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	if added > removed {
		return added
	}
	return removed
}

package patch

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const seedRules = `# catalog sync field mapping
sync_interval: 300
policy_fields: price, inventory, category
retry_budget: 3
`

func TestSimulatedProviderAddsField(t *testing.T) {
	p := NewSimulatedProvider()
	updated, err := p.Generate(context.Background(), seedRules, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(updated, "policy_fields: price, inventory, category, return_policy") {
		t.Fatalf("field not appended:\n%s", updated)
	}
	// Other lines are untouched.
	if !strings.Contains(updated, "sync_interval: 300") || !strings.Contains(updated, "retry_budget: 3") {
		t.Fatal("unrelated lines modified")
	}
}

func TestSimulatedProviderIdempotent(t *testing.T) {
	p := NewSimulatedProvider()
	once, err := p.Generate(context.Background(), seedRules, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	twice, err := p.Generate(context.Background(), once, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if once != twice {
		t.Fatal("second pass modified already-patched content")
	}
}

func TestSimulatedProviderNoAnchor(t *testing.T) {
	p := NewSimulatedProvider()
	if _, err := p.Generate(context.Background(), "unrelated: content\n", ""); err == nil {
		t.Fatal("expected error when mapping line is absent")
	}
}

func TestBuildSingleLineChange(t *testing.T) {
	b := NewBuilder(NewSimulatedProvider())
	change, err := b.Build(context.Background(), "services/catalog_sync.rules", seedRules, "add return_policy")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if change.LOCChanged != 1 {
		t.Errorf("loc_changed = %d, want 1 for a single modified line", change.LOCChanged)
	}
	if change.File != "services/catalog_sync.rules" {
		t.Errorf("file = %q", change.File)
	}
	if change.OriginalCode != seedRules {
		t.Error("original code not preserved")
	}

	var sawRemoval, sawAddition bool
	for _, line := range change.Diff {
		if strings.HasPrefix(line, "-policy_fields: price, inventory, category") {
			sawRemoval = true
		}
		if strings.HasPrefix(line, "+policy_fields: price, inventory, category, return_policy") {
			sawAddition = true
		}
	}
	if !sawRemoval || !sawAddition {
		t.Errorf("diff missing expected lines:\n%s", strings.Join(change.Diff, "\n"))
	}
}

type fixedProvider struct {
	out string
	err error
}

func (f fixedProvider) Generate(context.Context, string, string) (string, error) {
	return f.out, f.err
}

func TestBuildNoChange(t *testing.T) {
	b := NewBuilder(fixedProvider{out: seedRules})
	if _, err := b.Build(context.Background(), "f", seedRules, ""); !errors.Is(err, ErrNoChange) {
		t.Fatalf("expected ErrNoChange, got %v", err)
	}
}

func TestBuildProviderError(t *testing.T) {
	b := NewBuilder(fixedProvider{err: errors.New("model down")})
	if _, err := b.Build(context.Background(), "f", seedRules, ""); err == nil {
		t.Fatal("expected provider error to surface")
	}
}

func TestLOCChangedCountsLargerSide(t *testing.T) {
	b := NewBuilder(fixedProvider{out: "a\nB\nC\nd\nnew\n"})
	change, err := b.Build(context.Background(), "f", "a\nb\nc\nd\n", "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// Two modified lines plus one added line: 3 additions, 2 removals.
	if change.LOCChanged != 3 {
		t.Errorf("loc_changed = %d, want 3", change.LOCChanged)
	}
}

package target

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

func newTarget(t *testing.T) (*Target, string) {
	t.Helper()
	root := t.TempDir()
	if err := Seed(root); err != nil {
		t.Fatal(err)
	}
	return New(root, slog.New(slog.NewTextHandler(io.Discard, nil))), root
}

func TestSeededRulesOmitReturnPolicy(t *testing.T) {
	tgt, _ := newTarget(t)
	fields, err := tgt.policyFields()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"price", "inventory", "category"}
	if len(fields) != len(want) {
		t.Fatalf("fields = %v", fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, fields[i], want[i])
		}
	}
}

func TestCheckReturnEligibilityFailsBeforePatch(t *testing.T) {
	tgt, _ := newTarget(t)

	data, failure, err := tgt.CheckReturnEligibility(context.Background(), "SKU-123")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if failure == nil {
		t.Fatal("expected a schema mismatch on the seeded rules")
	}
	if failure.Kind != "SchemaMismatch" || failure.Field != "return_policy" {
		t.Errorf("failure = %+v", failure)
	}
	if _, ok := data["return_policy"]; ok {
		t.Error("response should not carry return_policy before the patch")
	}
}

func TestCheckReturnEligibilityPassesAfterPatch(t *testing.T) {
	tgt, root := newTarget(t)

	// Patch the live rules file the way a healed trace would.
	path := filepath.Join(root, filepath.FromSlash(RulesFile))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	patched := strings.Replace(string(data),
		"policy_fields: price, inventory, category",
		"policy_fields: price, inventory, category, return_policy", 1)
	if err := os.WriteFile(path, []byte(patched), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, failure, err := tgt.CheckReturnEligibility(context.Background(), "SKU-123")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if failure != nil {
		t.Fatalf("unexpected failure after patch: %+v", failure)
	}
	if resp["return_policy"] != "FINAL_SALE_NO_RETURNS" {
		t.Errorf("return_policy = %v", resp["return_policy"])
	}
	if resp["eligible"] != false {
		t.Errorf("clearance item should not be eligible, got %v", resp["eligible"])
	}
}

func TestReplayDispatch(t *testing.T) {
	tgt, _ := newTarget(t)

	_, failure, err := tgt.Replay(context.Background(), model.FailureCapture{
		Endpoint: "CheckReturnEligibility",
		Input:    map[string]string{"sku": "SKU-1002"},
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if failure == nil {
		t.Fatal("seeded rules should still fail schema validation")
	}

	if _, _, err := tgt.Replay(context.Background(), model.FailureCapture{Endpoint: "Nope"}); err == nil {
		t.Fatal("expected error for unsupported endpoint")
	}
}

func TestUnknownSKU(t *testing.T) {
	tgt, _ := newTarget(t)
	if _, _, err := tgt.CheckReturnEligibility(context.Background(), "SKU-404"); err == nil {
		t.Fatal("expected error for unknown sku")
	}
}

package guardrail

import (
	"io"
	"log/slog"
	"testing"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func change(file string, loc int, diff ...string) *model.CodeChange {
	return &model.CodeChange{File: file, LOCChanged: loc, Diff: diff}
}

func TestAllowlist(t *testing.T) {
	e := newEngine(t)

	cases := []struct {
		file string
		want bool
	}{
		{"mappings/policy_fields.yaml", true},
		{"services/catalog_sync.rules", true},
		{"handlers/return_policy.go", true},
		{"services/payment_gateway.py", false},
		{"config/database.yaml", false},
		{"secrets/api_keys.json", false},
		{"production.env", false},
		{"infrastructure/deploy.tf", false},
	}
	for _, tc := range cases {
		r := e.Evaluate(change(tc.file, 1, "+harmless"))
		if r.Allowlist != tc.want {
			t.Errorf("allowlist(%s) = %v, want %v", tc.file, r.Allowlist, tc.want)
		}
	}
}

func TestAllowlistFailureOnly(t *testing.T) {
	e := newEngine(t)
	r := e.Evaluate(change("services/payment_gateway.py", 1, "+x = 1"))
	failed := r.FailedChecks()
	if len(failed) != 1 || failed[0] != model.CheckAllowlist {
		t.Fatalf("expected only allowlist to fail, got %v", failed)
	}
}

func TestMaxLOC(t *testing.T) {
	e := newEngine(t)
	if r := e.Evaluate(change("mappings/policy_fields.yaml", 30)); !r.MaxLOC {
		t.Error("30 lines should be within the limit")
	}
	if r := e.Evaluate(change("mappings/policy_fields.yaml", 31)); r.MaxLOC {
		t.Error("31 lines should exceed the limit")
	}
}

func TestSecretDetection(t *testing.T) {
	e := newEngine(t)

	r := e.Evaluate(change("mappings/policy_fields.yaml", 1,
		`+api_key = "sk-1234567890abcdef"`))
	if r.NoSecrets {
		t.Error("expected secret to be detected in added line")
	}

	// Secrets on removed or context lines do not block the patch.
	r = e.Evaluate(change("mappings/policy_fields.yaml", 1,
		`-password = "hunter2"`, ` token = "ctx"`, "+policy_fields: price"))
	if !r.NoSecrets {
		t.Error("removed and context lines should not trigger the secret check")
	}
}

func TestDangerousOps(t *testing.T) {
	e := newEngine(t)

	for _, line := range []string{
		"+os.system('reboot')",
		"+subprocess.run(cmd)",
		"+eval(payload)",
		"+rm -rf /data",
		"+DELETE FROM orders;",
	} {
		r := e.Evaluate(change("mappings/policy_fields.yaml", 1, line))
		if r.NoDangerousOps {
			t.Errorf("expected %q to be flagged", line)
		}
	}

	r := e.Evaluate(change("mappings/policy_fields.yaml", 1,
		"+policy_fields: price, inventory, category, return_policy"))
	if !r.NoDangerousOps {
		t.Error("benign change flagged as dangerous")
	}
}

func TestDiffHeaderIgnored(t *testing.T) {
	e := newEngine(t)
	r := e.Evaluate(change("mappings/policy_fields.yaml", 1,
		"--- a/mappings/policy_fields.yaml",
		"+++ b/mappings/policy_fields.yaml",
		"+policy_fields: price, inventory, category, return_policy"))
	if !r.Pass() {
		t.Fatalf("diff headers should not trip content checks: %v", r.FailedChecks())
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	e := newEngine(t)
	c := change("production.env", 40, "+api_key = \"deadbeef\"")
	first := e.Evaluate(c)
	second := e.Evaluate(c)
	if first != second {
		t.Fatalf("results differ: %+v vs %+v", first, second)
	}
}

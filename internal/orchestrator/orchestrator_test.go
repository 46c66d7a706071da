package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/apply"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/bus"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/diagnose"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/guardrail"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/incident"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/patch"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/target"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/verify"
)

type harness struct {
	orch    *Orchestrator
	manager *incident.Manager
	bus     *bus.Bus
	applier *apply.Applier
	root    string
	cancel  context.CancelFunc
}

type harnessOpts struct {
	autoHeal  bool
	diagnoser diagnose.Provider
	patcher   patch.Provider
	replayer  verify.Replayer
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	root := t.TempDir()
	if err := target.Seed(root); err != nil {
		t.Fatal(err)
	}
	tgt := target.New(root, logger)

	b := bus.New(logger)
	manager := incident.NewManager(logger)
	sub := b.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx, sub)

	applier, err := apply.New(root, logger)
	if err != nil {
		t.Fatal(err)
	}
	guard, err := guardrail.New(logger, guardrail.Config{})
	if err != nil {
		t.Fatal(err)
	}

	diagnoser := opts.diagnoser
	if diagnoser == nil {
		diagnoser = diagnose.NewResilient(nil, logger)
	}
	patcher := opts.patcher
	if patcher == nil {
		patcher = patch.NewSimulatedProvider()
	}
	var replayer verify.Replayer = tgt
	if opts.replayer != nil {
		replayer = opts.replayer
	}

	orch := New(Config{AutoHeal: opts.autoHeal, ApprovalTimeout: 2 * time.Second},
		logger, b, manager, tgt, diagnoser, patch.NewBuilder(patcher),
		guard, applier, apply.SelfReloader{}, verify.New(replayer, logger))

	t.Cleanup(func() {
		cancel()
		b.Close()
		applier.Close()
	})
	return &harness{orch: orch, manager: manager, bus: b, applier: applier, root: root, cancel: cancel}
}

func (h *harness) waitTerminal(t *testing.T, traceID string) model.Trace {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tr, ok := h.manager.Snapshot(traceID); ok && tr.Status.Terminal() {
			return tr
		}
		time.Sleep(10 * time.Millisecond)
	}
	tr, _ := h.manager.Snapshot(traceID)
	t.Fatalf("trace %s never reached a terminal state (status %s)", traceID, tr.Status)
	return model.Trace{}
}

func (h *harness) rulesContent(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.root, "services", "catalog_sync.rules"))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestHealsMissingReturnPolicy(t *testing.T) {
	h := newHarness(t, harnessOpts{autoHeal: true})

	traceID, err := h.orch.Trigger(context.Background(), model.TriggerRequest{
		Endpoint: "CheckReturnEligibility",
		Input:    map[string]string{"sku": "SKU-123"},
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	tr := h.waitTerminal(t, traceID)
	if tr.Status != model.StatusHealed {
		t.Fatalf("status = %s (error %q), want healed", tr.Status, tr.ErrorMessage)
	}
	if tr.Cause != "sync job omits return_policy field" || tr.Confidence != 0.92 {
		t.Errorf("diagnosis: cause=%q confidence=%v", tr.Cause, tr.Confidence)
	}
	if tr.Change == nil || tr.Change.LOCChanged != 1 {
		t.Errorf("change = %+v", tr.Change)
	}
	if tr.Change != nil && (tr.Change.Guardrails == nil || !tr.Change.Guardrails.Pass()) {
		t.Errorf("guardrails = %+v", tr.Change.Guardrails)
	}
	if tr.Verification == nil || tr.Verification.Metrics.FailRateChangePercent != -100 {
		t.Errorf("verification = %+v", tr.Verification)
	}
	if tr.Audit.ReloadPID != os.Getpid() {
		t.Errorf("reload pid = %d", tr.Audit.ReloadPID)
	}
	if !strings.Contains(h.rulesContent(t), "return_policy") {
		t.Error("patched rules file should carry return_policy")
	}

	// The heal is live: the same probe now passes.
	if _, err := h.orch.Trigger(context.Background(), model.TriggerRequest{}); err != ErrTargetHealthy {
		t.Errorf("expected healthy target after heal, got %v", err)
	}
}

type fixedDiagnoser struct{ d diagnose.Diagnosis }

func (f fixedDiagnoser) Diagnose(context.Context, model.FailureCapture) (diagnose.Diagnosis, error) {
	return f.d, nil
}

type fixedPatcher struct{ out func(string) string }

func (f fixedPatcher) Generate(_ context.Context, original, _ string) (string, error) {
	return f.out(original), nil
}

func TestRejectsNonAllowlistedFile(t *testing.T) {
	h := newHarness(t, harnessOpts{
		autoHeal: true,
		diagnoser: fixedDiagnoser{d: diagnose.Diagnosis{
			Cause: "gateway misconfigured", Playbook: "add_missing_field",
			Taxonomy: "SchemaMismatch", Confidence: 0.8,
			File: "services/payment_gateway.cfg", Instructions: "change it",
		}},
		patcher: fixedPatcher{out: func(s string) string { return s + "changed\n" }},
	})

	// The target root carries a file outside the allowlist.
	seed := "mode: live\n"
	if err := os.WriteFile(filepath.Join(h.root, "services", "payment_gateway.cfg"), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	traceID, err := h.orch.Trigger(context.Background(), model.TriggerRequest{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	tr := h.waitTerminal(t, traceID)
	if tr.Status != model.StatusRolledBack {
		t.Fatalf("status = %s, want rolled_back", tr.Status)
	}
	if tr.ErrorMessage != "allowlist" {
		t.Errorf("error_message = %q, want %q", tr.ErrorMessage, "allowlist")
	}

	// No write ever happened.
	data, err := os.ReadFile(filepath.Join(h.root, "services", "payment_gateway.cfg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != seed {
		t.Error("non-allowlisted file was modified")
	}
	if len(tr.Audit.FilesTouched) != 0 {
		t.Errorf("files_touched = %v", tr.Audit.FilesTouched)
	}
}

type brokenReplayer struct{}

func (brokenReplayer) Replay(context.Context, model.FailureCapture) (map[string]any, *model.FailureDetail, error) {
	return map[string]any{"sku": "SKU-123"}, &model.FailureDetail{
		Kind: "SchemaMismatch", Field: "return_policy",
		Message: "required field return_policy missing from response",
	}, nil
}

func TestVerifyFailureRollsBack(t *testing.T) {
	h := newHarness(t, harnessOpts{autoHeal: true, replayer: brokenReplayer{}})
	before := h.rulesContent(t)

	traceID, err := h.orch.Trigger(context.Background(), model.TriggerRequest{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	tr := h.waitTerminal(t, traceID)
	if tr.Status != model.StatusRolledBack {
		t.Fatalf("status = %s, want rolled_back", tr.Status)
	}
	if tr.ErrorMessage != verify.TestPolicyPresent {
		t.Errorf("error_message = %q, want failed test name", tr.ErrorMessage)
	}

	// The original file is restored byte for byte.
	if after := h.rulesContent(t); after != before {
		t.Errorf("rules not restored:\n%s", after)
	}

	// Re-probing reproduces the original failure signature.
	if _, err := h.orch.Trigger(context.Background(), model.TriggerRequest{}); err != nil {
		t.Errorf("expected the original failure to reproduce, got %v", err)
	}
}

func TestRollbackFailureSurfacesInReason(t *testing.T) {
	h := newHarness(t, harnessOpts{autoHeal: true})

	original, err := h.applier.ReadFile("services/catalog_sync.rules")
	if err != nil {
		t.Fatal(err)
	}
	change := &model.CodeChange{
		File:         "services/catalog_sync.rules",
		OriginalCode: original,
		UpdatedCode:  original + "extra: true\n",
	}
	if _, err := h.applier.Apply(context.Background(), "t-broken", change); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Losing the backup makes the restore impossible.
	if err := h.applier.Close(); err != nil {
		t.Fatal(err)
	}

	sub := h.bus.Subscribe(bus.WithTypes(model.EventRolledBack))
	defer sub.Close()

	h.orch.fail("t-broken", change.File, "policy_present")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("rolled back event: %v", err)
	}
	p, ok := ev.Payload.(model.RolledBackPayload)
	if !ok {
		t.Fatalf("payload type = %T", ev.Payload)
	}
	if p.Restored {
		t.Error("restored must be false when the restore failed")
	}
	if !strings.Contains(p.Reason, "policy_present") || !strings.Contains(p.Reason, "rollback failed") {
		t.Errorf("reason = %q, want the phase reason and the restore error", p.Reason)
	}
}

func TestApprovalGate(t *testing.T) {
	h := newHarness(t, harnessOpts{autoHeal: false})

	traceID, err := h.orch.Trigger(context.Background(), model.TriggerRequest{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// Healing must not proceed past diagnosis without approval.
	time.Sleep(150 * time.Millisecond)
	if tr, ok := h.manager.Snapshot(traceID); !ok || tr.Status != model.StatusRCAReady {
		t.Fatalf("expected trace to wait in rca_ready, got %+v", tr.Status)
	}

	if err := h.orch.Approve(traceID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	tr := h.waitTerminal(t, traceID)
	if tr.Status != model.StatusHealed {
		t.Fatalf("status = %s (error %q), want healed", tr.Status, tr.ErrorMessage)
	}

	// Approving again is a reported no-op.
	if err := h.orch.Approve(traceID); err == nil {
		t.Error("expected error approving a finished trace")
	}
}

func TestManualRollback(t *testing.T) {
	h := newHarness(t, harnessOpts{autoHeal: false})

	traceID, err := h.orch.Trigger(context.Background(), model.TriggerRequest{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if err := h.orch.RequestRollback(traceID, "operator cancelled"); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	tr := h.waitTerminal(t, traceID)
	if tr.Status != model.StatusRolledBack {
		t.Fatalf("status = %s, want rolled_back", tr.Status)
	}
	if tr.ErrorMessage != "operator cancelled" {
		t.Errorf("error_message = %q", tr.ErrorMessage)
	}

	// Rolling back a terminal trace is a reported no-op.
	h.orch.Drain()
	if err := h.orch.RequestRollback(traceID, ""); err == nil {
		t.Error("expected error rolling back a terminal trace")
	}
}

func TestConcurrentTracesAreIndependent(t *testing.T) {
	h := newHarness(t, harnessOpts{autoHeal: true})

	first, err := h.orch.Trigger(context.Background(), model.TriggerRequest{
		Input: map[string]string{"sku": "SKU-123"},
	})
	if err != nil {
		t.Fatalf("trigger first: %v", err)
	}
	// The second probe may already see a healed target; tolerate that.
	second, err := h.orch.Trigger(context.Background(), model.TriggerRequest{
		Input: map[string]string{"sku": "SKU-1003"},
	})
	if err != nil && err != ErrTargetHealthy {
		t.Fatalf("trigger second: %v", err)
	}

	tr := h.waitTerminal(t, first)
	if !tr.Status.Terminal() {
		t.Fatalf("first trace status = %s", tr.Status)
	}
	if second != "" {
		h.waitTerminal(t, second)
	}
}

package model

import (
	"testing"
	"time"
)

func TestTraceStatusTerminal(t *testing.T) {
	terminal := []TraceStatus{StatusHealed, StatusRolledBack}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []TraceStatus{StatusFailing, StatusRCAReady, StatusApplying, StatusReloaded, StatusVerifying}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestStepStatusAtLeast(t *testing.T) {
	if !StepSuccess.AtLeast(StepRunning) {
		t.Error("success should be at least running")
	}
	if !StepError.AtLeast(StepSuccess) {
		t.Error("terminal step statuses share a rank")
	}
	if StepPending.AtLeast(StepRunning) {
		t.Error("pending should not be at least running")
	}
	if !StepRunning.AtLeast(StepRunning) {
		t.Error("a status is at least itself")
	}
}

func TestGuardrailResultFailedChecks(t *testing.T) {
	all := GuardrailResult{Allowlist: true, MaxLOC: true, NoSecrets: true, NoDangerousOps: true}
	if !all.Pass() {
		t.Error("all checks passing should pass")
	}
	if got := all.FailedChecks(); len(got) != 0 {
		t.Errorf("expected no failed checks, got %v", got)
	}

	r := GuardrailResult{Allowlist: false, MaxLOC: true, NoSecrets: false, NoDangerousOps: true}
	if r.Pass() {
		t.Error("should not pass with failed checks")
	}
	got := r.FailedChecks()
	want := []string{CheckAllowlist, CheckNoSecrets}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("check %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestTraceClone(t *testing.T) {
	orig := &Trace{
		ID:        "t-1",
		Status:    StatusVerifying,
		StartTime: time.Now(),
		Steps: []TraceStep{
			{Name: "Failure Detected", Status: StepSuccess, Failure: &FailureDetail{Kind: "SchemaMismatch"}},
		},
		Capture: &FailureCapture{Endpoint: "/returns/eligibility"},
		Change:  &CodeChange{File: "mappings/policy_fields.yaml"},
		Audit:   AuditRecord{FilesTouched: []string{"mappings/policy_fields.yaml"}},
	}

	clone := orig.Clone()
	clone.Steps[0].Status = StepError
	clone.Steps[0].Failure.Kind = "Timeout"
	clone.Capture.Endpoint = "/other"
	clone.Change.File = "other.yaml"
	clone.Audit.FilesTouched[0] = "other.yaml"

	if orig.Steps[0].Status != StepSuccess {
		t.Error("clone mutated original step status")
	}
	if orig.Steps[0].Failure.Kind != "SchemaMismatch" {
		t.Error("clone shares step failure pointer")
	}
	if orig.Capture.Endpoint != "/returns/eligibility" {
		t.Error("clone shares capture pointer")
	}
	if orig.Change.File != "mappings/policy_fields.yaml" {
		t.Error("clone shares change pointer")
	}
	if orig.Audit.FilesTouched[0] != "mappings/policy_fields.yaml" {
		t.Error("clone shares files touched slice")
	}
}

func TestTraceStepLookup(t *testing.T) {
	tr := &Trace{Steps: []TraceStep{{Name: "Root Cause Analysis"}, {Name: "Verification"}}}
	if s := tr.Step("Verification"); s == nil || s.Name != "Verification" {
		t.Error("expected to find Verification step")
	}
	if s := tr.Step("missing"); s != nil {
		t.Error("expected nil for unknown step")
	}
}

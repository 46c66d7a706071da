// Package orchestrator drives a healing attempt end to end: probe,
// diagnose, generate, guardrail, apply, verify, finalize. Each trace
// runs in its own goroutine; every phase boundary is published to the
// bus so the state machine and observers see the same ordered story.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

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

// ErrTargetHealthy is returned by Trigger when the probe finds no fault
// to heal.
var ErrTargetHealthy = errors.New("orchestrator: probe found no failure")

// Config bounds each collaborator call. Zero values get defaults.
type Config struct {
	AutoHeal        bool
	DiagnoseTimeout time.Duration
	PatchTimeout    time.Duration
	ApplyTimeout    time.Duration
	VerifyTimeout   time.Duration
	ApprovalTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.DiagnoseTimeout <= 0 {
		c.DiagnoseTimeout = 30 * time.Second
	}
	if c.PatchTimeout <= 0 {
		c.PatchTimeout = 60 * time.Second
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 10 * time.Second
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 30 * time.Second
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 10 * time.Minute
	}
}

// Orchestrator coordinates one healing pipeline per trace.
type Orchestrator struct {
	cfg      Config
	logger   *slog.Logger
	bus      *bus.Bus
	manager  *incident.Manager
	tgt      *target.Target
	diagnose diagnose.Provider
	builder  *patch.Builder
	guard    *guardrail.Engine
	applier  *apply.Applier
	reloader apply.Reloader
	verifier *verify.Verifier

	mu        sync.Mutex
	active    map[string]context.CancelFunc
	approvals map[string]chan struct{}
	reasons   map[string]string // manual cancellation reasons
	started   map[string]time.Time
	wg        sync.WaitGroup
}

func New(cfg Config, logger *slog.Logger, b *bus.Bus, manager *incident.Manager,
	tgt *target.Target, diag diagnose.Provider, builder *patch.Builder,
	guard *guardrail.Engine, applier *apply.Applier, reloader apply.Reloader,
	verifier *verify.Verifier) *Orchestrator {

	cfg.withDefaults()
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		bus:       b,
		manager:   manager,
		tgt:       tgt,
		diagnose:  diag,
		builder:   builder,
		guard:     guard,
		applier:   applier,
		reloader:  reloader,
		verifier:  verifier,
		active:    make(map[string]context.CancelFunc),
		approvals: make(map[string]chan struct{}),
		reasons:   make(map[string]string),
		started:   make(map[string]time.Time),
	}
}

func (o *Orchestrator) publish(typ model.EventType, traceID, uiHint string, payload any) {
	_, err := o.bus.Publish(model.Event{
		Type:    typ,
		Key:     traceID,
		TraceID: traceID,
		UIHint:  uiHint,
		Payload: payload,
	})
	if err != nil {
		o.logger.Error("orchestrator: publish failed", "type", typ, "trace_id", traceID, "error", err)
	}
}

// Trigger probes the target, and if the probe reproduces a failure,
// allocates a trace, publishes FailureDetected and starts the healing
// pipeline. The trace id returns synchronously; healing proceeds in the
// background and is observed via the bus.
func (o *Orchestrator) Trigger(ctx context.Context, req model.TriggerRequest) (string, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = "CheckReturnEligibility"
	}
	input := req.Input
	if input == nil {
		input = map[string]string{"sku": "SKU-123"}
	}

	start := time.Now()
	observed, fault, err := o.tgt.Replay(ctx, model.FailureCapture{Endpoint: endpoint, Input: input})
	if err != nil {
		return "", fmt.Errorf("orchestrator: probe: %w", err)
	}
	if fault == nil {
		return "", ErrTargetHealthy
	}

	traceID := uuid.New().String()
	capture := model.FailureCapture{
		Endpoint:  endpoint,
		Input:     input,
		Observed:  observed,
		Failure:   *fault,
		LatencyMS: time.Since(start).Milliseconds(),
	}

	o.publish(model.EventFailureDetected, traceID, "failure_detected",
		model.FailureDetectedPayload{Capture: capture})

	healCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.active[traceID] = cancel
	o.started[traceID] = time.Now()
	if !o.cfg.AutoHeal {
		o.approvals[traceID] = make(chan struct{})
	}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.clear(traceID)
		o.heal(healCtx, traceID, capture)
	}()

	o.logger.Info("orchestrator: trace started",
		"trace_id", traceID, "endpoint", endpoint, "auto_heal", o.cfg.AutoHeal)
	return traceID, nil
}

func (o *Orchestrator) clear(traceID string) {
	o.mu.Lock()
	if cancel, ok := o.active[traceID]; ok {
		cancel()
		delete(o.active, traceID)
	}
	delete(o.approvals, traceID)
	delete(o.reasons, traceID)
	delete(o.started, traceID)
	o.mu.Unlock()
}

// heal walks the pipeline. Every exit path ends the trace in a
// terminal state with a published reason.
func (o *Orchestrator) heal(ctx context.Context, traceID string, capture model.FailureCapture) {
	// Diagnosis. The provider chain handles its own fallback; an error
	// here means even the pattern table had no answer.
	diagCtx, cancel := context.WithTimeout(ctx, o.cfg.DiagnoseTimeout)
	d, err := o.diagnose.Diagnose(diagCtx, capture)
	cancel()
	if err != nil {
		o.fail(traceID, "", phaseReason(ctx, o.reason(traceID), fmt.Sprintf("diagnosis failed: %v", err)))
		return
	}
	o.publish(model.EventDiagnosisReady, traceID, "rca_complete", model.DiagnosisReadyPayload{
		Cause:        d.Cause,
		Playbook:     d.Playbook,
		Taxonomy:     d.Taxonomy,
		Confidence:   d.Confidence,
		Origin:       d.Origin,
		File:         d.File,
		Instructions: d.Instructions,
	})

	if !o.cfg.AutoHeal {
		if !o.awaitApproval(ctx, traceID) {
			o.fail(traceID, "", phaseReason(ctx, o.reason(traceID), "approval timeout"))
			return
		}
	}

	// Patch generation.
	o.publish(model.EventPatchLog, traceID, "generating_patch",
		model.PatchLogPayload{Message: "requesting patch from provider"})
	original, err := o.applier.ReadFile(d.File)
	if err != nil {
		o.publish(model.EventPatchFailed, traceID, "patch_failed",
			model.PatchFailedPayload{Reason: err.Error()})
		o.fail(traceID, "", err.Error())
		return
	}
	patchCtx, cancel := context.WithTimeout(ctx, o.cfg.PatchTimeout)
	change, err := o.builder.Build(patchCtx, d.File, original, d.Instructions)
	cancel()
	if err != nil {
		reason := phaseReason(ctx, o.reason(traceID), fmt.Sprintf("patch generation failed: %v", err))
		o.publish(model.EventPatchFailed, traceID, "patch_failed",
			model.PatchFailedPayload{Reason: reason})
		o.fail(traceID, "", reason)
		return
	}
	o.publish(model.EventPatchGenerated, traceID, "patch_ready",
		model.PatchGeneratedPayload{Change: *change})

	// Guardrails gate the apply synchronously.
	result := o.guard.Evaluate(change)
	change.Guardrails = &result
	if !result.Pass() {
		failed := result.FailedChecks()
		o.publish(model.EventGuardrailRejected, traceID, "guardrails_failed",
			model.GuardrailRejectedPayload{Result: result, Failed: failed})
		o.fail(traceID, "", strings.Join(failed, ", "))
		return
	}
	o.publish(model.EventApplyRequested, traceID, "applying_patch", model.ApplyRequestedPayload{
		File: change.File, LOCChanged: change.LOCChanged, Guardrails: result,
	})

	// Apply and reload.
	applyCtx, cancel := context.WithTimeout(ctx, o.cfg.ApplyTimeout)
	bytesWritten, err := o.applier.Apply(applyCtx, traceID, change)
	cancel()
	if err != nil {
		o.publish(model.EventApplyFailed, traceID, "apply_failed",
			model.ApplyFailedPayload{File: change.File, Error: err.Error()})
		o.fail(traceID, change.File, phaseReason(ctx, o.reason(traceID), err.Error()))
		return
	}
	reloadCtx, cancel := context.WithTimeout(ctx, o.cfg.ApplyTimeout)
	pid, err := o.reloader.Reload(reloadCtx)
	cancel()
	if err != nil {
		o.publish(model.EventApplyFailed, traceID, "reload_failed",
			model.ApplyFailedPayload{File: change.File, Error: err.Error()})
		o.fail(traceID, change.File, phaseReason(ctx, o.reason(traceID), err.Error()))
		return
	}
	o.publish(model.EventApplySucceeded, traceID, "service_reloaded", model.ApplySucceededPayload{
		File: change.File, BytesWritten: bytesWritten, ReloadPID: pid,
	})

	// Verification.
	o.publish(model.EventVerifyRequested, traceID, "verifying",
		model.VerifyRequestedPayload{File: change.File})
	verifyCtx, cancel := context.WithTimeout(ctx, o.cfg.VerifyTimeout)
	vres, err := o.verifier.Verify(verifyCtx, capture, d.Taxonomy)
	cancel()
	if err != nil {
		o.fail(traceID, change.File, phaseReason(ctx, o.reason(traceID), fmt.Sprintf("verification error: %v", err)))
		return
	}
	if !vres.Passed {
		o.publish(model.EventVerifyFailed, traceID, "verify_failed",
			model.VerifyFailedPayload{Result: *vres, FailedTest: vres.FailedTest})
		o.fail(traceID, change.File, vres.FailedTest)
		return
	}

	o.publish(model.EventVerifyPassed, traceID, "verify_passed",
		model.VerifyPassedPayload{Result: *vres})
	o.applier.Commit(traceID)
	o.completed(traceID, model.StatusHealed, "patch verified, trace healed")
}

// fail rolls back any applied patch and ends the trace rolled_back with
// the given reason. Reasons are bare names where the failure has one
// (guardrail check, failed test) and error text otherwise.
func (o *Orchestrator) fail(traceID, file, reason string) {
	restored := false
	if o.applier.HasApplied(traceID) {
		// Rollback must run even when the trace context is cancelled.
		// A failed restore means the patched code is still live; the
		// audit trail has to say so, not just the server log.
		if err := o.applier.Rollback(context.Background(), traceID); err != nil {
			o.logger.Error("orchestrator: rollback failed", "trace_id", traceID, "error", err)
			reason = fmt.Sprintf("%s (rollback failed: %v)", reason, err)
		} else {
			restored = true
		}
	}
	if !restored {
		file = ""
	}
	o.publish(model.EventRolledBack, traceID, "rolled_back", model.RolledBackPayload{
		File: file, Restored: restored, Reason: reason,
	})
	o.completed(traceID, model.StatusRolledBack, reason)
}

// completed publishes the observer-facing summary after the terminal
// transition.
func (o *Orchestrator) completed(traceID string, status model.TraceStatus, message string) {
	var durationMS int64
	o.mu.Lock()
	if start, ok := o.started[traceID]; ok {
		durationMS = time.Since(start).Milliseconds()
	}
	o.mu.Unlock()
	o.publish(model.EventHealCompleted, traceID, "heal_completed", model.HealCompletedPayload{
		Status: status, Message: message, DurationMS: durationMS,
	})
}

// awaitApproval blocks until the trace is approved, cancelled, or the
// approval window expires. Returns true only on approval.
func (o *Orchestrator) awaitApproval(ctx context.Context, traceID string) bool {
	o.mu.Lock()
	ch := o.approvals[traceID]
	o.mu.Unlock()
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	case <-time.After(o.cfg.ApprovalTimeout):
		return false
	}
}

// reason returns the recorded manual cancellation reason, if any.
func (o *Orchestrator) reason(traceID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reasons[traceID]
}

// phaseReason prefers the manual cancellation reason when the trace
// context was cancelled, otherwise the phase's own error text.
func phaseReason(ctx context.Context, manual, fallback string) string {
	if ctx.Err() != nil && manual != "" {
		return manual
	}
	return fallback
}

// Approve releases a trace waiting for manual approval. Approving a
// trace that is not waiting is a no-op error, not a crash.
func (o *Orchestrator) Approve(traceID string) error {
	o.mu.Lock()
	ch, ok := o.approvals[traceID]
	if ok {
		delete(o.approvals, traceID)
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: trace %s is not awaiting approval", traceID)
	}
	o.publish(model.EventApprovalGranted, traceID, "approved",
		model.ApprovalGrantedPayload{Manual: true})
	close(ch)
	return nil
}

// RequestRollback cancels an in-flight trace. The pipeline unwinds at
// its next suspension point, restoring the original code if a patch
// was applied. Rolling back a terminal trace is a reported no-op.
func (o *Orchestrator) RequestRollback(traceID, reason string) error {
	if status, ok := o.manager.Status(traceID); ok && status.Terminal() {
		return fmt.Errorf("orchestrator: trace %s is already %s", traceID, status)
	}
	o.mu.Lock()
	cancel, ok := o.active[traceID]
	if ok {
		if reason == "" {
			reason = "manual rollback requested"
		}
		o.reasons[traceID] = reason
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: trace %s is not active", traceID)
	}
	o.publish(model.EventRollbackRequested, traceID, "rollback_requested",
		model.RollbackRequestedPayload{Reason: reason, Manual: true})
	cancel()
	return nil
}

// Drain waits for in-flight healing pipelines to finish.
func (o *Orchestrator) Drain() {
	o.wg.Wait()
}

// Package incident owns the per-trace state machine. It consumes bus
// events, holds exactly one mutable record per trace id, and exposes
// read-only snapshots to everything else. All transitions are
// idempotent under event redelivery: a duplicate event for a state the
// trace already passed is a no-op, never a duplicate step.
package incident

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// Step names. Name doubles as the idempotency key within a trace.
const (
	StepFailureDetected = "Failure Detected"
	StepRootCause       = "Root Cause Analysis"
	StepGeneratingPatch = "Generating Patch"
	StepGuardrails      = "Guardrail Checks"
	StepApplyingPatch   = "Applying Patch"
	StepVerification    = "Verification"
	StepHealingComplete = "Healing Complete"
)

var (
	// ErrUnknownTrace is returned for events referencing a trace id
	// that never saw a FailureDetected event.
	ErrUnknownTrace = errors.New("incident: unknown trace")
	// ErrTerminal is returned when an event arrives for a trace that
	// already reached healed or rolled_back. The event is discarded.
	ErrTerminal = errors.New("incident: trace is terminal")
)

// lowConfidence marks diagnoses worth flagging in logs. Confidence is
// advisory and never gates a transition.
const lowConfidence = 0.5

// Manager is the incident state machine over all live traces.
type Manager struct {
	logger *slog.Logger

	mu     sync.RWMutex // guards the map only, never held across an entry mutation
	traces map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	trace *model.Trace
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger, traces: make(map[string]*entry)}
}

func (m *Manager) entryFor(traceID string, create bool) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.traces[traceID]
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTrace, traceID)
		}
		e = &entry{trace: &model.Trace{ID: traceID, Status: model.StatusFailing}}
		m.traces[traceID] = e
	}
	return e, nil
}

// Apply feeds one event through the state machine. Events for
// different traces never contend on a shared lock; events for the same
// trace are serialized on the trace's own mutex.
func (m *Manager) Apply(ev model.Event) error {
	if ev.TraceID == "" {
		return nil
	}

	e, err := m.entryFor(ev.TraceID, ev.Type == model.EventFailureDetected)
	if err != nil {
		m.logger.Warn("incident: event for unknown trace",
			"type", ev.Type, "trace_id", ev.TraceID)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.trace

	if t.Status.Terminal() && ev.Type != model.EventHealCompleted {
		m.logger.Warn("incident: event for terminal trace discarded",
			"type", ev.Type, "trace_id", ev.TraceID, "status", t.Status)
		return ErrTerminal
	}

	switch ev.Type {
	case model.EventFailureDetected:
		m.onFailureDetected(t, ev)
	case model.EventDiagnosisReady:
		m.onDiagnosisReady(t, ev)
	case model.EventPatchLog:
		m.onPatchLog(t, ev)
	case model.EventPatchGenerated:
		m.onPatchGenerated(t, ev)
	case model.EventPatchFailed:
		m.onPatchFailed(t, ev)
	case model.EventGuardrailRejected:
		m.onGuardrailRejected(t, ev)
	case model.EventApplyRequested:
		m.onApplyRequested(t, ev)
	case model.EventApplySucceeded:
		m.onApplySucceeded(t, ev)
	case model.EventApplyFailed:
		m.onApplyFailed(t, ev)
	case model.EventVerifyRequested:
		m.onVerifyRequested(t, ev)
	case model.EventVerifyPassed:
		m.onVerifyPassed(t, ev)
	case model.EventVerifyFailed:
		m.onVerifyFailed(t, ev)
	case model.EventRolledBack:
		m.onRolledBack(t, ev)
	case model.EventApprovalGranted, model.EventRollbackRequested, model.EventHealCompleted:
		// Consumed by the orchestrator's control loop; the record
		// already reflects their effects by the time they land here.
	default:
		m.logger.Warn("incident: unhandled event type", "type", ev.Type)
	}
	return nil
}

func (m *Manager) onFailureDetected(t *model.Trace, ev model.Event) {
	if t.StartTime.IsZero() {
		t.StartTime = ev.OccurredAt
	}
	var failure *model.FailureDetail
	var latency int64
	if p, ok := ev.Payload.(model.FailureDetectedPayload); ok {
		if t.Capture == nil {
			c := p.Capture
			t.Capture = &c
		}
		f := p.Capture.Failure
		failure = &f
		latency = p.Capture.LatencyMS
	}
	upsertStep(t, ev, StepFailureDetected, model.StepSuccess,
		failureDetails(failure), failure, latency)
}

func (m *Manager) onDiagnosisReady(t *model.Trace, ev model.Event) {
	if p, ok := ev.Payload.(model.DiagnosisReadyPayload); ok && t.Cause == "" {
		t.Cause = p.Cause
		t.Playbook = p.Playbook
		t.Taxonomy = p.Taxonomy
		t.Confidence = p.Confidence
		if p.Confidence < lowConfidence {
			m.logger.Warn("incident: low-confidence diagnosis",
				"trace_id", t.ID, "confidence", p.Confidence, "playbook", p.Playbook)
		}
	}
	if t.Status == model.StatusFailing {
		t.Status = model.StatusRCAReady
	}
	upsertStep(t, ev, StepRootCause, model.StepSuccess, t.Cause, nil, 0)
}

func (m *Manager) onPatchLog(t *model.Trace, ev model.Event) {
	details := ""
	if p, ok := ev.Payload.(model.PatchLogPayload); ok {
		details = p.Message
	}
	upsertStep(t, ev, StepGeneratingPatch, model.StepRunning, details, nil, 0)
}

func (m *Manager) onPatchGenerated(t *model.Trace, ev model.Event) {
	if p, ok := ev.Payload.(model.PatchGeneratedPayload); ok && t.Change == nil {
		c := p.Change
		t.Change = &c
	}
	details := ""
	if t.Change != nil {
		details = fmt.Sprintf("%s (%d line(s))", t.Change.File, t.Change.LOCChanged)
	}
	upsertStep(t, ev, StepGeneratingPatch, model.StepSuccess, details, nil, 0)
}

func (m *Manager) onPatchFailed(t *model.Trace, ev model.Event) {
	details := ""
	if p, ok := ev.Payload.(model.PatchFailedPayload); ok {
		details = p.Reason
		if t.ErrorMessage == "" {
			t.ErrorMessage = p.Reason
		}
	}
	upsertStep(t, ev, StepGeneratingPatch, model.StepError, details, nil, 0)
}

func (m *Manager) onGuardrailRejected(t *model.Trace, ev model.Event) {
	details := ""
	if p, ok := ev.Payload.(model.GuardrailRejectedPayload); ok {
		details = strings.Join(p.Failed, ", ")
		if t.ErrorMessage == "" {
			t.ErrorMessage = details
		}
		if t.Change != nil && t.Change.Guardrails == nil {
			r := p.Result
			t.Change.Guardrails = &r
		}
	}
	upsertStep(t, ev, StepGuardrails, model.StepError, details, nil, 0)
}

func (m *Manager) onApplyRequested(t *model.Trace, ev model.Event) {
	if p, ok := ev.Payload.(model.ApplyRequestedPayload); ok {
		if t.Change != nil && t.Change.Guardrails == nil {
			r := p.Guardrails
			t.Change.Guardrails = &r
		}
	}
	if t.Status == model.StatusRCAReady {
		t.Status = model.StatusApplying
	}
	upsertStep(t, ev, StepGuardrails, model.StepSuccess, "all checks passed", nil, 0)
	upsertStep(t, ev, StepApplyingPatch, model.StepRunning, "", nil, 0)
}

func (m *Manager) onApplySucceeded(t *model.Trace, ev model.Event) {
	details := ""
	if p, ok := ev.Payload.(model.ApplySucceededPayload); ok {
		if !contains(t.Audit.FilesTouched, p.File) {
			t.Audit.FilesTouched = append(t.Audit.FilesTouched, p.File)
		}
		t.Audit.BytesWritten = p.BytesWritten
		t.Audit.ReloadPID = p.ReloadPID
		details = fmt.Sprintf("wrote %d bytes to %s, reload pid %d",
			p.BytesWritten, p.File, p.ReloadPID)
	}
	if t.Status == model.StatusApplying {
		t.Status = model.StatusReloaded
	}
	upsertStep(t, ev, StepApplyingPatch, model.StepSuccess, details, nil, 0)
}

func (m *Manager) onApplyFailed(t *model.Trace, ev model.Event) {
	details := ""
	if p, ok := ev.Payload.(model.ApplyFailedPayload); ok {
		details = p.Error
		if t.ErrorMessage == "" {
			t.ErrorMessage = p.Error
		}
	}
	upsertStep(t, ev, StepApplyingPatch, model.StepError, details, nil, 0)
}

func (m *Manager) onVerifyRequested(t *model.Trace, ev model.Event) {
	if t.Status == model.StatusReloaded {
		t.Status = model.StatusVerifying
	}
	upsertStep(t, ev, StepVerification, model.StepRunning, "", nil, 0)
}

func (m *Manager) onVerifyPassed(t *model.Trace, ev model.Event) {
	var latency int64
	if p, ok := ev.Payload.(model.VerifyPassedPayload); ok && t.Verification == nil {
		r := p.Result
		t.Verification = &r
		latency = r.ReplayMS
	}
	if t.Status != model.StatusVerifying {
		return
	}
	upsertStep(t, ev, StepVerification, model.StepSuccess, "all tests passed", nil, latency)
	m.finish(t, ev, model.StatusHealed, "patch verified, trace healed")
}

func (m *Manager) onVerifyFailed(t *model.Trace, ev model.Event) {
	details := ""
	var latency int64
	if p, ok := ev.Payload.(model.VerifyFailedPayload); ok {
		details = p.FailedTest
		latency = p.Result.ReplayMS
		if t.Verification == nil {
			r := p.Result
			t.Verification = &r
		}
		if t.ErrorMessage == "" {
			t.ErrorMessage = p.FailedTest
		}
	}
	upsertStep(t, ev, StepVerification, model.StepError, details, nil, latency)
}

func (m *Manager) onRolledBack(t *model.Trace, ev model.Event) {
	details := ""
	if p, ok := ev.Payload.(model.RolledBackPayload); ok {
		details = p.Reason
		if t.ErrorMessage == "" {
			t.ErrorMessage = p.Reason
		}
		if p.Restored && p.File != "" && !contains(t.Audit.FilesTouched, p.File) {
			t.Audit.FilesTouched = append(t.Audit.FilesTouched, p.File)
		}
	}
	m.finish(t, ev, model.StatusRolledBack, details)
}

// finish performs a terminal transition exactly once.
func (m *Manager) finish(t *model.Trace, ev model.Event, status model.TraceStatus, details string) {
	if t.Status.Terminal() {
		return
	}
	t.Status = status
	if !t.StartTime.IsZero() {
		t.Duration = ev.OccurredAt.Sub(t.StartTime)
	}
	stepStatus := model.StepSuccess
	if status == model.StatusRolledBack {
		stepStatus = model.StepError
	}
	upsertStep(t, ev, StepHealingComplete, stepStatus, details, nil, 0)

	m.logger.Info("incident: trace finished",
		"trace_id", t.ID, "status", status,
		"duration_ms", t.Duration.Milliseconds(), "error", t.ErrorMessage)
}

// upsertStep creates or updates the named step. Status only moves
// forward; an event carrying a status behind the recorded one leaves
// the step untouched.
func upsertStep(t *model.Trace, ev model.Event, name string, status model.StepStatus, details string, failure *model.FailureDetail, latencyMS int64) {
	if s := t.Step(name); s != nil {
		if s.Status.AtLeast(status) && s.Status != status {
			return
		}
		if s.Status == status && status != model.StepRunning {
			return // duplicate delivery of a terminal step event
		}
		s.Status = status
		s.Timestamp = ev.OccurredAt
		if details != "" {
			s.Details = details
		}
		if failure != nil {
			s.Failure = failure
		}
		if latencyMS > 0 {
			s.LatencyMS = latencyMS
		}
		return
	}
	t.Steps = append(t.Steps, model.TraceStep{
		Name:      name,
		Status:    status,
		Timestamp: ev.OccurredAt,
		Details:   details,
		Failure:   failure,
		LatencyMS: latencyMS,
	})
}

func failureDetails(f *model.FailureDetail) string {
	if f == nil {
		return ""
	}
	if f.Field != "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return f.Message
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy of the trace record.
func (m *Manager) Snapshot(traceID string) (model.Trace, bool) {
	m.mu.RLock()
	e, ok := m.traces[traceID]
	m.mu.RUnlock()
	if !ok {
		return model.Trace{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trace.Clone(), true
}

// Status returns the trace's current status.
func (m *Manager) Status(traceID string) (model.TraceStatus, bool) {
	t, ok := m.Snapshot(traceID)
	return t.Status, ok
}

// List returns snapshots of all traces, newest first.
func (m *Manager) List() []model.Trace {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.traces))
	for _, e := range m.traces {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]model.Trace, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.trace.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

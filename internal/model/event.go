package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of a healing workflow event.
type EventType string

const (
	// Detection and diagnosis events.
	EventFailureDetected EventType = "FailureDetected"
	EventDiagnosisReady  EventType = "DiagnosisReady"
	EventApprovalGranted EventType = "ApprovalGranted"

	// Patch generation events.
	EventPatchLog       EventType = "PatchLog"
	EventPatchGenerated EventType = "PatchGenerated"
	EventPatchFailed    EventType = "PatchFailed"

	// Guardrail and apply events.
	EventGuardrailRejected EventType = "GuardrailRejected"
	EventApplyRequested    EventType = "ApplyRequested"
	EventApplySucceeded    EventType = "ApplySucceeded"
	EventApplyFailed       EventType = "ApplyFailed"

	// Verification events.
	EventVerifyRequested EventType = "VerifyRequested"
	EventVerifyPassed    EventType = "VerifyPassed"
	EventVerifyFailed    EventType = "VerifyFailed"

	// Rollback and completion events.
	EventRollbackRequested EventType = "RollbackRequested"
	EventRolledBack        EventType = "RolledBack"
	EventHealCompleted     EventType = "HealCompleted"
)

// Event is the unit carried on the bus. Source of truth for the audit
// trail. Immutable once published; the bus stamps ID, SequenceNum and
// OccurredAt at publish time. An empty TraceID means the event is not
// trace-scoped (e.g. connection lifecycle).
type Event struct {
	ID          uuid.UUID `json:"id"`
	Type        EventType `json:"type"`
	Key         string    `json:"key"`
	TraceID     string    `json:"trace_id,omitempty"`
	SequenceNum int64     `json:"sequence_num"`
	OccurredAt  time.Time `json:"occurred_at"`
	UIHint      string    `json:"ui_hint,omitempty"`
	Payload     any       `json:"payload,omitempty"`
}

// FailureDetectedPayload is the payload for FailureDetected events.
type FailureDetectedPayload struct {
	Capture FailureCapture `json:"capture"`
}

// DiagnosisReadyPayload is the payload for DiagnosisReady events.
type DiagnosisReadyPayload struct {
	Cause        string  `json:"cause"`
	Playbook     string  `json:"playbook"`
	Taxonomy     string  `json:"taxonomy"`
	Confidence   float64 `json:"confidence"`
	Origin       string  `json:"origin"` // "model" or "fallback"
	File         string  `json:"file"`
	Instructions string  `json:"instructions"`
}

// ApprovalGrantedPayload is the payload for ApprovalGranted events.
type ApprovalGrantedPayload struct {
	Manual bool `json:"manual"`
}

// PatchLogPayload is the payload for PatchLog progress events.
type PatchLogPayload struct {
	Message string `json:"message"`
}

// PatchGeneratedPayload is the payload for PatchGenerated events.
type PatchGeneratedPayload struct {
	Change CodeChange `json:"change"`
}

// PatchFailedPayload is the payload for PatchFailed events.
type PatchFailedPayload struct {
	Reason string `json:"reason"`
}

// GuardrailRejectedPayload is the payload for GuardrailRejected events.
type GuardrailRejectedPayload struct {
	Result GuardrailResult `json:"result"`
	Failed []string        `json:"failed"`
}

// ApplyRequestedPayload is the payload for ApplyRequested events.
// Published only after all guardrail checks passed.
type ApplyRequestedPayload struct {
	File       string          `json:"file"`
	LOCChanged int             `json:"loc_changed"`
	Guardrails GuardrailResult `json:"guardrails"`
}

// ApplySucceededPayload is the payload for ApplySucceeded events.
// Covers both the file write and the subsequent reload.
type ApplySucceededPayload struct {
	File         string `json:"file"`
	BytesWritten int    `json:"bytes_written"`
	ReloadPID    int    `json:"reload_pid"`
}

// ApplyFailedPayload is the payload for ApplyFailed events.
type ApplyFailedPayload struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// VerifyRequestedPayload is the payload for VerifyRequested events.
type VerifyRequestedPayload struct {
	File string `json:"file"`
}

// VerifyPassedPayload is the payload for VerifyPassed events.
type VerifyPassedPayload struct {
	Result VerificationResult `json:"result"`
}

// VerifyFailedPayload is the payload for VerifyFailed events.
type VerifyFailedPayload struct {
	Result     VerificationResult `json:"result"`
	FailedTest string             `json:"failed_test"`
}

// RollbackRequestedPayload is the payload for RollbackRequested events
// (manual cancellation via the control API).
type RollbackRequestedPayload struct {
	Reason string `json:"reason"`
	Manual bool   `json:"manual"`
}

// RolledBackPayload is the payload for RolledBack events. Restored is
// false when the trace never reached the apply phase, so there was no
// file write to revert.
type RolledBackPayload struct {
	File     string `json:"file,omitempty"`
	Restored bool   `json:"restored"`
	Reason   string `json:"reason"`
}

// HealCompletedPayload is the payload for HealCompleted events, the
// observer-facing summary published after a trace reaches a terminal state.
type HealCompletedPayload struct {
	Status     TraceStatus `json:"status"`
	Message    string      `json:"message"`
	DurationMS int64       `json:"duration_ms"`
}

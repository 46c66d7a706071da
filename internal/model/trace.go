package model

import "time"

// TraceStatus is the lifecycle state of a healing attempt.
type TraceStatus string

const (
	StatusFailing    TraceStatus = "failing"
	StatusRCAReady   TraceStatus = "rca_ready"
	StatusApplying   TraceStatus = "applying"
	StatusReloaded   TraceStatus = "reloaded"
	StatusVerifying  TraceStatus = "verifying"
	StatusHealed     TraceStatus = "healed"
	StatusRolledBack TraceStatus = "rolled_back"
)

// Terminal reports whether the status admits no further transitions.
func (s TraceStatus) Terminal() bool {
	return s == StatusHealed || s == StatusRolledBack
}

// StepStatus is the state of a single trace step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
)

// rank orders step statuses along pending → running → {success, error}.
// Terminal step statuses share a rank; a step never regresses.
func (s StepStatus) rank() int {
	switch s {
	case StepPending:
		return 0
	case StepRunning:
		return 1
	case StepSuccess, StepError:
		return 2
	default:
		return -1
	}
}

// AtLeast reports whether s is at or past other in the step lifecycle.
func (s StepStatus) AtLeast(other StepStatus) bool {
	return s.rank() >= other.rank()
}

// FailureDetail is a structured description of a detected fault.
type FailureDetail struct {
	Kind     string `json:"kind"`
	Field    string `json:"field,omitempty"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Message  string `json:"message"`
}

// FailureCapture is the triggering context recorded when a failure is
// detected. It carries everything the verifier needs to replay the
// original request after a patch lands.
type FailureCapture struct {
	Endpoint  string            `json:"endpoint"`
	Input     map[string]string `json:"input"`
	Observed  map[string]any    `json:"observed,omitempty"` // pre-patch response snapshot
	Failure   FailureDetail     `json:"failure"`
	LatencyMS int64             `json:"latency_ms"`
}

// TraceStep is one phase's visible progress record. Name is the
// idempotency key: a repeated event for the same named step updates the
// existing entry in place rather than appending a duplicate.
type TraceStep struct {
	Name      string         `json:"name"`
	Status    StepStatus     `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	LatencyMS int64          `json:"latency_ms,omitempty"`
	Details   string         `json:"details,omitempty"`
	Failure   *FailureDetail `json:"failure,omitempty"`
}

// AuditRecord is incident metadata accumulated as phases complete.
type AuditRecord struct {
	FilesTouched []string `json:"files_touched,omitempty"`
	BytesWritten int      `json:"bytes_written,omitempty"`
	ReloadPID    int      `json:"reload_pid,omitempty"`
	CommitRef    string   `json:"commit_ref,omitempty"`
}

// Trace is one end-to-end healing attempt. Created on the first
// FailureDetected event for a trace id, mutated exclusively by the
// incident state machine, never deleted.
type Trace struct {
	ID        string        `json:"trace_id"`
	Status    TraceStatus   `json:"status"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration,omitempty"` // set only at terminal state

	Steps []TraceStep `json:"steps"`

	// Diagnosis fields, set once by the diagnosis result. Idempotent
	// re-assignment with identical values is tolerated.
	Cause      string  `json:"cause,omitempty"`
	Playbook   string  `json:"playbook,omitempty"`
	Taxonomy   string  `json:"taxonomy,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	Capture      *FailureCapture     `json:"capture,omitempty"`
	Change       *CodeChange         `json:"code_change,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`
	Audit        AuditRecord         `json:"audit"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Clone returns a deep copy suitable for handing to observers without
// sharing the state machine's mutable record.
func (t *Trace) Clone() Trace {
	out := *t
	out.Steps = make([]TraceStep, len(t.Steps))
	copy(out.Steps, t.Steps)
	for i := range out.Steps {
		if f := out.Steps[i].Failure; f != nil {
			fc := *f
			out.Steps[i].Failure = &fc
		}
	}
	if t.Capture != nil {
		c := *t.Capture
		out.Capture = &c
	}
	if t.Change != nil {
		c := *t.Change
		out.Change = &c
	}
	if t.Verification != nil {
		v := *t.Verification
		out.Verification = &v
	}
	out.Audit.FilesTouched = append([]string(nil), t.Audit.FilesTouched...)
	return out
}

// Step returns a pointer to the step with the given name, or nil.
func (t *Trace) Step(name string) *TraceStep {
	for i := range t.Steps {
		if t.Steps[i].Name == name {
			return &t.Steps[i]
		}
	}
	return nil
}

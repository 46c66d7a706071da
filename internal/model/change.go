package model

// Guardrail check names, used in audit trails and error messages.
const (
	CheckAllowlist      = "allowlist"
	CheckMaxLOC         = "max_loc"
	CheckNoSecrets      = "no_secrets"
	CheckNoDangerousOps = "no_dangerous_ops"
)

// GuardrailResult holds the four independent safety checks evaluated
// against a proposed code change. Each check is immutable once computed;
// the aggregate gate is the logical AND of all four.
type GuardrailResult struct {
	Allowlist      bool `json:"allowlist"`
	MaxLOC         bool `json:"max_loc"`
	NoSecrets      bool `json:"no_secrets"`
	NoDangerousOps bool `json:"no_dangerous_ops"`
}

// Pass reports whether every check passed.
func (g GuardrailResult) Pass() bool {
	return g.Allowlist && g.MaxLOC && g.NoSecrets && g.NoDangerousOps
}

// FailedChecks returns the names of failed checks in a fixed order.
func (g GuardrailResult) FailedChecks() []string {
	var failed []string
	if !g.Allowlist {
		failed = append(failed, CheckAllowlist)
	}
	if !g.MaxLOC {
		failed = append(failed, CheckMaxLOC)
	}
	if !g.NoSecrets {
		failed = append(failed, CheckNoSecrets)
	}
	if !g.NoDangerousOps {
		failed = append(failed, CheckNoDangerousOps)
	}
	return failed
}

// CodeChange is a single proposed mutation to the target's source.
// A CodeChange is never applied unless all four guardrail checks pass.
type CodeChange struct {
	File         string           `json:"file"`
	OriginalCode string           `json:"original_code"`
	UpdatedCode  string           `json:"updated_code"`
	Diff         []string         `json:"diff"`
	LOCChanged   int              `json:"loc_changed"`
	Guardrails   *GuardrailResult `json:"guardrail_result,omitempty"`
}

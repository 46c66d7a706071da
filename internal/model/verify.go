package model

// TestResult is the outcome of one named verification assertion.
type TestResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// MetricsDeltas holds relative changes measured against the short
// pre-patch baseline window.
type MetricsDeltas struct {
	LatencyChangePercent  float64 `json:"latency_change_percent"`
	FailRateChangePercent float64 `json:"fail_rate_change_percent"`
}

// VerificationResult is the outcome of replaying the captured failing
// request against the patched target. Only produced after a successful
// apply and reload.
type VerificationResult struct {
	Before     map[string]any `json:"before"`
	After      map[string]any `json:"after"`
	Tests      []TestResult   `json:"tests"`
	Metrics    MetricsDeltas  `json:"metrics_deltas"`
	ReplayMS   int64          `json:"replay_ms"`
	Passed     bool           `json:"passed"`
	FailedTest string         `json:"failed_test,omitempty"`
}

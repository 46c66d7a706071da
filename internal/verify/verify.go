// Package verify replays a captured failing request against the patched
// target and decides whether the heal took. Verification failure is the
// trigger for rollback, so the pass policy is strict: every fixed test
// must pass and the original fault signature must not reoccur.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// Replayer re-issues a captured request against the live target.
type Replayer interface {
	Replay(ctx context.Context, capture model.FailureCapture) (map[string]any, *model.FailureDetail, error)
}

// Fixed test names, keyed by failure taxonomy in testsFor.
const (
	TestPolicyPresent    = "policy_present"
	TestSchemaValid      = "schema_valid"
	TestReplayInBudget   = "replay_within_budget"
	TestNoFaultSignature = "no_fault_signature"
)

// replayBudget bounds the replay latency test for timeout-class failures.
const replayBudget = 5 * time.Second

// Verifier runs the post-patch checks.
type Verifier struct {
	replayer Replayer
	logger   *slog.Logger
}

func New(replayer Replayer, logger *slog.Logger) *Verifier {
	return &Verifier{replayer: replayer, logger: logger}
}

// Verify replays the originally captured request and runs the fixed
// assertions for the failure's taxonomy. A transport-level replay error
// is returned as an error; a failing assertion is reported in the
// result, not as an error.
func (v *Verifier) Verify(ctx context.Context, capture model.FailureCapture, taxonomy string) (*model.VerificationResult, error) {
	start := time.Now()
	after, fault, err := v.replayer.Replay(ctx, capture)
	if err != nil {
		return nil, fmt.Errorf("verify: replay: %w", err)
	}
	replayMS := time.Since(start).Milliseconds()

	result := &model.VerificationResult{
		Before:   capture.Observed,
		After:    after,
		ReplayMS: replayMS,
	}

	for _, name := range testsFor(taxonomy) {
		tr := v.runTest(name, capture, after, fault, replayMS)
		result.Tests = append(result.Tests, tr)
		if !tr.Passed && result.FailedTest == "" {
			result.FailedTest = tr.Name
		}
	}

	result.Passed = result.FailedTest == "" && fault == nil
	if result.Passed {
		result.Metrics.FailRateChangePercent = -100
	}
	if capture.LatencyMS > 0 {
		result.Metrics.LatencyChangePercent =
			float64(replayMS-capture.LatencyMS) / float64(capture.LatencyMS) * 100
	}

	v.logger.Info("verify: replay complete",
		"endpoint", capture.Endpoint, "passed", result.Passed,
		"failed_test", result.FailedTest, "replay_ms", replayMS)
	return result, nil
}

// testsFor picks the fixed assertion set for a taxonomy.
func testsFor(taxonomy string) []string {
	switch taxonomy {
	case "TimeoutError":
		return []string{TestReplayInBudget, TestNoFaultSignature}
	default:
		// Schema-class failures, including OutOfDateCatalogPolicy.
		return []string{TestPolicyPresent, TestSchemaValid}
	}
}

func (v *Verifier) runTest(name string, capture model.FailureCapture, after map[string]any, fault *model.FailureDetail, replayMS int64) model.TestResult {
	switch name {
	case TestPolicyPresent:
		field := capture.Failure.Field
		if field == "" {
			field = "return_policy"
		}
		if _, ok := after[field]; !ok {
			return model.TestResult{Name: name, Message: fmt.Sprintf("field %q still missing from response", field)}
		}
		return model.TestResult{Name: name, Passed: true}

	case TestSchemaValid, TestNoFaultSignature:
		if fault != nil {
			return model.TestResult{Name: name, Message: fault.Message}
		}
		return model.TestResult{Name: name, Passed: true}

	case TestReplayInBudget:
		if replayMS > replayBudget.Milliseconds() {
			return model.TestResult{Name: name, Message: fmt.Sprintf("replay took %dms", replayMS)}
		}
		return model.TestResult{Name: name, Passed: true}
	}
	return model.TestResult{Name: name, Message: "unknown test"}
}

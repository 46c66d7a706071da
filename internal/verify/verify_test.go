package verify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

type stubReplayer struct {
	after map[string]any
	fault *model.FailureDetail
	err   error
}

func (s stubReplayer) Replay(context.Context, model.FailureCapture) (map[string]any, *model.FailureDetail, error) {
	return s.after, s.fault, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func capture() model.FailureCapture {
	return model.FailureCapture{
		Endpoint:  "CheckReturnEligibility",
		Input:     map[string]string{"sku": "SKU-123"},
		Observed:  map[string]any{"sku": "SKU-123", "price": 18.0},
		Failure:   model.FailureDetail{Kind: "SchemaMismatch", Field: "return_policy"},
		LatencyMS: 120,
	}
}

func TestVerifyPass(t *testing.T) {
	v := New(stubReplayer{after: map[string]any{
		"sku": "SKU-123", "return_policy": "FINAL_SALE_NO_RETURNS",
	}}, testLogger())

	result, err := v.Verify(context.Background(), capture(), "OutOfDateCatalogPolicy")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Passed {
		t.Fatalf("expected pass, failed test %q", result.FailedTest)
	}
	if len(result.Tests) != 2 {
		t.Fatalf("expected 2 fixed tests, got %d", len(result.Tests))
	}
	if result.Metrics.FailRateChangePercent != -100 {
		t.Errorf("fail_rate_change_percent = %v, want -100", result.Metrics.FailRateChangePercent)
	}
	if result.Before == nil || result.After == nil {
		t.Error("before/after snapshots missing")
	}
}

func TestVerifyFieldStillMissing(t *testing.T) {
	v := New(stubReplayer{
		after: map[string]any{"sku": "SKU-123"},
		fault: &model.FailureDetail{Kind: "SchemaMismatch", Field: "return_policy",
			Message: "required field return_policy missing from response"},
	}, testLogger())

	result, err := v.Verify(context.Background(), capture(), "OutOfDateCatalogPolicy")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Passed {
		t.Fatal("expected verification failure")
	}
	if result.FailedTest != TestPolicyPresent {
		t.Errorf("failed_test = %q, want %q", result.FailedTest, TestPolicyPresent)
	}
	// Both tests still ran and were recorded.
	if len(result.Tests) != 2 {
		t.Fatalf("expected 2 tests, got %d", len(result.Tests))
	}
}

func TestVerifyFaultSignatureBlocksPass(t *testing.T) {
	// Field is present but the fault signature reoccurred.
	v := New(stubReplayer{
		after: map[string]any{"return_policy": "30_DAY_RETURN"},
		fault: &model.FailureDetail{Kind: "SchemaMismatch", Message: "validation failed"},
	}, testLogger())

	result, err := v.Verify(context.Background(), capture(), "OutOfDateCatalogPolicy")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Passed {
		t.Fatal("fault signature reoccurring must fail verification")
	}
	if result.FailedTest != TestSchemaValid {
		t.Errorf("failed_test = %q", result.FailedTest)
	}
	if result.Metrics.FailRateChangePercent != 0 {
		t.Errorf("fail rate delta should stay 0 on failure, got %v", result.Metrics.FailRateChangePercent)
	}
}

func TestVerifyTimeoutTaxonomy(t *testing.T) {
	v := New(stubReplayer{after: map[string]any{"ok": true}}, testLogger())
	result, err := v.Verify(context.Background(), capture(), "TimeoutError")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(result.Tests) != 2 || result.Tests[0].Name != TestReplayInBudget {
		t.Fatalf("unexpected test set: %+v", result.Tests)
	}
	if !result.Passed {
		t.Fatalf("expected pass, failed %q", result.FailedTest)
	}
}

func TestVerifyReplayError(t *testing.T) {
	v := New(stubReplayer{err: errors.New("connection refused")}, testLogger())
	if _, err := v.Verify(context.Background(), capture(), "OutOfDateCatalogPolicy"); err == nil {
		t.Fatal("expected transport error to surface")
	}
}

package auth

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	encoded, err := HashAPIKey("sk-test-key")
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}
	if !strings.Contains(encoded, "$") {
		t.Fatalf("expected salt$hash format, got %q", encoded)
	}

	ok, err := VerifyAPIKey("sk-test-key", encoded)
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if !ok {
		t.Fatal("expected correct key to verify")
	}

	ok, err = VerifyAPIKey("sk-wrong-key", encoded)
	if err != nil {
		t.Fatalf("VerifyAPIKey wrong key: %v", err)
	}
	if ok {
		t.Fatal("expected wrong key to fail verification")
	}
}

func TestVerifyAPIKeyRejectsMalformedHash(t *testing.T) {
	if _, err := VerifyAPIKey("key", "not-a-valid-hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
	if _, err := VerifyAPIKey("key", "!!!$!!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestIssueAndValidateToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewJWTManager(logger, time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	token, exp, err := mgr.IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if time.Until(exp) < 55*time.Minute {
		t.Fatalf("expiry too soon: %v", exp)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "operator" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: subject=%q role=%q", claims.Subject, claims.Role)
	}
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuing, err := NewJWTManager(logger, time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	validating, err := NewJWTManager(logger, time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	token, _, err := issuing.IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := validating.ValidateToken(token); err == nil {
		t.Fatal("expected token signed with a different key to be rejected")
	}

	if _, err := validating.ValidateToken("garbage"); err == nil {
		t.Fatal("expected garbage token to be rejected")
	}
}

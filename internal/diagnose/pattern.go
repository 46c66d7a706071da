package diagnose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// ErrNoMatch is returned when no playbook covers the failure.
var ErrNoMatch = errors.New("diagnose: no playbook matches failure")

// Failure taxonomies recognized by the playbook table.
const (
	TaxonomyCatalogPolicy  = "OutOfDateCatalogPolicy"
	TaxonomySchemaMismatch = "SchemaMismatch"
	TaxonomyTimeout        = "TimeoutError"
)

// Playbook names.
const (
	PlaybookAddMissingField = "add_missing_field"
	PlaybookAddDefaultValue = "add_default_value"
	PlaybookIncreaseTimeout = "increase_timeout"
)

// PatternProvider matches failures against a small table of known
// signatures. It needs no network and always answers deterministically.
type PatternProvider struct{}

func NewPatternProvider() *PatternProvider {
	return &PatternProvider{}
}

// Diagnose matches the capture against known patterns. The
// return_policy signature is the fully understood case and carries the
// highest confidence; the generic entries are best guesses.
func (p *PatternProvider) Diagnose(_ context.Context, capture model.FailureCapture) (Diagnosis, error) {
	f := capture.Failure

	switch {
	case f.Kind == TaxonomySchemaMismatch && f.Field == "return_policy":
		return Diagnosis{
			Cause:      "sync job omits return_policy field",
			Playbook:   PlaybookAddMissingField,
			Taxonomy:   TaxonomyCatalogPolicy,
			Confidence: 0.92,
			File:       "services/catalog_sync.rules",
			Instructions: "Add return_policy to the policy_fields mapping so the " +
				"sync job carries the field through to the local catalog.",
		}, nil

	case f.Kind == TaxonomySchemaMismatch:
		field := f.Field
		if field == "" {
			field = "unknown"
		}
		return Diagnosis{
			Cause:      fmt.Sprintf("response validation failed: required field %q missing or invalid", field),
			Playbook:   PlaybookAddDefaultValue,
			Taxonomy:   TaxonomySchemaMismatch,
			Confidence: 0.7,
			File:       "services/catalog_sync.rules",
			Instructions: fmt.Sprintf("Add a default value for the %q field in the sync "+
				"field mapping.", field),
		}, nil

	case strings.Contains(strings.ToLower(f.Message), "timeout"):
		return Diagnosis{
			Cause:        fmt.Sprintf("call to %s exceeded the timeout threshold", capture.Endpoint),
			Playbook:     PlaybookIncreaseTimeout,
			Taxonomy:     TaxonomyTimeout,
			Confidence:   0.6,
			File:         "services/catalog_sync.rules",
			Instructions: "Raise the sync timeout setting and keep the retry budget unchanged.",
		}, nil
	}

	return Diagnosis{}, fmt.Errorf("%w: kind=%s field=%s", ErrNoMatch, f.Kind, f.Field)
}

// Package target embeds the system under repair: a small e-commerce
// catalog service whose sync rules live in plain files under a target
// root. The rules files are what patches modify; the service re-reads
// them on every request, so a file write takes effect immediately.
package target

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// RulesFile is the sync configuration file patches are expected to touch.
const RulesFile = "services/catalog_sync.rules"

// seedRules is the intentionally broken initial mapping: the catalog
// carries a return_policy field but the sync rules omit it.
const seedRules = `# catalog sync field mapping
sync_interval: 300
policy_fields: price, inventory, category
retry_budget: 3
`

// product mirrors one row of the upstream catalog.
type product struct {
	SKU          string
	Name         string
	Category     string
	Price        float64
	Inventory    int
	IsClearance  bool
	ReturnPolicy string
}

// catalog is the static upstream source of truth.
var catalog = map[string]product{
	"SKU-123": {
		SKU: "SKU-123", Name: "Everyday Tee", Category: "tops",
		Price: 18.0, Inventory: 25, IsClearance: true,
		ReturnPolicy: "FINAL_SALE_NO_RETURNS",
	},
	"SKU-1002": {
		SKU: "SKU-1002", Name: "Linen Pants", Category: "bottoms",
		Price: 59.0, Inventory: 15,
		ReturnPolicy: "30_DAY_RETURN",
	},
	"SKU-1003": {
		SKU: "SKU-1003", Name: "Weekend Hoodie", Category: "tops",
		Price: 35.0, Inventory: 8, IsClearance: true,
		ReturnPolicy: "FINAL_SALE_NO_RETURNS",
	},
}

// Target serves catalog requests off the live rules files.
type Target struct {
	root   string
	logger *slog.Logger
}

// New creates a Target over an existing root directory.
func New(root string, logger *slog.Logger) *Target {
	return &Target{root: root, logger: logger}
}

// Seed writes the initial (broken) rules tree into root, creating it if
// needed. Existing files are overwritten so every run starts from the
// same failure.
func Seed(root string) error {
	dir := filepath.Join(root, filepath.Dir(RulesFile))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("target: seed: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(RulesFile)), []byte(seedRules), 0o644); err != nil {
		return fmt.Errorf("target: seed: %w", err)
	}
	return nil
}

// policyFields parses the live rules file and returns the synced field
// names.
func (t *Target) policyFields() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(t.root, filepath.FromSlash(RulesFile)))
	if err != nil {
		return nil, fmt.Errorf("target: read rules: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "policy_fields:") {
			continue
		}
		raw := strings.Split(strings.TrimPrefix(line, "policy_fields:"), ",")
		fields := make([]string, 0, len(raw))
		for _, f := range raw {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		return fields, nil
	}
	return nil, fmt.Errorf("target: rules file has no policy_fields mapping")
}

// syncProduct projects a catalog row through the configured fields, the
// same way the real sync job would populate the local store.
func (t *Target) syncProduct(sku string) (map[string]any, error) {
	p, ok := catalog[sku]
	if !ok {
		return nil, fmt.Errorf("target: unknown sku %q", sku)
	}
	fields, err := t.policyFields()
	if err != nil {
		return nil, err
	}

	full := map[string]any{
		"price":         p.Price,
		"inventory":     p.Inventory,
		"category":      p.Category,
		"is_clearance":  p.IsClearance,
		"return_policy": p.ReturnPolicy,
	}
	out := map[string]any{"sku": p.SKU, "name": p.Name}
	for _, f := range fields {
		if v, ok := full[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

// CheckReturnEligibility answers whether a SKU can be returned. The
// decision needs the return_policy field; when the sync rules omit it
// the response fails schema validation and the failure detail names the
// missing field.
func (t *Target) CheckReturnEligibility(ctx context.Context, sku string) (map[string]any, *model.FailureDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	data, err := t.syncProduct(sku)
	if err != nil {
		return nil, nil, err
	}

	policy, ok := data["return_policy"].(string)
	if !ok {
		t.logger.Warn("target: response missing return_policy", "sku", sku)
		return data, &model.FailureDetail{
			Kind:     "SchemaMismatch",
			Field:    "return_policy",
			Expected: "string",
			Actual:   nil,
			Message:  "required field return_policy missing from response",
		}, nil
	}

	data["eligible"] = policy != "FINAL_SALE_NO_RETURNS"
	return data, nil, nil
}

// Replay re-issues a captured request against the live target. Only the
// endpoints the monitor probes are supported.
func (t *Target) Replay(ctx context.Context, capture model.FailureCapture) (map[string]any, *model.FailureDetail, error) {
	switch capture.Endpoint {
	case "CheckReturnEligibility":
		return t.CheckReturnEligibility(ctx, capture.Input["sku"])
	default:
		return nil, nil, fmt.Errorf("target: unsupported endpoint %q", capture.Endpoint)
	}
}

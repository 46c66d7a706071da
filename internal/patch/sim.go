package patch

import (
	"context"
	"fmt"
	"strings"
)

// SimulatedProvider implements the add_missing_field playbook locally,
// with no network. It finds the policy_fields mapping line and appends
// return_policy to it. Used when no model API key is configured and in
// tests.
type SimulatedProvider struct{}

func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{}
}

func (s *SimulatedProvider) Generate(_ context.Context, originalCode, _ string) (string, error) {
	lines := strings.Split(originalCode, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "policy_fields:") {
			continue
		}
		if strings.Contains(line, "return_policy") {
			return originalCode, nil
		}
		lines[i] = strings.TrimRight(line, " ") + ", return_policy"
		return strings.Join(lines, "\n"), nil
	}
	return "", fmt.Errorf("patch: no policy_fields mapping found in source")
}

// Package plan loads and validates backup plan files.
package plan

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/samber/lo"

	v1 "github.com/tabbyclass/tabbyback/apis/v1"
)

var defaultValidator = validator.New(validator.WithRequiredStructEnabled())

// Parse parses a YAML (or JSON) backup plan and validates it. It returns a
// validated BackupPlan or an error if parsing or validation fails.
func Parse(data []byte) (v1.BackupPlan, error) {
	var p v1.BackupPlan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return v1.BackupPlan{}, fmt.Errorf("failed to unmarshal plan: %w", err)
	}

	if err := defaultValidator.Struct(p); err != nil {
		return v1.BackupPlan{}, fmt.Errorf("failed to validate plan: %w", err)
	}

	return p, nil
}

// Load reads and parses the plan file at path.
func Load(path string) (v1.BackupPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return v1.BackupPlan{}, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data)
}

// FindTarget returns the target with the given label. When label is empty
// and the plan has exactly one target, that target is returned.
func FindTarget(p v1.BackupPlan, label string) (v1.Target, error) {
	if label == "" {
		if len(p.Spec.Targets) == 1 {
			return p.Spec.Targets[0], nil
		}
		return v1.Target{}, fmt.Errorf("plan %q has %d targets, a target label is required",
			p.Metadata.Name, len(p.Spec.Targets))
	}

	target, ok := lo.Find(p.Spec.Targets, func(t v1.Target) bool {
		return t.Label == label
	})
	if !ok {
		return v1.Target{}, fmt.Errorf("plan %q has no target labeled %q", p.Metadata.Name, label)
	}
	return target, nil
}

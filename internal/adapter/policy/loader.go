package policy

import (
	"fmt"
	"os"
	"sort"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a YAML policy file and returns a validated Policy.
func LoadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var pol Policy
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}

	if err := validate(&pol); err != nil {
		return nil, fmt.Errorf("validating policy: %w", err)
	}

	return &pol, nil
}

func validate(pol *Policy) error {
	// Sorted keys keep conflict errors deterministic.
	keys := make([]string, 0, len(pol.Context.Tables))
	for key := range pol.Context.Tables {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	masks := make(map[string]domain.MaskType)
	owners := make(map[string]string)
	for _, key := range keys {
		if key == "" {
			return fmt.Errorf("context.tables contains an empty key")
		}
		for col, cc := range pol.Context.Tables[key].Columns {
			if col == "" {
				return fmt.Errorf("context.tables[%q].columns contains an empty key", key)
			}
			if !cc.Mask.Valid() {
				return fmt.Errorf("context.tables[%q].columns[%q].mask: invalid value %q (allowed: redact, hash, partial, null)", key, col, cc.Mask)
			}
			if cc.Mask == "" {
				continue
			}
			if prev, ok := masks[col]; ok && prev != cc.Mask {
				return fmt.Errorf("conflicting masks for column %q: %q in %s, %q in %s", col, prev, owners[col], cc.Mask, key)
			}
			masks[col] = cc.Mask
			owners[col] = key
		}
	}
	return nil
}

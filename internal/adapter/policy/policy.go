package policy

import (
	"fmt"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Policy holds operator-controlled configuration loaded from a YAML file.
// It declares which source columns must be masked wherever their values
// surface in column summaries or sorted rows.
type Policy struct {
	Context ContextConfig `yaml:"context"`
}

// ContextConfig maps fully-qualified table names (schema.table) to their
// column rules.
type ContextConfig struct {
	Tables map[string]TableContext `yaml:"tables"`
}

// TableContext documents a table and its columns.
type TableContext struct {
	Description string                   `yaml:"description"`
	Columns     map[string]ColumnContext `yaml:"columns"`
}

// ColumnContext holds a column's description and optional mask directive.
type ColumnContext struct {
	Description string          `yaml:"description"`
	Mask        domain.MaskType `yaml:"mask,omitempty"`
}

// UnmarshalYAML accepts a plain string as shorthand for a description.
//
//	columns:
//	  email: "User email"
//	  ssn:
//	    description: "SSN"
//	    mask: "redact"
func (cc *ColumnContext) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		cc.Description = value.Value
		return nil
	}
	type alias ColumnContext
	var a alias
	if err := value.Decode(&a); err != nil {
		return fmt.Errorf("decoding column context: %w", err)
	}
	*cc = ColumnContext(a)
	return nil
}

// Masks flattens the policy into a column-name to mask map. Result tables of
// ad-hoc queries lose their table qualifiers, so masks apply by column name.
func (p *Policy) Masks() map[string]domain.MaskType {
	masks := make(map[string]domain.MaskType)
	for _, tc := range p.Context.Tables {
		for col, cc := range tc.Columns {
			if cc.Mask != "" {
				masks[col] = cc.Mask
			}
		}
	}
	return masks
}

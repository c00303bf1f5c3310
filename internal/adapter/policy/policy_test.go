package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile_WithMasks(t *testing.T) {
	yaml := `
context:
  tables:
    public.customers:
      description: "Customer accounts"
      columns:
        email:
          description: "Customer email"
          mask: "redact"
        ssn:
          mask: "null"
        phone:
          description: "Phone"
          mask: "partial"
        name: "Full name"
`
	path := writeTempFile(t, yaml)

	pol, err := LoadFromFile(path)
	require.NoError(t, err)

	customers := pol.Context.Tables["public.customers"]
	assert.Equal(t, "Customer accounts", customers.Description)
	assert.Equal(t, domain.MaskRedact, customers.Columns["email"].Mask)
	assert.Equal(t, "Customer email", customers.Columns["email"].Description)
	assert.Equal(t, domain.MaskNull, customers.Columns["ssn"].Mask)
	assert.Equal(t, domain.MaskPartial, customers.Columns["phone"].Mask)
	assert.Empty(t, customers.Columns["name"].Mask)
	assert.Equal(t, "Full name", customers.Columns["name"].Description)
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			yaml:    "context:\n  tables: [invalid",
			wantErr: "parsing policy YAML",
		},
		{
			name: "invalid mask",
			yaml: `
context:
  tables:
    public.users:
      columns:
        email:
          mask: "scramble"
`,
			wantErr: "invalid value",
		},
		{
			name: "empty table key",
			yaml: `
context:
  tables:
    "":
      description: "nothing"
`,
			wantErr: "empty key",
		},
		{
			name: "empty column key",
			yaml: `
context:
  tables:
    public.users:
      columns:
        "": "nothing"
`,
			wantErr: "empty key",
		},
		{
			name: "conflicting masks",
			yaml: `
context:
  tables:
    public.users:
      columns:
        email:
          mask: "redact"
    public.orders:
      columns:
        email:
          mask: "hash"
`,
			wantErr: `conflicting masks for column "email"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempFile(t, tt.yaml)

			_, err := LoadFromFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/policy.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading policy file")
}

func TestPolicy_Masks(t *testing.T) {
	yaml := `
context:
  tables:
    public.users:
      columns:
        email:
          mask: "redact"
        city: "Home city"
    public.orders:
      columns:
        email:
          mask: "redact"
        card:
          mask: "partial"
`
	pol, err := LoadFromFile(writeTempFile(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, map[string]domain.MaskType{
		"email": domain.MaskRedact,
		"card":  domain.MaskPartial,
	}, pol.Masks())
}

func TestPolicy_MasksEmpty(t *testing.T) {
	pol := &Policy{}
	assert.Empty(t, pol.Masks())
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

package cli

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// Regenerate with: go test ./internal/cli -run TestGolden -update
func TestGoldenOutput(t *testing.T) {
	schemaFile := writeSchemaFile(t)

	tests := []struct {
		name string
		args []string
	}{
		{
			name: "compile_count_text",
			args: []string{"compile", "-s", schemaFile, "/Organizations/$count", "$filter=Country eq 'DEU'"},
		},
		{
			name: "compile_count_json",
			args: []string{"--format", "json", "compile", "-s", schemaFile, "/Organizations/$count", "$filter=Country eq 'DEU'"},
		},
		{
			name: "schema_validate_text",
			args: []string{"schema", "validate", schemaFile},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(out))
		})
	}
}

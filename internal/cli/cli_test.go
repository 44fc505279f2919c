package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"tidb-odata/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchemaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testutil.SchemaYAML), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"compile"}, {"query"}, {"schema", "validate"}, {"schema", "dump"}, {"schema", "introspect"}, {"token"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestRejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "schema", "validate", writeSchemaFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCompileText(t *testing.T) {
	out, err := execute(t, "compile", "-s", writeSchemaFile(t), "/Organizations('1')", "$select=ID&$expand=Roles")
	require.NoError(t, err)
	assert.Contains(t, out, "-- root\n")
	assert.Contains(t, out, "-- Roles\n")
	assert.Contains(t, out, "`organizations`")
	assert.Contains(t, out, "`business_partner_roles`")
	assert.Contains(t, out, "-- args: ")
}

func TestCompileJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "compile", "-s", writeSchemaFile(t), "/Organizations/$count", "?$filter=Country eq 'DEU'")
	require.NoError(t, err)

	var statements []statementOutput
	require.NoError(t, json.Unmarshal([]byte(out), &statements))
	require.Len(t, statements, 1)
	assert.Equal(t, "count", statements[0].Level)
	assert.Contains(t, statements[0].SQL, "COUNT(")
	assert.Equal(t, []interface{}{"DEU"}, statements[0].Args)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing schema", args: []string{"compile", "/Organizations"}, want: "--schema is required"},
		{name: "syntax error", args: []string{"compile", "-s", "SCHEMA", "/Organizations", "$top=x"}, want: "$top"},
		{name: "too deep", args: []string{"compile", "-s", "SCHEMA", "--max-expand-depth", "1", "/Organizations", "$expand=Roles($expand=Organization)"}, want: "expand"},
	}

	schemaFile := writeSchemaFile(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := make([]string, len(tt.args))
			for i, a := range tt.args {
				if a == "SCHEMA" {
					a = schemaFile
				}
				args[i] = a
			}
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestQueryAgainstSQLite(t *testing.T) {
	schemaFile := writeSchemaFile(t)
	dbFile := testutil.FixtureDBFile(t)

	out, err := execute(t, "--format", "json", "query", "-s", schemaFile, "--driver", "sqlite3", "--dsn", dbFile,
		"--service-root", "http://example.com/odata", "/Organizations", "$filter=Country eq 'DEU'&$select=ID&$count=true")
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "http://example.com/odata/$metadata#Organizations(ID)", body["@odata.context"])
	assert.EqualValues(t, 2, body["@odata.count"])

	out, err = execute(t, "query", "-s", schemaFile, "--driver", "sqlite3", "--dsn", dbFile, "/Organizations/$count")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = execute(t, "query", "-s", schemaFile, "--driver", "sqlite3", "--dsn", dbFile, "/PersonImages('99')/Image/$value")
	require.NoError(t, err)
	assert.Equal(t, string([]byte{0xFF, 0xD8}), out)
}

func TestQueryRequiresDSN(t *testing.T) {
	_, err := execute(t, "query", "-s", writeSchemaFile(t), "/Organizations")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--dsn is required")
}

func TestSchemaValidate(t *testing.T) {
	schemaFile := writeSchemaFile(t)

	out, err := execute(t, "schema", "validate", schemaFile)
	require.NoError(t, err)
	assert.Contains(t, out, "schema Example is valid")

	out, err = execute(t, "--format", "json", "schema", "validate", schemaFile)
	require.NoError(t, err)
	var summary schemaSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "Example", summary.Namespace)
	assert.Contains(t, summary.EntitySets, "Organizations")

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("namespace: X\nentityTypes:\n  - name: A\n    bogus: true\n"), 0o600))
	_, err = execute(t, "schema", "validate", broken)
	require.Error(t, err)
}

func TestSchemaDumpRoundTrips(t *testing.T) {
	out, err := execute(t, "schema", "dump", writeSchemaFile(t))
	require.NoError(t, err)
	assert.Contains(t, out, "namespace: Example")

	dumped := filepath.Join(t.TempDir(), "dumped.yaml")
	require.NoError(t, os.WriteFile(dumped, []byte(out), 0o600))
	again, err := execute(t, "schema", "dump", dumped)
	require.NoError(t, err)
	assert.Equal(t, out, again)

	out, err = execute(t, "--format", "json", "schema", "dump", dumped)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "Example", doc["namespace"])
	assert.NotEmpty(t, doc["entityTypes"])
}

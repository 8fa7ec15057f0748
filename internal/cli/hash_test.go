package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/subdispatch/internal/ir"
)

const hashQuery = `subscription($name: String!) { user(name: $name) { name } }`

func executeHash(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	if args == nil {
		args = []string{}
	}
	cmd := NewHashCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestHashMatchesEngineIdentity(t *testing.T) {
	out, err := executeHash(t, "text", "--query", hashQuery, "--vars", `{"name":"Rohde","age":20}`)
	require.NoError(t, err)

	expected := ir.MustSubscriptionHash(hashQuery, map[string]any{"age": 20, "name": "Rohde"})
	assert.Equal(t, expected, strings.TrimSpace(out))
}

func TestHashVariableOrderIrrelevant(t *testing.T) {
	a, err := executeHash(t, "text", "--query", hashQuery, "--vars", `{"name":"Rohde","age":20}`)
	require.NoError(t, err)
	b, err := executeHash(t, "text", "--query", hashQuery, "--vars", `{"age":20,"name":"Rohde"}`)
	require.NoError(t, err)
	c, err := executeHash(t, "text", "--query", hashQuery, "--vars", `{"age":21,"name":"Rohde"}`)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHashNoVarsEqualsEmptyVars(t *testing.T) {
	a, err := executeHash(t, "text", "--query", hashQuery)
	require.NoError(t, err)
	b, err := executeHash(t, "text", "--query", hashQuery, "--vars", `{}`)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashQueryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.graphql")
	require.NoError(t, os.WriteFile(path, []byte(hashQuery), 0644))

	fromFile, err := executeHash(t, "text", "--query-file", path)
	require.NoError(t, err)
	inline, err := executeHash(t, "text", "--query", hashQuery)
	require.NoError(t, err)
	assert.Equal(t, inline, fromFile)
}

func TestHashJSON(t *testing.T) {
	out, err := executeHash(t, "json", "--query", hashQuery, "--vars", `{"name":"Rohde"}`)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   HashResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data.Hash, 64)
	assert.Equal(t, hashQuery, resp.Data.Query)
	assert.Equal(t, "Rohde", resp.Data.Variables["name"])
}

func TestHashErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
	}{
		{"no query", []string{}, ErrCodeInvalidArgs},
		{"bad vars", []string{"--query", hashQuery, "--vars", `[1]`}, ErrCodeInvalidArgs},
		{"trailing vars", []string{"--query", hashQuery, "--vars", `{} {}`}, ErrCodeInvalidArgs},
		{"missing file", []string{"--query-file", "/nonexistent/q.graphql"}, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeHash(t, "text", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.code)
		})
	}
}

func TestHashQueryFlagsExclusive(t *testing.T) {
	_, err := executeHash(t, "text", "--query", hashQuery, "--query-file", "x.graphql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestParseVariablesKeepsNumbers(t *testing.T) {
	vars, err := parseVariables(`{"big":12345678901234567890,"age":20}`)
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567890"), vars["big"])
	assert.Equal(t, json.Number("20"), vars["age"])
}

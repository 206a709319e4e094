package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	command := newCommand()
	command.Writer = &out
	command.ErrWriter = &out

	err := command.Run(t.Context(), append([]string{"flowmedic"}, args...))

	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	out, err := runCLI(t, "classify", "--node", "HTTP Request", "connection timeout after 30000ms")
	require.NoError(t, err)

	var result struct {
		ErrorType  string  `json:"error_type"`
		Confidence float64 `json:"confidence"`
		RootCause  string  `json:"root_cause"`
		Strategy   *struct {
			ID string `json:"id"`
		} `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))

	assert.Equal(t, "Timeout", result.ErrorType)
	assert.InDelta(t, 0.7, result.Confidence, 1e-9)
	assert.Contains(t, result.RootCause, "HTTP Request")
	require.NotNil(t, result.Strategy)
	assert.Equal(t, "adjust_timeout", result.Strategy.ID)
}

func TestClassifyCommand_RequiresMessage(t *testing.T) {
	_, err := runCLI(t, "classify")
	assert.ErrorIs(t, err, errMissingArgument)
}

func TestCatalogValidateCommand(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte("patterns: []\n"), 0o600))

	out, err := runCLI(t, "catalog", "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "catalog ok: 8 patterns, 5 strategies")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("rules: []\n"), 0o600))

	_, err = runCLI(t, "catalog", "validate", invalid)
	assert.Error(t, err)
}

func TestCatalogShowCommand(t *testing.T) {
	out, err := runCLI(t, "catalog", "show")
	require.NoError(t, err)

	var catalog struct {
		Patterns   []map[string]any `json:"patterns"`
		Strategies []map[string]any `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &catalog))
	assert.Len(t, catalog.Patterns, 8)
	assert.Len(t, catalog.Strategies, 5)
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/trading-gateway/internal/command"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gateway version dev")
}

func TestTopologyPrintsEveryKind(t *testing.T) {
	cfg := writeConfig(t, "api:\n  enabled: false\n")
	out, err := run(t, "topology", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "flash_crash")
	assert.Contains(t, out, "critical")
	assert.Contains(t, out, "majority")
}

func TestCheckBlocklistedCommand(t *testing.T) {
	cfg := writeConfig(t, "api:\n  enabled: false\n")
	out, err := run(t, "check", "--config", cfg,
		"--category", "system", "--action", "cleanup", "--param", "cmd=rm -rf /", "--json")
	require.NoError(t, err)

	var dec command.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &dec))
	assert.Equal(t, command.ResultBlocked, dec.Result)
	assert.Equal(t, 100, dec.Severity)
}

func TestCheckSafeCommandText(t *testing.T) {
	cfg := writeConfig(t, "api:\n  enabled: false\n")
	out, err := run(t, "check", "--config", cfg, "--category", "data", "--action", "price")
	require.NoError(t, err)
	assert.Contains(t, out, "result:     approved")
	assert.Contains(t, out, "risk:       safe")
}

func TestCheckRejectsUnknownCategory(t *testing.T) {
	cfg := writeConfig(t, "api:\n  enabled: false\n")
	_, err := run(t, "check", "--config", cfg, "--category", "nope", "--action", "x")
	require.Error(t, err)
}

func TestExplicitMissingConfigFails(t *testing.T) {
	_, err := run(t, "topology", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestUnknownProfileFails(t *testing.T) {
	cfg := writeConfig(t, "api:\n  enabled: false\n")
	_, err := run(t, "topology", "--config", cfg, "--profile", "reckless")
	require.Error(t, err)
}

func TestParseParams(t *testing.T) {
	got := parseParams(map[string]string{"amount": "25", "reduce_only": "true", "asset_id": "tok"})
	assert.Equal(t, 25.0, got["amount"])
	assert.Equal(t, true, got["reduce_only"])
	assert.Equal(t, "tok", got["asset_id"])
	assert.Nil(t, parseParams(nil))
}

package setup

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBinary(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "mcp-server")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	return path
}

func TestLoadClientConfig_Missing(t *testing.T) {
	config, err := LoadClientConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, config.MCPServers)
}

func TestRegister_PreservesOtherSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{
		"theme": "dark",
		"mcpServers": {"other": {"command": "/usr/bin/other"}}
	}`), 0644))

	binary := fakeBinary(t, dir)
	used, err := Register(Options{ConfigPath: path, BinaryPath: binary, DataDir: "/var/lib/triage"})
	require.NoError(t, err)
	assert.Equal(t, path, used)

	var raw map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "dark", raw["theme"])

	config, err := LoadClientConfig(path)
	require.NoError(t, err)
	require.Contains(t, config.MCPServers, "other")
	entry := config.MCPServers[ServerName]
	assert.Equal(t, binary, entry.Command)
	assert.Equal(t, "/var/lib/triage", entry.Env["TRIAGE_DATA_DIR"])
}

func TestGetStatus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	status, err := GetStatus(path)
	require.NoError(t, err)
	assert.False(t, status.Registered)
	assert.Len(t, status.Issues, 1)

	binary := fakeBinary(t, dir)
	_, err = Register(Options{ConfigPath: path, BinaryPath: binary})
	require.NoError(t, err)

	status, err = GetStatus(path)
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Equal(t, binary, status.BinaryPath)
	assert.Empty(t, status.Issues)

	require.NoError(t, os.Remove(binary))
	status, err = GetStatus(path)
	require.NoError(t, err)
	require.Len(t, status.Issues, 1)
	assert.Contains(t, status.Issues[0], "not found")
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	binary := fakeBinary(t, dir)

	var out bytes.Buffer
	require.NoError(t, Run([]string{"register", "--config", path, "--binary", binary}, &out))
	assert.Contains(t, out.String(), ServerName)

	out.Reset()
	require.NoError(t, Run([]string{"status", "--config", path}, &out))
	var status Status
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.True(t, status.Registered)

	out.Reset()
	require.NoError(t, Run(nil, &out))
	assert.Contains(t, out.String(), "Usage:")

	assert.Error(t, Run([]string{"wizard"}, &out))
	assert.Error(t, Run([]string{"register", "--bogus"}, &out))
}

package mcpconfig

import (
	"database/sql"
	"testing"

	"github.com/agentserver/sessionrt/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteConfigThenReadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	servers := []*db.MCPServer{
		{
			Name:      "search",
			URL:       sql.NullString{String: "https://mcp.example.com", Valid: true},
			Transport: "sse",
			Enabled:   true,
		},
		{
			Name:    "local-tool",
			Command: sql.NullString{String: "my-tool", Valid: true},
			Args:    []string{"--flag"},
			Env:     map[string]string{"TOKEN": "secret"},
			Enabled: true,
		},
	}

	require.NoError(t, WriteConfig(dir, servers))

	blob, err := ReadConfig(dir)
	require.NoError(t, err)
	assert.Len(t, blob.Servers, 2)
	assert.Equal(t, "https://mcp.example.com", blob.Servers["search"].URL)
	assert.Equal(t, "my-tool", blob.Servers["local-tool"].Command)
	assert.Equal(t, []string{"--flag"}, blob.Servers["local-tool"].Args)
	assert.Equal(t, map[string]string{"TOKEN": "secret"}, blob.Servers["local-tool"].Env)
}

func TestWriteConfigOmitsDisabledServers(t *testing.T) {
	dir := t.TempDir()
	servers := []*db.MCPServer{
		{Name: "enabled-one", Enabled: true},
		{Name: "disabled-one", Enabled: false},
	}
	require.NoError(t, WriteConfig(dir, servers))

	blob, err := ReadConfig(dir)
	require.NoError(t, err)
	assert.Len(t, blob.Servers, 1)
	_, ok := blob.Servers["disabled-one"]
	assert.False(t, ok)
}

func TestWriteConfigOmitsEmptyEnvMap(t *testing.T) {
	dir := t.TempDir()
	servers := []*db.MCPServer{{Name: "bare", Enabled: true}}
	require.NoError(t, WriteConfig(dir, servers))

	blob, err := ReadConfig(dir)
	require.NoError(t, err)
	assert.Nil(t, blob.Servers["bare"].Env)
}

func TestReadConfigMissingFileReturnsEmptyBlob(t *testing.T) {
	dir := t.TempDir()
	blob, err := ReadConfig(dir)
	require.NoError(t, err)
	assert.NotNil(t, blob.Servers)
	assert.Empty(t, blob.Servers)
}

func TestEnablingThenDisablingServerRemovesItFromBlob(t *testing.T) {
	dir := t.TempDir()
	server := &db.MCPServer{Name: "toggle", Enabled: true}
	require.NoError(t, WriteConfig(dir, []*db.MCPServer{server}))

	blob, err := ReadConfig(dir)
	require.NoError(t, err)
	_, ok := blob.Servers["toggle"]
	assert.True(t, ok)

	server.Enabled = false
	require.NoError(t, WriteConfig(dir, []*db.MCPServer{server}))

	blob, err = ReadConfig(dir)
	require.NoError(t, err)
	_, ok = blob.Servers["toggle"]
	assert.False(t, ok)
}

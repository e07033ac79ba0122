// Package mcpconfig reads and writes the per-workspace MCP config blob at
// {workspace}/.pi/mcp.json, serialized as plain indented JSON.
package mcpconfig

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agentserver/sessionrt/internal/db"
)

type ServerBlob struct {
	Command string            `json:"command,omitempty"`
	URL     string            `json:"url,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type Blob struct {
	Servers map[string]ServerBlob `json:"servers"`
}

func path(workspaceDir string) string {
	return filepath.Join(workspaceDir, ".pi", "mcp.json")
}

// WriteConfig materializes only enabled records into the blob, omitting
// empty env maps
func WriteConfig(workspaceDir string, servers []*db.MCPServer) error {
	blob := Blob{Servers: make(map[string]ServerBlob)}
	for _, s := range servers {
		if !s.Enabled {
			continue
		}
		sb := ServerBlob{Args: s.Args}
		if s.Command.Valid {
			sb.Command = s.Command.String
		}
		if s.URL.Valid {
			sb.URL = s.URL.String
		}
		if len(s.Env) > 0 {
			sb.Env = s.Env
		}
		blob.Servers[s.Name] = sb
	}

	p := path(workspaceDir)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func ReadConfig(workspaceDir string) (Blob, error) {
	data, err := os.ReadFile(path(workspaceDir))
	if os.IsNotExist(err) {
		return Blob{Servers: map[string]ServerBlob{}}, nil
	}
	if err != nil {
		return Blob{}, err
	}
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return Blob{}, err
	}
	if blob.Servers == nil {
		blob.Servers = map[string]ServerBlob{}
	}
	return blob, nil
}

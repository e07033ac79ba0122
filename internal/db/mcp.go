package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type MCPServer struct {
	ID        string
	Name      string
	Command   sql.NullString
	URL       sql.NullString
	Args      []string
	Env       map[string]string
	Headers   map[string]string
	Transport string
	Enabled   bool
	CreatedAt time.Time
}

func (d *DB) CreateMCPServer(s *MCPServer) error {
	env, err := json.Marshal(s.Env)
	if err != nil {
		return fmt.Errorf("marshal mcp env: %w", err)
	}
	headers, err := json.Marshal(s.Headers)
	if err != nil {
		return fmt.Errorf("marshal mcp headers: %w", err)
	}
	_, err = d.Exec(
		`INSERT INTO mcp_servers (id, name, command, url, args, env, headers, transport, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		s.ID, s.Name, s.Command, s.URL, pq.Array(s.Args), env, headers, s.Transport, s.Enabled,
	)
	if err != nil {
		return fmt.Errorf("create mcp server: %w", err)
	}
	return nil
}

func (d *DB) GetMCPServerByName(name string) (*MCPServer, error) {
	s := &MCPServer{}
	var env, headers []byte
	err := d.QueryRow(
		`SELECT id, name, command, url, args, env, headers, transport, enabled, created_at
		 FROM mcp_servers WHERE name = $1`, name,
	).Scan(&s.ID, &s.Name, &s.Command, &s.URL, pq.Array(&s.Args), &env, &headers, &s.Transport, &s.Enabled, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mcp server: %w", err)
	}
	if err := json.Unmarshal(env, &s.Env); err != nil {
		return nil, fmt.Errorf("unmarshal mcp env: %w", err)
	}
	if err := json.Unmarshal(headers, &s.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal mcp headers: %w", err)
	}
	return s, nil
}

func (d *DB) ListMCPServers() ([]*MCPServer, error) {
	rows, err := d.Query(
		`SELECT id, name, command, url, args, env, headers, transport, enabled, created_at
		 FROM mcp_servers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var out []*MCPServer
	for rows.Next() {
		s := &MCPServer{}
		var env, headers []byte
		if err := rows.Scan(&s.ID, &s.Name, &s.Command, &s.URL, pq.Array(&s.Args), &env, &headers, &s.Transport, &s.Enabled, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		if err := json.Unmarshal(env, &s.Env); err != nil {
			return nil, fmt.Errorf("unmarshal mcp env: %w", err)
		}
		if err := json.Unmarshal(headers, &s.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal mcp headers: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) SetMCPServerEnabled(name string, enabled bool) error {
	res, err := d.Exec("UPDATE mcp_servers SET enabled = $2 WHERE name = $1", name, enabled)
	if err != nil {
		return fmt.Errorf("update mcp server: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *DB) DeleteMCPServer(name string) error {
	_, err := d.Exec("DELETE FROM mcp_servers WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("delete mcp server: %w", err)
	}
	return nil
}

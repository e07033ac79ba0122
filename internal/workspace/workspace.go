// Package workspace implements the Workspace Service (C3): a session-scoped
// directory root with path-safety, tree listing, conflict-detected writes,
// typed previews and multipart upload. Uses a "resolve-and-prefix-check a
// rooted directory" shape, adapted from Kubernetes PVC provisioning to
// direct host filesystem operations against the same tree C1's sandbox
// bind-mounts.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentserver/sessionrt/internal/apierr"
)

type Service struct {
	dataRoot string // <dataRoot>/workspaces/<sessionId>/workspace
}

func New(dataRoot string) *Service {
	return &Service{dataRoot: dataRoot}
}

// Root returns the absolute workspace directory for a session, creating it
// lazily ("physically created lazily").
func (s *Service) Root(sessionID string) (string, error) {
	root := filepath.Join(s.dataRoot, "workspaces", sessionID, "workspace")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("ensure workspace root: %w", err)
	}
	return root, nil
}

type Entry struct {
	Name  string    `json:"name"`
	Path  string    `json:"path"`
	Size  int64     `json:"size"`
	Mtime time.Time `json:"mtime"`
	Type  string    `json:"type"` // "file" | "dir"
}

func (s *Service) Read(sessionID, relPath string) ([]byte, error) {
	root, err := s.Root(sessionID)
	if err != nil {
		return nil, err
	}
	abs, err := resolve(root, relPath)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return b, nil
}

// Write creates missing parent directories, fails with Conflict and
// performs no write when expectedMtime is stale, and returns the post-write
// mtime on success. Mtimes are compared at millisecond precision, the
// precision the HTTP layer reports and accepts.
func (s *Service) Write(sessionID, relPath string, data []byte, expectedMtime *time.Time) (time.Time, error) {
	root, err := s.Root(sessionID)
	if err != nil {
		return time.Time{}, err
	}
	abs, err := resolve(root, relPath)
	if err != nil {
		return time.Time{}, err
	}

	if expectedMtime != nil {
		if info, statErr := os.Stat(abs); statErr == nil {
			current := info.ModTime()
			if current.UnixMilli() != expectedMtime.UnixMilli() {
				return time.Time{}, apierr.NewConflict(current.UnixMilli())
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return time.Time{}, fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return time.Time{}, fmt.Errorf("write file: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat written file: %w", err)
	}
	return info.ModTime(), nil
}

func (s *Service) Delete(sessionID, relPath string) error {
	root, err := s.Root(sessionID)
	if err != nil {
		return err
	}
	abs, err := resolve(root, relPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return apierr.ErrNotFound
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// RemoveRoot tears down an entire session workspace (called on session
// delete).
func (s *Service) RemoveRoot(sessionID string) error {
	root := filepath.Join(s.dataRoot, "workspaces", sessionID, "workspace")
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

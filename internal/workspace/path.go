package workspace

import (
	"path/filepath"
	"strings"

	"github.com/agentserver/sessionrt/internal/apierr"
)

// resolve implements the path-safety rule: the only accepted
// path form is a relative path that, joined with the absolute workspace
// root and canonicalized, still has the root as a prefix. Absolute paths
// and any ".." escape are rejected with InvalidPath.
func resolve(root, relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", apierr.ErrInvalidPath
	}
	joined := filepath.Join(root, relPath)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", apierr.ErrInvalidPath
	}
	return joined, nil
}

package workspace

import (
	"path/filepath"
	"testing"

	"github.com/agentserver/sessionrt/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAcceptsRelativePathUnderRoot(t *testing.T) {
	root := "/data/workspaces/sess-1/workspace"
	got, err := resolve(root, "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src/main.go"), got)
}

func TestResolveAcceptsRootItself(t *testing.T) {
	root := "/data/workspaces/sess-1/workspace"
	got, err := resolve(root, ".")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(root), got)
}

func TestResolveRejectsAbsolutePath(t *testing.T) {
	_, err := resolve("/data/workspaces/sess-1/workspace", "/etc/passwd")
	assert.ErrorIs(t, err, apierr.ErrInvalidPath)
}

func TestResolveRejectsDotDotEscape(t *testing.T) {
	_, err := resolve("/data/workspaces/sess-1/workspace", "../../etc/passwd")
	assert.ErrorIs(t, err, apierr.ErrInvalidPath)
}

func TestResolveRejectsDotDotThatCancelsOut(t *testing.T) {
	// "a/../../secret" climbs past root even though it starts inside it.
	_, err := resolve("/data/workspaces/sess-1/workspace", "a/../../secret")
	assert.ErrorIs(t, err, apierr.ErrInvalidPath)
}

func TestResolveRejectsSiblingPrefixCollision(t *testing.T) {
	// A naive strings.HasPrefix(joined, root) check (no separator) would wrongly
	// accept "/data/workspaces/sess-1/workspace-evil" as being under
	// ".../workspace". Guard that the separator is required.
	_, err := resolve("/data/workspaces/sess-1/workspace", "../workspace-evil/secret")
	assert.ErrorIs(t, err, apierr.ErrInvalidPath)
}

package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeNameReplacesDisallowedRunes(t *testing.T) {
	assert.Equal(t, "user--42", sanitizeName("user@!42"))
}

func TestSanitizeNamePreservesAllowedRunes(t *testing.T) {
	assert.Equal(t, "user_42-A", sanitizeName("user_42-A"))
}

func TestSanitizeNameTruncatesTo60Bytes(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := sanitizeName(long)
	assert.Len(t, got, 60)
}

func TestSanitizeNameIsIdempotent(t *testing.T) {
	once := sanitizeName("user@id#42")
	twice := sanitizeName(once)
	assert.Equal(t, once, twice)
}

func TestContainerNameIsStableAcrossCalls(t *testing.T) {
	m := &Manager{cfg: Config{NamePrefix: "sessionrt"}}
	assert.Equal(t, m.containerName("user-1"), m.containerName("user-1"))
	assert.Equal(t, "sessionrt-user-1", m.containerName("user-1"))
}

package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigUsesHardcodedDefaultsWhenUnset(t *testing.T) {
	for _, key := range []string{
		"SANDBOX_ENABLED", "SANDBOX_IMAGE", "DATA_ROOT", "PI_SKILLS_DIR",
		"SANDBOX_MEMORY", "SANDBOX_CPUS", "SANDBOX_PIDS_LIMIT",
		"SANDBOX_NETWORK", "SANDBOX_NAME_PREFIX",
	} {
		t.Setenv(key, "")
	}

	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "sessionrt-agent:latest", cfg.Image)
	assert.Equal(t, "bridge", cfg.NetworkMode)
	assert.Equal(t, "sessionrt-sbx", cfg.NamePrefix)
	assert.Equal(t, int64(2*1024*1024*1024), cfg.MemoryLimit)
	assert.Equal(t, int64(256), cfg.PidsLimit)
}

func TestDefaultConfigHonorsEnvOverrides(t *testing.T) {
	t.Setenv("SANDBOX_ENABLED", "true")
	t.Setenv("SANDBOX_IMAGE", "custom:tag")
	t.Setenv("SANDBOX_NETWORK", "none")

	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "custom:tag", cfg.Image)
	assert.Equal(t, "none", cfg.NetworkMode)
}

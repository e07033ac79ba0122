package sandbox

import "os"

// Config is populated from environment variables via envOrDefault /
// envInt64OrDefault helpers, with no config-framework dependency.
type Config struct {
	Enabled                 bool
	Image                   string
	WorkspacesRoot          string // host path bind-mounted at ContainerWorkspacesRoot
	ContainerWorkspacesRoot string
	SkillsDir               string
	MemoryLimit             int64
	NanoCPUs                int64
	PidsLimit               int64
	NetworkMode             string
	NamePrefix              string
}

func DefaultConfig() Config {
	return Config{
		Enabled:                 os.Getenv("SANDBOX_ENABLED") == "true",
		Image:                   envOrDefault("SANDBOX_IMAGE", "sessionrt-agent:latest"),
		WorkspacesRoot:          envOrDefault("DATA_ROOT", "/var/lib/sessionrt") + "/workspaces",
		ContainerWorkspacesRoot: "/workspaces",
		SkillsDir:               os.Getenv("PI_SKILLS_DIR"),
		MemoryLimit:             envInt64OrDefault("SANDBOX_MEMORY", 2*1024*1024*1024),
		NanoCPUs:                envInt64OrDefault("SANDBOX_CPUS", 2_000_000_000),
		PidsLimit:               envInt64OrDefault("SANDBOX_PIDS_LIMIT", 256),
		NetworkMode:             envOrDefault("SANDBOX_NETWORK", "bridge"),
		NamePrefix:              envOrDefault("SANDBOX_NAME_PREFIX", "sessionrt-sbx"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64OrDefault(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int64
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

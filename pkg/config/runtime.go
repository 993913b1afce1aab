// Package config loads the runtime's environment-derived settings into a
// single explicit struct, read once at process start and threaded through
// every constructor from there on — no package-global config (spec §9
// "Singletons → constructor-injected collaborators").
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Runtime is the process-wide configuration spacectl resolves at startup
// (spec §6 environment keys).
type Runtime struct {
	WorkspaceBaseDir string
	SandboxBaseImage string
	SandboxTimeoutMS int64
	DatabaseURL      string
}

const (
	envWorkspaceBaseDir = "WORKSPACE_BASE_DIR"
	envSandboxBaseImage = "SANDBOX_BASE_IMAGE"
	envSandboxTimeout   = "SANDBOX_TIMEOUT"
	envDatabaseURL      = "DATABASE_URL"

	defaultWorkspaceBaseDir = "/var/lib/spacectl/workspaces"
	defaultSandboxBaseImage = "alpine:latest"
	defaultSandboxTimeoutMS = int64(30_000)
	defaultDatabaseURL      = "spacectl.db"
)

// FromEnv reads the four spec-mandated environment keys, applying the same
// defaults a fresh install would need to run with zero configuration.
func FromEnv() (Runtime, error) {
	rt := Runtime{
		WorkspaceBaseDir: defaultWorkspaceBaseDir,
		SandboxBaseImage: defaultSandboxBaseImage,
		SandboxTimeoutMS: defaultSandboxTimeoutMS,
		DatabaseURL:      defaultDatabaseURL,
	}

	if v := os.Getenv(envWorkspaceBaseDir); v != "" {
		rt.WorkspaceBaseDir = v
	}
	if v := os.Getenv(envSandboxBaseImage); v != "" {
		rt.SandboxBaseImage = v
	}
	if v := os.Getenv(envSandboxTimeout); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Runtime{}, fmt.Errorf("parsing %s=%q: %w", envSandboxTimeout, v, err)
		}
		rt.SandboxTimeoutMS = ms
	}
	if v := os.Getenv(envDatabaseURL); v != "" {
		rt.DatabaseURL = v
	}

	return rt, nil
}

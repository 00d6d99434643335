// Package agent owns the AI command-line subprocess: binary discovery, the
// per-working-directory session that streams one turn at a time through it,
// and the registry enforcing at most one live session per process.
package agent

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// EnvBinary overrides binary discovery when set.
const EnvBinary = "RELAYCLAW_AGENT_BIN"

var (
	resolveOnce sync.Once
	resolved    string
)

// ResolveBinary locates the agent CLI executable. Resolution order: the
// environment override, PATH lookup of the configured name, a fixed list of
// known install locations, and finally the bare name (PATH resolution at
// spawn time). The lookup runs once per process lifetime.
func ResolveBinary(name string) string {
	resolveOnce.Do(func() {
		resolved = resolve(name)
	})
	return resolved
}

func resolve(name string) string {
	if name == "" {
		name = "claude"
	}
	if env := os.Getenv(EnvBinary); env != "" {
		return env
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}

	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, ".local", "bin", name),
		filepath.Join(home, ".claude", "local", name),
		filepath.Join(home, "node_modules", ".bin", name),
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/opt/homebrew/bin", name),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return name
}

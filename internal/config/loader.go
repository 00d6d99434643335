package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".relayclaw"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("RELAYCLAW_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// StateDir returns the directory holding the state database and session data.
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir), nil
}

// Load reads the config file (if present), applies environment overrides,
// and fills in defaults. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Each section is processed on its own so overrides stay flat:
	// the envconfig tag already carries the section name where one is
	// needed (RELAYCLAW_AGENT_BINARY, RELAYCLAW_RATE_LIMIT_PER_HOUR).
	sections := []interface{}{
		&cfg.Paths, &cfg.Agent, &cfg.Guard,
		&cfg.Channels.WhatsApp, &cfg.Channels.Slack,
		&cfg.Audit, &cfg.Gateway,
	}
	for _, section := range sections {
		if err := envconfig.Process("relayclaw", section); err != nil {
			return nil, fmt.Errorf("env overrides: %w", err)
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Save writes the config to the default path with owner-only permissions.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// FixPermissions tightens the config file mode to 0600 when it is group or
// world readable. Tokens and allow-lists live in this file. Returns true when
// a fix was applied.
func FixPermissions(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.Mode().Perm()&0077 == 0 {
		return false, nil
	}
	if err := os.Chmod(path, 0600); err != nil {
		return false, fmt.Errorf("chmod config: %w", err)
	}
	return true, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Agent.Binary == "" {
		cfg.Agent.Binary = def.Agent.Binary
	}
	if cfg.Agent.Timeout <= 0 {
		cfg.Agent.Timeout = def.Agent.Timeout
	}
	if cfg.Agent.HistoryWindow <= 0 {
		cfg.Agent.HistoryWindow = def.Agent.HistoryWindow
	}
	if cfg.Agent.MaxResponseLen <= 0 {
		cfg.Agent.MaxResponseLen = def.Agent.MaxResponseLen
	}
	if cfg.Agent.ActivityGap <= 0 {
		cfg.Agent.ActivityGap = def.Agent.ActivityGap
	}
	if cfg.Guard.RateLimitPerHour <= 0 {
		cfg.Guard.RateLimitPerHour = def.Guard.RateLimitPerHour
	}
	if cfg.Gateway.PollInterval <= 0 {
		cfg.Gateway.PollInterval = def.Gateway.PollInterval
	}
	if cfg.Gateway.DedupTTL <= 0 {
		cfg.Gateway.DedupTTL = def.Gateway.DedupTTL
	}
	if cfg.Audit.KafkaTopic == "" {
		cfg.Audit.KafkaTopic = def.Audit.KafkaTopic
	}
	if cfg.Paths.Workspace == "" {
		home, _ := os.UserHomeDir()
		cfg.Paths.Workspace = filepath.Join(home, "RelayClaw-Workspace")
	}
	if cfg.Paths.StatePath == "" {
		if dir, err := StateDir(); err == nil {
			cfg.Paths.StatePath = filepath.Join(dir, "relayclaw.db")
		}
	}
}

package app

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"agentdesk/internal/storage"
)

// RemoteConfig is one configured SSH target. Fields mirror
// storage.SSHRemoteConfig with yaml naming.
type RemoteConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	UseSSHConfig bool   `yaml:"use_ssh_config"`
	Enabled      bool   `yaml:"enabled"`
}

// Storage converts the yaml form into the descriptor backends accept.
func (r RemoteConfig) Storage() storage.SSHRemoteConfig {
	return storage.SSHRemoteConfig{
		ID:           r.ID,
		Name:         r.Name,
		Host:         r.Host,
		Port:         r.Port,
		Username:     r.Username,
		UseSSHConfig: r.UseSSHConfig,
		Enabled:      r.Enabled,
	}
}

type Config struct {
	LogFile          string         `yaml:"log_file"`
	OriginsDBPath    string         `yaml:"origins_db"`
	PageSize         int            `yaml:"page_size"`
	RemoteTimeoutSec int            `yaml:"remote_timeout_sec"`
	ScanWorkers      int            `yaml:"scan_workers"`
	ClaudeDir        string         `yaml:"claude_projects_dir"`
	OpencodeDir      string         `yaml:"opencode_data_dir"`
	CodexDir         string         `yaml:"codex_sessions_dir"`
	Remotes          []RemoteConfig `yaml:"remotes"`
}

func DefaultConfig() Config {
	return Config{
		PageSize:         storage.DefaultPageSize,
		RemoteTimeoutSec: 30,
		ScanWorkers:      8,
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = storage.DefaultPageSize
	}
	if cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	if cfg.ScanWorkers <= 0 {
		cfg.ScanWorkers = 8
	}
	if cfg.ScanWorkers > 32 {
		cfg.ScanWorkers = 32
	}
	if cfg.RemoteTimeoutSec <= 0 {
		cfg.RemoteTimeoutSec = 30
	}
	if cfg.RemoteTimeoutSec < 5 {
		cfg.RemoteTimeoutSec = 5
	}
	if cfg.RemoteTimeoutSec > 300 {
		cfg.RemoteTimeoutSec = 300
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "adesk", "config.yml")
}

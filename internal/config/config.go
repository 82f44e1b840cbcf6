// Package config loads reef settings from ~/.reef/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds reef settings.
type Config struct {
	SSH       SSHConfig     `yaml:"ssh"`
	Restart   RestartConfig `yaml:"restart"`
	Files     FilesConfig   `yaml:"files"`
	Fleet     FleetConfig   `yaml:"fleet"`
	Migrate   MigrateConfig `yaml:"migrate"`
	Audit     AuditConfig   `yaml:"audit"`
	Debug     DebugConfig   `yaml:"debug"`
	Instances []Instance    `yaml:"instances"`
}

// SSHConfig holds connection defaults applied when an instance does not
// override them.
type SSHConfig struct {
	User        string        `yaml:"user"`
	Port        int           `yaml:"port"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// KnownHosts enables host key verification against the given file.
	// When empty and InsecureSkipHostKeyCheck is false, any host key is
	// accepted and a warning is logged.
	KnownHosts               string `yaml:"known_hosts"`
	InsecureSkipHostKeyCheck bool   `yaml:"insecure_skip_host_key_check"`
}

// RestartConfig configures the restart orchestrator.
type RestartConfig struct {
	Settle time.Duration `yaml:"settle"`
}

// FilesConfig configures remote file access.
type FilesConfig struct {
	MaxReadBytes int64 `yaml:"max_read_bytes"`
}

// FleetConfig configures fleet-wide fan-out.
type FleetConfig struct {
	// Concurrency bounds in-flight units. Zero means unbounded.
	Concurrency int `yaml:"concurrency"`
	// DialsPerSecond paces unit starts. Zero means no pacing.
	DialsPerSecond float64 `yaml:"dials_per_second"`
}

// MigrateConfig configures agent migration.
type MigrateConfig struct {
	StagingDir string `yaml:"staging_dir"`
	// RemoteTempDir holds archives on the source and destination hosts.
	RemoteTempDir string `yaml:"remote_temp_dir"`
}

// AuditConfig configures the operation journal.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// DebugConfig configures debug log files.
type DebugConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Instance is one managed host. KeyRef is a secret reference
// (op://, asm://, keyring://, file://) resolving to the private key.
type Instance struct {
	ID     string `yaml:"id" json:"id"`
	Label  string `yaml:"label" json:"label,omitempty"`
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port,omitempty" json:"port,omitempty"`
	User   string `yaml:"user,omitempty" json:"user,omitempty"`
	KeyRef string `yaml:"key_ref" json:"key_ref"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		SSH: SSHConfig{
			User:        "root",
			Port:        22,
			DialTimeout: 15 * time.Second,
		},
		Restart: RestartConfig{Settle: 3 * time.Second},
		Files:   FilesConfig{MaxReadBytes: 1_000_000},
		Fleet:   FleetConfig{Concurrency: 16},
		Migrate: MigrateConfig{StagingDir: os.TempDir(), RemoteTempDir: "/tmp"},
		Audit:   AuditConfig{Path: filepath.Join(Dir(), "audit.db")},
		Debug:   DebugConfig{Dir: filepath.Join(Dir(), "debug"), RetentionDays: 14},
	}
}

// Dir returns the path to ~/.reef.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".reef")
	}
	return filepath.Join(homeDir, ".reef")
}

// DefaultPath returns the path to ~/.reef/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the config file at path (DefaultPath when empty), falling back
// to defaults when the file does not exist, then applies environment
// overrides. A file that exists but does not parse is an error: silently
// dropping the instance list would make every lookup fail later with a
// misleading message.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REEF_SSH_USER"); v != "" {
		cfg.SSH.User = v
	}
	if v := os.Getenv("REEF_SSH_KNOWN_HOSTS"); v != "" {
		cfg.SSH.KnownHosts = v
	}
	if v := os.Getenv("REEF_STAGING_DIR"); v != "" {
		cfg.Migrate.StagingDir = v
	}
	if v := os.Getenv("REEF_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("REEF_FLEET_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fleet.Concurrency = n
		}
	}
}

// Validate checks for values that cannot work.
func (c *Config) Validate() error {
	if c.Files.MaxReadBytes <= 0 {
		return fmt.Errorf("files.max_read_bytes must be positive")
	}
	if c.Restart.Settle < 0 {
		return fmt.Errorf("restart.settle must not be negative")
	}
	if c.Fleet.Concurrency < 0 {
		return fmt.Errorf("fleet.concurrency must not be negative")
	}
	if !strings.HasPrefix(c.Migrate.RemoteTempDir, "/") {
		return fmt.Errorf("migrate.remote_temp_dir must be an absolute path")
	}
	seen := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.ID == "" {
			return fmt.Errorf("instances[%d]: id is required", i)
		}
		if inst.Host == "" {
			return fmt.Errorf("instance %q: host is required", inst.ID)
		}
		if inst.KeyRef == "" {
			return fmt.Errorf("instance %q: key_ref is required", inst.ID)
		}
		if seen[inst.ID] {
			return fmt.Errorf("instance %q: duplicate id", inst.ID)
		}
		seen[inst.ID] = true
	}
	return nil
}

// Instance looks up a configured instance by id.
func (c *Config) Instance(id string) (Instance, bool) {
	for _, inst := range c.Instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return Instance{}, false
}

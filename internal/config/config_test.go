package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
ssh:
  user: ops
  dial_timeout: 5s
restart:
  settle: 1500ms
files:
  max_read_bytes: 2048
instances:
  - id: open-claw-hal
    label: hal
    host: 203.0.113.10
    key_ref: op://AI-Agents/hal - SSH Private Key/private key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SSH.User != "ops" {
		t.Errorf("SSH.User = %q, want ops", cfg.SSH.User)
	}
	if cfg.SSH.Port != 22 {
		t.Errorf("SSH.Port = %d, want default 22", cfg.SSH.Port)
	}
	if cfg.SSH.DialTimeout != 5*time.Second {
		t.Errorf("SSH.DialTimeout = %v, want 5s", cfg.SSH.DialTimeout)
	}
	if cfg.Restart.Settle != 1500*time.Millisecond {
		t.Errorf("Restart.Settle = %v, want 1.5s", cfg.Restart.Settle)
	}
	if cfg.Files.MaxReadBytes != 2048 {
		t.Errorf("Files.MaxReadBytes = %d, want 2048", cfg.Files.MaxReadBytes)
	}
	inst, ok := cfg.Instance("open-claw-hal")
	if !ok {
		t.Fatal("instance open-claw-hal not found")
	}
	if inst.Host != "203.0.113.10" || inst.Label != "hal" {
		t.Errorf("instance = %+v", inst)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SSH.User != "root" {
		t.Errorf("SSH.User = %q, want root", cfg.SSH.User)
	}
	if cfg.Restart.Settle != 3*time.Second {
		t.Errorf("Restart.Settle = %v, want 3s", cfg.Restart.Settle)
	}
	if cfg.Files.MaxReadBytes != 1_000_000 {
		t.Errorf("Files.MaxReadBytes = %d, want 1000000", cfg.Files.MaxReadBytes)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REEF_SSH_USER", "deploy")
	t.Setenv("REEF_FLEET_CONCURRENCY", "4")
	t.Setenv("REEF_STAGING_DIR", "/var/tmp/reef")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SSH.User != "deploy" {
		t.Errorf("SSH.User = %q, want deploy", cfg.SSH.User)
	}
	if cfg.Fleet.Concurrency != 4 {
		t.Errorf("Fleet.Concurrency = %d, want 4", cfg.Fleet.Concurrency)
	}
	if cfg.Migrate.StagingDir != "/var/tmp/reef" {
		t.Errorf("Migrate.StagingDir = %q", cfg.Migrate.StagingDir)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "ssh: [unterminated"},
		{"missing host", "instances:\n  - id: a\n    key_ref: file:///k\n"},
		{"missing key", "instances:\n  - id: a\n    host: h\n"},
		{"duplicate id", "instances:\n  - {id: a, host: h, key_ref: file:///k}\n  - {id: a, host: h2, key_ref: file:///k}\n"},
		{"zero read ceiling", "files:\n  max_read_bytes: 0\n"},
		{"relative remote temp dir", "migrate:\n  remote_temp_dir: tmp\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if dir != filepath.Join("/tmp/xdg", "agswitch") {
		t.Errorf("Dir() = %s, want /tmp/xdg/agswitch", dir)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper() error: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if !strings.HasSuffix(cfg.DataDir, ".agswitch") {
		t.Errorf("DataDir = %s, want ~/.agswitch", cfg.DataDir)
	}
	if cfg.DBPath() != filepath.Join(cfg.DataDir, "agswitch.db") {
		t.Errorf("DBPath() = %s", cfg.DBPath())
	}
	if cfg.LockPath() != filepath.Join(cfg.DataDir, "agswitch.lock") {
		t.Errorf("LockPath() = %s", cfg.LockPath())
	}
	if cfg.AccountsDir() != filepath.Join(cfg.DataDir, "accounts") {
		t.Errorf("AccountsDir() = %s", cfg.AccountsDir())
	}
	if len(cfg.Host.StateFiles) != 2 || cfg.Host.StateFiles[0] != "state.vscdb" {
		t.Errorf("StateFiles = %v", cfg.Host.StateFiles)
	}
	if cfg.Host.AuthKey != "antigravityAuthStatus" {
		t.Errorf("AuthKey = %s", cfg.Host.AuthKey)
	}
	if cfg.Host.StopTimeout != 10*time.Second || cfg.Host.StartTimeout != 15*time.Second || cfg.Host.PollInterval != 2*time.Second {
		t.Errorf("timeouts = %v/%v/%v", cfg.Host.StopTimeout, cfg.Host.StartTimeout, cfg.Host.PollInterval)
	}
	if cfg.Exchange.Extension != ".agsx" {
		t.Errorf("Extension = %s", cfg.Exchange.Extension)
	}
	if cfg.Log.File != filepath.Join(cfg.DataDir, "logs", "agswitch.log") {
		t.Errorf("Log.File = %s", cfg.Log.File)
	}
	if !strings.HasSuffix(cfg.Host.DataDir, filepath.Join("Antigravity", "User", "globalStorage")) {
		t.Errorf("Host.DataDir = %s", cfg.Host.DataDir)
	}
}

func TestLoadConfigFile(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir := filepath.Join(xdg, "agswitch")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	content := `data_dir = "/srv/agswitch"

[host]
state_files = ["state.vscdb"]
stop_timeout = "3s"
executable = "~/bin/antigravity"

[exchange]
extension = "bak"

[log]
level = "debug"
file = "off"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper() error: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DataDir != "/srv/agswitch" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if len(cfg.Host.StateFiles) != 1 {
		t.Errorf("StateFiles = %v", cfg.Host.StateFiles)
	}
	if cfg.Host.StopTimeout != 3*time.Second {
		t.Errorf("StopTimeout = %v", cfg.Host.StopTimeout)
	}
	if strings.HasPrefix(cfg.Host.Executable, "~") {
		t.Errorf("Executable = %s, want ~ expanded", cfg.Host.Executable)
	}
	if cfg.Exchange.Extension != ".bak" {
		t.Errorf("Extension = %s, want .bak", cfg.Exchange.Extension)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s", cfg.Log.Level)
	}
	if cfg.Log.File != "" {
		t.Errorf("Log.File = %s, want file sink disabled", cfg.Log.File)
	}
	// untouched keys keep their defaults
	if cfg.Host.StartTimeout != 15*time.Second {
		t.Errorf("StartTimeout = %v", cfg.Host.StartTimeout)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AGSWITCH_HOST_STOP_TIMEOUT", "45s")
	t.Setenv("AGSWITCH_DATA_DIR", "/var/lib/agswitch")

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper() error: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Host.StopTimeout != 45*time.Second {
		t.Errorf("StopTimeout = %v, want 45s", cfg.Host.StopTimeout)
	}
	if cfg.DataDir != "/var/lib/agswitch" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
}

func TestNewViperMissingExplicitFile(t *testing.T) {
	if _, err := NewViper(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("NewViper() with a missing explicit config file should fail")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
		want string
	}{
		{"zero stop timeout", "host.stop_timeout", "0s", "host.stop_timeout"},
		{"negative poll", "host.poll_interval", "-1s", "host.poll_interval"},
		{"no process names", "host.process_names", []string{}, "host.process_names"},
		{"no state files", "host.state_files", []string{}, "host.state_files"},
		{"nested state file", "host.state_files", []string{"../state.vscdb"}, "plain file name"},
		{"no auth key", "host.auth_key", "", "host.auth_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.val)

			_, err := Load(v)
			if err == nil {
				t.Fatalf("Load() with %s = %v should fail", tt.key, tt.val)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

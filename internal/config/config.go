// Package config loads agswitch settings from the config file, the
// environment, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/blackwell-systems/agswitch/internal/host"
)

// EnvPrefix prefixes environment overrides, e.g. AGSWITCH_HOST_STOP_TIMEOUT.
const EnvPrefix = "AGSWITCH"

// Dir returns the agswitch config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/agswitch if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "agswitch"), nil
}

// Config is the resolved configuration.
type Config struct {
	DataDir  string
	Host     HostConfig
	Exchange ExchangeConfig
	Log      LogConfig
}

// HostConfig describes the application whose state is switched.
type HostConfig struct {
	DataDir      string
	StateFiles   []string
	AuthKey      string
	Executable   string
	ProcessNames []string
	StopTimeout  time.Duration
	StartTimeout time.Duration
	PollInterval time.Duration
}

type ExchangeConfig struct {
	Extension string
}

type LogConfig struct {
	Level  string
	Format string
	File   string // empty disables the file sink
}

// logFileOff disables the log file when set as log.file.
const logFileOff = "off"

// DBPath returns the metadata database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "agswitch.db")
}

// LockPath returns the file that serializes switch, export, import and
// backup across agswitch processes.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "agswitch.lock")
}

// AccountsDir returns the directory holding snapshot files.
func (c *Config) AccountsDir() string {
	return filepath.Join(c.DataDir, "accounts")
}

// PIDFile returns the watch daemon PID file path.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "watch.pid")
}

// WatchLogFile returns where the watch daemon writes its output.
func (c *Config) WatchLogFile() string {
	return filepath.Join(c.DataDir, "logs", "watch.log")
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".agswitch")

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("host.data_dir", host.DefaultDataDir())
	v.SetDefault("host.state_files", []string{"state.vscdb", "state.vscdb.backup"})
	v.SetDefault("host.auth_key", "antigravityAuthStatus")
	v.SetDefault("host.executable", "")
	v.SetDefault("host.process_names", []string{"Antigravity", "antigravity", "Antigravity.exe"})
	v.SetDefault("host.stop_timeout", 10*time.Second)
	v.SetDefault("host.start_timeout", 15*time.Second)
	v.SetDefault("host.poll_interval", 2*time.Second)
	v.SetDefault("exchange.extension", ".agsx")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// NewViper returns a viper instance with defaults, environment overrides,
// and the config file read in. configFile overrides the default location
// ($XDG_CONFIG_HOME/agswitch/config.toml). A missing default file is not
// an error; a missing explicit file is.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate config directory: %w", err)
		}
		v.AddConfigPath(dir)
		v.SetConfigType("toml")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Load resolves and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir: expandHome(v.GetString("data_dir")),
		Host: HostConfig{
			DataDir:      expandHome(v.GetString("host.data_dir")),
			StateFiles:   v.GetStringSlice("host.state_files"),
			AuthKey:      v.GetString("host.auth_key"),
			Executable:   expandHome(v.GetString("host.executable")),
			ProcessNames: v.GetStringSlice("host.process_names"),
			StopTimeout:  v.GetDuration("host.stop_timeout"),
			StartTimeout: v.GetDuration("host.start_timeout"),
			PollInterval: v.GetDuration("host.poll_interval"),
		},
		Exchange: ExchangeConfig{
			Extension: v.GetString("exchange.extension"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			File:   expandHome(v.GetString("log.file")),
		},
	}

	switch cfg.Log.File {
	case "":
		cfg.Log.File = filepath.Join(cfg.DataDir, "logs", "agswitch.log")
	case logFileOff:
		cfg.Log.File = ""
	}

	if cfg.Exchange.Extension != "" && !strings.HasPrefix(cfg.Exchange.Extension, ".") {
		cfg.Exchange.Extension = "." + cfg.Exchange.Extension
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.Host.DataDir == "" {
		errs = append(errs, errors.New("host.data_dir must be set"))
	}
	if len(c.Host.StateFiles) == 0 {
		errs = append(errs, errors.New("host.state_files must list at least one file"))
	}
	for _, f := range c.Host.StateFiles {
		if f == "" || strings.ContainsAny(f, `/\`) {
			errs = append(errs, fmt.Errorf("host.state_files: %q is not a plain file name", f))
		}
	}
	if c.Host.AuthKey == "" {
		errs = append(errs, errors.New("host.auth_key must be set"))
	}
	if len(c.Host.ProcessNames) == 0 {
		errs = append(errs, errors.New("host.process_names must list at least one name"))
	}
	for key, d := range map[string]time.Duration{
		"host.stop_timeout":  c.Host.StopTimeout,
		"host.start_timeout": c.Host.StartTimeout,
		"host.poll_interval": c.Host.PollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", key))
		}
	}
	if c.Exchange.Extension == "" {
		errs = append(errs, errors.New("exchange.extension must be set"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

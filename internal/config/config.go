// Package config loads fem settings from a config file, FEM_ environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/eshe-huli/ringforge/fem/internal/buffer"
	"github.com/eshe-huli/ringforge/fem/internal/notify"
)

// Id persistence backends.
const (
	IDsFile   = "file"
	IDsSQLite = "sqlite"
	IDsNone   = "none"
)

// Config holds the resolved settings.
type Config struct {
	Interval time.Duration
	Capacity int
	Backend  string
	IDs      IDsConfig
	Database string
	LogLevel string
	Forward  ForwardConfig
}

// IDsConfig selects where file ids are persisted.
type IDsConfig struct {
	Backend string
	File    string
}

// ForwardConfig configures the optional event forwarder. An empty URL
// disables forwarding.
type ForwardConfig struct {
	URL      string
	Token    string
	Interval time.Duration
}

// Enabled reports whether forwarding is configured.
func (f ForwardConfig) Enabled() bool { return f.URL != "" }

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("interval", buffer.DefaultInterval)
	v.SetDefault("capacity", buffer.DefaultCapacity)
	v.SetDefault("backend", notify.DefaultBackend())
	v.SetDefault("ids.backend", IDsFile)
	v.SetDefault("ids.file", filepath.Join(home, ".fem", "ids.json"))
	v.SetDefault("database", filepath.Join(home, ".fem", "fem.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("forward.url", "")
	v.SetDefault("forward.token", "")
	v.SetDefault("forward.interval", 5*time.Second)
}

// Load resolves the configuration. path names an explicit config file; when
// empty, $HOME/.fem.yaml is read if it exists. Flags in the set whose names
// match a key (with "-" in place of "." and "_") override everything else.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	v := viper.New()
	setDefaults(v, home)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(".fem")
	}

	v.SetEnvPrefix("FEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Interval: v.GetDuration("interval"),
		Capacity: v.GetInt("capacity"),
		Backend:  v.GetString("backend"),
		IDs: IDsConfig{
			Backend: v.GetString("ids.backend"),
			File:    expandHome(v.GetString("ids.file"), home),
		},
		Database: expandHome(v.GetString("database"), home),
		LogLevel: v.GetString("log_level"),
		Forward: ForwardConfig{
			URL:      v.GetString("forward.url"),
			Token:    v.GetString("forward.token"),
			Interval: v.GetDuration("forward.interval"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var flagKeys = map[string]string{
	"interval":         "interval",
	"capacity":         "capacity",
	"backend":          "backend",
	"ids-backend":      "ids.backend",
	"ids-file":         "ids.file",
	"database":         "database",
	"log-level":        "log_level",
	"forward-url":      "forward.url",
	"forward-token":    "forward.token",
	"forward-interval": "forward.interval",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	switch c.Backend {
	case notify.BackendInotify, notify.BackendFsnotify:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.IDs.Backend {
	case IDsFile, IDsSQLite, IDsNone:
	default:
		return fmt.Errorf("unknown ids backend %q", c.IDs.Backend)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.Capacity == 0 {
		return errors.New("capacity must be positive or -1 for unbounded")
	}
	if c.Forward.Enabled() && c.Forward.Interval <= 0 {
		return fmt.Errorf("forward.interval must be positive, got %v", c.Forward.Interval)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// AddFlags registers the flags Load knows how to bind.
func AddFlags(flags *pflag.FlagSet) {
	flags.Duration("interval", buffer.DefaultInterval, "debounce interval")
	flags.Int("capacity", buffer.DefaultCapacity, "events kept per file (-1 for unbounded)")
	flags.String("backend", notify.DefaultBackend(), "notification backend (inotify, fsnotify)")
	flags.String("ids-backend", IDsFile, "id persistence (file, sqlite, none)")
	flags.String("ids-file", "~/.fem/ids.json", "id table file for the file backend")
	flags.String("database", "~/.fem/fem.db", "SQLite database path")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("forward-url", "", "Phoenix WebSocket URL to forward events to")
	flags.String("forward-token", "", "bearer token for forwarding")
	flags.Duration("forward-interval", 5*time.Second, "forwarding flush period")
}

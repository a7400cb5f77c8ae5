// Package config loads the shell's settings from an optional config.json in
// the application data directory, with RESTDESK_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. RESTDESK_LOG_LEVEL.
const EnvPrefix = "RESTDESK"

// AppConfig holds the shell configuration.
type AppConfig struct {
	Log     LogConfig     `mapstructure:"log"`
	Backend BackendConfig `mapstructure:"backend"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// BackendConfig controls how the companion backend is supervised. The
// backend itself is always started without arguments.
type BackendConfig struct {
	Address       string        `mapstructure:"address"`
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
	StopOnExit    bool          `mapstructure:"stop_on_exit"`
	RestartOnExit bool          `mapstructure:"restart_on_exit"`
	MaxRestarts   int           `mapstructure:"max_restarts"`
	RestartDelay  time.Duration `mapstructure:"restart_delay"`
}

// Defaults contains all default configuration values.
var Defaults = AppConfig{
	Log: LogConfig{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 5,
	},
	Backend: BackendConfig{
		Address:       "127.0.0.1:3000",
		ReadyTimeout:  30 * time.Second,
		StopTimeout:   10 * time.Second,
		StopOnExit:    true,
		RestartOnExit: false,
		MaxRestarts:   3,
		RestartDelay:  2 * time.Second,
	},
}

// Load reads configPath if it exists. A missing file is not an error: the
// defaults (plus environment overrides) are returned instead.
func Load(configPath string) (AppConfig, error) {
	v := viper.New()

	v.SetDefault("log.level", Defaults.Log.Level)
	v.SetDefault("log.max_size_mb", Defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", Defaults.Log.MaxBackups)
	v.SetDefault("backend.address", Defaults.Backend.Address)
	v.SetDefault("backend.ready_timeout", Defaults.Backend.ReadyTimeout)
	v.SetDefault("backend.stop_timeout", Defaults.Backend.StopTimeout)
	v.SetDefault("backend.stop_on_exit", Defaults.Backend.StopOnExit)
	v.SetDefault("backend.restart_on_exit", Defaults.Backend.RestartOnExit)
	v.SetDefault("backend.max_restarts", Defaults.Backend.MaxRestarts)
	v.SetDefault("backend.restart_delay", Defaults.Backend.RestartDelay)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		_, err := os.Stat(configPath)
		switch {
		case err == nil:
			v.SetConfigFile(configPath)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return AppConfig{}, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
			}
			slog.Info("Using configuration file", "path", configPath)
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("no configuration file, using defaults", "path", configPath)
		default:
			return AppConfig{}, fmt.Errorf("failed to stat config file '%s': %w", configPath, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func validate(cfg AppConfig) error {
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be positive, got %d", cfg.Log.MaxSizeMB)
	}
	if cfg.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups must not be negative, got %d", cfg.Log.MaxBackups)
	}

	b := cfg.Backend
	if b.Address != "" {
		if _, _, err := net.SplitHostPort(b.Address); err != nil {
			return fmt.Errorf("backend.address %q: %w", b.Address, err)
		}
	}
	if b.ReadyTimeout < 0 {
		return fmt.Errorf("backend.ready_timeout must not be negative, got %s", b.ReadyTimeout)
	}
	if b.StopTimeout <= 0 {
		return fmt.Errorf("backend.stop_timeout must be positive, got %s", b.StopTimeout)
	}
	if b.MaxRestarts < 0 {
		return fmt.Errorf("backend.max_restarts must not be negative, got %d", b.MaxRestarts)
	}
	if b.RestartDelay < 0 {
		return fmt.Errorf("backend.restart_delay must not be negative, got %s", b.RestartDelay)
	}
	return nil
}

// ParseLevel maps a config level name onto a slog level.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

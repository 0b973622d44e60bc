// Package config loads pane-relay configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (PANE_RELAY_*)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order:
//  1. explicit --config path
//  2. .pane-relay.yaml in current directory
//  3. ~/.config/pane-relay/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pane-relay configuration.
type Config struct {
	// Server
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`

	// tmux
	TmuxSocket    string `yaml:"tmux_socket"` // absolute path passed as `tmux -S`; empty uses the default server
	DefaultTarget string `yaml:"default_target"`
	SettingsFile  string `yaml:"settings_file"`

	// Streaming. Go duration strings, e.g. "2s".
	PollInterval      string `yaml:"poll_interval"`
	CaptureBackoff    string `yaml:"capture_backoff"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	ReceiveTimeout    string `yaml:"receive_timeout"`
	WriteTimeout      string `yaml:"write_timeout"`
	CommandTimeout    string `yaml:"command_timeout"`

	// Refresh hints; "off" disables the socket.
	HintSocket string `yaml:"hint_socket"`

	// Logging
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed durations (not from YAML, set after loading)
	PollIntervalDuration      time.Duration `yaml:"-"`
	CaptureBackoffDuration    time.Duration `yaml:"-"`
	HeartbeatIntervalDuration time.Duration `yaml:"-"`
	ReceiveTimeoutDuration    time.Duration `yaml:"-"`
	WriteTimeoutDuration      time.Duration `yaml:"-"`
	CommandTimeoutDuration    time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		Listen:            "127.0.0.1:8000",
		CORSOrigins:       []string{"http://localhost:3000", "http://localhost:3010"},
		DefaultTarget:     "default",
		SettingsFile:      "tmux_settings.json",
		PollInterval:      "2s",
		CaptureBackoff:    "5s",
		HeartbeatInterval: "15s",
		ReceiveTimeout:    "20s",
		WriteTimeout:      "10s",
		CommandTimeout:    "10s",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads configuration from path (or the search order when empty) and
// environment variables. Environment variables always override file values.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	path, data, err := findConfigFile(path)
	switch {
	case err == nil:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	case path != "":
		return nil, err
	}

	// Environment variables override everything
	mergeEnv(cfg)

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid log format %q: want text or json", cfg.LogFormat)
	}
	return cfg, nil
}

func (c *Config) parseDurations() error {
	fields := []struct {
		name     string
		raw      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"poll interval", c.PollInterval, 2 * time.Second, &c.PollIntervalDuration},
		{"capture backoff", c.CaptureBackoff, 5 * time.Second, &c.CaptureBackoffDuration},
		{"heartbeat interval", c.HeartbeatInterval, 15 * time.Second, &c.HeartbeatIntervalDuration},
		{"receive timeout", c.ReceiveTimeout, 20 * time.Second, &c.ReceiveTimeoutDuration},
		{"write timeout", c.WriteTimeout, 10 * time.Second, &c.WriteTimeoutDuration},
		{"command timeout", c.CommandTimeout, 10 * time.Second, &c.CommandTimeoutDuration},
	}
	for _, f := range fields {
		d, err := parseDurationOrDisable(f.raw, f.fallback)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
		if d == 0 {
			// Every streaming timer needs a positive period.
			d = f.fallback
		}
		*f.dst = d
	}
	return nil
}

// HintsDisabled reports whether the refresh-hint socket is turned off.
func (c *Config) HintsDisabled() bool {
	switch strings.ToLower(c.HintSocket) {
	case "off", "disable", "none":
		return true
	}
	return false
}

// findConfigFile returns the explicit path's contents, or searches the
// default locations when explicit is empty.
func findConfigFile(explicit string) (string, []byte, error) {
	if explicit != "" {
		data, err := os.ReadFile(explicit)
		if err != nil {
			return explicit, nil, fmt.Errorf("reading config file: %w", err)
		}
		return explicit, data, nil
	}

	// 1. Current directory
	if data, err := os.ReadFile(".pane-relay.yaml"); err == nil {
		return ".pane-relay.yaml", data, nil
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "pane-relay", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	if file.Listen != "" {
		cfg.Listen = file.Listen
	}
	if len(file.CORSOrigins) > 0 {
		cfg.CORSOrigins = file.CORSOrigins
	}
	if file.TmuxSocket != "" {
		cfg.TmuxSocket = file.TmuxSocket
	}
	if file.DefaultTarget != "" {
		cfg.DefaultTarget = file.DefaultTarget
	}
	if file.SettingsFile != "" {
		cfg.SettingsFile = file.SettingsFile
	}
	if file.PollInterval != "" {
		cfg.PollInterval = file.PollInterval
	}
	if file.CaptureBackoff != "" {
		cfg.CaptureBackoff = file.CaptureBackoff
	}
	if file.HeartbeatInterval != "" {
		cfg.HeartbeatInterval = file.HeartbeatInterval
	}
	if file.ReceiveTimeout != "" {
		cfg.ReceiveTimeout = file.ReceiveTimeout
	}
	if file.WriteTimeout != "" {
		cfg.WriteTimeout = file.WriteTimeout
	}
	if file.CommandTimeout != "" {
		cfg.CommandTimeout = file.CommandTimeout
	}
	if file.HintSocket != "" {
		cfg.HintSocket = file.HintSocket
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.LogFormat != "" {
		cfg.LogFormat = file.LogFormat
	}
	if file.OTELEndpoint != "" {
		cfg.OTELEndpoint = file.OTELEndpoint
	}
	if file.OTELHeaders != "" {
		cfg.OTELHeaders = file.OTELHeaders
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) {
	str := map[string]*string{
		"PANE_RELAY_LISTEN":             &cfg.Listen,
		"PANE_RELAY_TMUX_SOCKET":        &cfg.TmuxSocket,
		"PANE_RELAY_DEFAULT_TARGET":     &cfg.DefaultTarget,
		"PANE_RELAY_SETTINGS_FILE":      &cfg.SettingsFile,
		"PANE_RELAY_POLL_INTERVAL":      &cfg.PollInterval,
		"PANE_RELAY_CAPTURE_BACKOFF":    &cfg.CaptureBackoff,
		"PANE_RELAY_HEARTBEAT_INTERVAL": &cfg.HeartbeatInterval,
		"PANE_RELAY_RECEIVE_TIMEOUT":    &cfg.ReceiveTimeout,
		"PANE_RELAY_WRITE_TIMEOUT":      &cfg.WriteTimeout,
		"PANE_RELAY_COMMAND_TIMEOUT":    &cfg.CommandTimeout,
		"PANE_RELAY_HINT_SOCKET":        &cfg.HintSocket,
		"PANE_RELAY_LOG_LEVEL":          &cfg.LogLevel,
		"PANE_RELAY_LOG_FORMAT":         &cfg.LogFormat,
		"OTEL_EXPORTER_OTLP_ENDPOINT":   &cfg.OTELEndpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":    &cfg.OTELHeaders,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("PANE_RELAY_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

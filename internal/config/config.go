package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Scan sources understood by cmd/adapter.
const (
	SourceMock = "mock"
	SourceHost = "host"
)

type Config struct {
	Adapter AdapterConfig `yaml:"adapter"`
	Scan    ScanConfig    `yaml:"scan"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

type AdapterConfig struct {
	Name         string        `yaml:"name"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

// Addr returns the SHDR listen address.
func (a AdapterConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

type ScanConfig struct {
	Source   string        `yaml:"source"`
	Interval time.Duration `yaml:"interval"`
	// CPUWarning and MemoryFault are percentages used by the host source.
	CPUWarning  float64 `yaml:"cpu_warning"`
	MemoryFault float64 `yaml:"memory_fault"`
}

type HTTPConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
	MetricsPath    string   `yaml:"metrics_path"`
}

// Addr returns the mirror listen address.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel maps the configured level name onto slog.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultConfig() *Config {
	return &Config{
		Adapter: AdapterConfig{
			Name:         "SHDR",
			Host:         "0.0.0.0",
			Port:         7878,
			Heartbeat:    10 * time.Second,
			WriteTimeout: 5 * time.Second,
			StopTimeout:  4 * time.Second,
		},
		Scan: ScanConfig{
			Source:      SourceMock,
			Interval:    time.Second,
			CPUWarning:  85,
			MemoryFault: 95,
		},
		HTTP: HTTPConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			MetricsPath: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads path on top of the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load but a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Adapter.Port < 0 || c.Adapter.Port > 65535 {
		errs = append(errs, fmt.Errorf("adapter.port %d out of range", c.Adapter.Port))
	}
	if c.Adapter.Heartbeat < 0 {
		errs = append(errs, errors.New("adapter.heartbeat must not be negative"))
	}
	if c.Adapter.WriteTimeout < 0 {
		errs = append(errs, errors.New("adapter.write_timeout must not be negative"))
	}
	if c.Scan.Interval <= 0 {
		errs = append(errs, errors.New("scan.interval must be positive"))
	}
	switch c.Scan.Source {
	case SourceMock, SourceHost:
	default:
		errs = append(errs, fmt.Errorf("scan.source %q is not one of %s, %s", c.Scan.Source, SourceMock, SourceHost))
	}
	if c.HTTP.Enabled && (c.HTTP.Port < 0 || c.HTTP.Port > 65535) {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.MaxConnections < 0 {
		errs = append(errs, errors.New("http.max_connections must not be negative"))
	}
	if c.HTTP.MetricsPath != "" && !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("http.metrics_path %q must start with /", c.HTTP.MetricsPath))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

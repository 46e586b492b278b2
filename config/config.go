// Package config loads the server configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/freekieb7/causeway/http"
)

type Config struct {
	Name      string          `toml:"name"`
	Server    http.Settings   `toml:"server"`
	Static    StaticConfig    `toml:"static"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type StaticConfig struct {
	// Dir is served below Prefix; empty disables static files.
	Dir    string `toml:"dir"`
	Prefix string `toml:"prefix"`
}

type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
	Environment string `toml:"environment"`
	// Interval between metric exports.
	MetricInterval time.Duration `toml:"metric_interval"`
}

func Default() *Config {
	return &Config{
		Name:   "causeway",
		Server: http.DefaultSettings(),
		Static: StaticConfig{
			Prefix: "/static/",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "127.0.0.1:4317",
			Insecure:       true,
			ServiceName:    "causeway",
			Environment:    "development",
			MetricInterval: 30 * time.Second,
		},
	}
}

// Load reads path when it exists, applies CAUSEWAY_* environment overrides,
// fills defaults and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		err := LoadTOML(cfg, path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path into cfg. Keys missing from the file
// keep the value cfg already had.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) ApplyEnvOverrides() {
	// CAUSEWAY_ADDR
	if addr := os.Getenv("CAUSEWAY_ADDR"); addr != "" {
		c.Server.Addr = addr
	}

	// CAUSEWAY_MAX_PIPELINED_REQUESTS
	if v := os.Getenv("CAUSEWAY_MAX_PIPELINED_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.MaxPipelinedRequests = n
		}
	}

	// CAUSEWAY_REQUEST_TIMEOUT
	if v := os.Getenv("CAUSEWAY_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Server.RequestTimeout = d
		}
	}

	// CAUSEWAY_STATIC_DIR
	if dir := os.Getenv("CAUSEWAY_STATIC_DIR"); dir != "" {
		c.Static.Dir = dir
	}

	// CAUSEWAY_TELEMETRY
	if v := os.Getenv("CAUSEWAY_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = v == "1" || strings.ToLower(v) == "true"
	}

	// OTEL_EXPORTER_OTLP_ENDPOINT is honoured as well since it is what the
	// exporters read by default
	if endpoint := os.Getenv("CAUSEWAY_OTLP_ENDPOINT"); endpoint != "" {
		c.Telemetry.Endpoint = endpoint
	} else if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Telemetry.Endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
	}
}

func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Name == "" {
		c.Name = defaults.Name
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.MaxPipelinedRequests == 0 {
		c.Server.MaxPipelinedRequests = defaults.Server.MaxPipelinedRequests
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = defaults.Server.MaxHeaderBytes
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}
	if c.Server.AcceptRate > 0 && c.Server.AcceptBurst == 0 {
		c.Server.AcceptBurst = int(c.Server.AcceptRate) + 1
	}

	if c.Static.Prefix == "" {
		c.Static.Prefix = defaults.Static.Prefix
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.Name
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = defaults.Telemetry.Endpoint
	}
	if c.Telemetry.MetricInterval == 0 {
		c.Telemetry.MetricInterval = defaults.Telemetry.MetricInterval
	}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.MaxPipelinedRequests < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.max_pipelined_requests",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Server.MaxPipelinedRequests),
		})
	}

	durations := map[string]time.Duration{
		"server.read_header_timeout": c.Server.ReadHeaderTimeout,
		"server.idle_timeout":        c.Server.IdleTimeout,
		"server.request_timeout":     c.Server.RequestTimeout,
		"server.write_timeout":       c.Server.WriteTimeout,
	}
	for field, d := range durations {
		if d < 0 {
			errs = append(errs, ValidationError{Field: field, Message: "cannot be negative"})
		}
	}

	if c.Server.MaxHeaderBytes < 0 {
		errs = append(errs, ValidationError{Field: "server.max_header_bytes", Message: "cannot be negative"})
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, ValidationError{Field: "server.max_body_bytes", Message: "cannot be negative"})
	}
	if c.Server.AcceptRate < 0 {
		errs = append(errs, ValidationError{Field: "server.accept_rate", Message: "cannot be negative"})
	}

	if c.Static.Dir != "" && !strings.HasPrefix(c.Static.Prefix, "/") {
		errs = append(errs, ValidationError{
			Field:   "static.prefix",
			Message: fmt.Sprintf("must start with '/', got %q", c.Static.Prefix),
		})
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, ValidationError{Field: "telemetry.endpoint", Message: "required when telemetry is enabled"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "causeway.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
name = "edge"

[server]
addr = "127.0.0.1:9000"
max_pipelined_requests = 4
request_timeout = "2s"
max_body_bytes = 1024

[static]
dir = "./public"

[telemetry]
enabled = true
endpoint = "collector:4317"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "edge", cfg.Name)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	require.Equal(t, 4, cfg.Server.MaxPipelinedRequests)
	require.Equal(t, 2*time.Second, cfg.Server.RequestTimeout)
	require.Equal(t, int64(1024), cfg.Server.MaxBodyBytes)

	// untouched keys keep their defaults
	require.Equal(t, Default().Server.IdleTimeout, cfg.Server.IdleTimeout)
	require.Equal(t, "/static/", cfg.Static.Prefix)
	require.Equal(t, "edge", cfg.Telemetry.ServiceName)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
[server]
max_pipelined = 4
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "server.max_pipelined")
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, `
[server]
max_pipelined_requests = -1
idle_timeout = "-5s"
`)

	_, err := Load(path)
	require.Error(t, err)

	var errs ValidateErrors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 2)
	require.ErrorContains(t, err, "server.max_pipelined_requests")
	require.ErrorContains(t, err, "server.idle_timeout")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CAUSEWAY_ADDR", ":7070")
	t.Setenv("CAUSEWAY_MAX_PIPELINED_REQUESTS", "32")
	t.Setenv("CAUSEWAY_REQUEST_TIMEOUT", "750ms")
	t.Setenv("CAUSEWAY_TELEMETRY", "true")
	t.Setenv("CAUSEWAY_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://otel:4317")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	require.Equal(t, ":7070", cfg.Server.Addr)
	require.Equal(t, 32, cfg.Server.MaxPipelinedRequests)
	require.Equal(t, 750*time.Millisecond, cfg.Server.RequestTimeout)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "otel:4317", cfg.Telemetry.Endpoint)
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Server.AcceptRate = 10
	cfg.SetDefaults()

	require.Equal(t, "causeway", cfg.Name)
	require.Equal(t, Default().Server.MaxPipelinedRequests, cfg.Server.MaxPipelinedRequests)
	require.Equal(t, 11, cfg.Server.AcceptBurst)
	require.NoError(t, cfg.Validate())
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Zero(t, cfg.Server.RequestTimeout)
	assert.Zero(t, cfg.Server.WriteTimeout)
	assert.Zero(t, cfg.Gateway.Timeout)
	assert.Equal(t, "https://ai.gateway.lovable.dev/v1/", cfg.Gateway.BaseURL)
	assert.Equal(t, "google/gemini-3-flash-preview", cfg.Gateway.Model)
	assert.Equal(t, 0.7, cfg.Pipeline.ExtractThreshold)
	assert.Equal(t, 0.1, cfg.Pipeline.ClassifyTemp)
	assert.Equal(t, 0.2, cfg.Pipeline.ExtractTemp)
	assert.Equal(t, 0.3, cfg.Pipeline.SummaryTemp)
	assert.Equal(t, 5, cfg.Pipeline.DedupLimit)
	assert.Equal(t, "Unknown", cfg.Pipeline.DefaultSourceName)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("LLM_TIMEOUT", "15s")
	t.Setenv("REQUEST_TIMEOUT", "60s")
	t.Setenv("WRITE_TIMEOUT", "70s")
	t.Setenv("EXTRACT_THRESHOLD", "0.85")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Gateway.APIKey)
	assert.Equal(t, 15*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 70*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 0.85, cfg.Pipeline.ExtractThreshold)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.NoError(t, cfg.RequireGateway())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  deduplimit: 3
  timezone: UTC
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.DedupLimit)
	assert.Equal(t, "UTC", cfg.Pipeline.Timezone)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("threshold_out_of_range", func(t *testing.T) {
		t.Setenv("EXTRACT_THRESHOLD", "1.5")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestRequireGateway(t *testing.T) {
	cfg := &Config{}
	assert.EqualError(t, cfg.RequireGateway(), "LLM_API_KEY is required")
}

func TestPipelineLocation(t *testing.T) {
	assert.Equal(t, time.UTC, PipelineConfig{Timezone: "Mars/Olympus"}.Location())
	assert.Equal(t, "UTC", PipelineConfig{Timezone: "UTC"}.Location().String())
}

func TestTimeoutBudget(t *testing.T) {
	tests := []struct {
		name    string
		gateway time.Duration
		request time.Duration
		write   time.Duration
		wantErr bool
	}{
		{"all_disabled", 0, 0, 0, false},
		{"gateway_unbounded", 0, 30 * time.Second, 30 * time.Second, false},
		{"covers_chain", 60 * time.Second, 180 * time.Second, 190 * time.Second, false},
		{"request_disabled_write_covers_chain", 60 * time.Second, 0, 180 * time.Second, false},
		{"request_shorter_than_chain", 60 * time.Second, 120 * time.Second, 0, true},
		{"write_shorter_than_request", 60 * time.Second, 180 * time.Second, 90 * time.Second, true},
		{"write_shorter_than_chain", 60 * time.Second, 0, 90 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{RequestTimeout: tt.request, WriteTimeout: tt.write},
				Gateway:  GatewayConfig{Timeout: tt.gateway},
				Pipeline: PipelineConfig{ExtractThreshold: 0.7, DedupLimit: 5},
			}
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad_DefaultTimeoutsCoverSubmission(t *testing.T) {
	t.Setenv("LLM_TIMEOUT", "45s")

	cfg, err := Load("")
	require.NoError(t, err)

	chain := GatewayCallsPerSubmission * cfg.Gateway.Timeout
	if cfg.Server.RequestTimeout > 0 {
		assert.GreaterOrEqual(t, cfg.Server.RequestTimeout, chain)
	}
	if cfg.Server.WriteTimeout > 0 {
		assert.GreaterOrEqual(t, cfg.Server.WriteTimeout, cfg.Server.RequestTimeout)
		assert.GreaterOrEqual(t, cfg.Server.WriteTimeout, chain)
	}
}

func TestLoad_RejectsShortRequestTimeout(t *testing.T) {
	t.Setenv("LLM_TIMEOUT", "60s")
	t.Setenv("REQUEST_TIMEOUT", "120s")

	_, err := Load("")
	assert.ErrorContains(t, err, "server.requesttimeout")
}

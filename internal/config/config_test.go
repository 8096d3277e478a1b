package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-screener/internal/llm"
)

func load(t *testing.T, path string) *Config {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	cfg, err := Load(v, path)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(t, "")

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, llm.ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, llm.DefaultMaxTokens, cfg.LLM.MaxTokens)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrentRuns)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLFile(t *testing.T) {
	content := `
database_url: postgres://localhost/screener
server:
  addr: "127.0.0.1:9000"
  rate_limit: 5
  rate_burst: 5
llm:
  provider: OpenAI
  base_url: http://localhost:11434/v1
  model: llama3
  timeout: 45s
pipeline:
  max_concurrent_runs: 2
  calls_per_second: 1.5
`
	path := filepath.Join(t.TempDir(), "screener.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := load(t, path)

	assert.Equal(t, "postgres://localhost/screener", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, llm.ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 2, cfg.Pipeline.MaxConcurrentRuns)
	assert.InDelta(t, 1.5, cfg.Pipeline.CallsPerSecond, 1e-9)
	assert.NoError(t, cfg.Validate())

	provider := cfg.ProviderConfig()
	assert.True(t, provider.HasCredentials(), "openai with a base url needs no key")
}

func TestLoad_FileErrors(t *testing.T) {
	v, err := New()
	require.NoError(t, err)
	_, err = Load(v, "/nonexistent/path/screener.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{ invalid json }`), 0644))
	v, err = New()
	require.NoError(t, err)
	_, err = Load(v, path)
	assert.Error(t, err)
}

func TestLoad_UnknownProvider(t *testing.T) {
	t.Setenv("SCREENER_LLM_PROVIDER", "watson")
	v, err := New()
	require.NoError(t, err)
	_, err = Load(v, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("SCREENER_SERVER_ADDR", ":9090")
	t.Setenv("SCREENER_LLM_MODEL", "claude-haiku-4-5")
	t.Setenv("SCREENER_PIPELINE_UPLOAD_WORKERS", "8")
	t.Setenv("DATABASE_URL", "postgres://legacy/db")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-legacy")

	cfg := load(t, "")

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "claude-haiku-4-5", cfg.LLM.Model)
	assert.Equal(t, 8, cfg.Pipeline.UploadWorkers)
	assert.Equal(t, "postgres://legacy/db", cfg.DatabaseURL)

	provider := cfg.ProviderConfig()
	assert.Equal(t, "sk-ant-legacy", provider.APIKey)
}

func TestLoad_PrefixedWinsOverLegacy(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://legacy/db")
	t.Setenv("SCREENER_DATABASE_URL", "postgres://prefixed/db")

	cfg := load(t, "")
	assert.Equal(t, "postgres://prefixed/db", cfg.DatabaseURL)
}

func TestProviderConfig_ExplicitKeyWins(t *testing.T) {
	cfg := &Config{
		LLM:  llm.Config{Provider: llm.ProviderGemini, APIKey: "explicit"},
		Keys: ProviderKeys{Gemini: "from-env"},
	}
	assert.Equal(t, "explicit", cfg.ProviderConfig().APIKey)

	cfg.LLM.APIKey = ""
	got := cfg.ProviderConfig()
	assert.Equal(t, "from-env", got.APIKey)
	assert.Equal(t, llm.DefaultModel(llm.ProviderGemini), got.Model)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Addr: ":8080", RateLimit: 1, RateBurst: 1, MaxUploadBytes: 1 << 20},
			LLM:      llm.DefaultConfig(),
			Pipeline: PipelineConfig{MaxConcurrentRuns: 1, UploadWorkers: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad addr", mutate: func(c *Config) { c.Server.Addr = "8080" }, wantErr: "server.addr"},
		{name: "negative rate", mutate: func(c *Config) { c.Server.RateLimit = -1 }, wantErr: "server.rate_limit"},
		{name: "zero burst", mutate: func(c *Config) { c.Server.RateBurst = 0 }, wantErr: "server.rate_burst"},
		{name: "zero upload size", mutate: func(c *Config) { c.Server.MaxUploadBytes = 0 }, wantErr: "max_upload_bytes"},
		{name: "zero runs", mutate: func(c *Config) { c.Pipeline.MaxConcurrentRuns = 0 }, wantErr: "max_concurrent_runs"},
		{name: "negative pacing", mutate: func(c *Config) { c.Pipeline.CallsPerSecond = -2 }, wantErr: "calls_per_second"},
		{name: "zero workers", mutate: func(c *Config) { c.Pipeline.UploadWorkers = 0 }, wantErr: "upload_workers"},
		{name: "negative ocr timeout", mutate: func(c *Config) { c.Pipeline.OCRTimeout = -time.Second }, wantErr: "ocr_timeout"},
		{name: "bad base url", mutate: func(c *Config) { c.LLM.BaseURL = "not a url" }, wantErr: "base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Addr: ":1"}, LLM: llm.DefaultConfig()}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_upload_bytes")
	assert.Contains(t, err.Error(), "max_concurrent_runs")
	assert.Contains(t, err.Error(), "upload_workers")
}

// Package config loads process configuration from an optional file, the
// environment and defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonathan/resume-screener/internal/llm"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "SCREENER"

// Config is the full process configuration.
type Config struct {
	DatabaseURL string         `mapstructure:"database_url"`
	Server      ServerConfig   `mapstructure:"server"`
	LLM         llm.Config     `mapstructure:"llm"`
	Keys        ProviderKeys   `mapstructure:"keys"`
	Pipeline    PipelineConfig `mapstructure:"pipeline"`
	Log         LogConfig      `mapstructure:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ProviderKeys holds per-provider API keys read from the conventional
// variables. They fill llm.api_key when it is unset.
type ProviderKeys struct {
	Anthropic string `mapstructure:"anthropic"`
	OpenAI    string `mapstructure:"openai"`
	Gemini    string `mapstructure:"gemini"`
}

// PipelineConfig bounds scoring work.
type PipelineConfig struct {
	MaxConcurrentRuns int     `mapstructure:"max_concurrent_runs"`
	CallsPerSecond    float64 `mapstructure:"calls_per_second"`
	CallBurst         int     `mapstructure:"call_burst"`
	MaxResumeChars    int     `mapstructure:"max_resume_chars"`
	UploadWorkers     int     `mapstructure:"upload_workers"`

	// OCRCommand reads a scanned document on stdin and prints its text.
	// Empty disables OCR.
	OCRCommand []string      `mapstructure:"ocr_command"`
	OCRTimeout time.Duration `mapstructure:"ocr_timeout"`
}

// LogConfig selects the logger output.
type LogConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

// legacyEnv maps keys onto the unprefixed variables other tools already export
var legacyEnv = map[string]string{
	"database_url":   "DATABASE_URL",
	"keys.anthropic": "ANTHROPIC_API_KEY",
	"keys.openai":    "OPENAI_API_KEY",
	"keys.gemini":    "GEMINI_API_KEY",
}

// New returns a viper instance with defaults and environment bindings applied.
// Callers may bind flags onto it before calling Load.
func New() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("binding %s: %w", legacy, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	def := llm.DefaultConfig()

	v.SetDefault("database_url", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.max_upload_bytes", int64(50<<20))
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("llm.provider", string(def.Provider))
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", def.MaxTokens)
	v.SetDefault("llm.temperature", def.Temperature)
	v.SetDefault("llm.max_retries", def.MaxRetries)
	v.SetDefault("llm.timeout", def.Timeout)

	v.SetDefault("keys.anthropic", "")
	v.SetDefault("keys.openai", "")
	v.SetDefault("keys.gemini", "")

	v.SetDefault("pipeline.max_concurrent_runs", 4)
	v.SetDefault("pipeline.calls_per_second", 0.0)
	v.SetDefault("pipeline.call_burst", 1)
	v.SetDefault("pipeline.max_resume_chars", 0)
	v.SetDefault("pipeline.upload_workers", 4)
	v.SetDefault("pipeline.ocr_command", []string{})
	v.SetDefault("pipeline.ocr_timeout", time.Minute)

	v.SetDefault("log.json", false)
	v.SetDefault("log.debug", false)
}

// Load reads the optional config file at path and decodes v into a Config.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.LLM.Provider != "" {
		provider, err := llm.ParseProvider(string(cfg.LLM.Provider))
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
		cfg.LLM.Provider = provider
	}
	return &cfg, nil
}

// Validate checks that the configuration has valid values. Missing LLM
// credentials are allowed; the provider can be configured at runtime.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, fmt.Errorf("config error: 'server.addr' %q: %w", c.Server.Addr, err))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("config error: 'server.rate_limit' must be non-negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("config error: 'server.rate_burst' must be at least 1"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("config error: 'server.max_upload_bytes' must be positive"))
	}
	if c.Pipeline.MaxConcurrentRuns < 1 {
		errs = append(errs, errors.New("config error: 'pipeline.max_concurrent_runs' must be at least 1"))
	}
	if c.Pipeline.CallsPerSecond < 0 {
		errs = append(errs, errors.New("config error: 'pipeline.calls_per_second' must be non-negative"))
	}
	if c.Pipeline.MaxResumeChars < 0 {
		errs = append(errs, errors.New("config error: 'pipeline.max_resume_chars' must be non-negative"))
	}
	if c.Pipeline.UploadWorkers < 1 {
		errs = append(errs, errors.New("config error: 'pipeline.upload_workers' must be at least 1"))
	}
	if c.Pipeline.OCRTimeout < 0 {
		errs = append(errs, errors.New("config error: 'pipeline.ocr_timeout' must be non-negative"))
	}
	if err := c.LLM.WithDefaults().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config error: llm: %w", err))
	}

	return errors.Join(errs...)
}

// ProviderConfig returns the LLM configuration with the API key resolved from
// the provider-specific variables when llm.api_key is unset.
func (c *Config) ProviderConfig() llm.Config {
	cfg := c.LLM.WithDefaults()
	if cfg.APIKey != "" {
		return cfg
	}
	switch cfg.Provider {
	case llm.ProviderAnthropic:
		cfg.APIKey = c.Keys.Anthropic
	case llm.ProviderOpenAI:
		cfg.APIKey = c.Keys.OpenAI
	case llm.ProviderGemini:
		cfg.APIKey = c.Keys.Gemini
	}
	return cfg
}

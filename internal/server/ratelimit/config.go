package ratelimit

import (
	"math"
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix and suffix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	DefaultBurst    int
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// DefaultConfig builds a configuration allowing perSecond requests per client
// for ordinary endpoints. A non-positive rate disables limiting.
func DefaultConfig(perSecond float64, burst int) *Config {
	if perSecond <= 0 {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    max(1, int(math.Round(perSecond*60))),
		DefaultWindow:   time.Minute,
		DefaultBurst:    max(1, burst),
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Whitelist:       make(map[string]bool),
		Blacklist:       make(map[string]bool),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// model calls per request
		{Path: "/screening/start", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
		{Path: "/criteria/refine", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},
		{Path: "/process", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},

		{Path: "/upload", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/config/llm", Method: "POST", Limit: 10, Window: time.Minute, Burst: 3},
	}
}

// ParseIPList parses a comma-separated list of IP addresses into a set.
func ParseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			result[ip] = true
		}
	}
	return result
}

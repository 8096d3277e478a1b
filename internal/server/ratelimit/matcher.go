package ratelimit

import (
	"strings"
)

// MatchEndpoint matches a request path and method to an endpoint configuration.
// Returns the matching EndpointConfig or nil if no match is found.
// A config path ending in "/" matches by prefix; any other config path also
// matches as a suffix, so "/process" matches "/screening/{id}/process".
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	// health checks are unlimited
	if path == "/health" && method == "GET" {
		return &EndpointConfig{}
	}

	for i := range configs {
		config := &configs[i]
		if config.Path == path && config.Method == method {
			return config
		}
	}

	for i := range configs {
		config := &configs[i]
		if config.Method != method {
			continue
		}
		if strings.HasSuffix(config.Path, "/") && strings.HasPrefix(path, config.Path) {
			return config
		}
		if strings.HasSuffix(path, config.Path) {
			return config
		}
	}

	return nil
}

package llm

import (
	"fmt"
	"sync/atomic"
)

// ConfigStore holds the process-wide active provider configuration.
// Readers get a snapshot; writers replace the whole value atomically.
type ConfigStore struct {
	active atomic.Pointer[Config]
}

// NewConfigStore creates a store with a validated initial configuration.
func NewConfigStore(initial Config) (*ConfigStore, error) {
	initial = initial.WithDefaults()
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("invalid llm config: %w", err)
	}
	s := &ConfigStore{}
	s.active.Store(&initial)
	return s, nil
}

// Active returns a snapshot of the current configuration.
func (s *ConfigStore) Active() Config {
	return s.active.Load().clone()
}

// Swap validates and installs next, returning the previous configuration.
// An empty API key in next keeps the current key when the provider is unchanged.
func (s *ConfigStore) Swap(next Config) (Config, error) {
	next = next.WithDefaults()
	if err := next.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid llm config: %w", err)
	}

	for {
		prev := s.active.Load()
		candidate := next.clone()
		if candidate.APIKey == "" && candidate.Provider == prev.Provider {
			candidate.APIKey = prev.APIKey
		}
		if s.active.CompareAndSwap(prev, &candidate) {
			return prev.clone(), nil
		}
	}
}

// Package ledger accumulates token usage charged to a screening session.
//
// Counts only ever grow. A run charges every collaborator call to its Ledger and
// drains the pending amount into the store together with each candidate commit.
package ledger

import (
	"fmt"
	"sync"

	"github.com/jonathan/resume-screener/internal/llm"
	"github.com/jonathan/resume-screener/internal/types"
)

// NegativeUsageError is returned when a charge would decrease a counter
type NegativeUsageError struct {
	Usage llm.Usage
}

func (e *NegativeUsageError) Error() string {
	return fmt.Sprintf("negative token usage (input=%d, output=%d)", e.Usage.InputTokens, e.Usage.OutputTokens)
}

// Ledger tracks charged usage and the part of it not yet persisted.
// It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	total   types.TokenUsage
	pending types.TokenUsage
}

// New returns a ledger seeded with usage already persisted for the session.
func New(persisted types.TokenUsage) *Ledger {
	return &Ledger{total: persisted}
}

// Charge records the usage of one collaborator call.
func (l *Ledger) Charge(u llm.Usage) error {
	if u.InputTokens < 0 || u.OutputTokens < 0 {
		return &NegativeUsageError{Usage: u}
	}
	if u.IsZero() {
		return nil
	}

	delta := FromLLM(u)
	l.mu.Lock()
	l.total = l.total.Add(delta)
	l.pending = l.pending.Add(delta)
	l.mu.Unlock()
	return nil
}

// Drain returns the usage charged since the last drain and resets it.
func (l *Ledger) Drain() types.TokenUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.pending
	l.pending = types.TokenUsage{}
	return out
}

// Total returns everything charged, including the seeded amount.
func (l *Ledger) Total() types.TokenUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Apply adds usage to the session counters. Negative usage is rejected and
// leaves the session unchanged.
func Apply(s *types.Session, u types.TokenUsage) error {
	if u.InputTokens < 0 || u.OutputTokens < 0 {
		return &NegativeUsageError{Usage: llm.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}}
	}
	s.InputTokens += u.InputTokens
	s.OutputTokens += u.OutputTokens
	return nil
}

// FromLLM converts provider usage to the persisted form
func FromLLM(u llm.Usage) types.TokenUsage {
	return types.TokenUsage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
}

// Package types provides type definitions for structured data used throughout the resume-screener system.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a screening session
type Status string

// Session statuses
const (
	StatusDraft         Status = "draft"
	StatusProcessing    Status = "processing"
	StatusCompleted     Status = "completed"
	StatusCriteriaStale Status = "criteria_stale"
)

// TokenUsage is a cumulative input/output token count
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add returns the sum of two usages
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Session is one screening of many candidates against one job description
type Session struct {
	ID               uuid.UUID  `json:"id"`
	JobDescription   string     `json:"job_description"`
	KeepCount        int        `json:"keep_count"`
	HRNotes          *string    `json:"hr_notes,omitempty"`
	Criteria         Criteria   `json:"criteria"`
	CriteriaVersion  int        `json:"criteria_version"`
	Status           Status     `json:"status"`
	TotalCandidates  int        `json:"total_candidates"`
	ProcessedCount   int        `json:"processed_count"`
	QualifiedCount   int        `json:"qualified_count"`
	InputTokens      int64      `json:"input_tokens"`
	OutputTokens     int64      `json:"output_tokens"`
	CriteriaLockedAt *time.Time `json:"criteria_locked_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Tokens returns the session's cumulative token usage
func (s *Session) Tokens() TokenUsage {
	return TokenUsage{InputTokens: s.InputTokens, OutputTokens: s.OutputTokens}
}

// HasCriteria reports whether a structured criteria document exists
func (s *Session) HasCriteria() bool {
	return s.Criteria.Structured != nil && len(s.Criteria.Structured.Categories) > 0
}

// ConversationRole identifies who authored a conversation entry
type ConversationRole string

// Conversation roles
const (
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// ConversationEntry records one refinement request. Entries are append-only.
type ConversationEntry struct {
	ID          int64            `json:"id"`
	SessionID   uuid.UUID        `json:"session_id"`
	Role        ConversationRole `json:"role"`
	Message     string           `json:"message"`
	ChangesMade string           `json:"changes_made,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CategoryScore is the collaborator's assessment of one criteria category
type CategoryScore struct {
	Score      int      `json:"score"`
	Confidence string   `json:"confidence,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Evaluation is the result of scoring one candidate against one criteria version
type Evaluation struct {
	PassedDealbreakers bool                     `json:"passed_dealbreakers"`
	RejectionReason    *string                  `json:"rejection_reason"`
	FinalScore         int                      `json:"final_score"`
	OneLiner           string                   `json:"one_liner"`
	CategoryScores     map[string]CategoryScore `json:"category_scores"`
	Strengths          []string                 `json:"strengths"`
	Concerns           []string                 `json:"concerns"`
	Highlights         []string                 `json:"highlights"`
}

// Candidate is one uploaded resume and its evaluation state
type Candidate struct {
	ID                 uuid.UUID                `json:"id"`
	SessionID          uuid.UUID                `json:"session_id"`
	Seq                int                      `json:"seq"`
	Filename           string                   `json:"filename"`
	Text               *string                  `json:"original_text,omitempty"`
	ExtractionWarning  *string                  `json:"extraction_warning,omitempty"`
	PassedDealbreakers *bool                    `json:"passed_dealbreakers"`
	RejectionReason    *string                  `json:"rejection_reason"`
	FinalScore         *int                     `json:"final_score"`
	OneLiner           *string                  `json:"one_liner"`
	CategoryScores     map[string]CategoryScore `json:"category_scores,omitempty"`
	Strengths          []string                 `json:"strengths,omitempty"`
	Concerns           []string                 `json:"concerns,omitempty"`
	Highlights         []string                 `json:"highlights,omitempty"`
	CriteriaVersion    *int                     `json:"criteria_version,omitempty"`
	ParsedAt           *time.Time               `json:"parsed_at,omitempty"`
	ProcessedAt        *time.Time               `json:"processed_at,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
}

// HasText reports whether extraction produced usable text
func (c *Candidate) HasText() bool {
	return c.Text != nil && strings.TrimSpace(*c.Text) != ""
}

// IsSkipped reports whether the candidate is excluded from scoring and ranking:
// extraction produced a warning and no text.
func (c *Candidate) IsSkipped() bool {
	return c.ExtractionWarning != nil && !c.HasText()
}

// IsEvaluated reports whether the current criteria version produced a result
func (c *Candidate) IsEvaluated() bool {
	return c.ProcessedAt != nil
}

// ApplyEvaluation stores a scoring result computed against criteriaVersion.
func (c *Candidate) ApplyEvaluation(e *Evaluation, criteriaVersion int, at time.Time) {
	passed := e.PassedDealbreakers
	score := e.FinalScore
	version := criteriaVersion
	processed := at

	c.PassedDealbreakers = &passed
	c.RejectionReason = e.RejectionReason
	c.FinalScore = &score
	c.OneLiner = nonEmpty(e.OneLiner)
	c.CategoryScores = e.CategoryScores
	c.Strengths = e.Strengths
	c.Concerns = e.Concerns
	c.Highlights = e.Highlights
	c.CriteriaVersion = &version
	c.ProcessedAt = &processed
}

// ClearEvaluation unsets every evaluation field, including processed_at.
func (c *Candidate) ClearEvaluation() {
	c.PassedDealbreakers = nil
	c.RejectionReason = nil
	c.FinalScore = nil
	c.OneLiner = nil
	c.CategoryScores = nil
	c.Strengths = nil
	c.Concerns = nil
	c.Highlights = nil
	c.CriteriaVersion = nil
	c.ProcessedAt = nil
}

// CurrentEvaluation returns the stored result, or nil when not evaluated.
func (c *Candidate) CurrentEvaluation() *Evaluation {
	if !c.IsEvaluated() || c.PassedDealbreakers == nil {
		return nil
	}
	e := &Evaluation{
		PassedDealbreakers: *c.PassedDealbreakers,
		RejectionReason:    c.RejectionReason,
		CategoryScores:     c.CategoryScores,
		Strengths:          c.Strengths,
		Concerns:           c.Concerns,
		Highlights:         c.Highlights,
	}
	if c.FinalScore != nil {
		e.FinalScore = *c.FinalScore
	}
	if c.OneLiner != nil {
		e.OneLiner = *c.OneLiner
	}
	return e
}

// EvaluationRecord is an archived evaluation, kept when criteria change
type EvaluationRecord struct {
	ID              uuid.UUID  `json:"id"`
	CandidateID     uuid.UUID  `json:"candidate_id"`
	SessionID       uuid.UUID  `json:"session_id"`
	CriteriaVersion int        `json:"criteria_version"`
	Evaluation      Evaluation `json:"evaluation"`
	ProcessedAt     time.Time  `json:"processed_at"`
	ArchivedAt      time.Time  `json:"archived_at"`
}

// ArchiveRecord snapshots the current evaluation for the history table.
// Returns nil when there is nothing to archive.
func (c *Candidate) ArchiveRecord(at time.Time) *EvaluationRecord {
	e := c.CurrentEvaluation()
	if e == nil {
		return nil
	}
	version := 0
	if c.CriteriaVersion != nil {
		version = *c.CriteriaVersion
	}
	return &EvaluationRecord{
		ID:              uuid.New(),
		CandidateID:     c.ID,
		SessionID:       c.SessionID,
		CriteriaVersion: version,
		Evaluation:      *e,
		ProcessedAt:     *c.ProcessedAt,
		ArchivedAt:      at,
	}
}

func nonEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

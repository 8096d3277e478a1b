package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidate_SkipClassification(t *testing.T) {
	tests := []struct {
		name    string
		text    *string
		warning *string
		skipped bool
		hasText bool
	}{
		{name: "text without warning", text: StringPtr("Go developer"), hasText: true},
		{name: "text with ocr warning", text: StringPtr("Go developer"), warning: StringPtr("ocr-used"), hasText: true},
		{name: "warning and empty text", text: StringPtr("   "), warning: StringPtr("ocr-unavailable"), skipped: true},
		{name: "warning and nil text", warning: StringPtr("extraction-failed"), skipped: true},
		{name: "no text no warning", text: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Candidate{Text: tt.text, ExtractionWarning: tt.warning}
			assert.Equal(t, tt.skipped, c.IsSkipped())
			assert.Equal(t, tt.hasText, c.HasText())
		})
	}
}

func TestCandidate_ApplyAndClearEvaluation(t *testing.T) {
	c := &Candidate{ID: uuid.New(), SessionID: uuid.New(), Text: StringPtr("resume")}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	c.ApplyEvaluation(&Evaluation{
		PassedDealbreakers: true,
		FinalScore:         72,
		OneLiner:           "Strong backend engineer",
		CategoryScores:     map[string]CategoryScore{"highly_valued": {Score: 80}},
		Strengths:          []string{"Go"},
	}, 3, at)

	require.True(t, c.IsEvaluated())
	assert.True(t, *c.PassedDealbreakers)
	assert.Equal(t, 72, *c.FinalScore)
	assert.Equal(t, 3, *c.CriteriaVersion)
	assert.Equal(t, at, *c.ProcessedAt)

	record := c.ArchiveRecord(at.Add(time.Hour))
	require.NotNil(t, record)
	assert.Equal(t, 3, record.CriteriaVersion)
	assert.Equal(t, 72, record.Evaluation.FinalScore)
	assert.Equal(t, c.ID, record.CandidateID)

	c.ClearEvaluation()
	assert.False(t, c.IsEvaluated())
	assert.Nil(t, c.PassedDealbreakers)
	assert.Nil(t, c.FinalScore)
	assert.Nil(t, c.OneLiner)
	assert.Nil(t, c.CategoryScores)
	assert.Nil(t, c.CriteriaVersion)
	assert.Nil(t, c.ArchiveRecord(at))
	assert.True(t, c.HasText(), "clearing an evaluation keeps extracted text")
}

func TestCandidate_EmptyOneLinerStaysUnset(t *testing.T) {
	c := &Candidate{}
	c.ApplyEvaluation(&Evaluation{PassedDealbreakers: false, OneLiner: "  "}, 1, time.Now())
	assert.Nil(t, c.OneLiner)
	assert.False(t, *c.PassedDealbreakers)
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 10, OutputTokens: 2}.Add(TokenUsage{InputTokens: 5, OutputTokens: 1})
	assert.Equal(t, TokenUsage{InputTokens: 15, OutputTokens: 3}, u)
}

func TestSession_HasCriteria(t *testing.T) {
	s := &Session{}
	assert.False(t, s.HasCriteria())

	s.Criteria.Structured = validDocument()
	assert.True(t, s.HasCriteria())
}

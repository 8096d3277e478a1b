// Package scoring evaluates one resume against a locked criteria document.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/jonathan/resume-screener/internal/llm"
	"github.com/jonathan/resume-screener/internal/observability"
	"github.com/jonathan/resume-screener/internal/prompts"
	"github.com/jonathan/resume-screener/internal/schemas"
	"github.com/jonathan/resume-screener/internal/types"
)

// DefaultMaxResumeChars bounds the resume text sent with one scoring call
const DefaultMaxResumeChars = 30000

const truncatedMarker = "\n[resume truncated]"

// Error is a recoverable failure to score one candidate. The batch moves on.
type Error struct {
	Message string
	Usage   llm.Usage
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scoring failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("scoring failed: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Scorer runs one evaluation call per resume
type Scorer struct {
	logger         *zap.Logger
	maxResumeChars int
}

// Option configures a Scorer
type Option func(*Scorer)

// WithMaxResumeChars overrides DefaultMaxResumeChars
func WithMaxResumeChars(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.maxResumeChars = n
		}
	}
}

// NewScorer creates a scorer. A nil logger disables logging.
func NewScorer(logger *zap.Logger, opts ...Option) *Scorer {
	s := &Scorer{logger: observability.OrNop(logger), maxResumeChars: DefaultMaxResumeChars}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// rawEvaluation mirrors the reply. Numbers are floats because models
// occasionally answer 72.5.
type rawEvaluation struct {
	PassedDealbreakers *bool                       `json:"passed_dealbreakers"`
	RejectionReason    *string                     `json:"rejection_reason"`
	FinalScore         *float64                    `json:"final_score"`
	OneLiner           *string                     `json:"one_liner"`
	CategoryScores     map[string]rawCategoryScore `json:"category_scores"`
	Strengths          []string                    `json:"strengths"`
	Concerns           []string                    `json:"concerns"`
	Highlights         []string                    `json:"highlights"`
}

type rawCategoryScore struct {
	Score      float64  `json:"score"`
	Confidence *string  `json:"confidence"`
	Evidence   []string `json:"evidence"`
	Notes      *string  `json:"notes"`
}

// Score evaluates resumeText against doc. The returned usage is what the call
// consumed, including on failure when the provider reported it.
func (s *Scorer) Score(ctx context.Context, client llm.Client, resumeText string, doc *types.CriteriaDocument) (*types.Evaluation, llm.Usage, error) {
	if doc == nil {
		return nil, llm.Usage{}, &Error{Message: "no criteria to score against"}
	}
	text := Sanitize(resumeText, s.maxResumeChars)
	if text == "" {
		return nil, llm.Usage{}, &Error{Message: "resume text is empty"}
	}

	system, user, err := buildPrompts(doc, text)
	if err != nil {
		return nil, llm.Usage{}, &Error{Message: "failed to build instructions", Cause: err}
	}

	resp, err := client.GenerateJSON(ctx, system, user, llm.TierStandard)
	if err != nil {
		usage := llm.UsageOf(err)
		return nil, usage, &Error{Message: "model call failed", Usage: usage, Cause: err}
	}

	eval, err := parseEvaluation(resp.Text, doc)
	if err != nil {
		s.logger.Debug("evaluation rejected",
			zap.Error(err),
			zap.String("raw", observability.TruncateForLog(resp.Text, 500)))
		return nil, resp.Usage, &Error{Message: "invalid evaluation", Usage: resp.Usage, Cause: err}
	}
	return eval, resp.Usage, nil
}

func buildPrompts(doc *types.CriteriaDocument, resume string) (string, string, error) {
	criteriaJSON, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", "", err
	}

	var ids []string
	for _, c := range doc.Categories {
		if !c.IsDealbreaker {
			ids = append(ids, c.ID)
		}
	}

	system, err := prompts.Render(prompts.ScoreResumeSystem, map[string]string{"Criteria": string(criteriaJSON)})
	if err != nil {
		return "", "", err
	}
	user, err := prompts.Render(prompts.ScoreResumeUser, map[string]string{
		"Resume":     resume,
		"Categories": strings.Join(ids, ", "),
	})
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

// parseEvaluation validates the reply and converts it to an Evaluation.
func parseEvaluation(text string, doc *types.CriteriaDocument) (*types.Evaluation, error) {
	if err := schemas.ValidateEvaluation(text); err != nil {
		return nil, err
	}

	var raw rawEvaluation
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}
	if raw.PassedDealbreakers == nil {
		return nil, fmt.Errorf("passed_dealbreakers is missing")
	}

	eval := &types.Evaluation{
		PassedDealbreakers: *raw.PassedDealbreakers,
		CategoryScores:     make(map[string]types.CategoryScore, len(raw.CategoryScores)),
		Strengths:          cleanList(raw.Strengths),
		Concerns:           cleanList(raw.Concerns),
		Highlights:         cleanList(raw.Highlights),
	}
	if raw.OneLiner != nil {
		eval.OneLiner = strings.TrimSpace(*raw.OneLiner)
	}
	if !eval.PassedDealbreakers && raw.RejectionReason != nil {
		if reason := strings.TrimSpace(*raw.RejectionReason); reason != "" {
			eval.RejectionReason = &reason
		}
	}

	for id, cs := range raw.CategoryScores {
		score := types.CategoryScore{
			Score:    clampScore(cs.Score),
			Evidence: cleanList(cs.Evidence),
		}
		if cs.Confidence != nil {
			score.Confidence = strings.ToLower(strings.TrimSpace(*cs.Confidence))
		}
		if cs.Notes != nil {
			score.Notes = strings.TrimSpace(*cs.Notes)
		}
		eval.CategoryScores[id] = score
	}

	if raw.FinalScore != nil {
		eval.FinalScore = clampScore(*raw.FinalScore)
	} else {
		eval.FinalScore = WeightedScore(doc, eval.CategoryScores)
	}
	return eval, nil
}

// WeightedScore aggregates category scores by the document weights. Categories
// without a score are left out and the remaining weights renormalized.
func WeightedScore(doc *types.CriteriaDocument, scores map[string]types.CategoryScore) int {
	var total, weights float64
	for _, c := range doc.Categories {
		if c.IsDealbreaker || c.Weight == nil {
			continue
		}
		cs, ok := scores[c.ID]
		if !ok {
			continue
		}
		total += *c.Weight * float64(cs.Score)
		weights += *c.Weight
	}
	if weights == 0 {
		return 0
	}
	return clampScore(total / weights)
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Sanitize strips control characters, collapses runs of blank lines and
// truncates to maxChars runes.
func Sanitize(text string, maxChars int) string {
	var sb strings.Builder
	sb.Grow(len(text))
	newlines := 0
	for _, r := range text {
		switch {
		case r == '\n':
			newlines++
			if newlines > 2 {
				continue
			}
		case r == '\r':
			continue
		case r == '\t':
			newlines = 0
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			continue
		default:
			if !unicode.IsSpace(r) {
				newlines = 0
			}
		}
		sb.WriteRune(r)
	}

	out := strings.TrimSpace(sb.String())
	if maxChars > 0 {
		if runes := []rune(out); len(runes) > maxChars {
			out = string(runes[:maxChars]) + truncatedMarker
		}
	}
	return out
}

// Package criteria turns a job description into a weighted, versioned criteria
// document and refines it from recruiter feedback.
package criteria

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/resume-screener/internal/llm"
	"github.com/jonathan/resume-screener/internal/observability"
	"github.com/jonathan/resume-screener/internal/prompts"
	"github.com/jonathan/resume-screener/internal/schemas"
	"github.com/jonathan/resume-screener/internal/types"
)

const (
	noNotes   = "None"
	noHistory = "(none)"
)

// Result is a validated criteria document plus the usage of the call that produced it
type Result struct {
	HumanReadable string
	Structured    *types.CriteriaDocument
	ChangesMade   string
	Usage         llm.Usage
}

// Criteria returns the pair stored on the session
func (r *Result) Criteria() types.Criteria {
	return types.Criteria{HumanReadable: r.HumanReadable, Structured: r.Structured}
}

// Engine drives criteria generation and refinement
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an engine. A nil logger disables logging.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: observability.OrNop(logger)}
}

// rawResult is the reply shape shared by generation and refinement
type rawResult struct {
	HumanReadable string          `json:"human_readable"`
	Structured    json.RawMessage `json:"structured"`
	ChangesMade   string          `json:"changes_made"`
}

// Generate derives criteria from a job description and optional recruiter notes.
func (e *Engine) Generate(ctx context.Context, client llm.Client, jobDescription, notes string) (*Result, error) {
	if strings.TrimSpace(jobDescription) == "" {
		return nil, &GenerationError{Op: OpGenerate, Message: "job description is empty"}
	}
	if strings.TrimSpace(notes) == "" {
		notes = noNotes
	}

	system, err := prompts.Render(prompts.CriteriaGenerateSystem, limitValues())
	if err != nil {
		return nil, &GenerationError{Op: OpGenerate, Message: "failed to build instructions", Cause: err}
	}
	user, err := prompts.Render(prompts.CriteriaGenerateUser, map[string]string{
		"JobDescription": jobDescription,
		"Notes":          notes,
	})
	if err != nil {
		return nil, &GenerationError{Op: OpGenerate, Message: "failed to build instructions", Cause: err}
	}

	return e.call(ctx, client, OpGenerate, system, user)
}

// RefineInput is the recruiter's change request. Exactly one field is expected.
type RefineInput struct {
	Feedback      string
	PasteCriteria string
}

// Refine applies feedback to the current criteria. history is the ordered
// conversation so far, oldest first.
func (e *Engine) Refine(ctx context.Context, client llm.Client, current types.Criteria, input RefineInput, history []types.ConversationEntry) (*Result, error) {
	if current.Structured == nil {
		return nil, &GenerationError{Op: OpRefine, Message: "session has no criteria to refine"}
	}
	feedback := strings.TrimSpace(input.Feedback)
	pasted := strings.TrimSpace(input.PasteCriteria)
	if feedback == "" && pasted == "" {
		return nil, &GenerationError{Op: OpRefine, Message: "feedback is empty"}
	}

	structured, err := json.MarshalIndent(current.Structured, "", "  ")
	if err != nil {
		return nil, &GenerationError{Op: OpRefine, Message: "failed to encode current criteria", Cause: err}
	}

	system, err := prompts.Render(prompts.CriteriaRefineSystem, limitValues())
	if err != nil {
		return nil, &GenerationError{Op: OpRefine, Message: "failed to build instructions", Cause: err}
	}

	var user string
	if pasted != "" {
		user, err = prompts.Render(prompts.CriteriaPasteUser, map[string]string{
			"HumanReadable": current.HumanReadable,
			"Structured":    string(structured),
			"Pasted":        pasted,
		})
	} else {
		user, err = prompts.Render(prompts.CriteriaRefineUser, map[string]string{
			"HumanReadable": current.HumanReadable,
			"Structured":    string(structured),
			"History":       RenderHistory(history),
			"Feedback":      feedback,
		})
	}
	if err != nil {
		return nil, &GenerationError{Op: OpRefine, Message: "failed to build instructions", Cause: err}
	}

	result, err := e.call(ctx, client, OpRefine, system, user)
	if err != nil {
		return nil, err
	}
	if result.ChangesMade == "" {
		result.ChangesMade = "Criteria updated"
	}
	return result, nil
}

func (e *Engine) call(ctx context.Context, client llm.Client, op, system, user string) (*Result, error) {
	log := e.logger.With(zap.String("op", op), zap.String(observability.FieldProvider, string(client.Provider())))

	resp, err := client.GenerateJSON(ctx, system, user, llm.TierAdvanced)
	if err != nil {
		log.Warn("criteria call failed", zap.Error(err))
		return nil, &GenerationError{Op: op, Message: "model call failed", Usage: llm.UsageOf(err), Cause: err}
	}

	result, err := parseResult(op, resp)
	if err != nil {
		log.Warn("criteria response rejected",
			zap.Error(err),
			zap.String("raw", observability.TruncateForLog(resp.Text, 500)))
		return nil, err
	}

	log.Debug("criteria produced",
		zap.Int("categories", len(result.Structured.Categories)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))
	return result, nil
}

// parseResult decodes, repairs and validates a criteria reply.
func parseResult(op string, resp *llm.Response) (*Result, error) {
	fail := func(msg string, cause error) error {
		return &GenerationError{Op: op, Message: msg, Usage: resp.Usage, Cause: cause}
	}

	var raw rawResult
	if err := resp.Decode(&raw); err != nil {
		return nil, fail("response is not a criteria object", err)
	}
	raw.HumanReadable = strings.TrimSpace(raw.HumanReadable)
	if raw.HumanReadable == "" {
		return nil, fail("response has no human_readable criteria", nil)
	}
	if len(raw.Structured) == 0 || string(raw.Structured) == "null" {
		return nil, fail("response has no structured criteria", nil)
	}

	var doc types.CriteriaDocument
	if err := json.Unmarshal(raw.Structured, &doc); err != nil {
		return nil, fail("structured criteria has the wrong shape", err)
	}
	doc.Normalize()

	normalized, err := json.Marshal(&doc)
	if err != nil {
		return nil, fail("failed to encode structured criteria", err)
	}
	if err := schemas.ValidateCriteria(string(normalized)); err != nil {
		return nil, fail("structured criteria failed schema validation", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fail("structured criteria violates constraints", err)
	}

	return &Result{
		HumanReadable: raw.HumanReadable,
		Structured:    &doc,
		ChangesMade:   strings.TrimSpace(raw.ChangesMade),
		Usage:         resp.Usage,
	}, nil
}

// RenderHistory formats conversation entries for the refinement prompt.
func RenderHistory(history []types.ConversationEntry) string {
	if len(history) == 0 {
		return noHistory
	}
	var sb strings.Builder
	for i, entry := range history {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, entry.Role, strings.TrimSpace(entry.Message))
		if entry.ChangesMade != "" {
			fmt.Fprintf(&sb, " (applied: %s)", entry.ChangesMade)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func limitValues() map[string]string {
	return map[string]string{
		"MaxDealbreakers": strconv.Itoa(types.MaxDealbreakerItems),
		"MaxItems":        strconv.Itoa(types.MaxItemsPerCategory),
	}
}

// Package pipeline runs the sequential scoring pass over a session's candidates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/jonathan/resume-screener/internal/db"
	"github.com/jonathan/resume-screener/internal/ledger"
	"github.com/jonathan/resume-screener/internal/llm"
	"github.com/jonathan/resume-screener/internal/observability"
	"github.com/jonathan/resume-screener/internal/scoring"
	"github.com/jonathan/resume-screener/internal/types"
)

// DefaultMaxConcurrentRuns bounds how many sessions score at the same time
const DefaultMaxConcurrentRuns = 4

// Outcome is what happened to one candidate during a run
type Outcome string

// Candidate outcomes
const (
	OutcomeScored  Outcome = "scored"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ProgressEvent represents a progress update during a run
type ProgressEvent struct {
	SessionID   uuid.UUID `json:"session_id"`
	Seq         int       `json:"seq"`
	CandidateID uuid.UUID `json:"candidate_id"`
	Filename    string    `json:"filename"`
	Outcome     Outcome   `json:"outcome"`
	Processed   int       `json:"processed"`
	Qualified   int       `json:"qualified"`
	Total       int       `json:"total"`
	Message     string    `json:"message,omitempty"`
}

// ProgressCallback is called after every candidate commit
type ProgressCallback func(event ProgressEvent)

// RunInput is one scoring pass. Session must be the snapshot returned by
// Store.BeginRun; its criteria are frozen for the whole pass.
type RunInput struct {
	Session    *types.Session
	Client     llm.Client
	OnProgress ProgressCallback
}

// Summary reports what a finished run did
type Summary struct {
	Session *types.Session
	Scored  int
	Skipped int
	Failed  int
	Usage   types.TokenUsage
}

// Runner executes scoring passes
type Runner struct {
	store   db.Store
	scorer  *scoring.Scorer
	logger  *zap.Logger
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithMaxConcurrentRuns bounds the number of sessions scoring at once
func WithMaxConcurrentRuns(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithRateLimit paces scoring calls across all runs. A zero limit disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Runner) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClock overrides the time source used for processed_at
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner over store
func NewRunner(store db.Store, scorer *scoring.Scorer, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:  store,
		scorer: scorer,
		logger: observability.OrNop(logger),
		sem:    semaphore.NewWeighted(DefaultMaxConcurrentRuns),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run scores every candidate of the session in upload order, committing after
// each one, and completes the session at the end of the pass. Individual
// scoring failures are logged and never stop the batch. A cancelled context
// stops the scan early; the session is still completed.
func (r *Runner) Run(ctx context.Context, in RunInput) (*Summary, error) {
	s := in.Session
	if s == nil || !s.HasCriteria() {
		return nil, errors.New("run requires a session with criteria")
	}
	if in.Client == nil {
		return nil, errors.New("run requires an evaluation client")
	}

	logger := r.logger.With(
		zap.String(observability.FieldSessionID, s.ID.String()),
		zap.Int("criteria_version", s.CriteriaVersion),
	)
	// commits ignore cancellation; the session must always leave processing
	commitCtx := context.WithoutCancel(ctx)

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, r.abort(commitCtx, logger, s.ID, fmt.Errorf("waiting for a run slot: %w", err))
	}
	defer r.sem.Release(1)

	doc := s.Criteria.Structured.Clone()
	version := s.CriteriaVersion

	candidates, err := r.store.ListCandidates(ctx, s.ID)
	if err != nil {
		return nil, r.abort(commitCtx, logger, s.ID, fmt.Errorf("failed to list candidates: %w", err))
	}

	logger.Info("Starting scoring run", zap.Int("candidates", len(candidates)))

	led := ledger.New(s.Tokens())
	summary := &Summary{}
	processed, qualified := s.ProcessedCount, s.QualifiedCount

	for i := range candidates {
		if ctx.Err() != nil {
			logger.Warn("Run cancelled, stopping scan", zap.Int("remaining", len(candidates)-i))
			break
		}
		c := &candidates[i]

		outcome, message := r.scoreOne(ctx, logger, led, in.Client, c, doc, version)
		switch outcome {
		case OutcomeScored:
			processed++
			if c.PassedDealbreakers != nil && *c.PassedDealbreakers {
				qualified++
			}
			summary.Scored++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeFailed:
			summary.Failed++
		}

		err := r.store.RecordProgress(commitCtx, c, db.Progress{
			Processed: processed,
			Qualified: qualified,
			Usage:     led.Drain(),
		})
		if err != nil {
			return nil, r.abort(commitCtx, logger, s.ID, fmt.Errorf("failed to record progress for %s: %w", c.Filename, err))
		}

		if in.OnProgress != nil {
			in.OnProgress(ProgressEvent{
				SessionID:   s.ID,
				Seq:         i + 1,
				CandidateID: c.ID,
				Filename:    c.Filename,
				Outcome:     outcome,
				Processed:   processed,
				Qualified:   qualified,
				Total:       len(candidates),
				Message:     message,
			})
		}
	}

	done, err := r.store.CompleteRun(commitCtx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete run: %w", err)
	}

	summary.Session = done
	summary.Usage = led.Total()
	logger.Info("Scoring run completed",
		zap.Int("scored", summary.Scored),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("qualified", qualified),
	)
	return summary, nil
}

func (r *Runner) scoreOne(
	ctx context.Context,
	logger *zap.Logger,
	led *ledger.Ledger,
	client llm.Client,
	c *types.Candidate,
	doc *types.CriteriaDocument,
	version int,
) (Outcome, string) {
	if !c.HasText() {
		return OutcomeSkipped, "no extracted text"
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			logger.Warn("Rate limiter wait aborted", zap.String("filename", c.Filename), zap.Error(err))
			return OutcomeFailed, err.Error()
		}
	}

	eval, usage, err := r.scorer.Score(ctx, client, *c.Text, doc)
	if chargeErr := led.Charge(usage); chargeErr != nil {
		logger.Error("Discarding invalid usage", zap.String("filename", c.Filename), zap.Error(chargeErr))
	}
	if err != nil {
		logger.Warn("Candidate scoring failed",
			zap.String("filename", c.Filename),
			zap.String("candidate_id", c.ID.String()),
			zap.Bool("retryable", llm.IsRetryable(err)),
			zap.Error(err),
		)
		return OutcomeFailed, err.Error()
	}

	c.ApplyEvaluation(eval, version, r.now())
	return OutcomeScored, ""
}

// abort completes the session after an unrecoverable store error and returns cause
func (r *Runner) abort(ctx context.Context, logger *zap.Logger, sessionID uuid.UUID, cause error) error {
	logger.Error("Scoring run aborted", zap.Error(cause))
	if _, err := r.store.CompleteRun(ctx, sessionID); err != nil {
		logger.Error("Failed to complete aborted run", zap.Error(err))
	}
	return cause
}

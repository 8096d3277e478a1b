// Package screening wires criteria, ingestion, scoring and ranking into the
// operations exposed by the HTTP API and the CLI.
package screening

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/resume-screener/internal/criteria"
	"github.com/jonathan/resume-screener/internal/db"
	"github.com/jonathan/resume-screener/internal/ingestion"
	"github.com/jonathan/resume-screener/internal/ledger"
	"github.com/jonathan/resume-screener/internal/llm"
	"github.com/jonathan/resume-screener/internal/observability"
	"github.com/jonathan/resume-screener/internal/pipeline"
	"github.com/jonathan/resume-screener/internal/ranking"
	"github.com/jonathan/resume-screener/internal/scoring"
	"github.com/jonathan/resume-screener/internal/session"
	"github.com/jonathan/resume-screener/internal/types"
)

// DefaultUploadWorkers bounds concurrent text extraction within one upload
const DefaultUploadWorkers = 4

// Trigger statuses
const (
	TriggerAccepted       = "accepted"
	TriggerAlreadyRunning = "already_running"
)

// Service implements the screening operations
type Service struct {
	store      db.Store
	providers  *llm.ConfigStore
	factory    llm.Factory
	engine     *criteria.Engine
	extractor  *ingestion.Extractor
	runner     *pipeline.Runner
	guard      *pipeline.Guard
	logger     *zap.Logger
	onProgress pipeline.ProgressCallback
	workers    int
	now        func() time.Time

	runs     sync.WaitGroup
	runCtx   context.Context
	stopRuns context.CancelFunc
	closing  atomic.Bool
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithFactory replaces the client factory
func WithFactory(f llm.Factory) Option {
	return func(s *Service) { s.factory = f }
}

// WithExtractor replaces the text extractor
func WithExtractor(e *ingestion.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithRunner replaces the pipeline runner
func WithRunner(r *pipeline.Runner) Option {
	return func(s *Service) { s.runner = r }
}

// WithProgress receives pipeline progress for every run
func WithProgress(cb pipeline.ProgressCallback) Option {
	return func(s *Service) { s.onProgress = cb }
}

// WithUploadWorkers bounds concurrent extraction per upload
func WithUploadWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a service over store using the provider configuration in providers
func New(store db.Store, providers *llm.ConfigStore, opts ...Option) *Service {
	s := &Service{
		store:     store,
		providers: providers,
		factory:   llm.NewClient,
		guard:     pipeline.NewGuard(),
		workers:   DefaultUploadWorkers,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.OrNop(s.logger)
	if s.engine == nil {
		s.engine = criteria.NewEngine(s.logger)
	}
	if s.extractor == nil {
		s.extractor = ingestion.NewExtractor(ingestion.WithLogger(s.logger))
	}
	if s.runner == nil {
		s.runner = pipeline.NewRunner(store, scoring.NewScorer(s.logger), s.logger)
	}
	s.runCtx, s.stopRuns = context.WithCancel(context.Background())
	return s
}

// newClient builds a client from a snapshot of the active configuration
func (s *Service) newClient(ctx context.Context) (llm.Client, error) {
	cfg := s.providers.Active()
	client, err := s.factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Built llm client", observability.CommonFields(string(cfg.Provider), cfg.Model)...)
	return client, nil
}

func (s *Service) getSession(ctx context.Context, id uuid.UUID) (*types.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &NotFoundError{Resource: "session", ID: id.String()}
	}
	return sess, nil
}

// translate maps store sentinels onto service error kinds
func translate(id uuid.UUID, err error) error {
	switch {
	case errors.Is(err, db.ErrSessionNotFound):
		return &NotFoundError{Resource: "session", ID: id.String()}
	case errors.Is(err, db.ErrConflict):
		return &ConflictError{Message: "session changed while the request was in flight", Cause: err}
	default:
		return err
	}
}

// StartSession generates criteria for a job description and opens a draft session.
// Nothing is stored when generation fails.
func (s *Service) StartSession(ctx context.Context, req types.StartSessionRequest) (*types.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, newValidationError(err)
	}

	client, err := s.newClient(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	result, err := s.engine.Generate(ctx, client, req.JobDescription, req.HRNotes)
	if err != nil {
		return nil, err
	}

	sess := &types.Session{
		ID:              uuid.New(),
		JobDescription:  req.JobDescription,
		KeepCount:       req.KeepCount,
		Criteria:        result.Criteria(),
		CriteriaVersion: 1,
		Status:          types.StatusDraft,
	}
	if req.HRNotes != "" {
		sess.HRNotes = types.StringPtr(req.HRNotes)
	}
	if err := ledger.Apply(sess, ledger.FromLLM(result.Usage)); err != nil {
		return nil, err
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("Screening session started",
		zap.String(observability.FieldSessionID, sess.ID.String()),
		zap.Int("keep_count", sess.KeepCount),
		zap.Int64("input_tokens", result.Usage.InputTokens),
		zap.Int64("output_tokens", result.Usage.OutputTokens),
	)
	return sess, nil
}

// UploadFile is one uploaded resume
type UploadFile = ingestion.Upload

// FileFailure is a file that produced no candidate
type FileFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// FileWarning is a candidate whose extraction was incomplete
type FileWarning struct {
	Filename string `json:"filename"`
	Warning  string `json:"warning"`
}

// UploadedCandidate summarizes a created candidate
type UploadedCandidate struct {
	ID                uuid.UUID           `json:"id"`
	Filename          string              `json:"filename"`
	TextLength        int                 `json:"text_length"`
	ExtractionWarning *string             `json:"extraction_warning,omitempty"`
	File              *ingestion.Metadata `json:"file,omitempty"`
}

// UploadResult reports the outcome of an upload
type UploadResult struct {
	UploadedCount   int                 `json:"uploaded_count"`
	TotalCandidates int                 `json:"total_candidates"`
	Candidates      []UploadedCandidate `json:"candidates"`
	FailedFiles     []FileFailure       `json:"failed_files"`
	Warnings        []FileWarning       `json:"warnings"`
}

type extracted struct {
	result *ingestion.Extraction
	err    error
}

// UploadCandidates extracts text from every file and adds one candidate per
// accepted file, in the order given. Files that cannot be read at all are
// reported in FailedFiles; files whose conversion failed become candidates
// that will be skipped by the pipeline.
func (s *Service) UploadCandidates(ctx context.Context, sessionID uuid.UUID, files []UploadFile) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, &ValidationError{Message: "no files uploaded"}
	}
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.CheckUploads(sess.Status); err != nil {
		return nil, err
	}

	results := make([]extracted, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range files {
		g.Go(func() error {
			out, err := s.extractor.Extract(gCtx, f.Filename, f.Data)
			results[i] = extracted{result: out, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &UploadResult{
		Candidates:  []UploadedCandidate{},
		FailedFiles: []FileFailure{},
		Warnings:    []FileWarning{},
	}
	parsedAt := s.now()
	var candidates []*types.Candidate
	var metadata []*ingestion.Metadata
	for i, f := range files {
		r := results[i]
		if r.err != nil {
			res.FailedFiles = append(res.FailedFiles, FileFailure{Filename: f.Filename, Error: r.err.Error()})
			continue
		}
		c := &types.Candidate{ID: uuid.New(), Filename: f.Filename, ParsedAt: &parsedAt}
		if r.result.Text != "" {
			c.Text = types.StringPtr(r.result.Text)
		}
		if r.result.Warning != "" {
			c.ExtractionWarning = types.StringPtr(r.result.Warning)
			res.Warnings = append(res.Warnings, FileWarning{Filename: f.Filename, Warning: r.result.Warning})
		}
		candidates = append(candidates, c)
		metadata = append(metadata, r.result.Metadata)
	}

	res.TotalCandidates = sess.TotalCandidates
	if len(candidates) > 0 {
		updated, err := s.store.AddCandidates(ctx, sessionID, candidates)
		if err != nil {
			return nil, translate(sessionID, err)
		}
		res.TotalCandidates = updated.TotalCandidates
	}

	for i, c := range candidates {
		length := 0
		if c.Text != nil {
			length = len(*c.Text)
		}
		res.Candidates = append(res.Candidates, UploadedCandidate{
			ID:                c.ID,
			Filename:          c.Filename,
			TextLength:        length,
			ExtractionWarning: c.ExtractionWarning,
			File:              metadata[i],
		})
	}
	res.UploadedCount = len(candidates)

	s.logger.Info("Candidates uploaded",
		zap.String(observability.FieldSessionID, sessionID.String()),
		zap.Int("uploaded", res.UploadedCount),
		zap.Int("failed", len(res.FailedFiles)),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// RefineResult is the outcome of a successful refinement
type RefineResult struct {
	Criteria        types.Criteria `json:"criteria"`
	ChangesMade     string         `json:"changes_made"`
	NeedsReprocess  bool           `json:"needs_reprocess"`
	CriteriaVersion int            `json:"criteria_version"`
	Status          types.Status   `json:"status"`
}

// RefineCriteria applies recruiter feedback to the session's criteria
func (s *Service) RefineCriteria(ctx context.Context, sessionID uuid.UUID, req types.RefineRequest) (*RefineResult, error) {
	if err := req.Validate(); err != nil {
		return nil, newValidationError(err)
	}
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListConversation(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	client, err := s.newClient(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	result, err := s.engine.Refine(ctx, client, sess.Criteria, criteria.RefineInput{
		Feedback:      req.Feedback,
		PasteCriteria: req.PasteCriteria,
	}, history)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateCriteria(ctx, sessionID, db.CriteriaUpdate{
		ExpectedVersion: sess.CriteriaVersion,
		Criteria:        result.Criteria(),
		Usage:           ledger.FromLLM(result.Usage),
		Entry: types.ConversationEntry{
			Role:        types.RoleUser,
			Message:     req.Message(),
			ChangesMade: result.ChangesMade,
		},
	})
	if err != nil {
		return nil, translate(sessionID, err)
	}

	s.logger.Info("Criteria refined",
		zap.String(observability.FieldSessionID, sessionID.String()),
		zap.Int("criteria_version", updated.CriteriaVersion),
		zap.String("status", string(updated.Status)),
	)
	return &RefineResult{
		Criteria:        updated.Criteria,
		ChangesMade:     result.ChangesMade,
		NeedsReprocess:  updated.Status == types.StatusCriteriaStale,
		CriteriaVersion: updated.CriteriaVersion,
		Status:          updated.Status,
	}, nil
}

// TriggerResult reports whether a run was started
type TriggerResult struct {
	Status          string `json:"status"`
	IsReprocess     bool   `json:"is_reprocess"`
	CriteriaVersion int    `json:"criteria_version,omitempty"`
	// Done is closed when the started run finishes. Nil unless accepted.
	Done <-chan struct{} `json:"-"`
}

// TriggerProcess starts a background scoring run. A session that is already
// running reports already_running instead of starting a second pass.
func (s *Service) TriggerProcess(ctx context.Context, sessionID uuid.UUID) (*TriggerResult, error) {
	if s.closing.Load() {
		return nil, ErrShuttingDown
	}
	release, ok := s.guard.TryAcquire(sessionID)
	if !ok {
		return &TriggerResult{Status: TriggerAlreadyRunning}, nil
	}
	started := false
	defer func() {
		if !started {
			release()
		}
	}()

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsRunning(sess.Status) {
		return &TriggerResult{Status: TriggerAlreadyRunning}, nil
	}

	client, err := s.newClient(ctx)
	if err != nil {
		return nil, err
	}

	running, reprocess, err := s.store.BeginRun(ctx, sessionID, db.RunStart{
		LockedAt:        s.now(),
		ExpectedVersion: sess.CriteriaVersion,
	})
	if err != nil {
		_ = client.Close()
		return nil, translate(sessionID, err)
	}

	done := make(chan struct{})
	started = true
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer close(done)
		defer release()
		defer func() { _ = client.Close() }()

		summary, err := s.runner.Run(s.runCtx, pipeline.RunInput{
			Session:    running,
			Client:     client,
			OnProgress: s.onProgress,
		})
		if err != nil {
			s.logger.Error("Scoring run failed",
				zap.String(observability.FieldSessionID, sessionID.String()),
				zap.Error(err))
			return
		}
		s.logger.Info("Scoring run finished",
			zap.String(observability.FieldSessionID, sessionID.String()),
			zap.Int("scored", summary.Scored),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
		)
	}()

	return &TriggerResult{
		Status:          TriggerAccepted,
		IsReprocess:     reprocess,
		CriteriaVersion: running.CriteriaVersion,
		Done:            done,
	}, nil
}

// GetSession returns one session
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*types.Session, error) {
	return s.getSession(ctx, sessionID)
}

// GetResults returns the ranked view of a session
func (s *Service) GetResults(ctx context.Context, sessionID uuid.UUID) (*ranking.Results, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.ListCandidates(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	return ranking.Build(sess, candidates), nil
}

// CandidateDetail is one candidate with its ranking status
type CandidateDetail struct {
	*types.Candidate
	Status ranking.Status `json:"status"`
	// Stale is true when the stored evaluation was computed against older criteria
	Stale bool `json:"stale"`
}

// GetCandidateDetail returns a candidate of the session. A candidate that
// belongs to another session is reported as not found.
func (s *Service) GetCandidateDetail(ctx context.Context, sessionID, candidateID uuid.UUID) (*CandidateDetail, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}
	if c == nil || c.SessionID != sessionID {
		return nil, &NotFoundError{Resource: "candidate", ID: candidateID.String()}
	}
	return &CandidateDetail{
		Candidate: c,
		Status:    ranking.Classify(c),
		Stale:     c.CriteriaVersion != nil && *c.CriteriaVersion != sess.CriteriaVersion,
	}, nil
}

// CandidateHistory returns the evaluations archived for a candidate by reprocessing
func (s *Service) CandidateHistory(ctx context.Context, sessionID, candidateID uuid.UUID) ([]types.EvaluationRecord, error) {
	if _, err := s.GetCandidateDetail(ctx, sessionID, candidateID); err != nil {
		return nil, err
	}
	records, err := s.store.ListEvaluationHistory(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluation history: %w", err)
	}
	if records == nil {
		records = []types.EvaluationRecord{}
	}
	return records, nil
}

// ListConversation returns the session's refinement log, oldest first
func (s *Service) ListConversation(ctx context.Context, sessionID uuid.UUID) ([]types.ConversationEntry, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListConversation(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	if entries == nil {
		entries = []types.ConversationEntry{}
	}
	return entries, nil
}

// ProviderConfig returns the active provider configuration with the key masked
func (s *Service) ProviderConfig() llm.Config {
	return s.providers.Active().Redacted()
}

// UpdateProviderConfig swaps the active provider configuration. Runs already
// in flight keep the client they started with.
func (s *Service) UpdateProviderConfig(next llm.Config) (llm.Config, error) {
	prev, err := s.providers.Swap(next)
	if err != nil {
		return llm.Config{}, &ValidationError{Message: err.Error(), Cause: err}
	}
	active := s.providers.Active().Redacted()
	s.logger.Info("LLM provider configuration updated",
		zap.String("previous_provider", string(prev.Provider)),
		zap.String(observability.FieldProvider, string(active.Provider)),
		zap.String(observability.FieldModel, active.Model),
		zap.String("api_key", active.APIKey),
	)
	return active, nil
}

// ListModels lists the models offered by the active provider
func (s *Service) ListModels(ctx context.Context) ([]string, error) {
	client, err := s.newClient(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()
	return client.ListModels(ctx)
}

// Shutdown stops accepting runs and waits for in-flight runs to finish. When
// ctx expires first, running scans are cancelled and still completed.
func (s *Service) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	finished := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.stopRuns()
		return nil
	case <-ctx.Done():
		s.stopRuns()
		<-finished
		return ctx.Err()
	}
}

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/resume-screener/internal/config"
	"github.com/jonathan/resume-screener/internal/db"
	"github.com/jonathan/resume-screener/internal/ingestion"
	"github.com/jonathan/resume-screener/internal/llm"
	"github.com/jonathan/resume-screener/internal/observability"
	"github.com/jonathan/resume-screener/internal/pipeline"
	"github.com/jonathan/resume-screener/internal/scoring"
	"github.com/jonathan/resume-screener/internal/screening"
)

// openStore connects to PostgreSQL when a database URL is configured and
// falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (db.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("No database configured; sessions are kept in memory and lost on exit")
		return db.NewMemoryStore(), nil
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return database, nil
}

// newService wires the screening service from configuration
func newService(cfg *config.Config, store db.Store, logger *zap.Logger, opts ...screening.Option) (*screening.Service, error) {
	providers, err := llm.NewConfigStore(cfg.ProviderConfig())
	if err != nil {
		return nil, err
	}

	scorer := scoring.NewScorer(logger, scoring.WithMaxResumeChars(cfg.Pipeline.MaxResumeChars))
	runner := pipeline.NewRunner(store, scorer, logger,
		pipeline.WithMaxConcurrentRuns(cfg.Pipeline.MaxConcurrentRuns),
		pipeline.WithRateLimit(cfg.Pipeline.CallsPerSecond, cfg.Pipeline.CallBurst),
	)

	extractorOpts := []ingestion.Option{ingestion.WithLogger(logger)}
	if len(cfg.Pipeline.OCRCommand) > 0 {
		ocr, err := ingestion.NewCommandOCR(cfg.Pipeline.OCRCommand, cfg.Pipeline.OCRTimeout)
		if err != nil {
			return nil, err
		}
		extractorOpts = append(extractorOpts, ingestion.WithOCR(ocr))
	}

	base := []screening.Option{
		screening.WithLogger(logger),
		screening.WithRunner(runner),
		screening.WithExtractor(ingestion.NewExtractor(extractorOpts...)),
		screening.WithUploadWorkers(cfg.Pipeline.UploadWorkers),
		screening.WithProgress(logProgress(logger)),
	}

	active := providers.Active()
	logger.Info("LLM provider configured",
		append(observability.CommonFields(string(active.Provider), active.Model),
			zap.Bool("has_credentials", active.HasCredentials()))...)

	return screening.New(store, providers, append(base, opts...)...), nil
}

func logProgress(logger *zap.Logger) pipeline.ProgressCallback {
	return func(ev pipeline.ProgressEvent) {
		logger.Debug("Candidate processed",
			zap.String(observability.FieldSessionID, ev.SessionID.String()),
			zap.String("filename", ev.Filename),
			zap.String("outcome", string(ev.Outcome)),
			zap.Int("processed", ev.Processed),
			zap.Int("total", ev.Total),
		)
	}
}

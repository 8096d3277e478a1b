package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/resume-screener/internal/ledger"
	"github.com/jonathan/resume-screener/internal/llm"
	"github.com/jonathan/resume-screener/internal/session"
	"github.com/jonathan/resume-screener/internal/types"
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const sessionColumns = `id, job_description, keep_count, hr_notes, criteria_text, criteria_structured,
	criteria_version, status, total_candidates, processed_count, qualified_count,
	input_tokens, output_tokens, criteria_locked_at, created_at, updated_at`

func scanSession(row pgx.Row) (*types.Session, error) {
	var s types.Session
	var status string
	var structured []byte
	err := row.Scan(&s.ID, &s.JobDescription, &s.KeepCount, &s.HRNotes, &s.Criteria.HumanReadable, &structured,
		&s.CriteriaVersion, &status, &s.TotalCandidates, &s.ProcessedCount, &s.QualifiedCount,
		&s.InputTokens, &s.OutputTokens, &s.CriteriaLockedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = types.Status(status)
	if len(structured) > 0 {
		var doc types.CriteriaDocument
		if err := unmarshalNullable(structured, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode criteria for session %s: %w", s.ID, err)
		}
		s.Criteria.Structured = &doc
	}
	return &s, nil
}

// CreateSession inserts a new session. ID and timestamps are filled in when unset.
func (db *DB) CreateSession(ctx context.Context, s *types.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	structured, err := marshalNullable(s.Criteria.Structured, s.Criteria.Structured == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`INSERT INTO screening_sessions (id, job_description, keep_count, hr_notes, criteria_text,
		     criteria_structured, criteria_version, status, input_tokens, output_tokens)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		s.ID, s.JobDescription, s.KeepCount, s.HRNotes, s.Criteria.HumanReadable,
		structured, s.CriteriaVersion, string(s.Status), s.InputTokens, s.OutputTokens,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (*types.Session, error) {
	s, err := getSession(ctx, db.pool, id, false)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func getSession(ctx context.Context, q rowQuerier, id uuid.UUID, forUpdate bool) (*types.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM screening_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	s, err := scanSession(q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return s, nil
}

// lockSession loads a session inside tx with a row lock
func lockSession(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*types.Session, error) {
	s, err := getSession(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// saveSession writes every mutable session column
func saveSession(ctx context.Context, tx pgx.Tx, s *types.Session) error {
	structured, err := marshalNullable(s.Criteria.Structured, s.Criteria.Structured == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}
	err = tx.QueryRow(ctx,
		`UPDATE screening_sessions SET
		     criteria_text = $2, criteria_structured = $3, criteria_version = $4, status = $5,
		     total_candidates = $6, processed_count = $7, qualified_count = $8,
		     input_tokens = $9, output_tokens = $10, criteria_locked_at = $11, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		s.ID, s.Criteria.HumanReadable, structured, s.CriteriaVersion, string(s.Status),
		s.TotalCandidates, s.ProcessedCount, s.QualifiedCount,
		s.InputTokens, s.OutputTokens, s.CriteriaLockedAt,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", s.ID, err)
	}
	return nil
}

// UpdateCriteria stores a refinement and its conversation entry in one transaction
func (db *DB) UpdateCriteria(ctx context.Context, sessionID uuid.UUID, update CriteriaUpdate) (*types.Session, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.CriteriaVersion != update.ExpectedVersion {
		return nil, ErrConflict
	}

	s.Criteria = update.Criteria
	if err := ledger.Apply(s, update.Usage); err != nil {
		return nil, err
	}
	session.ApplyRefinement(s)
	if err := saveSession(ctx, tx, s); err != nil {
		return nil, err
	}

	entry := update.Entry
	entry.SessionID = sessionID
	err = tx.QueryRow(ctx,
		`INSERT INTO screening_conversation (session_id, role, message, changes_made)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		sessionID, string(entry.Role), entry.Message, nullIfEmpty(entry.ChangesMade),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s, nil
}

// BeginRun moves a session into processing, archiving stale evaluations first
func (db *DB) BeginRun(ctx context.Context, sessionID uuid.UUID, start RunStart) (*types.Session, bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if start.ExpectedVersion != 0 && s.CriteriaVersion != start.ExpectedVersion {
		return nil, false, ErrConflict
	}

	reprocess, err := session.BeginProcessing(s, start.LockedAt)
	if err != nil {
		return nil, false, err
	}

	if reprocess {
		candidates, err := listCandidates(ctx, tx, sessionID)
		if err != nil {
			return nil, false, err
		}
		for i := range candidates {
			record := candidates[i].ArchiveRecord(start.LockedAt)
			if record == nil {
				continue
			}
			if err := insertHistory(ctx, tx, record); err != nil {
				return nil, false, err
			}
		}
		_, err = tx.Exec(ctx,
			`UPDATE screening_candidates SET
			     passed_dealbreakers = NULL, rejection_reason = NULL, final_score = NULL,
			     one_liner = NULL, category_scores = NULL, strengths = NULL, concerns = NULL,
			     highlights = NULL, criteria_version = NULL, processed_at = NULL
			 WHERE session_id = $1`,
			sessionID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("failed to reset evaluations: %w", err)
		}
	}

	if err := saveSession(ctx, tx, s); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s, reprocess, nil
}

// RecordProgress commits one scored or skipped candidate with the session counters
func (db *DB) RecordProgress(ctx context.Context, c *types.Candidate, p Progress) error {
	if p.Usage.InputTokens < 0 || p.Usage.OutputTokens < 0 {
		return &ledger.NegativeUsageError{Usage: ledgerUsage(p.Usage)}
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := saveEvaluation(ctx, tx, c); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE screening_sessions SET
		     processed_count = $2, qualified_count = $3,
		     input_tokens = input_tokens + $4, output_tokens = output_tokens + $5,
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		c.SessionID, p.Processed, p.Qualified, p.Usage.InputTokens, p.Usage.OutputTokens,
	)
	if err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CompleteRun moves a processing session to completed
func (db *DB) CompleteRun(ctx context.Context, sessionID uuid.UUID) (*types.Session, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.Complete(s); err != nil {
		return nil, err
	}
	if err := saveSession(ctx, tx, s); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s, nil
}

// ListConversation returns the refinement history, oldest first
func (db *DB) ListConversation(ctx context.Context, sessionID uuid.UUID) ([]types.ConversationEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, role, message, changes_made, created_at
		 FROM screening_conversation WHERE session_id = $1 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	defer rows.Close()

	var entries []types.ConversationEntry
	for rows.Next() {
		var e types.ConversationEntry
		var role string
		var changes *string
		if err := rows.Scan(&e.ID, &e.SessionID, &role, &e.Message, &changes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation entry: %w", err)
		}
		e.Role = types.ConversationRole(role)
		if changes != nil {
			e.ChangesMade = *changes
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func ledgerUsage(u types.TokenUsage) llm.Usage {
	return llm.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
}

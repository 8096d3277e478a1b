package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/resume-screener/internal/session"
	"github.com/jonathan/resume-screener/internal/types"
)

type rowsQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const candidateColumns = `id, session_id, seq, filename, original_text, extraction_warning,
	passed_dealbreakers, rejection_reason, final_score, one_liner,
	category_scores, strengths, concerns, highlights,
	criteria_version, parsed_at, processed_at, created_at`

func scanCandidate(row pgx.Row) (*types.Candidate, error) {
	var c types.Candidate
	var scores, strengths, concerns, highlights []byte
	err := row.Scan(&c.ID, &c.SessionID, &c.Seq, &c.Filename, &c.Text, &c.ExtractionWarning,
		&c.PassedDealbreakers, &c.RejectionReason, &c.FinalScore, &c.OneLiner,
		&scores, &strengths, &concerns, &highlights,
		&c.CriteriaVersion, &c.ParsedAt, &c.ProcessedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		data []byte
		dst  any
	}{
		{scores, &c.CategoryScores},
		{strengths, &c.Strengths},
		{concerns, &c.Concerns},
		{highlights, &c.Highlights},
	} {
		if err := unmarshalNullable(f.data, f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode candidate %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

// AddCandidates inserts uploaded candidates after the session's existing ones
func (db *DB) AddCandidates(ctx context.Context, sessionID uuid.UUID, candidates []*types.Candidate) (*types.Session, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.CheckUploads(s.Status); err != nil {
		return nil, err
	}

	var maxSeq int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM screening_candidates WHERE session_id = $1`,
		sessionID,
	).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate order: %w", err)
	}

	for i, c := range candidates {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.SessionID = sessionID
		c.Seq = maxSeq + i + 1
		err = tx.QueryRow(ctx,
			`INSERT INTO screening_candidates (id, session_id, seq, filename, original_text, extraction_warning, parsed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING created_at`,
			c.ID, c.SessionID, c.Seq, c.Filename, c.Text, c.ExtractionWarning, c.ParsedAt,
		).Scan(&c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert candidate %s: %w", c.Filename, err)
		}
	}

	s.TotalCandidates += len(candidates)
	if err := saveSession(ctx, tx, s); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s, nil
}

// GetCandidate retrieves a candidate by ID
func (db *DB) GetCandidate(ctx context.Context, id uuid.UUID) (*types.Candidate, error) {
	c, err := scanCandidate(db.pool.QueryRow(ctx,
		`SELECT `+candidateColumns+` FROM screening_candidates WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get candidate %s: %w", id, err)
	}
	return c, nil
}

// ListCandidates returns a session's candidates in upload order
func (db *DB) ListCandidates(ctx context.Context, sessionID uuid.UUID) ([]types.Candidate, error) {
	return listCandidates(ctx, db.pool, sessionID)
}

func listCandidates(ctx context.Context, q rowsQuerier, sessionID uuid.UUID) ([]types.Candidate, error) {
	rows, err := q.Query(ctx,
		`SELECT `+candidateColumns+` FROM screening_candidates WHERE session_id = $1 ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var candidates []types.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, *c)
	}
	return candidates, rows.Err()
}

// saveEvaluation writes the evaluation columns of one candidate
func saveEvaluation(ctx context.Context, tx pgx.Tx, c *types.Candidate) error {
	scores, err := marshalNullable(c.CategoryScores, c.CategoryScores == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal category scores: %w", err)
	}
	strengths, _ := marshalNullable(c.Strengths, c.Strengths == nil)
	concerns, _ := marshalNullable(c.Concerns, c.Concerns == nil)
	highlights, _ := marshalNullable(c.Highlights, c.Highlights == nil)

	tag, err := tx.Exec(ctx,
		`UPDATE screening_candidates SET
		     passed_dealbreakers = $2, rejection_reason = $3, final_score = $4, one_liner = $5,
		     category_scores = $6, strengths = $7, concerns = $8, highlights = $9,
		     criteria_version = $10, processed_at = $11
		 WHERE id = $1`,
		c.ID, c.PassedDealbreakers, c.RejectionReason, c.FinalScore, c.OneLiner,
		scores, strengths, concerns, highlights,
		c.CriteriaVersion, c.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save evaluation for %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("candidate not found: %s", c.ID)
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, r *types.EvaluationRecord) error {
	evaluation, err := json.Marshal(r.Evaluation)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO screening_evaluation_history
		     (id, candidate_id, session_id, criteria_version, evaluation, processed_at, archived_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.CandidateID, r.SessionID, r.CriteriaVersion, evaluation, r.ProcessedAt, r.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive evaluation for %s: %w", r.CandidateID, err)
	}
	return nil
}

// ListEvaluationHistory returns archived evaluations of a candidate, oldest criteria first
func (db *DB) ListEvaluationHistory(ctx context.Context, candidateID uuid.UUID) ([]types.EvaluationRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, candidate_id, session_id, criteria_version, evaluation, processed_at, archived_at
		 FROM screening_evaluation_history
		 WHERE candidate_id = $1
		 ORDER BY criteria_version, archived_at`,
		candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluation history: %w", err)
	}
	defer rows.Close()

	var records []types.EvaluationRecord
	for rows.Next() {
		var r types.EvaluationRecord
		var evaluation []byte
		if err := rows.Scan(&r.ID, &r.CandidateID, &r.SessionID, &r.CriteriaVersion, &evaluation,
			&r.ProcessedAt, &r.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation history: %w", err)
		}
		if err := json.Unmarshal(evaluation, &r.Evaluation); err != nil {
			return nil, fmt.Errorf("failed to decode evaluation history: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

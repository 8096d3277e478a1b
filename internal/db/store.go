package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/resume-screener/internal/types"
)

// ErrConflict is returned when a conditional update lost a race, such as a
// refinement computed against a criteria version that is no longer current.
var ErrConflict = errors.New("session was modified concurrently")

// ErrSessionNotFound is returned by mutations addressed to a missing session
var ErrSessionNotFound = errors.New("session not found")

// Progress is the running state committed after every candidate
type Progress struct {
	Processed int
	Qualified int
	Usage     types.TokenUsage
}

// CriteriaUpdate is one successful refinement
type CriteriaUpdate struct {
	ExpectedVersion int
	Criteria        types.Criteria
	Usage           types.TokenUsage
	Entry           types.ConversationEntry
}

// RunStart describes the transition into processing
type RunStart struct {
	// LockedAt is stamped as criteria_locked_at
	LockedAt time.Time
	// ExpectedVersion must match the criteria version the run will score with
	ExpectedVersion int
}

// Store persists screening sessions. Every method that changes more than one
// row does so atomically. Getters return nil, nil when the row does not exist.
type Store interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*types.Session, error)

	// AddCandidates assigns upload order and grows total_candidates.
	// Fails with a session.StateError unless the session accepts uploads.
	AddCandidates(ctx context.Context, sessionID uuid.UUID, candidates []*types.Candidate) (*types.Session, error)
	GetCandidate(ctx context.Context, id uuid.UUID) (*types.Candidate, error)
	// ListCandidates returns the session's candidates in upload order
	ListCandidates(ctx context.Context, sessionID uuid.UUID) ([]types.Candidate, error)

	// UpdateCriteria stores refined criteria, charges usage, appends the
	// conversation entry and applies the refinement transition.
	UpdateCriteria(ctx context.Context, sessionID uuid.UUID, update CriteriaUpdate) (*types.Session, error)

	// BeginRun moves the session into processing. When the session was stale,
	// current evaluations are archived and cleared. Fails with a
	// session.TransitionError when the move is not allowed.
	BeginRun(ctx context.Context, sessionID uuid.UUID, start RunStart) (s *types.Session, reprocess bool, err error)
	// RecordProgress commits one candidate together with the session counters
	// and the usage charged since the previous commit.
	RecordProgress(ctx context.Context, c *types.Candidate, p Progress) error
	// CompleteRun moves a processing session to completed
	CompleteRun(ctx context.Context, sessionID uuid.UUID) (*types.Session, error)

	ListConversation(ctx context.Context, sessionID uuid.UUID) ([]types.ConversationEntry, error)
	ListEvaluationHistory(ctx context.Context, candidateID uuid.UUID) ([]types.EvaluationRecord, error)

	Close()
}

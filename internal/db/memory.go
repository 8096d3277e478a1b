package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/resume-screener/internal/ledger"
	"github.com/jonathan/resume-screener/internal/session"
	"github.com/jonathan/resume-screener/internal/types"
)

// MemoryStore keeps sessions in process memory. It follows the same
// transactional rules as DB and is used by the CLI and tests.
type MemoryStore struct {
	mu            sync.Mutex
	sessions      map[uuid.UUID]*types.Session
	candidates    map[uuid.UUID]*types.Candidate
	conversations map[uuid.UUID][]types.ConversationEntry
	history       map[uuid.UUID][]types.EvaluationRecord
	nextEntryID   int64
	now           func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[uuid.UUID]*types.Session),
		candidates:    make(map[uuid.UUID]*types.Candidate),
		conversations: make(map[uuid.UUID][]types.ConversationEntry),
		history:       make(map[uuid.UUID][]types.EvaluationRecord),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if _, exists := m.sessions[s.ID]; exists {
		return ErrConflict
	}
	now := m.now()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) AddCandidates(_ context.Context, sessionID uuid.UUID, candidates []*types.Candidate) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := session.CheckUploads(s.Status); err != nil {
		return nil, err
	}

	maxSeq := 0
	for _, c := range m.candidates {
		if c.SessionID == sessionID && c.Seq > maxSeq {
			maxSeq = c.Seq
		}
	}

	now := m.now()
	for i, c := range candidates {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.SessionID = sessionID
		c.Seq = maxSeq + i + 1
		c.CreatedAt = now
		m.candidates[c.ID] = cloneCandidate(c)
	}
	s.TotalCandidates += len(candidates)
	s.UpdatedAt = now
	return cloneSession(s), nil
}

func (m *MemoryStore) GetCandidate(_ context.Context, id uuid.UUID) (*types.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.candidates[id]
	if !ok {
		return nil, nil
	}
	return cloneCandidate(c), nil
}

func (m *MemoryStore) ListCandidates(_ context.Context, sessionID uuid.UUID) ([]types.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(sessionID), nil
}

func (m *MemoryStore) listLocked(sessionID uuid.UUID) []types.Candidate {
	var out []types.Candidate
	for _, c := range m.candidates {
		if c.SessionID == sessionID {
			out = append(out, *cloneCandidate(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (m *MemoryStore) UpdateCriteria(_ context.Context, sessionID uuid.UUID, update CriteriaUpdate) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if stored.CriteriaVersion != update.ExpectedVersion {
		return nil, ErrConflict
	}

	s := cloneSession(stored)
	s.Criteria = cloneCriteria(update.Criteria)
	if err := ledger.Apply(s, update.Usage); err != nil {
		return nil, err
	}
	session.ApplyRefinement(s)
	s.UpdatedAt = m.now()

	m.nextEntryID++
	entry := update.Entry
	entry.ID = m.nextEntryID
	entry.SessionID = sessionID
	entry.CreatedAt = s.UpdatedAt
	m.conversations[sessionID] = append(m.conversations[sessionID], entry)
	m.sessions[sessionID] = s
	return cloneSession(s), nil
}

func (m *MemoryStore) BeginRun(_ context.Context, sessionID uuid.UUID, start RunStart) (*types.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[sessionID]
	if !ok {
		return nil, false, ErrSessionNotFound
	}
	if start.ExpectedVersion != 0 && stored.CriteriaVersion != start.ExpectedVersion {
		return nil, false, ErrConflict
	}

	s := cloneSession(stored)
	reprocess, err := session.BeginProcessing(s, start.LockedAt)
	if err != nil {
		return nil, false, err
	}

	if reprocess {
		for _, c := range m.candidates {
			if c.SessionID != sessionID {
				continue
			}
			if record := c.ArchiveRecord(start.LockedAt); record != nil {
				m.history[c.ID] = append(m.history[c.ID], *record)
			}
			c.ClearEvaluation()
		}
	}

	s.UpdatedAt = m.now()
	m.sessions[sessionID] = s
	return cloneSession(s), reprocess, nil
}

func (m *MemoryStore) RecordProgress(_ context.Context, c *types.Candidate, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Usage.InputTokens < 0 || p.Usage.OutputTokens < 0 {
		return &ledger.NegativeUsageError{Usage: ledgerUsage(p.Usage)}
	}
	s, ok := m.sessions[c.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status != types.StatusProcessing {
		return ErrConflict
	}
	stored, ok := m.candidates[c.ID]
	if !ok {
		return ErrSessionNotFound
	}

	updated := cloneCandidate(c)
	updated.Seq = stored.Seq
	updated.CreatedAt = stored.CreatedAt
	m.candidates[c.ID] = updated

	s.ProcessedCount = p.Processed
	s.QualifiedCount = p.Qualified
	s.InputTokens += p.Usage.InputTokens
	s.OutputTokens += p.Usage.OutputTokens
	s.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) CompleteRun(_ context.Context, sessionID uuid.UUID) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := session.Complete(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = m.now()
	return cloneSession(s), nil
}

func (m *MemoryStore) ListConversation(_ context.Context, sessionID uuid.UUID) ([]types.ConversationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ConversationEntry(nil), m.conversations[sessionID]...), nil
}

func (m *MemoryStore) ListEvaluationHistory(_ context.Context, candidateID uuid.UUID) ([]types.EvaluationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.EvaluationRecord(nil), m.history[candidateID]...), nil
}

// Close is a no-op
func (m *MemoryStore) Close() {}

func cloneCriteria(c types.Criteria) types.Criteria {
	return types.Criteria{HumanReadable: c.HumanReadable, Structured: c.Structured.Clone()}
}

func cloneSession(s *types.Session) *types.Session {
	out := *s
	out.Criteria = cloneCriteria(s.Criteria)
	if s.HRNotes != nil {
		notes := *s.HRNotes
		out.HRNotes = &notes
	}
	if s.CriteriaLockedAt != nil {
		locked := *s.CriteriaLockedAt
		out.CriteriaLockedAt = &locked
	}
	return &out
}

func cloneCandidate(c *types.Candidate) *types.Candidate {
	out := *c
	out.Strengths = append([]string(nil), c.Strengths...)
	out.Concerns = append([]string(nil), c.Concerns...)
	out.Highlights = append([]string(nil), c.Highlights...)
	if c.CategoryScores != nil {
		out.CategoryScores = make(map[string]types.CategoryScore, len(c.CategoryScores))
		for k, v := range c.CategoryScores {
			v.Evidence = append([]string(nil), v.Evidence...)
			out.CategoryScores[k] = v
		}
	}
	return &out
}

package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-screener/internal/session"
	"github.com/jonathan/resume-screener/internal/types"
)

func testCriteria() types.Criteria {
	w := 1.0
	return types.Criteria{
		HumanReadable: "Must know Go",
		Structured: &types.CriteriaDocument{
			Version: types.CriteriaSchemaVersion,
			Categories: []types.Category{
				{ID: "dealbreakers", DisplayName: "Dealbreakers", IsDealbreaker: true,
					Items: []types.CriteriaItem{{Text: "Go", Key: "go"}}},
				{ID: "highly_valued", DisplayName: "Highly valued", Weight: &w,
					Items: []types.CriteriaItem{{Text: "Kubernetes", Key: "kubernetes"}}},
			},
		},
	}
}

func newTestSession(t *testing.T, store Store) *types.Session {
	t.Helper()
	s := &types.Session{
		JobDescription:  "Backend engineer",
		KeepCount:       2,
		Criteria:        testCriteria(),
		CriteriaVersion: 1,
		Status:          types.StatusDraft,
		InputTokens:     100,
		OutputTokens:    10,
	}
	require.NoError(t, store.CreateSession(context.Background(), s))
	require.NotEqual(t, uuid.Nil, s.ID)
	return s
}

func textCandidate(name, text string) *types.Candidate {
	return &types.Candidate{Filename: name, Text: types.StringPtr(text)}
}

func evaluate(c *types.Candidate, passed bool, score, version int) {
	c.ApplyEvaluation(&types.Evaluation{
		PassedDealbreakers: passed,
		FinalScore:         score,
		OneLiner:           "solid",
		CategoryScores:     map[string]types.CategoryScore{"highly_valued": {Score: score}},
		Strengths:          []string{"Go"},
	}, version, time.Now().UTC().Truncate(time.Microsecond))
}

// testStoreContract exercises behaviour every Store implementation shares
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get missing returns nil", func(t *testing.T) {
		store := newStore(t)
		s, err := store.GetSession(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, s)

		c, err := store.GetCandidate(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("session round trip", func(t *testing.T) {
		store := newStore(t)
		s := newTestSession(t, store)

		got, err := store.GetSession(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Backend engineer", got.JobDescription)
		assert.Equal(t, types.StatusDraft, got.Status)
		require.True(t, got.HasCriteria())
		assert.Equal(t, "kubernetes", got.Criteria.Structured.Categories[1].Items[0].Key)
		assert.Equal(t, int64(100), got.InputTokens)
	})

	t.Run("add candidates assigns order", func(t *testing.T) {
		store := newStore(t)
		s := newTestSession(t, store)

		first := textCandidate("a.pdf", "Alice")
		updated, err := store.AddCandidates(ctx, s.ID, []*types.Candidate{first})
		require.NoError(t, err)
		assert.Equal(t, 1, updated.TotalCandidates)

		skipped := &types.Candidate{Filename: "scan.pdf", ExtractionWarning: types.StringPtr("ocr-unavailable")}
		second := textCandidate("b.pdf", "Bob")
		updated, err = store.AddCandidates(ctx, s.ID, []*types.Candidate{skipped, second})
		require.NoError(t, err)
		assert.Equal(t, 3, updated.TotalCandidates)

		list, err := store.ListCandidates(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"a.pdf", "scan.pdf", "b.pdf"},
			[]string{list[0].Filename, list[1].Filename, list[2].Filename})
		assert.True(t, list[1].IsSkipped())
		assert.Equal(t, 1, list[0].Seq)
		assert.Equal(t, 3, list[2].Seq)
	})

	t.Run("uploads rejected while processing", func(t *testing.T) {
		store := newStore(t)
		s := newTestSession(t, store)
		_, _, err := store.BeginRun(ctx, s.ID, RunStart{LockedAt: time.Now()})
		require.NoError(t, err)

		_, err = store.AddCandidates(ctx, s.ID, []*types.Candidate{textCandidate("late.pdf", "x")})
		var stateErr *session.StateError
		require.ErrorAs(t, err, &stateErr)

		list, err := store.ListCandidates(ctx, s.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("missing session", func(t *testing.T) {
		store := newStore(t)
		_, err := store.AddCandidates(ctx, uuid.New(), nil)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		_, _, err = store.BeginRun(ctx, uuid.New(), RunStart{LockedAt: time.Now()})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("update criteria", func(t *testing.T) {
		store := newStore(t)
		s := newTestSession(t, store)

		refined := testCriteria()
		refined.HumanReadable = "Must know Go and Rust"
		updated, err := store.UpdateCriteria(ctx, s.ID, CriteriaUpdate{
			ExpectedVersion: 1,
			Criteria:        refined,
			Usage:           types.TokenUsage{InputTokens: 50, OutputTokens: 5},
			Entry:           types.ConversationEntry{Role: types.RoleUser, Message: "add rust", ChangesMade: "Added Rust"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.CriteriaVersion)
		assert.Equal(t, types.StatusDraft, updated.Status)
		assert.Equal(t, int64(150), updated.InputTokens)
		assert.Equal(t, int64(15), updated.OutputTokens)
		assert.Equal(t, "Must know Go and Rust", updated.Criteria.HumanReadable)

		entries, err := store.ListConversation(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "add rust", entries[0].Message)
		assert.Equal(t, "Added Rust", entries[0].ChangesMade)

		_, err = store.UpdateCriteria(ctx, s.ID, CriteriaUpdate{ExpectedVersion: 1, Criteria: refined})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("run lifecycle and reprocess", func(t *testing.T) {
		store := newStore(t)
		s := newTestSession(t, store)
		_, err := store.AddCandidates(ctx, s.ID, []*types.Candidate{textCandidate("a.pdf", "Alice")})
		require.NoError(t, err)

		running, reprocess, err := store.BeginRun(ctx, s.ID, RunStart{LockedAt: time.Now(), ExpectedVersion: 1})
		require.NoError(t, err)
		assert.False(t, reprocess)
		assert.Equal(t, types.StatusProcessing, running.Status)
		require.NotNil(t, running.CriteriaLockedAt)

		list, err := store.ListCandidates(ctx, s.ID)
		require.NoError(t, err)
		c := list[0]
		evaluate(&c, true, 82, 1)
		require.NoError(t, store.RecordProgress(ctx, &c, Progress{
			Processed: 1, Qualified: 1,
			Usage: types.TokenUsage{InputTokens: 30, OutputTokens: 3},
		}))

		done, err := store.CompleteRun(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, done.Status)
		assert.Equal(t, 1, done.ProcessedCount)
		assert.Equal(t, 1, done.QualifiedCount)
		assert.Equal(t, int64(130), done.InputTokens)

		scored, err := store.GetCandidate(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, scored.FinalScore)
		assert.Equal(t, 82, *scored.FinalScore)
		assert.Equal(t, []string{"Go"}, scored.Strengths)
		assert.Equal(t, 82, scored.CategoryScores["highly_valued"].Score)

		// completed without a refinement cannot run again
		_, _, err = store.BeginRun(ctx, s.ID, RunStart{LockedAt: time.Now()})
		var transitionErr *session.TransitionError
		require.ErrorAs(t, err, &transitionErr)

		stale, err := store.UpdateCriteria(ctx, s.ID, CriteriaUpdate{ExpectedVersion: 1, Criteria: testCriteria()})
		require.NoError(t, err)
		assert.Equal(t, types.StatusCriteriaStale, stale.Status)

		rerun, reprocess, err := store.BeginRun(ctx, s.ID, RunStart{LockedAt: time.Now(), ExpectedVersion: 2})
		require.NoError(t, err)
		assert.True(t, reprocess)
		assert.Zero(t, rerun.ProcessedCount)
		assert.Zero(t, rerun.QualifiedCount)
		assert.Equal(t, int64(130), rerun.InputTokens, "tokens survive reprocessing")

		cleared, err := store.GetCandidate(ctx, c.ID)
		require.NoError(t, err)
		assert.Nil(t, cleared.FinalScore)
		assert.Nil(t, cleared.PassedDealbreakers)
		assert.Nil(t, cleared.ProcessedAt)
		assert.True(t, cleared.HasText(), "extracted text is kept")

		history, err := store.ListEvaluationHistory(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, 1, history[0].CriteriaVersion)
		assert.Equal(t, 82, history[0].Evaluation.FinalScore)
	})

	t.Run("progress requires a running session", func(t *testing.T) {
		store := newStore(t)
		s := newTestSession(t, store)
		_, err := store.AddCandidates(ctx, s.ID, []*types.Candidate{textCandidate("a.pdf", "Alice")})
		require.NoError(t, err)
		list, err := store.ListCandidates(ctx, s.ID)
		require.NoError(t, err)

		c := list[0]
		evaluate(&c, false, 10, 1)
		assert.ErrorIs(t, store.RecordProgress(ctx, &c, Progress{Processed: 1}), ErrConflict)
	})
}

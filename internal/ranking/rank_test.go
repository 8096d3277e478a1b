package ranking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-screener/internal/types"
)

func evaluated(seq int, name string, passed bool, score int) types.Candidate {
	c := types.Candidate{ID: uuid.New(), Seq: seq, Filename: name, Text: types.StringPtr("resume")}
	c.ApplyEvaluation(&types.Evaluation{PassedDealbreakers: passed, FinalScore: score}, 1, time.Now())
	return c
}

func pending(seq int, name string) types.Candidate {
	return types.Candidate{ID: uuid.New(), Seq: seq, Filename: name, Text: types.StringPtr("resume")}
}

func skippedCandidate(seq int, name string) types.Candidate {
	return types.Candidate{ID: uuid.New(), Seq: seq, Filename: name, ExtractionWarning: types.StringPtr("ocr-unavailable")}
}

func filenames(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Filename
	}
	return out
}

func TestClassify(t *testing.T) {
	q := evaluated(1, "q.pdf", true, 80)
	r := evaluated(2, "r.pdf", false, 90)
	p := pending(3, "p.pdf")
	s := skippedCandidate(4, "s.pdf")

	assert.Equal(t, StatusQualified, Classify(&q))
	assert.Equal(t, StatusRejected, Classify(&r))
	assert.Equal(t, StatusPending, Classify(&p))
	assert.Equal(t, StatusSkipped, Classify(&s))
}

func TestBuild_OrdersPassedByScore(t *testing.T) {
	session := &types.Session{KeepCount: 2, Status: types.StatusCompleted}
	candidates := []types.Candidate{
		evaluated(1, "a.pdf", true, 80),
		evaluated(2, "b.pdf", true, 60),
		evaluated(3, "c.pdf", true, 95),
	}

	results := Build(session, candidates)

	assert.Equal(t, []string{"c.pdf", "a.pdf", "b.pdf"}, filenames(results.Candidates))
	for i, e := range results.Candidates {
		require.NotNil(t, e.Rank)
		assert.Equal(t, i+1, *e.Rank)
	}
	assert.True(t, results.Candidates[0].Shortlisted)
	assert.True(t, results.Candidates[1].Shortlisted)
	assert.False(t, results.Candidates[2].Shortlisted)
}

func TestBuild_ScoreOrder(t *testing.T) {
	type scored struct {
		passed bool
		score  int
	}
	tests := []struct {
		name   string
		input  []scored
		scores []int
	}{
		{
			name:   "failed dealbreaker ranks below every pass",
			input:  []scored{{true, 80}, {false, 95}, {true, 60}},
			scores: []int{80, 60, 95},
		},
		{
			name:   "all passed by score",
			input:  []scored{{true, 10}, {true, 70}, {true, 40}},
			scores: []int{70, 40, 10},
		},
		{
			name:   "all failed by score",
			input:  []scored{{false, 30}, {false, 55}},
			scores: []int{55, 30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var candidates []types.Candidate
			for i, in := range tt.input {
				candidates = append(candidates, evaluated(i+1, "resume.pdf", in.passed, in.score))
			}

			results := Build(&types.Session{KeepCount: 1}, candidates)

			got := make([]int, 0, len(results.Candidates))
			for i, e := range results.Candidates {
				require.NotNil(t, e.FinalScore)
				require.NotNil(t, e.Rank)
				assert.Equal(t, i+1, *e.Rank)
				got = append(got, *e.FinalScore)
			}
			assert.Equal(t, tt.scores, got)
		})
	}
}

func TestBuild_EmptyTextWithFailureWarningIsSkipped(t *testing.T) {
	blank := types.Candidate{ID: uuid.New(), Seq: 2, Filename: "blank.txt", ExtractionWarning: types.StringPtr("extraction-failed")}
	candidates := []types.Candidate{evaluated(1, "a.pdf", true, 70), blank}

	assert.Equal(t, StatusSkipped, Classify(&blank))

	results := Build(&types.Session{KeepCount: 2}, candidates)
	assert.Equal(t, []string{"a.pdf"}, filenames(results.Candidates))
	require.Len(t, results.Skipped, 1)
	assert.Equal(t, "blank.txt", results.Skipped[0].Filename)
	assert.Nil(t, results.Skipped[0].Rank)
}

func TestBuild_PassedBeforeFailedBeforeUnset(t *testing.T) {
	session := &types.Session{KeepCount: 10}
	candidates := []types.Candidate{
		pending(1, "pending.pdf"),
		evaluated(2, "failed-high.pdf", false, 99),
		evaluated(3, "passed-low.pdf", true, 10),
		skippedCandidate(4, "scan.pdf"),
		evaluated(5, "failed-low.pdf", false, 20),
	}

	results := Build(session, candidates)

	assert.Equal(t, []string{"passed-low.pdf", "failed-high.pdf", "failed-low.pdf", "pending.pdf"}, filenames(results.Candidates))
	assert.Equal(t, []Status{StatusQualified, StatusRejected, StatusRejected, StatusPending},
		[]Status{results.Candidates[0].Status, results.Candidates[1].Status, results.Candidates[2].Status, results.Candidates[3].Status})

	require.Len(t, results.Skipped, 1)
	assert.Equal(t, "scan.pdf", results.Skipped[0].Filename)
	assert.Nil(t, results.Skipped[0].Rank)
	assert.Equal(t, 1, results.Summary.Skipped)
	assert.Equal(t, 4, *results.Candidates[3].Rank, "ranks skip over skipped candidates")

	assert.True(t, results.Candidates[0].Shortlisted)
	assert.False(t, results.Candidates[1].Shortlisted, "rejected candidates are never shortlisted")
}

func TestBuild_TiesKeepUploadOrder(t *testing.T) {
	results := Build(&types.Session{}, []types.Candidate{
		evaluated(2, "second.pdf", true, 70),
		evaluated(1, "first.pdf", true, 70),
	})
	assert.Equal(t, []string{"first.pdf", "second.pdf"}, filenames(results.Candidates))
}

func TestBuild_Summary(t *testing.T) {
	id := uuid.New()
	session := &types.Session{
		ID:              id,
		Status:          types.StatusCompleted,
		TotalCandidates: 3,
		ProcessedCount:  2,
		QualifiedCount:  1,
		KeepCount:       5,
		CriteriaVersion: 2,
		InputTokens:     1200,
		OutputTokens:    300,
	}

	results := Build(session, []types.Candidate{
		evaluated(1, "a.pdf", true, 70),
		evaluated(2, "b.pdf", false, 40),
		skippedCandidate(3, "c.pdf"),
	})

	assert.Equal(t, Summary{
		SessionID:       id,
		Status:          types.StatusCompleted,
		TotalCandidates: 3,
		Processed:       2,
		Qualified:       1,
		Skipped:         1,
		KeepCount:       5,
		CriteriaVersion: 2,
		InputTokens:     1200,
		OutputTokens:    300,
	}, results.Summary)
}

func TestBuild_Empty(t *testing.T) {
	results := Build(&types.Session{}, nil)
	assert.NotNil(t, results.Candidates)
	assert.NotNil(t, results.Skipped)
	assert.Empty(t, results.Candidates)
}

func TestSort_UnsetScoreLast(t *testing.T) {
	score := 10
	passed := true
	entries := []Entry{
		{Filename: "no-score", PassedDealbreakers: &passed, seq: 1},
		{Filename: "scored", PassedDealbreakers: &passed, FinalScore: &score, seq: 2},
	}
	Sort(entries)
	assert.Equal(t, []string{"scored", "no-score"}, filenames(entries))
}

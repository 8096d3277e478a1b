package screening

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-screener/internal/criteria"
	"github.com/jonathan/resume-screener/internal/db"
	"github.com/jonathan/resume-screener/internal/ingestion"
	"github.com/jonathan/resume-screener/internal/llm"
	"github.com/jonathan/resume-screener/internal/llm/llmtest"
	"github.com/jonathan/resume-screener/internal/ranking"
	"github.com/jonathan/resume-screener/internal/session"
	"github.com/jonathan/resume-screener/internal/types"
)

const generatedCriteria = `{
	"human_readable": "MUST HAVE\n• 5+ years of Go\n\nHIGHLY VALUED (60%)\n• Distributed systems\n\nNICE TO HAVE (40%)\n• Kubernetes",
	"structured": {
		"version": 2,
		"categories": [
			{"id": "dealbreakers", "display_name": "Must Have", "weight": null, "is_dealbreaker": true,
			 "items": [{"text": "5+ years of Go", "key": "go_experience"}]},
			{"id": "highly_valued", "display_name": "Highly Valued", "weight": 0.6, "is_dealbreaker": false,
			 "items": [{"text": "Distributed systems", "key": "distributed_systems"}]},
			{"id": "nice_to_have", "display_name": "Nice to Have", "weight": 0.4, "is_dealbreaker": false,
			 "items": [{"text": "Kubernetes", "key": "kubernetes"}]}
		]
	},
	"changes_made": "Made Kubernetes nice to have"
}`

var (
	pdfHeader     = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	criteriaUsage = llm.Usage{InputTokens: 900, OutputTokens: 350}
	scoreUsage    = llm.Usage{InputTokens: 100, OutputTokens: 10}
)

// screeningClient answers criteria calls with generatedCriteria and scoring
// calls from scores, keyed by a marker in the resume text
func screeningClient(scores map[string]string) *llmtest.Client {
	client := llmtest.New()
	client.Models = []string{"claude-sonnet-4-5", "claude-haiku-4-5"}
	client.Handler = func(call llmtest.Call) (*llm.Response, error) {
		if call.Tier == llm.TierAdvanced {
			return &llm.Response{Text: generatedCriteria, Usage: criteriaUsage}, nil
		}
		for marker, reply := range scores {
			if strings.Contains(call.User, marker) {
				return &llm.Response{Text: reply, Usage: scoreUsage}, nil
			}
		}
		return nil, &llm.TransportError{Provider: llm.ProviderAnthropic, StatusCode: 500}
	}
	return client
}

func newTestService(t *testing.T, client *llmtest.Client, opts ...Option) (*Service, *db.MemoryStore) {
	t.Helper()
	providers, err := llm.NewConfigStore(llm.Config{Provider: llm.ProviderAnthropic, APIKey: "sk-ant-test-123456"})
	require.NoError(t, err)

	store := db.NewMemoryStore()
	extractor := ingestion.NewExtractor(ingestion.WithConverter(ingestion.FormatPDF, func(r io.Reader) (string, error) {
		return "", nil
	}))
	base := []Option{WithFactory(client.Factory()), WithExtractor(extractor)}
	svc := New(store, providers, append(base, opts...)...)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc, store
}

func startSession(t *testing.T, svc *Service) *types.Session {
	t.Helper()
	sess, err := svc.StartSession(context.Background(), types.StartSessionRequest{
		JobDescription: "Senior Go engineer building distributed systems",
		KeepCount:      2,
		HRNotes:        "remote ok",
	})
	require.NoError(t, err)
	return sess
}

func waitDone(t *testing.T, res *TriggerResult) {
	t.Helper()
	require.NotNil(t, res.Done)
	select {
	case <-res.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	client := screeningClient(map[string]string{
		"Alice": `{"passed_dealbreakers": true, "final_score": 80, "one_liner": "Strong backend"}`,
		"Bob":   `{"passed_dealbreakers": true, "final_score": 60, "one_liner": "Adequate"}`,
		"Carol": `{"passed_dealbreakers": true, "final_score": 95, "one_liner": "Excellent"}`,
	})
	svc, _ := newTestService(t, client)

	sess := startSession(t, svc)
	assert.Equal(t, types.StatusDraft, sess.Status)
	assert.Equal(t, 1, sess.CriteriaVersion)
	assert.Equal(t, int64(900), sess.InputTokens)
	require.True(t, sess.HasCriteria())
	weight, ok := sess.Criteria.Structured.Weight("highly_valued")
	require.True(t, ok)
	assert.InDelta(t, 0.6, weight, 1e-9)

	upload, err := svc.UploadCandidates(ctx, sess.ID, []UploadFile{
		{Filename: "alice.txt", Data: []byte("Alice Smith\nGo, Raft, Kubernetes")},
		{Filename: "bob.txt", Data: []byte("Bob Jones\nGo services")},
		{Filename: "scan.pdf", Data: pdfHeader},
		{Filename: "carol.txt", Data: []byte("Carol White\nGo, distributed databases")},
		{Filename: "empty.txt", Data: nil},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, upload.UploadedCount)
	assert.Equal(t, 4, upload.TotalCandidates)
	require.Len(t, upload.FailedFiles, 1)
	assert.Equal(t, "empty.txt", upload.FailedFiles[0].Filename)
	require.Len(t, upload.Warnings, 1)
	assert.Equal(t, FileWarning{Filename: "scan.pdf", Warning: ingestion.WarningOCRUnavailable}, upload.Warnings[0])

	trigger, err := svc.TriggerProcess(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, TriggerAccepted, trigger.Status)
	assert.False(t, trigger.IsReprocess)
	waitDone(t, trigger)

	results, err := svc.GetResults(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, results.Summary.Status)
	assert.Equal(t, 4, results.Summary.TotalCandidates)
	assert.Equal(t, 3, results.Summary.Processed)
	assert.Equal(t, 3, results.Summary.Qualified)
	assert.Equal(t, 1, results.Summary.Skipped)
	assert.Equal(t, int64(900+3*100), results.Summary.InputTokens)

	require.Len(t, results.Candidates, 3)
	var order []string
	for i, e := range results.Candidates {
		order = append(order, e.Filename)
		require.NotNil(t, e.Rank)
		assert.Equal(t, i+1, *e.Rank)
	}
	assert.Equal(t, []string{"carol.txt", "alice.txt", "bob.txt"}, order)
	assert.True(t, results.Candidates[0].Shortlisted)
	assert.True(t, results.Candidates[1].Shortlisted)
	assert.False(t, results.Candidates[2].Shortlisted)

	require.Len(t, results.Skipped, 1)
	assert.Equal(t, "scan.pdf", results.Skipped[0].Filename)
	assert.Nil(t, results.Skipped[0].Rank)
	assert.Equal(t, ranking.StatusSkipped, results.Skipped[0].Status)

	// completed sessions need a refinement before another run
	_, err = svc.TriggerProcess(ctx, sess.ID)
	var transitionErr *session.TransitionError
	require.ErrorAs(t, err, &transitionErr)

	refined, err := svc.RefineCriteria(ctx, sess.ID, types.RefineRequest{Feedback: "Kubernetes is only nice to have"})
	require.NoError(t, err)
	assert.True(t, refined.NeedsReprocess)
	assert.Equal(t, 2, refined.CriteriaVersion)
	assert.Equal(t, types.StatusCriteriaStale, refined.Status)
	assert.Equal(t, "Made Kubernetes nice to have", refined.ChangesMade)

	conversation, err := svc.ListConversation(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, conversation, 1)
	assert.Equal(t, "Kubernetes is only nice to have", conversation[0].Message)

	before, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	rerun, err := svc.TriggerProcess(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, rerun.IsReprocess)
	assert.Equal(t, 2, rerun.CriteriaVersion)
	waitDone(t, rerun)

	after, err := svc.GetResults(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.Summary.Processed)
	assert.Equal(t, 2, after.Summary.CriteriaVersion)
	assert.Equal(t, before.InputTokens+3*100, after.Summary.InputTokens)

	carol := after.Candidates[0]
	detail, err := svc.GetCandidateDetail(ctx, sess.ID, carol.CandidateID)
	require.NoError(t, err)
	assert.Equal(t, ranking.StatusQualified, detail.Status)
	assert.False(t, detail.Stale)
	assert.Equal(t, 2, *detail.CriteriaVersion)

	history, err := svc.CandidateHistory(ctx, sess.ID, carol.CandidateID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].CriteriaVersion)
}

func TestService_StartSessionFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		svc, _ := newTestService(t, screeningClient(nil))
		_, err := svc.StartSession(ctx, types.StartSessionRequest{JobDescription: "  ", KeepCount: 1})
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Contains(t, validationErr.Message, "JobDescription")
	})

	t.Run("generation failure stores nothing", func(t *testing.T) {
		client := llmtest.New().Reply(`{"structured": {}}`, llm.Usage{InputTokens: 5})
		svc, _ := newTestService(t, client)

		_, err := svc.StartSession(ctx, types.StartSessionRequest{JobDescription: "Go", KeepCount: 1})
		var genErr *criteria.GenerationError
		require.ErrorAs(t, err, &genErr)
	})

	t.Run("provider not configured", func(t *testing.T) {
		providers, err := llm.NewConfigStore(llm.Config{Provider: llm.ProviderAnthropic})
		require.NoError(t, err)
		svc := New(db.NewMemoryStore(), providers)

		_, err = svc.StartSession(ctx, types.StartSessionRequest{JobDescription: "Go", KeepCount: 1})
		assert.ErrorIs(t, err, llm.ErrNotConfigured)
	})
}

func TestService_UploadRejectedWhileProcessing(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	client := screeningClient(nil)
	scoring := client.Handler
	client.Handler = func(call llmtest.Call) (*llm.Response, error) {
		if call.Tier == llm.TierStandard {
			<-release
			return &llm.Response{Text: `{"passed_dealbreakers": false, "final_score": 10}`, Usage: scoreUsage}, nil
		}
		return scoring(call)
	}
	svc, _ := newTestService(t, client)
	sess := startSession(t, svc)

	_, err := svc.UploadCandidates(ctx, sess.ID, []UploadFile{{Filename: "a.txt", Data: []byte("Alice")}})
	require.NoError(t, err)

	first, err := svc.TriggerProcess(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, TriggerAccepted, first.Status)

	second, err := svc.TriggerProcess(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, TriggerAlreadyRunning, second.Status)
	assert.Nil(t, second.Done)

	_, err = svc.UploadCandidates(ctx, sess.ID, []UploadFile{{Filename: "late.txt", Data: []byte("Late")}})
	var stateErr *session.StateError
	require.ErrorAs(t, err, &stateErr)

	close(release)
	waitDone(t, first)

	results, err := svc.GetResults(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, results.Summary.TotalCandidates)
	assert.Equal(t, ranking.StatusRejected, results.Candidates[0].Status)
}

func TestService_ConcurrentTriggersStartOneRun(t *testing.T) {
	ctx := context.Background()
	client := screeningClient(map[string]string{"Alice": `{"passed_dealbreakers": true, "final_score": 70}`})
	svc, _ := newTestService(t, client)
	sess := startSession(t, svc)
	_, err := svc.UploadCandidates(ctx, sess.ID, []UploadFile{{Filename: "a.txt", Data: []byte("Alice")}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*TriggerResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.TriggerProcess(ctx, sess.ID)
			if err == nil {
				results[i] = res
			}
		}()
	}
	wg.Wait()

	accepted := 0
	for _, res := range results {
		if res != nil && res.Status == TriggerAccepted {
			accepted++
			waitDone(t, res)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestService_CandidateFromOtherSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, screeningClient(nil))
	first := startSession(t, svc)
	second := startSession(t, svc)

	upload, err := svc.UploadCandidates(ctx, first.ID, []UploadFile{{Filename: "a.txt", Data: []byte("Alice")}})
	require.NoError(t, err)
	candidateID := upload.Candidates[0].ID

	_, err = svc.GetCandidateDetail(ctx, second.ID, candidateID)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "candidate", notFound.Resource)

	_, err = svc.GetCandidateDetail(ctx, first.ID, candidateID)
	require.NoError(t, err)

	_, err = svc.GetResults(ctx, uuid.New())
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "session", notFound.Resource)
}

func TestService_RefineWithoutTransition(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, screeningClient(nil))
	sess := startSession(t, svc)

	res, err := svc.RefineCriteria(ctx, sess.ID, types.RefineRequest{PasteCriteria: "Go required. Kubernetes nice to have."})
	require.NoError(t, err)
	assert.False(t, res.NeedsReprocess)
	assert.Equal(t, types.StatusDraft, res.Status)
	assert.Equal(t, 2, res.CriteriaVersion)

	updated, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1800), updated.InputTokens)

	entries, err := svc.ListConversation(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Paste criteria", entries[0].Message)

	_, err = svc.RefineCriteria(ctx, sess.ID, types.RefineRequest{})
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestService_FailedRefineLeavesSessionUnchanged(t *testing.T) {
	ctx := context.Background()
	client := screeningClient(map[string]string{
		"Alice": `{"passed_dealbreakers": true, "final_score": 80, "one_liner": "Strong backend"}`,
	})
	scripted := client.Handler
	var malformed atomic.Bool
	client.Handler = func(call llmtest.Call) (*llm.Response, error) {
		if malformed.Load() && call.Tier == llm.TierAdvanced {
			return &llm.Response{Text: "Sorry, I cannot produce criteria for that.", Usage: llm.Usage{InputTokens: 40, OutputTokens: 8}}, nil
		}
		return scripted(call)
	}
	svc, _ := newTestService(t, client)
	sess := startSession(t, svc)

	_, err := svc.UploadCandidates(ctx, sess.ID, []UploadFile{{Filename: "alice.txt", Data: []byte("Alice Smith\nGo, Raft")}})
	require.NoError(t, err)
	trigger, err := svc.TriggerProcess(ctx, sess.ID)
	require.NoError(t, err)
	waitDone(t, trigger)

	before, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, before.Status)

	malformed.Store(true)
	for _, req := range []types.RefineRequest{
		{Feedback: "Require Rust instead of Go"},
		{PasteCriteria: "Rust required."},
	} {
		_, err = svc.RefineCriteria(ctx, sess.ID, req)
		var genErr *criteria.GenerationError
		require.ErrorAs(t, err, &genErr)
	}

	after, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Criteria, after.Criteria)
	assert.Equal(t, before.CriteriaVersion, after.CriteriaVersion)
	assert.Equal(t, before.InputTokens, after.InputTokens)
	assert.Equal(t, before.OutputTokens, after.OutputTokens)
	assert.Equal(t, types.StatusCompleted, after.Status)

	conversation, err := svc.ListConversation(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, conversation)

	results, err := svc.GetResults(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, results.Summary.Processed)
	assert.Equal(t, 1, results.Summary.CriteriaVersion)
}

func TestService_BlankDocumentIsSkipped(t *testing.T) {
	ctx := context.Background()
	client := screeningClient(map[string]string{
		"Alice": `{"passed_dealbreakers": true, "final_score": 72, "one_liner": "Solid"}`,
	})
	svc, _ := newTestService(t, client)
	sess := startSession(t, svc)

	upload, err := svc.UploadCandidates(ctx, sess.ID, []UploadFile{
		{Filename: "alice.txt", Data: []byte("Alice Smith\nGo")},
		{Filename: "blank.txt", Data: []byte("   \n\n  ")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, upload.UploadedCount)
	require.Len(t, upload.Warnings, 1)
	assert.Equal(t, FileWarning{Filename: "blank.txt", Warning: ingestion.WarningExtractionFailed}, upload.Warnings[0])
	require.NotNil(t, upload.Candidates[0].File)
	assert.Equal(t, "alice.txt", upload.Candidates[0].File.Filename)
	assert.Len(t, upload.Candidates[0].File.Hash, 64)

	trigger, err := svc.TriggerProcess(ctx, sess.ID)
	require.NoError(t, err)
	waitDone(t, trigger)

	results, err := svc.GetResults(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, results.Summary.Processed)
	assert.Equal(t, 1, results.Summary.Skipped)
	require.Len(t, results.Candidates, 1)
	assert.Equal(t, "alice.txt", results.Candidates[0].Filename)
	require.Len(t, results.Skipped, 1)
	assert.Equal(t, "blank.txt", results.Skipped[0].Filename)
	assert.Nil(t, results.Skipped[0].Rank)
}

func TestService_ProviderConfig(t *testing.T) {
	client := screeningClient(nil)
	svc, _ := newTestService(t, client)

	cfg := svc.ProviderConfig()
	assert.Equal(t, llm.ProviderAnthropic, cfg.Provider)
	assert.Equal(t, "sk-...3456", cfg.APIKey)

	updated, err := svc.UpdateProviderConfig(llm.Config{Provider: llm.ProviderOpenAI, BaseURL: "http://localhost:11434/v1", Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAI, updated.Provider)
	assert.Equal(t, "llama3", updated.Model)

	_, err = svc.UpdateProviderConfig(llm.Config{Provider: "bogus"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, llm.ProviderOpenAI, svc.ProviderConfig().Provider, "failed update keeps the active config")

	models, err := svc.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, client.Models, models)
}

func TestService_ShutdownRejectsNewRuns(t *testing.T) {
	svc, _ := newTestService(t, screeningClient(nil))
	sess := startSession(t, svc)

	require.NoError(t, svc.Shutdown(context.Background()))
	_, err := svc.TriggerProcess(context.Background(), sess.ID)
	assert.True(t, errors.Is(err, ErrShuttingDown))
}

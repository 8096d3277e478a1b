// Package ranking orders screened candidates and summarizes a session.
package ranking

import (
	"sort"

	"github.com/google/uuid"

	"github.com/jonathan/resume-screener/internal/types"
)

// Status is the display status of one candidate
type Status string

// Candidate statuses
const (
	StatusSkipped   Status = "skipped"
	StatusQualified Status = "qualified"
	StatusRejected  Status = "rejected"
	StatusPending   Status = "pending"
)

// Entry is one candidate row of the ranking
type Entry struct {
	Rank               *int      `json:"rank"`
	CandidateID        uuid.UUID `json:"candidate_id"`
	Filename           string    `json:"filename"`
	Status             Status    `json:"status"`
	PassedDealbreakers *bool     `json:"passed_dealbreakers"`
	FinalScore         *int      `json:"final_score"`
	OneLiner           *string   `json:"one_liner"`
	RejectionReason    *string   `json:"rejection_reason"`
	ExtractionWarning  *string   `json:"extraction_warning,omitempty"`
	CriteriaVersion    *int      `json:"criteria_version,omitempty"`
	Shortlisted        bool      `json:"shortlisted"`
	seq                int
}

// Summary aggregates the session counters
type Summary struct {
	SessionID       uuid.UUID    `json:"session_id"`
	Status          types.Status `json:"status"`
	TotalCandidates int          `json:"total_candidates"`
	Processed       int          `json:"processed"`
	Qualified       int          `json:"qualified"`
	Skipped         int          `json:"skipped"`
	KeepCount       int          `json:"keep_count"`
	CriteriaVersion int          `json:"criteria_version"`
	InputTokens     int64        `json:"input_tokens"`
	OutputTokens    int64        `json:"output_tokens"`
}

// Results is the ranked view of a session
type Results struct {
	Summary    Summary `json:"summary"`
	Candidates []Entry `json:"candidates"`
	Skipped    []Entry `json:"skipped"`
}

// Classify returns the display status of a candidate. Skipped wins over any
// evaluation state.
func Classify(c *types.Candidate) Status {
	switch {
	case c.IsSkipped():
		return StatusSkipped
	case !c.IsEvaluated() || c.PassedDealbreakers == nil:
		return StatusPending
	case *c.PassedDealbreakers:
		return StatusQualified
	default:
		return StatusRejected
	}
}

// Build ranks the candidates of a session. Skipped candidates carry no rank and
// are listed separately; everyone else is ranked 1..N.
func Build(s *types.Session, candidates []types.Candidate) *Results {
	ranked := make([]Entry, 0, len(candidates))
	skipped := make([]Entry, 0)

	for i := range candidates {
		entry := newEntry(&candidates[i])
		if entry.Status == StatusSkipped {
			skipped = append(skipped, entry)
			continue
		}
		ranked = append(ranked, entry)
	}

	Sort(ranked)
	sort.SliceStable(skipped, func(i, j int) bool { return skipped[i].seq < skipped[j].seq })

	shortlisted := 0
	for i := range ranked {
		rank := i + 1
		ranked[i].Rank = &rank
		if ranked[i].Status == StatusQualified && shortlisted < s.KeepCount {
			ranked[i].Shortlisted = true
			shortlisted++
		}
	}

	return &Results{
		Summary: Summary{
			SessionID:       s.ID,
			Status:          s.Status,
			TotalCandidates: s.TotalCandidates,
			Processed:       s.ProcessedCount,
			Qualified:       s.QualifiedCount,
			Skipped:         len(skipped),
			KeepCount:       s.KeepCount,
			CriteriaVersion: s.CriteriaVersion,
			InputTokens:     s.InputTokens,
			OutputTokens:    s.OutputTokens,
		},
		Candidates: ranked,
		Skipped:    skipped,
	}
}

// Sort orders entries by passed_dealbreakers (true, false, unset), then
// final_score descending with unset scores last, then upload order.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if pa, pb := passedRank(a.PassedDealbreakers), passedRank(b.PassedDealbreakers); pa != pb {
			return pa < pb
		}
		if a.FinalScore == nil || b.FinalScore == nil {
			if (a.FinalScore == nil) != (b.FinalScore == nil) {
				return b.FinalScore == nil
			}
		} else if *a.FinalScore != *b.FinalScore {
			return *a.FinalScore > *b.FinalScore
		}
		return a.seq < b.seq
	})
}

func passedRank(p *bool) int {
	switch {
	case p == nil:
		return 2
	case *p:
		return 0
	default:
		return 1
	}
}

func newEntry(c *types.Candidate) Entry {
	return Entry{
		CandidateID:        c.ID,
		Filename:           c.Filename,
		Status:             Classify(c),
		PassedDealbreakers: c.PassedDealbreakers,
		FinalScore:         c.FinalScore,
		OneLiner:           c.OneLiner,
		RejectionReason:    c.RejectionReason,
		ExtractionWarning:  c.ExtractionWarning,
		CriteriaVersion:    c.CriteriaVersion,
		seq:                c.Seq,
	}
}

package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/resume-screener/internal/ranking"
	"github.com/jonathan/resume-screener/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the screen command
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, clip(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// clip shortens s to at most n runes
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintSession outputs the lifecycle state and counters of a session.
func (p *Printer) PrintSession(s *types.Session) {
	if s == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session:    %s\n", s.ID)
	fmt.Fprintf(&sb, "Status:     %s\n", s.Status)
	fmt.Fprintf(&sb, "Criteria:   v%d\n", s.CriteriaVersion)
	fmt.Fprintf(&sb, "Candidates: %d (%d processed, %d qualified)\n", s.TotalCandidates, s.ProcessedCount, s.QualifiedCount)
	fmt.Fprintf(&sb, "Keep:       %d\n", s.KeepCount)
	fmt.Fprintf(&sb, "Tokens:     %d in / %d out", s.InputTokens, s.OutputTokens)

	p.printBox("SCREENING SESSION", sb.String())
}

// PrintCriteria outputs the structured criteria with weights.
func (p *Printer) PrintCriteria(c types.Criteria, version int) {
	if c.Structured == nil {
		return
	}

	var sb strings.Builder
	for i, cat := range c.Structured.Categories {
		switch {
		case cat.IsDealbreaker:
			fmt.Fprintf(&sb, "%s (dealbreaker)\n", cat.DisplayName)
		case cat.Weight != nil:
			fmt.Fprintf(&sb, "%s (%.0f%%)\n", cat.DisplayName, *cat.Weight*100)
		default:
			fmt.Fprintf(&sb, "%s\n", cat.DisplayName)
		}

		count := min(len(cat.Items), maxItemsToShow)
		for _, item := range cat.Items[:count] {
			fmt.Fprintf(&sb, "  • %s\n", item.Text)
		}
		if len(cat.Items) > maxItemsToShow {
			fmt.Fprintf(&sb, "  ... and %d more\n", len(cat.Items)-maxItemsToShow)
		}
		if i < len(c.Structured.Categories)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox(fmt.Sprintf("EVALUATION CRITERIA (v%d)", version), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintResults outputs the ranked candidates followed by the skipped ones.
func (p *Printer) PrintResults(r *ranking.Results) {
	if r == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Qualified %d of %d processed (%d skipped)\n",
		r.Summary.Qualified, r.Summary.Processed, r.Summary.Skipped)

	if len(r.Candidates) > 0 {
		sb.WriteString("\n")
	}
	for _, e := range r.Candidates {
		marker := " "
		if e.Shortlisted {
			marker = "★"
		}
		rank := "-"
		if e.Rank != nil {
			rank = fmt.Sprintf("#%d", *e.Rank)
		}
		score := "--"
		if e.FinalScore != nil {
			score = fmt.Sprintf("%3d", *e.FinalScore)
		}
		fmt.Fprintf(&sb, "%s %-4s %s  %s\n", marker, rank, score, e.Filename)

		switch {
		case e.RejectionReason != nil:
			fmt.Fprintf(&sb, "         ✗ %s\n", *e.RejectionReason)
		case e.OneLiner != nil:
			fmt.Fprintf(&sb, "         %s\n", *e.OneLiner)
		}
	}

	if len(r.Skipped) > 0 {
		sb.WriteString("\nSkipped:\n")
		for _, e := range r.Skipped {
			reason := "no text"
			if e.ExtractionWarning != nil {
				reason = *e.ExtractionWarning
			}
			fmt.Fprintf(&sb, "  ⚠ %s (%s)\n", e.Filename, reason)
		}
	}

	p.printBox("SCREENING RESULTS", strings.TrimSuffix(sb.String(), "\n"))
}

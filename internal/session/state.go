// Package session holds the lifecycle rules of a screening session.
package session

import (
	"fmt"
	"time"

	"github.com/jonathan/resume-screener/internal/types"
)

// TransitionError is returned for a lifecycle move the session does not allow
type TransitionError struct {
	From   types.Status
	To     types.Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot move session from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot move session from %s to %s", e.From, e.To)
}

var transitions = map[types.Status][]types.Status{
	types.StatusDraft:         {types.StatusProcessing},
	types.StatusProcessing:    {types.StatusCompleted},
	types.StatusCompleted:     {types.StatusCriteriaStale},
	types.StatusCriteriaStale: {types.StatusProcessing},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to types.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BeginProcessing moves the session into processing and stamps
// criteria_locked_at. reprocess is true when the run must first clear the
// evaluations made against an older criteria version.
func BeginProcessing(s *types.Session, now time.Time) (reprocess bool, err error) {
	if !CanTransition(s.Status, types.StatusProcessing) {
		reason := ""
		if s.Status == types.StatusCompleted {
			reason = "criteria have not changed since the last run"
		}
		return false, &TransitionError{From: s.Status, To: types.StatusProcessing, Reason: reason}
	}
	if !s.HasCriteria() {
		return false, &TransitionError{From: s.Status, To: types.StatusProcessing, Reason: "session has no criteria"}
	}

	reprocess = s.Status == types.StatusCriteriaStale
	locked := now
	s.Status = types.StatusProcessing
	s.CriteriaLockedAt = &locked
	if reprocess {
		s.ProcessedCount = 0
		s.QualifiedCount = 0
	}
	return reprocess, nil
}

// Complete ends a run.
func Complete(s *types.Session) error {
	if !CanTransition(s.Status, types.StatusCompleted) {
		return &TransitionError{From: s.Status, To: types.StatusCompleted}
	}
	s.Status = types.StatusCompleted
	return nil
}

// ApplyRefinement bumps the criteria version after a successful refinement and
// marks a completed session stale. Drafts and running sessions keep their
// status. Returns whether the current results no longer match the criteria.
func ApplyRefinement(s *types.Session) (needsReprocess bool) {
	s.CriteriaVersion++
	if s.Status == types.StatusCompleted {
		s.Status = types.StatusCriteriaStale
	}
	return s.Status == types.StatusCriteriaStale
}

// StateError is returned when an operation is not allowed in the current status
type StateError struct {
	Op     string
	Status types.Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s while session is %s", e.Op, e.Status)
}

// AcceptsUploads reports whether candidates can be added in this state.
// Only sessions that will be scanned again accept uploads.
func AcceptsUploads(status types.Status) bool {
	return status == types.StatusDraft || status == types.StatusCriteriaStale
}

// CheckUploads returns a StateError when status does not accept uploads
func CheckUploads(status types.Status) error {
	if !AcceptsUploads(status) {
		return &StateError{Op: "upload candidates", Status: status}
	}
	return nil
}

// IsRunning reports whether a pipeline run owns the session
func IsRunning(status types.Status) bool {
	return status == types.StatusProcessing
}

package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/resume-screener/internal/criteria"
	"github.com/jonathan/resume-screener/internal/llm"
	"github.com/jonathan/resume-screener/internal/screening"
	"github.com/jonathan/resume-screener/internal/session"
)

// HTTPStatus returns the appropriate HTTP status code for an error.
// Provider availability is checked first so a criteria failure caused by an
// unreachable model reports 503 rather than 502.
func HTTPStatus(err error) int {
	var (
		unreachable *llm.UnreachableError
		notFound    *screening.NotFoundError
		validation  *screening.ValidationError
		conflict    *screening.ConflictError
		transition  *session.TransitionError
		state       *session.StateError
		generation  *criteria.GenerationError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, llm.ErrNotConfigured), errors.As(err, &unreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, screening.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict), errors.As(err, &transition), errors.As(err, &state):
		return http.StatusConflict
	case errors.As(err, &generation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal failures from clients
func errorMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

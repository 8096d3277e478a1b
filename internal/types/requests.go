package types

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// StartSessionRequest represents the request to open a screening session.
type StartSessionRequest struct {
	JobDescription string `json:"job_description" validate:"required,max=50000"`
	KeepCount      int    `json:"keep_count" validate:"required,min=1,max=1000"`
	HRNotes        string `json:"hr_notes,omitempty" validate:"max=5000"`
}

// Validate trims the request and validates it using the validator.
func (r *StartSessionRequest) Validate() error {
	r.JobDescription = strings.TrimSpace(r.JobDescription)
	r.HRNotes = strings.TrimSpace(r.HRNotes)
	return validate.Struct(r)
}

// RefineRequest carries conversational feedback or a replacement criteria text.
type RefineRequest struct {
	Feedback      string `json:"feedback,omitempty" validate:"required_without=PasteCriteria,max=10000"`
	PasteCriteria string `json:"paste_criteria,omitempty" validate:"required_without=Feedback,max=20000"`
}

// Validate trims the request and validates it using the validator.
func (r *RefineRequest) Validate() error {
	r.Feedback = strings.TrimSpace(r.Feedback)
	r.PasteCriteria = strings.TrimSpace(r.PasteCriteria)
	return validate.Struct(r)
}

// Message returns the text recorded in the conversation log.
func (r *RefineRequest) Message() string {
	if r.Feedback != "" {
		return r.Feedback
	}
	return "Paste criteria"
}

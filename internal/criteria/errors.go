package criteria

import (
	"fmt"

	"github.com/jonathan/resume-screener/internal/llm"
)

// Operations reported by GenerationError
const (
	OpGenerate = "generate"
	OpRefine   = "refine"
)

// GenerationError means no usable criteria document came back. Nothing is
// persisted when it is returned; Usage reports what the failed call consumed.
type GenerationError struct {
	Op      string
	Message string
	Usage   llm.Usage
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("criteria %s failed: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("criteria %s failed: %s", e.Op, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

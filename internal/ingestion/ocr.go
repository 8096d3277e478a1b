package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// CommandOCR runs an external recognizer that reads the file on stdin and
// writes plain text to stdout, for example `tesseract stdin stdout`.
type CommandOCR struct {
	path    string
	args    []string
	timeout time.Duration
}

var _ OCR = (*CommandOCR)(nil)

// NewCommandOCR resolves command[0] on PATH. A zero timeout disables the limit.
func NewCommandOCR(command []string, timeout time.Duration) (*CommandOCR, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("ocr command is empty")
	}
	path, err := exec.LookPath(command[0])
	if err != nil {
		return nil, fmt.Errorf("ocr command %q: %w", command[0], err)
	}
	return &CommandOCR{path: path, args: command[1:], timeout: timeout}, nil
}

// Recognize implements OCR
func (o *CommandOCR) Recognize(ctx context.Context, filename string, data []byte) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, o.path, o.args...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("ocr failed for %s: %w: %s", filename, err, msg)
		}
		return "", fmt.Errorf("ocr failed for %s: %w", filename, err)
	}
	if !utf8.Valid(stdout.Bytes()) {
		return "", fmt.Errorf("ocr output for %s is not valid UTF-8", filename)
	}
	return stdout.String(), nil
}

package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	multiSpace     = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	excessiveBlank = regexp.MustCompile(`\n\n\n+`)
)

// CleanText normalizes extracted text while preserving line structure
func CleanText(content string) string {
	if content == "" {
		return ""
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	content = strings.ReplaceAll(content, "\x00", "")

	lines := strings.Split(content, "\n")
	cleanedLines := make([]string, 0, len(lines))
	for _, line := range lines {
		cleanedLines = append(cleanedLines, cleanLine(line))
	}

	result := strings.Join(cleanedLines, "\n")
	result = excessiveBlank.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

// cleanLine collapses runs of spaces. Bullet lines keep their indentation.
func cleanLine(line string) string {
	line = strings.TrimRight(line, " \t")
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		return ""
	}

	if isBulletLine(trimmed) {
		indent := len(line) - len(trimmed)
		return strings.Repeat(" ", indent) + multiSpace.ReplaceAllString(trimmed, " ")
	}
	return multiSpace.ReplaceAllString(trimmed, " ")
}

// isBulletLine checks if a line is a bullet list item
func isBulletLine(line string) bool {
	return strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "• ") || strings.HasPrefix(line, "· ")
}

// Upload is a resume file read from disk or a request
type Upload struct {
	Filename string
	Data     []byte
}

// ReadFile reads one resume file from disk
func ReadFile(path string) (Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Upload{}, fmt.Errorf("file not found: %w", err)
		}
		return Upload{}, fmt.Errorf("failed to read file: %w", err)
	}
	return Upload{Filename: filepath.Base(path), Data: data}, nil
}

// ReadDir reads every regular file in dir, sorted by name. Hidden files are skipped.
func ReadDir(dir string) ([]Upload, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	uploads := make([]Upload, 0, len(names))
	for _, name := range names {
		upload, err := ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, upload)
	}
	return uploads, nil
}

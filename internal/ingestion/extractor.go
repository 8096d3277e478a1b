// Package ingestion converts uploaded resume files into plain text.
package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/jonathan/resume-screener/internal/observability"
)

// Extraction warnings stored on the candidate
const (
	WarningOCRUsed          = "ocr-used"
	WarningOCRUnavailable   = "ocr-unavailable"
	WarningExtractionFailed = "extraction-failed"
)

// Format is a supported resume file format
type Format string

// Supported formats
const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatDOC  Format = "doc"
	FormatODT  Format = "odt"
	FormatRTF  Format = "rtf"
	FormatHTML Format = "html"
	FormatText Format = "txt"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ErrEmptyFile is returned for zero-byte uploads
var ErrEmptyFile = errors.New("file is empty")

// UnsupportedFormatError is returned when a file is neither a document nor an image we can read
type UnsupportedFormatError struct {
	Filename string
	Detected string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file type for %s (detected %s)", e.Filename, e.Detected)
}

// OCR recognizes text in scanned documents and images
type OCR interface {
	Recognize(ctx context.Context, filename string, data []byte) (string, error)
}

// ConvertFunc turns document bytes into text
type ConvertFunc func(r io.Reader) (string, error)

// Extraction is the text recovered from one file.
// Whenever Text is empty, Warning is set.
type Extraction struct {
	Text     string
	Warning  string
	Format   Format
	Metadata *Metadata
}

// Extractor dispatches files to a converter by sniffed content type
type Extractor struct {
	converters map[Format]ConvertFunc
	ocr        OCR
	logger     *zap.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithOCR enables the OCR fallback for scanned PDFs and images
func WithOCR(ocr OCR) Option {
	return func(e *Extractor) { e.ocr = ocr }
}

// WithConverter replaces the converter for one format
func WithConverter(f Format, fn ConvertFunc) Option {
	return func(e *Extractor) { e.converters[f] = fn }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// NewExtractor creates an extractor backed by docconv and goquery
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		converters: map[Format]ConvertFunc{
			FormatPDF:  dropMeta(docconv.ConvertPDF),
			FormatDOCX: dropMeta(docconv.ConvertDocx),
			FormatDOC:  dropMeta(docconv.ConvertDoc),
			FormatODT:  dropMeta(docconv.ConvertODT),
			FormatRTF:  dropMeta(docconv.ConvertRTF),
			FormatHTML: ExtractHTMLText,
			FormatText: readPlainText,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = observability.OrNop(e.logger)
	return e
}

func dropMeta(fn func(io.Reader) (string, map[string]string, error)) ConvertFunc {
	return func(r io.Reader) (string, error) {
		text, _, err := fn(r)
		return text, err
	}
}

// Extract converts one uploaded file. An error means the file cannot be
// accepted at all; conversion problems are reported as a Warning instead.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (*Extraction, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	format, detected := DetectFormat(filename, data)
	if format == "" {
		return nil, &UnsupportedFormatError{Filename: filename, Detected: detected}
	}

	out := &Extraction{Format: format, Metadata: NewMetadata(filename, detected, data)}
	log := e.logger.With(zap.String("filename", filename), zap.String("format", string(format)))

	if format == FormatPNG || format == FormatJPEG {
		e.recognize(ctx, log, out, filename, data)
		return out, nil
	}

	convert, ok := e.converters[format]
	if !ok {
		return nil, &UnsupportedFormatError{Filename: filename, Detected: detected}
	}
	text, err := convert(bytes.NewReader(data))
	if err != nil {
		log.Warn("text extraction failed", zap.Error(err))
		out.Warning = WarningExtractionFailed
		return out, nil
	}

	out.Text = CleanText(text)
	if out.Text == "" {
		if format == FormatPDF {
			e.recognize(ctx, log, out, filename, data)
			return out, nil
		}
		log.Warn("no text in document")
		out.Warning = WarningExtractionFailed
	}
	return out, nil
}

// recognize runs OCR on a file that produced no text.
func (e *Extractor) recognize(ctx context.Context, log *zap.Logger, out *Extraction, filename string, data []byte) {
	if e.ocr == nil {
		out.Warning = WarningOCRUnavailable
		return
	}
	text, err := e.ocr.Recognize(ctx, filename, data)
	if err != nil {
		log.Warn("ocr failed", zap.Error(err))
		out.Warning = WarningExtractionFailed
		return
	}
	out.Text = CleanText(text)
	out.Warning = WarningOCRUsed
}

// DetectFormat sniffs the content type, falling back to the file extension for
// formats that sniff as generic containers. It returns "" when unsupported.
func DetectFormat(filename string, data []byte) (Format, string) {
	mtype := mimetype.Detect(data)
	detected := mtype.String()

	switch {
	case mtype.Is("application/pdf"):
		return FormatPDF, detected
	case mtype.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return FormatDOCX, detected
	case mtype.Is("application/msword"):
		return FormatDOC, detected
	case mtype.Is("application/vnd.oasis.opendocument.text"):
		return FormatODT, detected
	case mtype.Is("text/rtf"):
		return FormatRTF, detected
	case mtype.Is("text/html"):
		return FormatHTML, detected
	case mtype.Is("image/png"):
		return FormatPNG, detected
	case mtype.Is("image/jpeg"):
		return FormatJPEG, detected
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".docx" && mtype.Is("application/zip"):
		return FormatDOCX, detected
	case ext == ".odt" && mtype.Is("application/zip"):
		return FormatODT, detected
	case mtype.Is("text/plain") || ext == ".txt" || ext == ".md":
		if utf8.Valid(data) {
			return FormatText, detected
		}
	}
	return "", detected
}

func readPlainText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

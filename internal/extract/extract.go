// Package extract turns uploaded documents into normalized plain text.
package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxChars caps the extracted text kept per document.
const DefaultMaxChars = 5 * 1024 * 1024

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
	FormatDocx     Format = "docx"
	FormatDoc      Format = "doc"
	FormatUnknown  Format = "unknown"
)

func FormatFor(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return FormatText
	case ".md":
		return FormatMarkdown
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDocx
	case ".doc":
		return FormatDoc
	default:
		return FormatUnknown
	}
}

// Extractor extracts and normalizes document text, truncating at MaxChars runes.
type Extractor struct {
	MaxChars int
}

func New(maxChars int) *Extractor {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Extractor{MaxChars: maxChars}
}

// Extract returns the normalized text of data. Unsupported extensions yield
// domain.ErrUnsupportedFileType, parse failures domain.ErrExtractionFailed.
func (e *Extractor) Extract(filename string, data []byte) (string, error) {
	var (
		raw string
		err error
	)
	switch FormatFor(filename) {
	case FormatText, FormatMarkdown:
		raw = decodeText(data)
	case FormatPDF:
		raw, err = extractPDF(data)
	case FormatDocx:
		raw, err = extractDocx(data)
	case FormatDoc:
		raw = extractDoc(data)
	default:
		return "", domain.ErrUnsupportedFileType
	}
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError,
			domain.ErrExtractionFailed.Message, fmt.Errorf("%s: %w", FormatFor(filename), err))
	}

	return truncateRunes(Normalize(raw), e.MaxChars), nil
}

// DetectContentType sniffs data, falling back to the extension's type for plain
// text and unrecognized content.
func DetectContentType(filename string, data []byte) string {
	detected := mimetype.Detect(data)
	if detected.Is("text/plain") || detected.Is("application/octet-stream") {
		return domain.ContentTypeFor(filename)
	}
	mime := detected.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Normalize unifies line endings, trims every line, keeps at most one empty line
// between paragraphs and trims the result.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}

func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

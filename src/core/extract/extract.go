package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrCorruptFile       = errors.New("corrupt document file")
)

// Format identifies a supported upload format. The set is closed: anything
// else is rejected before a single byte is parsed.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatTXT  Format = "txt"
)

type extractFunc func(ctx context.Context, data []byte) (string, error)

// extractors dispatches a declared format to its extraction function.
var extractors = map[Format]extractFunc{
	FormatPDF:  extractPDF,
	FormatDOCX: extractDOCX,
	FormatTXT:  extractTXT,
}

// ParseFormat resolves a format from a file extension or format name.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	switch Format(s) {
	case FormatPDF, FormatDOCX, FormatTXT:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// FormatFromFilename resolves the declared format from a filename extension.
func FormatFromFilename(filename string) (Format, error) {
	return ParseFormat(filepath.Ext(filename))
}

// Extract converts a raw uploaded file into plain text. The declared format
// must be one of the closed set; a malformed container fails with
// ErrCorruptFile instead of returning partial text.
func Extract(ctx context.Context, data []byte, format Format) (string, error) {
	fn, ok := extractors[format]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	text, err := fn(ctx, data)
	if err != nil {
		return "", err
	}

	return normalizeText(text), nil
}

// normalizeText normalizes line endings, removes null bytes and collapses
// runs of blank lines so chunk boundaries land on real paragraph breaks.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	return text
}

package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
)

// extractPDF pulls the textual content out of a PDF, page by page. Embedded
// images are ignored; a PDF with no extractable text (e.g. a pure scan) is
// treated as corrupt rather than producing an empty index.
func extractPDF(ctx context.Context, data []byte) (string, error) {
	loader := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data)))

	docs, err := loader.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse pdf: %v", ErrCorruptFile, err)
	}

	var sb strings.Builder
	for _, doc := range docs {
		if doc.PageContent == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(doc.PageContent)
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("%w: no text found in pdf, the file might be image-based", ErrCorruptFile)
	}

	return sb.String(), nil
}

// Package extract turns raw document bytes into the ordered text segments
// used as the embedding granularity, one per page for PDFs.
package extract

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Segment is one unit of extracted document text. Page is 1-based and
// defines the segment order.
type Segment struct {
	Page int
	Text string
}

type Extractor interface {
	Extract(ctx context.Context, data io.ReaderAt, size int64, contentType string) ([]Segment, error)
	Supports(contentType string) bool
}

type extractor struct{}

func New() Extractor {
	return extractor{}
}

func (extractor) Supports(contentType string) bool {
	switch normalizeType(contentType) {
	case "pdf", "txt":
		return true
	}
	return false
}

func (e extractor) Extract(ctx context.Context, data io.ReaderAt, size int64, contentType string) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch normalizeType(contentType) {
	case "pdf":
		return extractPDF(data, size)
	case "txt":
		return extractTXT(data, size)
	default:
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}
}

func normalizeType(contentType string) string {
	switch strings.ToLower(contentType) {
	case ".pdf", "pdf", "application/pdf":
		return "pdf"
	case ".txt", "txt", "text/plain":
		return "txt"
	}
	return ""
}

func extractPDF(data io.ReaderAt, size int64) ([]Segment, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := reader.NumPage()
	segments := make([]Segment, 0, numPages)

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages that fail to decode still occupy a slot so ordering and
			// quota counting stay aligned with the document.
			text = ""
		}
		segments = append(segments, Segment{Page: i, Text: strings.TrimSpace(text)})
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("no pages extracted")
	}
	return segments, nil
}

func extractTXT(data io.ReaderAt, size int64) ([]Segment, error) {
	buf := make([]byte, size)
	if _, err := data.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read text: %w", err)
	}

	text := strings.TrimSpace(string(buf))
	if text == "" {
		return nil, fmt.Errorf("empty document")
	}
	return []Segment{{Page: 1, Text: text}}, nil
}

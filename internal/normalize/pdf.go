package normalize

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

func extractPDF(_ context.Context, _ *Normalizer, name string, data []byte, _ int) (doc *Document, err error) {
	// The reader panics on some malformed object graphs.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%s: %w: %v", name, ErrCorrupt, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrCorrupt, err)
	}

	var b strings.Builder
	var pageErrs []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		b.WriteString(pageMarker(i))
		b.WriteString("\n")
		rows, err := p.GetTextByRow()
		if err != nil {
			pageErrs = append(pageErrs, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		for _, row := range rows {
			if line := joinRow(row.Content); line != "" {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
	return &Document{Name: name, Text: b.String(), Paginated: true, Errors: pageErrs}, nil
}

// joinRow concatenates the text runs of one row. Runs placed by separate
// positioning operators are separated by a space.
func joinRow(texts pdf.TextHorizontal) string {
	var b strings.Builder
	lastX := 0.0
	for i, t := range texts {
		if t.S == "" {
			continue
		}
		if i > 0 && b.Len() > 0 && t.X != lastX &&
			!strings.HasSuffix(b.String(), " ") && !strings.HasPrefix(t.S, " ") {
			b.WriteByte(' ')
		}
		b.WriteString(t.S)
		lastX = t.X
	}
	return strings.TrimSpace(b.String())
}

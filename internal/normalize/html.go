package normalize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func extractHTML(_ context.Context, _ *Normalizer, name string, data []byte, _ int) (*Document, error) {
	text, err := htmlText(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrCorrupt, err)
	}
	return &Document{Name: name, Text: text}, nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "table": true, "section": true,
	"article": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "ul": true, "ol": true, "blockquote": true, "pre": true,
}

// htmlText extracts readable text. Block elements become separate paragraphs,
// list items get a "- " marker and table cells are joined by " | ".
func htmlText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, head, nav, footer").Remove()

	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch tag := goquery.NodeName(c); {
			case tag == "#text":
				b.WriteString(c.Text())
			case tag == "br":
				b.WriteString("\n")
			case tag == "td" || tag == "th":
				walk(c)
				b.WriteString(" | ")
			case tag == "li":
				b.WriteString("\n\n- ")
				walk(c)
				b.WriteString("\n\n")
			case blockElements[tag]:
				b.WriteString("\n\n")
				walk(c)
				b.WriteString("\n\n")
			default:
				walk(c)
			}
		})
	}
	walk(doc.Selection)
	return tidyBlocks(b.String()), nil
}

// tidyBlocks collapses spaces inside lines, trims cell separators and keeps
// at most one blank line between blocks.
func tidyBlocks(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		line = strings.TrimSuffix(line, " |")
		line = strings.TrimSuffix(line, "|")
		line = strings.TrimSpace(line)
		if line == "" || line == "-" {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

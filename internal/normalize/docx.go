package normalize

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

func extractDOCX(_ context.Context, _ *Normalizer, name string, data []byte, _ int) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrCorrupt, err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("%s: %w: missing %s", name, ErrCorrupt, docxBody)
	}
	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrCorrupt, err)
	}
	defer rc.Close()

	text, err := wordprocessingText(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrCorrupt, err)
	}
	return &Document{Name: name, Text: text}, nil
}

// wordprocessingText walks the WordprocessingML token stream. Each paragraph
// becomes a block; numbered or bulleted paragraphs get a "- " marker.
func wordprocessingText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    strings.Builder
		para   strings.Builder
		inText bool
		inPPr  bool
		listed bool
	)
	flush := func() {
		p := strings.TrimSpace(para.String())
		para.Reset()
		if p != "" {
			if listed {
				out.WriteString("- ")
			}
			out.WriteString(p)
			out.WriteString("\n\n")
		}
		listed = false
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
				listed = false
			case "pPr":
				inPPr = true
			case "numPr":
				if inPPr {
					listed = true
				}
			case "t":
				inText = true
			case "tab":
				if !inPPr {
					para.WriteByte('\t')
				}
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				flush()
			case "pPr":
				inPPr = false
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flush()
	return strings.TrimRight(out.String(), "\n"), nil
}

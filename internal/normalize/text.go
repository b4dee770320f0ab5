package normalize

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractText(_ context.Context, _ *Normalizer, name string, data []byte, _ int) (*Document, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrCorrupt, err)
	}
	return &Document{Name: name, Text: text}, nil
}

// decodeText reads data as UTF-8, or as Windows-1252 when it is not valid
// UTF-8.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	return charmap.Windows1252.NewDecoder().String(string(data))
}

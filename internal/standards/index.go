package standards

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/kravscan/internal/model"
	"github.com/fyrsmithlabs/kravscan/internal/textclean"
)

// IndexFile is the cache file name inside the cache directory.
const IndexFile = "standards_index.json"

const (
	indexVersion  = 1
	maxChunkRunes = 2000
)

// Chunk is one page-level slice of a standard.
type Chunk struct {
	Page      int       `json:"page"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Entry is the cached index of one standard. ModTime and Size identify the
// source revision it was built from.
type Entry struct {
	Source  string  `json:"source"`
	ModTime int64   `json:"mtime"`
	Size    int64   `json:"size"`
	Chunks  []Chunk `json:"chunks"`
}

// fresh reports whether e was built from the file described by info.
func (e *Entry) fresh(info os.FileInfo) bool {
	return e != nil && e.ModTime == info.ModTime().UnixNano() && e.Size == info.Size()
}

// embedded reports whether every chunk carries an embedding.
func (e *Entry) embedded() bool {
	if len(e.Chunks) == 0 {
		return false
	}
	for _, c := range e.Chunks {
		if len(c.Embedding) == 0 {
			return false
		}
	}
	return true
}

type indexFile struct {
	Version   int               `json:"version"`
	Standards map[string]*Entry `json:"standards"`
}

// loadIndex reads the cache. A missing, unreadable or outdated cache yields
// an empty index.
func loadIndex(dir string) map[string]*Entry {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return map[string]*Entry{}
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil || f.Version != indexVersion || f.Standards == nil {
		return map[string]*Entry{}
	}
	return f.Standards
}

func saveIndex(dir string, entries map[string]*Entry) error {
	data, err := json.Marshal(indexFile{Version: indexVersion, Standards: entries})
	if err != nil {
		return fmt.Errorf("encoding standards index: %w", err)
	}
	return model.WriteFileAtomic(filepath.Join(dir, IndexFile), data, 0o644)
}

// errNoText means the standard's source produced no text.
var errNoText = errors.New("standard source has no text")

// chunkPages splits normalized text on page markers. Text before the first
// marker, or text without markers, is page 1. Pages longer than
// maxChunkRunes are split on paragraph boundaries into several chunks of the
// same page.
func chunkPages(text string) []Chunk {
	var chunks []Chunk
	page := 1
	var cur []string
	flush := func() {
		body := strings.TrimSpace(strings.Join(cur, "\n"))
		cur = cur[:0]
		for _, part := range splitLong(body) {
			chunks = append(chunks, Chunk{Page: page, Text: part})
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if m := textclean.PageMarkerRE.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			if n, err := strconv.Atoi(m[1]); err == nil {
				page = n
			}
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return chunks
}

func splitLong(body string) []string {
	if body == "" {
		return nil
	}
	if utf8.RuneCountInString(body) <= maxChunkRunes {
		return []string{collapse(body)}
	}
	var out []string
	var b strings.Builder
	n := 0
	for _, para := range strings.Split(body, "\n\n") {
		para = collapse(para)
		if para == "" {
			continue
		}
		l := utf8.RuneCountInString(para)
		if n > 0 && n+l > maxChunkRunes {
			out = append(out, b.String())
			b.Reset()
			n = 0
		}
		if n > 0 {
			b.WriteByte(' ')
			n++
		}
		b.WriteString(para)
		n += l
	}
	if n > 0 {
		out = append(out, b.String())
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

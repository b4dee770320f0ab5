// Package review merges reviewer corrections into the training corpus and
// retrains the classifier and validator artifacts from it.
//
// The positive corpus is a semicolon separated "text;discipline" file. The
// negative store holds one rejected text per line. Both are keyed by the
// folded text (NFC, case folded, whitespace collapsed), so two spellings of
// the same clause that differ only in case or spacing are one entry.
package review

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/fyrsmithlabs/kravscan/internal/model"
	"github.com/fyrsmithlabs/kravscan/internal/textclean"
)

var corpusHeader = []string{"text", "discipline"}

// Entry is one labeled corpus row.
type Entry struct {
	Text       string
	Discipline string
}

// Corpus is the positive training set, in file order.
type Corpus struct {
	path    string
	entries []Entry
	index   map[string]int
}

// LoadCorpus reads the corpus at path. A missing file is an empty corpus.
func LoadCorpus(path string) (*Corpus, error) {
	c := &Corpus{path: path, index: map[string]int{}}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading corpus %s: %w", path, err)
		}
		if line == 1 && len(rec) == 2 && strings.EqualFold(rec[0], corpusHeader[0]) && strings.EqualFold(rec[1], corpusHeader[1]) {
			continue
		}
		if len(rec) < 2 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		c.Upsert(rec[0], rec[len(rec)-1])
	}
	return c, nil
}

// Path returns the file the corpus was loaded from.
func (c *Corpus) Path() string { return c.path }

// Len returns the number of entries.
func (c *Corpus) Len() int { return len(c.entries) }

// Entries returns a copy of the rows in file order.
func (c *Corpus) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Label returns the discipline stored for text.
func (c *Corpus) Label(text string) (string, bool) {
	i, ok := c.index[textclean.Fold(text)]
	if !ok {
		return "", false
	}
	return c.entries[i].Discipline, true
}

// Upsert stores text with discipline, overwriting the label of an existing
// entry with the same key. It reports whether the corpus changed.
func (c *Corpus) Upsert(text, discipline string) bool {
	text, discipline = strings.TrimSpace(text), strings.TrimSpace(discipline)
	key := textclean.Fold(text)
	if i, ok := c.index[key]; ok {
		if c.entries[i].Discipline == discipline {
			return false
		}
		c.entries[i].Discipline = discipline
		return true
	}
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, Entry{Text: text, Discipline: discipline})
	return true
}

// Remove deletes the entry for text and reports whether one existed.
func (c *Corpus) Remove(text string) bool {
	key := textclean.Fold(text)
	i, ok := c.index[key]
	if !ok {
		return false
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	delete(c.index, key)
	for k, j := range c.index {
		if j > i {
			c.index[k] = j - 1
		}
	}
	return true
}

// Encode renders the corpus with its header row.
func (c *Corpus) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	if err := w.Write(corpusHeader); err != nil {
		return nil, err
	}
	for _, e := range c.entries {
		if err := w.Write([]string{e.Text, e.Discipline}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encoding corpus: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the corpus back to its path atomically.
func (c *Corpus) Save() error {
	f, err := c.Stage()
	if err != nil {
		return err
	}
	return f.Commit()
}

// Stage writes the corpus to a temp file beside its path without replacing
// it.
func (c *Corpus) Stage() (*model.StagedFile, error) {
	data, err := c.Encode()
	if err != nil {
		return nil, err
	}
	return model.StageFile(c.path, data, 0o644)
}

// Samples returns the corpus as classifier training samples.
func (c *Corpus) Samples() []model.Sample {
	out := make([]model.Sample, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, model.Sample{Text: e.Text, Label: e.Discipline})
	}
	return out
}

// NegativeStore holds rejected texts, one per line.
type NegativeStore struct {
	path  string
	lines []string
	seen  map[string]bool
}

// LoadNegatives reads the negative store at path. A missing file is empty.
func LoadNegatives(path string) (*NegativeStore, error) {
	n := &NegativeStore{path: path, seen: map[string]bool{}}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return n, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening negatives: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		n.Add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading negatives %s: %w", path, err)
	}
	return n, nil
}

// Path returns the file the store was loaded from.
func (n *NegativeStore) Path() string { return n.path }

// Len returns the number of stored texts.
func (n *NegativeStore) Len() int { return len(n.lines) }

// Lines returns a copy of the stored texts.
func (n *NegativeStore) Lines() []string { return append([]string(nil), n.lines...) }

// Contains reports whether text, after folding, is stored.
func (n *NegativeStore) Contains(text string) bool {
	return n.seen[textclean.Fold(text)]
}

// Add appends text unless it is blank or already stored. Line breaks inside
// text become spaces so one entry stays one line.
func (n *NegativeStore) Add(text string) bool {
	text = strings.Join(strings.Fields(text), " ")
	key := textclean.Fold(text)
	if key == "" || n.seen[key] {
		return false
	}
	n.seen[key] = true
	n.lines = append(n.lines, text)
	return true
}

// Remove deletes text and reports whether it was stored.
func (n *NegativeStore) Remove(text string) bool {
	key := textclean.Fold(text)
	if !n.seen[key] {
		return false
	}
	delete(n.seen, key)
	kept := n.lines[:0]
	for _, l := range n.lines {
		if textclean.Fold(l) != key {
			kept = append(kept, l)
		}
	}
	n.lines = kept
	return true
}

// Save writes the store back to its path atomically.
func (n *NegativeStore) Save() error {
	f, err := n.Stage()
	if err != nil {
		return err
	}
	return f.Commit()
}

// Stage writes the store to a temp file beside its path without replacing
// it.
func (n *NegativeStore) Stage() (*model.StagedFile, error) {
	var buf bytes.Buffer
	for _, l := range n.lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return model.StageFile(n.path, buf.Bytes(), 0o644)
}

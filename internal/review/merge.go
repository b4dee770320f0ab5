package review

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/model"
	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
)

// Correction is one reviewed candidate.
type Correction struct {
	ID            string `json:"id,omitempty"`
	Text          string `json:"text"`
	Discipline    string `json:"discipline,omitempty"`
	LabelOverride string `json:"label_override,omitempty"`
	Status        string `json:"status"`
	Note          string `json:"note,omitempty"`
}

// Label is the discipline to train on: the override when set.
func (c Correction) Label() string {
	if l := strings.TrimSpace(c.LabelOverride); l != "" {
		return l
	}
	return strings.TrimSpace(c.Discipline)
}

// NormalizeStatus maps a reviewer status, English or Norwegian, onto
// pipeline.StatusActive or pipeline.StatusInactive.
func NormalizeStatus(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "aktiv":
		return pipeline.StatusActive, true
	case "inactive", "inaktiv":
		return pipeline.StatusInactive, true
	}
	return "", false
}

// RowError is one rejected correction.
type RowError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// ValidationError rejects a whole batch of corrections. Nothing is written
// when it is returned.
type ValidationError struct {
	Rows []RowError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Rows))
	for _, r := range e.Rows {
		parts = append(parts, fmt.Sprintf("row %d: %s", r.Index, r.Reason))
	}
	return "invalid corrections: " + strings.Join(parts, "; ")
}

// Validate checks every correction and returns a *ValidationError listing
// all offending rows, or nil.
func Validate(corrections []Correction) error {
	var rows []RowError
	for i, c := range corrections {
		status, ok := NormalizeStatus(c.Status)
		switch {
		case !ok:
			rows = append(rows, RowError{Index: i, Reason: fmt.Sprintf("unknown status %q", c.Status)})
		case strings.TrimSpace(c.Text) == "":
			rows = append(rows, RowError{Index: i, Reason: "empty text"})
		case status == pipeline.StatusActive && c.Label() == "":
			rows = append(rows, RowError{Index: i, Reason: "active correction without discipline"})
		}
	}
	if len(rows) > 0 {
		return &ValidationError{Rows: rows}
	}
	return nil
}

// MergeStats counts what a merge changed.
type MergeStats struct {
	Upserted        int `json:"upserted"`
	Unchanged       int `json:"unchanged"`
	RemovedPositive int `json:"removed_positive"`
	AddedNegative   int `json:"added_negative"`
	RemovedNegative int `json:"removed_negative"`
	CorpusSize      int `json:"corpus_size"`
	NegativeSize    int `json:"negative_size"`
}

// Merger applies corrections to the corpus and negative store files.
// Concurrent merges on one Merger are serialized.
type Merger struct {
	corpusPath    string
	negativesPath string
	logger        *zap.Logger
	mu            sync.Mutex
}

// NewMerger returns a Merger for the two training files.
func NewMerger(corpusPath, negativesPath string, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{corpusPath: corpusPath, negativesPath: negativesPath, logger: logger}
}

// CorpusPath returns the positive corpus file.
func (m *Merger) CorpusPath() string { return m.corpusPath }

// NegativesPath returns the negative store file.
func (m *Merger) NegativesPath() string { return m.negativesPath }

// Merge validates all corrections, then upserts active ones into the corpus
// and moves inactive ones to the negative store. A text reactivated by the
// reviewer leaves the negative store.
func (m *Merger) Merge(ctx context.Context, corrections []Correction) (*MergeStats, error) {
	if err := Validate(corrections); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	corpus, err := LoadCorpus(m.corpusPath)
	if err != nil {
		return nil, err
	}
	negatives, err := LoadNegatives(m.negativesPath)
	if err != nil {
		return nil, err
	}

	var st MergeStats
	for _, c := range corrections {
		status, _ := NormalizeStatus(c.Status)
		if status == pipeline.StatusActive {
			if corpus.Upsert(c.Text, c.Label()) {
				st.Upserted++
			} else {
				st.Unchanged++
			}
			if negatives.Remove(c.Text) {
				st.RemovedNegative++
			}
			continue
		}
		if corpus.Remove(c.Text) {
			st.RemovedPositive++
		}
		if negatives.Add(c.Text) {
			st.AddedNegative++
		}
	}

	// Stage both files before replacing either.
	var staged []*model.StagedFile
	defer func() {
		for _, f := range staged {
			f.Discard()
		}
	}()
	if st.Upserted+st.RemovedPositive > 0 {
		f, err := corpus.Stage()
		if err != nil {
			return nil, fmt.Errorf("saving corpus: %w", err)
		}
		staged = append(staged, f)
	}
	if st.AddedNegative+st.RemovedNegative > 0 {
		f, err := negatives.Stage()
		if err != nil {
			return nil, fmt.Errorf("saving negatives: %w", err)
		}
		staged = append(staged, f)
	}
	for _, f := range staged {
		if err := f.Commit(); err != nil {
			return nil, fmt.Errorf("saving corrections: %w", err)
		}
	}
	st.CorpusSize, st.NegativeSize = corpus.Len(), negatives.Len()

	m.logger.Info("corrections merged",
		zap.Int("corrections", len(corrections)),
		zap.Int("upserted", st.Upserted),
		zap.Int("removed_positive", st.RemovedPositive),
		zap.Int("added_negative", st.AddedNegative),
		zap.Int("corpus_size", st.CorpusSize))
	return &st, nil
}

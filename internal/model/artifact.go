// Package model loads, saves and trains classifier artifacts.
//
// An artifact file is JSON holding a model, an ordered label list, optional
// per-label thresholds and training metadata. Two historical layouts exist:
// the current one stores the model under "model", the legacy one stores a
// two-step vectorizer/classifier "pipeline". Decode resolves both into the
// same Artifact.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrModelUnavailable is returned when no usable artifact is loaded.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrInvalidArtifact indicates a file that is not a usable artifact.
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

// Metadata describes how an artifact was produced.
type Metadata struct {
	SavedAt  time.Time `json:"saved_at"`
	Kind     string    `json:"kind,omitempty"`
	Samples  int       `json:"samples"`
	Accuracy float64   `json:"accuracy"`
	MacroF1  float64   `json:"macro_f1"`
}

// Artifact is a fully loaded model with its labels.
type Artifact struct {
	Model      *Linear   `json:"model"`
	Labels     []string  `json:"labels"`
	Thresholds []float64 `json:"thresholds,omitempty"`
	Metadata   Metadata  `json:"metadata"`
}

type fileShape struct {
	Model      json.RawMessage `json:"model"`
	Pipeline   json.RawMessage `json:"pipeline"`
	Labels     []string        `json:"labels"`
	Thresholds []float64       `json:"thresholds"`
	Metadata   Metadata        `json:"metadata"`
}

type legacyPipeline struct {
	Steps []legacyStep `json:"steps"`
}

type legacyStep struct {
	Name       string         `json:"name"`
	Vocabulary map[string]int `json:"vocabulary"`
	NgramRange []int          `json:"ngram_range"`
	Norm       string         `json:"norm"`
	Coef       [][]float64    `json:"coef"`
	Intercept  []float64      `json:"intercept"`
	Classes    []string       `json:"classes"`
}

// Load reads and validates the artifact at path.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	a, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Decode parses either artifact layout and validates the result.
func Decode(data []byte) (*Artifact, error) {
	var f fileShape
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	a := &Artifact{Labels: f.Labels, Thresholds: f.Thresholds, Metadata: f.Metadata}
	switch {
	case len(f.Model) > 0 && string(f.Model) != "null":
		var m Linear
		if err := json.Unmarshal(f.Model, &m); err != nil {
			return nil, fmt.Errorf("%w: model: %v", ErrInvalidArtifact, err)
		}
		a.Model = &m
	case len(f.Pipeline) > 0 && string(f.Pipeline) != "null":
		m, classes, err := decodePipeline(f.Pipeline)
		if err != nil {
			return nil, err
		}
		a.Model = m
		if len(a.Labels) == 0 {
			a.Labels = classes
		}
	default:
		return nil, fmt.Errorf("%w: neither model nor pipeline present", ErrInvalidArtifact)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func decodePipeline(raw json.RawMessage) (*Linear, []string, error) {
	var p legacyPipeline
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, fmt.Errorf("%w: pipeline: %v", ErrInvalidArtifact, err)
	}

	m := &Linear{Norm: "l2"}
	var classes []string
	var haveVec, haveClf bool
	for _, s := range p.Steps {
		switch {
		case s.Vocabulary != nil:
			haveVec = true
			m.Vocabulary = s.Vocabulary
			if len(s.NgramRange) == 2 {
				m.Ngram = s.NgramRange[1]
			}
			if s.Norm != "" {
				m.Norm = s.Norm
			}
		case s.Coef != nil:
			haveClf = true
			classes = s.Classes
			m.Weights, m.Bias = s.Coef, s.Intercept
			// A binary logistic model stores one row for the positive class.
			if len(s.Coef) == 1 && len(s.Classes) == 2 && len(s.Intercept) == 1 {
				m.Weights = [][]float64{make([]float64, len(s.Coef[0])), s.Coef[0]}
				m.Bias = []float64{0, s.Intercept[0]}
			}
		}
	}
	if !haveVec || !haveClf {
		return nil, nil, fmt.Errorf("%w: pipeline needs a vectorizer and a classifier step", ErrInvalidArtifact)
	}
	return m, classes, nil
}

// Validate checks that the model dimensions agree with the labels.
func (a *Artifact) Validate() error {
	if a.Model == nil {
		return fmt.Errorf("%w: missing model", ErrInvalidArtifact)
	}
	n := len(a.Labels)
	if n < 2 {
		return fmt.Errorf("%w: need at least 2 labels, got %d", ErrInvalidArtifact, n)
	}
	if len(a.Model.Weights) != n || len(a.Model.Bias) != n {
		return fmt.Errorf("%w: %d labels but %d weight rows and %d biases",
			ErrInvalidArtifact, n, len(a.Model.Weights), len(a.Model.Bias))
	}
	width := len(a.Model.Weights[0])
	for i, row := range a.Model.Weights {
		if len(row) != width {
			return fmt.Errorf("%w: weight row %d has %d columns, want %d", ErrInvalidArtifact, i, len(row), width)
		}
		for _, w := range row {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				return fmt.Errorf("%w: non-finite weight in row %d", ErrInvalidArtifact, i)
			}
		}
	}
	for term, idx := range a.Model.Vocabulary {
		if idx < 0 || idx >= width {
			return fmt.Errorf("%w: vocabulary entry %q index %d out of range", ErrInvalidArtifact, term, idx)
		}
	}
	if len(a.Thresholds) > 0 && len(a.Thresholds) != n {
		return fmt.Errorf("%w: %d thresholds for %d labels", ErrInvalidArtifact, len(a.Thresholds), n)
	}
	for i, t := range a.Thresholds {
		if t < 0 || t > 1 || math.IsNaN(t) {
			return fmt.Errorf("%w: threshold %d out of [0,1]: %v", ErrInvalidArtifact, i, t)
		}
	}
	switch a.Model.Norm {
	case "", "none", "l2":
	default:
		return fmt.Errorf("%w: unknown norm %q", ErrInvalidArtifact, a.Model.Norm)
	}
	return nil
}

// Threshold returns the acceptance threshold for label i, or def when the
// artifact carries none.
func (a *Artifact) Threshold(i int, def float64) float64 {
	if i >= 0 && i < len(a.Thresholds) {
		return a.Thresholds[i]
	}
	return def
}

// Predict returns one probability per label.
func (a *Artifact) Predict(text string) []float64 {
	return a.Model.Predict(text)
}

// Save writes the artifact in the current layout. The file is written to a
// temporary name in the same directory and renamed into place.
func (a *Artifact) Save(path string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}
	return WriteFileAtomic(path, data, 0o644)
}

// WriteFileAtomic writes data to a temp file next to path, syncs it and
// renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := StageFile(path, data, perm)
	if err != nil {
		return err
	}
	return f.Commit()
}

// StagedFile is a synced temp file waiting to be renamed over its target.
type StagedFile struct {
	path string
	tmp  string
}

// StageFile writes data to a synced temp file next to path. Nothing at path
// changes until Commit.
func StageFile(path string, data []byte, perm os.FileMode) (*StagedFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	f := &StagedFile{path: path, tmp: tmp.Name()}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		f.Discard()
		return nil, fmt.Errorf("writing %s: %w", f.tmp, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		f.Discard()
		return nil, fmt.Errorf("syncing %s: %w", f.tmp, err)
	}
	if err := tmp.Close(); err != nil {
		f.Discard()
		return nil, fmt.Errorf("closing %s: %w", f.tmp, err)
	}
	if err := os.Chmod(f.tmp, perm); err != nil {
		f.Discard()
		return nil, fmt.Errorf("chmod %s: %w", f.tmp, err)
	}
	return f, nil
}

// Commit renames the temp file over the target.
func (f *StagedFile) Commit() error {
	if err := os.Rename(f.tmp, f.path); err != nil {
		f.Discard()
		return fmt.Errorf("renaming into %s: %w", f.path, err)
	}
	return nil
}

// Discard removes the temp file. It is a no-op after Commit.
func (f *StagedFile) Discard() {
	_ = os.Remove(f.tmp)
}

package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainingSamples() []Sample {
	vent := []string{
		"Ventilasjonsanlegget skal ha luftmengde 500 m3/h",
		"Aggregatet skal leveres med roterende varmegjenvinner",
		"Alle kanaler skal isoleres",
		"Viften skal ha EC-motor og lav SFP",
		"Tilluft skal filtreres med F7 filter",
		"Spjeld i kanaler skal motoriseres",
	}
	el := []string{
		"Kabler skal merkes i begge ender",
		"Tavlen skal ha jordfeilbryter per kurs",
		"Belysning skal styres med bevegelsessensor",
		"Stikkontakter skal monteres 1 meter over gulv",
		"Nødlys skal ha 1 time batteri",
		"Kabelbroer skal jordes",
	}
	var out []Sample
	for i := range vent {
		out = append(out, Sample{Text: vent[i], Label: "ventilasjon"}, Sample{Text: el[i], Label: "elektro"})
	}
	return out
}

func TestTrainNaiveBayes(t *testing.T) {
	a, err := TrainNaiveBayes(trainingSamples(), TrainOptions{Kind: "classifier"})
	require.NoError(t, err)

	assert.Equal(t, []string{"elektro", "ventilasjon"}, a.Labels)
	assert.Equal(t, 12, a.Metadata.Samples)
	assert.Equal(t, "classifier", a.Metadata.Kind)
	assert.False(t, a.Metadata.SavedAt.IsZero())
	assert.GreaterOrEqual(t, a.Metadata.Accuracy, 0.0)
	assert.LessOrEqual(t, a.Metadata.MacroF1, 1.0)

	p := a.Predict("kanaler og spjeld for tilluft")
	require.Len(t, p, 2)
	assert.InDelta(t, 1.0, p[0]+p[1], 1e-9)
	assert.Equal(t, "ventilasjon", a.Labels[Argmax(p)])
	assert.Equal(t, "elektro", a.Labels[Argmax(a.Predict("kabler i tavlen"))])
}

func TestTrainNaiveBayes_InsufficientData(t *testing.T) {
	_, err := TrainNaiveBayes([]Sample{{Text: "a", Label: "x"}, {Text: "b", Label: "x"}}, TrainOptions{})
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = TrainNaiveBayes(nil, TrainOptions{})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDecode_Current(t *testing.T) {
	a, err := Decode([]byte(`{
		"model": {"vocabulary": {"vifte": 0, "kabel": 1}, "weights": [[2, -2], [-2, 2]], "bias": [0, 0], "norm": "l2"},
		"labels": ["ventilasjon", "elektro"],
		"thresholds": [0.5, 0.6],
		"metadata": {"samples": 10, "accuracy": 0.9, "macro_f1": 0.85}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 10, a.Metadata.Samples)
	assert.Equal(t, 0.6, a.Threshold(1, 0.4))
	assert.Equal(t, 0.4, a.Threshold(5, 0.4))
	assert.Equal(t, 0, Argmax(a.Predict("en vifte")))
	assert.Equal(t, 1, Argmax(a.Predict("en kabel")))
}

func TestDecode_LegacyPipeline(t *testing.T) {
	a, err := Decode([]byte(`{
		"pipeline": {"steps": [
			{"name": "tfidf", "vocabulary": {"skal": 0, "kanskje": 1}, "ngram_range": [1, 2]},
			{"name": "clf", "coef": [[3.0, -3.0]], "intercept": [0.1], "classes": ["0", "1"]}
		]},
		"metadata": {"samples": 4}
	}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, a.Labels)
	assert.Equal(t, 2, a.Model.Ngram)
	assert.Equal(t, "l2", a.Model.Norm)
	require.Len(t, a.Model.Weights, 2)
	assert.Equal(t, "1", a.Labels[Argmax(a.Predict("det skal gjøres"))])
	assert.Equal(t, "0", a.Labels[Argmax(a.Predict("kanskje"))])
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"empty", `{}`},
		{"null model", `{"model": null, "labels": ["a", "b"]}`},
		{"one label", `{"model": {"vocabulary": {}, "weights": [[0]], "bias": [0]}, "labels": ["a"]}`},
		{"row count", `{"model": {"vocabulary": {}, "weights": [[0]], "bias": [0, 0]}, "labels": ["a", "b"]}`},
		{"ragged rows", `{"model": {"vocabulary": {}, "weights": [[0], [0, 1]], "bias": [0, 0]}, "labels": ["a", "b"]}`},
		{"vocab out of range", `{"model": {"vocabulary": {"x": 3}, "weights": [[0], [0]], "bias": [0, 0]}, "labels": ["a", "b"]}`},
		{"threshold count", `{"model": {"vocabulary": {}, "weights": [[0], [0]], "bias": [0, 0]}, "labels": ["a", "b"], "thresholds": [0.5]}`},
		{"threshold range", `{"model": {"vocabulary": {}, "weights": [[0], [0]], "bias": [0, 0]}, "labels": ["a", "b"], "thresholds": [0.5, 1.5]}`},
		{"unknown norm", `{"model": {"vocabulary": {}, "weights": [[0], [0]], "bias": [0, 0], "norm": "l1"}, "labels": ["a", "b"]}`},
		{"pipeline without classifier", `{"pipeline": {"steps": [{"vocabulary": {"a": 0}}]}, "labels": ["a", "b"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			assert.ErrorIs(t, err, ErrInvalidArtifact)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	a, err := TrainNaiveBayes(trainingSamples(), TrainOptions{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "models", "discipline.json")
	require.NoError(t, a.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, a.Labels, got.Labels)
	assert.Equal(t, a.Predict("viften"), got.Predict("viften"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestHandle_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "discipline.json")
	h := NewHandle(path, nil)

	_, err := h.Artifact()
	assert.ErrorIs(t, err, ErrModelUnavailable)

	_, err = h.Reload()
	require.Error(t, err, "missing file with nothing loaded")

	a, err := TrainNaiveBayes(trainingSamples(), TrainOptions{})
	require.NoError(t, err)
	require.NoError(t, a.Save(path))
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, past, past))

	swapped, err := h.Reload()
	require.NoError(t, err)
	assert.True(t, swapped)
	first := h.Current()
	require.NotNil(t, first)

	t.Run("unchanged mtime keeps the same snapshot", func(t *testing.T) {
		swapped, err := h.Reload()
		require.NoError(t, err)
		assert.False(t, swapped)
		assert.Same(t, first, h.Current())
	})

	t.Run("changed file is swapped in", func(t *testing.T) {
		require.NoError(t, a.Save(path))
		later := past.Add(time.Minute)
		require.NoError(t, os.Chtimes(path, later, later))

		swapped, err := h.Reload()
		require.NoError(t, err)
		assert.True(t, swapped)
		assert.NotSame(t, first, h.Current())
	})

	t.Run("corrupt file keeps the previous artifact", func(t *testing.T) {
		before := h.Current()
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 10)), 0o644))
		bad := past.Add(2 * time.Minute)
		require.NoError(t, os.Chtimes(path, bad, bad))

		swapped, err := h.Reload()
		assert.ErrorIs(t, err, ErrInvalidArtifact)
		assert.False(t, swapped)
		assert.Same(t, before, h.Current())

		swapped, err = h.Reload()
		assert.NoError(t, err, "same broken file is not retried")
		assert.False(t, swapped)
	})

	t.Run("removed file keeps serving", func(t *testing.T) {
		before := h.Current()
		require.NoError(t, os.Remove(path))
		swapped, err := h.Reload()
		require.NoError(t, err)
		assert.False(t, swapped)
		assert.Same(t, before, h.Current())
	})
}

func TestStageFile_CommitAndDiscard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.csv")

	f, err := StageFile(path, []byte("a"), 0o644)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "target untouched before commit")
	require.NoError(t, f.Commit())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	f, err = StageFile(path, []byte("b"), 0o644)
	require.NoError(t, err)
	f.Discard()
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
	"github.com/fyrsmithlabs/kravscan/internal/review"
)

func TestParseCorrections(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		got, err := parseCorrections([]byte(`[{"text": "Kabler skal merkes.", "discipline": "elektro", "status": "aktiv"}]`))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "elektro", got[0].Label())
	})

	t.Run("wrapped", func(t *testing.T) {
		got, err := parseCorrections([]byte(`{"corrections": [{"text": "Foo skal bar.", "status": "inactive"}]}`))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "inactive", got[0].Status)
	})

	t.Run("reviewed result", func(t *testing.T) {
		got, err := parseCorrections([]byte(`{
			"requirements": [
				{"id": "a", "text": "Kanaler skal isoleres.", "disciplines": ["ventilasjon"], "status": "active", "label_override": "isolasjon"},
				{"id": "b", "text": "Dette er støy.", "disciplines": [], "status": "inactive", "note": "ikke krav"}
			],
			"uncertain": [
				{"id": "c", "text": "Rør bør merkes.", "disciplines": ["rør"], "status": "active"},
				{"id": "d", "text": "Uten status.", "disciplines": ["rør"]}
			],
			"documents": 2
		}`))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, review.Correction{ID: "a", Text: "Kanaler skal isoleres.", Discipline: "ventilasjon", LabelOverride: "isolasjon", Status: "active"}, got[0])
		assert.Equal(t, "ikke krav", got[1].Note)
		assert.Equal(t, "c", got[2].ID)
		require.NoError(t, review.Validate(got))
	})

	t.Run("empty", func(t *testing.T) {
		for _, in := range []string{"", "  ", `{"documents": 1}`} {
			_, err := parseCorrections([]byte(in))
			assert.ErrorContains(t, err, "no corrections", in)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := parseCorrections([]byte(`[{"text": `))
		assert.ErrorContains(t, err, "decoding corrections")
	})
}

func TestReadCorrections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"text": "A skal B.", "discipline": "x", "status": "active"}]`), 0o644))

	got, err := readCorrections(path, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = readCorrections("-", strings.NewReader(`[{"text": "C skal D.", "status": "inactive"}]`))
	require.NoError(t, err)
	assert.Equal(t, "C skal D.", got[0].Text)

	_, err = readCorrections(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.ErrorContains(t, err, "reading corrections")
}

func TestPrintResult(t *testing.T) {
	res := &pipeline.Result{
		Documents: 2,
		Candidates: []pipeline.Candidate{{
			Source:      pipeline.Source{Document: "beskrivelse.pdf", Page: 4},
			Summary:     "Ventilasjonsanlegget skal dimensjoneres",
			Disciplines: []string{"ventilasjon"},
			Score:       82,
		}},
		Uncertain: []pipeline.Candidate{{Summary: "kanskje"}},
		Errors:    []string{"tegning.dwg: unsupported format"},
		Artifact:  "/tmp/anbud/requirements.json",
	}
	var buf bytes.Buffer
	printResult(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "1 requirements from 2 documents")
	assert.Contains(t, out, "1 uncertain")
	assert.Contains(t, out, "beskrivelse.pdf:4")
	assert.Contains(t, out, "ventilasjon")
	assert.Contains(t, out, "82")
	assert.Contains(t, out, "tegning.dwg: unsupported format")
	assert.Contains(t, out, "requirements.json")
}

func TestPrintModels(t *testing.T) {
	var buf bytes.Buffer
	printModels(&buf, []review.ModelReport{
		{Kind: "classifier", OK: true, Reloaded: true, Samples: 120, Accuracy: 0.9, MacroF1: 0.85},
		{Kind: "validator", Error: "trainer timed out after 1m0s"},
	})
	out := buf.String()
	assert.Contains(t, out, "classifier installed and reloaded: 120 samples, accuracy 90.0%")
	assert.Contains(t, out, "validator: trainer timed out")
}

func TestScanFlagsParams(t *testing.T) {
	f := scanFlags{minScore: 70, standards: []string{"NS3420"}, mode: "global", focus: "brann"}
	p := f.params("/data/x")
	assert.Equal(t, pipeline.Params{WorkDir: "/data/x", MinScore: pipeline.Score(70), Standards: []string{"NS3420"}, Mode: "global", Focus: "brann"}, p)
	require.NoError(t, p.Validate())
}

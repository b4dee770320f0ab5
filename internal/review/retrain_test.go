package review

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kravscan/internal/model"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("trainer fixtures use sh")
	}
}

// trainedArtifact writes a valid artifact trained on a small corpus.
func trainedArtifact(t *testing.T, dir, kind string) string {
	t.Helper()
	samples := []model.Sample{
		{Text: "Kanaler skal isoleres", Label: "ventilasjon"},
		{Text: "Viften skal ha EC-motor", Label: "ventilasjon"},
		{Text: "Kabler skal merkes", Label: "elektro"},
		{Text: "Tavlen skal ha jordfeilbryter", Label: "elektro"},
	}
	a, err := model.TrainNaiveBayes(samples, model.TrainOptions{Kind: kind})
	require.NoError(t, err)
	path := filepath.Join(dir, kind+"-fresh.json")
	require.NoError(t, a.Save(path))
	return path
}

type fixture struct {
	dir        string
	classifier string
	validator  string
	reloads    map[string]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:        dir,
		classifier: filepath.Join(dir, "models", "classifier.json"),
		validator:  filepath.Join(dir, "models", "validator.json"),
		reloads:    map[string]int{},
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(f.classifier), 0o755))
	require.NoError(t, os.WriteFile(f.classifier, []byte("old-classifier"), 0o644))
	require.NoError(t, os.WriteFile(f.validator, []byte("old-validator"), 0o644))
	return f
}

func (f *fixture) targets() []Target {
	hook := func(kind string) func() (bool, error) {
		return func() (bool, error) {
			f.reloads[kind]++
			return true, nil
		}
	}
	return []Target{
		{Kind: KindClassifier, Path: f.classifier, Reload: hook(KindClassifier)},
		{Kind: KindValidator, Path: f.validator, Reload: hook(KindValidator)},
	}
}

func (f *fixture) retrainer(command []string, timeout time.Duration) *Retrainer {
	return NewRetrainer(RetrainerConfig{
		Command:       command,
		Timeout:       timeout,
		CorpusPath:    filepath.Join(f.dir, "corpus.csv"),
		NegativesPath: filepath.Join(f.dir, "negatives.txt"),
	}, f.targets(), nil)
}

func TestRetrain_InstallsAndReloads(t *testing.T) {
	requireShell(t)
	f := newFixture(t)
	src := trainedArtifact(t, f.dir, "any")

	r := f.retrainer([]string{"sh", "-c", `echo "training $1"; cp "$0" "$2"`, src, "{kind}", "{output}"}, time.Minute)
	rep := r.Retrain(context.Background())

	require.True(t, rep.OK(), "%+v", rep.Models)
	require.Len(t, rep.Models, 2)
	for _, m := range rep.Models {
		assert.True(t, m.Reloaded)
		assert.Equal(t, 4, m.Samples)
		assert.Contains(t, m.Output, "training "+m.Kind)
	}
	assert.Equal(t, map[string]int{KindClassifier: 1, KindValidator: 1}, f.reloads)

	art, err := model.Load(f.classifier)
	require.NoError(t, err)
	assert.Equal(t, []string{"elektro", "ventilasjon"}, art.Labels)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(f.classifier), ".*train-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRetrain_FailuresKeepServingArtifact(t *testing.T) {
	requireShell(t)
	tests := []struct {
		name    string
		command []string
		timeout time.Duration
		errText string
	}{
		{"non-zero exit", []string{"sh", "-c", "echo boom >&2; exit 3"}, time.Minute, "exit status 3"},
		{"timeout", []string{"sleep", "5"}, 100 * time.Millisecond, "trainer timed out"},
		{"invalid output", []string{"sh", "-c", `echo '{"labels":["a"]}' > "$0"`, "{output}"}, time.Minute, "trainer output rejected"},
		{"missing binary", []string{"/nonexistent/kravctl", "train"}, time.Minute, "trainer /nonexistent/kravctl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rep := f.retrainer(tt.command, tt.timeout).Retrain(context.Background())

			assert.False(t, rep.OK())
			require.Len(t, rep.Models, 2)
			for _, m := range rep.Models {
				assert.False(t, m.OK)
				assert.False(t, m.Reloaded)
				assert.Contains(t, m.Error, tt.errText)
			}
			assert.Empty(t, f.reloads)

			data, err := os.ReadFile(f.classifier)
			require.NoError(t, err)
			assert.Equal(t, "old-classifier", string(data))
		})
	}
}

func TestRetrain_ReportsReloadError(t *testing.T) {
	requireShell(t)
	f := newFixture(t)
	src := trainedArtifact(t, f.dir, "any")
	r := NewRetrainer(RetrainerConfig{Command: []string{"cp", src, "{output}"}},
		[]Target{{Kind: KindClassifier, Path: f.classifier, Reload: func() (bool, error) {
			return false, os.ErrPermission
		}}}, nil)

	rep := r.Retrain(context.Background())
	require.Len(t, rep.Models, 1)
	assert.True(t, rep.Models[0].OK, "the artifact is installed even if the reload fails")
	assert.Contains(t, rep.Models[0].Error, "reload:")
}

func TestRetrainer_Reload(t *testing.T) {
	f := newFixture(t)
	r := f.retrainer([]string{"true"}, 0)

	ok, err := r.Reload(KindValidator)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.reloads[KindValidator])

	_, err = r.Reload("tagger")
	assert.Error(t, err)
}

func TestTrainFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewMerger(filepath.Join(dir, "corpus.csv"), filepath.Join(dir, "neg.txt"), nil)
	_, err := m.Merge(context.Background(), []Correction{
		{Text: "Kanaler skal isoleres", Discipline: "ventilasjon", Status: "active"},
		{Text: "Viften skal ha EC-motor", Discipline: "ventilasjon", Status: "active"},
		{Text: "Kabler skal merkes", Discipline: "elektro", Status: "active"},
		{Text: "Møtet startet klokken ni", Status: "inactive"},
	})
	require.NoError(t, err)

	cls, err := TrainFiles(KindClassifier, m.CorpusPath(), m.NegativesPath(), model.TrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"elektro", "ventilasjon"}, cls.Labels)
	assert.Equal(t, KindClassifier, cls.Metadata.Kind)

	val, err := TrainFiles(KindValidator, m.CorpusPath(), m.NegativesPath(), model.TrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, val.Labels)
	assert.Equal(t, 4, val.Metadata.Samples)
}

package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/logging"
)

func assembleConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Normalizer.ConverterCommand = []string{"false"}
	cfg.Model.ClassifierPath = filepath.Join(dir, "models", "discipline.json")
	cfg.Model.ValidatorPath = filepath.Join(dir, "models", "validator.json")
	cfg.Standards.Dir = filepath.Join(dir, "standards")
	cfg.Standards.CacheDir = filepath.Join(dir, "cache")
	return cfg
}

func TestAssemble(t *testing.T) {
	cfg := assembleConfig(t)
	logger := logging.NewTestLogger()

	a, err := Assemble(context.Background(), cfg, logger.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	require.NotNil(t, a.Pipeline)
	assert.False(t, a.Classifier.Available(), "no artifact on disk")
	require.NotNil(t, a.ValidatorModel)
	assert.Nil(t, a.Embedder)
	assert.ElementsMatch(t, []string{"classifier", "validator"}, keys(a.Reloaders()))
	logger.AssertLogged(t, zapcore.WarnLevel, "classifier model unavailable")

	dir := writeFiles(t, map[string]string{"beskrivelse.txt": airflowReq + "\n\n" + leakReq})
	res, err := a.Pipeline.Run(context.Background(), Params{WorkDir: dir, MinScore: Score(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents)
}

func TestAssemble_Errors(t *testing.T) {
	t.Run("unknown embeddings provider", func(t *testing.T) {
		cfg := assembleConfig(t)
		cfg.Embeddings.Provider = "word2vec"
		_, err := Assemble(context.Background(), cfg, nil)
		assert.ErrorContains(t, err, "initializing embeddings")
	})

	t.Run("unknown standards backend", func(t *testing.T) {
		cfg := assembleConfig(t)
		cfg.Standards.Backend = "faiss"
		_, err := Assemble(context.Background(), cfg, nil)
		assert.ErrorContains(t, err, "opening standards store")
	})

	t.Run("missing profile overrides", func(t *testing.T) {
		cfg := assembleConfig(t)
		cfg.Profiles.Path = filepath.Join(t.TempDir(), "nope.toml")
		_, err := Assemble(context.Background(), cfg, nil)
		assert.ErrorContains(t, err, "loading profiles")
	})
}

func keys(m map[string]func() (bool, error)) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestAssembly_NewPipelineIsIndependent(t *testing.T) {
	a, err := Assemble(context.Background(), assembleConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	first, err := a.NewPipeline()
	require.NoError(t, err)
	second, err := a.NewPipeline()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NotSame(t, a.Pipeline, first)

	dir := writeFiles(t, map[string]string{"beskrivelse.txt": airflowReq})
	for _, p := range []*Pipeline{first, second} {
		res, err := p.Run(context.Background(), Params{WorkDir: dir, MinScore: Score(1)}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Documents)
	}
}

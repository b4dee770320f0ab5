package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/logging"
)

func TestDaemon_RunnersAreNotShared(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.NATS.URL = ""
	cfg.NATS.Embedded = false
	cfg.Normalizer.ConverterCommand = []string{"false"}
	cfg.Model.ClassifierPath = filepath.Join(dir, "models", "discipline.json")
	cfg.Model.ValidatorPath = ""
	cfg.Standards.Dir = ""
	cfg.Storage.WorkDir = dir

	d, err := newDaemon(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	first, err := d.newRunner()
	require.NoError(t, err)
	second, err := d.newRunner()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NotSame(t, d.asm.Pipeline, first)
}

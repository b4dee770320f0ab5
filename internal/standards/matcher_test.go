package standards

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/config"
)

const (
	ns3420Text = "[[PAGE 1]]\nVentilasjonsanlegg luftmengde kanaler\n[[PAGE 2]]\nElektrisk tavle jording\n"
	nek400Text = "[[PAGE 1]]\nJording av elektrisk tavle og kabler\n"
)

func setupStandards(t *testing.T) config.StandardsConfig {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NS3420.txt"), []byte(ns3420Text), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NEK400.txt"), []byte(nek400Text), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.bin"), []byte("ignored"), 0o644))
	return config.StandardsConfig{
		Dir:            dir,
		CacheDir:       filepath.Join(t.TempDir(), "cache"),
		TopPerStandard: 2,
		TopOverall:     5,
		MinScore:       0.15,
	}
}

func (m *Matcher) buildCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.builds
}

func TestChunkPages(t *testing.T) {
	got := chunkPages("intro\n[[PAGE 2]]\nfirst  line\nsecond\n[[PAGE 3]]\n\n[[PAGE 4]]\nlast")
	assert.Equal(t, []Chunk{
		{Page: 1, Text: "intro"},
		{Page: 2, Text: "first line second"},
		{Page: 4, Text: "last"},
	}, got)

	assert.Equal(t, []Chunk{{Page: 1, Text: "no markers here"}}, chunkPages("no markers\nhere"))
	assert.Empty(t, chunkPages("[[PAGE 1]]\n\n"))
}

func TestChunkPages_LongPageSplitsOnParagraphs(t *testing.T) {
	para := strings.Repeat("a", 1200)
	got := chunkPages("[[PAGE 7]]\n" + para + "\n\n" + para + "\n\nshort")
	require.Len(t, got, 2)
	assert.Equal(t, 7, got[0].Page)
	assert.Equal(t, para, got[0].Text)
	assert.Equal(t, 7, got[1].Page)
	assert.Equal(t, para+" short", got[1].Text)
}

func TestMatch_TokenOverlap(t *testing.T) {
	m := New(setupStandards(t), Options{Logger: zap.NewNop()})

	hits, err := m.Match(context.Background(), "Tavle skal ha jording", []string{"NS3420", "NEK400"})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "NS3420", hits[0].Standard)
	assert.Equal(t, 2, hits[0].Page)
	assert.Equal(t, "Elektrisk tavle jording", hits[0].Excerpt)
	assert.InDelta(t, 0.5774, hits[0].Score, 1e-3)

	assert.Equal(t, "NEK400", hits[1].Standard)
	assert.Equal(t, 1, hits[1].Page)
	assert.InDelta(t, 0.4082, hits[1].Score, 1e-3)
}

func TestMatch_Limits(t *testing.T) {
	cfg := setupStandards(t)
	cfg.TopOverall = 1
	m := New(cfg, Options{})

	hits, err := m.Match(context.Background(), "Tavle skal ha jording", []string{"NS3420", "NEK400"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "NS3420", hits[0].Standard)

	cfg.TopOverall = 5
	cfg.MinScore = 0.5
	m = New(cfg, Options{})
	hits, err = m.Match(context.Background(), "Tavle skal ha jording", []string{"NS3420", "NEK400"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].Page)
}

func TestMatch_EmptyInputs(t *testing.T) {
	m := New(setupStandards(t), Options{})
	hits, err := m.Match(context.Background(), "  ", []string{"NS3420"})
	require.NoError(t, err)
	assert.Nil(t, hits)

	hits, err = m.Match(context.Background(), "jording", nil)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestMatch_UnknownStandardSkipped(t *testing.T) {
	m := New(setupStandards(t), Options{})

	hits, err := m.Match(context.Background(), "jording", []string{"NOPE", "NEK400"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "NEK400", hits[0].Standard)

	err = m.Prepare(context.Background(), []string{"NOPE", "NEK400"})
	assert.ErrorIs(t, err, ErrUnknownStandard)
}

func TestMatch_UsesPreparedIndexWithoutDisk(t *testing.T) {
	cfg := setupStandards(t)
	m := New(cfg, Options{})
	ctx := context.Background()

	err := m.Prepare(ctx, []string{"NOPE", "NEK400"})
	assert.ErrorIs(t, err, ErrUnknownStandard)
	require.NoError(t, os.RemoveAll(cfg.Dir))

	for i := 0; i < 3; i++ {
		hits, err := m.Match(ctx, "jording", []string{"NOPE", "NEK400"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "NEK400", hits[0].Standard)
	}
	assert.Equal(t, 1, m.buildCount())
}

func TestMatch_Canceled(t *testing.T) {
	m := New(setupStandards(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Match(ctx, "jording", []string{"NEK400"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAvailable(t *testing.T) {
	m := New(setupStandards(t), Options{})
	names, err := m.Available()
	require.NoError(t, err)
	assert.Equal(t, []string{"NEK400", "NS3420"}, names)
}

func TestCache_RebuildsOnlyStaleStandards(t *testing.T) {
	cfg := setupStandards(t)
	ctx := context.Background()
	selection := []string{"NS3420", "NEK400"}

	first := New(cfg, Options{})
	require.NoError(t, first.Prepare(ctx, selection))
	assert.Equal(t, 2, first.buildCount())
	assert.FileExists(t, filepath.Join(cfg.CacheDir, IndexFile))

	// A fresh process reuses the cache.
	second := New(cfg, Options{})
	require.NoError(t, second.Prepare(ctx, selection))
	assert.Equal(t, 0, second.buildCount())

	// Touching one source rebuilds that standard only.
	src := filepath.Join(cfg.Dir, "NS3420.txt")
	require.NoError(t, os.WriteFile(src, []byte(ns3420Text+"[[PAGE 3]]\nNy side om brannvern\n"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(src, future, future))

	third := New(cfg, Options{})
	require.NoError(t, third.Prepare(ctx, selection))
	assert.Equal(t, 1, third.buildCount())

	hits, err := third.Match(ctx, "brannvern", []string{"NS3420"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 3, hits[0].Page)

	// The running matcher picks the change up with its next batch.
	require.NoError(t, second.Prepare(ctx, selection))
	hits, err = second.Match(ctx, "brannvern", []string{"NS3420"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, second.buildCount())
}

func TestCache_CorruptIndexIgnored(t *testing.T) {
	cfg := setupStandards(t)
	require.NoError(t, os.MkdirAll(cfg.CacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.CacheDir, IndexFile), []byte("{not json"), 0o644))

	m := New(cfg, Options{})
	require.NoError(t, m.Prepare(context.Background(), []string{"NEK400"}))
	assert.Equal(t, 1, m.buildCount())
}

func TestPrepare_ConcurrentCallersBuildOnce(t *testing.T) {
	cfg := setupStandards(t)
	m := New(cfg, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Prepare(context.Background(), []string{"NS3420"}))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, m.buildCount())
}

// keywordEmbedder maps texts onto three keyword axes.
type keywordEmbedder struct {
	fail      bool
	docCalls  int
	mu        sync.Mutex
	failQuery bool
}

func (e *keywordEmbedder) vec(text string) []float32 {
	t := strings.ToLower(text)
	v := []float32{0.01, 0.01, 0.01}
	for i, kw := range []string{"luft", "tavle", "jording"} {
		if strings.Contains(t, kw) {
			v[i] = 1
		}
	}
	return v
}

func (e *keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.docCalls++
	e.mu.Unlock()
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func (e *keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.fail || e.failQuery {
		return nil, errors.New("embedding backend down")
	}
	return e.vec(text), nil
}

func TestMatch_Embeddings(t *testing.T) {
	cfg := setupStandards(t)
	emb := &keywordEmbedder{}
	m := New(cfg, Options{Embedder: emb})

	hits, err := m.Match(context.Background(), "Luftmengde skal dokumenteres", []string{"NS3420"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, 1, hits[0].Page)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-3)

	// Embeddings are cached with the index.
	again := New(cfg, Options{Embedder: emb})
	require.NoError(t, again.Prepare(context.Background(), []string{"NS3420"}))
	assert.Equal(t, 0, again.buildCount())
	assert.Equal(t, 1, emb.docCalls)
}

func TestMatch_EmbeddingFailureFallsBackToTokens(t *testing.T) {
	cfg := setupStandards(t)
	m := New(cfg, Options{Embedder: &keywordEmbedder{fail: true}})

	hits, err := m.Match(context.Background(), "Tavle skal ha jording", []string{"NS3420"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].Page)
	assert.InDelta(t, 0.5774, hits[0].Score, 1e-3)
}

func TestMatch_QueryEmbeddingFailureFallsBackToTokens(t *testing.T) {
	cfg := setupStandards(t)
	m := New(cfg, Options{Embedder: &keywordEmbedder{failQuery: true}})

	hits, err := m.Match(context.Background(), "Tavle skal ha jording", []string{"NS3420"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.5774, hits[0].Score, 1e-3)
}

func TestOverlap(t *testing.T) {
	a := tokenSet("Tavle skal ha jording")
	assert.Len(t, a, 4)
	assert.InDelta(t, 1.0, overlap(a, tokenSet("JORDING ha, skal tavle!")), 1e-9)
	assert.Zero(t, overlap(a, tokenSet("luftmengde")))
	assert.Zero(t, overlap(a, nil))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "kort", excerpt("kort"))
	long := strings.Repeat("ord ", 100)
	got := excerpt(long)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.LessOrEqual(t, len([]rune(got)), excerptRunes+1)
}

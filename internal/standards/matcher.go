// Package standards attaches page references into external technical
// standards to requirement clauses.
//
// Each standard is a document in the standards directory whose file stem is
// the standard's name (NS3420.pdf is "NS3420"). Its page-level index is built
// on first use, cached in standards_index.json keyed by the source's mtime
// and size, and pushed to a vector store when an embedder is configured.
// Without an embedder, or when embedding fails, matching falls back to
// normalized token overlap.
package standards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/embeddings"
	"github.com/fyrsmithlabs/kravscan/internal/normalize"
	"github.com/fyrsmithlabs/kravscan/internal/textclean"
	"github.com/fyrsmithlabs/kravscan/internal/vectorstore"
)

var tracer = otel.Tracer("kravscan.standards")

// ErrUnknownStandard is returned for a selected standard with no source
// document.
var ErrUnknownStandard = errors.New("unknown standard")

const (
	lockKey        = "standards_index"
	excerptRunes   = 240
	embedBatchSize = 32
)

// Hit is one page reference.
type Hit struct {
	Standard string  `json:"standard"`
	Page     int     `json:"page"`
	Excerpt  string  `json:"excerpt"`
	Score    float64 `json:"score"`
}

// Options carries the Matcher's collaborators. Embedder may be nil.
type Options struct {
	Normalizer *normalize.Normalizer
	Embedder   embeddings.Embedder
	Store      vectorstore.Store
	Locker     Locker
	Logger     *zap.Logger
}

type loaded struct {
	entry     *Entry
	published bool

	tokensOnce sync.Once
	tokens     []map[string]struct{}
}

func (l *loaded) chunkTokens() []map[string]struct{} {
	l.tokensOnce.Do(func() {
		l.tokens = make([]map[string]struct{}, len(l.entry.Chunks))
		for i, c := range l.entry.Chunks {
			l.tokens[i] = tokenSet(c.Text)
		}
	})
	return l.tokens
}

// Matcher finds standard page references for clauses. It is safe for
// concurrent use.
type Matcher struct {
	cfg      config.StandardsConfig
	norm     *normalize.Normalizer
	embedder embeddings.Embedder
	store    vectorstore.Store
	locker   Locker
	logger   *zap.Logger

	mu     sync.RWMutex
	loaded map[string]*loaded
	// failed holds the errors of the last Prepare, so Match skips those
	// standards without touching the disk.
	failed map[string]error
	group  singleflight.Group
	builds int
}

// New returns a Matcher. Missing collaborators get in-process defaults.
func New(cfg config.StandardsConfig, opts Options) *Matcher {
	if cfg.TopPerStandard <= 0 {
		cfg.TopPerStandard = 2
	}
	if cfg.TopOverall <= 0 {
		cfg.TopOverall = 5
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = cfg.Dir
	}
	m := &Matcher{
		cfg:      cfg,
		norm:     opts.Normalizer,
		embedder: opts.Embedder,
		store:    opts.Store,
		locker:   opts.Locker,
		logger:   opts.Logger,
		loaded:   make(map[string]*loaded),
		failed:   make(map[string]error),
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.norm == nil {
		m.norm = normalize.New(config.NormalizerConfig{}, m.logger)
	}
	if m.store == nil {
		m.store = vectorstore.NewMemoryStore()
	}
	if m.locker == nil {
		m.locker = &FileLocker{Dir: cfg.CacheDir, TTL: cfg.LockTTL.Duration()}
	}
	return m
}

// Available lists the standards found in the standards directory.
func (m *Matcher) Available() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading standards dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !normalize.Supported(e.Name()) {
			continue
		}
		names = append(names, stem(e.Name()))
	}
	sort.Strings(names)
	return names, nil
}

// Prepare builds or loads the index of every selected standard, checking
// each source once. Match then uses these indexes as they are. Failures are
// joined; standards that did build stay usable.
func (m *Matcher) Prepare(ctx context.Context, selection []string) error {
	var errs []error
	for _, name := range uniq(selection) {
		_, err := m.ensure(ctx, name)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		m.mu.Lock()
		if err != nil {
			m.failed[name] = err
		} else {
			delete(m.failed, name)
		}
		m.mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Match returns up to TopOverall page references for text across the
// selected standards, highest score first. Unknown standards and index or
// embedding failures are logged and skipped; only cancellation is returned.
func (m *Matcher) Match(ctx context.Context, text string, selection []string) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "Matcher.Match")
	defer span.End()
	span.SetAttributes(attribute.Int("standards", len(selection)))

	if strings.TrimSpace(text) == "" || len(selection) == 0 {
		return nil, nil
	}

	var (
		hits     []Hit
		query    []float32
		embedded bool
		qtokens  map[string]struct{}
	)
	for _, name := range uniq(selection) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l, err := m.current(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn("standard unavailable", zap.String("standard", name), zap.Error(err))
			continue
		}

		if m.embedder != nil && l.published {
			if !embedded {
				embedded = true
				if query, err = m.embedder.EmbedQuery(ctx, text); err != nil {
					m.logger.Warn("embedding clause failed, using token overlap", zap.Error(err))
					query = nil
				}
			}
			if query != nil {
				sh, err := m.vectorHits(ctx, name, query)
				if err == nil {
					hits = append(hits, sh...)
					continue
				}
				m.logger.Warn("vector search failed, using token overlap",
					zap.String("standard", name), zap.Error(err))
			}
		}

		if qtokens == nil {
			qtokens = tokenSet(text)
		}
		hits = append(hits, m.lexicalHits(name, l, qtokens)...)
	}

	sortHits(hits)
	if len(hits) > m.cfg.TopOverall {
		hits = hits[:m.cfg.TopOverall]
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

func (m *Matcher) vectorHits(ctx context.Context, name string, query []float32) ([]Hit, error) {
	res, err := m.store.Search(ctx, name, query, m.cfg.TopPerStandard)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	for _, r := range res {
		if r.Score < m.cfg.MinScore {
			continue
		}
		hits = append(hits, Hit{Standard: name, Page: r.Page, Excerpt: excerpt(r.Text), Score: r.Score})
	}
	return hits, nil
}

func (m *Matcher) lexicalHits(name string, l *loaded, qtokens map[string]struct{}) []Hit {
	var hits []Hit
	for i, toks := range l.chunkTokens() {
		s := overlap(qtokens, toks)
		if s < m.cfg.MinScore || s == 0 {
			continue
		}
		c := l.entry.Chunks[i]
		hits = append(hits, Hit{Standard: name, Page: c.Page, Excerpt: excerpt(c.Text), Score: s})
	}
	sortHits(hits)
	if len(hits) > m.cfg.TopPerStandard {
		hits = hits[:m.cfg.TopPerStandard]
	}
	return hits
}

// current returns the index Prepare settled on for name. Standards Prepare
// has not seen go through ensure.
func (m *Matcher) current(ctx context.Context, name string) (*loaded, error) {
	m.mu.RLock()
	l, err := m.loaded[name], m.failed[name]
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if l != nil {
		return l, nil
	}
	return m.ensure(ctx, name)
}

// ensure returns the current index of name, building it when the cached
// one is missing or stale.
func (m *Matcher) ensure(ctx context.Context, name string) (*loaded, error) {
	src, info, err := m.source(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	l := m.loaded[name]
	m.mu.RUnlock()
	if l != nil && l.entry.fresh(info) {
		return l, nil
	}

	v, err, _ := m.group.Do(name, func() (any, error) {
		return m.load(ctx, name, src, info)
	})
	if err != nil {
		return nil, err
	}
	return v.(*loaded), nil
}

// usable reports whether e matches the source and carries embeddings when
// they can be produced.
func (m *Matcher) usable(e *Entry, info os.FileInfo) bool {
	return e.fresh(info) && (m.embedder == nil || e.embedded())
}

func (m *Matcher) load(ctx context.Context, name, src string, info os.FileInfo) (*loaded, error) {
	ctx, span := tracer.Start(ctx, "Matcher.load")
	defer span.End()
	span.SetAttributes(attribute.String("standard", name))

	e := loadIndex(m.cfg.CacheDir)[name]
	if !m.usable(e, info) {
		var err error
		if e, err = m.rebuild(ctx, name, src, info); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	l := &loaded{entry: e}
	if m.embedder != nil && e.embedded() {
		if err := m.publish(ctx, name, e); err != nil {
			m.logger.Warn("publishing standard to vector store failed",
				zap.String("standard", name), zap.Error(err))
		} else {
			l.published = true
		}
	}
	m.mu.Lock()
	m.loaded[name] = l
	m.mu.Unlock()
	return l, nil
}

// rebuild extracts and embeds name under the cache lock, then merges it into
// the on-disk index.
func (m *Matcher) rebuild(ctx context.Context, name, src string, info os.FileInfo) (*Entry, error) {
	unlock, err := m.locker.Lock(ctx, lockKey)
	if err != nil {
		return nil, fmt.Errorf("locking standards index: %w", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			m.logger.Warn("releasing standards index lock", zap.Error(err))
		}
	}()

	// Another process may have finished the same build while we waited.
	idx := loadIndex(m.cfg.CacheDir)
	e := idx[name]
	if !e.fresh(info) {
		m.logger.Info("building standard index", zap.String("standard", name), zap.String("source", src))
		doc, err := m.norm.NormalizeFile(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("normalizing %s: %w", src, err)
		}
		chunks := chunkPages(doc.Text)
		if len(chunks) == 0 {
			return nil, errNoText
		}
		e = &Entry{Source: src, ModTime: info.ModTime().UnixNano(), Size: info.Size(), Chunks: chunks}
		m.mu.Lock()
		m.builds++
		m.mu.Unlock()
	}
	if m.embedder != nil && !e.embedded() {
		if err := m.embed(ctx, e); err != nil {
			m.logger.Warn("embedding standard failed, using token overlap",
				zap.String("standard", name), zap.Error(err))
		}
	}

	idx[name] = e
	if err := saveIndex(m.cfg.CacheDir, idx); err != nil {
		m.logger.Warn("writing standards index", zap.Error(err))
	}
	return e, nil
}

// embed fills every chunk's embedding or none of them.
func (m *Matcher) embed(ctx context.Context, e *Entry) error {
	vecs := make([][]float32, 0, len(e.Chunks))
	for start := 0; start < len(e.Chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(e.Chunks))
		texts := make([]string, 0, end-start)
		for _, c := range e.Chunks[start:end] {
			texts = append(texts, c.Text)
		}
		v, err := m.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d chunks", embeddings.ErrEmbeddingFailed, len(v), len(texts))
		}
		vecs = append(vecs, v...)
	}
	for i := range e.Chunks {
		e.Chunks[i].Embedding = vecs[i]
	}
	return nil
}

func (m *Matcher) publish(ctx context.Context, name string, e *Entry) error {
	if err := m.store.DeleteStandard(ctx, name); err != nil {
		return err
	}
	records := make([]vectorstore.Record, len(e.Chunks))
	for i, c := range e.Chunks {
		records[i] = vectorstore.Record{
			ID:       fmt.Sprintf("%s#%d#%d", name, c.Page, i),
			Standard: name,
			Page:     c.Page,
			Text:     c.Text,
			Vector:   c.Embedding,
		}
	}
	return m.store.Upsert(ctx, records)
}

// source resolves name to a supported file in the standards directory.
func (m *Matcher) source(name string) (string, os.FileInfo, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return "", nil, fmt.Errorf("reading standards dir: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() || !normalize.Supported(de.Name()) || !strings.EqualFold(stem(de.Name()), name) {
			continue
		}
		path := filepath.Join(m.cfg.Dir, de.Name())
		info, err := os.Stat(path)
		if err != nil {
			return "", nil, err
		}
		return path, info, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrUnknownStandard, name)
}

func stem(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file))
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Standard != hits[j].Standard {
			return hits[i].Standard < hits[j].Standard
		}
		return hits[i].Page < hits[j].Page
	})
}

func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= excerptRunes {
		return s
	}
	rs := []rune(s)[:excerptRunes]
	cut := string(rs)
	if i := strings.LastIndexByte(cut, ' '); i > excerptRunes/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

// tokenSet folds s and returns its distinct tokens of at least two runes.
func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(textclean.Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= 2 {
			out[f] = struct{}{}
		}
	}
	return out
}

// overlap is the Ochiai coefficient |a∩b| / sqrt(|a|·|b|).
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return float64(n) / math.Sqrt(float64(len(a))*float64(len(b)))
}

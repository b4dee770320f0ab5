// Package pipeline turns a directory of project documents into scored,
// classified and deduplicated requirement candidates.
//
// Per document: normalize, clean, split, validate, score, classify, cite
// standards. Per batch: deduplicate, sort and persist. A document that fails
// adds an entry to Result.Errors and the batch continues; only a missing
// working directory, bad parameters or cancellation fail the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/classifier"
	"github.com/fyrsmithlabs/kravscan/internal/clause"
	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/dedup"
	"github.com/fyrsmithlabs/kravscan/internal/logging"
	"github.com/fyrsmithlabs/kravscan/internal/normalize"
	"github.com/fyrsmithlabs/kravscan/internal/profile"
	"github.com/fyrsmithlabs/kravscan/internal/scoring"
	"github.com/fyrsmithlabs/kravscan/internal/standards"
	"github.com/fyrsmithlabs/kravscan/internal/textclean"
	"github.com/fyrsmithlabs/kravscan/internal/validator"
)

const instrumentationName = "github.com/fyrsmithlabs/kravscan/internal/pipeline"

// Result files written into the working directory.
const (
	InitialFile = "initial_requirements.json"
	FinalFile   = "requirements.json"
)

const summaryWords = 12

var (
	// ErrWorkDir indicates a missing or unreadable working directory.
	ErrWorkDir = errors.New("working directory unavailable")

	// ErrInvalidParams indicates scan parameters out of range.
	ErrInvalidParams = errors.New("invalid scan parameters")
)

// candidateNamespace derives stable candidate ids from document and text.
var candidateNamespace = uuid.MustParse("3c1f0a52-8d7e-4b8e-a6f4-2f6a9d0c71e5")

// numberingRE matches leading section numbers ("3.2.1", "4)", "b.").
var numberingRE = regexp.MustCompile(`^(?:\d+(?:\.\d+)+\.?|\d+[.)]|[a-zA-Z][.)])\s+`)

// Classifier is the discipline classifier as seen by the pipeline.
type Classifier interface {
	scoring.Classifier
	Available() bool
	Labels() []string
}

// ReferenceMatcher cites standards. *standards.Matcher implements it.
type ReferenceMatcher interface {
	Prepare(ctx context.Context, selection []string) error
	Match(ctx context.Context, text string, selection []string) ([]standards.Hit, error)
}

// Deps are the pipeline's collaborators. Classifier and Standards may be nil.
type Deps struct {
	Normalizer *normalize.Normalizer
	Splitter   *clause.Splitter
	Profiles   *profile.Store
	Validator  validator.Validator
	Engine     *scoring.Engine
	Classifier Classifier
	Standards  ReferenceMatcher
	Logger     *logging.Logger
}

// Pipeline runs batches. It holds no per-batch state and is safe for
// concurrent use by several workers.
type Pipeline struct {
	deps    Deps
	dedup   config.DedupConfig
	minimum float64
	tracer  trace.Tracer
	metrics *metrics
}

// New returns a Pipeline. Normalizer, Splitter, Profiles, Validator and
// Engine are required.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if deps.Normalizer == nil || deps.Splitter == nil || deps.Profiles == nil || deps.Validator == nil || deps.Engine == nil {
		return nil, errors.New("pipeline: normalizer, splitter, profiles, validator and engine are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	d := cfg.Dedup
	if d.Threshold <= 0 {
		d.Threshold = dedup.DefaultThreshold
	}
	if d.Scope == "" {
		d.Scope = string(dedup.PerFile)
	}
	return &Pipeline{
		deps:    deps,
		dedup:   d,
		minimum: cfg.Scoring.MinScore,
		tracer:  otel.Tracer(instrumentationName),
		metrics: newMetrics(deps.Logger.Underlying()),
	}, nil
}

// batch accumulates one run's output.
type batch struct {
	params   Params
	minScore float64
	profile  *profile.Profile

	included  []Candidate
	uncertain []Candidate
	errors    []string
	documents int
}

func (b *batch) fail(doc string, err error) {
	b.errors = append(b.errors, fmt.Sprintf("%s: %v", doc, err))
}

// Run processes every supported file in p.WorkDir in name order. Progress
// goes to n, which must not block. Cancellation is checked between
// documents.
func (pl *Pipeline) Run(ctx context.Context, p Params, n Notifier) (res *Result, err error) {
	ctx, span := pl.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("workdir", p.WorkDir),
		attribute.Int("standards", len(p.Standards)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if n == nil {
		n = NopNotifier{}
	}
	log := pl.deps.Logger

	if err := p.Validate(); err != nil {
		return nil, err
	}
	files, err := listDocuments(p.WorkDir)
	if err != nil {
		return nil, err
	}

	b := &batch{
		params:   p,
		minScore: p.MinScoreOr(pl.minimum),
		profile:  pl.deps.Profiles.Select(p.Focus, p.SelectedGroups),
	}
	log.Info(ctx, "batch started",
		zap.Int("documents", len(files)),
		zap.String("profile", b.profile.Key),
		zap.Float64("min_score", b.minScore))

	if pl.deps.Standards != nil && len(p.Standards) > 0 {
		start := time.Now()
		if err := pl.deps.Standards.Prepare(ctx, p.Standards); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn(ctx, "some standards are unavailable", zap.Error(err))
			b.errors = append(b.errors, fmt.Sprintf("standards: %v", err))
		}
		pl.metrics.stage(ctx, "standards_prepare", start)
	}

	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n.Report(ctx, "processing "+name, i*90/len(files), 100)
		pl.document(logging.WithDocument(ctx, name), b, name)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.Report(ctx, "deduplicating", 95, 100)
	res = pl.finish(ctx, b)

	if err := pl.persist(p.WorkDir, b, res); err != nil {
		// The result is still returned to the caller.
		log.Error(ctx, "persisting results failed", zap.Error(err))
		res.Errors = append(res.Errors, fmt.Sprintf("persist: %v", err))
	}
	n.Report(ctx, "done", 100, 100)
	log.Info(ctx, "batch finished",
		zap.Int("requirements", len(res.Candidates)),
		zap.Int("uncertain", len(res.Uncertain)),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// listDocuments returns the regular, non-hidden files of dir in name order,
// without the pipeline's own outputs.
func listDocuments(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrWorkDir, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || name == InitialFile || name == FinalFile {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

// document runs one file through the per-document stages. Every failure is
// recorded on b; nothing is returned.
func (pl *Pipeline) document(ctx context.Context, b *batch, name string) {
	ctx, span := pl.tracer.Start(ctx, "pipeline.document", trace.WithAttributes(attribute.String("document", name)))
	defer span.End()
	log := pl.deps.Logger
	b.documents++

	start := time.Now()
	doc, err := pl.deps.Normalizer.NormalizeFile(ctx, filepath.Join(b.params.WorkDir, name))
	pl.metrics.stage(ctx, "normalize", start)
	if err != nil {
		span.RecordError(err)
		log.Warn(ctx, "document failed", zap.Error(err))
		b.fail(name, err)
	}
	if doc == nil {
		return
	}

	doc.Walk(func(d *normalize.Document) {
		for _, e := range d.Errors {
			b.errors = append(b.errors, fmt.Sprintf("%s: %s", d.Name, e))
		}
		if strings.TrimSpace(d.Text) == "" {
			return
		}
		pl.extract(logging.WithDocument(ctx, d.Name), b, d.Name, d.Text)
	})
}

// extract scores the clauses of one normalized text.
func (pl *Pipeline) extract(ctx context.Context, b *batch, source, text string) {
	start := time.Now()
	cleaned := textclean.Clean(text)
	clauses := pl.deps.Splitter.Split(cleaned)
	pl.metrics.stage(ctx, "split", start)

	start = time.Now()
	sc := scoring.Context{Profile: b.profile, Focus: b.params.Focus}
	for _, c := range clauses {
		if !pl.deps.Validator.IsValid(ctx, c.Text) {
			continue
		}
		s := pl.deps.Engine.Score(ctx, c.Text, sc)
		decision := pl.deps.Engine.Decide(s.Final, b.minScore)
		if decision == scoring.Drop {
			continue
		}

		cand := pl.candidate(source, c, s, b.profile)
		if pl.deps.Standards != nil && len(b.params.Standards) > 0 {
			refs, err := pl.deps.Standards.Match(ctx, cand.Text, b.params.Standards)
			if err != nil {
				pl.deps.Logger.Debug(ctx, "standard matching skipped", zap.Error(err))
			}
			cand.References = refs
		}

		if decision == scoring.Uncertain {
			cand.Uncertain = true
			b.uncertain = append(b.uncertain, cand)
		} else {
			b.included = append(b.included, cand)
		}
	}
	pl.metrics.stage(ctx, "score", start)
}

func (pl *Pipeline) candidate(source string, c clause.Clause, s scoring.Score, p *profile.Profile) Candidate {
	text := tidy(c.Text)
	cand := Candidate{
		ID:          uuid.NewSHA1(candidateNamespace, []byte(source+"\x00"+text)).String(),
		Source:      Source{Document: source, Page: c.Page},
		RawText:     c.Text,
		Text:        text,
		Summary:     clause.Summarize(text, summaryWords),
		Disciplines: pl.disciplines(s, p),
		Category:    string(clause.Categorize(text)),
		Keyword:     s.Keyword,
		Score:       round2(s.Final),
		Signals:     Signals{KW: s.KW, Sem: s.Sem, AI: s.AI},
		Ranked:      s.Classification.Ranked,
		Status:      StatusActive,
	}
	if !s.Classification.OK {
		cand.Note = s.Classification.Note
	}
	return cand
}

// disciplines decides the labels of a clause. An accepted classifier label
// comes first. The active profile's key is used when the keyword signal is
// strong and the key is a label the classifier knows, or there is no
// classifier. Anything else is Unspecified.
func (pl *Pipeline) disciplines(s scoring.Score, p *profile.Profile) []string {
	var out []string
	if s.Classification.OK && s.Classification.Label != "" && s.Classification.Label != classifier.Unspecified {
		out = append(out, s.Classification.Label)
	}
	if p != nil && p.Key != profile.Generic && s.KW >= pl.deps.Engine.Config().KWStrong && pl.knownLabel(p.Key) {
		if len(out) == 0 || out[0] != p.Key {
			out = append(out, p.Key)
		}
	}
	if len(out) == 0 {
		return []string{classifier.Unspecified}
	}
	return out
}

func (pl *Pipeline) knownLabel(label string) bool {
	c := pl.deps.Classifier
	if c == nil || !c.Available() {
		return true
	}
	for _, l := range c.Labels() {
		if l == label {
			return true
		}
	}
	return false
}

// finish deduplicates and sorts the accumulated candidates.
func (pl *Pipeline) finish(ctx context.Context, b *batch) *Result {
	start := time.Now()
	defer pl.metrics.stage(ctx, "dedup", start)

	opts := dedup.Options{Threshold: pl.dedup.Threshold, Scope: dedup.Scope(pl.dedup.Scope)}
	if b.params.Mode != "" {
		opts.Scope = dedup.Scope(b.params.Mode)
	}
	res := &Result{
		Candidates: deduplicate(b.included, opts),
		Uncertain:  deduplicate(b.uncertain, opts),
		Errors:     b.errors,
		Documents:  b.documents,
		Extracted:  len(b.included) + len(b.uncertain),
	}
	if res.Candidates == nil {
		res.Candidates = []Candidate{}
	}
	return res
}

func deduplicate(cands []Candidate, opts dedup.Options) []Candidate {
	if len(cands) == 0 {
		return nil
	}
	items := make([]dedup.Item, len(cands))
	for i, c := range cands {
		items[i] = dedup.Item{Text: c.Text, Score: c.Score, Source: c.Source.Document}
	}
	keep := dedup.Dedup(items, opts)
	out := make([]Candidate, 0, len(keep))
	for _, i := range keep {
		out = append(out, cands[i])
	}
	dedup.SortCandidates(out,
		func(c Candidate) string { return c.Keyword },
		func(c Candidate) float64 { return c.Score })
	return out
}

// tidy strips section numbering and collapses whitespace.
func tidy(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return numberingRE.ReplaceAllString(s, "")
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// Package scoring fuses keyword, semantic and classifier signals into one
// 0-100 requirement score.
//
// Every weight and threshold comes from config.ScoringConfig. The defaults
// are empirical and expected to be recalibrated against reviewed corpora.
package scoring

import (
	"context"
	"math"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/classifier"
	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/embeddings"
	"github.com/fyrsmithlabs/kravscan/internal/profile"
)

const instrumentationName = "github.com/fyrsmithlabs/kravscan/internal/scoring"

// Classifier is the discipline classifier as seen by the engine.
type Classifier interface {
	Classify(text string) classifier.Result
}

// Context carries per-scan inputs.
type Context struct {
	Profile *profile.Profile
	// Focus is the caller's free-text focus area; empty disables boosting.
	Focus string
}

// Score is the breakdown for one clause.
type Score struct {
	KW    float64 `json:"kw"`
	Sem   float64 `json:"sem"`
	AI    float64 `json:"ai"`
	Fused float64 `json:"fused"`
	// Boost is the focus bonus in points.
	Boost float64 `json:"boost"`
	// Final is clamp(100*Fused + Boost, 0, 100).
	Final     float64 `json:"final"`
	Combo     bool    `json:"combo"`
	Keyword   string  `json:"keyword,omitempty"`
	Units     bool    `json:"units"`
	FocusHits int     `json:"focus_hits"`
	AliasHits int     `json:"alias_hits"`

	Classification classifier.Result `json:"classification"`
}

// Decision is what happens to a scored clause.
type Decision int

const (
	// Drop discards the clause.
	Drop Decision = iota
	// Uncertain keeps the clause for review only.
	Uncertain
	// Include puts the clause in the result.
	Include
)

func (d Decision) String() string {
	switch d {
	case Include:
		return "include"
	case Uncertain:
		return "uncertain"
	default:
		return "drop"
	}
}

// Engine scores clauses. It is safe for concurrent use.
type Engine struct {
	cfg    config.ScoringConfig
	cls    Classifier
	emb    embeddings.Embedder
	logger *zap.Logger
	tracer trace.Tracer

	mu        sync.Mutex
	centroids map[string][]float32
}

// NewEngine returns an Engine. cls and emb may be nil; a nil embedder selects
// lexical similarity.
func NewEngine(cfg config.ScoringConfig, cls Classifier, emb embeddings.Embedder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		cls:       cls,
		emb:       emb,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		centroids: make(map[string][]float32),
	}
}

// Config returns the active weights.
func (e *Engine) Config() config.ScoringConfig { return e.cfg }

// Score computes all signals for text.
func (e *Engine) Score(ctx context.Context, text string, sc Context) Score {
	ctx, span := e.tracer.Start(ctx, "scoring.Score")
	defer span.End()

	p := sc.Profile
	if p == nil {
		p = &profile.Profile{Key: profile.Generic}
	}
	toks := tokens(text)

	var s Score
	kw := keywordSignal(text, toks, p)
	s.Keyword, s.Units = kw.keyword, kw.units
	units := 0.0
	if kw.units {
		units = 1
	}
	s.KW = math.Min(1, (float64(kw.core)+0.5*float64(kw.alias)+units)/e.cfg.KWSaturation)

	s.Sem = e.semantic(ctx, text, toks, p)

	if e.cls != nil {
		s.Classification = e.cls.Classify(text)
		if s.Classification.OK {
			s.AI = clamp(s.Classification.Score, 0, 1)
		}
	} else {
		s.Classification = classifier.Result{Label: classifier.Unspecified, Note: classifier.NoteUnavailable}
	}

	if s.KW >= e.cfg.KWStrong && s.Sem >= e.cfg.SemStrong {
		s.Combo = true
		s.Fused = e.cfg.WComboKW*s.KW + e.cfg.WComboSem*s.Sem
	} else {
		s.Fused = e.cfg.WKW*s.KW + e.cfg.WSem*s.Sem + e.cfg.WAI*s.AI
	}

	if sc.Focus != "" {
		exact, alias, share := focusSignal(sc.Focus, toks, sc.Profile)
		s.FocusHits, s.AliasHits = exact, alias
		if share >= e.cfg.FocusThreshold {
			s.Boost = e.cfg.FocusBoost*float64(exact) + e.cfg.AliasBoost*float64(alias)
		}
	}

	s.Final = clamp(100*s.Fused+s.Boost, 0, 100)
	span.SetAttributes(
		attribute.String("profile", p.Key),
		attribute.Float64("score.final", s.Final),
		attribute.Bool("score.combo", s.Combo),
	)
	return s
}

// Decide maps a final score to a decision. Below minScore a clause is kept as
// Uncertain only when minScore is above the uncertain floor and the score
// reaches that floor.
func (e *Engine) Decide(final, minScore float64) Decision {
	return Decide(final, minScore, e.cfg.UncertainFloor)
}

// Decide is Engine.Decide with an explicit floor.
func Decide(final, minScore, floor float64) Decision {
	switch {
	case final >= minScore:
		return Include
	case minScore > floor && final >= floor:
		return Uncertain
	default:
		return Drop
	}
}

func (e *Engine) semantic(ctx context.Context, text string, toks []string, p *profile.Profile) float64 {
	if e.emb == nil {
		return lexicalSimilarity(toks, p)
	}
	centroid, err := e.centroid(ctx, p)
	if err == nil && len(centroid) > 0 {
		var v []float32
		if v, err = e.emb.EmbedQuery(ctx, text); err == nil {
			return clamp(embeddings.Cosine(v, centroid), 0, 1)
		}
	}
	e.logger.Debug("embedding similarity unavailable, using lexical overlap",
		zap.String("profile", p.Key), zap.Error(err))
	return lexicalSimilarity(toks, p)
}

// centroid embeds the profile's terms once and caches the mean vector.
func (e *Engine) centroid(ctx context.Context, p *profile.Profile) ([]float32, error) {
	e.mu.Lock()
	c, ok := e.centroids[p.Key]
	e.mu.Unlock()
	if ok {
		return c, nil
	}

	terms := p.Terms()
	if len(terms) == 0 {
		return nil, nil
	}
	vs, err := e.emb.EmbedDocuments(ctx, terms)
	if err != nil {
		return nil, err
	}
	c = embeddings.Centroid(vs)

	e.mu.Lock()
	e.centroids[p.Key] = c
	e.mu.Unlock()
	return c, nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

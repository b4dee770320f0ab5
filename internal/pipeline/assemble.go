package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/classifier"
	"github.com/fyrsmithlabs/kravscan/internal/clause"
	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/embeddings"
	"github.com/fyrsmithlabs/kravscan/internal/logging"
	"github.com/fyrsmithlabs/kravscan/internal/model"
	"github.com/fyrsmithlabs/kravscan/internal/normalize"
	"github.com/fyrsmithlabs/kravscan/internal/profile"
	"github.com/fyrsmithlabs/kravscan/internal/scoring"
	"github.com/fyrsmithlabs/kravscan/internal/standards"
	"github.com/fyrsmithlabs/kravscan/internal/validator"
	"github.com/fyrsmithlabs/kravscan/internal/vectorstore"
)

// Assembly is a pipeline wired from configuration, together with the
// collaborators its owner keeps alive: model handles to watch and
// connections to close.
type Assembly struct {
	Pipeline   *Pipeline
	Classifier *classifier.Classifier
	// ValidatorModel is nil when the heuristic validator is in use.
	ValidatorModel *model.Handle
	Embedder       embeddings.Provider

	cfg      *config.Config
	logger   *logging.Logger
	profiles *profile.Store
	store    vectorstore.Store
	locker   standards.Locker
	closers  []func() error
}

// Assemble builds every pipeline component named by cfg. Models are loaded
// once; an artifact that is missing leaves its component unavailable rather
// than failing.
func Assemble(ctx context.Context, cfg *config.Config, logger *logging.Logger) (a *Assembly, err error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	asm := &Assembly{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = asm.Close()
		}
	}()
	a = asm

	zl := logger.Underlying()
	if a.profiles, err = profile.Load(cfg.Profiles.Path); err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}

	emb, err := embeddings.New(cfg.Embeddings, zl.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}
	if emb != nil {
		a.Embedder = emb
		a.closers = append(a.closers, emb.Close)
	}

	handle := model.NewHandle(cfg.Model.ClassifierPath, zl.Named("classifier"))
	if _, err := handle.Reload(); err != nil {
		logger.Warn(ctx, "classifier model unavailable", zap.String("path", handle.Path()), zap.Error(err))
	}
	a.Classifier = classifier.New(handle, classifier.Options{
		DefaultThreshold: cfg.Model.DefaultThreshold,
		TopK:             cfg.Model.TopK,
	}, zl.Named("classifier"))

	if cfg.Model.ValidatorPath != "" {
		a.ValidatorModel = model.NewHandle(cfg.Model.ValidatorPath, zl.Named("validator"))
		if _, err := a.ValidatorModel.Reload(); err != nil {
			logger.Warn(ctx, "validator model unavailable", zap.String("path", cfg.Model.ValidatorPath), zap.Error(err))
		}
	}

	if cfg.Standards.Dir != "" {
		if a.store, err = standards.OpenStore(cfg, zl.Named("vectorstore")); err != nil {
			return nil, fmt.Errorf("opening standards store: %w", err)
		}
		a.closers = append(a.closers, a.store.Close)

		locker, release, err := standards.OpenLocker(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("opening standards lock: %w", err)
		}
		a.locker = locker
		a.closers = append(a.closers, release)
	}

	if a.Pipeline, err = a.NewPipeline(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewPipeline builds a pipeline with its own per-run components around the
// shared models, embedder and standards store. Workers that are recycled
// take a fresh one.
func (a *Assembly) NewPipeline() (*Pipeline, error) {
	zl := a.logger.Underlying()
	emb := embedder(a.Embedder)
	norm := normalize.New(a.cfg.Normalizer, zl.Named("normalize"))

	deps := Deps{
		Normalizer: norm,
		Splitter:   clause.NewSplitter(clause.WithLeadTerms(a.profiles.LeadTerms())),
		Profiles:   a.profiles,
		Validator:  validator.New(a.ValidatorModel, zl.Named("validator")),
		Engine:     scoring.NewEngine(a.cfg.Scoring, a.Classifier, emb, zl.Named("scoring")),
		Classifier: a.Classifier,
		Logger:     a.logger,
	}
	if a.store != nil {
		deps.Standards = standards.New(a.cfg.Standards, standards.Options{
			Normalizer: norm,
			Embedder:   emb,
			Store:      a.store,
			Locker:     a.locker,
			Logger:     zl.Named("standards"),
		})
	}
	return New(a.cfg, deps)
}

// Reloaders returns the model hooks keyed by artifact kind.
func (a *Assembly) Reloaders() map[string]func() (bool, error) {
	hooks := map[string]func() (bool, error){
		"classifier": a.Classifier.Reload,
	}
	if a.ValidatorModel != nil {
		hooks["validator"] = a.ValidatorModel.Reload
	}
	return hooks
}

// Close releases connections opened by Assemble.
func (a *Assembly) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// embedder keeps a nil Provider a nil Embedder.
func embedder(p embeddings.Provider) embeddings.Embedder {
	if p == nil {
		return nil
	}
	return p
}

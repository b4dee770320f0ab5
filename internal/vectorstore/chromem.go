package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("kravscan.vectorstore.chromem")

const (
	metaStandard = "standard"
	metaPage     = "page"
)

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the
	// database in memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection holds every standard's chunks.
	Collection string
}

// ChromemStore implements Store using chromem-go. Records carry their
// vectors, so the collection's embedding function is never used.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

// NewChromemStore opens or creates the database and its collection.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = "krav_standards"
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
		}
		var err error
		if db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress); err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	logger.Info("ChromemStore initialized",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.String("collection", cfg.Collection),
	)
	return &ChromemStore{db: db, collection: collection, logger: logger}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store requires precomputed vectors")
}

// Upsert implements Store.
func (s *ChromemStore) Upsert(ctx context.Context, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("record_count", len(records)))

	if err := validateRecords(records); err != nil {
		return err
	}
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Embedding: r.Vector,
			Metadata: map[string]string{
				metaStandard: r.Standard,
				metaPage:     strconv.Itoa(r.Page),
			},
		}
	}
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}
	s.logger.Debug("upserted chunks into chromem", zap.Int("count", len(records)))
	return nil
}

// DeleteStandard implements Store.
func (s *ChromemStore) DeleteStandard(ctx context.Context, standard string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteStandard")
	defer span.End()
	span.SetAttributes(attribute.String(metaStandard, standard))

	if s.collection.Count() == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, map[string]string{metaStandard: standard}, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting standard %s: %w", standard, err)
	}
	return nil
}

// Search implements Store.
func (s *ChromemStore) Search(ctx context.Context, standard string, vector []float32, k int) ([]Result, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String(metaStandard, standard), attribute.Int("k", k))

	if len(vector) == 0 {
		return nil, ErrMissingVector
	}
	// chromem requires nResults <= collection size.
	if n := s.collection.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}
	res, err := s.collection.QueryEmbedding(ctx, vector, k, map[string]string{metaStandard: standard}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying standard %s: %w", standard, err)
	}
	out := make([]Result, len(res))
	for i, r := range res {
		page, _ := strconv.Atoi(r.Metadata[metaPage])
		out[i] = Result{
			Record: Record{ID: r.ID, Standard: r.Metadata[metaStandard], Page: page, Text: r.Content},
			Score:  float64(r.Similarity),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

// Close implements Store. chromem persists on write.
func (s *ChromemStore) Close() error { return nil }

var _ Store = (*ChromemStore)(nil)

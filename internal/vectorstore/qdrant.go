package vectorstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var qdrantTracer = otel.Tracer("kravscan.vectorstore.qdrant")

// pointNamespace derives deterministic point UUIDs from record IDs.
var pointNamespace = uuid.MustParse("8f2d6c1e-3b4a-4c7e-9d1f-5a6b7c8d9e0f")

const defaultMaxMessageSize = 50 * 1024 * 1024

// QdrantConfig holds the Qdrant gRPC connection.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	// MaxMessageSize bounds gRPC messages. Default: 50MB.
	MaxMessageSize int
}

// Validate checks the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return ValidateCollectionName(c.Collection)
}

// QdrantStore implements Store on a single Qdrant collection. The collection
// is created with cosine distance on the first upsert.
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
	logger *zap.Logger
	ready  atomic.Bool
}

// NewQdrantStore connects to Qdrant and checks its health.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = "krav_standards"
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, TLS disabled")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return &QdrantStore{client: client, cfg: cfg, logger: logger}, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, size int) error {
	if s.ready.Load() {
		return nil
	}
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.cfg.Collection, err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(size),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", s.cfg.Collection, err)
		}
		s.logger.Info("created qdrant collection",
			zap.String("collection", s.cfg.Collection), zap.Int("vector_size", size))
	}
	s.ready.Store(true)
	return nil
}

// PointID returns the Qdrant point UUID for a record ID.
func PointID(recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(recordID)).String()
}

// Upsert implements Store.
func (s *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("record_count", len(records)))

	if err := validateRecords(records); err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, len(records[0].Vector)); err != nil {
		span.RecordError(err)
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.ID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"id":         r.ID,
				metaStandard: r.Standard,
				metaPage:     int64(r.Page),
				"text":       r.Text,
			}),
		}
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

// DeleteStandard implements Store.
func (s *QdrantStore) DeleteStandard(ctx context.Context, standard string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteStandard")
	defer span.End()

	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil || !exists {
		return err
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword(metaStandard, standard)},
		}),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting standard %s: %w", standard, err)
	}
	return nil
}

// Search implements Store.
func (s *QdrantStore) Search(ctx context.Context, standard string, vector []float32, k int) ([]Result, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String(metaStandard, standard), attribute.Int("k", k))

	if len(vector) == 0 {
		return nil, ErrMissingVector
	}
	if k <= 0 {
		return nil, nil
	}
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword(metaStandard, standard)},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.cfg.Collection, err)
	}

	out := make([]Result, 0, len(points))
	for _, p := range points {
		pl := p.GetPayload()
		out = append(out, Result{
			Record: Record{
				ID:       pl["id"].GetStringValue(),
				Standard: pl[metaStandard].GetStringValue(),
				Page:     int(pl[metaPage].GetIntegerValue()),
				Text:     pl["text"].GetStringValue(),
			},
			Score: float64(p.GetScore()),
		})
	}
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

var _ Store = (*QdrantStore)(nil)

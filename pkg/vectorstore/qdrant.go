package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/fx"

	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

var Module = fx.Module("vectorstore",
	fx.Provide(
		NewQdrantStore,
		fx.Annotate(
			func(s *QdrantStore) Store { return s },
			fx.As(new(Store)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, s *QdrantStore) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return s.EnsureCollection(ctx)
			},
		})
	}),
)

// QdrantStore implements Store against a qdrant gRPC endpoint.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	log        *slog.Logger
}

// NewQdrantStore connects to the qdrant endpoint from config.
func NewQdrantStore(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(cfg.Qdrant.URL)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url %q: %w", cfg.Qdrant.URL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant port %q: %w", portStr, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return &QdrantStore{
		client:     client,
		collection: cfg.Qdrant.Collection,
		dimension:  cfg.Qdrant.Dimension,
		log:        log.With(logger.Scope("vectorstore")),
	}, nil
}

// EnsureCollection creates the collection if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	s.log.Info("vector collection created",
		slog.String("collection", s.collection),
		slog.Int("dimension", s.dimension),
	)
	return nil
}

// UpsertBatch writes points by id.
func (s *QdrantStore) UpsertBatch(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qpoints,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return apperror.ErrVectorUpsert.WithInternal(err)
	}
	return nil
}

// Search returns the closest points, optionally filtered by payload fields.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]Result, error) {
	var conditions []*qdrant.Condition
	if filter.ProjectID != "" {
		conditions = append(conditions, qdrant.NewMatch("project_id", filter.ProjectID))
	}
	if filter.SourceGroup != "" {
		conditions = append(conditions, qdrant.NewMatch("source_group", filter.SourceGroup))
	}
	if filter.ExtractionType != "" {
		conditions = append(conditions, qdrant.NewMatch("extraction_type", filter.ExtractionType))
	}

	query := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(conditions) > 0 {
		query.Filter = &qdrant.Filter{Must: conditions}
	}

	hits, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		payload := make(map[string]any, len(hit.Payload))
		for k, v := range hit.Payload {
			payload[k] = valueToAny(v)
		}
		results[i] = Result{
			ID:      hit.Id.GetUuid(),
			Score:   hit.Score,
			Payload: payload,
		}
	}
	return results, nil
}

// DeleteBatch removes points by id.
func (s *QdrantStore) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("vector delete: %w", err)
	}
	return nil
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return v.String()
	}
}

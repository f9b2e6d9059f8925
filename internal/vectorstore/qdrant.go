package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/iammorganparry/cmem/internal/models"
)

// pointsClient is the subset of *qdrant.Client used here.
type pointsClient interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
}

// Config addresses a Qdrant instance over gRPC.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// QdrantStore keeps one collection holding every record kind. Payload
// fields kind, entity_id and project let queries partition and filter.
type QdrantStore struct {
	client      pointsClient
	closer      func() error
	collections *CollectionManager
	logger      *slog.Logger
}

// NewQdrantStore dials Qdrant. The collection is created lazily on the
// first upsert, when the vector size is known.
func NewQdrantStore(cfg Config, logger *slog.Logger) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	s := newQdrantStore(client, cfg.Collection, logger)
	s.closer = client.Close
	return s, nil
}

func newQdrantStore(client pointsClient, collection string, logger *slog.Logger) *QdrantStore {
	if collection == "" {
		collection = "cmem_memory"
	}
	return &QdrantStore{
		client:      client,
		collections: NewCollectionManager(client, collection),
		logger:      logger,
	}
}

func (s *QdrantStore) Enabled() bool { return true }

func (s *QdrantStore) Upsert(ctx context.Context, kind models.EntityKind, id int64, project string, vector []float32, text string) error {
	if len(vector) == 0 {
		return nil
	}
	name, err := s.collections.Ensure(ctx, len(vector))
	if err != nil {
		return err
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      PointID(kind, id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"kind":      string(kind),
				"entity_id": id,
				"project":   project,
				"text":      text,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %s %d: %w", kind, id, err)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, project string, limit int) (map[models.EntityKind][]int64, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	exists, err := s.collections.Exists(ctx)
	if err != nil || !exists {
		return nil, err
	}

	req := &qdrant.QueryPoints{
		CollectionName: s.collections.name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if project != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("project", project)},
		}
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	return partition(points), nil
}

func (s *QdrantStore) Delete(ctx context.Context, kind models.EntityKind, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	exists, err := s.collections.Exists(ctx)
	if err != nil || !exists {
		return err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = PointID(kind, id)
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collections.name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete %d %s points: %w", len(ids), kind, err)
	}
	return nil
}

// HealthCheck verifies Qdrant connectivity.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// PointID derives a stable UUID for a record so re-indexing overwrites the
// same point.
func PointID(kind models.EntityKind, id int64) *qdrant.PointId {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(kind)+":"+strconv.FormatInt(id, 10)))
	return qdrant.NewIDUUID(u.String())
}

// partition groups scored points by kind, keeping score order and
// dropping points without a usable payload.
func partition(points []*qdrant.ScoredPoint) map[models.EntityKind][]int64 {
	out := make(map[models.EntityKind][]int64)
	for _, p := range points {
		payload := p.GetPayload()
		kind := models.EntityKind(payload["kind"].GetStringValue())
		id := payload["entity_id"].GetIntegerValue()
		if kind == "" || id == 0 {
			continue
		}
		out[kind] = append(out[kind], id)
	}
	return out
}

package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"gnosis/backend/pkg/errors"
	"gnosis/backend/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Config configures the Qdrant-backed semantic index.
type Config struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334 by default, not the HTTP 6333).
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey is the optional API key. Empty for local development.
	APIKey string

	// Collection is the collection holding all semantic memories.
	Collection string

	// Dimension is the embedding vector dimension. Must match the
	// embedding provider; a mismatch is a configuration error.
	Dimension int

	// RequestTimeout bounds individual requests.
	RequestTimeout time.Duration

	// RetryAttempts is the number of retries for transient failures.
	RetryAttempts int
}

// ApplyDefaults sets default values for unset fields
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "semantic_memories"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("invalid dimension: %d (must be > 0)", c.Dimension)
	}
	return nil
}

// Store is the Qdrant-backed semantic memory index
type Store struct {
	client *qdrant.Client
	config *Config
	logger *zap.Logger
}

// NewStore connects to Qdrant and verifies the connection
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	qdrantConfig := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
	}
	if !config.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	store := &Store{
		client: client,
		config: config,
		logger: logger.Named("vector"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.RequestTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}

	store.logger.Info("Qdrant connection established",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
	)
	return store, nil
}

// Close closes the client connection
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Ping verifies connectivity to Qdrant
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection if it does not exist, and checks
// the configured dimension against an existing one. A dimension mismatch
// is a startup configuration error, not a per-request condition.
func (s *Store) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err != nil {
		st, ok := status.FromError(err)
		if !ok || st.Code() != codes.NotFound {
			return errors.NewVectorStoreFailed("get collection info", err)
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return errors.NewVectorStoreFailed("create collection", err)
		}
		s.logger.Info("Collection created",
			zap.String("collection", s.config.Collection),
			zap.Int("dimension", s.config.Dimension),
		)
		return nil
	}

	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		if existing := int(params.GetSize()); existing != s.config.Dimension {
			return errors.NewEmbeddingDimensionMismatch(existing, s.config.Dimension)
		}
	}
	return nil
}

// AddSemanticMemory upserts the vector point for one (entity, fact, verb)
// triple. Repeated calls for the same triple overwrite the same point.
func (s *Store) AddSemanticMemory(ctx context.Context, tenant, entityID, factID, verb string, embedding []float32) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID(tenant, entityID, factID, verb)),
		Vectors: qdrant.NewVectors(embedding...),
		Payload: map[string]*qdrant.Value{
			"tenant":    stringValue(tenant),
			"entity_id": stringValue(entityID),
			"fact_id":   stringValue(factID),
			"verb":      stringValue(verb),
		},
	}

	err := s.retryOperation(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         []*qdrant.PointStruct{point},
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return errors.NewVectorStoreFailed("add semantic memory", err)
	}

	s.logger.Debug("Semantic memory upserted",
		zap.String("tenant", tenant),
		zap.String("entity_id", entityID),
		zap.String("fact_id", factID),
		zap.String("verb", verb),
	)
	return nil
}

// SearchSemanticMemory searches the entity's scoped vectors and returns
// hits descending by score. minScore, when non-nil, excludes results below
// it; topK bounds the result count.
func (s *Store) SearchSemanticMemory(ctx context.Context, tenant, entityID string, queryEmbedding []float32, topK int, minScore *float32) ([]SemanticHit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	if topK < 1 {
		topK = 10
	}

	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(queryEmbedding...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			Filter:         entityFilter(tenant, entityID),
			WithPayload:    qdrant.NewWithPayload(true),
			ScoreThreshold: minScore,
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, errors.NewVectorStoreFailed("search semantic memory", err)
	}

	hits := make([]SemanticHit, 0, len(results))
	for _, point := range results {
		factID := payloadString(point.Payload, "fact_id")
		verb := payloadString(point.Payload, "verb")
		hits = append(hits, SemanticHit{
			FactID:          factID,
			Verb:            verb,
			RelationshipKey: relationshipKey(tenant, entityID, factID, verb),
			Score:           point.Score,
		})
	}
	return hits, nil
}

// DeleteSemanticMemory removes exactly the point for one composite key.
// A miss is not an error.
func (s *Store) DeleteSemanticMemory(ctx context.Context, tenant, entityID, factID, verb string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	err := s.retryOperation(ctx, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{
						Ids: []*qdrant.PointId{qdrant.NewIDUUID(pointID(tenant, entityID, factID, verb))},
					},
				},
			},
			Wait: qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return errors.NewVectorStoreFailed("delete semantic memory", err)
	}
	return nil
}

// DeleteAllSemanticMemoriesForEntity bulk-removes every point scoped to
// the entity and returns how many were removed (possibly 0)
func (s *Store) DeleteAllSemanticMemoriesForEntity(ctx context.Context, tenant, entityID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	filter := entityFilter(tenant, entityID)

	var count uint64
	err := s.retryOperation(ctx, func() error {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Filter:         filter,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, errors.NewVectorStoreFailed("count semantic memories", err)
	}

	err = s.retryOperation(ctx, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
			Wait: qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, errors.NewVectorStoreFailed("delete semantic memories for entity", err)
	}

	s.logger.Info("Semantic memories removed for entity",
		zap.String("tenant", tenant),
		zap.String("entity_id", entityID),
		zap.Uint64("count", count),
	)
	return int(count), nil
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC failures
func (s *Store) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransientError(err) {
			return err
		}
		if attempt == s.config.RetryAttempts {
			break
		}

		s.logger.Debug("Retrying operation after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.config.RetryAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", s.config.RetryAttempts, lastErr)
}

// isTransientError checks if an error is transient and should be retried
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// entityFilter scopes an operation to one tenant's entity
func entityFilter(tenant, entityID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			matchKeyword("tenant", tenant),
			matchKeyword("entity_id", entityID),
		},
	}
}

func matchKeyword(field, keyword string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: field,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: keyword},
				},
			},
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

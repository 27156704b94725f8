// Package knowledge composes the graph repository, the vector index, and
// the embedding provider into the product operations. The graph store is
// written first and is authoritative; vector writes that fail after a
// committed graph write are logged as degraded-index conditions and do not
// fail the operation.
package knowledge

import (
	"context"
	"fmt"
	"time"

	"gnosis/backend/internal/domain"
	"gnosis/backend/internal/graph"
	"gnosis/backend/internal/vector"
	"gnosis/backend/pkg/errors"
	"gnosis/backend/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GraphRepository is the persistence contract for the entity graph, one
// isolated graph per tenant. Read lookups return nil (no error) on absence.
type GraphRepository interface {
	EnsureSchema(ctx context.Context, tenant string) error
	CreateEntity(ctx context.Context, tenant string, entity *domain.Entity, identifier *domain.Identifier, relationship *domain.HasIdentifier) (*graph.CreateEntityResult, error)
	FindEntityByIdentifier(ctx context.Context, tenant, value string, identifierType domain.IdentifierType) (*graph.EntityRecord, error)
	FindEntityByID(ctx context.Context, tenant, entityID string) (*graph.EntityRecord, error)
	DeleteEntityByID(ctx context.Context, tenant, entityID string) (bool, error)
	AddIdentifierToEntity(ctx context.Context, tenant, entityID string, identifier *domain.Identifier, relationship *domain.HasIdentifier) (*graph.IdentifierLink, error)
	UpdateEntityMetadata(ctx context.Context, tenant, entityID string, metadata map[string]string) (bool, error)
	AddFactToEntity(ctx context.Context, tenant, entityID string, fact *domain.Fact, source *domain.Source, relationship *domain.HasFact) (*graph.AddFactResult, error)
	FindFactByID(ctx context.Context, tenant, factID string) (*graph.FactRecord, error)
	RemoveFactFromEntity(ctx context.Context, tenant, entityID, factID string) ([]string, error)
}

// VectorRepository is the contract for the per-fact semantic index,
// secondary to the graph repository
type VectorRepository interface {
	AddSemanticMemory(ctx context.Context, tenant, entityID, factID, verb string, embedding []float32) error
	SearchSemanticMemory(ctx context.Context, tenant, entityID string, queryEmbedding []float32, topK int, minScore *float32) ([]vector.SemanticHit, error)
	DeleteSemanticMemory(ctx context.Context, tenant, entityID, factID, verb string) error
	DeleteAllSemanticMemoriesForEntity(ctx context.Context, tenant, entityID string) (int, error)
}

// Embedder produces fixed-dimension embedding vectors
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Service implements the knowledge use cases
type Service struct {
	graph    GraphRepository
	vectors  VectorRepository
	embedder Embedder
	logger   *zap.Logger
}

// NewService creates the knowledge service
func NewService(graphRepo GraphRepository, vectorRepo VectorRepository, embedder Embedder) *Service {
	return &Service{
		graph:    graphRepo,
		vectors:  vectorRepo,
		embedder: embedder,
		logger:   logger.Named("knowledge"),
	}
}

// CreateEntityRequest carries the input for entity creation
type CreateEntityRequest struct {
	IdentifierValue string            `json:"identifier_value"`
	IdentifierType  string            `json:"identifier_type"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// AddFactRequest carries the input for attaching a fact with provenance
type AddFactRequest struct {
	FactName        string    `json:"fact_name"`
	FactType        string    `json:"fact_type"`
	Verb            string    `json:"verb"`
	Confidence      *float64  `json:"confidence,omitempty"`
	SourceContent   string    `json:"source_content"`
	SourceTimestamp time.Time `json:"source_timestamp,omitempty"`
}

// SearchRequest carries the input for semantic search within an entity
type SearchRequest struct {
	Query    string   `json:"query"`
	TopK     int      `json:"top_k,omitempty"`
	MinScore *float32 `json:"min_score,omitempty"`
}

// SearchResult is one semantic hit resolved against the graph for
// canonical fact content
type SearchResult struct {
	Fact            domain.Fact    `json:"fact"`
	Source          *domain.Source `json:"source,omitempty"`
	Verb            string         `json:"verb"`
	Score           float32        `json:"score"`
	RelationshipKey string         `json:"relationship_key"`
}

// ProvisionTenant prepares a tenant's graph namespace (constraints)
func (s *Service) ProvisionTenant(ctx context.Context, tenant string) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	return s.graph.EnsureSchema(ctx, tenant)
}

// CreateEntity validates the identifier and creates the entity with its
// primary identifier. A duplicate identifier surfaces as a conflict error,
// which callers should treat as "entity already exists".
func (s *Service) CreateEntity(ctx context.Context, tenant string, req CreateEntityRequest) (*graph.CreateEntityResult, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	identifier, err := domain.NewIdentifier(req.IdentifierValue, domain.IdentifierType(req.IdentifierType))
	if err != nil {
		return nil, err
	}
	entity := domain.NewEntity(req.Metadata)
	relationship := domain.NewHasIdentifier(true)

	return s.graph.CreateEntity(ctx, tenant, entity, identifier, relationship)
}

// GetEntityByID returns the composed entity record, or nil when absent
func (s *Service) GetEntityByID(ctx context.Context, tenant, entityID string) (*graph.EntityRecord, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	return s.graph.FindEntityByID(ctx, tenant, entityID)
}

// GetEntityByIdentifier returns the composed entity record for an external
// handle, or nil when absent
func (s *Service) GetEntityByIdentifier(ctx context.Context, tenant, value, identifierType string) (*graph.EntityRecord, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	identifier, err := domain.NewIdentifier(value, domain.IdentifierType(identifierType))
	if err != nil {
		return nil, err
	}
	return s.graph.FindEntityByIdentifier(ctx, tenant, identifier.Value, identifier.Type)
}

// AddIdentifier attaches an additional, non-primary identifier to an
// existing entity. Returns nil when the entity does not exist.
func (s *Service) AddIdentifier(ctx context.Context, tenant, entityID, value, identifierType string) (*graph.IdentifierLink, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	identifier, err := domain.NewIdentifier(value, domain.IdentifierType(identifierType))
	if err != nil {
		return nil, err
	}
	relationship := domain.NewHasIdentifier(false)
	return s.graph.AddIdentifierToEntity(ctx, tenant, entityID, identifier, relationship)
}

// UpdateMetadata replaces the entity's metadata, the one mutable entity
// field. Returns whether the entity was found.
func (s *Service) UpdateMetadata(ctx context.Context, tenant, entityID string, metadata map[string]string) (bool, error) {
	if err := requireTenant(tenant); err != nil {
		return false, err
	}
	return s.graph.UpdateEntityMetadata(ctx, tenant, entityID, metadata)
}

// DeleteEntity removes the entity and cascades to its identifiers and
// edges in the graph, then clears the entity's vector points. A vector
// failure after the graph delete committed is a degraded-index condition,
// not a failure of the delete.
func (s *Service) DeleteEntity(ctx context.Context, tenant, entityID string) (bool, error) {
	if err := requireTenant(tenant); err != nil {
		return false, err
	}
	deleted, err := s.graph.DeleteEntityByID(ctx, tenant, entityID)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	if _, err := s.vectors.DeleteAllSemanticMemoriesForEntity(ctx, tenant, entityID); err != nil {
		s.degradedIndex("delete all semantic memories", tenant, entityID, "", "", err)
	}
	return true, nil
}

// AddFact attaches a fact with provenance to an entity: the graph write
// (fact + source + HAS_FACT + DERIVED_FROM, one atomic unit) happens
// first; only then is the fact embedded and indexed. Returns nil when the
// entity does not exist.
func (s *Service) AddFact(ctx context.Context, tenant, entityID string, req AddFactRequest) (*graph.AddFactResult, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}

	fact, err := domain.NewFact(req.FactName, req.FactType)
	if err != nil {
		return nil, err
	}
	source, err := domain.NewSource(req.SourceContent, req.SourceTimestamp)
	if err != nil {
		return nil, err
	}
	confidence := domain.DefaultConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	relationship, err := domain.NewHasFact(req.Verb, confidence)
	if err != nil {
		return nil, err
	}

	result, err := s.graph.AddFactToEntity(ctx, tenant, entityID, fact, source, relationship)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	// Graph is committed; the vector write is best effort from here on
	embedding, err := s.embedder.EmbedText(ctx, factText(relationship.Verb, fact))
	if err != nil {
		s.degradedIndex("embed fact", tenant, entityID, fact.FactID, relationship.Verb, err)
		return result, nil
	}
	if err := s.vectors.AddSemanticMemory(ctx, tenant, entityID, fact.FactID, relationship.Verb, embedding); err != nil {
		s.degradedIndex("add semantic memory", tenant, entityID, fact.FactID, relationship.Verb, err)
	}
	return result, nil
}

// RemoveFact detaches a fact from an entity (the fact and its sources
// stay), then removes the matching vector points. Returns whether a
// relationship was found and removed.
func (s *Service) RemoveFact(ctx context.Context, tenant, entityID, factID string) (bool, error) {
	if err := requireTenant(tenant); err != nil {
		return false, err
	}
	verbs, err := s.graph.RemoveFactFromEntity(ctx, tenant, entityID, factID)
	if err != nil {
		return false, err
	}
	if len(verbs) == 0 {
		return false, nil
	}

	for _, verb := range verbs {
		if err := s.vectors.DeleteSemanticMemory(ctx, tenant, entityID, factID, verb); err != nil {
			s.degradedIndex("delete semantic memory", tenant, entityID, factID, verb, err)
		}
	}
	return true, nil
}

// SearchFacts embeds the query, searches the entity's scoped vectors, and
// resolves every hit against the graph for canonical fact content. The
// vector store is treated purely as an index: hits whose fact no longer
// exists in the graph are dropped.
func (s *Service) SearchFacts(ctx context.Context, tenant, entityID string, req SearchRequest) ([]SearchResult, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, errors.NewValidation("query", "must not be empty")
	}

	queryEmbedding, err := s.embedder.EmbedText(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	hits, err := s.vectors.SearchSemanticMemory(ctx, tenant, entityID, queryEmbedding, req.TopK, req.MinScore)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	// Resolve hits concurrently; order is re-established by index
	resolved := make([]*graph.FactRecord, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	for i, hit := range hits {
		g.Go(func() error {
			record, err := s.graph.FindFactByID(gctx, tenant, hit.FactID)
			if err != nil {
				return err
			}
			resolved[i] = record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for i, hit := range hits {
		record := resolved[i]
		if record == nil {
			// Stale index entry; the graph is the data of record
			continue
		}
		results = append(results, SearchResult{
			Fact:            record.Fact,
			Source:          record.Source,
			Verb:            hit.Verb,
			Score:           hit.Score,
			RelationshipKey: hit.RelationshipKey,
		})
	}
	return results, nil
}

// degradedIndex records a vector-side failure that followed a committed
// graph write. The operation still succeeds; the index is reconciled
// out-of-band or self-corrects on read.
func (s *Service) degradedIndex(operation, tenant, entityID, factID, verb string, err error) {
	s.logger.Warn("Degraded index write",
		zap.String("operation", operation),
		zap.String("tenant", tenant),
		zap.String("entity_id", entityID),
		zap.String("fact_id", factID),
		zap.String("verb", verb),
		zap.Error(errors.NewVectorStoreFailed(operation, err)),
	)
}

// factText is the textual representation of a fact that gets embedded.
// Must stay stable within a deployment so query and fact vectors live in
// the same space.
func factText(verb string, fact *domain.Fact) string {
	return fmt.Sprintf("%s %s (%s)", verb, fact.Name, fact.Type)
}

func requireTenant(tenant string) error {
	if tenant == "" {
		return errors.NewValidation("tenant", "must not be empty")
	}
	return nil
}

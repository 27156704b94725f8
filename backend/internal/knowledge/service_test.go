package knowledge

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gnosis/backend/internal/domain"
	"gnosis/backend/internal/graph"
	"gnosis/backend/internal/vector"
	"gnosis/backend/pkg/errors"
)

// Mock implementations for testing

type mockGraphRepo struct {
	calls []string

	createResult  *graph.CreateEntityResult
	createErr     error
	lastEntity    *domain.Entity
	lastIdent     *domain.Identifier
	lastIdentRel  *domain.HasIdentifier

	addFactResult *graph.AddFactResult
	addFactErr    error
	lastFact      *domain.Fact
	lastSource    *domain.Source
	lastHasFact   *domain.HasFact

	removeVerbs []string
	removeErr   error

	deleteFound bool
	deleteErr   error

	factRecords map[string]*graph.FactRecord

	entityRecord *graph.EntityRecord
}

func (m *mockGraphRepo) EnsureSchema(ctx context.Context, tenant string) error {
	m.calls = append(m.calls, "graph.EnsureSchema")
	return nil
}

func (m *mockGraphRepo) CreateEntity(ctx context.Context, tenant string, entity *domain.Entity, identifier *domain.Identifier, relationship *domain.HasIdentifier) (*graph.CreateEntityResult, error) {
	m.calls = append(m.calls, "graph.CreateEntity")
	m.lastEntity = entity
	m.lastIdent = identifier
	m.lastIdentRel = relationship
	if m.createErr != nil {
		return nil, m.createErr
	}
	if m.createResult != nil {
		return m.createResult, nil
	}
	return &graph.CreateEntityResult{Entity: *entity, Identifier: *identifier, Relationship: *relationship}, nil
}

func (m *mockGraphRepo) FindEntityByIdentifier(ctx context.Context, tenant, value string, identifierType domain.IdentifierType) (*graph.EntityRecord, error) {
	m.calls = append(m.calls, "graph.FindEntityByIdentifier")
	return m.entityRecord, nil
}

func (m *mockGraphRepo) FindEntityByID(ctx context.Context, tenant, entityID string) (*graph.EntityRecord, error) {
	m.calls = append(m.calls, "graph.FindEntityByID")
	return m.entityRecord, nil
}

func (m *mockGraphRepo) DeleteEntityByID(ctx context.Context, tenant, entityID string) (bool, error) {
	m.calls = append(m.calls, "graph.DeleteEntityByID")
	return m.deleteFound, m.deleteErr
}

func (m *mockGraphRepo) AddIdentifierToEntity(ctx context.Context, tenant, entityID string, identifier *domain.Identifier, relationship *domain.HasIdentifier) (*graph.IdentifierLink, error) {
	m.calls = append(m.calls, "graph.AddIdentifierToEntity")
	return &graph.IdentifierLink{Identifier: *identifier, Relationship: *relationship}, nil
}

func (m *mockGraphRepo) UpdateEntityMetadata(ctx context.Context, tenant, entityID string, metadata map[string]string) (bool, error) {
	m.calls = append(m.calls, "graph.UpdateEntityMetadata")
	return true, nil
}

func (m *mockGraphRepo) AddFactToEntity(ctx context.Context, tenant, entityID string, fact *domain.Fact, source *domain.Source, relationship *domain.HasFact) (*graph.AddFactResult, error) {
	m.calls = append(m.calls, "graph.AddFactToEntity")
	m.lastFact = fact
	m.lastSource = source
	m.lastHasFact = relationship
	if m.addFactErr != nil {
		return nil, m.addFactErr
	}
	return m.addFactResult, nil
}

func (m *mockGraphRepo) FindFactByID(ctx context.Context, tenant, factID string) (*graph.FactRecord, error) {
	m.calls = append(m.calls, "graph.FindFactByID")
	return m.factRecords[factID], nil
}

func (m *mockGraphRepo) RemoveFactFromEntity(ctx context.Context, tenant, entityID, factID string) ([]string, error) {
	m.calls = append(m.calls, "graph.RemoveFactFromEntity")
	return m.removeVerbs, m.removeErr
}

type vectorCall struct {
	op     string
	factID string
	verb   string
}

type mockVectorRepo struct {
	calls []vectorCall

	addErr    error
	deleteErr error

	searchHits []vector.SemanticHit
	searchErr  error
}

func (m *mockVectorRepo) AddSemanticMemory(ctx context.Context, tenant, entityID, factID, verb string, embedding []float32) error {
	m.calls = append(m.calls, vectorCall{op: "add", factID: factID, verb: verb})
	return m.addErr
}

func (m *mockVectorRepo) SearchSemanticMemory(ctx context.Context, tenant, entityID string, queryEmbedding []float32, topK int, minScore *float32) ([]vector.SemanticHit, error) {
	m.calls = append(m.calls, vectorCall{op: "search"})
	return m.searchHits, m.searchErr
}

func (m *mockVectorRepo) DeleteSemanticMemory(ctx context.Context, tenant, entityID, factID, verb string) error {
	m.calls = append(m.calls, vectorCall{op: "delete", factID: factID, verb: verb})
	return m.deleteErr
}

func (m *mockVectorRepo) DeleteAllSemanticMemoriesForEntity(ctx context.Context, tenant, entityID string) (int, error) {
	m.calls = append(m.calls, vectorCall{op: "delete_all"})
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	return 2, nil
}

type mockEmbedder struct {
	vector []float32
	err    error
	texts  []string
}

func (m *mockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.texts = append(m.texts, text)
	if m.err != nil {
		return nil, m.err
	}
	if m.vector != nil {
		return m.vector, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func newTestService() (*Service, *mockGraphRepo, *mockVectorRepo, *mockEmbedder) {
	graphRepo := &mockGraphRepo{factRecords: map[string]*graph.FactRecord{}}
	vectorRepo := &mockVectorRepo{}
	embedder := &mockEmbedder{}
	return NewService(graphRepo, vectorRepo, embedder), graphRepo, vectorRepo, embedder
}

func addFactResult(factID string) *graph.AddFactResult {
	return &graph.AddFactResult{
		Fact: domain.Fact{FactID: factID, Name: "Paris", Type: "Location"},
	}
}

// Tests

func TestCreateEntity(t *testing.T) {
	svc, graphRepo, _, _ := newTestService()

	result, err := svc.CreateEntity(context.Background(), "acme", CreateEntityRequest{
		IdentifierValue: "  alice@example.com ",
		IdentifierType:  "email",
		Metadata:        map[string]string{"plan": "pro"},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "alice@example.com", graphRepo.lastIdent.Value)
	assert.Equal(t, domain.IdentifierTypeEmail, graphRepo.lastIdent.Type)
	assert.True(t, graphRepo.lastIdentRel.IsPrimary)
	assert.NotEmpty(t, graphRepo.lastEntity.ID)
}

func TestCreateEntity_InvalidIdentifierType(t *testing.T) {
	svc, graphRepo, _, _ := newTestService()

	_, err := svc.CreateEntity(context.Background(), "acme", CreateEntityRequest{
		IdentifierValue: "alice@example.com",
		IdentifierType:  "passport",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Empty(t, graphRepo.calls, "validation failures must not reach storage")
}

func TestCreateEntity_ConflictPropagates(t *testing.T) {
	svc, graphRepo, _, _ := newTestService()
	graphRepo.createErr = errors.NewIdentifierConflict("alice@example.com", "email")

	_, err := svc.CreateEntity(context.Background(), "acme", CreateEntityRequest{
		IdentifierValue: "alice@example.com",
		IdentifierType:  "email",
	})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestAddFact_GraphBeforeVector(t *testing.T) {
	svc, graphRepo, vectorRepo, embedder := newTestService()
	graphRepo.addFactResult = addFactResult("Location:Paris")

	result, err := svc.AddFact(context.Background(), "acme", "entity-1", AddFactRequest{
		FactName:      "Paris",
		FactType:      "Location",
		Verb:          "Lives_In",
		SourceContent: "chat log",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	// Graph write first, vector write second
	require.Equal(t, []string{"graph.AddFactToEntity"}, graphRepo.calls)
	require.Len(t, vectorRepo.calls, 1)
	assert.Equal(t, vectorCall{op: "add", factID: "Location:Paris", verb: "lives_in"}, vectorRepo.calls[0])

	// The embedded text carries the verb and the fact
	require.Len(t, embedder.texts, 1)
	assert.Contains(t, embedder.texts[0], "lives_in")
	assert.Contains(t, embedder.texts[0], "Paris")
}

func TestAddFact_DefaultConfidence(t *testing.T) {
	svc, graphRepo, _, _ := newTestService()
	graphRepo.addFactResult = addFactResult("Location:Paris")

	_, err := svc.AddFact(context.Background(), "acme", "entity-1", AddFactRequest{
		FactName:      "Paris",
		FactType:      "Location",
		Verb:          "lives_in",
		SourceContent: "chat log",
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, graphRepo.lastHasFact.ConfidenceScore)
}

func TestAddFact_ConfidenceOutOfRange(t *testing.T) {
	svc, graphRepo, _, _ := newTestService()

	confidence := 1.5
	_, err := svc.AddFact(context.Background(), "acme", "entity-1", AddFactRequest{
		FactName:      "Paris",
		FactType:      "Location",
		Verb:          "lives_in",
		Confidence:    &confidence,
		SourceContent: "chat log",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Empty(t, graphRepo.calls)
}

func TestAddFact_VectorFailureIsDegraded(t *testing.T) {
	svc, graphRepo, vectorRepo, _ := newTestService()
	graphRepo.addFactResult = addFactResult("Location:Paris")
	vectorRepo.addErr = fmt.Errorf("qdrant unavailable")

	result, err := svc.AddFact(context.Background(), "acme", "entity-1", AddFactRequest{
		FactName:      "Paris",
		FactType:      "Location",
		Verb:          "lives_in",
		SourceContent: "chat log",
	})
	require.NoError(t, err, "graph is authoritative; vector failure must not fail the add")
	require.NotNil(t, result)
}

func TestAddFact_EmbedFailureIsDegraded(t *testing.T) {
	svc, graphRepo, vectorRepo, embedder := newTestService()
	graphRepo.addFactResult = addFactResult("Location:Paris")
	embedder.err = fmt.Errorf("embedding service down")

	result, err := svc.AddFact(context.Background(), "acme", "entity-1", AddFactRequest{
		FactName:      "Paris",
		FactType:      "Location",
		Verb:          "lives_in",
		SourceContent: "chat log",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, vectorRepo.calls, "no vector write without an embedding")
}

func TestAddFact_EntityMissing(t *testing.T) {
	svc, graphRepo, vectorRepo, _ := newTestService()
	graphRepo.addFactResult = nil

	result, err := svc.AddFact(context.Background(), "acme", "missing", AddFactRequest{
		FactName:      "Paris",
		FactType:      "Location",
		Verb:          "lives_in",
		SourceContent: "chat log",
	})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, vectorRepo.calls)
}

func TestAddFact_GraphFailureAborts(t *testing.T) {
	svc, graphRepo, vectorRepo, _ := newTestService()
	graphRepo.addFactErr = errors.NewGraphQueryFailed("add fact to entity", fmt.Errorf("connection lost"))

	_, err := svc.AddFact(context.Background(), "acme", "entity-1", AddFactRequest{
		FactName:      "Paris",
		FactType:      "Location",
		Verb:          "lives_in",
		SourceContent: "chat log",
	})
	require.Error(t, err)
	assert.Empty(t, vectorRepo.calls, "vector must not be written when the graph write failed")
}

func TestRemoveFact(t *testing.T) {
	svc, graphRepo, vectorRepo, _ := newTestService()
	graphRepo.removeVerbs = []string{"lives_in", "visited"}

	removed, err := svc.RemoveFact(context.Background(), "acme", "entity-1", "Location:Paris")
	require.NoError(t, err)
	assert.True(t, removed)

	require.Len(t, vectorRepo.calls, 2)
	assert.Equal(t, vectorCall{op: "delete", factID: "Location:Paris", verb: "lives_in"}, vectorRepo.calls[0])
	assert.Equal(t, vectorCall{op: "delete", factID: "Location:Paris", verb: "visited"}, vectorRepo.calls[1])
}

func TestRemoveFact_NoRelationship(t *testing.T) {
	svc, _, vectorRepo, _ := newTestService()

	removed, err := svc.RemoveFact(context.Background(), "acme", "entity-1", "Location:Paris")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, vectorRepo.calls)
}

func TestRemoveFact_VectorFailureIsDegraded(t *testing.T) {
	svc, graphRepo, vectorRepo, _ := newTestService()
	graphRepo.removeVerbs = []string{"lives_in"}
	vectorRepo.deleteErr = fmt.Errorf("qdrant unavailable")

	removed, err := svc.RemoveFact(context.Background(), "acme", "entity-1", "Location:Paris")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestDeleteEntity(t *testing.T) {
	svc, graphRepo, vectorRepo, _ := newTestService()
	graphRepo.deleteFound = true

	deleted, err := svc.DeleteEntity(context.Background(), "acme", "entity-1")
	require.NoError(t, err)
	assert.True(t, deleted)
	require.Len(t, vectorRepo.calls, 1)
	assert.Equal(t, "delete_all", vectorRepo.calls[0].op)
}

func TestDeleteEntity_NotFound(t *testing.T) {
	svc, _, vectorRepo, _ := newTestService()

	deleted, err := svc.DeleteEntity(context.Background(), "acme", "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Empty(t, vectorRepo.calls, "no vector cleanup when nothing was deleted")
}

func TestDeleteEntity_VectorFailureIsDegraded(t *testing.T) {
	svc, graphRepo, vectorRepo, _ := newTestService()
	graphRepo.deleteFound = true
	vectorRepo.deleteErr = fmt.Errorf("qdrant unavailable")

	deleted, err := svc.DeleteEntity(context.Background(), "acme", "entity-1")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestSearchFacts(t *testing.T) {
	svc, graphRepo, vectorRepo, _ := newTestService()
	vectorRepo.searchHits = []vector.SemanticHit{
		{FactID: "Location:Paris", Verb: "lives_in", RelationshipKey: "acme|e1|Location:Paris|lives_in", Score: 0.91},
		{FactID: "Skill:Go", Verb: "knows", RelationshipKey: "acme|e1|Skill:Go|knows", Score: 0.74},
		{FactID: "Location:Ghost", Verb: "visited", RelationshipKey: "acme|e1|Location:Ghost|visited", Score: 0.60},
	}
	graphRepo.factRecords = map[string]*graph.FactRecord{
		"Location:Paris": {
			Fact:   domain.Fact{FactID: "Location:Paris", Name: "Paris", Type: "Location"},
			Source: &domain.Source{ID: "s1", Content: "chat log"},
		},
		"Skill:Go": {
			Fact: domain.Fact{FactID: "Skill:Go", Name: "Go", Type: "Skill"},
		},
		// Location:Ghost was removed from the graph; its vector entry is stale
	}

	results, err := svc.SearchFacts(context.Background(), "acme", "e1", SearchRequest{Query: "where does the user live"})
	require.NoError(t, err)
	require.Len(t, results, 2, "stale index hits must be dropped")

	// Descending score order is preserved through resolution
	assert.Equal(t, "Location:Paris", results[0].Fact.FactID)
	assert.Equal(t, "lives_in", results[0].Verb)
	assert.Equal(t, float32(0.91), results[0].Score)
	require.NotNil(t, results[0].Source)
	assert.Equal(t, "chat log", results[0].Source.Content)

	assert.Equal(t, "Skill:Go", results[1].Fact.FactID)
	assert.Nil(t, results[1].Source)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearchFacts_EmptyQuery(t *testing.T) {
	svc, _, vectorRepo, _ := newTestService()

	_, err := svc.SearchFacts(context.Background(), "acme", "e1", SearchRequest{Query: ""})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Empty(t, vectorRepo.calls)
}

func TestSearchFacts_NoHits(t *testing.T) {
	svc, _, _, _ := newTestService()

	results, err := svc.SearchFacts(context.Background(), "acme", "e1", SearchRequest{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTenantRequired(t *testing.T) {
	svc, graphRepo, _, _ := newTestService()

	_, err := svc.CreateEntity(context.Background(), "", CreateEntityRequest{
		IdentifierValue: "alice@example.com",
		IdentifierType:  "email",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = svc.GetEntityByID(context.Background(), "", "entity-1")
	require.Error(t, err)

	_, err = svc.AddFact(context.Background(), "", "entity-1", AddFactRequest{})
	require.Error(t, err)

	_, err = svc.RemoveFact(context.Background(), "", "entity-1", "Location:Paris")
	require.Error(t, err)

	assert.Empty(t, graphRepo.calls, "tenant-less requests must never reach the repositories")
}

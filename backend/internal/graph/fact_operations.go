package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"gnosis/backend/internal/domain"
	"gnosis/backend/pkg/errors"
	"go.uber.org/zap"
)

// ============================================================================
// Fact Operations
// ============================================================================

// AddFactToEntity upserts the fact node by its derived key, inserts a new
// source, and creates the HAS_FACT and DERIVED_FROM edges in one
// transaction. A repeat call with the same (entity, fact, verb) updates the
// confidence in place and appends a new source instead of duplicating the
// edge. Returns nil (no error) when the entity does not exist.
func (r *Repository) AddFactToEntity(ctx context.Context, tenant, entityID string, fact *domain.Fact, source *domain.Source, relationship *domain.HasFact) (*AddFactResult, error) {
	session := r.session(ctx, tenant, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	found, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {id: $entityID})
			MERGE (f:Fact {fact_id: $factID})
			ON CREATE SET f.name = $factName, f.type = $factType
			CREATE (s:Source {
				id: $sourceID,
				content: $sourceContent,
				timestamp: datetime($sourceTimestamp)
			})
			MERGE (e)-[hf:HAS_FACT {verb: $verb}]->(f)
			ON CREATE SET hf.confidence_score = $confidence,
			              hf.created_at = datetime($linkedAt)
			ON MATCH SET hf.confidence_score = $confidence
			CREATE (f)-[:DERIVED_FROM {created_at: datetime($linkedAt)}]->(s)
			RETURN e.id AS id
		`, map[string]any{
			"entityID":        entityID,
			"factID":          fact.FactID,
			"factName":        fact.Name,
			"factType":        fact.Type,
			"sourceID":        source.ID,
			"sourceContent":   source.Content,
			"sourceTimestamp": source.Timestamp.Format(time.RFC3339),
			"verb":            relationship.Verb,
			"confidence":      relationship.ConfidenceScore,
			"linkedAt":        relationship.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, errors.NewGraphQueryFailed("add fact to entity", err)
	}
	if !found.(bool) {
		return nil, nil
	}

	derivedFrom, err := domain.NewDerivedFrom(fact.FactID, source.ID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Fact attached",
		zap.String("tenant", tenant),
		zap.String("entity_id", entityID),
		zap.String("fact_id", fact.FactID),
		zap.String("verb", relationship.Verb),
	)

	return &AddFactResult{
		Fact:        *fact,
		Source:      *source,
		HasFact:     *relationship,
		DerivedFrom: *derivedFrom,
	}, nil
}

// FindFactByID looks up a fact by its derived key, with the most recent
// source if one exists. Returns nil (no error) when nothing matches.
func (r *Repository) FindFactByID(ctx context.Context, tenant, factID string) (*FactRecord, error) {
	session := r.session(ctx, tenant, neo4j.AccessModeRead)
	defer session.Close(ctx)

	record, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (f:Fact {fact_id: $factID})
			OPTIONAL MATCH (f)-[:DERIVED_FROM]->(s:Source)
			WITH f, s
			ORDER BY s.timestamp DESC
			WITH f, head(collect(s)) AS src
			RETURN f.fact_id AS fact_id,
			       f.name AS fact_name,
			       f.type AS fact_type,
			       src.id AS source_id,
			       src.content AS source_content,
			       src.timestamp AS source_timestamp
			LIMIT 1
		`, map[string]any{
			"factID": factID,
		})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		rec := result.Record()

		factRecord := &FactRecord{
			Fact: domain.Fact{
				FactID: getStringFromRecord(rec, "fact_id"),
				Name:   getStringFromRecord(rec, "fact_name"),
				Type:   getStringFromRecord(rec, "fact_type"),
			},
		}
		if sourceID := getStringFromRecord(rec, "source_id"); sourceID != "" {
			factRecord.Source = &domain.Source{
				ID:        sourceID,
				Content:   getStringFromRecord(rec, "source_content"),
				Timestamp: getTimeFromRecord(rec, "source_timestamp"),
			}
		}
		return factRecord, nil
	})
	if err != nil {
		return nil, errors.NewGraphQueryFailed("find fact by id", err)
	}
	if record == nil {
		return nil, nil
	}
	return record.(*FactRecord), nil
}

// RemoveFactFromEntity deletes the HAS_FACT edges between the entity and
// the fact. The fact node stays (it may be shared with other entities) and
// its sources stay for audit. Returns the verbs of the removed edges,
// empty when no relationship existed.
func (r *Repository) RemoveFactFromEntity(ctx context.Context, tenant, entityID, factID string) ([]string, error) {
	session := r.session(ctx, tenant, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	verbs, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {id: $entityID})-[hf:HAS_FACT]->(f:Fact {fact_id: $factID})
			WITH hf, hf.verb AS verb
			DELETE hf
			RETURN verb
		`, map[string]any{
			"entityID": entityID,
			"factID":   factID,
		})
		if err != nil {
			return nil, err
		}

		var removed []string
		for result.Next(ctx) {
			removed = append(removed, getStringFromRecord(result.Record(), "verb"))
		}
		if err := result.Err(); err != nil {
			return nil, err
		}
		return removed, nil
	})
	if err != nil {
		return nil, errors.NewGraphQueryFailed("remove fact from entity", err)
	}

	removed := verbs.([]string)
	if len(removed) > 0 {
		r.logger.Info("Fact detached",
			zap.String("tenant", tenant),
			zap.String("entity_id", entityID),
			zap.String("fact_id", factID),
			zap.Strings("verbs", removed),
		)
	}
	return removed, nil
}

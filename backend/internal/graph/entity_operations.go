package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"gnosis/backend/internal/domain"
	"gnosis/backend/pkg/errors"
	"go.uber.org/zap"
)

// ============================================================================
// Entity Operations
// ============================================================================

// CreateEntity inserts a new entity, its identifier, and the HAS_IDENTIFIER
// edge in one transaction. Returns a conflict error when an identifier with
// the same (value, type) already exists in this tenant's graph.
func (r *Repository) CreateEntity(ctx context.Context, tenant string, entity *domain.Entity, identifier *domain.Identifier, relationship *domain.HasIdentifier) (*CreateEntityResult, error) {
	session := r.session(ctx, tenant, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		check, err := tx.Run(ctx, `
			MATCH (i:Identifier {value: $value, type: $type})
			RETURN i.value AS value
			LIMIT 1
		`, map[string]any{
			"value": identifier.Value,
			"type":  string(identifier.Type),
		})
		if err != nil {
			return nil, err
		}
		if check.Next(ctx) {
			return nil, errors.NewIdentifierConflict(identifier.Value, string(identifier.Type))
		}
		if err := check.Err(); err != nil {
			return nil, err
		}

		result, err := tx.Run(ctx, `
			CREATE (e:Entity {
				id: $entityID,
				created_at: datetime($createdAt),
				metadata: $metadata
			})
			CREATE (i:Identifier {value: $value, type: $type})
			CREATE (e)-[:HAS_IDENTIFIER {
				is_primary: $isPrimary,
				created_at: datetime($linkedAt)
			}]->(i)
			RETURN e.id AS id
		`, map[string]any{
			"entityID":  entity.ID,
			"createdAt": entity.CreatedAt.Format(time.RFC3339),
			"metadata":  encodeMetadata(entity.Metadata),
			"value":     identifier.Value,
			"type":      string(identifier.Type),
			"isPrimary": relationship.IsPrimary,
			"linkedAt":  relationship.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return nil, err
		}
		return result.Single(ctx)
	})
	if err != nil {
		if errors.IsConflict(err) {
			return nil, err
		}
		// A concurrent create may slip past the pre-check and trip the
		// uniqueness constraint instead
		if isConstraintViolation(err) {
			return nil, errors.NewIdentifierConflict(identifier.Value, string(identifier.Type))
		}
		return nil, errors.NewGraphQueryFailed("create entity", err)
	}

	r.logger.Info("Entity created",
		zap.String("tenant", tenant),
		zap.String("entity_id", entity.ID),
		zap.String("identifier_type", string(identifier.Type)),
	)

	return &CreateEntityResult{
		Entity:       *entity,
		Identifier:   *identifier,
		Relationship: *relationship,
	}, nil
}

// FindEntityByIdentifier looks up an entity through one of its identifiers
// and returns it with the matched identifier link and all current facts.
// Returns nil (no error) when nothing matches.
func (r *Repository) FindEntityByIdentifier(ctx context.Context, tenant, value string, identifierType domain.IdentifierType) (*EntityRecord, error) {
	session := r.session(ctx, tenant, neo4j.AccessModeRead)
	defer session.Close(ctx)

	record, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity)-[r:HAS_IDENTIFIER]->(i:Identifier {value: $value, type: $type})
			RETURN e.id AS entity_id,
			       e.created_at AS entity_created_at,
			       e.metadata AS entity_metadata,
			       i.value AS identifier_value,
			       i.type AS identifier_type,
			       r.is_primary AS is_primary,
			       r.created_at AS linked_at
			LIMIT 1
		`, map[string]any{
			"value": value,
			"type":  string(identifierType),
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

		entityRecord := &EntityRecord{
			Entity: domain.Entity{
				ID:        getStringFromRecord(rec, "entity_id"),
				CreatedAt: getTimeFromRecord(rec, "entity_created_at"),
				Metadata:  decodeMetadata(getStringFromRecord(rec, "entity_metadata")),
			},
			Identifier: &IdentifierLink{
				Identifier: domain.Identifier{
					Value: getStringFromRecord(rec, "identifier_value"),
					Type:  domain.IdentifierType(getStringFromRecord(rec, "identifier_type")),
				},
				Relationship: domain.HasIdentifier{
					IsPrimary: getBoolFromRecord(rec, "is_primary"),
					CreatedAt: getTimeFromRecord(rec, "linked_at"),
				},
			},
		}

		facts, err := collectFacts(ctx, tx, entityRecord.Entity.ID)
		if err != nil {
			return nil, err
		}
		entityRecord.Facts = facts
		return entityRecord, nil
	})
	if err != nil {
		return nil, errors.NewGraphQueryFailed("find entity by identifier", err)
	}
	if record == nil {
		return nil, nil
	}
	return record.(*EntityRecord), nil
}

// FindEntityByID looks up an entity by its canonical ID. The identifier
// link may be nil when the entity has no identifiers. Returns nil (no
// error) when nothing matches.
func (r *Repository) FindEntityByID(ctx context.Context, tenant, entityID string) (*EntityRecord, error) {
	session := r.session(ctx, tenant, neo4j.AccessModeRead)
	defer session.Close(ctx)

	record, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {id: $entityID})
			OPTIONAL MATCH (e)-[r:HAS_IDENTIFIER]->(i:Identifier)
			WITH e, r, i
			ORDER BY r.is_primary DESC, r.created_at ASC
			RETURN e.id AS entity_id,
			       e.created_at AS entity_created_at,
			       e.metadata AS entity_metadata,
			       i.value AS identifier_value,
			       i.type AS identifier_type,
			       r.is_primary AS is_primary,
			       r.created_at AS linked_at
			LIMIT 1
		`, map[string]any{
			"entityID": entityID,
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

		entityRecord := &EntityRecord{
			Entity: domain.Entity{
				ID:        getStringFromRecord(rec, "entity_id"),
				CreatedAt: getTimeFromRecord(rec, "entity_created_at"),
				Metadata:  decodeMetadata(getStringFromRecord(rec, "entity_metadata")),
			},
		}
		if value := getStringFromRecord(rec, "identifier_value"); value != "" {
			entityRecord.Identifier = &IdentifierLink{
				Identifier: domain.Identifier{
					Value: value,
					Type:  domain.IdentifierType(getStringFromRecord(rec, "identifier_type")),
				},
				Relationship: domain.HasIdentifier{
					IsPrimary: getBoolFromRecord(rec, "is_primary"),
					CreatedAt: getTimeFromRecord(rec, "linked_at"),
				},
			}
		}

		facts, err := collectFacts(ctx, tx, entityID)
		if err != nil {
			return nil, err
		}
		entityRecord.Facts = facts
		return entityRecord, nil
	})
	if err != nil {
		return nil, errors.NewGraphQueryFailed("find entity by id", err)
	}
	if record == nil {
		return nil, nil
	}
	return record.(*EntityRecord), nil
}

// DeleteEntityByID removes the entity, its identifiers, and all of its
// edges. Facts and sources stay: facts may be shared with other entities
// and sources are retained for audit. Returns whether an entity was found
// and removed.
func (r *Repository) DeleteEntityByID(ctx context.Context, tenant, entityID string) (bool, error) {
	session := r.session(ctx, tenant, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {id: $entityID})
			OPTIONAL MATCH (e)-[:HAS_IDENTIFIER]->(i:Identifier)
			WITH e, collect(i) AS identifiers
			FOREACH (i IN identifiers | DETACH DELETE i)
			DETACH DELETE e
			RETURN 1 AS deleted
		`, map[string]any{
			"entityID": entityID,
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
		return false, errors.NewGraphQueryFailed("delete entity", err)
	}

	if deleted.(bool) {
		r.logger.Info("Entity deleted",
			zap.String("tenant", tenant),
			zap.String("entity_id", entityID),
		)
	}
	return deleted.(bool), nil
}

// AddIdentifierToEntity attaches an additional identifier to an existing
// entity. Returns nil (no error) when the entity does not exist, and a
// conflict error when the identifier is already taken.
func (r *Repository) AddIdentifierToEntity(ctx context.Context, tenant, entityID string, identifier *domain.Identifier, relationship *domain.HasIdentifier) (*IdentifierLink, error) {
	session := r.session(ctx, tenant, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	found, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		check, err := tx.Run(ctx, `
			MATCH (i:Identifier {value: $value, type: $type})
			RETURN i.value AS value
			LIMIT 1
		`, map[string]any{
			"value": identifier.Value,
			"type":  string(identifier.Type),
		})
		if err != nil {
			return nil, err
		}
		if check.Next(ctx) {
			return nil, errors.NewIdentifierConflict(identifier.Value, string(identifier.Type))
		}
		if err := check.Err(); err != nil {
			return nil, err
		}

		result, err := tx.Run(ctx, `
			MATCH (e:Entity {id: $entityID})
			CREATE (i:Identifier {value: $value, type: $type})
			CREATE (e)-[:HAS_IDENTIFIER {
				is_primary: $isPrimary,
				created_at: datetime($linkedAt)
			}]->(i)
			RETURN e.id AS id
		`, map[string]any{
			"entityID":  entityID,
			"value":     identifier.Value,
			"type":      string(identifier.Type),
			"isPrimary": relationship.IsPrimary,
			"linkedAt":  relationship.CreatedAt.Format(time.RFC3339),
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
		if errors.IsConflict(err) {
			return nil, err
		}
		if isConstraintViolation(err) {
			return nil, errors.NewIdentifierConflict(identifier.Value, string(identifier.Type))
		}
		return nil, errors.NewGraphQueryFailed("add identifier", err)
	}
	if !found.(bool) {
		return nil, nil
	}

	r.logger.Info("Identifier attached",
		zap.String("tenant", tenant),
		zap.String("entity_id", entityID),
		zap.String("identifier_type", string(identifier.Type)),
	)

	return &IdentifierLink{
		Identifier:   *identifier,
		Relationship: *relationship,
	}, nil
}

// UpdateEntityMetadata replaces the entity's metadata mapping. Returns
// whether the entity was found.
func (r *Repository) UpdateEntityMetadata(ctx context.Context, tenant, entityID string, metadata map[string]string) (bool, error) {
	session := r.session(ctx, tenant, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	found, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {id: $entityID})
			SET e.metadata = $metadata
			RETURN e.id AS id
		`, map[string]any{
			"entityID": entityID,
			"metadata": encodeMetadata(metadata),
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
		return false, errors.NewGraphQueryFailed("update entity metadata", err)
	}
	return found.(bool), nil
}

// collectFacts loads all facts attached to an entity, each paired with the
// most recent source linked via DERIVED_FROM
func collectFacts(ctx context.Context, tx neo4j.ManagedTransaction, entityID string) ([]FactWithSource, error) {
	result, err := tx.Run(ctx, `
		MATCH (e:Entity {id: $entityID})-[hf:HAS_FACT]->(f:Fact)
		OPTIONAL MATCH (f)-[:DERIVED_FROM]->(s:Source)
		WITH hf, f, s
		ORDER BY s.timestamp DESC
		WITH hf, f, head(collect(s)) AS src
		RETURN f.fact_id AS fact_id,
		       f.name AS fact_name,
		       f.type AS fact_type,
		       hf.verb AS verb,
		       hf.confidence_score AS confidence_score,
		       hf.created_at AS linked_at,
		       src.id AS source_id,
		       src.content AS source_content,
		       src.timestamp AS source_timestamp
		ORDER BY linked_at ASC
	`, map[string]any{
		"entityID": entityID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect facts: %w", err)
	}

	var facts []FactWithSource
	for result.Next(ctx) {
		rec := result.Record()
		fws := FactWithSource{
			Fact: domain.Fact{
				FactID: getStringFromRecord(rec, "fact_id"),
				Name:   getStringFromRecord(rec, "fact_name"),
				Type:   getStringFromRecord(rec, "fact_type"),
			},
			Relationship: domain.HasFact{
				Verb:            getStringFromRecord(rec, "verb"),
				ConfidenceScore: getFloat64FromRecord(rec, "confidence_score"),
				CreatedAt:       getTimeFromRecord(rec, "linked_at"),
			},
		}
		if sourceID := getStringFromRecord(rec, "source_id"); sourceID != "" {
			fws.Source = &domain.Source{
				ID:        sourceID,
				Content:   getStringFromRecord(rec, "source_content"),
				Timestamp: getTimeFromRecord(rec, "source_timestamp"),
			}
		}
		facts = append(facts, fws)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to collect facts: %w", err)
	}
	return facts, nil
}

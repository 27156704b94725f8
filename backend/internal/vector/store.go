// Package vector maintains the semantic index over fact text in Qdrant.
// One collection serves the whole deployment; every point is keyed by a
// deterministic composite of (tenant, entity, fact, verb) and carries those
// fields as payload for filtering. The index is secondary to the graph
// store and never the source of truth for a fact's existence.
package vector

import (
	"fmt"

	"github.com/google/uuid"
)

// SemanticHit is one similarity search result, descending by score.
// Score is Qdrant cosine similarity; with normalized embeddings it falls
// in [0, 1]. Only the descending ordering is portable across embedding
// models, absolute values are not.
type SemanticHit struct {
	FactID          string  `json:"fact_id"`
	Verb            string  `json:"verb"`
	RelationshipKey string  `json:"relationship_key"`
	Score           float32 `json:"score"`
}

// pointNamespace seeds the UUIDv5 derivation of point IDs
var pointNamespace = uuid.MustParse("9f2c1e5a-7b41-4c8d-9e36-2d8a0f4b6c13")

// relationshipKey is the composite key of one semantic memory. Repeated
// writes for the same (tenant, entity, fact, verb) triple resolve to the
// same point and overwrite rather than duplicate.
func relationshipKey(tenant, entityID, factID, verb string) string {
	return fmt.Sprintf("%s|%s|%s|%s", tenant, entityID, factID, verb)
}

// pointID derives the deterministic Qdrant point UUID for a composite key
func pointID(tenant, entityID, factID, verb string) string {
	return uuid.NewSHA1(pointNamespace, []byte(relationshipKey(tenant, entityID, factID, verb))).String()
}

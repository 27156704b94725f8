package graph

import "gnosis/backend/internal/domain"

// IdentifierLink pairs an identifier with its HAS_IDENTIFIER relationship
type IdentifierLink struct {
	Identifier   domain.Identifier    `json:"identifier"`
	Relationship domain.HasIdentifier `json:"relationship"`
}

// FactWithSource pairs a fact with its HAS_FACT relationship and the most
// recent source linked via DERIVED_FROM (nil when no source exists)
type FactWithSource struct {
	Fact         domain.Fact    `json:"fact"`
	Relationship domain.HasFact `json:"relationship"`
	Source       *domain.Source `json:"source,omitempty"`
}

// EntityRecord is the composed read result for an entity: the node, its
// identifier link (nil when the entity has none), and all current facts
// each paired with their source
type EntityRecord struct {
	Entity     domain.Entity    `json:"entity"`
	Identifier *IdentifierLink  `json:"identifier,omitempty"`
	Facts      []FactWithSource `json:"facts"`
}

// FactRecord is the composed read result for a fact looked up by key, with
// its most recent source (nil when none exists)
type FactRecord struct {
	Fact   domain.Fact    `json:"fact"`
	Source *domain.Source `json:"source,omitempty"`
}

// CreateEntityResult is the composed write result of entity creation
type CreateEntityResult struct {
	Entity       domain.Entity        `json:"entity"`
	Identifier   domain.Identifier    `json:"identifier"`
	Relationship domain.HasIdentifier `json:"relationship"`
}

// AddFactResult is the composed write result of attaching a fact with
// provenance to an entity
type AddFactResult struct {
	Fact        domain.Fact        `json:"fact"`
	Source      domain.Source      `json:"source"`
	HasFact     domain.HasFact     `json:"has_fact"`
	DerivedFrom domain.DerivedFrom `json:"derived_from"`
}

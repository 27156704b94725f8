// Package domain contains the value types of the knowledge graph: entities,
// identifiers, facts, sources, and the typed relationships between them.
// Constructors validate their input and derive synthetic keys; a value that
// fails validation is never returned.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gnosis/backend/pkg/errors"
)

// IdentifierType is the closed set of external handle kinds
type IdentifierType string

const (
	IdentifierTypeEmail    IdentifierType = "email"
	IdentifierTypePhone    IdentifierType = "phone"
	IdentifierTypeUsername IdentifierType = "username"
	IdentifierTypeUUID     IdentifierType = "uuid"
	IdentifierTypeSocialID IdentifierType = "social_id"
)

// Valid reports whether t is a member of the identifier type set
func (t IdentifierType) Valid() bool {
	switch t {
	case IdentifierTypeEmail, IdentifierTypePhone, IdentifierTypeUsername,
		IdentifierTypeUUID, IdentifierTypeSocialID:
		return true
	}
	return false
}

// Entity is the canonical node for a real-world subject. Metadata is the
// only field that may change after creation.
type Entity struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEntity creates an entity with a generated ID and UTC creation time
func NewEntity(metadata map[string]string) *Entity {
	return &Entity{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// Identifier is an external handle used to look up an entity. Value is the
// natural uniqueness key within its type inside one tenant's graph.
type Identifier struct {
	Value string         `json:"value"`
	Type  IdentifierType `json:"type"`
}

// NewIdentifier validates and builds an identifier
func NewIdentifier(value string, identifierType IdentifierType) (*Identifier, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.NewValidation("identifier value", "must not be empty")
	}
	if !identifierType.Valid() {
		return nil, errors.NewValidation("identifier type", fmt.Sprintf("%q is not one of email, phone, username, uuid, social_id", identifierType))
	}
	return &Identifier{Value: value, Type: identifierType}, nil
}

// Fact is a discrete piece of knowledge, reusable across entities. FactID
// is derived from (Type, Name) so structurally identical facts share one
// node in the graph.
type Fact struct {
	FactID string `json:"fact_id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// FactID derives the synthetic fact key from its type and name. Both the
// Fact constructor and callers that only need the key use this.
func FactID(factType, name string) string {
	return fmt.Sprintf("%s:%s", factType, name)
}

// NewFact validates and builds a fact with its derived key
func NewFact(name, factType string) (*Fact, error) {
	name = strings.TrimSpace(name)
	factType = strings.TrimSpace(factType)
	if name == "" {
		return nil, errors.NewValidation("fact name", "must not be empty")
	}
	if factType == "" {
		return nil, errors.NewValidation("fact type", "must not be empty")
	}
	return &Fact{
		FactID: FactID(factType, name),
		Name:   name,
		Type:   factType,
	}, nil
}

// Source is the provenance record for a fact: the raw evidence text and
// when it originated
type Source struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSource validates and builds a source. A zero timestamp defaults to the
// current UTC time; a supplied one is kept to reflect real-world origin.
func NewSource(content string, timestamp time.Time) (*Source, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.NewValidation("source content", "must not be empty")
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	} else {
		timestamp = timestamp.UTC()
	}
	return &Source{
		ID:        uuid.New().String(),
		Content:   content,
		Timestamp: timestamp,
	}, nil
}

// HasIdentifier links an entity to an identifier. Exactly one identifier
// per entity is marked primary at creation.
type HasIdentifier struct {
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

// NewHasIdentifier builds the entity-identifier relationship
func NewHasIdentifier(isPrimary bool) *HasIdentifier {
	return &HasIdentifier{
		IsPrimary: isPrimary,
		CreatedAt: time.Now().UTC(),
	}
}

// HasFact links an entity to a fact via a semantic verb with a confidence
// score in [0, 1]
type HasFact struct {
	Verb            string    `json:"verb"`
	ConfidenceScore float64   `json:"confidence_score"`
	CreatedAt       time.Time `json:"created_at"`
}

// DefaultConfidence is assumed when a caller does not supply a score
const DefaultConfidence = 1.0

// NewHasFact validates and builds the entity-fact relationship. Verbs are
// trimmed and lower-cased; out-of-range confidence is rejected, never
// clamped.
func NewHasFact(verb string, confidenceScore float64) (*HasFact, error) {
	verb = strings.ToLower(strings.TrimSpace(verb))
	if verb == "" {
		return nil, errors.NewValidation("verb", "must not be empty")
	}
	if confidenceScore < 0.0 || confidenceScore > 1.0 {
		return nil, errors.NewValidation("confidence_score", fmt.Sprintf("must be within [0.0, 1.0], got %g", confidenceScore))
	}
	return &HasFact{
		Verb:            verb,
		ConfidenceScore: confidenceScore,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// DerivedFrom links a fact to the source it was derived from
type DerivedFrom struct {
	FactID    string    `json:"from_fact_id"`
	SourceID  string    `json:"to_source_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDerivedFrom builds the fact-source provenance relationship
func NewDerivedFrom(factID, sourceID string) (*DerivedFrom, error) {
	if factID == "" {
		return nil, errors.NewValidation("from_fact_id", "must not be empty")
	}
	if sourceID == "" {
		return nil, errors.NewValidation("to_source_id", "must not be empty")
	}
	return &DerivedFrom{
		FactID:    factID,
		SourceID:  sourceID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

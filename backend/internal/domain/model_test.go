package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gnosis/backend/pkg/errors"
)

func TestFactID_Derivation(t *testing.T) {
	assert.Equal(t, "Location:Paris", FactID("Location", "Paris"))
	assert.Equal(t, "Skill:Go", FactID("Skill", "Go"))

	fact, err := NewFact("Paris", "Location")
	require.NoError(t, err)
	assert.Equal(t, "Location:Paris", fact.FactID)
	assert.Equal(t, "Paris", fact.Name)
	assert.Equal(t, "Location", fact.Type)
}

func TestNewFact_TrimsBeforeDeriving(t *testing.T) {
	fact, err := NewFact("  Paris ", " Location ")
	require.NoError(t, err)
	assert.Equal(t, "Location:Paris", fact.FactID)
}

func TestNewFact_SameKeyForSameTypeName(t *testing.T) {
	a, err := NewFact("Paris", "Location")
	require.NoError(t, err)
	b, err := NewFact("Paris", "Location")
	require.NoError(t, err)
	assert.Equal(t, a.FactID, b.FactID)
}

func TestNewFact_Validation(t *testing.T) {
	_, err := NewFact("", "Location")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = NewFact("Paris", "")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = NewFact("   ", "Location")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestNewIdentifier_TypeClosure(t *testing.T) {
	valid := []IdentifierType{
		IdentifierTypeEmail,
		IdentifierTypePhone,
		IdentifierTypeUsername,
		IdentifierTypeUUID,
		IdentifierTypeSocialID,
	}
	for _, identifierType := range valid {
		identifier, err := NewIdentifier("some-value", identifierType)
		require.NoError(t, err, "type %s should be accepted", identifierType)
		assert.Equal(t, identifierType, identifier.Type)
	}

	_, err := NewIdentifier("some-value", IdentifierType("passport"))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = NewIdentifier("some-value", IdentifierType(""))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestNewIdentifier_TrimsValue(t *testing.T) {
	identifier, err := NewIdentifier("  alice@example.com  ", IdentifierTypeEmail)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", identifier.Value)

	_, err = NewIdentifier("   ", IdentifierTypeEmail)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestNewHasFact_ConfidenceBounds(t *testing.T) {
	// Bounds are inclusive
	for _, score := range []float64{0.0, 0.5, 1.0} {
		relationship, err := NewHasFact("lives_in", score)
		require.NoError(t, err, "confidence %g should be accepted", score)
		assert.Equal(t, score, relationship.ConfidenceScore)
	}

	for _, score := range []float64{-0.1, 1.1, 2.0, -5.0} {
		_, err := NewHasFact("lives_in", score)
		require.Error(t, err, "confidence %g should be rejected", score)
		assert.True(t, errors.IsValidation(err))
	}
}

func TestNewHasFact_NormalizesVerb(t *testing.T) {
	relationship, err := NewHasFact("  Lives_In ", 1.0)
	require.NoError(t, err)
	assert.Equal(t, "lives_in", relationship.Verb)

	_, err = NewHasFact("   ", 1.0)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestNewEntity(t *testing.T) {
	a := NewEntity(map[string]string{"team": "platform"})
	b := NewEntity(nil)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())
	assert.Equal(t, time.UTC, a.CreatedAt.Location())
	assert.Equal(t, "platform", a.Metadata["team"])
}

func TestNewSource(t *testing.T) {
	source, err := NewSource("  chat log  ", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "chat log", source.Content)
	assert.NotEmpty(t, source.ID)
	assert.False(t, source.Timestamp.IsZero())

	// A supplied timestamp is kept, normalized to UTC
	supplied := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	source, err = NewSource("archived email", supplied)
	require.NoError(t, err)
	assert.True(t, source.Timestamp.Equal(supplied))
	assert.Equal(t, time.UTC, source.Timestamp.Location())

	_, err = NewSource("", time.Time{})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestNewDerivedFrom(t *testing.T) {
	derivedFrom, err := NewDerivedFrom("Location:Paris", "source-1")
	require.NoError(t, err)
	assert.Equal(t, "Location:Paris", derivedFrom.FactID)
	assert.Equal(t, "source-1", derivedFrom.SourceID)

	_, err = NewDerivedFrom("", "source-1")
	require.Error(t, err)

	_, err = NewDerivedFrom("Location:Paris", "")
	require.Error(t, err)
}

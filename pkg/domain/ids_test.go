package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "peopleops/pkg/domain-errors"
)

// TestParseChangeRequestID_Invariants validates the parsing invariant:
// ids arriving at trust boundaries must be valid, non-empty, non-nil UUIDs.
func TestParseChangeRequestID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseChangeRequestID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseChangeRequestID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseChangeRequestID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseChangeRequestID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, ChangeRequestID(valid), id)
	})
}

// TestTypeDistinction verifies the compiler enforces type safety between id
// kinds. If this compiles, the invariant holds.
func TestTypeDistinction(t *testing.T) {
	crID := NewChangeRequestID()
	auditID := NewAuditEntryID()

	// These would fail to compile if the types were interchangeable:
	// var _ ChangeRequestID = auditID // compile error
	// var _ AuditEntryID = crID      // compile error

	assert.NotEqual(t, uuid.UUID(crID), uuid.UUID(auditID))
}

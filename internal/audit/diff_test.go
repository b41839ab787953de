package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peopleops/internal/changereq/models"
)

func TestChangedKeys(t *testing.T) {
	t.Run("reports replaced, added, and removed keys", func(t *testing.T) {
		before := models.Document{"firstName": "John", "lastName": "Doe", "title": "Clerk"}
		after := models.Document{"firstName": "Jane", "lastName": "Doe", "team": "Payroll"}

		keys, err := ChangedKeys(before, after)
		require.NoError(t, err)
		assert.Equal(t, []string{"firstName", "team", "title"}, keys)
	})

	t.Run("identical snapshots yield no keys", func(t *testing.T) {
		doc := models.Document{"firstName": "Jane", "salary": 100}
		keys, err := ChangedKeys(doc, doc.Clone())
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("excludes bookkeeping fields by default", func(t *testing.T) {
		before := models.Document{"firstName": "John", "updatedAt": "2026-01-01", "revision": 4}
		after := models.Document{"firstName": "Jane", "updatedAt": "2026-02-01", "revision": 5}

		keys, err := ChangedKeys(before, after)
		require.NoError(t, err)
		assert.Equal(t, []string{"firstName"}, keys)
	})

	t.Run("caller exclusions extend the default set", func(t *testing.T) {
		before := models.Document{"firstName": "John", "syncToken": "a"}
		after := models.Document{"firstName": "Jane", "syncToken": "b"}

		keys, err := ChangedKeys(before, after, "syncToken")
		require.NoError(t, err)
		assert.Equal(t, []string{"firstName"}, keys)
	})

	t.Run("nested changes surface as their top-level key", func(t *testing.T) {
		before := models.Document{"address": map[string]any{"city": "Oslo", "zip": "0001"}}
		after := models.Document{"address": map[string]any{"city": "Bergen", "zip": "0001"}}

		keys, err := ChangedKeys(before, after)
		require.NoError(t, err)
		assert.Equal(t, []string{"address"}, keys)
	})

	t.Run("nil before is treated as empty for CREATE", func(t *testing.T) {
		keys, err := ChangedKeys(nil, models.Document{"firstName": "Jane"})
		require.NoError(t, err)
		assert.Equal(t, []string{"firstName"}, keys)
	})
}

package applier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peopleops/internal/changereq/models"
	dErrors "peopleops/pkg/domain-errors"
)

func TestCollectionApply(t *testing.T) {
	ctx := context.Background()

	t.Run("CREATE assigns server defaults", func(t *testing.T) {
		c := NewCollection()
		result, err := c.Apply(ctx, models.ModulePIM, "Employee", models.ActionCreate, "", models.Document{"firstName": "Jane"})
		require.NoError(t, err)
		assert.Equal(t, "Jane", result["firstName"])
		assert.NotEmpty(t, result["id"])
		assert.Equal(t, 1, result["revision"])
	})

	t.Run("UPDATE merges into the existing document", func(t *testing.T) {
		c := NewCollection()
		c.Seed("E1", models.Document{"firstName": "John", "lastName": "Doe", "revision": 3})

		result, err := c.Apply(ctx, models.ModulePIM, "Employee", models.ActionUpdate, "E1", models.Document{"firstName": "Jane"})
		require.NoError(t, err)
		assert.Equal(t, "Jane", result["firstName"])
		assert.Equal(t, "Doe", result["lastName"])
		assert.Equal(t, 4, result["revision"])
	})

	t.Run("UPDATE of a missing target fails with not_found", func(t *testing.T) {
		c := NewCollection()
		_, err := c.Apply(ctx, models.ModulePIM, "Employee", models.ActionUpdate, "ghost", models.Document{"x": 1})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("DELETE returns the last persisted state", func(t *testing.T) {
		c := NewCollection()
		c.Seed("E1", models.Document{"firstName": "John"})

		result, err := c.Apply(ctx, models.ModulePIM, "Employee", models.ActionDelete, "E1", models.Document{})
		require.NoError(t, err)
		assert.Equal(t, "John", result["firstName"])

		_, err = c.Read(ctx, models.ModulePIM, "Employee", "E1")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	employees := NewCollection()
	employees.Seed("E1", models.Document{"firstName": "John"})
	reg.Register(models.ModulePIM, "Employee", employees)

	t.Run("routes to the registered applier", func(t *testing.T) {
		doc, err := reg.Read(ctx, models.ModulePIM, "Employee", "E1")
		require.NoError(t, err)
		assert.Equal(t, "John", doc["firstName"])
	})

	t.Run("unknown model fails with not_found", func(t *testing.T) {
		_, err := reg.Read(ctx, models.ModulePIM, "JobTitle", "J1")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

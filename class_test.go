package plexdb

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plexdb/common"
)

func TestClassView(t *testing.T) {
	ctx := context.Background()

	t.Run("Test Classes", func(t *testing.T) {
		s, _ := loadFixture(t)
		classes, err := s.Classes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"System", "Generator", "Node", "Scenario", "Data File", "Fuel"}, classes)

		_, err = s.Class(ctx, "Battery")
		assert.True(t, errors.Is(err, common.ErrClassNotFound))
	})

	t.Run("Test List", func(t *testing.T) {
		s, _ := loadFixture(t)
		names, err := s.List(ctx, "Generator")
		require.NoError(t, err)
		assert.Equal(t, []string{"Gen1", "Gen2", "Gen.3"}, names)

		names, err = s.List(ctx, "Battery")
		require.NoError(t, err)
		assert.Empty(t, names)

		gens, err := s.Class(ctx, "Generator")
		require.NoError(t, err)
		n, err := gens.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		_, err = gens.Get(ctx, "Gen9")
		assert.True(t, errors.Is(err, common.ErrObjectNotFound))
	})

	t.Run("Test Properties", func(t *testing.T) {
		s, _ := loadFixture(t)
		nodes, err := s.Class(ctx, "Node")
		require.NoError(t, err)
		props, err := nodes.Properties(ctx)
		require.NoError(t, err)
		require.Contains(t, props, "System")
		require.Contains(t, props, "Generator")
		assert.Equal(t, int64(6), props["System"]["Load"].PropertyID)
		assert.Equal(t, int64(3), props["Generator"]["Generation Participation Factor"].CollectionID)

		gens, err := s.Class(ctx, "Generator")
		require.NoError(t, err)
		props, err = gens.Properties(ctx)
		require.NoError(t, err)
		assert.False(t, props["System"]["Commit"].Mask().Empty())
		assert.Equal(t, []string{"Off", "On"}, props["System"]["Commit"].Mask().Displays())
	})

	t.Run("Test Category Rank", func(t *testing.T) {
		s, _ := loadFixture(t)
		scenarios, err := s.Class(ctx, "Scenario")
		require.NoError(t, err)
		for _, name := range []string{"Sensitivities", "Stress"} {
			_, err = scenarios.AddCategory(ctx, name)
			require.NoError(t, err)
		}
		cats, err := scenarios.Categories(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 3)
		for i, cat := range cats {
			assert.Equal(t, i, cat.Rank)
		}
		assert.Equal(t, []string{"-", "Sensitivities", "Stress"}, []string{cats[0].Name, cats[1].Name, cats[2].Name})

		_, err = scenarios.AddCategory(ctx, "Stress")
		assert.True(t, errors.Is(err, common.ErrValidation))

		_, err = scenarios.CategoryID(ctx, "Missing")
		assert.True(t, errors.Is(err, common.ErrCategoryNotFound))
	})

	t.Run("Test New", func(t *testing.T) {
		s, _ := loadFixture(t)
		gens, err := s.Class(ctx, "Generator")
		require.NoError(t, err)
		gen4, err := gens.New(ctx, "Gen4", "Peakers")
		require.NoError(t, err)
		assert.Equal(t, "Generator.Gen4", gen4.Hierarchy())
		assert.Len(t, gen4.Meta().GUID.String, 36)

		cat, err := gen4.Category(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Peakers", cat)
		cats, err := gens.Categories(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, cats[len(cats)-1].Rank)

		parents, err := gen4.GetParents(ctx, "")
		require.NoError(t, err)
		require.Len(t, parents, 1)
		assert.Equal(t, common.DefaultOwner, parents[0].Hierarchy())

		require.NoError(t, gen4.SetProperty(ctx, "Max Capacity", common.Scalar("25"), "", ""))
		v, err := gen4.GetProperty(ctx, "Max Capacity", "")
		require.NoError(t, err)
		assert.Equal(t, common.Scalar("25"), v)

		_, err = gens.New(ctx, "Gen4", "")
		assert.True(t, errors.Is(err, common.ErrValidation))
	})

	t.Run("Test New Enables Class", func(t *testing.T) {
		s, _ := loadFixture(t)
		fuels, err := s.Class(ctx, "Fuel")
		require.NoError(t, err)
		gas, err := fuels.New(ctx, "Gas", "")
		require.NoError(t, err)
		assert.Equal(t, "true", queryOne[string](t, s, "SELECT is_enabled FROM class WHERE name = 'Fuel'"))
		cat, err := gas.Category(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultCategory, cat)
	})
}

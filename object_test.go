package plexdb

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plexdb/common"
)

func hierarchiesOf(objs []*ObjectView) []string {
	ret := []string{}
	for _, o := range objs {
		ret = append(ret, o.Hierarchy())
	}
	return ret
}

func TestObjectView(t *testing.T) {
	ctx := context.Background()

	t.Run("Test Hierarchy", func(t *testing.T) {
		s, _ := loadFixture(t)
		gen3, err := s.ByHierarchy(ctx, "Generator|Gen.3")
		require.NoError(t, err)
		assert.Equal(t, "Gen.3", gen3.Name())
		// the dotted form splits on the first dot
		gen3, err = s.ByHierarchy(ctx, "Generator.Gen.3")
		require.NoError(t, err)
		assert.Equal(t, int64(8), gen3.ID())

		hier, err := s.HierarchyOf(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, "Scenario.T1", hier)
		_, err = s.HierarchyOf(ctx, 99)
		assert.True(t, errors.Is(err, common.ErrObjectNotFound))

		o, err := s.ObjectByID(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, "Node.N1", o.String())

		_, err = s.ByHierarchy(ctx, "Generator")
		assert.True(t, errors.Is(err, common.ErrValidation))
	})

	t.Run("Test Attributes", func(t *testing.T) {
		s, _ := loadFixture(t)
		gen1 := object(t, s, "Generator.Gen1")
		v, err := gen1.Attribute(ctx, "Latitude")
		require.NoError(t, err)
		assert.Equal(t, "-33.8", v)
		_, err = gen1.Attribute(ctx, "Longitude")
		assert.True(t, errors.Is(err, common.ErrAttributeNotFound))

		require.NoError(t, gen1.SetAttribute(ctx, "Longitude", "151.2"))
		require.NoError(t, gen1.SetAttribute(ctx, "Latitude", "-34.0"))
		attrs, err := gen1.Attributes(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"Latitude": "-34.0", "Longitude": "151.2"}, attrs)

		err = gen1.SetAttribute(ctx, "Zone", "A")
		assert.True(t, errors.Is(err, common.ErrAttributeNotFound))
		assert.Contains(t, err.Error(), "Latitude, Longitude")

		require.NoError(t, gen1.DeleteAttribute(ctx, "Longitude"))
		err = gen1.DeleteAttribute(ctx, "Longitude")
		assert.True(t, errors.Is(err, common.ErrAttributeNotFound))
	})

	t.Run("Test Category", func(t *testing.T) {
		s, _ := loadFixture(t)
		cat, err := object(t, s, "Generator.Gen2").Category(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Coal Plants", cat)

		gen1 := object(t, s, "Generator.Gen1")
		require.NoError(t, gen1.SetCategory(ctx, "Coal Plants"))
		cat, err = gen1.Category(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Coal Plants", cat)

		err = gen1.SetCategory(ctx, "Nuclear")
		assert.True(t, errors.Is(err, common.ErrCategoryNotFound))
	})

	t.Run("Test Children And Parents", func(t *testing.T) {
		s, _ := loadFixture(t)
		system := object(t, s, common.DefaultOwner)
		gens, err := system.GetChildren(ctx, "Generator")
		require.NoError(t, err)
		assert.Equal(t, []string{"Generator.Gen1", "Generator.Gen2", "Generator.Gen.3"}, hierarchiesOf(gens))

		all, err := system.GetChildren(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 8)

		parents, err := object(t, s, "Node.N1").GetParents(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"System.System", "Generator.Gen1"}, hierarchiesOf(parents))
	})

	t.Run("Test Set Children", func(t *testing.T) {
		s, _ := loadFixture(t)
		gen1 := object(t, s, "Generator.Gen1")
		gen2 := object(t, s, "Generator.Gen2")
		n1 := object(t, s, "Node.N1")

		// existing membership is kept as is
		require.NoError(t, gen1.SetChildren(ctx, []*ObjectView{n1}, false, ""))
		assert.Equal(t, 9, queryOne[int](t, s, "SELECT COUNT(*) FROM membership"))
		assert.Equal(t, 4, queryOne[int](t, s, "SELECT membership_id FROM membership WHERE parent_object_id = 2 AND child_object_id = 4"))

		require.NoError(t, gen2.SetChildren(ctx, []*ObjectView{n1}, true, ""))
		parents, err := n1.GetParents(ctx, "Generator")
		require.NoError(t, err)
		assert.Equal(t, []string{"Generator.Gen1", "Generator.Gen2"}, hierarchiesOf(parents))

		coal := object(t, s, "Fuel.Coal")
		err = gen1.SetChildren(ctx, []*ObjectView{coal}, false, "")
		assert.True(t, errors.Is(err, common.ErrValidation))
		require.NoError(t, gen1.SetChildren(ctx, []*ObjectView{coal}, false, "Start Fuels"))
		assert.Equal(t, 8, queryOne[int](t, s, "SELECT collection_id FROM membership WHERE parent_object_id = 2 AND child_object_id = 9"))

		err = n1.SetChildren(ctx, []*ObjectView{gen1}, false, "")
		assert.True(t, errors.Is(err, common.ErrNotFound))
	})

	t.Run("Test Copy", func(t *testing.T) {
		s, _ := loadFixture(t)
		gen1 := object(t, s, "Generator.Gen1")
		cp, err := gen1.Copy(ctx, "Gen1 copy")
		require.NoError(t, err)
		assert.NotEqual(t, gen1.ID(), cp.ID())
		assert.NotEqual(t, gen1.Meta().GUID.String, cp.Meta().GUID.String)
		assert.Equal(t, gen1.Meta().CategoryID, cp.Meta().CategoryID)

		attrs, err := cp.Attributes(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"Latitude": "-33.8"}, attrs)

		parents, err := cp.GetParents(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"System.System"}, hierarchiesOf(parents))
		children, err := cp.GetChildren(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"Node.N1"}, hierarchiesOf(children))

		names, err := s.List(ctx, "Generator")
		require.NoError(t, err)
		assert.Contains(t, names, "Gen1 copy")

		_, err = gen1.Copy(ctx, "Gen2")
		assert.True(t, errors.Is(err, common.ErrValidation))

		anon, err := gen1.Copy(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, anon.Name(), "Gen1-")
	})

	t.Run("Test Config", func(t *testing.T) {
		s, _ := loadFixture(t)
		v, err := s.GetConfig(ctx, "Version")
		require.NoError(t, err)
		assert.Equal(t, "9.000 R02", v)

		require.NoError(t, s.SetConfig(ctx, "Dynamic", "-1"))
		v, err = s.GetConfig(ctx, "Dynamic")
		require.NoError(t, err)
		assert.Equal(t, "-1", v)

		_, err = s.GetConfig(ctx, "Missing")
		assert.True(t, errors.Is(err, common.ErrConfigNotFound))
		err = s.SetConfig(ctx, "Missing", "1")
		assert.True(t, errors.Is(err, common.ErrConfigNotFound))
	})
}

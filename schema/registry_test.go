package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	t.Run("Test Column Typing", func(t *testing.T) {
		r := NewRegistry([]string{"band"})
		assert.Equal(t, Column{Name: "object_id", Kind: Integer, PrimaryKey: true}, r.Infer("object", "object_id"))
		assert.Equal(t, Column{Name: "class_id", Kind: Integer}, r.Infer("object", "class_id"))
		assert.Equal(t, Column{Name: "uid", Kind: Integer}, r.Infer("data", "uid"))
		assert.Equal(t, Column{Name: "name", Kind: Text}, r.Infer("object", "name"))
		assert.Equal(t, Column{Name: "band_id", Kind: Integer}, r.Infer("band", "band_id"))
	})

	t.Run("Test Schema Evolution", func(t *testing.T) {
		r := NewRegistry(nil)
		tbl, created, added := r.Observe("t", []string{"a", "b"})
		assert.True(t, created)
		assert.Empty(t, added)
		assert.Equal(t, []string{"a", "b"}, tbl.ColumnNames())

		_, created, added = r.Observe("t", []string{"a"})
		assert.False(t, created)
		assert.Empty(t, added)

		tbl, created, added = r.Observe("t", []string{"c", "a", "b"})
		assert.False(t, created)
		assert.Equal(t, []Column{{Name: "c", Kind: Text}}, added)
		assert.Equal(t, []string{"a", "b", "c"}, tbl.ColumnNames())
	})

	t.Run("Test Foreign Key Candidates", func(t *testing.T) {
		r := NewRegistry([]string{"band"})
		r.Observe("class", []string{"class_id", "name"})
		r.Observe("object", []string{"object_id", "class_id", "category_id", "name"})
		r.Observe("band", []string{"band_id", "data_id"})
		r.Observe("object", []string{"object_id", "owner_id"})

		assert.Equal(t, []ForeignKey{
			{Table: "object", Column: "class_id"},
			{Table: "object", Column: "category_id"},
			{Table: "band", Column: "band_id"},
			{Table: "band", Column: "data_id"},
			{Table: "object", Column: "owner_id"},
		}, r.Candidates())

		migrations := r.Migrations()
		if assert.Len(t, migrations, 2) {
			assert.Equal(t, "object", migrations[0].Table.Name)
			assert.Equal(t, []ForeignKey{{Table: "object", Column: "class_id"}}, migrations[0].ForeignKeys)
			assert.Equal(t, "band", migrations[1].Table.Name)
			assert.Equal(t, []ForeignKey{{Table: "band", Column: "band_id"}}, migrations[1].ForeignKeys)
		}
	})

	t.Run("Test Late Primary Key", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Observe("unit", []string{"value"})
		tbl, _, added := r.Observe("unit", []string{"unit_id", "value"})
		assert.Equal(t, []Column{{Name: "unit_id", Kind: Integer, PrimaryKey: true}}, added)
		assert.Empty(t, r.Candidates())
		migrations := r.Migrations()
		if assert.Len(t, migrations, 1) {
			assert.Same(t, tbl, migrations[0].Table)
			assert.Empty(t, migrations[0].ForeignKeys)
		}
	})

	t.Run("Test Quote", func(t *testing.T) {
		assert.Equal(t, `"name"`, Quote("name"))
		assert.Equal(t, `"a""b"`, Quote(`a"b`))
		assert.Equal(t, `"uid" INTEGER`, Column{Name: "uid", Kind: Integer}.Definition(true))
		assert.Equal(t, `"class_id" INTEGER PRIMARY KEY`, Column{Name: "class_id", Kind: Integer, PrimaryKey: true}.Definition(true))
		assert.Equal(t, `"class_id" INTEGER`, Column{Name: "class_id", Kind: Integer, PrimaryKey: true}.Definition(false))
	})
}

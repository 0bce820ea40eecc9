package plexdb

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plexdb/common"
	"plexdb/tx"
)

const fixture = "testdata/model.xml"

func nullLogger() (*logrus.Logger, *logtest.Hook) {
	return logtest.NewNullLogger()
}

func loadFixture(t *testing.T) (*Store, *logtest.Hook) {
	t.Helper()
	log, hook := nullLogger()
	s, err := LoadFile(context.Background(), fixture, Options{Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, hook
}

func loadString(t *testing.T, xml string, opts Options) (*Store, error) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger, _ = nullLogger()
	}
	s, err := Load(context.Background(), strings.NewReader(xml), opts)
	if err == nil {
		t.Cleanup(func() { s.Close(context.Background()) })
	}
	return s, err
}

func queryOne[T any](t *testing.T, s *Store, stmt string, args ...any) (v T) {
	t.Helper()
	require.NoError(t, s.view(context.Background(), func(rtx tx.ReadTx) error {
		return rtx.QueryRow(stmt, args...).Scan(&v)
	}))
	return
}

func queryList(t *testing.T, s *Store, stmt string, args ...any) (ret []string) {
	t.Helper()
	require.NoError(t, s.view(context.Background(), func(rtx tx.ReadTx) (err error) {
		ret, err = queryStrings(rtx, stmt, args...)
		return
	}))
	return
}

func object(t *testing.T, s *Store, hier string) *ObjectView {
	t.Helper()
	o, err := s.ByHierarchy(context.Background(), hier)
	require.NoError(t, err)
	return o
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("Test Tables", func(t *testing.T) {
		s, _ := loadFixture(t)
		assert.Equal(t, []string{
			"attribute", "attribute_data", "band", "category", "class", "collection", "config",
			"data", "membership", "object", "plexos_meta", "property", "tag",
		}, s.Catalog().Tables())
		// input_mask first appears on the third property
		assert.Equal(t, []string{"property_id", "collection_id", "name", "default_value", "is_dynamic", "is_enabled", "input_mask"},
			s.Catalog().Columns("property"))
		assert.Equal(t, MemoryPath, s.Path())
		assert.Equal(t, common.DefaultOwner, s.DefaultOwner())
	})

	t.Run("Test Schema Evolution", func(t *testing.T) {
		s, err := loadString(t, `<Root xmlns="urn:test">
			<t_thing><thing_id>1</thing_id><a>x</a><b>y</b></t_thing>
			<t_thing><thing_id>2</thing_id><a>x2</a><b>y2</b><c>z</c></t_thing>
			<t_thing><b>y3</b><thing_id>3</thing_id></t_thing>
		</Root>`, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"thing_id", "a", "b", "c"}, s.Catalog().Columns("thing"))
		assert.Equal(t, 1, queryOne[int](t, s, "SELECT COUNT(*) FROM thing WHERE c IS NULL AND thing_id = 1"))
		assert.Equal(t, 1, queryOne[int](t, s, "SELECT COUNT(*) FROM thing WHERE a IS NULL AND thing_id = 3"))
		assert.Equal(t, "z", queryOne[string](t, s, "SELECT c FROM thing WHERE thing_id = 2"))
	})

	t.Run("Test Primary Keys", func(t *testing.T) {
		s, _ := loadFixture(t)
		assert.Equal(t, []string{"object_id"}, queryList(t, s, "SELECT name FROM pragma_table_info('object') WHERE pk > 0"))
		assert.Equal(t, []string{"data_id"}, queryList(t, s, "SELECT name FROM pragma_table_info('data') WHERE pk > 0"))
		assert.Empty(t, queryList(t, s, "SELECT name FROM pragma_table_info('band') WHERE pk > 0"))
		assert.Empty(t, queryList(t, s, "SELECT name FROM pragma_table_info('config') WHERE pk > 0"))
	})

	t.Run("Test Late Primary Key", func(t *testing.T) {
		s, err := loadString(t, `<Root xmlns="urn:test">
			<t_late><x>1</x></t_late>
			<t_late><late_id>5</late_id><x>2</x></t_late>
		</Root>`, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"late_id"}, queryList(t, s, "SELECT name FROM pragma_table_info('late') WHERE pk > 0"))
		assert.Equal(t, []string{"1", "2"}, queryList(t, s, "SELECT x FROM late ORDER BY rowid"))
	})

	t.Run("Test Foreign Keys", func(t *testing.T) {
		s, _ := loadFixture(t)
		assert.ElementsMatch(t, []string{"class", "category"},
			queryList(t, s, `SELECT "table" FROM pragma_foreign_key_list('object')`))
		assert.ElementsMatch(t, []string{"membership", "property"},
			queryList(t, s, `SELECT "table" FROM pragma_foreign_key_list('data')`))
		// parent_class has no table of its own
		assert.ElementsMatch(t, []string{"collection"},
			queryList(t, s, `SELECT "table" FROM pragma_foreign_key_list('membership')`))

		indexes := queryList(t, s, "SELECT name FROM sqlite_master WHERE type = 'index'")
		for _, idx := range []string{
			indexName("object", "class_id"),
			indexName("object", "category_id"),
			indexName("membership", "parent_object_id"),
			indexName("membership", "child_object_id"),
			indexName("data", "membership_id"),
			indexName("tag", "object_id"),
			indexName("object", "name"),
			indexName("property", "name"),
			indexName("data", "uid"),
			indexName("object", "class_id", "name"),
		} {
			assert.Contains(t, indexes, idx)
		}
	})

	t.Run("Test Rebuild Keeps Rows", func(t *testing.T) {
		s, _ := loadFixture(t)
		assert.Equal(t, []string{"System", "Gen1", "Gen2", "N1", "T1", "T2", "DF1", "Gen.3", "Coal"},
			queryList(t, s, "SELECT name FROM object ORDER BY rowid"))
		assert.Equal(t, []string{"3", "5"}, queryList(t, s, "SELECT data_id FROM band ORDER BY rowid"))
		assert.Equal(t, "0;\"Off\";-1;\"On\"", queryOne[string](t, s, "SELECT input_mask FROM property WHERE property_id = 3"))
	})

	t.Run("Test Metadata And Views", func(t *testing.T) {
		s, _ := loadFixture(t)
		assert.Equal(t, "http://tempuri.org/MasterDataSet.xsd",
			queryOne[string](t, s, "SELECT value FROM plexos_meta WHERE name = 'namespace'"))
		assert.Equal(t, "MasterDataSet", queryOne[string](t, s, "SELECT value FROM plexos_meta WHERE name = 'root_element'"))
		views := queryList(t, s, "SELECT name FROM sqlite_master WHERE type = 'view'")
		assert.Contains(t, views, PropertyView)
		// the fixture has no unit table
		assert.NotContains(t, views, SpreadsheetView)
	})

	t.Run("Test Malformed Input", func(t *testing.T) {
		dir := t.TempDir()
		_, err := loadString(t, `<Root xmlns="urn:test"><t_a><b>1</b></t_a><t_a><b>`,
			Options{DBPath: filepath.Join(dir, "broken.db")})
		assert.True(t, errors.Is(err, common.ErrMalformedInput))
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)

		_, err = loadString(t, `<Root xmlns="urn:test"><t_a><b>1</b><b>2</b></t_a></Root>`, Options{})
		assert.True(t, errors.Is(err, common.ErrMalformedInput))

		_, err = loadString(t, ``, Options{})
		assert.True(t, errors.Is(err, common.ErrMalformedInput))
	})

	t.Run("Test Duplicate Property", func(t *testing.T) {
		_, err := loadString(t, `<Root xmlns="urn:test">
			<t_property><property_id>1</property_id><collection_id>1</collection_id><name>X</name></t_property>
			<t_property><property_id>2</property_id><collection_id>1</collection_id><name>X</name></t_property>
		</Root>`, Options{})
		assert.True(t, errors.Is(err, common.ErrSchemaViolation))
	})

	t.Run("Test Invalid Characters", func(t *testing.T) {
		const doc = `<Root xmlns="urn:test"><t_a><a_id>1</a_id><b>x&#x08;y</b></t_a></Root>`
		_, err := loadString(t, doc, Options{})
		assert.True(t, errors.Is(err, common.ErrMalformedInput))

		s, err := loadString(t, doc, Options{RemoveInvalidChars: true})
		require.NoError(t, err)
		assert.Equal(t, "xy", queryOne[string](t, s, "SELECT b FROM a"))
	})

	t.Run("Test Null Values", func(t *testing.T) {
		log, hook := nullLogger()
		s, err := loadString(t, `<Root xmlns="urn:test"><t_a><a_id>1</a_id><b></b></t_a></Root>`, Options{Logger: log})
		require.NoError(t, err)
		assert.Equal(t, "", queryOne[string](t, s, "SELECT b FROM a"))
		found := false
		for _, e := range hook.AllEntries() {
			if e.Data["action"] == "load_null_value" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("Test Empty Rows", func(t *testing.T) {
		s, err := loadString(t, `<Root xmlns="urn:test"><t_a><a_id>1</a_id><x>1</x></t_a><t_a /></Root>`, Options{})
		require.NoError(t, err)
		assert.Equal(t, 2, queryOne[int](t, s, "SELECT COUNT(*) FROM a"))
		assert.Equal(t, 1, queryOne[int](t, s, "SELECT COUNT(*) FROM a WHERE x IS NULL"))

		s, err = loadString(t, `<Root xmlns="urn:test"><t_b /><t_b><b_id>5</b_id><y>2</y></t_b></Root>`, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"b_id", "y"}, s.Catalog().Columns("b"))
		assert.Equal(t, 2, queryOne[int](t, s, "SELECT COUNT(*) FROM b"))

		// a row with nothing set is written back as an empty element
		s, err = loadString(t, `<Root xmlns="urn:test"><t_c><v>1</v></t_c><t_c /></Root>`, Options{})
		require.NoError(t, err)
		buf := &bytes.Buffer{}
		require.NoError(t, s.WriteTo(ctx, buf))
		assert.Contains(t, buf.String(), "  <t_c />\r\n")
		reloaded, err := loadString(t, buf.String(), Options{})
		require.NoError(t, err)
		assert.Equal(t, 2, queryOne[int](t, reloaded, "SELECT COUNT(*) FROM c"))
	})

	t.Run("Test Bad Table Name", func(t *testing.T) {
		_, err := loadString(t, `<Root xmlns="urn:test"><t_sqlite_x><v>1</v></t_sqlite_x></Root>`, Options{})
		assert.True(t, errors.Is(err, common.ErrMalformedInput))
	})

	t.Run("Test Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		log, _ := nullLogger()
		_, err := LoadFile(cctx, fixture, Options{Logger: log})
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("Test Persisted Store", func(t *testing.T) {
		log, _ := nullLogger()
		path := filepath.Join(t.TempDir(), "model.db")
		s, err := LoadFile(ctx, fixture, Options{DBPath: path, Logger: log})
		require.NoError(t, err)
		assert.Equal(t, path, s.Path())
		want, err := object(t, s, "Generator.Gen1").GetProperties(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx))

		reopened, err := Open(ctx, path, Options{Logger: log})
		require.NoError(t, err)
		defer reopened.Close(ctx)
		got, err := object(t, reopened, "Generator.Gen1").GetProperties(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Contains(t, queryList(t, reopened, "SELECT name FROM sqlite_master WHERE type = 'view'"), PropertyView)

		_, err = Open(ctx, filepath.Join(t.TempDir(), "missing.db"), Options{Logger: log})
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("Test Missing Default Owner", func(t *testing.T) {
		log, hook := nullLogger()
		s, err := LoadFile(ctx, fixture, Options{Logger: log, DefaultOwner: "System.Nobody"})
		require.NoError(t, err)
		defer s.Close(ctx)
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		_, err = object(t, s, "Generator.Gen1").GetProperty(ctx, "Max Capacity", "")
		assert.True(t, errors.Is(err, common.ErrObjectNotFound))
	})
}

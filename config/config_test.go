package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plexdb/common"
)

func TestConfig(t *testing.T) {
	t.Run("Test Defaults", func(t *testing.T) {
		c, err := Parse([]byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"band"}, c.PKExceptions)
		assert.Equal(t, common.DefaultOwner, c.DefaultOwner)
		assert.Equal(t, "", c.DBPath)
		assert.False(t, c.RemoveInvalidChars)
	})

	t.Run("Test Parse", func(t *testing.T) {
		c, err := Parse([]byte(`{
			"db_path": "model.db",
			"pk_exceptions": ["band", "text"],
			"remove_invalid_chars": true,
			"default_owner": "System.Main",
			"log_level": "debug"
		}`))
		require.NoError(t, err)
		assert.Equal(t, "model.db", c.DBPath)
		assert.Equal(t, []string{"band", "text"}, c.PKExceptions)
		assert.True(t, c.RemoveInvalidChars)
		assert.Equal(t, "System.Main", c.DefaultOwner)
		lvl, err := c.Level()
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, lvl)

		opts := c.Options(logrus.New())
		assert.Equal(t, "model.db", opts.DBPath)
		assert.Equal(t, "System.Main", opts.DefaultOwner)
		assert.NotNil(t, opts.Logger)
	})

	t.Run("Test Empty Exceptions", func(t *testing.T) {
		c, err := Parse([]byte(`{"pk_exceptions": []}`))
		require.NoError(t, err)
		assert.NotNil(t, c.PKExceptions)
		assert.Empty(t, c.PKExceptions)
	})

	t.Run("Test Invalid", func(t *testing.T) {
		for _, data := range []string{
			`{"db_path": `,
			`[1, 2]`,
			`{"db_path": 3}`,
			`{"pk_exceptions": "band"}`,
			`{"pk_exceptions": [1]}`,
			`{"remove_invalid_chars": "yes"}`,
			`{"log_level": "loud"}`,
		} {
			_, err := Parse([]byte(data))
			assert.True(t, errors.Is(err, common.ErrValidation), data)
		}
	})

	t.Run("Test Load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plexdb.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"db_path": "x.db"}`), 0o644))
		c, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "x.db", c.DBPath)

		_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}

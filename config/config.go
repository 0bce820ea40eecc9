// Package config reads plexdb options from a JSON file.
//
//	{
//	  "db_path": "model.db",
//	  "pk_exceptions": ["band"],
//	  "remove_invalid_chars": true,
//	  "default_owner": "System.System",
//	  "log_level": "info"
//	}
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"plexdb"
	"plexdb/common"
)

type Config struct {
	DBPath             string
	PKExceptions       []string
	RemoveInvalidChars bool
	DefaultOwner       string
	LogLevel           string
}

func Default() Config {
	return Config{
		PKExceptions: append([]string(nil), plexdb.DefaultPKExceptions...),
		DefaultOwner: common.DefaultOwner,
		LogLevel:     "info",
	}
}

// Load reads the file at path. Keys missing from the file keep their
// defaults.
func Load(path string) (c Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.WithStack(err)
	}
	return Parse(data)
}

func Parse(data []byte) (c Config, err error) {
	c = Default()
	if !gjson.ValidBytes(data) {
		return c, errors.Wrap(common.ErrValidation, "config is not valid json")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return c, errors.Wrap(common.ErrValidation, "config must be a json object")
	}

	if v := root.Get("db_path"); v.Exists() {
		if v.Type != gjson.String {
			return c, typeError("db_path", "string")
		}
		c.DBPath = v.String()
	}
	if v := root.Get("pk_exceptions"); v.Exists() {
		if !v.IsArray() {
			return c, typeError("pk_exceptions", "array")
		}
		c.PKExceptions = []string{}
		for _, item := range v.Array() {
			if item.Type != gjson.String {
				return c, typeError("pk_exceptions", "array of strings")
			}
			c.PKExceptions = append(c.PKExceptions, item.String())
		}
	}
	if v := root.Get("remove_invalid_chars"); v.Exists() {
		if v.Type != gjson.True && v.Type != gjson.False {
			return c, typeError("remove_invalid_chars", "bool")
		}
		c.RemoveInvalidChars = v.Bool()
	}
	if v := root.Get("default_owner"); v.Exists() {
		if v.Type != gjson.String {
			return c, typeError("default_owner", "string")
		}
		c.DefaultOwner = v.String()
	}
	if v := root.Get("log_level"); v.Exists() {
		if v.Type != gjson.String {
			return c, typeError("log_level", "string")
		}
		c.LogLevel = v.String()
	}
	if _, err = c.Level(); err != nil {
		return c, err
	}
	return c, nil
}

func typeError(key, want string) error {
	return errors.Wrap(common.ErrValidation, fmt.Sprintf("config key %s must be a %s", key, want))
}

func (c Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, errors.Wrap(common.ErrValidation, err.Error())
	}
	return lvl, nil
}

// Options converts to loader options logging through log.
func (c Config) Options(log logrus.FieldLogger) plexdb.Options {
	return plexdb.Options{
		DBPath:             c.DBPath,
		PKExceptions:       c.PKExceptions,
		RemoveInvalidChars: c.RemoveInvalidChars,
		DefaultOwner:       c.DefaultOwner,
		Logger:             log,
	}
}

// Package plexdb loads PLEXOS XML model files into SQLite with a schema
// discovered from the file itself, edits model properties through the
// membership/data/tag graph and writes the model back out.
package plexdb

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"plexdb/common"
	"plexdb/record"
)

type Options struct {
	// DBPath is the SQLite file to build. Empty builds an in-memory store.
	DBPath string
	// PKExceptions lists tables whose <table>_id column is not a primary key.
	PKExceptions []string
	// RemoveInvalidChars drops control character references ahead of parsing.
	RemoveInvalidChars bool
	// DefaultOwner is the hierarchy of the owner used when no tag is given.
	DefaultOwner string
	Logger       logrus.FieldLogger
}

var DefaultPKExceptions = []string{"band"}

func (o Options) withDefaults() Options {
	if o.PKExceptions == nil {
		o.PKExceptions = DefaultPKExceptions
	}
	if o.DefaultOwner == "" {
		o.DefaultOwner = common.DefaultOwner
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	return o
}

// LoadFile loads the XML file at path.
func LoadFile(ctx context.Context, path string, opts Options) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	return Load(ctx, f, opts)
}

// Load ingests an XML record stream into a new store. No store is returned
// when ingestion fails, and no file is left at opts.DBPath.
func Load(ctx context.Context, src io.Reader, opts Options) (store *Store, err error) {
	opts = opts.withDefaults()
	target, tmpPath := MemoryPath, ""
	if opts.DBPath != "" {
		tmpPath = common.TempPath(opts.DBPath)
		target = tmpPath
	}

	db := NewSqliteImpl()
	if err = db.Open(ctx, target); err != nil {
		return
	}
	defer func() {
		if err != nil {
			db.Close(ctx)
			if tmpPath != "" {
				os.Remove(tmpPath)
			}
		}
	}()

	if opts.RemoveInvalidChars {
		if src, err = record.StripInvalidChars(src); err != nil {
			return
		}
	}
	if err = newLoader(db, opts).run(ctx, src); err != nil {
		return
	}

	if tmpPath != "" {
		if err = db.Close(ctx); err != nil {
			return
		}
		if err = os.Rename(tmpPath, opts.DBPath); err != nil {
			err = errors.WithStack(err)
			return
		}
		tmpPath = ""
		if err = db.Open(ctx, opts.DBPath); err != nil {
			return
		}
	}
	return newStore(ctx, db, opts)
}

// Open reopens a store persisted by Load.
func Open(ctx context.Context, path string, opts Options) (store *Store, err error) {
	opts = opts.withDefaults()
	if _, err = os.Stat(path); err != nil {
		return nil, errors.WithStack(err)
	}
	db := NewSqliteImpl()
	if err = db.Open(ctx, path); err != nil {
		return
	}
	if store, err = newStore(ctx, db, opts); err != nil {
		db.Close(ctx)
		return nil, err
	}
	return
}

package plexdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"plexdb/common"
	"plexdb/record"
	"plexdb/schema"
	"plexdb/tx"
)

// MetaTable keeps the root element and namespace of the loaded file.
const MetaTable = "plexos_meta"

// Columns that get an index whenever a file has them.
var hotIndexes = [][]string{
	{"object", "name"},
	{"property", "name"},
	{"data", "uid"},
}

type loader struct {
	db    common.DB
	log   logrus.FieldLogger
	reg   *schema.Registry
	stmts map[string]*sql.Stmt
	rows  int
}

func newLoader(db common.DB, opts Options) *loader {
	return &loader{
		db:    db,
		log:   opts.Logger,
		reg:   schema.NewRegistry(opts.PKExceptions),
		stmts: map[string]*sql.Stmt{},
	}
}

func (l *loader) run(ctx context.Context, src io.Reader) (err error) {
	start := time.Now()
	r := record.NewReader(src)
	header, err := r.Header()
	if err != nil {
		return
	}
	l.log.WithField("action", "load").
		WithField("root", header.Root).
		WithField("namespace", header.Namespace).
		Info("loading records")

	if err = Update(ctx, l.db, func(wtx tx.WriteTx) error {
		if err := l.ingest(ctx, wtx, r); err != nil {
			return err
		}
		for _, m := range l.reg.Migrations() {
			l.log.WithField("action", "load_rebuild_fk").
				WithField("table", m.Table.Name).
				WithField("foreign_keys", len(m.ForeignKeys)).
				Info("rebuilding table with foreign keys")
			if err := rebuildTable(wtx, m); err != nil {
				return err
			}
		}
		return l.finish(wtx, header)
	}); err != nil {
		return
	}
	l.log.WithField("action", "load").
		WithField("rows", l.rows).
		WithField("tables", len(l.reg.Tables())).
		WithField("took", time.Since(start).String()).
		Info("loaded records")
	return nil
}

func (l *loader) ingest(ctx context.Context, wtx tx.WriteTx, r *record.Reader) (err error) {
	defer func() {
		for key, stmt := range l.stmts {
			stmt.Close()
			delete(l.stmts, key)
		}
	}()
	for {
		if err = ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		var rec *record.Record
		rec, err = r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return
		}
		if err = l.insert(ctx, wtx, rec); err != nil {
			return
		}
	}
}

func (l *loader) insert(ctx context.Context, wtx tx.WriteTx, rec *record.Record) (err error) {
	names := rec.FieldNames()
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return errors.Wrapf(common.ErrMalformedInput,
				"problem loading row %d: duplicate field %s in %s", l.rows+1, name, rec.Table)
		}
		seen[name] = true
	}

	observed := names
	if len(names) == 0 && !l.reg.HasTable(rec.Table) {
		// a table needs at least one column, so an empty first row declares
		// the table's own id column.
		observed = []string{rec.Table + schema.IDSuffix}
	}
	t, created, added := l.reg.Observe(rec.Table, observed)
	if created {
		l.log.WithField("action", "load_create_table").
			WithField("table", t.Name).
			Debug("creating table")
		if err = createTable(wtx, t); err != nil {
			return errors.Wrapf(common.ErrMalformedInput, "problem creating table %s: %v", t.Name, err)
		}
	}
	for _, c := range added {
		l.log.WithField("action", "load_add_column").
			WithField("table", t.Name).
			WithField("column", c.Name).
			Debug("adding column")
		if err = addColumn(wtx, t.Name, c); err != nil {
			return errors.Wrapf(common.ErrMalformedInput, "problem adding column %s to %s: %v", c.Name, t.Name, err)
		}
	}

	stmt, err := l.stmt(wtx, rec.Table, names)
	if err != nil {
		return errors.Wrapf(common.ErrMalformedInput, "problem preparing insert into %s: %v", rec.Table, err)
	}
	args := make([]any, len(rec.Fields))
	for i, f := range rec.Fields {
		if f.Nil {
			l.log.WithField("action", "load_null_value").
				WithField("table", rec.Table).
				WithField("column", f.Name).
				Warn("found null value, inserting blank string")
		}
		args[i] = f.Value
	}
	if _, err = stmt.ExecContext(ctx, args...); err != nil {
		return errors.Wrapf(common.ErrMalformedInput, "problem loading row %d into %s: %v", l.rows+1, rec.Table, err)
	}
	l.rows++
	return nil
}

// stmt returns the insert statement for one (table, field list) shape.
func (l *loader) stmt(wtx tx.WriteTx, table string, names []string) (stmt *sql.Stmt, err error) {
	key := table + "\x00" + strings.Join(names, "\x00")
	if stmt, ok := l.stmts[key]; ok {
		return stmt, nil
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", schema.Quote(table), quoteAll(names), placeholders(len(names)))
	if len(names) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", schema.Quote(table))
	}
	stmt, err = wtx.Prepare(query)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	l.stmts[key] = stmt
	return stmt, nil
}

func (l *loader) finish(wtx tx.WriteTx, header record.Header) (err error) {
	for _, fk := range l.reg.Candidates() {
		if err = createIndex(wtx, indexName(fk.Table, fk.Column), fk.Table, fk.Column); err != nil {
			return
		}
	}
	for _, idx := range hotIndexes {
		if l.reg.HasColumn(idx[0], idx[1]) {
			if err = createIndex(wtx, indexName(idx[0], idx[1]), idx[0], idx[1]); err != nil {
				return
			}
		}
	}
	if l.reg.HasColumn("object", "class_id") && l.reg.HasColumn("object", "name") {
		if err = createIndex(wtx, indexName("object", "class_id", "name"), "object", "class_id", "name"); err != nil {
			return
		}
	}

	if err = writeMeta(wtx, header); err != nil {
		return
	}
	if err = l.validate(wtx); err != nil {
		return
	}
	if err = createSpreadsheetView(wtx, l.reg, l.log); err != nil {
		return
	}
	return createPropertyView(wtx, l.reg)
}

func writeMeta(wtx tx.WriteTx, header record.Header) (err error) {
	stmts := []string{
		"DROP TABLE IF EXISTS " + schema.Quote(MetaTable),
		fmt.Sprintf("CREATE TABLE %s (%s INTEGER PRIMARY KEY, name TEXT, value TEXT)",
			schema.Quote(MetaTable), schema.Quote(MetaTable+schema.IDSuffix)),
	}
	for _, stmt := range stmts {
		if _, err = wtx.Exec(stmt); err != nil {
			return errors.WithStack(err)
		}
	}
	ins := fmt.Sprintf("INSERT INTO %s (name, value) VALUES (?, ?)", schema.Quote(MetaTable))
	if _, err = wtx.Exec(ins, "namespace", header.Namespace); err != nil {
		return errors.WithStack(err)
	}
	_, err = wtx.Exec(ins, "root_element", header.Root)
	return errors.WithStack(err)
}

// validate rejects files whose property names are ambiguous within a
// collection.
func (l *loader) validate(wtx tx.WriteTx) (err error) {
	if !l.reg.HasColumn("property", "collection_id") || !l.reg.HasColumn("property", "name") {
		return nil
	}
	var (
		collectionID sql.NullInt64
		name         sql.NullString
		count        int
	)
	err = wtx.QueryRow(`SELECT collection_id, name, COUNT(*) FROM property
		GROUP BY collection_id, name HAVING COUNT(*) > 1 LIMIT 1`).Scan(&collectionID, &name, &count)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(common.ErrSchemaViolation,
		"duplicate property %s in collection %d (%d rows)", name.String, collectionID.Int64, count)
}

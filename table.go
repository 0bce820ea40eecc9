package plexdb

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"plexdb/common"
	"plexdb/schema"
	"plexdb/tx"
)

// Table builder: every DDL statement the loader and the lazy auxiliary
// tables issue goes through here.

func createTable(wtx tx.WriteTx, t *schema.Table) (err error) {
	if _, err = wtx.Exec("DROP TABLE IF EXISTS " + schema.Quote(t.Name)); err != nil {
		return errors.WithStack(err)
	}
	_, err = wtx.Exec(createTableStmt(t.Name, t.Columns, nil))
	return errors.WithStack(err)
}

func createTableStmt(name string, cols []schema.Column, fks []schema.ForeignKey) string {
	defs := make([]string, 0, len(cols)+len(fks))
	for _, c := range cols {
		defs = append(defs, c.Definition(true))
	}
	for _, fk := range fks {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)",
			schema.Quote(fk.Column), schema.Quote(fk.References()), schema.Quote(fk.Column)))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", schema.Quote(name), strings.Join(defs, ", "))
}

func addColumn(wtx tx.WriteTx, table string, c schema.Column) (err error) {
	_, err = wtx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", schema.Quote(table), c.Definition(false)))
	return errors.WithStack(err)
}

// rebuildTable recreates t with its primary key and foreign key clauses. Rows
// are staged into a fresh table which then takes over the name, so REFERENCES
// clauses in other tables always keep pointing at the final name.
func rebuildTable(wtx tx.WriteTx, m schema.Migration) (err error) {
	name := m.Table.Name
	staging := common.TempTable(name)
	cols := quoteAll(m.Table.ColumnNames())

	if _, err = wtx.Exec(createTableStmt(staging, m.Table.Columns, m.ForeignKeys)); err != nil {
		return errors.WithStack(err)
	}
	copyStmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ORDER BY rowid",
		schema.Quote(staging), cols, cols, schema.Quote(name))
	if _, err = wtx.Exec(copyStmt); err != nil {
		return errors.WithStack(err)
	}
	if _, err = wtx.Exec("DROP TABLE " + schema.Quote(name)); err != nil {
		return errors.WithStack(err)
	}
	_, err = wtx.Exec(fmt.Sprintf("ALTER TABLE %s RENAME TO %s", schema.Quote(staging), schema.Quote(name)))
	return errors.WithStack(err)
}

func createIndex(wtx tx.WriteTx, name, table string, cols ...string) (err error) {
	_, err = wtx.Exec(fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		schema.Quote(name), schema.Quote(table), quoteAll(cols)))
	return errors.WithStack(err)
}

func indexName(table string, cols ...string) string {
	return table + "_" + strings.Join(cols, "_and_") + "_idx"
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = schema.Quote(n)
	}
	return strings.Join(q, ", ")
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Definitions of the auxiliary tables a store may lack until the first edit
// that needs them.
var auxTables = map[string][]schema.Column{
	"attribute_data": {
		{Name: "object_id", Kind: schema.Integer},
		{Name: "attribute_id", Kind: schema.Integer},
		{Name: "value", Kind: schema.Text},
	},
	"band": {
		{Name: "data_id", Kind: schema.Integer},
		{Name: "band_id", Kind: schema.Integer},
	},
	"tag": {
		{Name: "data_id", Kind: schema.Integer},
		{Name: "object_id", Kind: schema.Integer},
	},
	"text": {
		{Name: "data_id", Kind: schema.Integer},
		{Name: "class_id", Kind: schema.Integer},
		{Name: "value", Kind: schema.Text},
	},
}

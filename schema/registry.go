// Package schema infers table definitions from the field names of incoming
// records and keeps the accumulated definitions until they are materialized.
package schema

import (
	"strings"
)

type Kind string

const (
	Integer Kind = "INTEGER"
	Text    Kind = "TEXT"
)

// IDSuffix marks identifier columns.
const IDSuffix = "_id"

// UIDColumn is typed as an integer even though it lacks the suffix.
const UIDColumn = "uid"

type Column struct {
	Name       string
	Kind       Kind
	PrimaryKey bool
}

// Definition renders the column for CREATE/ALTER TABLE. ALTER TABLE cannot
// add a primary key, hence withPK.
func (c Column) Definition(withPK bool) string {
	def := Quote(c.Name) + " " + string(c.Kind)
	if withPK && c.PrimaryKey {
		def += " PRIMARY KEY"
	}
	return def
}

type Table struct {
	Name    string
	Columns []Column
	index   map[string]int
	// pkLate is set when the primary key column arrived through ALTER TABLE.
	pkLate bool
}

func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

func (t *Table) ColumnNames() []string {
	ret := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		ret = append(ret, c.Name)
	}
	return ret
}

func (t *Table) add(c Column) {
	t.index[c.Name] = len(t.Columns)
	t.Columns = append(t.Columns, c)
}

// ForeignKey is a candidate foreign key column. It references the table named
// by the column prefix, on a column of the same name.
type ForeignKey struct {
	Table  string
	Column string
}

func (fk ForeignKey) References() string {
	return strings.TrimSuffix(fk.Column, IDSuffix)
}

// Migration is one deferred table rebuild.
type Migration struct {
	Table       *Table
	ForeignKeys []ForeignKey
}

// Lookup answers schema questions for both a registry under construction and
// a materialized catalog.
type Lookup interface {
	HasTable(table string) bool
	HasColumn(table, column string) bool
}

// Registry accumulates table definitions in discovery order.
type Registry struct {
	tables       map[string]*Table
	order        []string
	pkExceptions map[string]bool
	candidates   []ForeignKey
}

func NewRegistry(pkExceptions []string) *Registry {
	r := &Registry{
		tables:       map[string]*Table{},
		pkExceptions: map[string]bool{},
	}
	for _, name := range pkExceptions {
		r.pkExceptions[name] = true
	}
	return r
}

// Infer types a field of table.
func (r *Registry) Infer(table, field string) Column {
	c := Column{Name: field, Kind: Text}
	switch {
	case strings.HasSuffix(field, IDSuffix):
		c.Kind = Integer
		c.PrimaryKey = r.isPrimaryKey(table, field)
	case field == UIDColumn:
		c.Kind = Integer
	}
	return c
}

func (r *Registry) isPrimaryKey(table, field string) bool {
	return field == table+IDSuffix && !r.pkExceptions[table]
}

// Observe extends the registry with one record's fields. It reports whether
// the table is new and which columns a known table gained, in field order.
func (r *Registry) Observe(table string, fields []string) (t *Table, created bool, added []Column) {
	t, ok := r.tables[table]
	if !ok {
		t = &Table{Name: table, index: map[string]int{}}
		r.tables[table] = t
		r.order = append(r.order, table)
		created = true
		for _, f := range fields {
			if t.Has(f) {
				continue
			}
			c := r.Infer(table, f)
			t.add(c)
			if c.Kind == Integer && strings.HasSuffix(f, IDSuffix) && !c.PrimaryKey {
				r.candidates = append(r.candidates, ForeignKey{Table: table, Column: f})
			}
		}
		return
	}
	for _, f := range fields {
		if t.Has(f) {
			continue
		}
		c := r.Infer(table, f)
		t.add(c)
		added = append(added, c)
		if strings.HasSuffix(f, IDSuffix) {
			if c.PrimaryKey {
				t.pkLate = true
			} else {
				r.candidates = append(r.candidates, ForeignKey{Table: table, Column: f})
			}
		}
	}
	return
}

func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

func (r *Registry) HasTable(name string) bool {
	_, ok := r.tables[name]
	return ok
}

func (r *Registry) HasColumn(table, column string) bool {
	t, ok := r.tables[table]
	return ok && t.Has(column)
}

// Tables lists table names in discovery order.
func (r *Registry) Tables() []string {
	ret := make([]string, len(r.order))
	copy(ret, r.order)
	return ret
}

// Candidates lists every candidate foreign key in discovery order.
func (r *Registry) Candidates() []ForeignKey {
	ret := make([]ForeignKey, len(r.candidates))
	copy(ret, r.candidates)
	return ret
}

// Migrations groups the candidates whose referenced table exists by owning
// table, in order of each table's first candidate. Tables whose primary key
// was added late are rebuilt too, with or without foreign keys.
func (r *Registry) Migrations() []Migration {
	byTable := map[string]int{}
	ret := []Migration{}
	for _, fk := range r.candidates {
		if _, ok := r.tables[fk.References()]; !ok {
			continue
		}
		idx, ok := byTable[fk.Table]
		if !ok {
			idx = len(ret)
			byTable[fk.Table] = idx
			ret = append(ret, Migration{Table: r.tables[fk.Table]})
		}
		ret[idx].ForeignKeys = append(ret[idx].ForeignKeys, fk)
	}
	for _, name := range r.order {
		t := r.tables[name]
		if _, ok := byTable[name]; t.pkLate && !ok {
			ret = append(ret, Migration{Table: t})
		}
	}
	return ret
}

// Quote quotes an SQL identifier.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

package schema

import "sort"

// Catalog is the frozen schema of a materialized store: table name to column
// names in declaration order.
type Catalog struct {
	tables map[string][]string
}

func NewCatalog() *Catalog {
	return &Catalog{tables: map[string][]string{}}
}

func (c *Catalog) Add(table string, columns []string) {
	cols := make([]string, len(columns))
	copy(cols, columns)
	c.tables[table] = cols
}

func (c *Catalog) HasTable(table string) bool {
	_, ok := c.tables[table]
	return ok
}

func (c *Catalog) HasColumn(table, column string) bool {
	for _, col := range c.tables[table] {
		if col == column {
			return true
		}
	}
	return false
}

func (c *Catalog) Columns(table string) []string {
	cols := c.tables[table]
	ret := make([]string, len(cols))
	copy(ret, cols)
	return ret
}

// Tables lists table names in lexical order.
func (c *Catalog) Tables() []string {
	ret := make([]string, 0, len(c.tables))
	for name := range c.tables {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

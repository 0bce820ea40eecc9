package plexdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"plexdb/common"
	"plexdb/schema"
	"plexdb/tx"
)

// HierarchySeparators are tried in order when resolving "Class.Object";
// the pipe form exists for object names that contain dots.
var HierarchySeparators = []string{".", "|"}

// Store is an ingested model.
type Store struct {
	db      common.DB
	log     logrus.FieldLogger
	opts    Options
	catalog *schema.Catalog
	hier    *Hierarchy

	owner      common.ObjectRow
	ownerClass common.ClassRow
	hasOwner   bool
}

func newStore(ctx context.Context, db common.DB, opts Options) (s *Store, err error) {
	s = &Store{
		db:   db,
		log:  opts.Logger,
		opts: opts,
		hier: NewHierarchy(),
	}
	err = View(ctx, db, func(rtx tx.ReadTx) (err error) {
		if s.catalog, err = readCatalog(rtx); err != nil {
			return
		}
		return s.resolveDefaultOwner(rtx)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) resolveDefaultOwner(rtx tx.ReadTx) (err error) {
	if !s.catalog.HasTable("object") || !s.catalog.HasTable("class") {
		return nil
	}
	s.owner, s.ownerClass, err = s.objectByHierarchy(rtx, s.opts.DefaultOwner)
	if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrValidation) {
		s.log.WithField("action", "open").
			WithField("default_owner", s.opts.DefaultOwner).
			Warn("default owner not found, untagged property access is unavailable")
		return nil
	}
	if err != nil {
		return
	}
	s.hasOwner = true
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

// Path is the SQLite file backing the store, ":memory:" for in-memory stores.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) Catalog() *schema.Catalog {
	return s.catalog
}

func (s *Store) DefaultOwner() string {
	return s.opts.DefaultOwner
}

func (s *Store) Hierarchy() *Hierarchy {
	return s.hier
}

func (s *Store) view(ctx context.Context, fn func(rtx tx.ReadTx) error) error {
	return View(ctx, s.db, fn)
}

// update runs one mutation. Tables created inside a rolled back transaction
// disappear again, so the catalog is reread on failure.
func (s *Store) update(ctx context.Context, fn func(wtx tx.WriteTx) error) (err error) {
	before := len(s.catalog.Tables())
	err = Update(ctx, s.db, fn)
	if err != nil && len(s.catalog.Tables()) != before {
		if rerr := s.view(ctx, func(rtx tx.ReadTx) (rerr error) {
			s.catalog, rerr = readCatalog(rtx)
			return
		}); rerr != nil {
			s.log.WithError(rerr).Error("reloading catalog")
		}
	}
	return
}

// ensureTable creates a missing auxiliary table and rebuilds the property
// view on top of it.
func (s *Store) ensureTable(wtx tx.WriteTx, name string) (err error) {
	if s.catalog.HasTable(name) {
		return nil
	}
	cols, ok := auxTables[name]
	if !ok {
		return errors.Wrapf(common.ErrTableNotFound, "%s", name)
	}
	s.log.WithField("action", "create_table").WithField("table", name).Info("creating missing table")
	if _, err = wtx.Exec(createTableStmt(name, cols, nil)); err != nil {
		return errors.WithStack(err)
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	s.catalog.Add(name, names)
	return createPropertyView(wtx, s.catalog)
}

func (s *Store) requireTable(names ...string) error {
	for _, name := range names {
		if !s.catalog.HasTable(name) {
			return errors.Wrapf(common.ErrTableNotFound, "%s", name)
		}
	}
	return nil
}

// col selects alias.column, or NULL when the table lacks the column.
func (s *Store) col(table, alias, column string) string {
	if s.catalog.HasColumn(table, column) {
		return alias + "." + schema.Quote(column)
	}
	return "NULL"
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) classSelect() string {
	return fmt.Sprintf("SELECT c.class_id, c.name, %s FROM class c", s.col("class", "c", "is_enabled"))
}

func scanClass(sc scanner) (c common.ClassRow, err error) {
	err = sc.Scan(&c.ClassID, &c.Name, &c.IsEnabled)
	return
}

func (s *Store) objectSelect() string {
	return fmt.Sprintf("SELECT o.object_id, o.class_id, o.name, %s, %s FROM object o",
		s.col("object", "o", "category_id"), s.col("object", "o", "GUID"))
}

func scanObject(sc scanner) (o common.ObjectRow, err error) {
	err = sc.Scan(&o.ObjectID, &o.ClassID, &o.Name, &o.CategoryID, &o.GUID)
	return
}

// propertyColumns lists the columns scanProperty reads, for alias p.
func (s *Store) propertyColumns() string {
	return fmt.Sprintf("p.property_id, p.collection_id, p.name, %s, %s, %s, %s",
		s.col("property", "p", "input_mask"), s.col("property", "p", "default_value"),
		s.col("property", "p", "is_dynamic"), s.col("property", "p", "is_enabled"))
}

// scanProperty scans extra leading columns into extra, then the columns of
// propertyColumns.
func scanProperty(sc scanner, extra ...any) (p common.PropertyRow, err error) {
	dest := append(extra, &p.PropertyID, &p.CollectionID, &p.Name, &p.InputMask,
		&p.DefaultValue, &p.IsDynamic, &p.IsEnabled)
	err = sc.Scan(dest...)
	return
}

func notFound(err error, kind error, format string, args ...any) error {
	if err == sql.ErrNoRows {
		return errors.Wrapf(kind, format, args...)
	}
	return errors.WithStack(err)
}

func (s *Store) classByName(rtx tx.ReadTx, name string) (c common.ClassRow, err error) {
	if err = s.requireTable("class"); err != nil {
		return
	}
	c, err = scanClass(rtx.QueryRow(s.classSelect()+" WHERE c.name = ?", name))
	if err != nil {
		err = notFound(err, common.ErrClassNotFound, "no such class '%s'", name)
	}
	return
}

func (s *Store) classByID(rtx tx.ReadTx, id int64) (c common.ClassRow, err error) {
	if err = s.requireTable("class"); err != nil {
		return
	}
	c, err = scanClass(rtx.QueryRow(s.classSelect()+" WHERE c.class_id = ?", id))
	if err != nil {
		err = notFound(err, common.ErrClassNotFound, "no class with id %d", id)
	}
	return
}

func (s *Store) objectByID(rtx tx.ReadTx, id int64) (o common.ObjectRow, err error) {
	if err = s.requireTable("object"); err != nil {
		return
	}
	o, err = scanObject(rtx.QueryRow(s.objectSelect()+" WHERE o.object_id = ?", id))
	if err != nil {
		err = notFound(err, common.ErrObjectNotFound, "no object with id %d", id)
	}
	return
}

func (s *Store) objectByName(rtx tx.ReadTx, class common.ClassRow, name string) (o common.ObjectRow, err error) {
	if err = s.requireTable("object"); err != nil {
		return
	}
	o, err = scanObject(rtx.QueryRow(s.objectSelect()+" WHERE o.class_id = ? AND o.name = ?", class.ClassID, name))
	if err != nil {
		err = notFound(err, common.ErrObjectNotFound, "no such object '%s' in %s", name, class.Name)
	}
	return
}

func (s *Store) objectByPath(rtx tx.ReadTx, p common.Path) (o common.ObjectRow, c common.ClassRow, err error) {
	if c, err = s.classByName(rtx, p.Class); err != nil {
		return
	}
	o, err = s.objectByName(rtx, c, p.Object)
	return
}

func (s *Store) objectByHierarchy(rtx tx.ReadTx, hier string) (o common.ObjectRow, c common.ClassRow, err error) {
	var p common.Path
	for _, sep := range HierarchySeparators {
		if !strings.Contains(hier, sep) {
			continue
		}
		if p, err = common.ParsePath(hier, sep); err != nil {
			continue
		}
		o, c, err = s.objectByPath(rtx, p)
		if !errors.Is(err, common.ErrNotFound) {
			return
		}
	}
	if err == nil {
		err = errors.Wrapf(common.ErrValidation,
			"invalid hierarchy '%s', must take the form class.object or class|object", hier)
	}
	return
}

// ownerOf resolves a tag argument; empty means the default owner.
func (s *Store) ownerOf(rtx tx.ReadTx, tag string) (o common.ObjectRow, c common.ClassRow, err error) {
	if tag == "" || tag == s.opts.DefaultOwner {
		if !s.hasOwner {
			err = errors.Wrapf(common.ErrObjectNotFound, "default owner %s", s.opts.DefaultOwner)
			return
		}
		return s.owner, s.ownerClass, nil
	}
	return s.objectByHierarchy(rtx, tag)
}

func (s *Store) isDefaultOwner(objectID int64) bool {
	return s.hasOwner && s.owner.ObjectID == objectID
}

// Classes lists class names in id order.
func (s *Store) Classes(ctx context.Context) (names []string, err error) {
	if !s.catalog.HasTable("class") {
		return []string{}, nil
	}
	err = s.view(ctx, func(rtx tx.ReadTx) error {
		names, err = queryStrings(rtx, "SELECT name FROM class ORDER BY class_id")
		return err
	})
	return
}

// Class returns the class called name.
func (s *Store) Class(ctx context.Context, name string) (cv *ClassView, err error) {
	err = s.view(ctx, func(rtx tx.ReadTx) error {
		c, err := s.classByName(rtx, name)
		if err != nil {
			return err
		}
		cv = s.newClassView(c)
		return nil
	})
	return
}

// List returns the object names of a class. Unknown classes list nothing.
func (s *Store) List(ctx context.Context, className string) (names []string, err error) {
	names = []string{}
	if !s.catalog.HasTable("object") || !s.catalog.HasTable("class") {
		return
	}
	err = s.view(ctx, func(rtx tx.ReadTx) error {
		names, err = queryStrings(rtx, `SELECT o.name FROM object o
			INNER JOIN class c ON c.class_id = o.class_id
			WHERE c.name = ? ORDER BY o.object_id`, className)
		return err
	})
	return
}

func (s *Store) ObjectByID(ctx context.Context, id int64) (ov *ObjectView, err error) {
	err = s.view(ctx, func(rtx tx.ReadTx) error {
		ov, err = s.objectView(rtx, id)
		return err
	})
	return
}

// ByHierarchy returns the object at "Class.Object" (or "Class|Object").
func (s *Store) ByHierarchy(ctx context.Context, hier string) (ov *ObjectView, err error) {
	err = s.view(ctx, func(rtx tx.ReadTx) error {
		o, c, err := s.objectByHierarchy(rtx, hier)
		if err != nil {
			return err
		}
		ov = s.newObjectView(o, c)
		return nil
	})
	return
}

func (s *Store) objectView(rtx tx.ReadTx, id int64) (ov *ObjectView, err error) {
	o, err := s.objectByID(rtx, id)
	if err != nil {
		return
	}
	c, err := s.classByID(rtx, o.ClassID)
	if err != nil {
		return
	}
	return s.newObjectView(o, c), nil
}

// HierarchyOf returns "Class.Object" for an object id.
func (s *Store) HierarchyOf(ctx context.Context, id int64) (hier string, err error) {
	err = s.view(ctx, func(rtx tx.ReadTx) error {
		hier, err = s.hier.Resolve(rtx, id)
		return err
	})
	return
}

func (s *Store) GetConfig(ctx context.Context, key string) (value string, err error) {
	if err = s.requireTable("config"); err != nil {
		return
	}
	err = s.view(ctx, func(rtx tx.ReadTx) error {
		var v sql.NullString
		if err := rtx.QueryRow("SELECT value FROM config WHERE element = ?", key).Scan(&v); err != nil {
			return notFound(err, common.ErrConfigNotFound, "no such config element %s", key)
		}
		value = v.String
		return nil
	})
	return
}

func (s *Store) SetConfig(ctx context.Context, key, value string) (err error) {
	if err = s.requireTable("config"); err != nil {
		return
	}
	return s.update(ctx, func(wtx tx.WriteTx) error {
		return setConfig(wtx, key, value)
	})
}

func setConfig(wtx tx.WriteTx, key, value string) error {
	res, err := wtx.Exec("UPDATE config SET value = ? WHERE element = ?", value, key)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.WithStack(err)
	} else if n == 0 {
		return errors.Wrapf(common.ErrConfigNotFound, "no such config element %s", key)
	}
	return nil
}

func queryStrings(rtx tx.ReadTx, stmt string, args ...any) (ret []string, err error) {
	rows, err := rtx.Query(stmt, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	ret = []string{}
	for rows.Next() {
		var v sql.NullString
		if err = rows.Scan(&v); err != nil {
			return nil, errors.WithStack(err)
		}
		ret = append(ret, v.String)
	}
	return ret, errors.WithStack(rows.Err())
}

func queryInts(rtx tx.ReadTx, stmt string, args ...any) (ret []int64, err error) {
	rows, err := rtx.Query(stmt, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	ret = []int64{}
	for rows.Next() {
		var v int64
		if err = rows.Scan(&v); err != nil {
			return nil, errors.WithStack(err)
		}
		ret = append(ret, v)
	}
	return ret, errors.WithStack(rows.Err())
}

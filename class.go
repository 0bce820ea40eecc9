package plexdb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"plexdb/common"
	"plexdb/schema"
	"plexdb/tx"
)

// DefaultCategory is the category of objects created without one.
const DefaultCategory = "-"

// ClassView is a handle on one class and the objects in it.
type ClassView struct {
	store *Store
	meta  common.ClassRow
}

func (s *Store) newClassView(c common.ClassRow) *ClassView {
	return &ClassView{store: s, meta: c}
}

func (c *ClassView) Name() string { return c.meta.Name }
func (c *ClassView) ID() int64 { return c.meta.ClassID }
func (c *ClassView) Meta() common.ClassRow { return c.meta }
func (c *ClassView) Store() *Store { return c.store }
func (c *ClassView) String() string { return c.meta.Name }

// Keys lists the object names of the class.
func (c *ClassView) Keys(ctx context.Context) (names []string, err error) {
	err = c.store.view(ctx, func(rtx tx.ReadTx) error {
		names, err = c.keys(rtx)
		return err
	})
	return
}

func (c *ClassView) keys(rtx tx.ReadTx) ([]string, error) {
	if !c.store.catalog.HasTable("object") {
		return []string{}, nil
	}
	return queryStrings(rtx, "SELECT name FROM object WHERE class_id = ? ORDER BY object_id", c.meta.ClassID)
}

func (c *ClassView) Len(ctx context.Context) (n int, err error) {
	names, err := c.Keys(ctx)
	return len(names), err
}

// Get returns the object called name.
func (c *ClassView) Get(ctx context.Context, name string) (ov *ObjectView, err error) {
	err = c.store.view(ctx, func(rtx tx.ReadTx) error {
		o, err := c.store.objectByName(rtx, c.meta, name)
		if err != nil {
			return err
		}
		ov = c.store.newObjectView(o, c.meta)
		return nil
	})
	return
}

// Properties returns the properties objects of this class may carry, keyed by
// the class of the membership parent and then by property name. A name
// declared on several collections between the same classes maps to the
// first declaration.
func (c *ClassView) Properties(ctx context.Context) (props map[string]map[string]common.PropertyRow, err error) {
	err = c.store.view(ctx, func(rtx tx.ReadTx) error {
		props, err = c.properties(rtx)
		return err
	})
	return
}

func (c *ClassView) properties(rtx tx.ReadTx) (props map[string]map[string]common.PropertyRow, err error) {
	cands, err := c.candidates(rtx)
	if err != nil {
		return
	}
	props = make(map[string]map[string]common.PropertyRow, len(cands))
	for parent, byName := range cands {
		props[parent] = make(map[string]common.PropertyRow, len(byName))
		for name, ps := range byName {
			props[parent][name] = ps[0]
		}
	}
	return props, nil
}

// candidates lists every declaration of each property name per parent class,
// in property id order.
func (c *ClassView) candidates(rtx tx.ReadTx) (cands map[string]map[string][]common.PropertyRow, err error) {
	cands = map[string]map[string][]common.PropertyRow{}
	if c.store.requireTable("property", "collection", "class") != nil {
		return
	}
	rows, err := rtx.Query(fmt.Sprintf(`SELECT pc.name, %s FROM property p
		INNER JOIN collection col ON col.collection_id = p.collection_id
		INNER JOIN class pc ON pc.class_id = col.parent_class_id
		WHERE col.child_class_id = ? ORDER BY p.property_id`, c.store.propertyColumns()), c.meta.ClassID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	for rows.Next() {
		var parent string
		p, err := scanProperty(rows, &parent)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if _, ok := cands[parent]; !ok {
			cands[parent] = map[string][]common.PropertyRow{}
		}
		cands[parent][p.Name] = append(cands[parent][p.Name], p)
	}
	return cands, errors.WithStack(rows.Err())
}

// collectionFrom picks the collection from parent to this class. Several
// collections between the same classes are told apart by name.
func (c *ClassView) collectionFrom(rtx tx.ReadTx, parent common.ClassRow, name string) (id int64, err error) {
	if err = c.store.requireTable("collection"); err != nil {
		return
	}
	rows, err := rtx.Query(fmt.Sprintf("SELECT collection_id, %s FROM collection c WHERE parent_class_id = ? AND child_class_id = ?",
		c.store.col("collection", "c", "name")), parent.ClassID, c.meta.ClassID)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer rows.Close()
	ids, names := []int64{}, []string{}
	for rows.Next() {
		var (
			cid   int64
			cname sql.NullString
		)
		if err = rows.Scan(&cid, &cname); err != nil {
			return 0, errors.WithStack(err)
		}
		ids, names = append(ids, cid), append(names, cname.String)
	}
	if err = rows.Err(); err != nil {
		return 0, errors.WithStack(err)
	}
	switch len(ids) {
	case 0:
		return 0, errors.Wrapf(common.ErrNotFound, "unable to find collection for the parent %s and child %s",
			parent.Name, c.meta.Name)
	case 1:
		return ids[0], nil
	}
	for i, n := range names {
		if n == name {
			return ids[i], nil
		}
	}
	return 0, errors.Wrapf(common.ErrValidation,
		"multiple collections available for relationship, choose name from %s", strings.Join(names, ", "))
}

// Categories lists the categories of the class by rank.
func (c *ClassView) Categories(ctx context.Context) (cats []common.Category, err error) {
	err = c.store.view(ctx, func(rtx tx.ReadTx) error {
		cats, err = c.categories(rtx)
		return err
	})
	return
}

func (c *ClassView) categories(rtx tx.ReadTx) (cats []common.Category, err error) {
	cats = []common.Category{}
	if !c.store.catalog.HasTable("category") {
		return
	}
	rows, err := rtx.Query(fmt.Sprintf("SELECT category_id, class_id, name, %s FROM category c WHERE class_id = ?",
		c.store.col("category", "c", "rank")), c.meta.ClassID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cat  common.Category
			name sql.NullString
			rank sql.NullString
		)
		if err = rows.Scan(&cat.CategoryID, &cat.ClassID, &name, &rank); err != nil {
			return nil, errors.WithStack(err)
		}
		cat.Name = name.String
		if rank.Valid && rank.String != "" {
			if cat.Rank, err = strconv.Atoi(rank.String); err != nil {
				return nil, errors.Wrapf(common.ErrIntegrity, "category %s has rank %q", cat.Name, rank.String)
			}
		}
		cats = append(cats, cat)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Rank < cats[j].Rank })
	return cats, nil
}

// CategoryID returns the id of the category called name.
func (c *ClassView) CategoryID(ctx context.Context, name string) (id int64, err error) {
	err = c.store.view(ctx, func(rtx tx.ReadTx) error {
		id, err = c.categoryID(rtx, name)
		return err
	})
	return
}

func (c *ClassView) categoryID(rtx tx.ReadTx, name string) (id int64, err error) {
	cats, err := c.categories(rtx)
	if err != nil {
		return
	}
	for _, cat := range cats {
		if cat.Name == name {
			return cat.CategoryID, nil
		}
	}
	return 0, errors.Wrapf(common.ErrCategoryNotFound, "no such category %s for class %s", name, c.meta.Name)
}

// AddCategory appends a category ranked after every existing one.
func (c *ClassView) AddCategory(ctx context.Context, name string) (id int64, err error) {
	err = c.store.update(ctx, func(wtx tx.WriteTx) error {
		id, err = c.addCategory(wtx, name)
		return err
	})
	return
}

func (c *ClassView) addCategory(wtx tx.WriteTx, name string) (id int64, err error) {
	if err = c.store.requireTable("category"); err != nil {
		return
	}
	cats, err := c.categories(wtx)
	if err != nil {
		return
	}
	lastRank := -1
	for _, cat := range cats {
		if cat.Name == name {
			return 0, errors.Wrapf(common.ErrValidation, "category %s already exists in %s", name, c.meta.Name)
		}
		if cat.Rank > lastRank {
			lastRank = cat.Rank
		}
	}
	cols := []string{"name", "class_id"}
	vals := []any{name, c.meta.ClassID}
	if c.store.catalog.HasColumn("category", "rank") {
		cols, vals = append(cols, "rank"), append(vals, strconv.Itoa(lastRank+1))
	}
	if c.store.catalog.HasColumn("category", "GUID") {
		cols, vals = append(cols, "GUID"), append(vals, uuid.NewString())
	}
	if _, err = wtx.Exec(fmt.Sprintf("INSERT INTO category (%s) VALUES (%s)", quoteAll(cols), placeholders(len(cols))),
		vals...); err != nil {
		return 0, errors.WithStack(err)
	}
	c.store.log.WithField("action", "add_category").
		WithField("class", c.meta.Name).
		WithField("category", name).
		WithField("rank", lastRank+1).
		Debug("added category")
	return c.categoryID(wtx, name)
}

// New creates an empty object in the class as a child of the default owner.
// A missing category is created.
func (c *ClassView) New(ctx context.Context, name, category string) (ov *ObjectView, err error) {
	if category == "" {
		category = DefaultCategory
	}
	if err = c.store.requireTable("object"); err != nil {
		return
	}
	err = c.store.update(ctx, func(wtx tx.WriteTx) error {
		if _, err := c.store.objectByName(wtx, c.meta, name); err == nil {
			return errors.Wrapf(common.ErrValidation, "duplicate name '%s' for class %s", name, c.meta.Name)
		} else if !errors.Is(err, common.ErrObjectNotFound) {
			return err
		}

		var catID any
		if c.store.catalog.HasTable("category") {
			id, err := c.categoryID(wtx, category)
			if errors.Is(err, common.ErrCategoryNotFound) {
				id, err = c.addCategory(wtx, category)
			}
			if err != nil {
				return err
			}
			catID = id
		}

		cols, vals := []string{}, []any{}
		for _, col := range c.store.catalog.Columns("object") {
			var v any = ""
			switch {
			case col == "object_id":
				continue
			case col == "class_id":
				v = c.meta.ClassID
			case col == "name":
				v = name
			case col == "category_id":
				v = catID
			case col == "GUID":
				v = uuid.NewString()
			case strings.HasSuffix(col, schema.IDSuffix):
				v = nil
			}
			cols, vals = append(cols, col), append(vals, v)
		}
		if _, err := wtx.Exec(fmt.Sprintf("INSERT INTO object (%s) VALUES (%s)", quoteAll(cols), placeholders(len(cols))),
			vals...); err != nil {
			return errors.WithStack(err)
		}
		o, err := c.store.objectByName(wtx, c.meta, name)
		if err != nil {
			return err
		}
		if err = c.enable(wtx); err != nil {
			return err
		}
		ov = c.store.newObjectView(o, c.meta)
		if !c.store.hasOwner {
			return nil
		}
		owner := c.store.newObjectView(c.store.owner, c.store.ownerClass)
		return owner.setChildren(wtx, []*ObjectView{ov}, false, "")
	})
	if err != nil {
		return nil, err
	}
	c.store.log.WithField("action", "new_object").
		WithField("class", c.meta.Name).
		WithField("object", name).
		Info("created object")
	return ov, nil
}

// enable marks the class enabled; PLEXOS ignores objects of disabled classes.
func (c *ClassView) enable(wtx tx.WriteTx) error {
	if !c.store.catalog.HasColumn("class", "is_enabled") || c.meta.IsEnabled.String == "true" {
		return nil
	}
	if _, err := wtx.Exec("UPDATE class SET is_enabled = 'true' WHERE class_id = ?", c.meta.ClassID); err != nil {
		return errors.WithStack(err)
	}
	c.meta.IsEnabled = sql.NullString{String: "true", Valid: true}
	return nil
}

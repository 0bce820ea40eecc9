package plexdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"plexdb/common"
	"plexdb/schema"
	"plexdb/tx"
)

// ObjectView is a handle on one object. Attribute, membership and property
// access all read through to the store.
type ObjectView struct {
	store *Store
	meta  common.ObjectRow
	class common.ClassRow
}

func (s *Store) newObjectView(o common.ObjectRow, c common.ClassRow) *ObjectView {
	return &ObjectView{store: s, meta: o, class: c}
}

func (o *ObjectView) Name() string { return o.meta.Name }

func (o *ObjectView) ID() int64 { return o.meta.ObjectID }

func (o *ObjectView) Meta() common.ObjectRow { return o.meta }

func (o *ObjectView) ClassName() string { return o.class.Name }

func (o *ObjectView) Class() *ClassView { return o.store.newClassView(o.class) }

func (o *ObjectView) Store() *Store { return o.store }

func (o *ObjectView) Path() common.Path {
	return common.Path{Class: o.class.Name, Object: o.meta.Name}
}

// Hierarchy returns "Class.Object".
func (o *ObjectView) Hierarchy() string { return o.Path().String() }

func (o *ObjectView) String() string { return o.Hierarchy() }

// Attributes returns the attribute values set on the object.
func (o *ObjectView) Attributes(ctx context.Context) (attrs map[string]string, err error) {
	err = o.store.view(ctx, func(rtx tx.ReadTx) error {
		attrs, err = o.attributes(rtx)
		return err
	})
	return
}

func (o *ObjectView) attributes(rtx tx.ReadTx) (attrs map[string]string, err error) {
	attrs = map[string]string{}
	if o.store.requireTable("attribute", "attribute_data") != nil {
		return
	}
	rows, err := rtx.Query(`SELECT a.name, ad.value FROM attribute_data ad
		INNER JOIN attribute a ON a.attribute_id = ad.attribute_id
		WHERE ad.object_id = ? ORDER BY a.attribute_id`, o.meta.ObjectID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value sql.NullString
		if err = rows.Scan(&name, &value); err != nil {
			return nil, errors.WithStack(err)
		}
		attrs[name.String] = value.String
	}
	return attrs, errors.WithStack(rows.Err())
}

func (o *ObjectView) Attribute(ctx context.Context, name string) (value string, err error) {
	attrs, err := o.Attributes(ctx)
	if err != nil {
		return
	}
	value, ok := attrs[name]
	if !ok {
		err = errors.Wrapf(common.ErrAttributeNotFound, "no attribute %s on %s", name, o.Hierarchy())
	}
	return
}

// attributeID returns the id of an attribute valid for the object's class.
func (o *ObjectView) attributeID(rtx tx.ReadTx, name string) (id int64, err error) {
	if err = o.store.requireTable("attribute"); err != nil {
		return
	}
	err = rtx.QueryRow("SELECT attribute_id FROM attribute WHERE class_id = ? AND name = ?",
		o.class.ClassID, name).Scan(&id)
	if err == sql.ErrNoRows {
		valid, _ := queryStrings(rtx, "SELECT name FROM attribute WHERE class_id = ? ORDER BY attribute_id", o.class.ClassID)
		return 0, errors.Wrapf(common.ErrAttributeNotFound, "%s is not a valid attribute of object %s, valid attributes: %s",
			name, o.meta.Name, strings.Join(valid, ", "))
	}
	return id, errors.WithStack(err)
}

func (o *ObjectView) SetAttribute(ctx context.Context, name, value string) (err error) {
	return o.store.update(ctx, func(wtx tx.WriteTx) error {
		id, err := o.attributeID(wtx, name)
		if err != nil {
			return err
		}
		if err = o.store.ensureTable(wtx, "attribute_data"); err != nil {
			return err
		}
		res, err := wtx.Exec("UPDATE attribute_data SET value = ? WHERE object_id = ? AND attribute_id = ?",
			value, o.meta.ObjectID, id)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, err := res.RowsAffected(); err != nil || n > 0 {
			return errors.WithStack(err)
		}
		_, err = wtx.Exec("INSERT INTO attribute_data (object_id, attribute_id, value) VALUES (?, ?, ?)",
			o.meta.ObjectID, id, value)
		return errors.WithStack(err)
	})
}

func (o *ObjectView) DeleteAttribute(ctx context.Context, name string) (err error) {
	return o.store.update(ctx, func(wtx tx.WriteTx) error {
		id, err := o.attributeID(wtx, name)
		if err != nil {
			return err
		}
		if err = o.store.requireTable("attribute_data"); err != nil {
			return errors.Wrapf(common.ErrAttributeNotFound, "no attribute %s on %s", name, o.Hierarchy())
		}
		res, err := wtx.Exec("DELETE FROM attribute_data WHERE object_id = ? AND attribute_id = ?", o.meta.ObjectID, id)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return errors.WithStack(err)
		} else if n == 0 {
			return errors.Wrapf(common.ErrAttributeNotFound, "no attribute %s on %s", name, o.Hierarchy())
		}
		return nil
	})
}

// Category returns the name of the object's category.
func (o *ObjectView) Category(ctx context.Context) (name string, err error) {
	if !o.meta.CategoryID.Valid || !o.store.catalog.HasTable("category") {
		return "", errors.Wrapf(common.ErrCategoryNotFound, "%s has no category", o.Hierarchy())
	}
	err = o.store.view(ctx, func(rtx tx.ReadTx) error {
		var n sql.NullString
		err := rtx.QueryRow("SELECT name FROM category WHERE category_id = ?", o.meta.CategoryID.Int64).Scan(&n)
		if err != nil {
			return notFound(err, common.ErrCategoryNotFound, "no category with id %d", o.meta.CategoryID.Int64)
		}
		name = n.String
		return nil
	})
	return
}

// SetCategory moves the object to an existing category of its class.
func (o *ObjectView) SetCategory(ctx context.Context, name string) (err error) {
	var id int64
	err = o.store.update(ctx, func(wtx tx.WriteTx) error {
		if id, err = o.Class().categoryID(wtx, name); err != nil {
			return err
		}
		_, err = wtx.Exec("UPDATE object SET category_id = ? WHERE object_id = ?", id, o.meta.ObjectID)
		return errors.WithStack(err)
	})
	if err == nil {
		o.meta.CategoryID = sql.NullInt64{Int64: id, Valid: true}
	}
	return
}

// GetChildren lists the membership children of the object, optionally only
// those of className.
func (o *ObjectView) GetChildren(ctx context.Context, className string) ([]*ObjectView, error) {
	return o.related(ctx, "child_object_id", "parent_object_id", className)
}

// GetParents lists the membership parents of the object, optionally only
// those of className.
func (o *ObjectView) GetParents(ctx context.Context, className string) ([]*ObjectView, error) {
	return o.related(ctx, "parent_object_id", "child_object_id", className)
}

func (o *ObjectView) related(ctx context.Context, want, have, className string) (ret []*ObjectView, err error) {
	ret = []*ObjectView{}
	if !o.store.catalog.HasTable("membership") {
		return
	}
	stmt := fmt.Sprintf(`SELECT m.%s FROM membership m
		INNER JOIN object o ON o.object_id = m.%s
		INNER JOIN class c ON c.class_id = o.class_id
		WHERE m.%s = ?`, want, want, have)
	args := []any{o.meta.ObjectID}
	if className != "" {
		stmt += " AND c.name = ?"
		args = append(args, className)
	}
	stmt += " ORDER BY m.membership_id"
	err = o.store.view(ctx, func(rtx tx.ReadTx) error {
		ids, err := queryInts(rtx, stmt, args...)
		if err != nil {
			return err
		}
		for _, id := range ids {
			ov, err := o.store.objectView(rtx, id)
			if err != nil {
				return err
			}
			ret = append(ret, ov)
		}
		return nil
	})
	return
}

// SetChildren adds memberships from the object to each child. With replace,
// existing children of the same classes are removed first. collection picks
// the collection by name when the classes are linked by more than one.
func (o *ObjectView) SetChildren(ctx context.Context, children []*ObjectView, replace bool, collection string) error {
	return o.store.update(ctx, func(wtx tx.WriteTx) error {
		return o.setChildren(wtx, children, replace, collection)
	})
}

func (o *ObjectView) setChildren(wtx tx.WriteTx, children []*ObjectView, replace bool, collection string) (err error) {
	if err = o.store.requireTable("membership"); err != nil {
		return
	}
	byClass := map[int64][]*ObjectView{}
	order := []common.ClassRow{}
	for _, child := range children {
		if _, ok := byClass[child.class.ClassID]; !ok {
			order = append(order, child.class)
		}
		byClass[child.class.ClassID] = append(byClass[child.class.ClassID], child)
	}
	for _, class := range order {
		collectionID, err := o.store.newClassView(class).collectionFrom(wtx, o.class, collection)
		if err != nil {
			return err
		}
		if replace {
			if _, err = wtx.Exec("DELETE FROM membership WHERE parent_object_id = ? AND child_class_id = ? AND collection_id = ?",
				o.meta.ObjectID, class.ClassID, collectionID); err != nil {
				return errors.WithStack(err)
			}
		}
		for _, child := range byClass[class.ClassID] {
			var n int
			if err = wtx.QueryRow(`SELECT COUNT(*) FROM membership
				WHERE parent_object_id = ? AND child_object_id = ? AND collection_id = ?`,
				o.meta.ObjectID, child.meta.ObjectID, collectionID).Scan(&n); err != nil {
				return errors.WithStack(err)
			}
			if n > 0 {
				continue
			}
			if _, err = wtx.Exec(`INSERT INTO membership
				(parent_class_id, parent_object_id, collection_id, child_class_id, child_object_id)
				VALUES (?, ?, ?, ?, ?)`,
				o.class.ClassID, o.meta.ObjectID, collectionID, class.ClassID, child.meta.ObjectID); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	return nil
}

// Copy duplicates the object under a new name with its attribute values and
// memberships. An empty name derives one from a fresh UUID.
func (o *ObjectView) Copy(ctx context.Context, newName string) (ov *ObjectView, err error) {
	if newName == "" {
		newName = o.meta.Name + "-" + uuid.NewString()
	}
	err = o.store.update(ctx, func(wtx tx.WriteTx) error {
		if _, err := o.store.objectByName(wtx, o.class, newName); err == nil {
			return errors.Wrapf(common.ErrValidation, "duplicate name '%s' for class %s", newName, o.class.Name)
		} else if !errors.Is(err, common.ErrObjectNotFound) {
			return err
		}
		subs := map[string]any{"name": newName}
		if o.store.catalog.HasColumn("object", "GUID") {
			subs["GUID"] = uuid.NewString()
		}
		if err := o.store.copyRows(wtx, "object", "object_id", o.meta.ObjectID, subs); err != nil {
			return err
		}
		copied, err := o.store.objectByName(wtx, o.class, newName)
		if err != nil {
			return err
		}
		newID := map[string]any{"object_id": copied.ObjectID}
		if o.store.catalog.HasTable("attribute_data") {
			if err = o.store.copyRows(wtx, "attribute_data", "object_id", o.meta.ObjectID, newID); err != nil {
				return err
			}
		}
		if o.store.catalog.HasTable("membership") {
			if err = o.store.copyRows(wtx, "membership", "parent_object_id", o.meta.ObjectID,
				map[string]any{"parent_object_id": copied.ObjectID}); err != nil {
				return err
			}
			if err = o.store.copyRows(wtx, "membership", "child_object_id", o.meta.ObjectID,
				map[string]any{"child_object_id": copied.ObjectID}); err != nil {
				return err
			}
		}
		ov = o.store.newObjectView(copied, o.class)
		return nil
	})
	return
}

// copyRows duplicates the rows of table where column = value, substituting
// subs and leaving the primary key to be assigned.
func (s *Store) copyRows(wtx tx.WriteTx, table, column string, value any, subs map[string]any) (err error) {
	pk := table + schema.IDSuffix
	cols, sel, args := []string{}, []string{}, []any{}
	for _, col := range s.catalog.Columns(table) {
		if col == pk {
			continue
		}
		cols = append(cols, col)
		if v, ok := subs[col]; ok {
			sel = append(sel, "?")
			args = append(args, v)
			continue
		}
		sel = append(sel, schema.Quote(col))
	}
	args = append(args, value)
	_, err = wtx.Exec(fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s = ? ORDER BY rowid",
		schema.Quote(table), quoteAll(cols), strings.Join(sel, ", "), schema.Quote(table), schema.Quote(column)), args...)
	return errors.WithStack(err)
}

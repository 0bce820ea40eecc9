package plexdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"plexdb/common"
	"plexdb/tx"
)

// Tables keyed by data_id that are removed along with their data row.
var dataFanOut = []string{"text", "tag", "band", "date_from", "date_to", "memo_data"}

type dataRow struct {
	DataID int64
	Value  sql.NullString
	Mask   sql.NullString
	Owner  int64
}

// readData reads property_view rows of this object, one per data id (or per
// data id and owner when byOwner is set), in band order.
func (o *ObjectView) readData(rtx tx.ReadTx, where string, byOwner bool, args ...any) (ret []dataRow, err error) {
	group := "data_id"
	if byOwner {
		group += ", IFNULL(tag_object_id, parent_object_id)"
	}
	rows, err := rtx.Query(fmt.Sprintf(`SELECT data_id, value, input_mask, IFNULL(tag_object_id, parent_object_id)
		FROM property_view WHERE child_object_id = ? AND %s
		GROUP BY %s ORDER BY IFNULL(MIN(band_id), 1), data_id`, where, group),
		append([]any{o.meta.ObjectID}, args...)...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	for rows.Next() {
		var r dataRow
		if err = rows.Scan(&r.DataID, &r.Value, &r.Mask, &r.Owner); err != nil {
			return nil, errors.WithStack(err)
		}
		ret = append(ret, r)
	}
	return ret, errors.WithStack(rows.Err())
}

func (r dataRow) display() string {
	return common.ParseInputMask(r.Mask.String).Display(r.Value.String)
}

// GetProperty returns the value of property name owned by tag, either
// through the membership parent or a tag. An empty tag is the default owner.
func (o *ObjectView) GetProperty(ctx context.Context, name, tag string) (v common.Value, err error) {
	if !o.store.catalog.HasTable("data") {
		return common.None, nil
	}
	err = o.store.view(ctx, func(rtx tx.ReadTx) error {
		owner, _, err := o.store.ownerOf(rtx, tag)
		if err != nil {
			return err
		}
		rows, err := o.readData(rtx, "name = ? AND (parent_object_id = ? OR tag_object_id = ?)", false,
			name, owner.ObjectID, owner.ObjectID)
		if err != nil {
			return err
		}
		vals := make([]string, len(rows))
		for i, r := range rows {
			vals[i] = r.display()
		}
		v = common.ValueOf(vals)
		return nil
	})
	return
}

// GetProperties returns every value of the object keyed by owner hierarchy
// and property name. Tagged values are keyed by the tag object.
func (o *ObjectView) GetProperties(ctx context.Context) (props map[string]map[string]common.Value, err error) {
	props = map[string]map[string]common.Value{}
	if !o.store.catalog.HasTable("data") {
		return
	}
	err = o.store.view(ctx, func(rtx tx.ReadTx) error {
		rows, err := rtx.Query(`SELECT data_id, name, value, input_mask, IFNULL(tag_object_id, parent_object_id)
			FROM property_view WHERE child_object_id = ?
			GROUP BY data_id, IFNULL(tag_object_id, parent_object_id)
			ORDER BY IFNULL(MIN(band_id), 1), data_id`, o.meta.ObjectID)
		if err != nil {
			return errors.WithStack(err)
		}
		type namedRow struct {
			name string
			dataRow
		}
		all := []namedRow{}
		for rows.Next() {
			var r namedRow
			var name sql.NullString
			if err = rows.Scan(&r.DataID, &name, &r.Value, &r.Mask, &r.Owner); err != nil {
				rows.Close()
				return errors.WithStack(err)
			}
			r.name = name.String
			all = append(all, r)
		}
		rows.Close()
		if err = rows.Err(); err != nil {
			return errors.WithStack(err)
		}
		for _, r := range all {
			hier, err := o.store.hier.Resolve(rtx, r.Owner)
			if err != nil {
				return err
			}
			if _, ok := props[hier]; !ok {
				props[hier] = map[string]common.Value{}
			}
			props[hier][r.name] = props[hier][r.name].Append(r.display())
		}
		return nil
	})
	return
}

// SetProperty stores value for property name under tag. When the tag's class
// owns the property through a collection the membership data is written;
// otherwise the value is stored under the default owner and tagged.
// dataTag optionally adds a second tag, as used for data files.
func (o *ObjectView) SetProperty(ctx context.Context, name string, value common.Value, tag, dataTag string) (err error) {
	if value.IsNone() {
		return errors.Wrapf(common.ErrValidation, "no value given for %s", name)
	}
	if err = o.store.requireTable("data", "property", "membership"); err != nil {
		return
	}
	err = o.store.update(ctx, func(wtx tx.WriteTx) error {
		return o.setProperty(wtx, name, value, tag, dataTag)
	})
	if err == nil {
		o.store.log.WithField("action", "set_property").
			WithField("object", o.Hierarchy()).
			WithField("property", name).
			WithField("tag", tag).
			Debug("set property")
	}
	return
}

// SetProperties sets several default-owner values in one transaction.
func (o *ObjectView) SetProperties(ctx context.Context, values map[string]common.Value) (err error) {
	if err = o.store.requireTable("data", "property", "membership"); err != nil {
		return
	}
	return o.store.update(ctx, func(wtx tx.WriteTx) error {
		for name, value := range values {
			if value.IsNone() {
				return errors.Wrapf(common.ErrValidation, "no value given for %s", name)
			}
			if err := o.setProperty(wtx, name, value, "", ""); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *ObjectView) setProperty(wtx tx.WriteTx, name string, value common.Value, tag, dataTag string) (err error) {
	owner, ownerClass, err := o.store.ownerOf(wtx, tag)
	if err != nil {
		return
	}
	valid, err := o.Class().candidates(wtx)
	if err != nil {
		return
	}
	if byName, native := valid[ownerClass.Name]; native {
		cands, ok := byName[name]
		if !ok {
			return errors.Wrapf(common.ErrPropertyNotFound, "'%s' is not a valid property for class %s", name, ownerClass.Name)
		}
		prop, err := o.pickProperty(wtx, owner, cands)
		if err != nil {
			return err
		}
		return o.setNative(wtx, owner, prop, value)
	}
	return o.setTagged(wtx, owner, valid, name, value, dataTag)
}

// pickProperty chooses between declarations of one property name on several
// collections by the collections owner is actually related through.
func (o *ObjectView) pickProperty(rtx tx.ReadTx, owner common.ObjectRow, cands []common.PropertyRow) (prop common.PropertyRow, err error) {
	if len(cands) == 1 {
		return cands[0], nil
	}
	matched := []common.PropertyRow{}
	for _, p := range cands {
		if _, err = o.membership(rtx, owner, p); err == nil {
			matched = append(matched, p)
		} else if !errors.Is(err, common.ErrNotFound) {
			return
		}
	}
	switch len(matched) {
	case 0:
		return cands[0], nil
	case 1:
		return matched[0], nil
	}
	ids := make([]string, len(matched))
	for i, p := range matched {
		ids[i] = strconv.FormatInt(p.CollectionID, 10)
	}
	hier, _ := o.store.hier.Resolve(rtx, owner.ObjectID)
	return prop, errors.Wrapf(common.ErrValidation, "property %s of %s is ambiguous under %s: collections %s",
		cands[0].Name, o.Hierarchy(), hier, strings.Join(ids, ", "))
}

func (o *ObjectView) setNative(wtx tx.WriteTx, owner common.ObjectRow, prop common.PropertyRow, value common.Value) (err error) {
	membershipID, err := o.membership(wtx, owner, prop)
	if err != nil {
		return
	}
	codes, err := maskValues(prop, value)
	if err != nil {
		return
	}
	join, order := o.store.bandOrder("d")
	ids, err := queryInts(wtx, fmt.Sprintf(`SELECT d.data_id FROM data d %s
		WHERE d.membership_id = ? AND d.property_id = ? GROUP BY d.data_id ORDER BY %s`, join, order),
		membershipID, prop.PropertyID)
	if err != nil {
		return
	}
	if len(ids) > 0 {
		return overwrite(wtx, ids, value, codes)
	}
	if err = o.store.markDynamic(wtx, prop); err != nil {
		return
	}
	_, err = o.store.insertData(wtx, membershipID, prop, codes)
	return
}

func (o *ObjectView) setTagged(wtx tx.WriteTx, owner common.ObjectRow, valid map[string]map[string][]common.PropertyRow,
	name string, value common.Value, dataTag string) (err error) {
	if o.store.catalog.HasTable("tag") {
		join, order := o.store.bandOrder("d")
		var rows *sql.Rows
		rows, err = wtx.Query(fmt.Sprintf(`SELECT d.data_id, d.property_id FROM tag t
			INNER JOIN data d ON d.data_id = t.data_id
			INNER JOIN property p ON p.property_id = d.property_id
			INNER JOIN membership m ON m.membership_id = d.membership_id
			%s
			WHERE t.object_id = ? AND m.child_object_id = ? AND p.name = ?
			GROUP BY d.data_id ORDER BY %s`, join, order), owner.ObjectID, o.meta.ObjectID, name)
		if err != nil {
			return errors.WithStack(err)
		}
		var (
			ids        []int64
			propertyID int64
		)
		for rows.Next() {
			var id int64
			if err = rows.Scan(&id, &propertyID); err != nil {
				rows.Close()
				return errors.WithStack(err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err = rows.Err(); err != nil {
			return errors.WithStack(err)
		}
		if len(ids) > 0 {
			var prop common.PropertyRow
			if prop, err = o.store.propertyByID(wtx, propertyID); err != nil {
				return
			}
			var codes []string
			if codes, err = maskValues(prop, value); err != nil {
				return
			}
			if err = o.store.markDynamic(wtx, prop); err != nil {
				return
			}
			return overwrite(wtx, ids, value, codes)
		}
	}

	if !o.store.hasOwner {
		return errors.Wrapf(common.ErrObjectNotFound, "default owner %s", o.store.opts.DefaultOwner)
	}
	cands, ok := valid[o.store.ownerClass.Name][name]
	if !ok {
		return errors.Wrapf(common.ErrPropertyNotFound, "'%s' is not a valid property for class %s",
			name, o.store.ownerClass.Name)
	}
	prop, err := o.pickProperty(wtx, o.store.owner, cands)
	if err != nil {
		return
	}
	membershipID, err := o.membership(wtx, o.store.owner, prop)
	if err != nil {
		return
	}
	codes, err := maskValues(prop, value)
	if err != nil {
		return
	}
	tags := []int64{owner.ObjectID}
	if dataTag != "" {
		var d common.ObjectRow
		if d, _, err = o.store.objectByHierarchy(wtx, dataTag); err != nil {
			return
		}
		tags = append(tags, d.ObjectID)
	}
	if err = o.store.markDynamic(wtx, prop); err != nil {
		return
	}
	ids, err := o.store.insertData(wtx, membershipID, prop, codes)
	if err != nil {
		return
	}
	if err = o.store.ensureTable(wtx, "tag"); err != nil {
		return
	}
	for _, id := range ids {
		for _, t := range tags {
			if _, err = wtx.Exec("INSERT INTO tag (data_id, object_id) VALUES (?, ?)", id, t); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	if o.store.catalog.HasTable("config") {
		if err = setConfig(wtx, "Dynamic", "-1"); errors.Is(err, common.ErrConfigNotFound) {
			err = nil
		}
	}
	return
}

// membership finds the membership from owner to the object on the
// property's collection.
func (o *ObjectView) membership(rtx tx.ReadTx, owner common.ObjectRow, prop common.PropertyRow) (id int64, err error) {
	err = rtx.QueryRow(`SELECT membership_id FROM membership
		WHERE child_object_id = ? AND parent_object_id = ? AND collection_id = ?
		ORDER BY membership_id LIMIT 1`, o.meta.ObjectID, owner.ObjectID, prop.CollectionID).Scan(&id)
	if err != nil {
		hier, _ := o.store.hier.Resolve(rtx, owner.ObjectID)
		return 0, notFound(err, common.ErrNotFound, "unable to find membership for %s in %s", hier, o.meta.Name)
	}
	return id, nil
}

// bandOrder joins band onto data alias a and orders by band, or by data id
// alone without a band table.
func (s *Store) bandOrder(a string) (join, order string) {
	if !s.catalog.HasTable("band") {
		return "", a + ".data_id"
	}
	return fmt.Sprintf("LEFT OUTER JOIN band b ON b.data_id = %s.data_id", a),
		fmt.Sprintf("IFNULL(MIN(b.band_id), 1), %s.data_id", a)
}

func (s *Store) propertyByID(rtx tx.ReadTx, id int64) (p common.PropertyRow, err error) {
	p, err = scanProperty(rtx.QueryRow(fmt.Sprintf("SELECT %s FROM property p WHERE p.property_id = ?", s.propertyColumns()), id))
	if err != nil {
		err = notFound(err, common.ErrPropertyNotFound, "no property with id %d", id)
	}
	return
}

// markDynamic enables a property and marks it dynamic so PLEXOS reads the
// newly written data.
func (s *Store) markDynamic(wtx tx.WriteTx, p common.PropertyRow) (err error) {
	for col, cur := range map[string]sql.NullString{"is_dynamic": p.IsDynamic, "is_enabled": p.IsEnabled} {
		if !s.catalog.HasColumn("property", col) || cur.String == "true" {
			continue
		}
		if _, err = wtx.Exec(fmt.Sprintf("UPDATE property SET %s = 'true' WHERE property_id = ?", col), p.PropertyID); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// insertData appends one data row per value, banded from 1 in order.
func (s *Store) insertData(wtx tx.WriteTx, membershipID int64, prop common.PropertyRow, codes []string) (ids []int64, err error) {
	hasUID := s.catalog.HasColumn("data", "uid")
	var lastID, lastUID int64
	if hasUID {
		err = wtx.QueryRow("SELECT IFNULL(MAX(data_id), 0), IFNULL(MAX(CAST(uid AS INTEGER)), 0) FROM data").Scan(&lastID, &lastUID)
	} else {
		err = wtx.QueryRow("SELECT IFNULL(MAX(data_id), 0) FROM data").Scan(&lastID)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(codes) > 1 {
		if err = s.ensureTable(wtx, "band"); err != nil {
			return
		}
	}
	for i, code := range codes {
		lastID++
		if hasUID {
			lastUID++
			_, err = wtx.Exec("INSERT INTO data (data_id, uid, membership_id, value, property_id) VALUES (?, ?, ?, ?, ?)",
				lastID, lastUID, membershipID, code, prop.PropertyID)
		} else {
			_, err = wtx.Exec("INSERT INTO data (data_id, membership_id, value, property_id) VALUES (?, ?, ?, ?)",
				lastID, membershipID, code, prop.PropertyID)
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if band := i + 1; band > 1 {
			if _, err = wtx.Exec("INSERT INTO band (data_id, band_id) VALUES (?, ?)", lastID, band); err != nil {
				return nil, errors.WithStack(err)
			}
		}
		ids = append(ids, lastID)
	}
	return ids, nil
}

// overwrite replaces existing data values in place. A single row takes a
// scalar and several rows take a list of the same length.
func overwrite(wtx tx.WriteTx, ids []int64, value common.Value, codes []string) (err error) {
	switch {
	case len(ids) == 1 && value.IsList():
		return errors.Wrapf(common.ErrValidation, "attempting to set list for a single data property")
	case len(ids) > 1 && !value.IsList():
		return errors.Wrapf(common.ErrValidation, "attempting to set a single value for a list data property")
	case len(codes) != len(ids):
		return errors.Wrapf(common.ErrValidation,
			"length of values passed in %d does not match set data list %d", len(codes), len(ids))
	}
	for i, id := range ids {
		if _, err = wtx.Exec("UPDATE data SET value = ? WHERE data_id = ?", codes[i], id); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func maskValues(prop common.PropertyRow, value common.Value) (codes []string, err error) {
	mask := prop.Mask()
	for _, v := range value.Items() {
		code, err := mask.Code(v)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// DeleteProperty removes the data of property name owned by tag together
// with its text, tags and bands.
func (o *ObjectView) DeleteProperty(ctx context.Context, name, tag string) (err error) {
	if !o.store.catalog.HasTable("data") {
		return nil
	}
	var ids []int64
	err = o.store.update(ctx, func(wtx tx.WriteTx) error {
		owner, _, err := o.store.ownerOf(wtx, tag)
		if err != nil {
			return err
		}
		ids, err = queryInts(wtx, `SELECT data_id FROM property_view
			WHERE child_object_id = ? AND name = ? AND (parent_object_id = ? OR tag_object_id = ?)
			GROUP BY data_id`, o.meta.ObjectID, name, owner.ObjectID, owner.ObjectID)
		if err != nil {
			return err
		}
		return o.store.deleteData(wtx, ids)
	})
	if err == nil && len(ids) == 0 {
		o.store.log.WithField("action", "delete_property").
			WithField("object", o.Hierarchy()).
			WithField("property", name).
			Warn("no property values available")
	}
	return
}

func (s *Store) deleteData(wtx tx.WriteTx, ids []int64) (err error) {
	tables := []string{}
	for _, t := range dataFanOut {
		if s.catalog.HasColumn(t, "data_id") {
			tables = append(tables, t)
		}
	}
	tables = append(tables, "data")
	for _, id := range ids {
		for _, t := range tables {
			if _, err = wtx.Exec(fmt.Sprintf("DELETE FROM %s WHERE data_id = ?", t), id); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	return nil
}

// TagProperty tags every value of property name with tag. The default owner
// cannot be used as a tag.
func (o *ObjectView) TagProperty(ctx context.Context, name, tag string) (err error) {
	if err = o.store.requireTable("data"); err != nil {
		return
	}
	var ids []int64
	err = o.store.update(ctx, func(wtx tx.WriteTx) error {
		owner, _, err := o.store.ownerOf(wtx, tag)
		if err != nil {
			return err
		}
		if tag == "" || o.store.isDefaultOwner(owner.ObjectID) {
			return errors.Wrapf(common.ErrValidation, "cannot tag with the default owner %s", o.store.opts.DefaultOwner)
		}
		ids, err = queryInts(wtx, `SELECT data_id FROM property_view
			WHERE child_object_id = ? AND name = ?
			AND data_id NOT IN (SELECT data_id FROM property_view WHERE tag_object_id = ?)
			GROUP BY data_id`, o.meta.ObjectID, name, owner.ObjectID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err = o.store.ensureTable(wtx, "tag"); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err = wtx.Exec("INSERT INTO tag (data_id, object_id) VALUES (?, ?)", id, owner.ObjectID); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
	if err == nil && len(ids) == 0 {
		o.store.log.WithField("action", "tag_property").
			WithField("object", o.Hierarchy()).
			WithField("property", name).
			Warn("no property values available")
	}
	return
}

// UntagProperty removes tag from the values of property name.
func (o *ObjectView) UntagProperty(ctx context.Context, name, tag string) (err error) {
	if !o.store.catalog.HasTable("tag") || !o.store.catalog.HasTable("data") {
		return nil
	}
	var n int64
	err = o.store.update(ctx, func(wtx tx.WriteTx) error {
		owner, _, err := o.store.ownerOf(wtx, tag)
		if err != nil {
			return err
		}
		res, err := wtx.Exec(`DELETE FROM tag WHERE object_id = ? AND data_id IN
			(SELECT data_id FROM property_view WHERE child_object_id = ? AND name = ? AND tag_object_id = ?)`,
			owner.ObjectID, o.meta.ObjectID, name, owner.ObjectID)
		if err != nil {
			return errors.WithStack(err)
		}
		n, err = res.RowsAffected()
		return errors.WithStack(err)
	})
	if err == nil && n == 0 {
		o.store.log.WithField("action", "untag_property").
			WithField("object", o.Hierarchy()).
			WithField("property", name).
			Warn("no properties untagged")
	}
	return
}

// GetText returns the text payloads of the object's data keyed by owner
// hierarchy and property name.
func (o *ObjectView) GetText(ctx context.Context) (text map[string]map[string]string, err error) {
	text = map[string]map[string]string{}
	if o.store.requireTable("data", "text", "membership", "property") != nil {
		return
	}
	err = o.store.view(ctx, func(rtx tx.ReadTx) error {
		rows, err := rtx.Query(`SELECT m.parent_object_id, p.name, t.value, t.data_id FROM membership m
			INNER JOIN data d ON d.membership_id = m.membership_id
			INNER JOIN text t ON t.data_id = d.data_id
			INNER JOIN property p ON p.property_id = d.property_id
			WHERE m.child_object_id = ? ORDER BY t.data_id`, o.meta.ObjectID)
		if err != nil {
			return errors.WithStack(err)
		}
		type textRow struct {
			parent int64
			name   string
			value  string
			dataID int64
		}
		all := []textRow{}
		for rows.Next() {
			var (
				r           textRow
				name, value sql.NullString
			)
			if err = rows.Scan(&r.parent, &name, &value, &r.dataID); err != nil {
				rows.Close()
				return errors.WithStack(err)
			}
			r.name, r.value = name.String, value.String
			all = append(all, r)
		}
		rows.Close()
		if err = rows.Err(); err != nil {
			return errors.WithStack(err)
		}
		put := func(id int64, r textRow) error {
			hier, err := o.store.hier.Resolve(rtx, id)
			if err != nil {
				return err
			}
			if _, ok := text[hier]; !ok {
				text[hier] = map[string]string{}
			}
			text[hier][r.name] = r.value
			return nil
		}
		for _, r := range all {
			owners := []int64{}
			if o.store.catalog.HasTable("tag") {
				if owners, err = queryInts(rtx, "SELECT object_id FROM tag WHERE data_id = ?", r.dataID); err != nil {
					return err
				}
			}
			if len(owners) == 0 {
				owners = append(owners, r.parent)
			}
			for _, id := range owners {
				if err = put(id, r); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return
}

// DefaultTextClass classifies text set without an explicit class.
const DefaultTextClass = "Data File"

// SetText sets the text payload of property name. Data rows are created with
// the property default when missing; memberships are never created. A tag
// other than the default owner or the membership parent is tagged onto the
// data row.
func (o *ObjectView) SetText(ctx context.Context, name, value, tag, textClass string) (err error) {
	if textClass == "" {
		textClass = DefaultTextClass
	}
	if err = o.store.requireTable("data", "membership", "property", "collection"); err != nil {
		return
	}
	return o.store.update(ctx, func(wtx tx.WriteTx) error {
		class, err := o.store.classByName(wtx, textClass)
		if err != nil {
			return err
		}
		var tagObj *common.ObjectRow
		if tag != "" && tag != o.store.opts.DefaultOwner {
			t, _, err := o.store.objectByHierarchy(wtx, tag)
			if err != nil {
				return err
			}
			tagObj = &t
		}

		rows, err := wtx.Query(fmt.Sprintf(`SELECT m.parent_object_id, m.membership_id, %s FROM membership m
			INNER JOIN collection c ON c.collection_id = m.collection_id
			INNER JOIN property p ON p.collection_id = c.collection_id
			WHERE m.child_object_id = ? AND p.name = ? ORDER BY m.membership_id`, o.store.propertyColumns()),
			o.meta.ObjectID, name)
		if err != nil {
			return errors.WithStack(err)
		}
		type target struct {
			parent, membership int64
			prop               common.PropertyRow
		}
		targets := []target{}
		for rows.Next() {
			var t target
			if t.prop, err = scanProperty(rows, &t.parent, &t.membership); err != nil {
				rows.Close()
				return errors.WithStack(err)
			}
			targets = append(targets, t)
		}
		rows.Close()
		if err = rows.Err(); err != nil {
			return errors.WithStack(err)
		}
		if len(targets) == 0 {
			return errors.Wrapf(common.ErrPropertyNotFound, "no membership of %s carries property %s", o.Hierarchy(), name)
		}

		if err = o.store.ensureTable(wtx, "text"); err != nil {
			return err
		}
		for _, t := range targets {
			tagged := tagObj != nil && tagObj.ObjectID != t.parent
			var ids []int64
			if tagged {
				ids, err = queryInts(wtx, `SELECT data_id FROM property_view
					WHERE child_object_id = ? AND name = ? AND tag_object_id = ? GROUP BY data_id`,
					o.meta.ObjectID, name, tagObj.ObjectID)
			} else {
				ids, err = queryInts(wtx, "SELECT data_id FROM data WHERE membership_id = ? AND property_id = ? ORDER BY data_id",
					t.membership, t.prop.PropertyID)
			}
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				if ids, err = o.store.insertData(wtx, t.membership, t.prop, []string{t.prop.DefaultValue.String}); err != nil {
					return err
				}
			}
			dataID := ids[0]

			res, err := wtx.Exec("UPDATE text SET value = ? WHERE data_id = ?", value, dataID)
			if err != nil {
				return errors.WithStack(err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return errors.WithStack(err)
			} else if n == 0 {
				if _, err = wtx.Exec("INSERT INTO text (data_id, class_id, value) VALUES (?, ?, ?)",
					dataID, class.ClassID, value); err != nil {
					return errors.WithStack(err)
				}
			}

			if !tagged {
				continue
			}
			if err = o.store.ensureTable(wtx, "tag"); err != nil {
				return err
			}
			var n int
			if err = wtx.QueryRow("SELECT COUNT(*) FROM tag WHERE data_id = ? AND object_id = ?",
				dataID, tagObj.ObjectID).Scan(&n); err != nil {
				return errors.WithStack(err)
			}
			if n == 0 {
				if _, err = wtx.Exec("INSERT INTO tag (data_id, object_id) VALUES (?, ?)", dataID, tagObj.ObjectID); err != nil {
					return errors.WithStack(err)
				}
			}
		}
		return nil
	})
}

package plexdb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/sjson"

	"plexdb/schema"
	"plexdb/tx"
)

type DiffKind string

const (
	// DiffMissing is present in the receiver only.
	DiffMissing DiffKind = "missing"
	// DiffExtra is present in the other store only.
	DiffExtra   DiffKind = "extra"
	DiffChanged DiffKind = "changed"
)

type DiffLevel string

const (
	LevelClass     DiffLevel = "class"
	LevelObject    DiffLevel = "object"
	LevelAttribute DiffLevel = "attribute"
	LevelProperty  DiffLevel = "property"
	LevelChild     DiffLevel = "child"
)

// DiffEntry is one structural difference. Owner and Key narrow it down below
// the object: the owner hierarchy and property name of a property entry, the
// attribute name, or the child hierarchy.
type DiffEntry struct {
	Kind   DiffKind
	Level  DiffLevel
	Class  string
	Object string
	Owner  string
	Key    string
	Orig   string
	Comp   string
}

func (e DiffEntry) String() string {
	parts := []string{string(e.Kind), string(e.Level), e.Class}
	for _, p := range []string{e.Object, e.Owner, e.Key} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	s := strings.Join(parts, " ")
	if e.Kind == DiffChanged {
		s += fmt.Sprintf(": %q -> %q", e.Orig, e.Comp)
	}
	return s
}

type DiffEntries []DiffEntry

// JSON encodes the entries as an array of objects.
func (d DiffEntries) JSON() (out string, err error) {
	out = "[]"
	for i, e := range d {
		fields := []struct {
			key   string
			value string
		}{
			{"kind", string(e.Kind)},
			{"level", string(e.Level)},
			{"class", e.Class},
			{"object", e.Object},
			{"owner", e.Owner},
			{"key", e.Key},
			{"orig", e.Orig},
			{"comp", e.Comp},
		}
		for _, f := range fields {
			if f.value == "" && f.key != "kind" && f.key != "level" {
				continue
			}
			if out, err = sjson.Set(out, fmt.Sprintf("%d.%s", i, f.key), f.value); err != nil {
				return "", errors.WithStack(err)
			}
		}
	}
	return out, nil
}

// Diff compares the models of two stores: class sets, object sets per class,
// and per object the attributes, property values and children.
func (s *Store) Diff(ctx context.Context, other *Store) (entries DiffEntries, err error) {
	entries = DiffEntries{}
	mine, err := s.Classes(ctx)
	if err != nil {
		return
	}
	theirs, err := other.Classes(ctx)
	if err != nil {
		return
	}
	onlyMine, both, onlyTheirs := splitSets(mine, theirs)
	for _, c := range onlyMine {
		entries = append(entries, DiffEntry{Kind: DiffMissing, Level: LevelClass, Class: c})
	}
	for _, c := range onlyTheirs {
		entries = append(entries, DiffEntry{Kind: DiffExtra, Level: LevelClass, Class: c})
	}
	for _, name := range both {
		var a, b *ClassView
		if a, err = s.Class(ctx, name); err != nil {
			return
		}
		if b, err = other.Class(ctx, name); err != nil {
			return
		}
		var d DiffEntries
		if d, err = a.Diff(ctx, b); err != nil {
			return
		}
		entries = append(entries, d...)
	}
	return entries, nil
}

func (c *ClassView) Diff(ctx context.Context, other *ClassView) (entries DiffEntries, err error) {
	entries = DiffEntries{}
	mine, err := c.Keys(ctx)
	if err != nil {
		return
	}
	theirs, err := other.Keys(ctx)
	if err != nil {
		return
	}
	onlyMine, both, onlyTheirs := splitSets(mine, theirs)
	for _, o := range onlyMine {
		entries = append(entries, DiffEntry{Kind: DiffMissing, Level: LevelObject, Class: c.Name(), Object: o})
	}
	for _, o := range onlyTheirs {
		entries = append(entries, DiffEntry{Kind: DiffExtra, Level: LevelObject, Class: c.Name(), Object: o})
	}
	for _, name := range both {
		var a, b *ObjectView
		if a, err = c.Get(ctx, name); err != nil {
			return
		}
		if b, err = other.Get(ctx, name); err != nil {
			return
		}
		var d DiffEntries
		if d, err = a.Diff(ctx, b); err != nil {
			return
		}
		entries = append(entries, d...)
	}
	return entries, nil
}

// Diff compares attributes, property values and children. Children are
// compared by hierarchy, not recursed into.
func (o *ObjectView) Diff(ctx context.Context, other *ObjectView) (entries DiffEntries, err error) {
	entries = DiffEntries{}
	entry := func(kind DiffKind, level DiffLevel, owner, key, orig, comp string) {
		entries = append(entries, DiffEntry{Kind: kind, Level: level, Class: o.ClassName(), Object: o.Name(),
			Owner: owner, Key: key, Orig: orig, Comp: comp})
	}

	mineAttr, err := o.Attributes(ctx)
	if err != nil {
		return
	}
	theirAttr, err := other.Attributes(ctx)
	if err != nil {
		return
	}
	onlyMine, both, onlyTheirs := splitSets(keys(mineAttr), keys(theirAttr))
	for _, k := range onlyMine {
		entry(DiffMissing, LevelAttribute, "", k, mineAttr[k], "")
	}
	for _, k := range onlyTheirs {
		entry(DiffExtra, LevelAttribute, "", k, "", theirAttr[k])
	}
	for _, k := range both {
		if mineAttr[k] != theirAttr[k] {
			entry(DiffChanged, LevelAttribute, "", k, mineAttr[k], theirAttr[k])
		}
	}

	mineProps, err := o.GetProperties(ctx)
	if err != nil {
		return
	}
	theirProps, err := other.GetProperties(ctx)
	if err != nil {
		return
	}
	onlyMine, both, onlyTheirs = splitSets(keys(mineProps), keys(theirProps))
	for _, owner := range onlyMine {
		for _, name := range sortedKeys(mineProps[owner]) {
			entry(DiffMissing, LevelProperty, owner, name, mineProps[owner][name].String(), "")
		}
	}
	for _, owner := range onlyTheirs {
		for _, name := range sortedKeys(theirProps[owner]) {
			entry(DiffExtra, LevelProperty, owner, name, "", theirProps[owner][name].String())
		}
	}
	for _, owner := range both {
		a, b := mineProps[owner], theirProps[owner]
		pm, pb, pt := splitSets(keys(a), keys(b))
		for _, name := range pm {
			entry(DiffMissing, LevelProperty, owner, name, a[name].String(), "")
		}
		for _, name := range pt {
			entry(DiffExtra, LevelProperty, owner, name, "", b[name].String())
		}
		for _, name := range pb {
			if !a[name].Equal(b[name]) {
				entry(DiffChanged, LevelProperty, owner, name, a[name].String(), b[name].String())
			}
		}
	}

	mineKids, err := o.GetChildren(ctx, "")
	if err != nil {
		return
	}
	theirKids, err := other.GetChildren(ctx, "")
	if err != nil {
		return
	}
	onlyMine, _, onlyTheirs = splitSets(hierarchies(mineKids), hierarchies(theirKids))
	for _, h := range onlyMine {
		entry(DiffMissing, LevelChild, "", h, "", "")
	}
	for _, h := range onlyTheirs {
		entry(DiffExtra, LevelChild, "", h, "", "")
	}
	return entries, nil
}

func hierarchies(objs []*ObjectView) []string {
	ret := make([]string, len(objs))
	for i, o := range objs {
		ret[i] = o.Hierarchy()
	}
	return ret
}

func keys[V any](m map[string]V) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	return ret
}

func sortedKeys[V any](m map[string]V) []string {
	ret := keys(m)
	sort.Strings(ret)
	return ret
}

// splitSets returns the sorted, deduplicated members of a only, of both, and
// of b only.
func splitSets(a, b []string) (onlyA, both, onlyB []string) {
	inA, inB := map[string]bool{}, map[string]bool{}
	for _, v := range a {
		inA[v] = true
	}
	for _, v := range b {
		inB[v] = true
	}
	for v := range inA {
		if inB[v] {
			both = append(both, v)
		} else {
			onlyA = append(onlyA, v)
		}
	}
	for v := range inB {
		if !inA[v] {
			onlyB = append(onlyB, v)
		}
	}
	sort.Strings(onlyA)
	sort.Strings(both)
	sort.Strings(onlyB)
	return
}

type TableDiffKind string

const (
	TableMissing TableDiffKind = "missing"
	TableExtra   TableDiffKind = "extra"
	// TableSchema marks tables whose receiver columns are not all present in
	// the other store. Their rows are not compared.
	TableSchema TableDiffKind = "schema"
	TableRows   TableDiffKind = "rows"
)

// Row is one table row, NULL columns as invalid strings.
type Row []sql.NullString

func (r Row) key() string {
	b := &strings.Builder{}
	for _, v := range r {
		if v.Valid {
			fmt.Fprintf(b, "%d:%s|", len(v.String), v.String)
		} else {
			b.WriteString("N|")
		}
	}
	return b.String()
}

type TableDiff struct {
	Table   string
	Kind    TableDiffKind
	Columns []string
	// Missing rows are in the receiver only, Extra rows in the other store.
	Missing []Row
	Extra   []Row
}

// DiffDB compares the raw tables of two stores as multisets of rows over the
// receiver's columns.
func (s *Store) DiffDB(ctx context.Context, other *Store) (diffs []TableDiff, err error) {
	diffs = []TableDiff{}
	onlyMine, both, onlyTheirs := splitSets(s.catalog.Tables(), other.catalog.Tables())
	for _, t := range onlyMine {
		diffs = append(diffs, TableDiff{Table: t, Kind: TableMissing, Columns: s.catalog.Columns(t)})
	}
	for _, t := range onlyTheirs {
		diffs = append(diffs, TableDiff{Table: t, Kind: TableExtra, Columns: other.catalog.Columns(t)})
	}
	for _, t := range both {
		cols := s.catalog.Columns(t)
		compatible := true
		for _, c := range cols {
			if !other.catalog.HasColumn(t, c) {
				compatible = false
				break
			}
		}
		if !compatible {
			s.log.WithField("action", "diff_db").WithField("table", t).Warn("incompatible schema, rows not compared")
			diffs = append(diffs, TableDiff{Table: t, Kind: TableSchema, Columns: cols})
			continue
		}
		var mine, theirs []Row
		if mine, err = s.tableRows(ctx, t, cols); err != nil {
			return
		}
		if theirs, err = other.tableRows(ctx, t, cols); err != nil {
			return
		}
		missing, extra := diffRows(mine, theirs)
		if len(missing) > 0 || len(extra) > 0 {
			diffs = append(diffs, TableDiff{Table: t, Kind: TableRows, Columns: cols, Missing: missing, Extra: extra})
		}
	}
	return diffs, nil
}

func (s *Store) tableRows(ctx context.Context, table string, cols []string) (ret []Row, err error) {
	order := "1"
	if len(cols) > 1 {
		order = "1, 2"
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", quoteAll(cols), schema.Quote(table), order)
	err = s.view(ctx, func(rtx tx.ReadTx) error {
		rows, err := rtx.Query(stmt)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()
		for rows.Next() {
			r := make(Row, len(cols))
			ptrs := make([]any, len(cols))
			for i := range r {
				ptrs[i] = &r[i]
			}
			if err = rows.Scan(ptrs...); err != nil {
				return errors.WithStack(err)
			}
			ret = append(ret, r)
		}
		return errors.WithStack(rows.Err())
	})
	return
}

// diffRows returns the rows of a not matched in b and of b not matched in a,
// counting duplicates.
func diffRows(a, b []Row) (onlyA, onlyB []Row) {
	counts := map[string]int{}
	for _, r := range b {
		counts[r.key()]++
	}
	for _, r := range a {
		k := r.key()
		if counts[k] > 0 {
			counts[k]--
			continue
		}
		onlyA = append(onlyA, r)
	}
	counts = map[string]int{}
	for _, r := range a {
		counts[r.key()]++
	}
	for _, r := range b {
		k := r.key()
		if counts[k] > 0 {
			counts[k]--
			continue
		}
		onlyB = append(onlyB, r)
	}
	return
}

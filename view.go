package plexdb

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"plexdb/schema"
	"plexdb/tx"
)

const (
	PropertyView    = "property_view"
	SpreadsheetView = "property_spreadsheet"
)

const propertyViewTemplate = `CREATE VIEW property_view AS SELECT
	data.data_id AS data_id,
	data.value AS value,
	{uid} AS uid,
	property.name AS name,
	{mask} AS input_mask,
	membership.child_object_id AS child_object_id,
	membership.parent_object_id AS parent_object_id,
	{tag} AS tag_object_id,
	{text} AS text_value,
	{band} AS band_id
FROM data
INNER JOIN property ON property.property_id = data.property_id
INNER JOIN membership ON membership.membership_id = data.membership_id
{tagjoin}
{textjoin}
{bandjoin}`

// createPropertyView (re)creates the flattened data view the property engine
// reads from. Optional tables contribute NULL columns when absent.
func createPropertyView(wtx tx.WriteTx, l schema.Lookup) (err error) {
	if !l.HasTable("data") {
		return nil
	}
	subs := []string{
		"{uid}", "NULL",
		"{mask}", "NULL",
		"{tag}", "NULL", "{tagjoin}", "",
		"{text}", "NULL", "{textjoin}", "",
		"{band}", "NULL", "{bandjoin}", "",
	}
	if l.HasColumn("data", schema.UIDColumn) {
		subs[1] = "data.uid"
	}
	if l.HasColumn("property", "input_mask") {
		subs[3] = "property.input_mask"
	}
	if l.HasTable("tag") {
		subs[5] = "tag.object_id"
		subs[7] = "LEFT OUTER JOIN tag ON tag.data_id = data.data_id"
	}
	if l.HasTable("text") {
		subs[9] = "text.value"
		subs[11] = "LEFT OUTER JOIN text ON text.data_id = data.data_id"
	}
	if l.HasTable("band") {
		subs[13] = "band.band_id"
		subs[15] = "LEFT OUTER JOIN band ON band.data_id = data.data_id"
	}
	if _, err = wtx.Exec("DROP VIEW IF EXISTS " + PropertyView); err != nil {
		return errors.WithStack(err)
	}
	_, err = wtx.Exec(strings.NewReplacer(subs...).Replace(propertyViewTemplate))
	return errors.WithStack(err)
}

const spreadsheetViewStmt = `CREATE VIEW property_spreadsheet AS SELECT
	pc.name AS parent_class,
	cc.name AS child_class,
	col.name AS collection,
	po.name AS parent_object,
	co.name AS child_object,
	p.name AS property,
	IFNULL(b.band_id, 1) AS band_id,
	d.value AS value,
	u.value AS units,
	df.date AS date_from,
	dt.date AS date_to,
	pat.value AS pattern,
	var.action_symbol AS action,
	'{Object}' || var.name AS variable,
	fn.value AS filename,
	'{Object}' || scen.name AS scenario,
	md.value AS memo,
	p.period_type_id AS period_type_id,
	d.data_id AS data_id
FROM data d
INNER JOIN membership m ON m.membership_id = d.membership_id
INNER JOIN class pc ON pc.class_id = m.parent_class_id
INNER JOIN class cc ON cc.class_id = m.child_class_id
INNER JOIN collection col ON m.collection_id = col.collection_id
INNER JOIN object po ON po.object_id = m.parent_object_id
INNER JOIN object co ON co.object_id = m.child_object_id
INNER JOIN property p ON p.property_id = d.property_id
INNER JOIN unit u ON u.unit_id = p.unit_id
LEFT OUTER JOIN band b ON b.data_id = d.data_id
LEFT OUTER JOIN date_from df ON df.data_id = d.data_id
LEFT OUTER JOIN date_to dt ON dt.data_id = d.data_id
LEFT OUTER JOIN text pat ON pat.data_id = d.data_id
	AND pat.class_id = (SELECT class_id FROM class WHERE name = 'Timeslice')
LEFT OUTER JOIN (SELECT o.name, t.data_id, a.action_symbol FROM tag t
	INNER JOIN object o ON t.object_id = o.object_id
	INNER JOIN class c ON c.class_id = o.class_id AND c.name = 'Variable'
	INNER JOIN action a ON a.action_id = t.action_id
	) var ON d.data_id = var.data_id
LEFT OUTER JOIN text fn ON fn.data_id = d.data_id
	AND fn.class_id = (SELECT class_id FROM class WHERE name = 'Data File')
LEFT OUTER JOIN (SELECT o.name, t.data_id FROM tag t
	INNER JOIN object o ON t.object_id = o.object_id
	INNER JOIN class c ON c.class_id = o.class_id AND c.name = 'Scenario'
	) scen ON d.data_id = scen.data_id
LEFT OUTER JOIN memo_data md ON md.data_id = d.data_id`

// Columns the spreadsheet view needs beyond the core joins.
var spreadsheetColumns = [][2]string{
	{"membership", "parent_class_id"},
	{"membership", "child_class_id"},
	{"membership", "collection_id"},
	{"property", "unit_id"},
	{"property", "period_type_id"},
	{"unit", "value"},
	{"date_from", "date"},
	{"date_to", "date"},
	{"tag", "action_id"},
	{"action", "action_symbol"},
	{"memo_data", "value"},
}

// createSpreadsheetView builds the spreadsheet-shaped view of every value.
// Older files lack some of its tables, in which case it is skipped.
func createSpreadsheetView(wtx tx.WriteTx, l schema.Lookup, log logrus.FieldLogger) (err error) {
	if !l.HasTable("data") {
		return nil
	}
	for _, tc := range spreadsheetColumns {
		if !l.HasColumn(tc[0], tc[1]) {
			log.WithField("action", "load_create_view").
				WithField("missing", tc[0]+"."+tc[1]).
				Warn("unable to create spreadsheet view, input file may be too old")
			return nil
		}
	}
	if _, err = wtx.Exec("DROP VIEW IF EXISTS " + SpreadsheetView); err != nil {
		return errors.WithStack(err)
	}
	if _, err = wtx.Exec(spreadsheetViewStmt); err != nil {
		log.WithField("action", "load_create_view").WithError(err).
			Warn("unable to create spreadsheet view")
	}
	return nil
}

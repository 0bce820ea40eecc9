package common

import "database/sql"

// Typed rows of the well-known tables. Optional columns are read as NULL
// when the table lacks them.

type ClassRow struct {
	ClassID   int64
	Name      string
	IsEnabled sql.NullString
}

type ObjectRow struct {
	ObjectID   int64
	ClassID    int64
	Name       string
	CategoryID sql.NullInt64
	GUID       sql.NullString
}

type PropertyRow struct {
	PropertyID   int64
	CollectionID int64
	Name         string
	InputMask    sql.NullString
	DefaultValue sql.NullString
	IsDynamic    sql.NullString
	IsEnabled    sql.NullString
}

func (p PropertyRow) Mask() InputMask {
	return ParseInputMask(p.InputMask.String)
}

type Category struct {
	CategoryID int64
	ClassID    int64
	Name       string
	Rank       int
}

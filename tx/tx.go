package tx

import "database/sql"

type ReadTx interface {
	Query(stmt string, argList ...any) (*sql.Rows, error)
	QueryRow(stmt string, argList ...any) *sql.Row
	Commit() error
	Rollback() error
}

type WriteTx interface {
	ReadTx
	Exec(stmt string, argList ...any) (sql.Result, error)
	Prepare(stmt string) (*sql.Stmt, error)
}

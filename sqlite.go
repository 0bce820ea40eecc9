package plexdb

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"plexdb/common"
	"plexdb/schema"
	"plexdb/tx"
)

// MemoryPath opens a private in-memory store.
const MemoryPath = ":memory:"

type SqliteImpl struct {
	lock *sync.Mutex
	db   *sql.DB
	path string
}

var _ common.DB = (*SqliteImpl)(nil)

func NewSqliteImpl() (s *SqliteImpl) {
	s = &SqliteImpl{
		lock: &sync.Mutex{},
		db:   nil,
	}
	return
}

func (s *SqliteImpl) Open(ctx context.Context, dbPath string) (err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return errors.WithStack(err)
	}
	// 单连接，内存数据库随连接关闭而销毁
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	defer func() {
		if err != nil {
			db.Close()
		}
	}()
	if err = db.PingContext(ctx); err != nil {
		return errors.WithStack(err)
	}
	// band rows reference a non-unique band_id.
	if _, err = db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return errors.WithStack(err)
	}
	var fkEnabled int
	if err = db.QueryRowContext(ctx, "PRAGMA foreign_keys;").Scan(&fkEnabled); err != nil {
		return errors.WithStack(err)
	}
	if fkEnabled != 0 {
		err = errors.New("failed to disable foreign key enforcement")
		return
	}
	s.db = db
	s.path = dbPath
	return
}

func (s *SqliteImpl) Path() string {
	return s.path
}

// DB操作
func (s *SqliteImpl) ReadTx(ctx context.Context) (rtx tx.ReadTx, err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		ReadOnly: true,
	})
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	rtx = &sqliteReadTx{
		ctx: ctx,
		tx:  tx,
	}
	return
}

func (s *SqliteImpl) WriteTx(ctx context.Context) (wtx tx.WriteTx, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	wtx = &sqliteWriteTx{
		ctx: ctx,
		tx:  tx,
	}
	return
}

// 关闭数据库
func (s *SqliteImpl) Close(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return errors.WithStack(err)
}

// View runs fn in a read transaction.
func View(ctx context.Context, db common.DB, fn func(rtx tx.ReadTx) error) (err error) {
	rtx, err := db.ReadTx(ctx)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			rtx.Rollback()
		} else {
			err = errors.WithStack(rtx.Commit())
		}
	}()
	return fn(rtx)
}

// Update runs fn in a write transaction, committed only when fn succeeds.
func Update(ctx context.Context, db common.DB, fn func(wtx tx.WriteTx) error) (err error) {
	wtx, err := db.WriteTx(ctx)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			wtx.Rollback()
		} else {
			err = errors.WithStack(wtx.Commit())
		}
	}()
	return fn(wtx)
}

// readCatalog reads the table definitions back out of sqlite_master.
func readCatalog(rtx tx.ReadTx) (c *schema.Catalog, err error) {
	rows, err := rtx.Query(`SELECT name FROM sqlite_master
		WHERE type = 'table' AND substr(name, 1, 7) != 'sqlite_'
		ORDER BY name`)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	names := []string{}
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			rows.Close()
			return nil, errors.WithStack(err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	c = schema.NewCatalog()
	for _, name := range names {
		var cols []string
		if cols, err = tableColumns(rtx, name); err != nil {
			return nil, err
		}
		c.Add(name, cols)
	}
	return c, nil
}

func tableColumns(rtx tx.ReadTx, table string) (cols []string, err error) {
	rows, err := rtx.Query("PRAGMA table_info(" + schema.Quote(table) + ")")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err = rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, errors.WithStack(err)
		}
		cols = append(cols, name)
	}
	return cols, errors.WithStack(rows.Err())
}

package common

import (
	"context"

	"plexdb/tx"
)

type DB interface {
	// 打开数据库
	Open(ctx context.Context, dbPath string) error

	// DB操作
	ReadTx(ctx context.Context) (tx.ReadTx, error)

	WriteTx(ctx context.Context) (tx.WriteTx, error)

	// Path is the file backing the store, ":memory:" for in-memory stores.
	Path() string

	// 关闭数据库
	Close(ctx context.Context) error
}

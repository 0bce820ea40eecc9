package plexdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"plexdb/common"
	"plexdb/record"
	"plexdb/schema"
	"plexdb/tx"
)

// Save writes the model to path. Output goes to a temporary sibling that
// replaces path only once it is complete.
func (s *Store) Save(ctx context.Context, path string) (err error) {
	tmp := common.TempPath(path)
	f, err := os.Create(tmp)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()
	if err = s.WriteTo(ctx, f); err != nil {
		return
	}
	if err = f.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return errors.WithStack(err)
	}
	s.log.WithField("action", "save").WithField("path", path).Info("saved model")
	return nil
}

// WriteTo writes every table in lexical order, each row as a t_<table>
// element.
func (s *Store) WriteTo(ctx context.Context, w io.Writer) (err error) {
	return s.view(ctx, func(rtx tx.ReadTx) error {
		header, err := s.header(rtx)
		if err != nil {
			return err
		}
		out := record.NewWriter(w, header)
		if err = out.WriteHeader(); err != nil {
			return err
		}
		for _, table := range s.catalog.Tables() {
			if table == MetaTable || strings.HasPrefix(table, "sqlite_") {
				continue
			}
			if err = ctx.Err(); err != nil {
				return errors.WithStack(err)
			}
			if err = writeTable(rtx, out, table); err != nil {
				return err
			}
		}
		return out.Close()
	})
}

func (s *Store) header(rtx tx.ReadTx) (h record.Header, err error) {
	h = record.DefaultHeader
	if !s.catalog.HasTable(MetaTable) {
		s.log.WithField("action", "save").Warnf("no metadata found in table %s", MetaTable)
		return h, nil
	}
	rows, err := rtx.Query(fmt.Sprintf("SELECT name, value FROM %s", schema.Quote(MetaTable)))
	if err != nil {
		return h, errors.WithStack(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value sql.NullString
		if err = rows.Scan(&name, &value); err != nil {
			return h, errors.WithStack(err)
		}
		switch name.String {
		case "namespace":
			h.Namespace = value.String
		case "root_element":
			h.Root = value.String
		}
	}
	return h, errors.WithStack(rows.Err())
}

func writeTable(rtx tx.ReadTx, out *record.Writer, table string) (err error) {
	rows, err := rtx.Query("SELECT * FROM " + schema.Quote(table))
	if err != nil {
		return errors.WithStack(err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return errors.WithStack(err)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err = rows.Scan(ptrs...); err != nil {
			return errors.WithStack(err)
		}
		rec := &record.Record{Table: table}
		for i, v := range vals {
			if v == nil {
				continue
			}
			rec.Fields = append(rec.Fields, record.Field{Name: cols[i], Value: formatValue(v)})
		}
		if err = out.WriteRecord(rec); err != nil {
			return err
		}
	}
	return errors.WithStack(rows.Err())
}

func formatValue(v any) string {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []byte:
		return string(t)
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

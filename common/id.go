package common

import (
	"fmt"

	"github.com/rs/xid"
)

// TempPath names a sibling of path that output is staged in before it is
// renamed over path.
func TempPath(path string) string {
	return fmt.Sprintf("%s.%s.tmp", path, xid.New().String())
}

// TempTable names the staging table of a rebuild.
func TempTable(table string) string {
	return fmt.Sprintf("%s_%s", table, xid.New().String())
}

package plexdb

import (
	"sync"

	"plexdb/common"
	"plexdb/tx"
)

// Hierarchy memoizes object id to "Class.Object" lookups for the lifetime of
// a store. Entries are never evicted; object and class names do not change
// after ingestion.
type Hierarchy struct {
	lock  *sync.Mutex
	cache map[int64]string
}

func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		lock:  &sync.Mutex{},
		cache: map[int64]string{},
	}
}

func (h *Hierarchy) Resolve(rtx tx.ReadTx, objectID int64) (hier string, err error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if hier, ok := h.cache[objectID]; ok {
		return hier, nil
	}
	var p common.Path
	err = rtx.QueryRow(`SELECT c.name, o.name FROM object o
		INNER JOIN class c ON c.class_id = o.class_id
		WHERE o.object_id = ?`, objectID).Scan(&p.Class, &p.Object)
	if err != nil {
		return "", notFound(err, common.ErrObjectNotFound, "no object with id %d", objectID)
	}
	hier = p.String()
	h.cache[objectID] = hier
	return hier, nil
}

func (h *Hierarchy) Len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.cache)
}

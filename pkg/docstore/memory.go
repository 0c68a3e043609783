package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/segmentio/ksuid"
	"github.com/ssargent/yggdrasil/pkg/value"
)

// Memory is a map-backed Store. Writers are fully serialized by a
// single lock and stage their changes in an overlay that is applied on
// commit, which gives every transaction read-after-write visibility
// and all-or-nothing semantics. It is the host used in tests and by
// the CLI when no data directory is configured.
type Memory struct {
	mu      sync.RWMutex
	docs    map[ID]*memDoc
	indexes []IndexSpec
	queue   *workQueue
	closed  bool
}

type memDoc struct {
	table  string
	fields Document
}

// NewMemory creates an empty in-memory store with the given index
// declarations.
func NewMemory(indexes ...IndexSpec) *Memory {
	m := &Memory{
		docs:    make(map[ID]*memDoc),
		indexes: indexes,
		queue:   newWorkQueue(),
	}
	m.queue.bind(m)
	return m
}

func (m *Memory) Read(ctx context.Context, fn func(Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memTx{store: m})
}

func (m *Memory) Write(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	tx := &memTx{store: m, staged: make(map[ID]*memDoc), writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	for id, d := range tx.staged {
		if d == nil {
			delete(m.docs, id)
		} else {
			m.docs[id] = d
		}
	}
	return nil
}

func (m *Memory) Scheduler() Scheduler { return m.queue }

func (m *Memory) RegisterWork(ref string, fn WorkFunc) { m.queue.register(ref, fn) }

// DrainWork runs all queued scheduled work to completion.
func (m *Memory) DrainWork(ctx context.Context) error { return m.queue.Drain(ctx) }

// PendingWork reports the number of queued work items.
func (m *Memory) PendingWork() int { return m.queue.Pending() }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memTx implements Tx over the store maps plus a staged overlay. A nil
// overlay entry marks a deletion.
type memTx struct {
	store    *Memory
	staged   map[ID]*memDoc
	writable bool
}

func (tx *memTx) lookup(id ID) *memDoc {
	if tx.staged != nil {
		if d, ok := tx.staged[id]; ok {
			return d
		}
	}
	return tx.store.docs[id]
}

func (tx *memTx) Get(ctx context.Context, id ID) (Document, error) {
	d := tx.lookup(id)
	if d == nil {
		return nil, nil
	}
	return cloneDocument(d.fields), nil
}

func (tx *memTx) Insert(ctx context.Context, table string, doc Document) (ID, error) {
	if !tx.writable {
		return "", &Error{"insert inside a read transaction"}
	}
	fields := cloneDocument(doc)
	if err := tx.checkUnique(table, fields, ""); err != nil {
		return "", err
	}
	id := ID(ksuid.New().String())
	tx.staged[id] = &memDoc{table: table, fields: fields}
	return id, nil
}

func (tx *memTx) Patch(ctx context.Context, id ID, fields Document) error {
	if !tx.writable {
		return &Error{"patch inside a read transaction"}
	}
	d := tx.lookup(id)
	if d == nil {
		return ErrNoDocument
	}
	merged := cloneDocument(d.fields)
	for k, v := range fields {
		merged[k] = cloneValue(v)
	}
	if err := tx.checkUnique(d.table, merged, id); err != nil {
		return err
	}
	tx.staged[id] = &memDoc{table: d.table, fields: merged}
	return nil
}

func (tx *memTx) Delete(ctx context.Context, id ID) error {
	if !tx.writable {
		return &Error{"delete inside a read transaction"}
	}
	if tx.lookup(id) == nil {
		return ErrNoDocument
	}
	tx.staged[id] = nil
	return nil
}

func (tx *memTx) UniqueByIndex(ctx context.Context, table, index string, key any) (ID, Document, error) {
	spec, ok := tx.store.indexSpec(table, index)
	if !ok {
		return "", nil, &Error{"unknown index " + table + "." + index}
	}
	var foundID ID
	var found Document
	tx.each(table, func(id ID, d *memDoc) bool {
		if value.Equal(d.fields[spec.Field], key) {
			foundID, found = id, cloneDocument(d.fields)
			return false
		}
		return true
	})
	return foundID, found, nil
}

func (tx *memTx) ScanAfter(ctx context.Context, table string, after ID, limit int) ([]Row, error) {
	var ids []ID
	tx.each(table, func(id ID, d *memDoc) bool {
		if after == "" || id > after {
			ids = append(ids, id)
		}
		return true
	})
	sortIDs(ids)
	if limit >= 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, Row{ID: id, Doc: cloneDocument(tx.lookup(id).fields)})
	}
	return rows, nil
}

// each visits every live document of a table, overlay included, until
// the visitor returns false.
func (tx *memTx) each(table string, visit func(ID, *memDoc) bool) {
	for id, d := range tx.store.docs {
		if tx.staged != nil {
			if _, overridden := tx.staged[id]; overridden {
				continue
			}
		}
		if d.table == table && !visit(id, d) {
			return
		}
	}
	for id, d := range tx.staged {
		if d != nil && d.table == table && !visit(id, d) {
			return
		}
	}
}

func (tx *memTx) checkUnique(table string, fields Document, self ID) error {
	for _, spec := range tx.store.indexes {
		if spec.Table != table || !spec.Unique {
			continue
		}
		conflict := false
		tx.each(table, func(id ID, d *memDoc) bool {
			if id != self && value.Equal(d.fields[spec.Field], fields[spec.Field]) {
				conflict = true
				return false
			}
			return true
		})
		if conflict {
			return ErrIndexConflict
		}
	}
	return nil
}

func (m *Memory) indexSpec(table, index string) (IndexSpec, bool) {
	for _, spec := range m.indexes {
		if spec.Table == table && spec.Name == index {
			return spec, true
		}
	}
	return IndexSpec{}, false
}

func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []byte:
		out := make([]byte, len(x))
		copy(out, x)
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return x
	}
}

package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"
	"github.com/ssargent/yggdrasil/pkg/value"
)

// Pebble is a Store persisted in a pebble database.
//
// Layout: one key per document under "d/<id>" holding the encoded
// document, one empty key per document under "t/<table>/<id>" giving
// the id-ordered table scan, and for every unique index one key under
// "i/<table>/<index>/<encoded field value>" holding the owning id.
//
// Write transactions run one at a time on an indexed batch, so reads
// inside a transaction see its own writes; the batch commits with sync
// on success and is dropped on error. Read transactions run on a
// snapshot.
type Pebble struct {
	db      *pebble.DB
	indexes []IndexSpec
	queue   *workQueue

	writerMu sync.Mutex
	closeMu  sync.Mutex
	closed   bool
}

// OpenPebble opens (creating if needed) a pebble-backed store at path.
func OpenPebble(path string, indexes ...IndexSpec) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("docstore: open pebble at %s: %w", path, err)
	}
	p := &Pebble{db: db, indexes: indexes, queue: newWorkQueue()}
	p.queue.bind(p)
	return p, nil
}

func (p *Pebble) Read(ctx context.Context, fn func(Tx) error) error {
	if err := p.check(); err != nil {
		return err
	}
	snap := p.db.NewSnapshot()
	defer snap.Close()
	return fn(&pebbleTx{store: p, reader: snap})
}

func (p *Pebble) Write(ctx context.Context, fn func(Tx) error) error {
	if err := p.check(); err != nil {
		return err
	}
	p.writerMu.Lock()
	defer p.writerMu.Unlock()

	batch := p.db.NewIndexedBatch()
	defer batch.Close()

	tx := &pebbleTx{store: p, reader: batch, batch: batch}
	if err := fn(tx); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("docstore: commit: %w", err)
	}
	return nil
}

func (p *Pebble) Scheduler() Scheduler { return p.queue }

func (p *Pebble) RegisterWork(ref string, fn WorkFunc) { p.queue.register(ref, fn) }

// DrainWork runs all queued scheduled work to completion.
func (p *Pebble) DrainWork(ctx context.Context) error { return p.queue.Drain(ctx) }

// PendingWork reports the number of queued work items.
func (p *Pebble) PendingWork() int { return p.queue.Pending() }

func (p *Pebble) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

func (p *Pebble) check() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

func docKey(id ID) []byte { return []byte("d/" + id) }

func tableKey(table string, id ID) []byte { return []byte("t/" + table + "/" + string(id)) }

func indexKey(table, index string, key any) []byte {
	return []byte("i/" + table + "/" + index + "/" + value.Encode(key))
}

type pebbleTx struct {
	store  *Pebble
	reader pebble.Reader
	batch  *pebble.Batch
}

func (tx *pebbleTx) writable() bool { return tx.batch != nil }

func (tx *pebbleTx) rawGet(key []byte) ([]byte, bool, error) {
	data, closer, err := tx.reader.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("docstore: get: %w", err)
	}
	out := make([]byte, len(data))
	copy(out, data)
	if err := closer.Close(); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// loadDoc returns the table and fields of a stored document.
func (tx *pebbleTx) loadDoc(id ID) (string, Document, error) {
	raw, ok, err := tx.rawGet(docKey(id))
	if err != nil || !ok {
		return "", nil, err
	}
	decoded, err := value.Decode(string(raw))
	if err != nil {
		return "", nil, fmt.Errorf("docstore: corrupt document %s: %w", id, err)
	}
	wrapper, ok := decoded.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("docstore: corrupt document %s", id)
	}
	table, _ := wrapper["table"].(string)
	fields, _ := wrapper["fields"].(map[string]any)
	if fields == nil {
		fields = map[string]any{}
	}
	return table, Document(fields), nil
}

func (tx *pebbleTx) storeDoc(id ID, table string, fields Document) error {
	wrapper := map[string]any{"table": table, "fields": map[string]any(fields)}
	if err := tx.batch.Set(docKey(id), []byte(value.Encode(wrapper)), nil); err != nil {
		return err
	}
	return tx.batch.Set(tableKey(table, id), nil, nil)
}

func (tx *pebbleTx) Get(ctx context.Context, id ID) (Document, error) {
	_, fields, err := tx.loadDoc(id)
	return fields, err
}

func (tx *pebbleTx) Insert(ctx context.Context, table string, doc Document) (ID, error) {
	if !tx.writable() {
		return "", &Error{"insert inside a read transaction"}
	}
	id := ID(ksuid.New().String())
	if err := tx.updateIndexes(table, id, nil, doc); err != nil {
		return "", err
	}
	if err := tx.storeDoc(id, table, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (tx *pebbleTx) Patch(ctx context.Context, id ID, fields Document) error {
	if !tx.writable() {
		return &Error{"patch inside a read transaction"}
	}
	table, old, err := tx.loadDoc(id)
	if err != nil {
		return err
	}
	if old == nil {
		return ErrNoDocument
	}
	merged := cloneDocument(old)
	for k, v := range fields {
		merged[k] = v
	}
	if err := tx.updateIndexes(table, id, old, merged); err != nil {
		return err
	}
	return tx.storeDoc(id, table, merged)
}

func (tx *pebbleTx) Delete(ctx context.Context, id ID) error {
	if !tx.writable() {
		return &Error{"delete inside a read transaction"}
	}
	table, old, err := tx.loadDoc(id)
	if err != nil {
		return err
	}
	if old == nil {
		return ErrNoDocument
	}
	if err := tx.updateIndexes(table, id, old, nil); err != nil {
		return err
	}
	if err := tx.batch.Delete(docKey(id), nil); err != nil {
		return err
	}
	return tx.batch.Delete(tableKey(table, id), nil)
}

// updateIndexes moves a document's unique index entries from its old
// field values to its new ones, failing on a conflict with another
// document. A nil old means insert, a nil updated means delete.
func (tx *pebbleTx) updateIndexes(table string, id ID, old, updated Document) error {
	for _, spec := range tx.store.indexes {
		if spec.Table != table || !spec.Unique {
			continue
		}
		var oldKey, newKey []byte
		if old != nil {
			oldKey = indexKey(table, spec.Name, old[spec.Field])
		}
		if updated != nil {
			newKey = indexKey(table, spec.Name, updated[spec.Field])
		}
		if oldKey != nil && newKey != nil && string(oldKey) == string(newKey) {
			continue
		}
		if newKey != nil {
			owner, ok, err := tx.rawGet(newKey)
			if err != nil {
				return err
			}
			if ok && ID(owner) != id {
				return ErrIndexConflict
			}
			if err := tx.batch.Set(newKey, []byte(id), nil); err != nil {
				return err
			}
		}
		if oldKey != nil {
			if err := tx.batch.Delete(oldKey, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (tx *pebbleTx) UniqueByIndex(ctx context.Context, table, index string, key any) (ID, Document, error) {
	owner, ok, err := tx.rawGet(indexKey(table, index, key))
	if err != nil || !ok {
		return "", nil, err
	}
	id := ID(owner)
	_, fields, err := tx.loadDoc(id)
	if err != nil {
		return "", nil, err
	}
	if fields == nil {
		return "", nil, fmt.Errorf("docstore: dangling index entry for %s.%s", table, index)
	}
	return id, fields, nil
}

func (tx *pebbleTx) ScanAfter(ctx context.Context, table string, after ID, limit int) ([]Row, error) {
	prefix := "t/" + table + "/"
	lower := []byte(prefix)
	if after != "" {
		lower = append([]byte(prefix+string(after)), 0)
	}
	iter, err := tx.reader.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: scan: %w", err)
	}
	defer iter.Close()

	var rows []Row
	for valid := iter.First(); valid && (limit < 0 || len(rows) < limit); valid = iter.Next() {
		id := ID(string(iter.Key())[len(prefix):])
		_, fields, err := tx.loadDoc(id)
		if err != nil {
			return nil, err
		}
		if fields == nil {
			continue
		}
		rows = append(rows, Row{ID: id, Doc: fields})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("docstore: scan: %w", err)
	}
	return rows, nil
}

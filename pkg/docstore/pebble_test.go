package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPebble(t *testing.T) *Pebble {
	t.Helper()
	store, err := OpenPebble(t.TempDir(), testIndexes()...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPebbleRoundTrip(t *testing.T) {
	store := openPebble(t)
	ctx := context.Background()

	var id ID
	require.NoError(t, store.Write(ctx, func(tx Tx) error {
		var err error
		id, err = tx.Insert(ctx, "node", Document{
			"items":    []any{map[string]any{"k": []byte{0x01, 0x02}, "v": "x"}},
			"subtrees": []any{},
		})
		if err != nil {
			return err
		}
		// Read-after-write inside the batch.
		doc, err := tx.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, doc)
		return nil
	}))

	require.NoError(t, store.Read(ctx, func(tx Tx) error {
		doc, err := tx.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, doc)
		items := doc["items"].([]any)
		require.Len(t, items, 1)
		pair := items[0].(map[string]any)
		assert.Equal(t, []byte{0x01, 0x02}, pair["k"], "byte keys must survive persistence")
		assert.Equal(t, "x", pair["v"])
		return nil
	}))
}

func TestPebbleRollback(t *testing.T) {
	store := openPebble(t)
	ctx := context.Background()

	var leaked ID
	err := store.Write(ctx, func(tx Tx) error {
		id, err := tx.Insert(ctx, "node", Document{"n": float64(1)})
		require.NoError(t, err)
		leaked = id
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	require.NoError(t, store.Read(ctx, func(tx Tx) error {
		doc, err := tx.Get(ctx, leaked)
		require.NoError(t, err)
		assert.Nil(t, doc)
		return nil
	}))
}

func TestPebbleUniqueIndexFollowsPatches(t *testing.T) {
	store := openPebble(t)
	ctx := context.Background()

	var id ID
	require.NoError(t, store.Write(ctx, func(tx Tx) error {
		var err error
		id, err = tx.Insert(ctx, "tree", Document{"namespace": "a", "root": "r"})
		return err
	}))

	// Second insert under the same namespace conflicts.
	err := store.Write(ctx, func(tx Tx) error {
		_, err := tx.Insert(ctx, "tree", Document{"namespace": "a"})
		return err
	})
	assert.ErrorIs(t, err, ErrIndexConflict)

	// Moving the namespace frees the old index slot.
	require.NoError(t, store.Write(ctx, func(tx Tx) error {
		return tx.Patch(ctx, id, Document{"namespace": "b"})
	}))
	require.NoError(t, store.Read(ctx, func(tx Tx) error {
		_, doc, err := tx.UniqueByIndex(ctx, "tree", "by_namespace", "a")
		require.NoError(t, err)
		assert.Nil(t, doc)
		_, doc, err = tx.UniqueByIndex(ctx, "tree", "by_namespace", "b")
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "r", doc["root"], "patch must keep untouched fields")
		return nil
	}))

	// Deleting the document clears its index entry too.
	require.NoError(t, store.Write(ctx, func(tx Tx) error {
		return tx.Delete(ctx, id)
	}))
	require.NoError(t, store.Read(ctx, func(tx Tx) error {
		_, doc, err := tx.UniqueByIndex(ctx, "tree", "by_namespace", "b")
		require.NoError(t, err)
		assert.Nil(t, doc)
		return nil
	}))
}

func TestPebbleScanAfter(t *testing.T) {
	store := openPebble(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, func(tx Tx) error {
		for i := 0; i < 4; i++ {
			if _, err := tx.Insert(ctx, "tree", Document{"n": float64(i)}); err != nil {
				return err
			}
		}
		_, err := tx.Insert(ctx, "node", Document{})
		return err
	}))

	require.NoError(t, store.Read(ctx, func(tx Tx) error {
		rows, err := tx.ScanAfter(ctx, "tree", "", -1)
		require.NoError(t, err)
		require.Len(t, rows, 4)
		for i := 1; i < len(rows); i++ {
			assert.Less(t, rows[i-1].ID, rows[i].ID)
		}

		rows2, err := tx.ScanAfter(ctx, "tree", rows[0].ID, 2)
		require.NoError(t, err)
		require.Len(t, rows2, 2)
		assert.Equal(t, rows[1].ID, rows2[0].ID)
		return nil
	}))
}

func TestPebbleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenPebble(dir, testIndexes()...)
	require.NoError(t, err)
	var id ID
	require.NoError(t, store.Write(ctx, func(tx Tx) error {
		var err error
		id, err = tx.Insert(ctx, "tree", Document{"namespace": nil, "maxNodeSize": float64(16)})
		return err
	}))
	require.NoError(t, store.Close())

	store, err = OpenPebble(dir, testIndexes()...)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Read(ctx, func(tx Tx) error {
		doc, err := tx.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, float64(16), doc["maxNodeSize"])

		foundID, doc2, err := tx.UniqueByIndex(ctx, "tree", "by_namespace", nil)
		require.NoError(t, err)
		require.NotNil(t, doc2)
		assert.Equal(t, id, foundID)
		return nil
	}))
}

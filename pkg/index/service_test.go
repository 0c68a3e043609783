package index_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/yggdrasil/pkg/btree"
	"github.com/ssargent/yggdrasil/pkg/docstore"
	"github.com/ssargent/yggdrasil/pkg/index"
)

func newService() (*index.Service, *docstore.Memory) {
	store := docstore.NewMemory(btree.StoreIndexes()...)
	return index.New(store), store
}

func countNodes(t *testing.T, store *docstore.Memory) int {
	t.Helper()
	n := 0
	require.NoError(t, store.Read(context.Background(), func(tx docstore.Tx) error {
		rows, err := tx.ScanAfter(context.Background(), btree.NodeTable, "", -1)
		if err != nil {
			return err
		}
		n = len(rows)
		return nil
	}))
	return n
}

func TestInitTwiceFails(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.Init(ctx, "ns", 0))
	err := svc.Init(ctx, "ns", 0)
	assert.ErrorIs(t, err, btree.ErrAlreadyInitialized)
}

func TestInsertAutoCreates(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, "auto", "k", "v1"))
	item, err := svc.Get(ctx, "auto", "k")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "v1", item.Value)
}

func TestGetUninitialized(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Get(context.Background(), "nope", "k")
	assert.ErrorIs(t, err, btree.ErrNotInitialized)
}

func TestDeleteIfExists(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	// Missing key, and even a missing namespace, are fine.
	removed, err := svc.DeleteIfExists(ctx, "ns", "ghost")
	require.NoError(t, err)
	assert.Nil(t, removed)

	require.NoError(t, svc.Insert(ctx, "ns", "k", "v"))
	removed, err = svc.DeleteIfExists(ctx, "ns", "k")
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "v", removed.Value)

	// Plain delete still fails.
	_, err = svc.Delete(ctx, "ns", "k")
	assert.ErrorIs(t, err, btree.ErrMissingKey)
}

func TestReplaceOrInsertUpsert(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, nil, "x", "a"))
	err := svc.Insert(ctx, nil, "x", "b")
	assert.ErrorIs(t, err, btree.ErrDuplicateKey)

	require.NoError(t, svc.ReplaceOrInsert(ctx, index.ReplaceRequest{
		CurrentKey: "x", NewKey: "x", Value: "b",
	}))
	item, err := svc.Get(ctx, nil, "x")
	require.NoError(t, err)
	assert.Equal(t, "b", item.Value)

	// Upsert of a brand-new key inserts.
	require.NoError(t, svc.ReplaceOrInsert(ctx, index.ReplaceRequest{
		CurrentKey: "y", NewKey: "y", Value: "c",
	}))
	item, err = svc.Get(ctx, nil, "y")
	require.NoError(t, err)
	assert.Equal(t, "c", item.Value)
}

func TestReplaceMovesKey(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, "ns", "old", "v"))
	require.NoError(t, svc.Replace(ctx, index.ReplaceRequest{
		Namespace: "ns", CurrentKey: "old", NewKey: "new", Value: "v2",
	}))

	item, err := svc.Get(ctx, "ns", "old")
	require.NoError(t, err)
	assert.Nil(t, item)
	item, err = svc.Get(ctx, "ns", "new")
	require.NoError(t, err)
	assert.Equal(t, "v2", item.Value)

	_, err = svc.Get(ctx, "missing", "x")
	require.Error(t, err)
	err = svc.Replace(ctx, index.ReplaceRequest{Namespace: "ns", CurrentKey: "gone", NewKey: "k", Value: "v"})
	assert.ErrorIs(t, err, btree.ErrMissingKey)
}

func TestReplaceAcrossNamespaces(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, "src", "k", "v"))
	require.NoError(t, svc.Replace(ctx, index.ReplaceRequest{
		Namespace:       "src",
		CurrentKey:      "k",
		NewKey:          "k",
		Value:           "v",
		NewNamespace:    "dst",
		ChangeNamespace: true,
	}))

	item, err := svc.Get(ctx, "src", "k")
	require.NoError(t, err)
	assert.Nil(t, item)
	item, err = svc.Get(ctx, "dst", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", item.Value)
}

func TestClearPreservesFanoutAndCleansNodes(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	require.NoError(t, svc.Init(ctx, "big", 4))
	for i := 0; i < 40; i++ {
		require.NoError(t, svc.Insert(ctx, "big", float64(i), "v"))
	}
	before := countNodes(t, store)
	require.Greater(t, before, 5)

	require.NoError(t, svc.Clear(ctx, "big", 0))
	require.NoError(t, store.DrainWork(ctx))

	// Only the fresh empty root remains.
	assert.Equal(t, 1, countNodes(t, store))
	assert.Zero(t, store.PendingWork())

	// Fanout survived the clear: reach the first split at 5 items.
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Insert(ctx, "big", float64(i), "v"))
	}
	assert.Equal(t, 3, countNodes(t, store))
	require.NoError(t, svc.Validate(ctx, "big"))

	page, err := svc.Paginate(ctx, "big", btree.PaginateOptions{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
}

func TestClearAll(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	require.NoError(t, svc.Init(ctx, nil, 8))
	require.NoError(t, svc.Insert(ctx, "a", "k1", "v"))
	require.NoError(t, svc.Insert(ctx, "b", "k2", "v"))
	require.NoError(t, svc.Insert(ctx, nil, "k3", "v"))

	require.NoError(t, svc.ClearAll(ctx))
	require.NoError(t, store.DrainWork(ctx))

	for _, ns := range []any{"a", "b", nil} {
		page, err := svc.Paginate(ctx, ns, btree.PaginateOptions{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, page.Items, "namespace %v", ns)
		assert.True(t, page.IsDone)
	}

	// The undefined namespace keeps its configured fanout.
	require.NoError(t, store.Read(ctx, func(tx docstore.Tx) error {
		tr, err := btree.NewEngine(tx).MustGetTree(ctx, nil)
		if err != nil {
			return err
		}
		assert.Equal(t, 8, tr.MaxNodeSize)
		return nil
	}))
}

func TestClearAllCreatesUndefinedNamespace(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, "only", "k", "v"))
	require.NoError(t, svc.ClearAll(ctx))
	require.NoError(t, store.DrainWork(ctx))

	require.NoError(t, store.Read(ctx, func(tx docstore.Tx) error {
		tr, err := btree.NewEngine(tx).MustGetTree(ctx, nil)
		if err != nil {
			return err
		}
		assert.Equal(t, btree.DefaultMaxNodeSize, tr.MaxNodeSize)
		return nil
	}))
}

func TestPaginateNamespaces(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	for _, ns := range []any{"x", "y", "z"} {
		require.NoError(t, svc.Insert(ctx, ns, "k", "v"))
	}
	require.NoError(t, svc.Insert(ctx, nil, "k", "v"))

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := svc.PaginateNamespaces(ctx, 3, cursor)
		require.NoError(t, err)
		for _, ns := range page.Namespaces {
			if ns == nil {
				seen["<undefined>"] = true
			} else {
				seen[ns.(string)] = true
			}
		}
		pages++
		if page.IsDone {
			assert.Equal(t, index.EndCursor, page.Cursor)
			break
		}
		cursor = page.Cursor
	}
	assert.Equal(t, map[string]bool{"x": true, "y": true, "z": true, "<undefined>": true}, seen)
	assert.GreaterOrEqual(t, pages, 2)

	// The end cursor short-circuits.
	page, err := svc.PaginateNamespaces(ctx, 3, index.EndCursor)
	require.NoError(t, err)
	assert.Empty(t, page.Namespaces)
	assert.True(t, page.IsDone)

	_, err = svc.PaginateNamespaces(ctx, 0, "")
	assert.Error(t, err)
}

func TestValidateUninitialized(t *testing.T) {
	svc, _ := newService()
	err := svc.Validate(context.Background(), "ghost")
	assert.ErrorIs(t, err, btree.ErrNotInitialized)
}

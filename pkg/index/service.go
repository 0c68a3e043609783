// Package index exposes the namespaced ordered index as a set of
// public operations, each one a single transaction against the host
// document store. It owns the namespace catalog, tree lifecycle, and
// the scheduled cleanup of cleared node graphs.
package index

import (
	"context"
	"errors"

	"github.com/ssargent/yggdrasil/pkg/btree"
	"github.com/ssargent/yggdrasil/pkg/docstore"
	"github.com/ssargent/yggdrasil/pkg/value"
)

// CleanupWorkRef is the scheduler ref of the node-graph deletion work
// handler registered by New.
const CleanupWorkRef = "index/deleteNode"

// Service is the public surface of the index. All methods are safe
// for concurrent use; isolation comes from the store's transactions.
type Service struct {
	store docstore.Store
}

// New binds a service to a store and registers the cleanup work
// handler on it.
func New(store docstore.Store) *Service {
	s := &Service{store: store}
	store.RegisterWork(CleanupWorkRef, deleteNodeWork)
	return s
}

// Store returns the underlying document store.
func (s *Service) Store() docstore.Store { return s.store }

// Init creates the namespace's tree explicitly and fails with
// ALREADY_INITIALIZED when one exists. A zero maxNodeSize picks the
// default fanout.
func (s *Service) Init(ctx context.Context, namespace any, maxNodeSize int) error {
	return s.store.Write(ctx, func(tx docstore.Tx) error {
		eng := btree.NewEngine(tx)
		t, err := eng.GetTree(ctx, namespace)
		if err != nil {
			return err
		}
		if t != nil {
			return &btree.Error{
				Code:    btree.CodeAlreadyInitialized,
				Message: "namespace " + value.Encode(namespace) + " is already initialized",
			}
		}
		_, err = eng.CreateTree(ctx, namespace, maxNodeSize)
		return err
	})
}

// Insert adds one item, auto-creating the tree at the default fanout
// on the first write to a namespace. Fails with DUPLICATE_KEY when
// the key is already present.
func (s *Service) Insert(ctx context.Context, namespace any, key any, val string) error {
	return s.store.Write(ctx, func(tx docstore.Tx) error {
		eng := btree.NewEngine(tx)
		t, err := eng.GetOrCreateTree(ctx, namespace, 0)
		if err != nil {
			return err
		}
		return eng.Insert(ctx, t, key, val)
	})
}

// Delete removes the item under key and returns it. Fails with
// MISSING_KEY when the key (or the whole namespace) is absent.
func (s *Service) Delete(ctx context.Context, namespace any, key any) (*btree.Item, error) {
	var removed *btree.Item
	err := s.store.Write(ctx, func(tx docstore.Tx) error {
		var err error
		removed, err = deleteInTx(ctx, btree.NewEngine(tx), namespace, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// DeleteIfExists is Delete with MISSING_KEY suppressed; the returned
// item is nil when nothing was removed.
func (s *Service) DeleteIfExists(ctx context.Context, namespace any, key any) (*btree.Item, error) {
	removed, err := s.Delete(ctx, namespace, key)
	if errors.Is(err, btree.ErrMissingKey) {
		return nil, nil
	}
	return removed, err
}

// ReplaceRequest names the item to replace and what to replace it
// with. When ChangeNamespace is set the new item lands in the tree of
// NewNamespace instead, still within the same transaction.
type ReplaceRequest struct {
	Namespace       any
	CurrentKey      any
	NewKey          any
	Value           string
	NewNamespace    any
	ChangeNamespace bool
}

// Replace deletes the current key and inserts the new one in a single
// transaction. Fails with MISSING_KEY when the current key is absent.
func (s *Service) Replace(ctx context.Context, req ReplaceRequest) error {
	return s.replace(ctx, req, false)
}

// ReplaceOrInsert is Replace that tolerates an absent current key and
// just inserts. Insert-if-does-not-exist is this operation with the
// current key equal to the new key.
func (s *Service) ReplaceOrInsert(ctx context.Context, req ReplaceRequest) error {
	return s.replace(ctx, req, true)
}

func (s *Service) replace(ctx context.Context, req ReplaceRequest, orInsert bool) error {
	return s.store.Write(ctx, func(tx docstore.Tx) error {
		eng := btree.NewEngine(tx)
		if _, err := deleteInTx(ctx, eng, req.Namespace, req.CurrentKey); err != nil {
			if !orInsert || !errors.Is(err, btree.ErrMissingKey) {
				return err
			}
		}
		target := req.Namespace
		if req.ChangeNamespace {
			target = req.NewNamespace
		}
		t, err := eng.GetOrCreateTree(ctx, target, 0)
		if err != nil {
			return err
		}
		return eng.Insert(ctx, t, req.NewKey, req.Value)
	})
}

// Get returns the item under key, or nil when the key is absent.
// Fails with NOT_INITIALIZED when the namespace has no tree.
func (s *Service) Get(ctx context.Context, namespace any, key any) (*btree.Item, error) {
	var item *btree.Item
	err := s.store.Read(ctx, func(tx docstore.Tx) error {
		eng := btree.NewEngine(tx)
		t, err := eng.MustGetTree(ctx, namespace)
		if err != nil {
			return err
		}
		item, err = eng.Get(ctx, t, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Paginate returns one page of the namespace's items. A namespace
// with no tree yields an empty, done page.
func (s *Service) Paginate(ctx context.Context, namespace any, opts btree.PaginateOptions) (*btree.Page, error) {
	var page *btree.Page
	err := s.store.Read(ctx, func(tx docstore.Tx) error {
		eng := btree.NewEngine(tx)
		t, err := eng.GetTree(ctx, namespace)
		if err != nil {
			return err
		}
		if t == nil {
			page = &btree.Page{Cursor: "", IsDone: true}
			return nil
		}
		page, err = eng.Paginate(ctx, t, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Validate checks every structural invariant of the namespace's tree.
func (s *Service) Validate(ctx context.Context, namespace any) error {
	return s.store.Read(ctx, func(tx docstore.Tx) error {
		eng := btree.NewEngine(tx)
		t, err := eng.MustGetTree(ctx, namespace)
		if err != nil {
			return err
		}
		return eng.Validate(ctx, t)
	})
}

// deleteInTx deletes key from the namespace's tree inside an open
// transaction. An absent tree reads as an absent key.
func deleteInTx(ctx context.Context, eng *btree.Engine, namespace any, key any) (*btree.Item, error) {
	t, err := eng.GetTree(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &btree.Error{
			Code:    btree.CodeMissingKey,
			Message: "key " + value.Encode(key) + " not found",
		}
	}
	return eng.Delete(ctx, t, key)
}

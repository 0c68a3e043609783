package index

import (
	"context"
	"fmt"

	"github.com/ssargent/yggdrasil/pkg/btree"
	"github.com/ssargent/yggdrasil/pkg/docstore"
)

// EndCursor marks an exhausted namespace walk.
const EndCursor = "endcursor"

// NamespacePage is one page of namespace tags. The undefined
// namespace appears as nil.
type NamespacePage struct {
	Namespaces []any
	Cursor     string
	IsDone     bool
}

// PaginateNamespaces iterates tree records in their internal id order,
// the only total order the store provides over namespaces. The cursor
// is the id of the last returned tree, or EndCursor once exhausted.
func (s *Service) PaginateNamespaces(ctx context.Context, limit int, cursor string) (*NamespacePage, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("index: page limit must be positive, got %d", limit)
	}
	if cursor == EndCursor {
		return &NamespacePage{Cursor: EndCursor, IsDone: true}, nil
	}

	page := &NamespacePage{}
	err := s.store.Read(ctx, func(tx docstore.Tx) error {
		rows, err := tx.ScanAfter(ctx, btree.TreeTable, docstore.ID(cursor), limit)
		if err != nil {
			return err
		}
		for _, row := range rows {
			page.Namespaces = append(page.Namespaces, row.Doc["namespace"])
		}
		if len(rows) < limit {
			page.Cursor = EndCursor
			page.IsDone = true
		} else {
			page.Cursor = string(rows[len(rows)-1].ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Clear drops the namespace's tree, schedules deletion of its node
// graph, and recreates an empty tree. The fanout is preserved unless
// maxNodeSize overrides it; clearing a namespace that was never
// written just creates its tree.
func (s *Service) Clear(ctx context.Context, namespace any, maxNodeSize int) error {
	var orphan docstore.ID
	err := s.store.Write(ctx, func(tx docstore.Tx) error {
		eng := btree.NewEngine(tx)
		t, err := eng.GetTree(ctx, namespace)
		if err != nil {
			return err
		}
		size := maxNodeSize
		if t != nil {
			if size == 0 {
				size = t.MaxNodeSize
			}
			if err := eng.DeleteTree(ctx, t); err != nil {
				return err
			}
			orphan = t.Root
		}
		_, err = eng.CreateTree(ctx, namespace, size)
		return err
	})
	if err != nil {
		return err
	}
	if orphan != "" {
		return s.scheduleNodeDeletion(ctx, orphan)
	}
	return nil
}

// ClearAll clears every namespace in one transaction, keeping each
// tree's fanout, and makes sure the undefined-namespace tree exists
// afterwards since it carries the default fanout.
func (s *Service) ClearAll(ctx context.Context) error {
	var orphans []docstore.ID
	err := s.store.Write(ctx, func(tx docstore.Tx) error {
		eng := btree.NewEngine(tx)

		var trees []*btree.Tree
		after := docstore.ID("")
		for {
			rows, err := tx.ScanAfter(ctx, btree.TreeTable, after, 100)
			if err != nil {
				return err
			}
			for _, row := range rows {
				t, err := btree.TreeFromDoc(row.ID, row.Doc)
				if err != nil {
					return err
				}
				trees = append(trees, t)
			}
			if len(rows) < 100 {
				break
			}
			after = rows[len(rows)-1].ID
		}

		sawUndefined := false
		for _, t := range trees {
			if t.Namespace == nil {
				sawUndefined = true
			}
			if err := eng.DeleteTree(ctx, t); err != nil {
				return err
			}
			orphans = append(orphans, t.Root)
			if _, err := eng.CreateTree(ctx, t.Namespace, t.MaxNodeSize); err != nil {
				return err
			}
		}
		if !sawUndefined {
			if _, err := eng.CreateTree(ctx, nil, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, root := range orphans {
		if err := s.scheduleNodeDeletion(ctx, root); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) scheduleNodeDeletion(ctx context.Context, id docstore.ID) error {
	return s.store.Scheduler().RunAfter(ctx, 0, CleanupWorkRef, docstore.Document{"id": string(id)})
}

// deleteNodeWork deletes exactly one node per work item and
// re-schedules its children, keeping per-transaction work bounded no
// matter how large a cleared tree was. Deleting an already-deleted
// node is a no-op, so retries are safe.
func deleteNodeWork(ctx context.Context, store docstore.Store, args docstore.Document) error {
	raw, ok := args["id"].(string)
	if !ok {
		return fmt.Errorf("index: node deletion work item without an id")
	}
	id := docstore.ID(raw)

	var children []docstore.ID
	err := store.Write(ctx, func(tx docstore.Tx) error {
		doc, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		if subs, ok := doc["subtrees"].([]any); ok {
			for _, sub := range subs {
				if s, ok := sub.(string); ok {
					children = append(children, docstore.ID(s))
				}
			}
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := store.Scheduler().RunAfter(ctx, 0, CleanupWorkRef, docstore.Document{"id": string(child)}); err != nil {
			return err
		}
	}
	return nil
}

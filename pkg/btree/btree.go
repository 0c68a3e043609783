package btree

import (
	"context"

	"github.com/ssargent/yggdrasil/pkg/docstore"
	"github.com/ssargent/yggdrasil/pkg/value"
)

// Get returns the item stored under key, or nil when absent.
func (e *Engine) Get(ctx context.Context, t *Tree, key any) (*Item, error) {
	key, err := value.Canonicalize(key)
	if err != nil {
		return nil, err
	}
	id := t.Root
	for {
		n, err := e.getNode(ctx, id)
		if err != nil {
			return nil, err
		}
		i, found := n.search(key)
		if found {
			it := n.Items[i]
			return &it, nil
		}
		if n.Leaf() {
			return nil, nil
		}
		id = n.Subtrees[i]
	}
}

// pushUp is the result of a child split: the separator item and the
// two halves it now separates.
type pushUp struct {
	sep   Item
	left  docstore.ID
	right docstore.ID
}

// Insert adds an item under a key that must not already be present;
// it fails with DUPLICATE_KEY otherwise. When the root itself splits,
// a new root is allocated and the tree grows by one level.
func (e *Engine) Insert(ctx context.Context, t *Tree, key any, val string) error {
	key, err := value.Canonicalize(key)
	if err != nil {
		return err
	}
	push, err := e.insertInto(ctx, t, t.Root, key, val)
	if err != nil {
		return err
	}
	if push == nil {
		return nil
	}
	root, err := e.insertNode(ctx, []Item{push.sep}, []docstore.ID{push.left, push.right})
	if err != nil {
		return err
	}
	return e.setRoot(ctx, t, root)
}

// insertInto descends to the leaf position for key, writes the new
// item, and splits overflowing nodes on the way back up. A non-nil
// pushUp tells the caller to splice the separator into itself.
func (e *Engine) insertInto(ctx context.Context, t *Tree, id docstore.ID, key any, val string) (*pushUp, error) {
	n, err := e.getNode(ctx, id)
	if err != nil {
		return nil, err
	}
	i, found := n.search(key)
	if found {
		return nil, errorf(CodeDuplicateKey, "key %s already exists", value.Encode(key))
	}

	if n.Leaf() {
		items := spliceItem(n.Items, i, Item{Key: key, Value: val})
		if err := e.patchNode(ctx, id, items, nil); err != nil {
			return nil, err
		}
	} else {
		push, err := e.insertInto(ctx, t, n.Subtrees[i], key, val)
		if err != nil {
			return nil, err
		}
		if push != nil {
			items := spliceItem(n.Items, i, push.sep)
			subtrees := make([]docstore.ID, 0, len(n.Subtrees)+1)
			subtrees = append(subtrees, n.Subtrees[:i]...)
			subtrees = append(subtrees, push.left, push.right)
			subtrees = append(subtrees, n.Subtrees[i+1:]...)
			if err := e.patchNode(ctx, id, items, subtrees); err != nil {
				return nil, err
			}
		}
	}

	// Reload after the local write and split on overflow.
	n, err = e.getNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(n.Items) <= t.MaxNodeSize {
		return nil, nil
	}
	min := t.MinNodeSize()
	if len(n.Items) != 2*min+1 {
		return nil, errorf(CodeInvariantViolation,
			"node %s overflowed to %d items with fanout %d", id, len(n.Items), t.MaxNodeSize)
	}

	sep := n.Items[min]
	var rightSubs []docstore.ID
	if !n.Leaf() {
		rightSubs = n.Subtrees[min+1:]
	}
	right, err := e.insertNode(ctx, n.Items[min+1:], rightSubs)
	if err != nil {
		return nil, err
	}
	var leftSubs []docstore.ID
	if !n.Leaf() {
		leftSubs = n.Subtrees[:min+1]
	}
	if err := e.patchNode(ctx, id, n.Items[:min], leftSubs); err != nil {
		return nil, err
	}
	return &pushUp{sep: sep, left: id, right: right}, nil
}

// Delete removes the item stored under key and returns it; it fails
// with MISSING_KEY when absent. When the root is left internal with a
// single subtree and no items, that subtree becomes the new root and
// the tree shrinks by one level.
func (e *Engine) Delete(ctx context.Context, t *Tree, key any) (*Item, error) {
	key, err := value.Canonicalize(key)
	if err != nil {
		return nil, err
	}
	removed, err := e.deleteFrom(ctx, t, t.Root, key)
	if err != nil {
		return nil, err
	}

	root, err := e.getNode(ctx, t.Root)
	if err != nil {
		return nil, err
	}
	if !root.Leaf() && len(root.Items) == 0 && len(root.Subtrees) == 1 {
		old := root.ID
		if err := e.setRoot(ctx, t, root.Subtrees[0]); err != nil {
			return nil, err
		}
		if err := e.deleteNode(ctx, old); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

// deleteFrom removes key from the subtree rooted at id, repairing any
// deficient child on the way back up.
func (e *Engine) deleteFrom(ctx context.Context, t *Tree, id docstore.ID, key any) (*Item, error) {
	n, err := e.getNode(ctx, id)
	if err != nil {
		return nil, err
	}
	i, found := n.search(key)

	if found && n.Leaf() {
		removed := n.Items[i]
		items := append(append([]Item{}, n.Items[:i]...), n.Items[i+1:]...)
		if err := e.patchNode(ctx, id, items, nil); err != nil {
			return nil, err
		}
		return &removed, nil
	}
	if !found && n.Leaf() {
		return nil, errorf(CodeMissingKey, "key %s not found", value.Encode(key))
	}

	var removed *Item
	if found {
		// Replace the item with its predecessor, then delete the
		// predecessor from the left subtree.
		orig := n.Items[i]
		pred, err := e.findMax(ctx, n.Subtrees[i])
		if err != nil {
			return nil, err
		}
		items := append([]Item{}, n.Items...)
		items[i] = pred
		if err := e.patchNode(ctx, id, items, n.Subtrees); err != nil {
			return nil, err
		}
		if _, err := e.deleteFrom(ctx, t, n.Subtrees[i], pred.Key); err != nil {
			return nil, err
		}
		removed = &orig
	} else {
		removed, err = e.deleteFrom(ctx, t, n.Subtrees[i], key)
		if err != nil {
			return nil, err
		}
	}

	if err := e.rebalance(ctx, t, id, i); err != nil {
		return nil, err
	}
	return removed, nil
}

// findMax returns the maximum item of the subtree rooted at id.
func (e *Engine) findMax(ctx context.Context, id docstore.ID) (Item, error) {
	for {
		n, err := e.getNode(ctx, id)
		if err != nil {
			return Item{}, err
		}
		if n.Leaf() {
			if len(n.Items) == 0 {
				return Item{}, errorf(CodeInvariantViolation, "empty leaf %s on a max descent", id)
			}
			return n.Items[len(n.Items)-1], nil
		}
		id = n.Subtrees[len(n.Subtrees)-1]
	}
}

// rebalance repairs child i of the parent node when a deletion below
// left it under minimum occupancy: borrow from a sibling with spare
// items, or merge with one.
func (e *Engine) rebalance(ctx context.Context, t *Tree, parentID docstore.ID, i int) error {
	parent, err := e.getNode(ctx, parentID)
	if err != nil {
		return err
	}
	child, err := e.getNode(ctx, parent.Subtrees[i])
	if err != nil {
		return err
	}
	min := t.MinNodeSize()
	if len(child.Items) >= min {
		return nil
	}

	if i > 0 {
		left, err := e.getNode(ctx, parent.Subtrees[i-1])
		if err != nil {
			return err
		}
		if len(left.Items) > min {
			return e.rotateRight(ctx, parent, left, child, i)
		}
	}
	if i < len(parent.Subtrees)-1 {
		right, err := e.getNode(ctx, parent.Subtrees[i+1])
		if err != nil {
			return err
		}
		if len(right.Items) > min {
			return e.rotateLeft(ctx, parent, child, right, i)
		}
	}

	if i > 0 {
		left, err := e.getNode(ctx, parent.Subtrees[i-1])
		if err != nil {
			return err
		}
		return e.merge(ctx, parent, left, child, i-1)
	}
	right, err := e.getNode(ctx, parent.Subtrees[i+1])
	if err != nil {
		return err
	}
	return e.merge(ctx, parent, child, right, i)
}

// rotateRight moves the last item of the left sibling up into the
// parent and the old parent separator down into the deficient child.
func (e *Engine) rotateRight(ctx context.Context, parent, left, child *Node, i int) error {
	childItems := append([]Item{parent.Items[i-1]}, child.Items...)
	childSubs := child.Subtrees
	if !left.Leaf() {
		childSubs = append([]docstore.ID{left.Subtrees[len(left.Subtrees)-1]}, child.Subtrees...)
	}
	if err := e.patchNode(ctx, child.ID, childItems, childSubs); err != nil {
		return err
	}

	leftSubs := left.Subtrees
	if !left.Leaf() {
		leftSubs = left.Subtrees[:len(left.Subtrees)-1]
	}
	if err := e.patchNode(ctx, left.ID, left.Items[:len(left.Items)-1], leftSubs); err != nil {
		return err
	}

	parentItems := append([]Item{}, parent.Items...)
	parentItems[i-1] = left.Items[len(left.Items)-1]
	return e.patchNode(ctx, parent.ID, parentItems, parent.Subtrees)
}

// rotateLeft moves the first item of the right sibling up into the
// parent and the old parent separator down into the deficient child.
func (e *Engine) rotateLeft(ctx context.Context, parent, child, right *Node, i int) error {
	childItems := append(append([]Item{}, child.Items...), parent.Items[i])
	childSubs := child.Subtrees
	if !right.Leaf() {
		childSubs = append(append([]docstore.ID{}, child.Subtrees...), right.Subtrees[0])
	}
	if err := e.patchNode(ctx, child.ID, childItems, childSubs); err != nil {
		return err
	}

	rightSubs := right.Subtrees
	if !right.Leaf() {
		rightSubs = right.Subtrees[1:]
	}
	if err := e.patchNode(ctx, right.ID, right.Items[1:], rightSubs); err != nil {
		return err
	}

	parentItems := append([]Item{}, parent.Items...)
	parentItems[i] = right.Items[0]
	return e.patchNode(ctx, parent.ID, parentItems, parent.Subtrees)
}

// merge folds the right sibling and the separating parent item into
// the left sibling. sep is the parent item index between the two.
func (e *Engine) merge(ctx context.Context, parent, left, right *Node, sep int) error {
	items := append([]Item{}, left.Items...)
	items = append(items, parent.Items[sep])
	items = append(items, right.Items...)
	subtrees := append(append([]docstore.ID{}, left.Subtrees...), right.Subtrees...)
	if err := e.patchNode(ctx, left.ID, items, subtrees); err != nil {
		return err
	}
	if err := e.deleteNode(ctx, right.ID); err != nil {
		return err
	}

	parentItems := append(append([]Item{}, parent.Items[:sep]...), parent.Items[sep+1:]...)
	parentSubs := append(append([]docstore.ID{}, parent.Subtrees[:sep+1]...), parent.Subtrees[sep+2:]...)
	return e.patchNode(ctx, parent.ID, parentItems, parentSubs)
}

// spliceItem returns items with it inserted at index i.
func spliceItem(items []Item, i int, it Item) []Item {
	out := make([]Item, 0, len(items)+1)
	out = append(out, items[:i]...)
	out = append(out, it)
	out = append(out, items[i:]...)
	return out
}

package btree

import (
	"context"

	"github.com/ssargent/yggdrasil/pkg/docstore"
	"github.com/ssargent/yggdrasil/pkg/value"
)

// Validate walks the whole tree and fails with INVARIANT_VIOLATION on
// the first structural defect: out-of-order or duplicate items, nodes
// outside the occupancy bounds, subtree/item count mismatches, keys
// outside their separator window, or leaves at unequal depths.
func (e *Engine) Validate(ctx context.Context, t *Tree) error {
	if err := CheckMaxNodeSize(t.MaxNodeSize); err != nil {
		return err
	}
	_, err := e.validateNode(ctx, t, t.Root, nil, nil, true)
	return err
}

// window wraps a separator key; a nil *window is "no bound". The
// wrapper matters because null is itself a legal key.
type window struct {
	key any
}

// validateNode checks the subtree rooted at id against the separator
// window (lo, hi), both exclusive, and returns its leaf depth.
func (e *Engine) validateNode(ctx context.Context, t *Tree, id docstore.ID, lo, hi *window, isRoot bool) (int, error) {
	n, err := e.getNode(ctx, id)
	if err != nil {
		return 0, err
	}

	min, max := t.MinNodeSize(), t.MaxNodeSize
	if len(n.Items) > max {
		return 0, errorf(CodeInvariantViolation, "node %s has %d items, max is %d", id, len(n.Items), max)
	}
	if !isRoot && len(n.Items) < min {
		return 0, errorf(CodeInvariantViolation, "node %s has %d items, min is %d", id, len(n.Items), min)
	}
	if !n.Leaf() && len(n.Subtrees) != len(n.Items)+1 {
		return 0, errorf(CodeInvariantViolation,
			"node %s has %d items but %d subtrees", id, len(n.Items), len(n.Subtrees))
	}
	if isRoot && !n.Leaf() && len(n.Items) == 0 {
		return 0, errorf(CodeInvariantViolation, "root %s is internal with no items", id)
	}

	for i, it := range n.Items {
		if i > 0 && value.Compare(n.Items[i-1].Key, it.Key) >= 0 {
			return 0, errorf(CodeInvariantViolation, "node %s items out of order at %d", id, i)
		}
		if lo != nil && value.Compare(it.Key, lo.key) <= 0 {
			return 0, errorf(CodeInvariantViolation,
				"node %s item %s below its window", id, value.Encode(it.Key))
		}
		if hi != nil && value.Compare(it.Key, hi.key) >= 0 {
			return 0, errorf(CodeInvariantViolation,
				"node %s item %s above its window", id, value.Encode(it.Key))
		}
	}

	if n.Leaf() {
		return 0, nil
	}

	depth := -1
	for i, sub := range n.Subtrees {
		subLo, subHi := lo, hi
		if i > 0 {
			subLo = &window{key: n.Items[i-1].Key}
		}
		if i < len(n.Items) {
			subHi = &window{key: n.Items[i].Key}
		}
		d, err := e.validateNode(ctx, t, sub, subLo, subHi, false)
		if err != nil {
			return 0, err
		}
		if depth == -1 {
			depth = d
		} else if d != depth {
			return 0, errorf(CodeInvariantViolation, "node %s has leaves at unequal depths", id)
		}
	}
	return depth + 1, nil
}

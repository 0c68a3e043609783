package btree

import (
	"context"

	"github.com/ssargent/yggdrasil/pkg/docstore"
	"github.com/ssargent/yggdrasil/pkg/value"
)

// Bound is one endpoint of a key range. A nil *Bound is unbounded;
// Exclusive bounds come from pagination cursors, which name the last
// key already returned.
type Bound struct {
	Key       any
	Exclusive bool
}

// satisfiedAsLower reports whether key is admitted by b as a lower
// endpoint.
func (b *Bound) satisfiedAsLower(key any) bool {
	if b == nil {
		return true
	}
	c := value.Compare(key, b.Key)
	return c > 0 || (c == 0 && !b.Exclusive)
}

// satisfiedAsUpper reports whether key is admitted by b as an upper
// endpoint.
func (b *Bound) satisfiedAsUpper(key any) bool {
	if b == nil {
		return true
	}
	c := value.Compare(key, b.Key)
	return c < 0 || (c == 0 && !b.Exclusive)
}

func inRange(key any, lo, hi *Bound) bool {
	return lo.satisfiedAsLower(key) && hi.satisfiedAsUpper(key)
}

// rangeEntry is one in-range contribution of a subtree walk: either a
// concrete item or a reference to a descendant subtree whose keys are
// all within range. Subtree references let the walk skip loading
// entire regions of the tree until the page budget actually reaches
// them.
type rangeEntry struct {
	item    *Item
	subtree docstore.ID
}

// filterNode returns the ordered in-range contributions of the subtree
// rooted at id. Children that straddle a bound are filtered
// recursively; children wholly inside the range are returned as
// references. A child right of a separator at or above lo needs no
// lower bound of its own: everything in it already exceeds lo.
func (e *Engine) filterNode(ctx context.Context, id docstore.ID, lo, hi *Bound) ([]rangeEntry, error) {
	n, err := e.getNode(ctx, id)
	if err != nil {
		return nil, err
	}

	if n.Leaf() {
		var out []rangeEntry
		for i := range n.Items {
			if inRange(n.Items[i].Key, lo, hi) {
				out = append(out, rangeEntry{item: &n.Items[i]})
			}
		}
		return out, nil
	}

	var out []rangeEntry
	for i := 0; i <= len(n.Items); i++ {
		skip, childLo, childHi := childRange(n, i, lo, hi)
		if !skip {
			if childLo == nil && childHi == nil {
				out = append(out, rangeEntry{subtree: n.Subtrees[i]})
			} else {
				sub, err := e.filterNode(ctx, n.Subtrees[i], childLo, childHi)
				if err != nil {
					return nil, err
				}
				out = append(out, sub...)
			}
		}
		if i < len(n.Items) && inRange(n.Items[i].Key, lo, hi) {
			out = append(out, rangeEntry{item: &n.Items[i]})
		}
	}
	return out, nil
}

// childRange narrows the range for child i of an internal node, whose
// keys all lie strictly between items[i-1] and items[i]. It reports
// whether the child can be skipped outright, and otherwise which
// bounds still apply inside it (nil for none).
func childRange(n *Node, i int, lo, hi *Bound) (skip bool, childLo, childHi *Bound) {
	// The child is entirely below lo when its upper separator does
	// not exceed lo, and entirely above hi when its lower separator
	// reaches hi.
	if lo != nil && i < len(n.Items) && value.Compare(n.Items[i].Key, lo.Key) <= 0 {
		return true, nil, nil
	}
	if hi != nil && i > 0 && value.Compare(n.Items[i-1].Key, hi.Key) >= 0 {
		return true, nil, nil
	}

	childLo = lo
	if lo != nil && i > 0 && value.Compare(n.Items[i-1].Key, lo.Key) >= 0 {
		childLo = nil
	}
	childHi = hi
	if hi != nil && i < len(n.Items) && value.Compare(n.Items[i].Key, hi.Key) <= 0 {
		childHi = nil
	}
	return false, childLo, childHi
}

package btree

import (
	"context"
	"fmt"

	"github.com/ssargent/yggdrasil/pkg/docstore"
	"github.com/ssargent/yggdrasil/pkg/value"
)

// Order is the direction of a range walk.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// PaginateOptions select one page of a range walk. K1 and K2 are the
// optional range endpoints, inclusive unless marked Exclusive; Cursor
// resumes a previous walk
// and replaces K1 (asc) or K2 (desc) with a strict bound at the last
// key already returned.
type PaginateOptions struct {
	Limit  int
	Order  Order
	Cursor string
	K1     *Bound
	K2     *Bound
}

// Page is one pagination result. Cursor is "" when the walk is
// complete, otherwise the encoding of the last returned key.
type Page struct {
	Items  []Item
	Cursor string
	IsDone bool
}

// Paginate returns up to Limit items of the tree within [K1, K2] in
// the requested order, resuming from the cursor when one is given.
// Cursors are plain encodings of the last returned key, so they stay
// valid across arbitrary concurrent modification of the tree.
func (e *Engine) Paginate(ctx context.Context, t *Tree, opts PaginateOptions) (*Page, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("btree: page limit must be positive, got %d", opts.Limit)
	}
	desc := false
	switch opts.Order {
	case Asc, "":
	case Desc:
		desc = true
	default:
		return nil, fmt.Errorf("btree: unknown order %q", opts.Order)
	}

	lo, hi := opts.K1, opts.K2
	if lo != nil {
		key, err := value.Canonicalize(lo.Key)
		if err != nil {
			return nil, err
		}
		lo = &Bound{Key: key, Exclusive: lo.Exclusive}
	}
	if hi != nil {
		key, err := value.Canonicalize(hi.Key)
		if err != nil {
			return nil, err
		}
		hi = &Bound{Key: key, Exclusive: hi.Exclusive}
	}
	if opts.Cursor != "" {
		key, err := value.Decode(opts.Cursor)
		if err != nil {
			return nil, errorf(CodeInvalidCursor, "%v", err)
		}
		resume := &Bound{Key: key, Exclusive: true}
		if desc {
			hi = resume
		} else {
			lo = resume
		}
	}

	page := &Page{}
	exhausted, err := e.fillPage(ctx, t.Root, lo, hi, desc, opts.Limit, page)
	if err != nil {
		return nil, err
	}
	if exhausted {
		page.Cursor = ""
		page.IsDone = true
	} else {
		page.Cursor = value.Encode(page.Items[len(page.Items)-1].Key)
	}
	return page, nil
}

// fillPage appends the in-range items of a subtree to the page until
// the limit is hit, expanding subtree references lazily so untouched
// regions stay unloaded. It reports whether the subtree was fully
// consumed.
func (e *Engine) fillPage(ctx context.Context, id docstore.ID, lo, hi *Bound, desc bool, limit int, page *Page) (bool, error) {
	entries, err := e.filterNode(ctx, id, lo, hi)
	if err != nil {
		return false, err
	}
	if desc {
		reverseEntries(entries)
	}

	for _, entry := range entries {
		if len(page.Items) >= limit {
			return false, nil
		}
		if entry.item != nil {
			page.Items = append(page.Items, *entry.item)
			continue
		}
		exhausted, err := e.fillPage(ctx, entry.subtree, nil, nil, desc, limit, page)
		if err != nil {
			return false, err
		}
		if !exhausted {
			return false, nil
		}
	}
	return true, nil
}

func reverseEntries(entries []rangeEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

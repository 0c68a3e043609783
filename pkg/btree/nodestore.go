// Package btree implements a persistent, namespaced, ordered index as a
// B-tree whose nodes live in a transactional document store. Every
// operation runs inside one host transaction; the engine performs no
// locking of its own and relies on the host's read-after-write
// visibility for its multi-step edits.
package btree

import (
	"context"
	"fmt"

	"github.com/ssargent/yggdrasil/pkg/docstore"
	"github.com/ssargent/yggdrasil/pkg/value"
)

const (
	// TreeTable holds one record per namespace.
	TreeTable = "tree"
	// NodeTable holds the B-tree nodes of every namespace.
	NodeTable = "node"
	// NamespaceIndex is the unique index of TreeTable on "namespace".
	NamespaceIndex = "by_namespace"

	// DefaultMaxNodeSize is the fanout used when a namespace is
	// auto-created and no default has been configured.
	DefaultMaxNodeSize = 16
)

// StoreIndexes declares the indexes a host store must maintain for the
// engine. Pass them to the docstore constructor.
func StoreIndexes() []docstore.IndexSpec {
	return []docstore.IndexSpec{
		{Table: TreeTable, Name: NamespaceIndex, Field: "namespace", Unique: true},
	}
}

// Item is one key/value entry. Keys are canonical structured values,
// values are opaque identifier strings.
type Item struct {
	Key   any
	Value string
}

// Tree is the per-namespace record: the root node and the fanout.
type Tree struct {
	ID          docstore.ID
	Namespace   any
	Root        docstore.ID
	MaxNodeSize int
}

// MinNodeSize is the minimum item count of every non-root node.
func (t *Tree) MinNodeSize() int { return t.MaxNodeSize / 2 }

// Node is one B-tree node. Subtrees is empty for a leaf and has
// len(Items)+1 entries for an internal node.
type Node struct {
	ID       docstore.ID
	Items    []Item
	Subtrees []docstore.ID
}

// Leaf reports whether the node has no subtrees.
func (n *Node) Leaf() bool { return len(n.Subtrees) == 0 }

// search returns the first index whose key is >= key, and whether the
// key at that index is equal.
func (n *Node) search(key any) (int, bool) {
	for i, it := range n.Items {
		switch c := value.Compare(it.Key, key); {
		case c == 0:
			return i, true
		case c > 0:
			return i, false
		}
	}
	return len(n.Items), false
}

// CheckMaxNodeSize validates a fanout: it must be even and at least 4
// so MIN = maxNodeSize/2 is a valid minimum occupancy.
func CheckMaxNodeSize(maxNodeSize int) error {
	if maxNodeSize < 4 || maxNodeSize%2 != 0 {
		return errorf(CodeInvalidFanout, "maxNodeSize must be even and >= 4, got %d", maxNodeSize)
	}
	return nil
}

// Engine is the typed view of the tree and node tables inside one
// transaction, plus the tree algorithms that run on it. An Engine is
// only valid for the lifetime of the transaction it wraps.
type Engine struct {
	tx docstore.Tx
}

// NewEngine wraps a transaction.
func NewEngine(tx docstore.Tx) *Engine {
	return &Engine{tx: tx}
}

// GetTree returns the namespace's tree record, or nil when the
// namespace has never been written.
func (e *Engine) GetTree(ctx context.Context, namespace any) (*Tree, error) {
	namespace, err := value.Canonicalize(namespace)
	if err != nil {
		return nil, err
	}
	id, doc, err := e.tx.UniqueByIndex(ctx, TreeTable, NamespaceIndex, namespace)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return TreeFromDoc(id, doc)
}

// MustGetTree is GetTree for namespaces that must exist; it fails with
// NOT_INITIALIZED otherwise.
func (e *Engine) MustGetTree(ctx context.Context, namespace any) (*Tree, error) {
	t, err := e.GetTree(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errorf(CodeNotInitialized, "no tree for namespace %s", value.Encode(namespace))
	}
	return t, nil
}

// GetOrCreateTree returns the namespace's tree, creating it with a
// fresh empty root when absent. A zero maxNodeSize means "default":
// the fanout of the undefined-namespace tree when one exists, else
// DefaultMaxNodeSize.
func (e *Engine) GetOrCreateTree(ctx context.Context, namespace any, maxNodeSize int) (*Tree, error) {
	t, err := e.GetTree(ctx, namespace)
	if err != nil || t != nil {
		return t, err
	}
	return e.CreateTree(ctx, namespace, maxNodeSize)
}

// CreateTree inserts a tree record with an empty leaf root. The
// caller must have checked the namespace is absent.
func (e *Engine) CreateTree(ctx context.Context, namespace any, maxNodeSize int) (*Tree, error) {
	namespace, err := value.Canonicalize(namespace)
	if err != nil {
		return nil, err
	}
	if maxNodeSize == 0 {
		maxNodeSize = DefaultMaxNodeSize
		if def, err := e.GetTree(ctx, nil); err != nil {
			return nil, err
		} else if def != nil {
			maxNodeSize = def.MaxNodeSize
		}
	}
	if err := CheckMaxNodeSize(maxNodeSize); err != nil {
		return nil, err
	}

	root, err := e.insertNode(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	id, err := e.tx.Insert(ctx, TreeTable, docstore.Document{
		"namespace":   namespace,
		"root":        string(root),
		"maxNodeSize": float64(maxNodeSize),
	})
	if err != nil {
		return nil, err
	}
	return &Tree{ID: id, Namespace: namespace, Root: root, MaxNodeSize: maxNodeSize}, nil
}

// DeleteTree removes the tree record only; the node graph is the
// caller's to clean up (normally via scheduled deletion).
func (e *Engine) DeleteTree(ctx context.Context, t *Tree) error {
	return e.tx.Delete(ctx, t.ID)
}

// setRoot repoints the tree record at a new root node.
func (e *Engine) setRoot(ctx context.Context, t *Tree, root docstore.ID) error {
	if err := e.tx.Patch(ctx, t.ID, docstore.Document{"root": string(root)}); err != nil {
		return err
	}
	t.Root = root
	return nil
}

// getNode loads a node by id. A missing node is an invariant break,
// not a caller error.
func (e *Engine) getNode(ctx context.Context, id docstore.ID) (*Node, error) {
	doc, err := e.tx.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errorf(CodeInvariantViolation, "dangling node id %s", id)
	}
	return nodeFromDoc(id, doc)
}

// insertNode stores a fresh node and returns its id.
func (e *Engine) insertNode(ctx context.Context, items []Item, subtrees []docstore.ID) (docstore.ID, error) {
	return e.tx.Insert(ctx, NodeTable, nodeFields(items, subtrees))
}

// patchNode rewrites a node's items and subtrees.
func (e *Engine) patchNode(ctx context.Context, id docstore.ID, items []Item, subtrees []docstore.ID) error {
	return e.tx.Patch(ctx, id, nodeFields(items, subtrees))
}

// deleteNode removes a node document.
func (e *Engine) deleteNode(ctx context.Context, id docstore.ID) error {
	return e.tx.Delete(ctx, id)
}

// Tx exposes the wrapped transaction for callers that need raw store
// access alongside engine calls (namespace iteration, cleanup).
func (e *Engine) Tx() docstore.Tx { return e.tx }

// TreeFromDoc decodes a tree-table document. Exported for callers
// that scan the tree table directly (namespace iteration, clearAll).
func TreeFromDoc(id docstore.ID, doc docstore.Document) (*Tree, error) {
	root, ok := doc["root"].(string)
	if !ok {
		return nil, fmt.Errorf("btree: tree %s has no root", id)
	}
	size, ok := doc["maxNodeSize"].(float64)
	if !ok {
		return nil, fmt.Errorf("btree: tree %s has no maxNodeSize", id)
	}
	return &Tree{
		ID:          id,
		Namespace:   doc["namespace"],
		Root:        docstore.ID(root),
		MaxNodeSize: int(size),
	}, nil
}

func nodeFromDoc(id docstore.ID, doc docstore.Document) (*Node, error) {
	rawItems, ok := doc["items"].([]any)
	if !ok {
		return nil, fmt.Errorf("btree: node %s has no items", id)
	}
	n := &Node{ID: id, Items: make([]Item, 0, len(rawItems))}
	for _, raw := range rawItems {
		pair, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("btree: node %s has a malformed item", id)
		}
		val, ok := pair["v"].(string)
		if !ok {
			return nil, fmt.Errorf("btree: node %s has a malformed item value", id)
		}
		n.Items = append(n.Items, Item{Key: pair["k"], Value: val})
	}
	rawSubs, ok := doc["subtrees"].([]any)
	if !ok {
		return nil, fmt.Errorf("btree: node %s has no subtrees", id)
	}
	n.Subtrees = make([]docstore.ID, 0, len(rawSubs))
	for _, raw := range rawSubs {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("btree: node %s has a malformed subtree id", id)
		}
		n.Subtrees = append(n.Subtrees, docstore.ID(s))
	}
	return n, nil
}

func nodeFields(items []Item, subtrees []docstore.ID) docstore.Document {
	rawItems := make([]any, len(items))
	for i, it := range items {
		rawItems[i] = map[string]any{"k": it.Key, "v": it.Value}
	}
	rawSubs := make([]any, len(subtrees))
	for i, id := range subtrees {
		rawSubs[i] = string(id)
	}
	return docstore.Document{"items": rawItems, "subtrees": rawSubs}
}

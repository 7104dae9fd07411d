package trie

import (
	"errors"
	"time"

	"github.com/wasmstate/engine/digest"
	"github.com/wasmstate/engine/metrics"
)

// ErrNotFound is returned when a key is not found in the trie.
var ErrNotFound = errors.New("trie: key not found")

// emptyRoot is the root digest of an empty trie: Keccak256 of the
// canonical empty-value encoding.
var emptyRoot = digest.Keccak256Hash(encodeEmptyValue())

// Trie is a content-addressed, copy-on-write radix trie over arbitrary
// byte-string keys. Mutation never rewrites a node in place: Put/Delete
// return trees sharing every unaffected subtree with their predecessor, so
// a root digest captured before a mutation remains valid and resolvable
// for as long as its backing nodes are retained.
//
// A Trie constructed with New is purely in-memory: it never contains
// hashNode references and Get/Put/Delete never need to consult a backing
// store. A Trie loaded from a prior root via NewResolvable carries a
// NodeDatabase and transparently resolves hashNode references as they are
// reached during traversal.
type Trie struct {
	root node
	db   *NodeDatabase

	// pending collects the encodings of every newly hashed node produced
	// by the most recent Hash call, keyed by that node's digest. Commit
	// flushes this set to the backing store.
	pending map[digest.Hash][]byte
}

// New creates a new, empty, purely in-memory trie.
func New() *Trie {
	return &Trie{}
}

// NewResolvable creates a trie whose root is loaded from db by hash. An
// empty root (the zero hash or emptyRoot) yields an empty trie.
func NewResolvable(db *NodeDatabase, root digest.Hash) (*Trie, error) {
	t := &Trie{db: db}
	if root == emptyRoot || root.IsZero() {
		return t, nil
	}
	n, err := db.Node(root)
	if err != nil {
		return nil, err
	}
	t.root = n
	return t, nil
}

// resolve dereferences a hashNode through the trie's database, returning n
// unchanged if it is not a hashNode. A hashNode reached with no database
// configured is a programming error: plain in-memory tries never produce
// hashNode references themselves.
func (t *Trie) resolve(n node) (node, error) {
	hn, ok := n.(hashNode)
	if !ok {
		return n, nil
	}
	if t.db == nil {
		return nil, errors.New("trie: hash node encountered with no node database configured")
	}
	return t.db.Node(digest.BytesToHash(hn))
}

// Get retrieves the value associated with key.
func (t *Trie) Get(key []byte) ([]byte, error) {
	value, found, err := t.get(t.root, key, 0)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

func (t *Trie) get(n node, key []byte, pos int) ([]byte, bool, error) {
	n, err := t.resolve(n)
	if err != nil {
		return nil, false, err
	}
	switch n := n.(type) {
	case nil:
		return nil, false, nil
	case valueNode:
		if pos != len(key) {
			return nil, false, nil
		}
		return []byte(n), true, nil
	case *shortNode:
		if len(key)-pos < len(n.Key) || !keysEqual(n.Key, key[pos:pos+len(n.Key)]) {
			return nil, false, nil
		}
		return t.get(n.Val, key, pos+len(n.Key))
	case *fullNode:
		if pos >= len(key) {
			return t.get(n.Children[branchValueSlot], key, pos)
		}
		return t.get(n.Children[key[pos]], key, pos+1)
	default:
		return nil, false, nil
	}
}

// Put inserts or updates a key-value pair. An empty value deletes the key,
// matching the convention that "no value" and "deleted" are the same
// trie-level state.
func (t *Trie) Put(key, value []byte) error {
	if len(value) == 0 {
		return t.Delete(key)
	}
	n, err := t.insert(t.root, nil, key, valueNode(value))
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

func (t *Trie) insert(n node, prefix, key []byte, value node) (node, error) {
	n, err := t.resolve(n)
	if err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case nil:
		if len(key) == 0 {
			return value, nil
		}
		return &shortNode{Key: key, Val: value, flags: nodeFlag{dirty: true}}, nil

	case valueNode:
		if len(key) == 0 {
			return value, nil
		}
		// The new key continues past an existing exact-match leaf: branch,
		// keeping the old value at this path's own slot.
		branch := &fullNode{flags: nodeFlag{dirty: true}}
		branch.Children[branchValueSlot] = n
		child, err := t.insert(nil, append(prefix, key[0]), key[1:], value)
		if err != nil {
			return nil, err
		}
		branch.Children[key[0]] = child
		return branch, nil

	case *shortNode:
		matchLen := prefixLen(key, n.Key)
		switch {
		case matchLen == len(n.Key):
			// The new key covers this node's full compressed run; recurse
			// into whatever continues beyond it (possibly nothing).
			nn, err := t.insert(n.Val, append(prefix, n.Key...), key[matchLen:], value)
			if err != nil {
				return nil, err
			}
			return &shortNode{Key: n.Key, Val: nn, flags: nodeFlag{dirty: true}}, nil

		case matchLen == len(key):
			// The new key terminates as a strict prefix of this node's
			// compressed run: branch, with the new value at this path and
			// the old subtree continuing one byte further in.
			branch := &fullNode{flags: nodeFlag{dirty: true}}
			branch.Children[branchValueSlot] = value
			existingChild, err := t.insert(nil, append(prefix, n.Key[:matchLen+1]...), n.Key[matchLen+1:], n.Val)
			if err != nil {
				return nil, err
			}
			branch.Children[n.Key[matchLen]] = existingChild
			if matchLen > 0 {
				return &shortNode{Key: key[:matchLen], Val: branch, flags: nodeFlag{dirty: true}}, nil
			}
			return branch, nil

		default:
			// True divergence partway through: branch at the point where
			// the two keys first differ.
			branch := &fullNode{flags: nodeFlag{dirty: true}}
			existingChild, err := t.insert(nil, append(prefix, n.Key[:matchLen+1]...), n.Key[matchLen+1:], n.Val)
			if err != nil {
				return nil, err
			}
			branch.Children[n.Key[matchLen]] = existingChild
			newChild, err := t.insert(nil, append(prefix, key[:matchLen+1]...), key[matchLen+1:], value)
			if err != nil {
				return nil, err
			}
			branch.Children[key[matchLen]] = newChild
			if matchLen > 0 {
				return &shortNode{Key: key[:matchLen], Val: branch, flags: nodeFlag{dirty: true}}, nil
			}
			return branch, nil
		}

	case *fullNode:
		nn := n.copy()
		nn.flags = nodeFlag{dirty: true}
		if len(key) == 0 {
			nn.Children[branchValueSlot] = value
			return nn, nil
		}
		child, err := t.insert(n.Children[key[0]], append(prefix, key[0]), key[1:], value)
		if err != nil {
			return nil, err
		}
		nn.Children[key[0]] = child
		return nn, nil

	default:
		return nil, errors.New("trie: unknown node type")
	}
}

// Delete removes a key from the trie. Deleting an absent key is a no-op.
func (t *Trie) Delete(key []byte) error {
	n, err := t.delete(t.root, nil, key)
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

func (t *Trie) delete(n node, prefix, key []byte) (node, error) {
	n, err := t.resolve(n)
	if err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case nil:
		return nil, nil

	case *shortNode:
		matchLen := prefixLen(key, n.Key)
		if matchLen < len(n.Key) {
			return n, nil
		}
		child, err := t.delete(n.Val, append(prefix, key[:len(n.Key)]...), key[len(n.Key):])
		if err != nil {
			return nil, err
		}
		switch child := child.(type) {
		case nil:
			return nil, nil
		case *shortNode:
			return &shortNode{Key: concat(n.Key, child.Key), Val: child.Val, flags: nodeFlag{dirty: true}}, nil
		default:
			return &shortNode{Key: n.Key, Val: child, flags: nodeFlag{dirty: true}}, nil
		}

	case *fullNode:
		if len(key) == 0 {
			// A value lives in the branch-value slot; clear it.
			nn := n.copy()
			nn.flags = nodeFlag{dirty: true}
			nn.Children[branchValueSlot] = nil
			return collapseIfSingleChild(nn), nil
		}
		nn := n.copy()
		nn.flags = nodeFlag{dirty: true}
		child, err := t.delete(n.Children[key[0]], append(prefix, key[0]), key[1:])
		if err != nil {
			return nil, err
		}
		nn.Children[key[0]] = child
		return collapseIfSingleChild(nn), nil

	case valueNode:
		if len(key) == 0 {
			return nil, nil
		}
		return n, nil

	default:
		return nil, errors.New("trie: unknown node type")
	}
}

// collapseIfSingleChild collapses a branch with exactly one remaining
// child (and no branch value) into a shortNode prefixed by that child's
// index byte, the byte-keyed analogue of hex-trie branch collapsing.
func collapseIfSingleChild(n *fullNode) node {
	remaining := -1
	for i := 0; i < len(n.Children); i++ {
		if n.Children[i] != nil {
			if remaining >= 0 {
				return n // more than one occupied slot: stays a branch
			}
			remaining = i
		}
	}
	if remaining < 0 {
		return nil
	}
	metrics.TrieNodeCollapses.Inc()
	if remaining == branchValueSlot {
		return n.Children[branchValueSlot]
	}
	child := n.Children[remaining]
	if cnode, ok := child.(*shortNode); ok {
		return &shortNode{Key: concat([]byte{byte(remaining)}, cnode.Key), Val: cnode.Val, flags: nodeFlag{dirty: true}}
	}
	return &shortNode{Key: []byte{byte(remaining)}, Val: child, flags: nodeFlag{dirty: true}}
}

// Hash computes the root digest of the trie, fixing it for this version.
// An empty trie returns emptyRoot. Every node touched by the computation
// is recorded in t.pending, ready for Commit to flush to a NodeDatabase.
func (t *Trie) Hash() digest.Hash {
	if t.root == nil {
		return emptyRoot
	}
	h := newHasher()
	hashed, cached := h.hash(t.root, true)
	t.root = cached
	t.pending = h.pending
	switch n := hashed.(type) {
	case hashNode:
		return digest.BytesToHash(n)
	default:
		enc, _ := encodeNode(hashed)
		root := digest.Keccak256Hash(enc)
		t.pending[root] = enc
		return root
	}
}

// Commit fixes the current root (via Hash) and flushes every node produced
// along the way to db, returning the root digest. db need not be the same
// database the trie was loaded from; passing one in here is what lets a
// trie built with New (no database at construction time) become durable.
func (t *Trie) Commit(db *NodeDatabase) (digest.Hash, error) {
	start := time.Now()
	root := t.Hash()
	for hash, enc := range t.pending {
		if err := db.Put(hash, enc); err != nil {
			return digest.Hash{}, err
		}
	}
	t.pending = nil
	t.db = db

	metrics.TrieCommits.Inc()
	metrics.TrieCommitTime.Observe(float64(time.Since(start).Milliseconds()))
	metrics.TrieEntries.Set(int64(t.Len()))
	return root, nil
}

// Len returns the number of key-value pairs in the trie. O(n).
func (t *Trie) Len() int {
	count := 0
	it := NewIterator(t)
	for it.Next() {
		count++
	}
	return count
}

// Empty reports whether the trie has no entries.
func (t *Trie) Empty() bool {
	return t.root == nil
}

func countValues(n node) int {
	switch n := n.(type) {
	case nil:
		return 0
	case valueNode:
		return 1
	case *shortNode:
		return countValues(n.Val)
	case *fullNode:
		count := 0
		for i := range n.Children {
			count += countValues(n.Children[i])
		}
		return count
	case hashNode:
		return 0
	default:
		return 0
	}
}

func keysEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func concat(a, b []byte) []byte {
	r := make([]byte, len(a)+len(b))
	copy(r, a)
	copy(r[len(a):], b)
	return r
}

// prefixLen returns the length of the common prefix of a and b.
func prefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

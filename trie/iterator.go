package trie

import "errors"

// ErrCorruptEmptyKeyShortNode is raised when traversal reaches a shortNode
// with a zero-length Key. Construction never produces one (insert/delete
// always collapse or fold an empty affix away), so encountering one means
// the underlying encoding was corrupted or hand-crafted.
var ErrCorruptEmptyKeyShortNode = errors.New("trie: shortNode has empty key")

// ErrCorruptNestedShortNode is raised when a shortNode's Val resolves to
// another shortNode. By construction a shortNode's Val is either a
// valueNode (a leaf) or a *fullNode (an extension); two shortNodes never
// chain directly, since they would have been merged into one.
var ErrCorruptNestedShortNode = errors.New("trie: shortNode points directly at another shortNode")

// Iterator walks every key-value pair reachable from a trie's root in
// lexicographic key order. Useful for state dumps, snapshot export, and
// comparing two tries key-by-key.
//
// Usage:
//
//	it := NewIterator(t)
//	for it.Next() {
//	    key, value := it.Key, it.Value
//	}
//	if err := it.Err(); err != nil {
//	    // handle error
//	}
type Iterator struct {
	trie *Trie

	Key   []byte
	Value []byte

	stack []iterFrame
	err   error
}

// iterFrame is one level of depth-first traversal state.
type iterFrame struct {
	node node
	path []byte // accumulated raw key bytes on the path to this node
	// index tracks traversal progress: for a fullNode, 0 visits the
	// branch value slot, 1..256 visit children 0..255; for a shortNode,
	// 0 means not yet visited, 1 means visited.
	index int
}

// NewIterator starts a depth-first iterator over t. t may be a plain
// in-memory trie or one backed by a NodeDatabase; hashNode references are
// resolved transparently as the traversal reaches them.
func NewIterator(t *Trie) *Iterator {
	it := &Iterator{trie: t}
	if t.root != nil {
		it.stack = []iterFrame{{node: t.root, path: nil, index: 0}}
	}
	return it
}

// Next advances to the next key-value pair in order, returning false once
// iteration is exhausted or an error occurs (check Err to distinguish).
func (it *Iterator) Next() bool {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]

		n, err := it.trie.resolve(top.node)
		if err != nil {
			it.err = err
			it.stack = it.stack[:0]
			return false
		}
		top.node = n

		switch n := n.(type) {
		case nil:
			it.stack = it.stack[:len(it.stack)-1]

		case valueNode:
			it.stack = it.stack[:len(it.stack)-1]
			it.Key = append([]byte{}, top.path...)
			it.Value = append([]byte{}, n...)
			return true

		case *shortNode:
			if top.index > 0 {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}
			if len(n.Key) == 0 {
				it.err = ErrCorruptEmptyKeyShortNode
				it.stack = it.stack[:0]
				return false
			}
			top.index = 1
			child, err := it.trie.resolve(n.Val)
			if err != nil {
				it.err = err
				it.stack = it.stack[:0]
				return false
			}
			if _, ok := child.(*shortNode); ok {
				it.err = ErrCorruptNestedShortNode
				it.stack = it.stack[:0]
				return false
			}
			it.stack = append(it.stack, iterFrame{
				node:  child,
				path:  concat(top.path, n.Key),
				index: 0,
			})

		case *fullNode:
			advanced := false
			for top.index <= branchValueSlot {
				slot := branchValueSlot
				if top.index > 0 {
					slot = top.index - 1
				}
				top.index++
				child := n.Children[slot]
				if child == nil {
					continue
				}
				childPath := top.path
				if slot != branchValueSlot {
					childPath = concat(top.path, []byte{byte(slot)})
				}
				it.stack = append(it.stack, iterFrame{node: child, path: childPath, index: 0})
				advanced = true
				break
			}
			if !advanced {
				it.stack = it.stack[:len(it.stack)-1]
			}

		default:
			it.stack = it.stack[:len(it.stack)-1]
		}
	}
	return false
}

// Err returns the error, if any, that halted iteration early.
func (it *Iterator) Err() error {
	return it.err
}

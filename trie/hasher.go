package trie

import (
	"errors"

	"github.com/wasmstate/engine/bytesrepr"
	"github.com/wasmstate/engine/digest"
)

// inlineThreshold mirrors the hex-trie convention of embedding small nodes
// directly in their parent's encoding rather than storing them under their
// own hash: a node whose canonical encoding is shorter than a digest isn't
// worth a separate store entry.
const inlineThreshold = 32

var errUnknownNodeType = errors.New("trie: unknown node type in encoding")

// hasher walks a trie computing digests bottom-up and collecting the
// encoding of every node it hashes (as opposed to inlines) along the way.
type hasher struct {
	pending map[digest.Hash][]byte
}

func newHasher() *hasher {
	return &hasher{pending: make(map[digest.Hash][]byte)}
}

// hash returns (hashed, cached): hashed is either a hashNode referencing a
// freshly stored encoding or, for small nodes, the node inlined as-is;
// cached is the same subtree with every descendant's hash cache populated,
// suitable for keeping as the trie's live in-memory root.
func (h *hasher) hash(n node, force bool) (node, node) {
	if n == nil {
		return hashNode(nil), nil
	}
	switch n.(type) {
	case hashNode, valueNode:
		return n, n
	}
	if hash, dirty := n.cache(); hash != nil && !dirty {
		return hash, n
	}

	collapsed, cached := h.hashChildren(n)
	enc, err := encodeNode(collapsed)
	if err != nil {
		return collapsed, cached
	}

	var hashed node
	if len(enc) < inlineThreshold && !force {
		hashed = collapsed
	} else {
		digestHash := digest.Keccak256Hash(enc)
		h.pending[digestHash] = enc
		hashed = hashNode(digestHash.Bytes())
	}

	switch cn := cached.(type) {
	case *shortNode:
		if hn, ok := hashed.(hashNode); ok {
			cn.flags.hash = hn
		}
		cn.flags.dirty = false
	case *fullNode:
		if hn, ok := hashed.(hashNode); ok {
			cn.flags.hash = hn
		}
		cn.flags.dirty = false
	}
	return hashed, cached
}

// hashChildren returns two copies of n: collapsed has every child replaced
// by its hashed (or inlined) form, ready to encode for storage; cached
// keeps live child nodes so the in-memory trie remains mutable.
func (h *hasher) hashChildren(original node) (node, node) {
	switch n := original.(type) {
	case *shortNode:
		collapsed, cached := n.copy(), n.copy()
		if n.Val != nil {
			if _, isValue := n.Val.(valueNode); !isValue {
				collapsedVal, cachedVal := h.hash(n.Val, false)
				collapsed.Val = collapsedVal
				cached.Val = cachedVal
			}
		}
		return collapsed, cached

	case *fullNode:
		collapsed, cached := n.copy(), n.copy()
		for i := 0; i < branchValueSlot; i++ {
			if n.Children[i] != nil {
				collapsed.Children[i], cached.Children[i] = h.hash(n.Children[i], false)
			}
		}
		return collapsed, cached

	default:
		return n, original
	}
}

// Tags identifying the variant encoded in a node's canonical byte
// representation.
const (
	nodeTagNil uint8 = iota
	nodeTagValue
	nodeTagHash
	nodeTagShort
	nodeTagFull
)

// encodeNode renders a node's canonical byte encoding. Children that have
// already been collapsed to a hashNode are written as their raw 32-byte
// digest; any child that is still a live *shortNode/*fullNode is encoded
// inline (this only happens for nodes under the inline threshold).
func encodeNode(n node) ([]byte, error) {
	w := bytesrepr.NewWriter(64)
	if err := writeNode(w, n); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func writeNode(w *bytesrepr.Writer, n node) error {
	switch t := n.(type) {
	case nil:
		w.WriteU8(nodeTagNil)
	case valueNode:
		w.WriteU8(nodeTagValue)
		w.WriteBytes(t)
	case hashNode:
		w.WriteU8(nodeTagHash)
		w.WriteFixedBytes(t)
	case *shortNode:
		w.WriteU8(nodeTagShort)
		w.WriteBytes(t.Key)
		return writeNode(w, t.Val)
	case *fullNode:
		w.WriteU8(nodeTagFull)
		for i := 0; i < branchValueSlot; i++ {
			if err := writeNode(w, t.Children[i]); err != nil {
				return err
			}
		}
		return writeNode(w, t.Children[branchValueSlot])
	default:
		return errUnknownNodeType
	}
	return nil
}

// decodeNode parses a node's canonical byte encoding as produced by
// encodeNode. Hash-tagged children decode to hashNode references, left
// for the caller to resolve lazily through a NodeDatabase.
func decodeNode(data []byte) (node, error) {
	return bytesrepr.FromBytes(data, readNode)
}

func readNode(r *bytesrepr.Reader) (node, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case nodeTagNil:
		return nil, nil
	case nodeTagValue:
		b, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		return valueNode(b), nil
	case nodeTagHash:
		b, err := r.ReadFixedBytes(32)
		if err != nil {
			return nil, err
		}
		return hashNode(b), nil
	case nodeTagShort:
		key, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		val, err := readNode(r)
		if err != nil {
			return nil, err
		}
		return &shortNode{Key: key, Val: val}, nil
	case nodeTagFull:
		fn := &fullNode{}
		for i := 0; i < branchValueSlot; i++ {
			child, err := readNode(r)
			if err != nil {
				return nil, err
			}
			fn.Children[i] = child
		}
		val, err := readNode(r)
		if err != nil {
			return nil, err
		}
		fn.Children[branchValueSlot] = val
		return fn, nil
	default:
		return nil, errUnknownNodeType
	}
}

// encodeEmptyValue is the canonical encoding whose digest defines the root
// hash of a trie with no entries.
func encodeEmptyValue() []byte {
	w := bytesrepr.NewWriter(8)
	w.WriteU8(nodeTagValue)
	w.WriteBytes(nil)
	return w.Bytes()
}

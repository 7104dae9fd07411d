package trie

import (
	"sync"

	"github.com/wasmstate/engine/digest"
	"github.com/wasmstate/engine/rawstore"
)

// nodeKeyPrefix namespaces trie node entries within a shared rawstore.Store
// so they can coexist with other address spaces (e.g. a future block-index
// namespace) in the same backing database.
var nodeKeyPrefix = []byte{'t'}

// NodeDatabase is the durable home for committed trie nodes, keyed by their
// content digest. It layers a small read cache over a rawstore.Store;
// writes always go through Trie.Commit, which already knows exactly which
// encodings are new.
type NodeDatabase struct {
	store rawstore.Store

	mu    sync.RWMutex
	cache map[digest.Hash]node
}

// NewNodeDatabase wraps store as a trie node backing store.
func NewNodeDatabase(store rawstore.Store) *NodeDatabase {
	return &NodeDatabase{
		store: store,
		cache: make(map[digest.Hash]node),
	}
}

func nodeKey(hash digest.Hash) []byte {
	return append(append([]byte{}, nodeKeyPrefix...), hash.Bytes()...)
}

// Node resolves a node by its content digest, decoding it from the backing
// store on a cache miss.
func (db *NodeDatabase) Node(hash digest.Hash) (node, error) {
	db.mu.RLock()
	if n, ok := db.cache[hash]; ok {
		db.mu.RUnlock()
		return n, nil
	}
	db.mu.RUnlock()

	enc, err := db.store.Get(nodeKey(hash))
	if err != nil {
		return nil, err
	}
	n, err := decodeNode(enc)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	db.cache[hash] = n
	db.mu.Unlock()
	return n, nil
}

// Put stores a node's pre-encoded bytes under its digest. Trie.Commit is
// the only expected caller outside of tests: it already has both the
// digest and the encoding for every node it touched while hashing.
func (db *NodeDatabase) Put(hash digest.Hash, enc []byte) error {
	return db.store.Put(nodeKey(hash), enc)
}

package trie

import "testing"

func TestFullNodeCopyIsIndependent(t *testing.T) {
	n := &fullNode{}
	n.Children[5] = valueNode("a")
	cp := n.copy()
	cp.Children[5] = valueNode("b")

	if got, _ := n.Children[5].(valueNode); string(got) != "a" {
		t.Fatal("mutating the copy should not affect the original")
	}
}

func TestShortNodeCopyIsIndependent(t *testing.T) {
	n := &shortNode{Key: []byte("abc"), Val: valueNode("v")}
	cp := n.copy()
	cp.Key = []byte("xyz")

	if string(n.Key) != "abc" {
		t.Fatal("mutating the copy's Key should not affect the original")
	}
}

func TestCacheReflectsDirtyFlag(t *testing.T) {
	n := &shortNode{flags: nodeFlag{dirty: true}}
	hash, dirty := n.cache()
	if hash != nil || !dirty {
		t.Fatal("freshly constructed node should be dirty with no cached hash")
	}

	n.flags.hash = hashNode{1, 2, 3}
	n.flags.dirty = false
	hash, dirty = n.cache()
	if dirty || len(hash) != 3 {
		t.Fatal("cache should reflect the updated hash and dirty state")
	}
}

func TestHashNodeAndValueNodeAlwaysDirty(t *testing.T) {
	if _, dirty := hashNode{1}.cache(); !dirty {
		t.Fatal("hashNode.cache should report dirty=true")
	}
	if _, dirty := valueNode("x").cache(); !dirty {
		t.Fatal("valueNode.cache should report dirty=true")
	}
}

func TestBranchValueSlotIsOutOfByteRange(t *testing.T) {
	// Every key byte (0-255) must address a distinct child slot, and the
	// value slot must not collide with any of them.
	if branchValueSlot < 256 {
		t.Fatal("branchValueSlot must be reserved outside the 0-255 byte range")
	}
	var n fullNode
	if len(n.Children) != branchValueSlot+1 {
		t.Fatalf("expected %d child slots, got %d", branchValueSlot+1, len(n.Children))
	}
}

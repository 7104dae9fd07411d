package trackingcopy

import (
	"testing"

	"github.com/wasmstate/engine/bytesrepr"
	"github.com/wasmstate/engine/gs"
)

// memSource is a minimal Source backed by a plain map, keyed by the
// canonical trie-key bytes of whatever gs.Key is written through it.
type memSource struct {
	values map[string]gs.Value
}

func newMemSource() *memSource {
	return &memSource{values: make(map[string]gs.Value)}
}

func (s *memSource) Read(key gs.Key) (gs.Value, bool, error) {
	v, ok := s.values[canon(key)]
	return v, ok, nil
}

func (s *memSource) Write(key gs.Key, value gs.Value) error {
	s.values[canon(key)] = value
	return nil
}

func addr(b byte) gs.Addr32 {
	var a gs.Addr32
	a[0] = b
	return a
}

func TestReadMissingKeyReportsNotExists(t *testing.T) {
	src := newMemSource()
	tc := New(src)

	_, exists, err := tc.Read(gs.NewHashKey(addr(1)))
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("expected key to not exist in an empty source")
	}
}

func TestWriteThenReadSeesLocalValue(t *testing.T) {
	src := newMemSource()
	tc := New(src)

	key := gs.NewHashKey(addr(2))
	tc.Write(key, gs.NewByteArrayValue([]byte("hello")))

	v, exists, err := tc.Read(key)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected written key to exist")
	}
	if string(v.ByteArray) != "hello" {
		t.Fatalf("got %q, want %q", v.ByteArray, "hello")
	}
}

func TestCommitFlushesWritesToSource(t *testing.T) {
	src := newMemSource()
	tc := New(src)

	key := gs.NewHashKey(addr(3))
	tc.Write(key, gs.NewByteArrayValue([]byte("flushed")))

	if err := tc.Commit(); err != nil {
		t.Fatal(err)
	}

	v, exists, err := src.Read(key)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected the source to hold the committed value")
	}
	if string(v.ByteArray) != "flushed" {
		t.Fatalf("got %q, want %q", v.ByteArray, "flushed")
	}
}

func TestCommitDetectsConflictingWriteSinceRead(t *testing.T) {
	src := newMemSource()
	key := gs.NewHashKey(addr(4))
	src.values[canon(key)] = gs.NewByteArrayValue([]byte("original"))

	tc := New(src)
	if _, _, err := tc.Read(key); err != nil {
		t.Fatal(err)
	}

	// Another deploy writes to the same key behind this TrackingCopy's back.
	src.values[canon(key)] = gs.NewByteArrayValue([]byte("mutated"))

	tc.Write(key, gs.NewByteArrayValue([]byte("overwrite")))
	if err := tc.Commit(); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCommitSucceedsWhenReadValueUnchanged(t *testing.T) {
	src := newMemSource()
	key := gs.NewHashKey(addr(5))
	src.values[canon(key)] = gs.NewByteArrayValue([]byte("steady"))

	tc := New(src)
	if _, _, err := tc.Read(key); err != nil {
		t.Fatal(err)
	}
	tc.Write(key, gs.NewByteArrayValue([]byte("updated")))

	if err := tc.Commit(); err != nil {
		t.Fatalf("expected commit to succeed, got %v", err)
	}
	v, _, _ := src.Read(key)
	if string(v.ByteArray) != "updated" {
		t.Fatalf("got %q, want %q", v.ByteArray, "updated")
	}
}

func TestAddIntAccumulatesOntoExistingValue(t *testing.T) {
	src := newMemSource()
	key := gs.NewHashKey(addr(6))
	src.values[canon(key)] = gs.NewU512Value(bytesrepr.U512FromUint64(100))

	tc := New(src)
	tc.AddInt(key, bytesrepr.U512FromUint64(25))
	tc.AddInt(key, bytesrepr.U512FromUint64(5))

	v, exists, err := tc.Read(key)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected key to exist")
	}
	want := bytesrepr.U512FromUint64(130)
	if v.U512.Cmp(want) != 0 {
		t.Fatalf("got %v, want %v", v.U512, want)
	}
}

func TestAddIntOnMissingKeySeedsValue(t *testing.T) {
	src := newMemSource()
	key := gs.NewHashKey(addr(7))
	tc := New(src)

	tc.AddInt(key, bytesrepr.U512FromUint64(42))

	v, exists, err := tc.Read(key)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected AddInt on a missing key to create it")
	}
	if v.U512.Cmp(bytesrepr.U512FromUint64(42)) != 0 {
		t.Fatalf("got %v, want 42", v.U512)
	}
}

func TestAddKeysMergesIntoExistingAccount(t *testing.T) {
	src := newMemSource()
	accKey := gs.NewAccountKey(addr(8))
	account := gs.NewAccount(addr(8), gs.URef{Addr: addr(9)})
	account.NamedKeys["existing"] = gs.NewHashKey(addr(10))
	src.values[canon(accKey)] = gs.Value{Tag: gs.ValueTagAccount, Account: account}

	tc := New(src)
	tc.AddKeys(accKey, map[string]gs.Key{"fresh": gs.NewHashKey(addr(11))})

	v, exists, err := tc.Read(accKey)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected account to exist")
	}
	if _, ok := v.Account.NamedKeys["existing"]; !ok {
		t.Fatal("expected prior named key to survive the merge")
	}
	if _, ok := v.Account.NamedKeys["fresh"]; !ok {
		t.Fatal("expected new named key to be present")
	}
}

func TestWriteOverwritesPriorLocalTransformOnRead(t *testing.T) {
	src := newMemSource()
	key := gs.NewHashKey(addr(12))
	tc := New(src)

	tc.Write(key, gs.NewByteArrayValue([]byte("first")))
	tc.Write(key, gs.NewByteArrayValue([]byte("second")))

	v, _, err := tc.Read(key)
	if err != nil {
		t.Fatal(err)
	}
	if string(v.ByteArray) != "second" {
		t.Fatalf("got %q, want %q", v.ByteArray, "second")
	}
}

func TestCommitIsOrderedByFirstTouch(t *testing.T) {
	src := newMemSource()
	tc := New(src)

	k1 := gs.NewHashKey(addr(20))
	k2 := gs.NewHashKey(addr(21))
	tc.Write(k2, gs.NewByteArrayValue([]byte("two")))
	tc.Write(k1, gs.NewByteArrayValue([]byte("one")))

	if err := tc.Commit(); err != nil {
		t.Fatal(err)
	}

	v1, ok1, _ := src.Read(k1)
	v2, ok2, _ := src.Read(k2)
	if !ok1 || string(v1.ByteArray) != "one" {
		t.Fatalf("k1 = %q, want %q", v1.ByteArray, "one")
	}
	if !ok2 || string(v2.ByteArray) != "two" {
		t.Fatalf("k2 = %q, want %q", v2.ByteArray, "two")
	}
}

// Package trackingcopy implements the per-deploy transform ledger sitting
// between a running WASM instance and the durable global-state trie. Every
// read and write observed during execution is recorded as a Transform
// against the Key it touched; nothing reaches the trie until Commit, and a
// failed deploy is discarded by simply dropping the TrackingCopy.
package trackingcopy

import (
	"errors"

	"github.com/wasmstate/engine/bytesrepr"
	"github.com/wasmstate/engine/gs"
	"github.com/wasmstate/engine/metrics"
)

// ErrConflict is returned by Commit when a key this TrackingCopy read was
// changed in the underlying store by another deploy since the read
// happened — the defining symptom of a failed optimistic-concurrency check.
var ErrConflict = errors.New("trackingcopy: conflicting write since read")

// Source resolves a Key against the durable backing store (the trie at a
// fixed root, conceptually), and commits the transforms of a finished
// deploy back into a new root.
type Source interface {
	Read(key gs.Key) (gs.Value, bool, error)
	Write(key gs.Key, value gs.Value) error
}

// TransformKind identifies the shape of a recorded change.
type TransformKind uint8

const (
	// TransformIdentity records a pure read: no value changed, but the
	// key's state at read time is pinned for the conflict check at commit.
	TransformIdentity TransformKind = iota
	// TransformWrite replaces the stored value outright.
	TransformWrite
	// TransformAddInt accumulates a U512 delta onto the stored value,
	// commuting with other AddInt transforms on the same key (so two
	// deploys against the same mint purse in one block don't conflict
	// provided neither also does a plain Write).
	TransformAddInt
	// TransformAddKeys merges additional named keys into a stored Account
	// or Contract value.
	TransformAddKeys
)

// Transform is one recorded effect on a single key.
type Transform struct {
	Kind  TransformKind
	Value gs.Value          // for Write: the new value; for AddInt: the delta
	Keys  map[string]gs.Key // for AddKeys
}

// TrackingCopy journals reads and writes against a Source for the duration
// of one deploy, and reconciles them into the Source at Commit.
type TrackingCopy struct {
	source Source

	// reads remembers the Source's value (and existence) at the first time
	// each key was read, for the conflict check at Commit.
	reads map[string]readRecord

	// transforms accumulates writes in the order they were issued. A key
	// can have multiple transforms (e.g. several AddInt calls); Commit
	// folds them in order.
	order      []string
	transforms map[string][]Transform
	keyByCanon map[string]gs.Key
}

type readRecord struct {
	key    gs.Key
	value  gs.Value
	exists bool
}

// New creates a TrackingCopy layered over source.
func New(source Source) *TrackingCopy {
	return &TrackingCopy{
		source:     source,
		reads:      make(map[string]readRecord),
		transforms: make(map[string][]Transform),
		keyByCanon: make(map[string]gs.Key),
	}
}

func canon(key gs.Key) string {
	return string(key.StorageIdentity().TrieKeyBytes())
}

// Read resolves a key, preferring any value this TrackingCopy has already
// written over the same key within this deploy, and otherwise falling
// through to the underlying Source. The first read of any key pins the
// Source's state of that key for the Commit-time conflict check.
func (tc *TrackingCopy) Read(key gs.Key) (gs.Value, bool, error) {
	c := canon(key)

	if ts, ok := tc.transforms[c]; ok && len(ts) > 0 {
		if _, pinned := tc.reads[c]; !pinned {
			base, baseExists, err := tc.source.Read(key)
			if err != nil {
				return gs.Value{}, false, err
			}
			tc.pinFirstRead(c, key, base, baseExists)
		}
		value, exists, err := tc.applyLocal(key, ts)
		if err != nil {
			return gs.Value{}, false, err
		}
		return value, exists, nil
	}

	value, exists, err := tc.source.Read(key)
	if err != nil {
		return gs.Value{}, false, err
	}
	tc.pinFirstRead(c, key, value, exists)
	return value, exists, nil
}

func (tc *TrackingCopy) pinFirstRead(c string, key gs.Key, value gs.Value, exists bool) {
	if _, ok := tc.reads[c]; ok {
		return
	}
	tc.reads[c] = readRecord{key: key, value: value, exists: exists}
}

// applyLocal folds the transforms recorded so far for a key, starting from
// the Source's current value, without touching tc.reads.
func (tc *TrackingCopy) applyLocal(key gs.Key, ts []Transform) (gs.Value, bool, error) {
	base, exists, err := tc.source.Read(key)
	if err != nil {
		return gs.Value{}, false, err
	}
	for _, tr := range ts {
		base, exists, err = fold(base, exists, tr)
		if err != nil {
			return gs.Value{}, false, err
		}
	}
	return base, exists, nil
}

func fold(base gs.Value, exists bool, tr Transform) (gs.Value, bool, error) {
	switch tr.Kind {
	case TransformIdentity:
		return base, exists, nil
	case TransformWrite:
		return tr.Value, true, nil
	case TransformAddInt:
		if !exists {
			return tr.Value, true, nil
		}
		sum, carry := base.U512.Add(tr.Value.U512)
		if carry {
			return gs.Value{}, false, errors.New("trackingcopy: AddInt overflowed U512")
		}
		return gs.NewU512Value(sum), true, nil
	case TransformAddKeys:
		if exists && base.Account == nil && base.Contract != nil {
			merged := *base.Contract
			merged.NamedKeys = mergeNamedKeys(base.Contract.NamedKeys, tr.Keys)
			base.Contract = &merged
			return base, true, nil
		}
		if !exists || base.Account == nil {
			return base, exists, errors.New("trackingcopy: AddKeys applied to a value that is neither an account nor a contract")
		}
		merged := *base.Account
		merged.NamedKeys = mergeNamedKeys(base.Account.NamedKeys, tr.Keys)
		base.Account = &merged
		return base, true, nil
	default:
		return base, exists, errors.New("trackingcopy: unknown transform kind")
	}
}

func mergeNamedKeys(existing map[string]gs.Key, add map[string]gs.Key) map[string]gs.Key {
	out := make(map[string]gs.Key, len(existing)+len(add))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

func (tc *TrackingCopy) recordTransform(key gs.Key, tr Transform) {
	c := canon(key)
	if _, ok := tc.transforms[c]; !ok {
		tc.order = append(tc.order, c)
		tc.keyByCanon[c] = key
	}
	tc.transforms[c] = append(tc.transforms[c], tr)
}

// Write replaces the value at key outright.
func (tc *TrackingCopy) Write(key gs.Key, value gs.Value) {
	tc.recordTransform(key, Transform{Kind: TransformWrite, Value: value})
	metrics.JournalPendingWrites.Inc()
}

// AddInt accumulates delta onto the U512 value stored at key.
func (tc *TrackingCopy) AddInt(key gs.Key, delta bytesrepr.U512) {
	tc.recordTransform(key, Transform{Kind: TransformAddInt, Value: gs.NewU512Value(delta)})
	metrics.JournalPendingAdds.Inc()
}

// AddKeys merges additional named keys into the Account or Contract stored
// at key.
func (tc *TrackingCopy) AddKeys(key gs.Key, keys map[string]gs.Key) {
	tc.recordTransform(key, Transform{Kind: TransformAddKeys, Keys: keys})
}

// Commit checks every key this TrackingCopy read against the Source's
// current value — if anything changed underneath it since the read, the
// deploy is a write-write (or read-write) conflict and nothing is applied.
// Otherwise every transform is folded and written through to the Source,
// in the order keys were first touched.
func (tc *TrackingCopy) Commit() error {
	for c, rec := range tc.reads {
		current, exists, err := tc.source.Read(rec.key)
		if err != nil {
			metrics.JournalCommitFailures.Inc()
			return err
		}
		if exists != rec.exists || (exists && !valuesEqual(current, rec.value)) {
			metrics.JournalCommitFailures.Inc()
			return ErrConflict
		}
		_ = c
	}

	for _, c := range tc.order {
		key := tc.keyByCanon[c]
		value, exists, err := tc.applyLocal(key, tc.transforms[c])
		if err != nil {
			metrics.JournalCommitFailures.Inc()
			return err
		}
		if !exists {
			continue
		}
		if err := tc.source.Write(key, value); err != nil {
			metrics.JournalCommitFailures.Inc()
			return err
		}
	}

	metrics.JournalCommits.Inc()
	metrics.JournalPendingWrites.Set(0)
	metrics.JournalPendingAdds.Set(0)
	return nil
}

func valuesEqual(a, b gs.Value) bool {
	wa := bytesrepr.NewWriter(32)
	gs.WriteValue(wa, a)
	wb := bytesrepr.NewWriter(32)
	gs.WriteValue(wb, b)
	encA, encB := wa.Bytes(), wb.Bytes()
	if len(encA) != len(encB) {
		return false
	}
	for i := range encA {
		if encA[i] != encB[i] {
			return false
		}
	}
	return true
}

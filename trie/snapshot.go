package trie

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ExportSnapshot walks every key/value pair reachable from t's root (via
// Iterator's traversal — the same reachability a state sync would need) and
// writes a zstd-compressed stream of length-prefixed records to w. This is a
// bulk key/value dump of the logical state, not a raw node dump: a peer
// restoring from it rebuilds the trie structure itself via ImportSnapshot +
// Put, rather than replaying physical nodes.
func ExportSnapshot(w io.Writer, t *Trie) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	defer zw.Close()

	bw := bufio.NewWriter(zw)
	it := NewIterator(t)
	for it.Next() {
		if err := writeRecord(bw, it.Key, it.Value); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	return bw.Flush()
}

// ImportSnapshot reads a stream written by ExportSnapshot and replays every
// key/value pair into a fresh in-memory trie, returning it uncommitted:
// the caller commits it to a NodeDatabase to make it durable.
func ImportSnapshot(r io.Reader) (*Trie, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	t := New()
	br := bufio.NewReader(zr)
	for {
		key, value, err := readRecord(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := t.Put(key, value); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func writeRecord(w *bufio.Writer, key, value []byte) error {
	if err := writeLenPrefixed(w, key); err != nil {
		return err
	}
	return writeLenPrefixed(w, value)
}

func writeLenPrefixed(w *bufio.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readRecord(r *bufio.Reader) (key, value []byte, err error) {
	key, err = readLenPrefixed(r)
	if err != nil {
		return nil, nil, err
	}
	value, err = readLenPrefixed(r)
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}

func readLenPrefixed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

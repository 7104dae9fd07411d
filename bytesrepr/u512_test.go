package bytesrepr

import "testing"

func TestU512RoundTrip(t *testing.T) {
	v := U512FromUint64(123456789)
	w := NewWriter(0)
	WriteU512(w, v)
	if len(w.Bytes()) != 64 {
		t.Fatalf("expected 64-byte encoding, got %d", len(w.Bytes()))
	}
	got, err := ReadU512(NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("ReadU512: %v", err)
	}
	if got.Cmp(v) != 0 {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, v)
	}
}

func TestU512AddSub(t *testing.T) {
	a := U512FromUint64(10)
	b := U512FromUint64(3)

	sum, carry := a.Add(b)
	if carry {
		t.Fatalf("unexpected carry")
	}
	if sum.Cmp(U512FromUint64(13)) != 0 {
		t.Fatalf("10+3 != 13: %+v", sum)
	}

	diff, underflow := a.Sub(b)
	if underflow {
		t.Fatalf("unexpected underflow")
	}
	if diff.Cmp(U512FromUint64(7)) != 0 {
		t.Fatalf("10-3 != 7: %+v", diff)
	}

	_, underflow = b.Sub(a)
	if !underflow {
		t.Fatalf("expected underflow for 3-10")
	}
}

func TestU512IsZero(t *testing.T) {
	if !(U512{}).IsZero() {
		t.Fatalf("zero value should be zero")
	}
	if U512FromUint64(1).IsZero() {
		t.Fatalf("non-zero value reported as zero")
	}
}

package chainhash

import (
	"bytes"
	"testing"
)

func TestDoubleHash(t *testing.T) {
	data := []byte("skepticoin")
	got := DoubleHashB(data)
	if len(got) != HashSize {
		t.Fatalf("got length %d, want %d", len(got), HashSize)
	}

	// sha256d must be the composition of two independent sha256 passes,
	// not accidentally the identity or a single pass.
	if bytes.Equal(got, HashB(data)) {
		t.Fatal("double hash must differ from a single hash pass")
	}

	again := DoubleHashB(data)
	if !bytes.Equal(got, again) {
		t.Fatal("double hash must be deterministic")
	}
}

func TestHashZeroAndEquality(t *testing.T) {
	var h Hash
	if !h.IsZero() {
		t.Fatal("zero-valued Hash must report IsZero")
	}

	nonZero := DoubleHashH([]byte("x"))
	if nonZero.IsZero() {
		t.Fatal("non-zero hash reported as zero")
	}

	if !nonZero.IsEqual(&nonZero) {
		t.Fatal("hash must equal itself")
	}
}

func TestHashLessIsStrictAndAntisymmetric(t *testing.T) {
	a := Hash{0x00, 0x01}
	b := Hash{0x00, 0x02}

	if !a.Less(b) {
		t.Fatal("expected a < b")
	}
	if b.Less(a) {
		t.Fatal("expected b not < a")
	}
	if a.Less(a) {
		t.Fatal("hash must not be less than itself")
	}
}

func TestNewHashFromStrRoundTrip(t *testing.T) {
	h := DoubleHashH([]byte("round trip me"))
	parsed, err := NewHashFromStr(h.String())
	if err != nil {
		t.Fatalf("NewHashFromStr: %v", err)
	}
	if !parsed.IsEqual(&h) {
		t.Fatalf("round trip mismatch: got %s want %s", parsed, h)
	}
}

func TestBlake2b256Deterministic(t *testing.T) {
	a := Blake2b256([]byte("part1"), []byte("part2"))
	b := Blake2b256([]byte("part1"), []byte("part2"))
	if a != b {
		t.Fatal("blake2b256 must be deterministic across identical inputs")
	}

	c := Blake2b256([]byte("part1part2"))
	if a != c {
		t.Fatal("blake2b256 over split writes must match a single concatenated write")
	}
}

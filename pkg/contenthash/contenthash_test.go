package contenthash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

// Reference hashes verified against rclone's dbhash implementation and the
// service's published content-hash definition. Inputs are runs of 'A' with
// lengths bracketing the 4 MiB chunk boundary on both sides.
func TestKnownVectors(t *testing.T) {
	tests := []struct {
		n      int
		expect string
	}{
		{0, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{1, "1cd6ef71e6e0ff46ad2609d403dc3fee244417089aa4461245a4e4fe23a55e42"},
		{2, "01e0655fb754d10418a73760f57515f4903b298e6d67dda6bf0987fa79c22c88"},
		{4096, "8620913d33852befe09f16fff8fd75f77a83160d29f76f07e0276e9690903035"},
		{ChunkSize - 1, "647c8627d70f7a7d13ce96b1e7710a771a55d41a62c3da490d92e56044d311fa"},
		{ChunkSize, "d4d63bac5b866c71620185392a8a6218ac1092454a2d16f820363b69852befa3"},
		{ChunkSize + 1, "8f553da8d00d0bf509d8470e242888be33019c20c0544811f5b2b89e98360b92"},
		{2*ChunkSize - 1, "83b30cf4fb5195b04a937727ae379cf3d06673bf8f77947f6a92858536e8369c"},
		{2 * ChunkSize, "e08b3ba1f538804075c5f939accdeaa9efc7b5c01865c94a41e78ca6550a88e7"},
		{2*ChunkSize + 1, "02c8a4aefc2bfc9036f89a7098001865885938ca580e5c9e5db672385edd303c"},
	}

	for _, tc := range tests {
		input := bytes.Repeat([]byte{'A'}, tc.n)

		got := SumHexBytes(input)
		if got != tc.expect {
			t.Errorf("length %d: hash mismatch\n  got:  %s\n  want: %s", tc.n, got, tc.expect)
		}
	}
}

// Empty input produces zero chunks, so the outer hash sees an empty
// accumulator and the result is SHA-256 of the empty byte sequence.
func TestEmptyInput(t *testing.T) {
	want := hex.EncodeToString(sha256.New().Sum(nil))

	if got := SumHexBytes(nil); got != want {
		t.Errorf("empty hash mismatch\n  got:  %s\n  want: %s", got, want)
	}
}

func TestDeterminism(t *testing.T) {
	input := bytes.Repeat([]byte{0x5a}, 123456)

	first := SumHexBytes(input)
	for range 3 {
		if got := SumHexBytes(input); got != first {
			t.Fatalf("hash not deterministic: %s vs %s", got, first)
		}
	}
}

// A single full chunk must hash differently from the same chunk plus one
// extra byte: the extra byte forms a second, one-byte chunk.
func TestChunkBoundaryDistinct(t *testing.T) {
	full := bytes.Repeat([]byte{'A'}, ChunkSize)

	h1 := SumHexBytes(full)
	h2 := SumHexBytes(append(full, 'A'))

	if h1 == h2 {
		t.Error("chunk-boundary input and boundary+1 input produced equal hashes")
	}
}

// Hashing must be independent of the write granularity: byte-at-a-time,
// odd-sized slices, and one-shot writes all yield the same digest.
func TestIncrementalWrite(t *testing.T) {
	input := make([]byte, 3*ChunkSize/2)
	for i := range input {
		input[i] = byte(i)
	}

	want := SumHexBytes(input)

	for _, step := range []int{1, 37, 4095, ChunkSize, len(input)} {
		h := New()
		for off := 0; off < len(input); off += step {
			end := off + step
			if end > len(input) {
				end = len(input)
			}

			_, _ = h.Write(input[off:end])
		}

		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			t.Errorf("step %d: hash mismatch\n  got:  %s\n  want: %s", step, got, want)
		}
	}
}

// Sum is a snapshot: calling it mid-stream must not perturb later writes.
func TestSumDoesNotFinalize(t *testing.T) {
	input := bytes.Repeat([]byte{'A'}, ChunkSize+100)

	h := New()
	_, _ = h.Write(input[:500])
	_ = h.Sum(nil)
	_, _ = h.Write(input[500:])

	want := SumHexBytes(input)
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		t.Errorf("mid-stream Sum perturbed state\n  got:  %s\n  want: %s", got, want)
	}

	// Repeated Sum with no intervening writes is stable.
	if a, b := hex.EncodeToString(h.Sum(nil)), hex.EncodeToString(h.Sum(nil)); a != b {
		t.Errorf("repeated Sum not stable: %s vs %s", a, b)
	}
}

// Scenario from the service contract: a 5 MiB file splits into a 4 MiB
// chunk and a 1 MiB chunk; the digest is SHA-256 over the two concatenated
// chunk digests. Computed here with plain crypto/sha256 as an independent
// reference.
func TestTwoChunkScenario(t *testing.T) {
	input := bytes.Repeat([]byte{0xc3}, 5*1024*1024)

	first := sha256.Sum256(input[:ChunkSize])
	second := sha256.Sum256(input[ChunkSize:])

	acc := make([]byte, 0, 2*Size)
	acc = append(acc, first[:]...)
	acc = append(acc, second[:]...)
	final := sha256.Sum256(acc)

	want := hex.EncodeToString(final[:])
	if got := SumHexBytes(input); got != want {
		t.Errorf("two-chunk scenario mismatch\n  got:  %s\n  want: %s", got, want)
	}
}

func TestSumHexReader(t *testing.T) {
	const s = "the quick brown fox"

	got, err := SumHex(strings.NewReader(s))
	if err != nil {
		t.Fatalf("SumHex error: %v", err)
	}

	if want := SumHexBytes([]byte(s)); got != want {
		t.Errorf("reader/bytes mismatch: %s vs %s", got, want)
	}

	if len(got) != HexLength {
		t.Errorf("hex length = %d, want %d", len(got), HexLength)
	}
}

func TestReset(t *testing.T) {
	h := New()
	_, _ = h.Write([]byte("garbage"))
	h.Reset()

	if got, want := hex.EncodeToString(h.Sum(nil)), SumHexBytes(nil); got != want {
		t.Errorf("post-Reset hash mismatch: %s vs %s", got, want)
	}
}

func TestSizes(t *testing.T) {
	h := New()

	if h.Size() != 32 {
		t.Errorf("Size() = %d, want 32", h.Size())
	}

	if h.BlockSize() != 64 {
		t.Errorf("BlockSize() = %d, want 64", h.BlockSize())
	}
}

// Package contenthash implements the Dropbox content_hash algorithm used by
// the API for file content addressing and integrity verification.
//
// The input is split into 4 MiB chunks (the final chunk may be shorter).
// Each chunk is hashed with SHA-256, the raw chunk digests are concatenated
// in order, and the concatenation is hashed with SHA-256 again. The result
// is rendered as 64 lowercase hex characters on the wire.
//
// The two-level scheme lets a client verify a file incrementally while
// streaming it, without buffering the whole file. The output format is a
// compatibility contract with the service and must match bit-for-bit.
//
// Reference: https://www.dropbox.com/developers/reference/content-hash
package contenthash

import (
	"encoding"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"crypto/sha256"
)

const (
	// Size is the length, in bytes, of a content hash digest.
	Size = sha256.Size

	// BlockSize is the preferred input block size for the hash, in bytes.
	BlockSize = sha256.BlockSize

	// ChunkSize is the number of input bytes hashed into each chunk digest.
	// Fixed by the service's content-hash definition.
	ChunkSize = 4 * 1024 * 1024

	// HexLength is the length of the hex-encoded digest string.
	HexLength = 2 * Size
)

// digest is the internal state of a content hash computation.
// chunk accumulates the current (possibly partial) chunk; overall
// accumulates the raw digests of completed chunks.
type digest struct {
	overall hash.Hash
	chunk   hash.Hash
	n       int // bytes written into the current chunk
}

// New returns a new hash.Hash computing the Dropbox content hash.
// Sum may be called at any point and does not alter the state, so the
// same digest can be summed mid-stream and written to afterward.
func New() hash.Hash {
	return &digest{
		overall: sha256.New(),
		chunk:   sha256.New(),
	}
}

func (d *digest) Write(p []byte) (int, error) {
	written := len(p)

	for len(p) > 0 {
		room := ChunkSize - d.n
		if room > len(p) {
			room = len(p)
		}

		d.chunk.Write(p[:room])
		d.n += room
		p = p[room:]

		// Chunk boundary: fold the chunk digest into the outer hash.
		// An input that is an exact multiple of ChunkSize folds here and
		// leaves no trailing empty chunk.
		if d.n == ChunkSize {
			d.overall.Write(d.chunk.Sum(nil))
			d.chunk.Reset()
			d.n = 0
		}
	}

	return written, nil
}

// Sum appends the current digest to b and returns the resulting slice.
// A partial trailing chunk is folded into a copy of the outer state, so
// the digest itself is not finalized. Zero input yields zero chunks and
// the digest is SHA-256 of the empty byte sequence.
func (d *digest) Sum(b []byte) []byte {
	overall := cloneSHA256(d.overall)

	if d.n > 0 {
		overall.Write(d.chunk.Sum(nil))
	}

	return overall.Sum(b)
}

func (d *digest) Reset() {
	d.overall.Reset()
	d.chunk.Reset()
	d.n = 0
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return BlockSize }

// cloneSHA256 snapshots a SHA-256 state via its binary marshaling support
// so Sum can finalize a partial chunk without mutating the live digest.
func cloneSHA256(h hash.Hash) hash.Hash {
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		panic("contenthash: sha256 state is not marshalable")
	}

	state, err := m.MarshalBinary()
	if err != nil {
		panic("contenthash: marshaling sha256 state: " + err.Error())
	}

	c := sha256.New()
	if err := c.(encoding.BinaryUnmarshaler).UnmarshalBinary(state); err != nil {
		panic("contenthash: unmarshaling sha256 state: " + err.Error())
	}

	return c
}

// SumHex computes the content hash of everything readable from r and
// returns it as a 64-character lowercase hex string. Uses streaming I/O
// (constant memory).
func SumHex(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("contenthash: hashing stream: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumHexBytes computes the content hash of b as a 64-character lowercase
// hex string.
func SumHexBytes(b []byte) string {
	h := New()
	_, _ = h.Write(b) // Write never fails

	return hex.EncodeToString(h.Sum(nil))
}

// Package checksum computes content digests in a single streaming pass.
// The digest is SHA-256 rendered as lowercase hex, matching the stored
// checksum format in version records.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"strings"
)

// Digest accumulates a SHA-256 over bytes written to it, along with the
// byte count. It is an io.Writer so content can be tee'd through it while
// being streamed to storage, avoiding a second buffering pass.
type Digest struct {
	h hash.Hash
	n int64
}

// New returns an empty Digest.
func New() *Digest {
	return &Digest{h: sha256.New()}
}

// Write feeds bytes into the digest. It never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	n, _ := d.h.Write(p)
	d.n += int64(n)
	return n, nil
}

// Sum returns the hex-encoded SHA-256 of all bytes written so far.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size returns the number of bytes written so far.
func (d *Digest) Size() int64 {
	return d.n
}

// Tee returns a reader that feeds d as r is consumed.
func (d *Digest) Tee(r io.Reader) io.Reader {
	return io.TeeReader(r, d)
}

// Hash returns the hex-encoded SHA-256 of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Matches compares two hex digests case-insensitively.
func Matches(expected, actual string) bool {
	return strings.EqualFold(expected, actual)
}

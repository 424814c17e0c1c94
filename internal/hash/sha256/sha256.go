// Package sha256 computes hex SHA-256 digests of exported payloads.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Writer hashes everything written to it.
type Writer struct {
	h hash.Hash
	n int64
}

// NewWriter returns an empty hashing writer.
func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

// Write never fails.
func (w *Writer) Write(p []byte) (int, error) {
	n, _ := w.h.Write(p)
	w.n += int64(n)
	return n, nil
}

// Sum returns the hex digest of the bytes written so far.
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Size returns how many bytes were written.
func (w *Writer) Size() int64 {
	return w.n
}

// Hash returns the hex digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package utils

import (
	"fmt"
	"io"
	"os"

	blake3 "lukechampine.com/blake3"
)

// DigestSize is the length of a raw BLAKE3 digest.
const DigestSize = 32

// SumBLAKE3 returns the raw 256-bit BLAKE3 digest of data.
func SumBLAKE3(data []byte) [DigestSize]byte {
	return blake3.Sum256(data)
}

// ComputeBLAKE3 computes the BLAKE3 hash of the given bytes and returns a hex string.
func ComputeBLAKE3(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

// ComputeBLAKE3File computes the BLAKE3 hash of a file path and returns a hex string.
func ComputeBLAKE3File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(DigestSize, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// DigestWriter hashes everything written through it.
type DigestWriter struct {
	w io.Writer
	h *blake3.Hasher
}

// NewDigestWriter wraps w.
func NewDigestWriter(w io.Writer) *DigestWriter {
	return &DigestWriter{w: w, h: blake3.New(DigestSize, nil)}
}

func (d *DigestWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	d.h.Write(p[:n])
	return n, err
}

// Sum returns the digest of the bytes written so far.
func (d *DigestWriter) Sum() [DigestSize]byte {
	var out [DigestSize]byte
	copy(out[:], d.h.Sum(nil))
	return out
}

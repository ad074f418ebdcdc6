package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"strconv"
)

// Compare orders two records by key bytes.
func Compare(a, b *Record) int {
	return bytes.Compare(a.Key(), b.Key())
}

// CompareKey orders the key of r against key.
func CompareKey(r *Record, key []byte) int {
	return bytes.Compare(r.Key(), key)
}

// Sort sorts records by key in place.
func Sort(recs []*Record) {
	slices.SortFunc(recs, Compare)
}

// LCP returns the length of the longest common prefix of two keys.
func LCP(a, b []byte) int {
	n := min(len(a), len(b))
	i := 0
	// Word at a time while both sides have eight bytes left.
	for ; i+8 <= n; i += 8 {
		x := binary.BigEndian.Uint64(a[i:])
		y := binary.BigEndian.Uint64(b[i:])
		if x != y {
			for j := i; j < i+8; j++ {
				if a[j] != b[j] {
					return j
				}
			}
		}
	}
	for ; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// KeyLCP returns the longest common key prefix of two records.
func KeyLCP(a, b *Record) int {
	return LCP(a.Key(), b.Key())
}

// Print writes a one-line rendering of r. cmd selects the key and value
// formats: 's' string, 'x' hex, 'd' little-endian unsigned integer. A third
// character 'n' terminates the line. An empty cmd means "ssn".
func Print(w io.Writer, r *Record, cmd string) error {
	if cmd == "" {
		cmd = "ssn"
	}
	kf, vf := cmd[0], byte('s')
	if len(cmd) > 1 {
		vf = cmd[1]
	}
	line := formatBytes(r.Key(), kf) + " " + formatBytes(r.Value(), vf)
	if len(cmd) > 2 && cmd[2] == 'n' {
		line += "\n"
	}
	_, err := io.WriteString(w, line)
	return err
}

func formatBytes(b []byte, f byte) string {
	switch f {
	case 'x':
		return fmt.Sprintf("%x", b)
	case 'd':
		var v [8]byte
		copy(v[:], b)
		return strconv.FormatUint(binary.LittleEndian.Uint64(v[:]), 10)
	default:
		return strconv.Quote(string(b))
	}
}

// Package checksum computes the content hashes that identify payloads and entries.
package checksum

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumFields hashes a sequence of fields with length prefixes so that field
// boundaries cannot collide ("ab","c" hashes differently from "a","bc").
func SumFields(fields ...[]byte) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(f)))
		h.Write(lenBuf[:])
		h.Write(f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

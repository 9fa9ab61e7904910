// Copyright 2025 Trustcompute Protocol
//
// Canonical Hasher — SHA-256 digests over fixed-width, big-endian field
// concatenations. Every protocol digest (job identifiers, receipt signing
// hashes, execution-trace state digests, Merkle nodes) is built from this
// package so that on-chain and off-chain participants agree bit-for-bit:
// no length prefixes, no structured encodings, no ambiguity.

package hasher

import (
	"crypto/sha256"
	"encoding/binary"
)

// Size is the digest length in bytes.
const Size = 32

// Digest is a 32-byte SHA-256 output.
type Digest [Size]byte

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Bytes returns d as a byte slice.
func (d Digest) Bytes() []byte {
	return d[:]
}

// Of returns the SHA-256 digest of b.
func Of(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}

// OfConcat returns the SHA-256 digest of the concatenation of parts, in
// order. No separators or length prefixes are inserted: callers are
// responsible for using fixed-width fields so that concatenation is
// unambiguous.
func OfConcat(parts ...[]byte) Digest {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Pair returns SHA256(left || right), the building block for non-commutative
// Merkle assembly: Pair(a, b) != Pair(b, a) in general.
func Pair(left, right Digest) Digest {
	return OfConcat(left[:], right[:])
}

// PutUint64 appends the big-endian encoding of v to dst and returns it.
func PutUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// PutUint32 appends the big-endian encoding of v to dst and returns it.
func PutUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

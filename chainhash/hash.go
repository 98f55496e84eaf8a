// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainhash provides the 32-byte hash type used throughout the
// consensus code and the hashing primitives consensus relies on:
// double SHA-256 for transaction, block summary and header hashes, and
// BLAKE2b-256 for the final proof-of-work block hash.
package chainhash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the number of bytes in a Hash.
const HashSize = 32

// ErrHashStrSize describes an error when a string submitted to decode as
// a Hash has an incorrect number of characters.
var ErrHashStrSize = errors.New("max hash string length is 64 bytes")

// Hash is an opaque 32-byte value used for block, transaction and header
// identifiers. The zero Hash is reserved as the "thin air" reference.
type Hash [HashSize]byte

// ZeroHash is the zero-valued Hash. It denotes "references thin air" when
// used as an OutputReference's transaction hash.
var ZeroHash Hash

// String returns the Hash as the hexadecimal string of its bytes in
// stored order; no byte reversal is applied.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the all-zero "thin air" reference.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// CloneBytes returns a newly allocated slice containing the bytes of the
// hash.
func (h Hash) CloneBytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// SetBytes sets the bytes which represent the hash. An error is returned
// if the number of bytes passed in is not HashSize.
func (h *Hash) SetBytes(newHash []byte) error {
	if len(newHash) != HashSize {
		return errors.New("invalid hash length")
	}
	copy(h[:], newHash)
	return nil
}

// IsEqual returns true if target is the same as the hash.
func (h *Hash) IsEqual(target *Hash) bool {
	if h == nil && target == nil {
		return true
	}
	if h == nil || target == nil {
		return false
	}
	return *h == *target
}

// NewHash returns a new Hash from a byte slice. An error is returned if
// the number of bytes passed in is not HashSize.
func NewHash(newHash []byte) (*Hash, error) {
	var h Hash
	if err := h.SetBytes(newHash); err != nil {
		return nil, err
	}
	return &h, nil
}

// NewHashFromStr creates a Hash from a hex hash string.
func NewHashFromStr(hash string) (*Hash, error) {
	if len(hash) > HashSize*2 {
		return nil, ErrHashStrSize
	}
	decoded, err := hex.DecodeString(hash)
	if err != nil {
		return nil, err
	}
	var h Hash
	copy(h[HashSize-len(decoded):], decoded)
	return &h, nil
}

// Less reports whether h sorts strictly before other when the hash bytes
// are interpreted as a big-endian unsigned integer. Used for the
// lowest-hash fork-choice tie-break.
func (h Hash) Less(other Hash) bool {
	for i := 0; i < HashSize; i++ {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// HashB calculates the SHA-256 hash of the given data and returns it as a
// byte slice.
func HashB(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// DoubleHashB calculates SHA-256(SHA-256(b)), the consensus double hash
// used for transaction, block summary and header hashes.
func DoubleHashB(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

// DoubleHashH calculates SHA-256(SHA-256(b)) and returns it as a Hash.
func DoubleHashH(b []byte) Hash {
	var h Hash
	copy(h[:], DoubleHashB(b))
	return h
}

// Blake2b256 calculates the 32-byte BLAKE2b digest of the concatenated
// inputs. It is used exclusively for the final PoW block hash, which is
// checked against the block's target.
func Blake2b256(parts ...[]byte) Hash {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key, and we never
		// pass one.
		panic(err)
	}
	for _, p := range parts {
		hasher.Write(p)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

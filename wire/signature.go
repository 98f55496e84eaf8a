// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"
)

// Signature discriminant tags. The tag byte is wire-stable and must
// never be reassigned to a different meaning (spec.md §9).
const (
	SigTagSignableEquivalent byte = 0x00
	SigTagCoinbaseData       byte = 0x01
	SigTagSECP256k1          byte = 0x02
)

// MaxCoinbaseRandomDataSize bounds the free-form bytes a coinbase
// signature may carry, per spec.md §6. The length prefix on the wire is
// a single byte, so this must never exceed 255.
const MaxCoinbaseRandomDataSize = 200

// Signature is the tagged union over the three kinds of input witness:
// the signable-equivalent placeholder used only for computing signing
// pre-images, the coinbase height+data marker, and a raw SECP256k1
// signature.
type Signature interface {
	// Tag returns the wire discriminant byte for this signature kind.
	Tag() byte
	// Serialize appends the tag byte and payload to buf.
	Serialize(buf []byte) []byte
}

// SignableEquivalentSignature is the placeholder signature substituted
// for every input's real signature when computing a transaction's
// signable-equivalent pre-image (spec.md §3).
type SignableEquivalentSignature struct{}

// Tag implements Signature.
func (SignableEquivalentSignature) Tag() byte { return SigTagSignableEquivalent }

// Serialize implements Signature.
func (SignableEquivalentSignature) Serialize(buf []byte) []byte {
	return append(buf, SigTagSignableEquivalent)
}

// CoinbaseSignature carries the coinbase input's block height (ensuring
// transaction hash uniqueness across blocks at different heights) and
// arbitrary miner data.
type CoinbaseSignature struct {
	Height uint32
	Data   []byte
}

// Tag implements Signature.
func (CoinbaseSignature) Tag() byte { return SigTagCoinbaseData }

// Serialize implements Signature.
func (s CoinbaseSignature) Serialize(buf []byte) []byte {
	buf = append(buf, SigTagCoinbaseData)
	buf = putUint32BE(buf, s.Height)
	buf = append(buf, byte(len(s.Data)))
	buf = append(buf, s.Data...)
	return buf
}

// SECP256k1SignatureSize is the length in bytes of a raw (r||s) secp256k1
// signature, as opposed to a DER encoding.
const SECP256k1SignatureSize = 64

// SECP256k1Signature is a raw, non-DER-encoded ECDSA signature: 32 bytes
// of R followed by 32 bytes of S.
type SECP256k1Signature struct {
	Bytes [SECP256k1SignatureSize]byte
}

// Tag implements Signature.
func (SECP256k1Signature) Tag() byte { return SigTagSECP256k1 }

// Serialize implements Signature.
func (s SECP256k1Signature) Serialize(buf []byte) []byte {
	buf = append(buf, SigTagSECP256k1)
	return append(buf, s.Bytes[:]...)
}

// DeserializeSignature reads a tagged Signature from r. Exported for
// callers, such as the block store, that persist a signature's
// serialized bytes independently of a full transaction.
func DeserializeSignature(r io.Reader) (Signature, error) {
	return readSignature(r)
}

// readSignature reads a tagged Signature from r.
func readSignature(r io.Reader) (Signature, error) {
	tagB, err := safeRead(r, 1)
	if err != nil {
		return nil, err
	}
	switch tagB[0] {
	case SigTagSignableEquivalent:
		return SignableEquivalentSignature{}, nil
	case SigTagCoinbaseData:
		heightB, err := safeRead(r, 4)
		if err != nil {
			return nil, err
		}
		sizeB, err := safeRead(r, 1)
		if err != nil {
			return nil, err
		}
		size := sizeB[0]
		if size > MaxCoinbaseRandomDataSize {
			return nil, fmt.Errorf("wire: coinbase data size %d exceeds maximum %d", size, MaxCoinbaseRandomDataSize)
		}
		data, err := safeRead(r, int(size))
		if err != nil {
			return nil, err
		}
		return CoinbaseSignature{Height: beUint32(heightB), Data: data}, nil
	case SigTagSECP256k1:
		sigB, err := safeRead(r, SECP256k1SignatureSize)
		if err != nil {
			return nil, err
		}
		var sig SECP256k1Signature
		copy(sig.Bytes[:], sigB)
		return sig, nil
	default:
		return nil, fmt.Errorf("wire: unknown signature tag 0x%02x", tagB[0])
	}
}

// PublicKey is the tagged union over public key kinds. Only the
// SECP256k1 variant currently exists, per spec.md §3.
type PublicKey interface {
	Tag() byte
	Serialize(buf []byte) []byte
}

// SECP256k1PublicKeySize is the length in bytes of an uncompressed X||Y
// SECP256k1 public key.
const SECP256k1PublicKeySize = 64

// SECP256k1PublicKey is an uncompressed X||Y public key, 32 bytes each.
type SECP256k1PublicKey struct {
	Bytes [SECP256k1PublicKeySize]byte
}

// Tag implements PublicKey.
func (SECP256k1PublicKey) Tag() byte { return SigTagSECP256k1 }

// Serialize implements PublicKey.
func (p SECP256k1PublicKey) Serialize(buf []byte) []byte {
	buf = append(buf, SigTagSECP256k1)
	return append(buf, p.Bytes[:]...)
}

// DeserializePublicKey reads a tagged PublicKey from r. Exported for
// callers, such as the block store, that persist a public key's
// serialized bytes independently of a full output.
func DeserializePublicKey(r io.Reader) (PublicKey, error) {
	return readPublicKey(r)
}

func readPublicKey(r io.Reader) (PublicKey, error) {
	tagB, err := safeRead(r, 1)
	if err != nil {
		return nil, err
	}
	switch tagB[0] {
	case SigTagSECP256k1:
		keyB, err := safeRead(r, SECP256k1PublicKeySize)
		if err != nil {
			return nil, err
		}
		var pk SECP256k1PublicKey
		copy(pk.Bytes[:], keyB)
		return pk, nil
	default:
		return nil, fmt.Errorf("wire: unknown public key tag 0x%02x", tagB[0])
	}
}

// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consensus

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/wire"
)

// ParsePublicKey decodes a wire.SECP256k1PublicKey's raw, unprefixed
// X||Y bytes into a usable curve point.
func ParsePublicKey(pk wire.SECP256k1PublicKey) (*secp256k1.PublicKey, error) {
	var x, y secp256k1.FieldVal
	if overflow := x.SetByteSlice(pk.Bytes[:32]); overflow {
		return nil, ruleError(ErrValidateTransaction, "public key X coordinate overflows the field")
	}
	if overflow := y.SetByteSlice(pk.Bytes[32:]); overflow {
		return nil, ruleError(ErrValidateTransaction, "public key Y coordinate overflows the field")
	}
	return secp256k1.NewPublicKey(&x, &y), nil
}

// SerializePublicKey renders a curve point back into the wire's raw,
// unprefixed X||Y representation.
func SerializePublicKey(pub *secp256k1.PublicKey) wire.SECP256k1PublicKey {
	var out wire.SECP256k1PublicKey
	// SerializeUncompressed is 0x04||X||Y; we store only X||Y.
	copy(out.Bytes[:], pub.SerializeUncompressed()[1:])
	return out
}

// SignDigest produces the raw 64-byte R||S signature over digest using
// priv, in the format wire.SECP256k1Signature carries on the wire.
func SignDigest(priv *secp256k1.PrivateKey, digest []byte) wire.SECP256k1Signature {
	compact := ecdsa.SignCompact(priv, digest, true)
	var out wire.SECP256k1Signature
	// compact is recoveryID(1) || R(32) || S(32); the wire format omits
	// the recovery id since the verifying party already knows the
	// claimed public key.
	copy(out.Bytes[:], compact[1:])
	return out
}

// VerifySignature checks a raw 64-byte R||S signature against digest
// and the given public key.
func VerifySignature(pub *secp256k1.PublicKey, digest []byte, sig wire.SECP256k1Signature) bool {
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig.Bytes[:32]); overflow {
		return false
	}
	if overflow := s.SetByteSlice(sig.Bytes[32:]); overflow {
		return false
	}
	parsed := ecdsa.NewSignature(&r, &s)
	return parsed.Verify(digest, pub)
}

// ValidateSignatureForSpend checks that input's signature is a valid
// SECP256k1 signature over tx's signable equivalent, made by the key
// controlling previousOutput. Per spec.md §3 the pre-image is the
// transaction serialized with every input's signature replaced by the
// SignableEquivalent placeholder.
func ValidateSignatureForSpend(input wire.Input, previousOutput wire.Output, tx *wire.Transaction) error {
	sig, ok := input.Signature.(wire.SECP256k1Signature)
	if !ok {
		return ruleError(ErrValidateTransaction, "input signature is not a SECP256k1Signature")
	}
	pubKeyWire, ok := previousOutput.PublicKey.(wire.SECP256k1PublicKey)
	if !ok {
		return ruleError(ErrValidateTransaction, "referenced output's public key is not SECP256k1PublicKey")
	}
	pub, err := ParsePublicKey(pubKeyWire)
	if err != nil {
		return err
	}
	digest := chainhash.DoubleHashH(tx.SignableEquivalent())
	if !VerifySignature(pub, digest[:], sig) {
		return ruleError(ErrValidateTransaction, "wrong signature for claimed output")
	}
	return nil
}

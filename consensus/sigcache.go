// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consensus

import (
	"github.com/decred/dcrd/lru"

	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/wire"
)

// SigCache is a cache of already-verified (digest, signature, public
// key) triples, adapted from the signature cache idiom: a spend's
// signature is expensive to verify and the same input is routinely
// re-verified once as it enters the mempool and again as the block
// that confirms it is validated, so a hit lets the second check skip
// straight to "yes". Unlike that cache, capacity is managed by
// straightforward least-recently-used eviction rather than a
// proactive per-block sweep, since there is no keyed short-hash
// machinery to drive one here.
type SigCache struct {
	cache lru.KVCache
}

// NewSigCache creates a SigCache holding at most maxEntries verified
// signatures.
func NewSigCache(maxEntries uint) *SigCache {
	return &SigCache{cache: lru.NewKVCache(maxEntries)}
}

func sigCacheKey(digest []byte, sig wire.SECP256k1Signature, pub wire.SECP256k1PublicKey) chainhash.Hash {
	return chainhash.DoubleHashH(append(append(append([]byte{}, digest...), sig.Bytes[:]...), pub.Bytes[:]...))
}

// Exists reports whether (digest, sig, pub) is already known to verify.
func (c *SigCache) Exists(digest []byte, sig wire.SECP256k1Signature, pub wire.SECP256k1PublicKey) bool {
	_, ok := c.cache.Lookup(sigCacheKey(digest, sig, pub))
	return ok
}

// Add records (digest, sig, pub) as having verified successfully.
// Callers must only call Add after Verify has actually returned true.
func (c *SigCache) Add(digest []byte, sig wire.SECP256k1Signature, pub wire.SECP256k1PublicKey) {
	c.cache.Add(sigCacheKey(digest, sig, pub), struct{}{})
}

// ValidateSignatureForSpendCached behaves like ValidateSignatureForSpend
// but consults and populates cache, skipping the elliptic-curve
// verification on a hit.
func ValidateSignatureForSpendCached(cache *SigCache, input wire.Input, previousOutput wire.Output, tx *wire.Transaction) error {
	sig, ok := input.Signature.(wire.SECP256k1Signature)
	if !ok {
		return ruleError(ErrValidateTransaction, "input signature is not a SECP256k1Signature")
	}
	pubKeyWire, ok := previousOutput.PublicKey.(wire.SECP256k1PublicKey)
	if !ok {
		return ruleError(ErrValidateTransaction, "referenced output's public key is not SECP256k1PublicKey")
	}
	digest := chainhash.DoubleHashH(tx.SignableEquivalent())

	if cache != nil && cache.Exists(digest[:], sig, pubKeyWire) {
		return nil
	}

	if err := ValidateSignatureForSpend(input, previousOutput, tx); err != nil {
		return err
	}

	if cache != nil {
		cache.Add(digest[:], sig, pubKeyWire)
	}
	return nil
}

// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet persists a set of key pairs and the bookkeeping needed
// to build and sign spending transactions against them (spec.md's
// wallet file and key-management surface, which the spec itself treats
// as a thin-wrapper collaborator around consensus/chainutil). Grounded
// on original_source's wallet.py, with one deliberate departure: keys
// are derived deterministically from a single BIP0032 seed via
// github.com/decred/dcrd/hdkeychain/v3
// rather than generated independently at random, so the wallet can be
// recovered from its seed phrase alone (original_source leaves key
// rotation unspecified beyond "generate more").
package wallet

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/hdkeychain/v3"

	"github.com/skepticoin/skepticoin/wire"
)

// hdPrivVersion and hdPubVersion are skepticoin's own BIP0032 extended-
// key version prefixes: arbitrary 4-byte tags distinct from Bitcoin's or
// Decred's. No extended key is ever transmitted over the wire protocol
// or shown to a peer, so there is no interoperability requirement these
// need to satisfy; they exist only so a base58-serialized extended key,
// if ever printed for backup purposes, is visibly not a Bitcoin one.
var (
	hdPrivVersion = [4]byte{'s', 'k', 'p', 'r'}
	hdPubVersion  = [4]byte{'s', 'k', 'p', 'u'}
)

// netParams implements hdkeychain.NetworkParams, decoupled from
// github.com/decred/dcrd/chaincfg/v3 so wallet key derivation doesn't
// pull in an entire second network-parameters package on top of this
// module's own chaincfg (which describes the blockchain's consensus
// parameters, not BIP0032 version bytes).
type netParams struct{}

func (netParams) HDPrivKeyVersion() [4]byte { return hdPrivVersion }
func (netParams) HDPubKeyVersion() [4]byte  { return hdPubVersion }

// accountIndex is the single hardened account every key in this wallet
// is derived under (BIP0032 m/0'). Skepticoin has no notion of multiple
// accounts, so there is only ever this one.
const accountIndex = hdkeychain.HardenedKeyStart + 0

// externalChainIndex is the non-hardened chain index holding every key
// this wallet has ever derived (BIP0032 m/0'/0). BIP0032's
// external/internal chain split doesn't apply here — skepticoin has no
// notion of change addresses separate from any other address — so only
// the external chain is used.
const externalChainIndex = 0

// deriveMaster builds the wallet's master extended key from a seed.
func deriveMaster(seed []byte) (*hdkeychain.ExtendedKey, error) {
	return hdkeychain.NewMaster(seed, netParams{})
}

// deriveExternalChain walks from master down to m/0'/0, the chain every
// per-key derivation in this wallet descends from.
func deriveExternalChain(master *hdkeychain.ExtendedKey) (*hdkeychain.ExtendedKey, error) {
	account, err := master.Child(accountIndex)
	if err != nil {
		return nil, err
	}
	return account.Child(externalChainIndex)
}

// deriveKeyPair derives the index'th key of externalChain and returns
// it as both a usable private key and the wire public key encoding
// everything else in this module expects.
func deriveKeyPair(externalChain *hdkeychain.ExtendedKey, index uint32) (*secp256k1.PrivateKey, wire.SECP256k1PublicKey, error) {
	child, err := externalChain.Child(index)
	if err != nil {
		return nil, wire.SECP256k1PublicKey{}, err
	}
	privBytes, err := child.SerializedPrivKey()
	if err != nil {
		return nil, wire.SECP256k1PublicKey{}, err
	}
	priv := secp256k1.PrivKeyFromBytes(privBytes)
	var pk wire.SECP256k1PublicKey
	copy(pk.Bytes[:], priv.PubKey().SerializeUncompressed()[1:])
	return priv, pk, nil
}

// errInvalidChild is the sentinel hdkeychain returns for the
// approximately 1-in-2^127 child index that doesn't produce a valid
// key; callers skip to the next index rather than treat it as fatal.
var errInvalidChild = hdkeychain.ErrInvalidChild

var errWalletExhausted = errors.New("wallet: could not derive any more keys")

// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines the network-wide consensus constants and the
// genesis block every node starts from.
package chaincfg

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/wire"
)

// Network-wide timing and emission constants (spec.md §6).
const (
	SashimiPerCoin = wire.SashimiPerCoin
	MaxSashimi     = wire.MaxSashimi

	DesiredBlockTimespan               = 120 // seconds
	BlocksBetweenTargetReadjustment    = 2016 * 5
	DesiredTargetReadjustmentTimespan  = BlocksBetweenTargetReadjustment * DesiredBlockTimespan
	InitialSubsidy                     = 10 * SashimiPerCoin
	SubsidyHalvingInterval             = 210_000 * 5
	MaxBlockSize                       = 200_000
	MaxFutureBlockTime                 = 30 // seconds

	// DefaultPort is the TCP port skepticoind listens on absent
	// configuration.
	DefaultPort = 2412
)

// InitialTarget is 2^248, a big-endian 32-byte value of one 0x01 byte
// followed by 31 zero bytes, used as the genesis block's target.
var InitialTarget = [wire.TargetSize]byte{0: 0x01}

// MaxTarget is the saturating ceiling retargeting clamps to: 2^256 - 1.
var MaxTarget = [wire.TargetSize]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// genesisBlockHex is the canonical byte encoding of the network's
// genesis block: height 0, the zero previous-block-hash, InitialTarget,
// and a coinbase output of InitialSubsidy to the project's founding key.
// Its header hash is fixed by protocol; GenesisBlock checks it on every
// call.
const genesisBlockHex = "" +
	"00000000000000000000000000000000000000000000000000000000000000000000616c35621abdf928185b74d57985cea7ff2d66ef318c58" +
	"ec7ea8dd01ed089028604e7f3101000000000000000000000000000000000000000000000000000000000000000000003aea13176dbcbf6210" +
	"55bdb3d6a138be4b73229d8584cb380e1dd1bbe1cedd42820000000000000000000000000000000000000000000000000000000000000000e3" +
	"8ee41a6b0f6584fe8b95bd8c8d7b4d6db961fa5c2a6fafe72ea1533dd2838b0100010000000000000000000000000000000000000000000000" +
	"000000000000000000000000000100000000ab596f75206275792061207069656365206f662070617261646973650a596f7520627579206120" +
	"7069656365206f66206d650a49276c6c2067657420796f752065766572797468696e6720796f752077616e7465640a49276c6c206765742079" +
	"6f752065766572797468696e6720796f75206e6565640a446f6e2774206e65656420746f2062656c6965766520696e20686572656166746572" +
	"0a4a7573742062656c6965766520696e206d6501000000003b9aca0002aac3faad6ddc26ec4674328741498fe74bdb0d8e49a22473a02370e5" +
	"3d69b0079819d5ac3f0cd36f25578eb042ad2a7b59f84a0b5f622e41ac982f478e8cb259"

// GenesisHash is the protocol-fixed hash of the genesis block.
var GenesisHash = mustHashFromStr("00c4ff1d0788c7058f3d8388d77b2feda0921fa141078fb895871634e0c36780")

func mustHashFromStr(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}

// GenesisBlock decodes and returns the network's genesis block. Callers
// that only need its hash should use GenesisHash instead.
func GenesisBlock() (*wire.Block, error) {
	raw, err := hex.DecodeString(genesisBlockHex)
	if err != nil {
		return nil, fmt.Errorf("chaincfg: corrupt embedded genesis block: %w", err)
	}
	block, err := wire.DeserializeBlock(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("chaincfg: failed to parse embedded genesis block: %w", err)
	}
	if block.Hash() != GenesisHash {
		return nil, fmt.Errorf("chaincfg: embedded genesis block hashes to %s, expected %s", block.Hash(), GenesisHash)
	}
	return block, nil
}

// MaxKnownHashHeight is the highest height covered by KnownHashes.
// Heights above it receive full in-coinstate validation.
const MaxKnownHashHeight = 0

// KnownHashes is the compile-time checkpoint table: blocks at these
// heights must hash to the tabulated value, and in-coinstate validation
// is skipped for them and everything below MaxKnownHashHeight. It must
// never be extended at runtime (spec.md §9).
var KnownHashes = map[uint64]chainhash.Hash{
	0: GenesisHash,
}

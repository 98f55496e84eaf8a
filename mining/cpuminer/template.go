// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cpuminer

import (
	"fmt"
	"time"

	"github.com/skepticoin/skepticoin/blockchain"
	"github.com/skepticoin/skepticoin/consensus"
	"github.com/skepticoin/skepticoin/wire"
)

// blockTemplate is everything a candidate block needs except its nonce
// and proof-of-work evidence, plus the chain view it was built against.
// Every worker nonce attempt reuses the same template until the chain
// head moves or a block is found with it, since rebuilding the coinbase or
// re-scanning the mempool on every attempt would dwarf the cost of the
// scrypt hash itself.
type blockTemplate struct {
	cs      *blockchain.CoinState
	summary wire.BlockSummary // Nonce is always 0 here; workers fill it in
	txs     []*wire.Transaction
}

// buildTemplate assembles a candidate block extending cs's current head:
// a coinbase paying minerKey the subsidy plus pending fees, followed by
// every mempool transaction, with the target and timestamp computed per
// spec.md §4.D.
func buildTemplate(cs *blockchain.CoinState, mempool []*wire.Transaction, minerKey wire.SECP256k1PublicKey, userAgent string) (*blockTemplate, error) {
	parent := cs.Head()
	height := parent.Height + 1

	target, err := consensus.CalcTarget(height, parent, cs)
	if err != nil {
		return nil, fmt.Errorf("cpuminer: calculating target: %w", err)
	}

	fees, err := consensus.GetBlockFees(mempool, cs.UnspentOutput)
	if err != nil {
		return nil, fmt.Errorf("cpuminer: summing mempool fees: %w", err)
	}
	if fees < 0 {
		// Every mempool transaction has already passed in-coinstate
		// validation, which forbids overspending; this would mean a
		// bookkeeping bug rather than a bad transaction slipping in.
		return nil, fmt.Errorf("cpuminer: negative total fees %d", fees)
	}
	subsidy := consensus.GetBlockSubsidy(height)

	coinbase := &wire.Transaction{
		Inputs: []wire.Input{{
			OutputReference: wire.ThinAir,
			Signature:       wire.CoinbaseSignature{Height: uint32(height), Data: []byte(userAgent)},
		}},
		Outputs: []wire.Output{{
			Value:     subsidy + uint64(fees),
			PublicKey: minerKey,
		}},
	}

	txs := make([]*wire.Transaction, 0, len(mempool)+1)
	txs = append(txs, coinbase)
	txs = append(txs, mempool...)

	timestamp := uint32(time.Now().Unix())
	if timestamp <= parent.Timestamp {
		// A block's timestamp must strictly increase over its parent's,
		// even if the wall clock hasn't ticked forward since (spec.md
		// §4.E), or the node's own clock runs behind the chain's.
		timestamp = parent.Timestamp + 1
	}

	summary := wire.BlockSummary{
		Height:            height,
		PreviousBlockHash: cs.HeadBlock().Hash(),
		MerkleRootHash:    wire.MerkleRoot(txs),
		Timestamp:         timestamp,
		Target:            target,
	}

	return &blockTemplate{cs: cs, summary: summary, txs: txs}, nil
}

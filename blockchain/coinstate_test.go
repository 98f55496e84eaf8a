// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"

	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/store"
	"github.com/skepticoin/skepticoin/wire"
)

func openTestCoinState(t *testing.T) *CoinState {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cs, err := Load(st)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return cs
}

func testBlock(height uint64, prevHash chainhash.Hash, nonce uint32, coinbaseTag string, value uint64) *wire.Block {
	coinbase := &wire.Transaction{
		Inputs: []wire.Input{{
			OutputReference: wire.ThinAir,
			Signature:       wire.CoinbaseSignature{Height: uint32(height), Data: []byte(coinbaseTag)},
		}},
		Outputs: []wire.Output{{Value: value, PublicKey: wire.SECP256k1PublicKey{}}},
	}
	txs := []*wire.Transaction{coinbase}
	return &wire.Block{
		Header: wire.BlockHeader{
			Summary: wire.BlockSummary{
				Height:            height,
				PreviousBlockHash: prevHash,
				MerkleRootHash:    wire.MerkleRoot(txs),
				Nonce:             nonce,
			},
		},
		Transactions: txs,
	}
}

func TestAddBlockBatchExtendsChainDirectly(t *testing.T) {
	cs := openTestCoinState(t)
	genesisHash := cs.HeadBlock().Hash()

	block1 := testBlock(cs.Head().Height+1, genesisHash, 1, "a", 1000)
	next, err := cs.AddBlockBatch([]*wire.Block{block1})
	if err != nil {
		t.Fatalf("AddBlockBatch() error: %v", err)
	}
	if next.HeadBlock().Hash() != block1.Hash() {
		t.Fatalf("expected the chain to extend onto block1")
	}
	if cs.HeadBlock().Hash() != genesisHash {
		t.Fatalf("AddBlockBatch must not mutate the receiver")
	}
}

func TestAddBlockBatchDiscardsBlocksWithUnknownParent(t *testing.T) {
	cs := openTestCoinState(t)
	orphan := testBlock(5, chainhash.Hash{0xee}, 1, "orphan", 1000)

	next, err := cs.AddBlockBatch([]*wire.Block{orphan})
	if err != nil {
		t.Fatalf("AddBlockBatch() error: %v", err)
	}
	if next.HasBlockHash(orphan.Hash()) {
		t.Fatalf("expected an orphan block with an unknown parent to be discarded")
	}
}

func TestAddBlockBatchTieBreaksOnLowestHash(t *testing.T) {
	cs := openTestCoinState(t)
	genesisHash := cs.HeadBlock().Hash()
	height := cs.Head().Height + 1

	left := testBlock(height, genesisHash, 1, "left", 1000)
	right := testBlock(height, genesisHash, 2, "right", 1000)

	want := left
	if right.Hash().Less(left.Hash()) {
		want = right
	}

	next, err := cs.AddBlockBatch([]*wire.Block{left, right})
	if err != nil {
		t.Fatalf("AddBlockBatch() error: %v", err)
	}
	if next.HeadBlock().Hash() != want.Hash() {
		t.Fatalf("expected the lexicographically smaller hash to win the tie, got %s want %s",
			next.HeadBlock().Hash(), want.Hash())
	}

	loser := left
	if want.Hash() == left.Hash() {
		loser = right
	}
	forks := next.Forks(10)
	if len(forks) != 1 || forks[0].Head.Hash() != loser.Hash() {
		t.Fatalf("expected the losing tip to remain tracked as a fork")
	}
	if forks[0].CommonAncestorHash != genesisHash {
		t.Fatalf("expected the fork's common ancestor to be genesis")
	}
}

func TestAddBlockBatchReorgsToTallerFork(t *testing.T) {
	cs := openTestCoinState(t)
	genesisHash := cs.HeadBlock().Hash()
	height1 := cs.Head().Height + 1

	left := testBlock(height1, genesisHash, 1, "left", 1000)
	right := testBlock(height1, genesisHash, 2, "right", 1000)

	cs, err := cs.AddBlockBatch([]*wire.Block{left, right})
	if err != nil {
		t.Fatalf("AddBlockBatch() error: %v", err)
	}

	leftChild := testBlock(height1+1, left.Hash(), 3, "left-child", 1000)
	cs, err = cs.AddBlockBatch([]*wire.Block{leftChild})
	if err != nil {
		t.Fatalf("AddBlockBatch() error: %v", err)
	}

	if cs.HeadBlock().Hash() != leftChild.Hash() {
		t.Fatalf("expected the taller fork to become canonical regardless of which sibling previously won the tie")
	}
	if !cs.HasBlockHash(right.Hash()) {
		t.Fatalf("expected the shorter sibling to remain indexed as a known, non-canonical block")
	}
}

func TestUnspentOutputIsConservedAcrossAReorg(t *testing.T) {
	cs := openTestCoinState(t)
	genesisHash := cs.HeadBlock().Hash()
	height1 := cs.Head().Height + 1

	left := testBlock(height1, genesisHash, 1, "left", 500)
	right := testBlock(height1, genesisHash, 2, "right", 700)

	cs, err := cs.AddBlockBatch([]*wire.Block{left, right})
	if err != nil {
		t.Fatalf("AddBlockBatch() error: %v", err)
	}

	leftChild := testBlock(height1+1, left.Hash(), 3, "left-child", 500)
	cs, err = cs.AddBlockBatch([]*wire.Block{leftChild})
	if err != nil {
		t.Fatalf("AddBlockBatch() error: %v", err)
	}
	if cs.HeadBlock().Hash() != leftChild.Hash() {
		t.Fatalf("setup failed: expected left's child to be canonical")
	}

	leftCoinbaseRef := wire.OutputReference{TxHash: left.Transactions[0].Hash(), Index: 0}
	if _, ok := cs.UnspentOutput(leftCoinbaseRef); !ok {
		t.Fatalf("expected left's coinbase output to be unspent on the now-canonical chain")
	}

	rightCoinbaseRef := wire.OutputReference{TxHash: right.Transactions[0].Hash(), Index: 0}
	if _, ok := cs.UnspentOutput(rightCoinbaseRef); ok {
		t.Fatalf("expected the losing sibling's coinbase output to not be spendable on the canonical chain")
	}
}

// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"testing"

	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/chaincfg"
	"github.com/skepticoin/skepticoin/wire"
)

func openTest(t *testing.T) *BlockStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func childBlock(height uint64, prevHash chainhash.Hash, nonce uint32, value uint64, pub wire.PublicKey) *wire.Block {
	coinbase := &wire.Transaction{
		Inputs: []wire.Input{{
			OutputReference: wire.ThinAir,
			Signature:       wire.CoinbaseSignature{Height: uint32(height), Data: []byte("t")},
		}},
		Outputs: []wire.Output{{Value: value, PublicKey: pub}},
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

func TestOpenSeedsGenesis(t *testing.T) {
	s := openTest(t)

	genesis, err := chaincfg.GenesisBlock()
	if err != nil {
		t.Fatalf("GenesisBlock: %v", err)
	}

	got, err := s.FetchBlockByHash(genesis.Hash())
	if err != nil {
		t.Fatalf("FetchBlockByHash(genesis): %v", err)
	}
	if got.Hash() != genesis.Hash() {
		t.Fatalf("got hash %s, want %s", got.Hash(), genesis.Hash())
	}
	if got.Header.Summary.Height != 0 {
		t.Fatalf("expected genesis at height 0, got %d", got.Header.Summary.Height)
	}
}

func TestWriteBlocksIsIdempotent(t *testing.T) {
	s := openTest(t)
	genesis, _ := chaincfg.GenesisBlock()

	var pub wire.SECP256k1PublicKey
	block1 := childBlock(1, genesis.Hash(), 1, 1000, pub)

	ids1, err := s.WriteBlocks([]*wire.Block{block1})
	if err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}
	ids2, err := s.WriteBlocks([]*wire.Block{block1})
	if err != nil {
		t.Fatalf("WriteBlocks (repeat): %v", err)
	}
	if ids1[0] != ids2[0] {
		t.Fatalf("re-writing the same block produced a new id: %d vs %d", ids1[0], ids2[0])
	}
}

func TestFetchBlockByIDRoundTrip(t *testing.T) {
	s := openTest(t)
	genesis, _ := chaincfg.GenesisBlock()

	var pub wire.SECP256k1PublicKey
	pub.Bytes[0] = 0x42
	block1 := childBlock(1, genesis.Hash(), 7, 5000, pub)

	ids, err := s.WriteBlocks([]*wire.Block{block1})
	if err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}

	got, err := s.FetchBlockByID(ids[0])
	if err != nil {
		t.Fatalf("FetchBlockByID: %v", err)
	}
	if got.Hash() != block1.Hash() {
		t.Fatalf("round trip mismatch: got hash %s, want %s", got.Hash(), block1.Hash())
	}
	if len(got.Transactions) != 1 || got.Transactions[0].Outputs[0].Value != 5000 {
		t.Fatalf("transaction data did not round trip: %+v", got.Transactions)
	}
	if got.Transactions[0].Outputs[0].PublicKey.(wire.SECP256k1PublicKey).Bytes[0] != 0x42 {
		t.Fatalf("public key did not round trip")
	}
}

func TestFetchBlockByHashUnknownFails(t *testing.T) {
	s := openTest(t)
	if _, err := s.FetchBlockByHash(chainhash.Hash{0xff}); err == nil {
		t.Fatal("expected an error for an unknown hash")
	}
}

func TestUnspentOutputForPublicKey(t *testing.T) {
	s := openTest(t)
	genesis, _ := chaincfg.GenesisBlock()

	var pub wire.SECP256k1PublicKey
	pub.Bytes[0] = 0x07
	block1 := childBlock(1, genesis.Hash(), 1, 2500, pub)
	if _, err := s.WriteBlocks([]*wire.Block{block1}); err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}

	recs, err := s.UnspentOutputsForPublicKey(block1.Hash(), pub)
	if err != nil {
		t.Fatalf("UnspentOutputsForPublicKey: %v", err)
	}
	if len(recs) != 1 || recs[0].Value != 2500 {
		t.Fatalf("expected one unspent output of 2500, got %+v", recs)
	}

	ref := wire.OutputReference{TxHash: block1.Transactions[0].Hash(), Index: 0}
	out, ok, err := s.UnspentOutput(block1.Hash(), ref)
	if err != nil {
		t.Fatalf("UnspentOutput: %v", err)
	}
	if !ok || out.Value != 2500 {
		t.Fatalf("expected the coinbase output to be unspent with value 2500, got ok=%v out=%+v", ok, out)
	}

	// Asking relative to genesis (before block1 exists) must not find it.
	if _, ok, err := s.UnspentOutput(genesis.Hash(), ref); err != nil || ok {
		t.Fatalf("expected no match scoped to genesis, got ok=%v err=%v", ok, err)
	}
}

func TestChainIndexEntriesIncludesGenesisAndChild(t *testing.T) {
	s := openTest(t)
	genesis, _ := chaincfg.GenesisBlock()

	var pub wire.SECP256k1PublicKey
	block1 := childBlock(1, genesis.Hash(), 1, 1000, pub)
	if _, err := s.WriteBlocks([]*wire.Block{block1}); err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}

	entries, err := s.ChainIndexEntries()
	if err != nil {
		t.Fatalf("ChainIndexEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	var genesisEntry, childEntry *IndexEntry
	for i := range entries {
		switch entries[i].BlockHash {
		case genesis.Hash():
			genesisEntry = &entries[i]
		case block1.Hash():
			childEntry = &entries[i]
		}
	}
	if genesisEntry == nil || childEntry == nil {
		t.Fatalf("missing expected entries: %+v", entries)
	}
	if genesisEntry.PreviousBlockID != 0 {
		t.Fatalf("expected genesis to have no previous_block_id, got %d", genesisEntry.PreviousBlockID)
	}
	if childEntry.PreviousBlockID != genesisEntry.BlockID {
		t.Fatalf("expected child's previous_block_id to point at genesis")
	}
}

func TestValidationTrackerRoundTrip(t *testing.T) {
	s := openTest(t)
	genesis, _ := chaincfg.GenesisBlock()

	var pub wire.SECP256k1PublicKey
	block1 := childBlock(1, genesis.Hash(), 1, 1000, pub)
	ids, err := s.WriteBlocks([]*wire.Block{block1})
	if err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}

	if _, err := s.ValidationQueueSize(); err != nil {
		t.Fatalf("ValidationQueueSize before tracker set: %v", err)
	}

	if err := s.SetValidationTracker(ids[0]); err != nil {
		t.Fatalf("SetValidationTracker: %v", err)
	}
	size, err := s.ValidationQueueSize()
	if err != nil {
		t.Fatalf("ValidationQueueSize: %v", err)
	}
	if size != 0 {
		t.Fatalf("expected an empty queue once the tracker reaches the tip, got %d", size)
	}
}

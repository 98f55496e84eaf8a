// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consensus

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/skepticoin/skepticoin/chaincfg"
	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/wire"
)

// fakeChain is a minimal ChainView backed by a slice indexed by height,
// standing in for a real blockchain.CoinState in tests.
type fakeChain struct {
	blocks []*wire.Block
}

func (f *fakeChain) BlockAtHeight(height uint64) (*wire.Block, error) {
	if height >= uint64(len(f.blocks)) {
		return nil, fmt.Errorf("fakeChain: no block at height %d", height)
	}
	return f.blocks[height], nil
}

func genesisLikeBlock(height uint64, nonce uint32) *wire.Block {
	coinbase := &wire.Transaction{
		Inputs: []wire.Input{{
			OutputReference: wire.ThinAir,
			Signature:       wire.CoinbaseSignature{Height: uint32(height)},
		}},
		Outputs: []wire.Output{{Value: 1, PublicKey: wire.SECP256k1PublicKey{}}},
	}
	txs := []*wire.Transaction{coinbase}
	summary := wire.BlockSummary{
		Height:         height,
		MerkleRootHash: wire.MerkleRoot(txs),
		Target:         chainhashMaxTarget(),
		Nonce:          nonce,
	}
	return &wire.Block{
		Header:       wire.BlockHeader{Summary: summary},
		Transactions: txs,
	}
}

func chainhashMaxTarget() [wire.TargetSize]byte {
	var t [wire.TargetSize]byte
	for i := range t {
		t[i] = 0xff
	}
	return t
}

func TestSummaryHashIsDeterministic(t *testing.T) {
	summary := &wire.BlockSummary{Height: 5, Nonce: 42}
	h1, err := SummaryHash(summary, summary.Height)
	if err != nil {
		t.Fatalf("SummaryHash() error: %v", err)
	}
	h2, err := SummaryHash(summary, summary.Height)
	if err != nil {
		t.Fatalf("SummaryHash() error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("SummaryHash() not deterministic: %s vs %s", h1, h2)
	}

	summary2 := &wire.BlockSummary{Height: 5, Nonce: 43}
	h3, err := SummaryHash(summary2, summary2.Height)
	if err != nil {
		t.Fatalf("SummaryHash() error: %v", err)
	}
	if h1 == h3 {
		t.Fatalf("SummaryHash() collided across different nonces")
	}
}

func TestConstructPowEvidenceGenesisSkipsChainSample(t *testing.T) {
	chain := &fakeChain{}
	summary := &wire.BlockSummary{Height: 0}
	txs := []*wire.Transaction{{
		Inputs:  []wire.Input{{OutputReference: wire.ThinAir, Signature: wire.CoinbaseSignature{}}},
		Outputs: []wire.Output{{Value: 1, PublicKey: wire.SECP256k1PublicKey{}}},
	}}

	evidence, err := ConstructPowEvidence(summary, txs, chain)
	if err != nil {
		t.Fatalf("ConstructPowEvidence() error: %v", err)
	}
	var zero [wire.SampleTotal]byte
	if evidence.ChainSample != zero {
		t.Fatalf("expected zero chain sample at height 0, got %s", spew.Sdump(evidence.ChainSample))
	}
}

func TestConstructPowEvidenceMatchesFromSummaryHash(t *testing.T) {
	chain := &fakeChain{blocks: []*wire.Block{genesisLikeBlock(0, 0)}}
	summary := &wire.BlockSummary{Height: 1, Nonce: 7}
	txs := []*wire.Transaction{{
		Inputs:  []wire.Input{{OutputReference: wire.ThinAir, Signature: wire.CoinbaseSignature{}}},
		Outputs: []wire.Output{{Value: 1, PublicKey: wire.SECP256k1PublicKey{}}},
	}}

	direct, err := ConstructPowEvidence(summary, txs, chain)
	if err != nil {
		t.Fatalf("ConstructPowEvidence() error: %v", err)
	}

	summaryHash, err := SummaryHash(summary, summary.Height)
	if err != nil {
		t.Fatalf("SummaryHash() error: %v", err)
	}
	fromHash, err := ConstructPowEvidenceFromSummaryHash(summaryHash, summary, txs, chain)
	if err != nil {
		t.Fatalf("ConstructPowEvidenceFromSummaryHash() error: %v", err)
	}

	if *direct != *fromHash {
		t.Fatalf("evidence mismatch:\ndirect:    %s\nfromHash:  %s", spew.Sdump(direct), spew.Sdump(fromHash))
	}
}

func TestValidateProofOfWork(t *testing.T) {
	lowTarget := [wire.TargetSize]byte{}
	lowTarget[0] = 0x01 // 2^248: only hashes with a zero leading byte fall below it

	var smallHash chainhash.Hash
	smallHash[chainhash.HashSize-1] = 0x01
	if err := ValidateProofOfWork(smallHash, lowTarget); err != nil {
		t.Fatalf("expected a tiny hash to beat the target: %v", err)
	}

	bigHash := chainhash.Hash{}
	for i := range bigHash {
		bigHash[i] = 0xff
	}
	if err := ValidateProofOfWork(bigHash, lowTarget); err == nil {
		t.Fatalf("expected the maximal hash to fail against a small target")
	}
}

func TestCalculateNewTargetDoublesWhenBlocksArriveSlowly(t *testing.T) {
	prev := [wire.TargetSize]byte{}
	prev[0] = 0x10

	// Twice the desired timespan should double the target (easier).
	got := CalculateNewTarget(prev, 2*chaincfg.DesiredTargetReadjustmentTimespan)
	prevInt := new(big.Int).SetBytes(prev[:])
	gotInt := new(big.Int).SetBytes(got[:])
	want := new(big.Int).Mul(prevInt, big.NewInt(2))
	if gotInt.Cmp(want) != 0 {
		t.Fatalf("expected target to double, got %s want %s", gotInt, want)
	}
}

func TestCalculateNewTargetClampsToMaxTarget(t *testing.T) {
	prev := [wire.TargetSize]byte{}
	for i := range prev {
		prev[i] = 0xff
	}
	got := CalculateNewTarget(prev, 100*chaincfg.DesiredTargetReadjustmentTimespan)
	gotInt := new(big.Int).SetBytes(got[:])
	maxInt := new(big.Int).SetBytes(prev[:])
	if gotInt.Cmp(maxInt) > 0 {
		t.Fatalf("target exceeded its ceiling: %s", spew.Sdump(got))
	}
}

func TestGetBlockSubsidyHalvesAndEventuallyReachesZero(t *testing.T) {
	initial := GetBlockSubsidy(0)
	if initial == 0 {
		t.Fatalf("expected a nonzero genesis subsidy")
	}

	halved := GetBlockSubsidy(chaincfg.SubsidyHalvingInterval)
	if halved != initial/2 {
		t.Fatalf("expected subsidy to halve at the interval boundary: got %d want %d", halved, initial/2)
	}

	if GetBlockSubsidy(chaincfg.SubsidyHalvingInterval*64) != 0 {
		t.Fatalf("expected subsidy to be zero after 64 halvings")
	}
}

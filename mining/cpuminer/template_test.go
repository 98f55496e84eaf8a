// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cpuminer

import (
	"testing"

	"github.com/skepticoin/skepticoin/blockchain"
	"github.com/skepticoin/skepticoin/consensus"
	"github.com/skepticoin/skepticoin/store"
	"github.com/skepticoin/skepticoin/wire"
)

func openTestChain(t *testing.T) *blockchain.CoinState {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cs, err := blockchain.Load(st)
	if err != nil {
		t.Fatalf("blockchain.Load() error: %v", err)
	}
	return cs
}

func TestBuildTemplateExtendsCurrentHead(t *testing.T) {
	cs := openTestChain(t)
	var minerKey wire.SECP256k1PublicKey
	minerKey.Bytes[0] = 0xAB

	tmpl, err := buildTemplate(cs, nil, minerKey, "/test:0.1/")
	if err != nil {
		t.Fatalf("buildTemplate() error: %v", err)
	}

	if tmpl.summary.Height != cs.Head().Height+1 {
		t.Fatalf("expected template height %d, got %d", cs.Head().Height+1, tmpl.summary.Height)
	}
	if tmpl.summary.PreviousBlockHash != cs.HeadBlock().Hash() {
		t.Fatalf("template does not extend the current head")
	}
	if len(tmpl.txs) != 1 {
		t.Fatalf("expected only the coinbase in an empty-mempool template, got %d txs", len(tmpl.txs))
	}

	coinbase := tmpl.txs[0]
	wantSubsidy := consensus.GetBlockSubsidy(tmpl.summary.Height)
	if coinbase.Outputs[0].Value != wantSubsidy {
		t.Fatalf("coinbase pays %d, want subsidy %d (empty mempool, no fees)", coinbase.Outputs[0].Value, wantSubsidy)
	}
	if coinbase.Outputs[0].PublicKey != minerKey {
		t.Fatalf("coinbase does not pay the requested miner key")
	}
}

func TestBuildTemplateTimestampAdvancesPastParent(t *testing.T) {
	cs := openTestChain(t)
	var minerKey wire.SECP256k1PublicKey

	tmpl, err := buildTemplate(cs, nil, minerKey, "/test:0.1/")
	if err != nil {
		t.Fatalf("buildTemplate() error: %v", err)
	}
	if tmpl.summary.Timestamp <= cs.Head().Timestamp {
		t.Fatalf("template timestamp %d does not advance past parent timestamp %d",
			tmpl.summary.Timestamp, cs.Head().Timestamp)
	}
}

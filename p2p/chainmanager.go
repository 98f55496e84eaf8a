// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"math/rand"
	"sync"
	"time"

	"github.com/skepticoin/skepticoin/blockchain"
	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/consensus"
	"github.com/skepticoin/skepticoin/peer"
	"github.com/skepticoin/skepticoin/wire"
)

// Initial-block-download tuning constants (spec.md §4.I).
const (
	MaxIBDPeers               = 1
	IBDPeerTimeout            = 60 * time.Second
	GetBlocksInventorySize    = 500
	SwitchToActiveModeTimeout = 5 * time.Minute
	EmptyInventoryBackoff     = 60 * time.Second
	IBDRequestLifetime        = 30 * time.Minute
	IBDPeerActivityTimeout    = 60 * time.Second
)

// sparseLocatorDepth bounds the exponent k in head-2^k used to build a
// GetBlocks locator (spec.md §4.I): k ranges 0..21, reaching roughly two
// million blocks back with only 22 candidate hashes.
const sparseLocatorDepth = 21

type fetchAttempt struct {
	peer      *peer.Peer
	timeoutAt time.Time
}

// ChainManager owns the node's view of the chain (as a CoinState) and
// its pending-transaction pool, and decides when and from whom to pull
// new blocks during initial block download (original_source's
// networking/manager.py ChainManager).
type ChainManager struct {
	mu sync.Mutex

	coinState *blockchain.CoinState
	mempool   []*wire.Transaction
	sigCache  *consensus.SigCache

	startedAt time.Time
	fetching  []fetchAttempt
}

// NewChainManager creates a ChainManager tracking cs from startedAt
// onward.
func NewChainManager(cs *blockchain.CoinState, startedAt time.Time, sigCache *consensus.SigCache) *ChainManager {
	return &ChainManager{coinState: cs, startedAt: startedAt, sigCache: sigCache}
}

// State returns a consistent snapshot of the current coinstate and
// mempool.
func (cm *ChainManager) State() (*blockchain.CoinState, []*wire.Transaction) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	pool := make([]*wire.Transaction, len(cm.mempool))
	copy(pool, cm.mempool)
	return cm.coinState, pool
}

// CoinState returns the current chain-state snapshot.
func (cm *ChainManager) CoinState() *blockchain.CoinState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.coinState
}

// SetCoinState installs a new coinstate and drops any mempool
// transaction that is no longer valid against it.
func (cm *ChainManager) SetCoinState(cs *blockchain.CoinState) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.coinState = cs
	cm.pruneMempoolLocked()
}

func (cm *ChainManager) pruneMempoolLocked() {
	kept := cm.mempool[:0:0]
	for _, tx := range cm.mempool {
		if err := consensus.ValidateNonCoinbaseTransactionInCoinstate(tx, cm.coinState.UnspentOutput, cm.sigCache); err == nil {
			kept = append(kept, tx)
		}
	}
	cm.mempool = kept
}

// AddBlock validates block against the current coinstate (as an
// extension of whatever parent it names) and, if valid, installs it and
// returns the resulting coinstate. The caller is responsible for
// persisting the coinstate swap and broadcasting if appropriate.
func (cm *ChainManager) AddBlock(block *wire.Block) (*blockchain.CoinState, error) {
	cm.mu.Lock()
	cs := cm.coinState
	cm.mu.Unlock()

	ctx := cs.NewCandidateContext(block.Header.Summary.PreviousBlockHash)
	if err := consensus.ValidateBlockInCoinstate(block, ctx, cm.sigCache); err != nil {
		return nil, err
	}

	next, err := cs.AddBlockBatch([]*wire.Block{block})
	if err != nil {
		return nil, err
	}

	cm.SetCoinState(next)
	return next, nil
}

// HasBlock reports whether hash is already known to the current
// coinstate.
func (cm *ChainManager) HasBlock(hash chainhash.Hash) bool {
	return cm.CoinState().HasBlockHash(hash)
}

// AddTransactionToPool validates tx both standalone and against the
// current coinstate, and appends it to the pool if it introduces no
// output reference already spent by a pending transaction.
func (cm *ChainManager) AddTransactionToPool(tx *wire.Transaction) error {
	if err := consensus.ValidateNonCoinbaseTransactionByItself(tx); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := consensus.ValidateNonCoinbaseTransactionInCoinstate(tx, cm.coinState.UnspentOutput, cm.sigCache); err != nil {
		return err
	}
	if err := consensus.ValidateNoDuplicateOutputReferences(append(append([]*wire.Transaction{}, cm.mempool...), tx)); err != nil {
		return err
	}

	cm.mempool = append(cm.mempool, tx)
	return nil
}

// ContainsTransaction reports whether a transaction with the same hash
// is already pending.
func (cm *ChainManager) ContainsTransaction(hash chainhash.Hash) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, tx := range cm.mempool {
		if tx.Hash() == hash {
			return true
		}
	}
	return false
}

// TransactionByHash returns the pending transaction with the given hash,
// if any, so a GetData request for it can be answered.
func (cm *ChainManager) TransactionByHash(hash chainhash.Hash) (*wire.Transaction, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, tx := range cm.mempool {
		if tx.Hash() == hash {
			return tx, true
		}
	}
	return nil, false
}

// ShouldActivelyFetchBlocks reports whether the node should be the one
// initiating IBD right now, rather than waiting for blocks to arrive
// unsolicited (spec.md §4.I).
func (cm *ChainManager) ShouldActivelyFetchBlocks(now time.Time) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	head := cm.coinState.Head()
	headAge := now.Sub(time.Unix(int64(head.Timestamp), 0))
	sinceStart := now.Sub(cm.startedAt)
	return headAge > SwitchToActiveModeTimeout ||
		sinceStart <= 60*time.Second ||
		now.Unix()%60 == 0
}

// GetBlocksMessage builds the sparse-locator GetBlocks request for the
// current head: the head hash itself, followed by the hash at height
// head-2^k for k = 0..sparseLocatorDepth, clamped at genesis.
func (cm *ChainManager) GetBlocksMessage() (wire.GetBlocks, error) {
	cs := cm.CoinState()
	head := cs.Head()

	seen := make(map[uint64]struct{})
	var hashes []chainhash.Hash
	for k := -1; k <= sparseLocatorDepth; k++ {
		var height uint64
		switch {
		case k < 0:
			height = head.Height
		case uint64(1)<<uint(k) > head.Height:
			height = 0
		default:
			height = head.Height - uint64(1)<<uint(k)
		}
		if _, dup := seen[height]; dup {
			continue
		}
		seen[height] = struct{}{}

		block, err := cs.BlockAtHeight(height)
		if err != nil {
			return wire.GetBlocks{}, err
		}
		hashes = append(hashes, block.Hash())
		if height == 0 {
			break
		}
	}

	return wire.GetBlocks{PotentialStartHashes: hashes}, nil
}

// Step prunes timed-out fetch attempts and, if the node should be
// actively pulling blocks and has spare IBD capacity, chooses a peer to
// request from. It returns the chosen peer and message, or ok=false if
// no request should be sent this tick.
func (cm *ChainManager) Step(now time.Time, activePeers []*peer.Peer) (p *peer.Peer, msg wire.GetBlocks, ok bool) {
	if !cm.ShouldActivelyFetchBlocks(now) {
		return nil, wire.GetBlocks{}, false
	}

	var candidates []*peer.Peer
	for _, ap := range activePeers {
		lastEmpty := time.Unix(ap.LastEmptyInventoryResponseAt.Load(), 0)
		if now.Sub(lastEmpty) > EmptyInventoryBackoff {
			candidates = append(candidates, ap)
		}
	}
	if len(candidates) == 0 {
		return nil, wire.GetBlocks{}, false
	}

	cm.mu.Lock()
	kept := cm.fetching[:0:0]
	for _, f := range cm.fetching {
		if now.Before(f.timeoutAt) && f.peer.WaitingForInventory() {
			kept = append(kept, f)
		}
	}
	cm.fetching = kept
	tooMany := len(cm.fetching) > MaxIBDPeers
	cm.mu.Unlock()
	if tooMany {
		return nil, wire.GetBlocks{}, false
	}

	chosen := candidates[rand.Intn(len(candidates))]
	getBlocks, err := cm.GetBlocksMessage()
	if err != nil {
		return nil, wire.GetBlocks{}, false
	}

	chosen.SetWaitingForInventory(true)
	chosen.MarkInventoryRequested(now)

	cm.mu.Lock()
	cm.fetching = append(cm.fetching, fetchAttempt{peer: chosen, timeoutAt: now.Add(IBDPeerTimeout)})
	cm.mu.Unlock()

	return chosen, getBlocks, true
}

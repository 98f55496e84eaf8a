// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockchain tracks the set of blocks a node has accepted,
// across every fork it has seen, and picks which one is canonical.
// CoinState is an immutable value: every mutating operation returns a
// new CoinState rather than modifying the receiver, so a goroutine
// holding an old CoinState never sees a block materialize that wasn't
// there when it looked (spec.md §4.F, grounded on the teacher's
// blockNode/best-chain bookkeeping in spirit, though the underlying
// index here is a flat hash-to-parent map rather than a node tree).
package blockchain

import (
	"fmt"
	"sort"

	"github.com/decred/slog"

	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/consensus"
	"github.com/skepticoin/skepticoin/store"
	"github.com/skepticoin/skepticoin/wire"
)

// Log is the subsystem logger; cmd/skepticoind replaces it with a
// configured backend.
var Log = slog.Disabled

// recentHeadsDepth bounds how far below the tallest known height a
// block can sit and still be tracked as a candidate head.
const recentHeadsDepth = 10

type indexEntry struct {
	blockID         int64
	previousBlockID int64 // 0 means "no parent known" (genesis, or not yet indexed)
}

// CoinState is the canonical chain plus every other fork within reach,
// as understood from a single snapshot of the block store.
type CoinState struct {
	store *store.BlockStore

	currentChainHash chainhash.Hash
	headBlock        *wire.Block

	heads map[chainhash.Hash]*wire.Block

	blockHashIndex    map[chainhash.Hash]indexEntry
	immutabilityFence int64

	cachedPath []int64
}

// Load builds a CoinState from the current contents of st.
func Load(st *store.BlockStore) (*CoinState, error) {
	entries, err := st.ChainIndexEntries()
	if err != nil {
		return nil, err
	}
	index := make(map[chainhash.Hash]indexEntry, len(entries))
	var fence int64
	for _, e := range entries {
		index[e.BlockHash] = indexEntry{blockID: e.BlockID, previousBlockID: e.PreviousBlockID}
		if e.BlockID > fence {
			fence = e.BlockID
		}
	}

	currentHash, err := st.CurrentChainHash()
	if err != nil {
		return nil, fmt.Errorf("blockchain: loading current chain hash: %w", err)
	}
	headBlock, err := st.FetchBlockByHash(currentHash)
	if err != nil {
		return nil, err
	}

	headRows, err := st.RecentHeads(recentHeadsDepth)
	if err != nil {
		return nil, err
	}
	heads := make(map[chainhash.Hash]*wire.Block, len(headRows))
	for _, row := range headRows {
		block, err := st.FetchBlockByID(row.BlockID)
		if err != nil {
			return nil, err
		}
		heads[row.BlockHash] = block
	}

	return &CoinState{
		store:             st,
		currentChainHash:  currentHash,
		headBlock:         headBlock,
		heads:             heads,
		blockHashIndex:    index,
		immutabilityFence: fence,
	}, nil
}

// Head returns the canonical tip's summary.
func (cs *CoinState) Head() *wire.BlockSummary {
	return &cs.headBlock.Header.Summary
}

// HeadBlock returns the canonical tip.
func (cs *CoinState) HeadBlock() *wire.Block {
	return cs.headBlock
}

// HasBlockHash reports whether hash is known to this snapshot. A block
// added to the index after this CoinState's immutability fence was
// established is invisible, even though it may already be sitting in
// the shared index map.
func (cs *CoinState) HasBlockHash(hash chainhash.Hash) bool {
	e, ok := cs.blockHashIndex[hash]
	if !ok {
		return false
	}
	return e.blockID <= cs.immutabilityFence
}

// AddBlockBatch writes blocks to the store and folds them into a new
// CoinState one at a time, discarding any block that doesn't connect
// to a block already known (directly, via the batch itself, or by
// being the height-0 genesis). The original CoinState is left
// untouched.
func (cs *CoinState) AddBlockBatch(blocks []*wire.Block) (*CoinState, error) {
	kept := make([]*wire.Block, 0, len(blocks))
	for i, block := range blocks {
		connects := cs.HasBlockHash(block.Header.Summary.PreviousBlockHash) ||
			block.Height() == 0 ||
			(i > 0 && blocks[i-1].Hash() == block.Header.Summary.PreviousBlockHash)
		if connects {
			kept = append(kept, block)
		}
	}
	if len(kept) == 0 {
		return cs, nil
	}

	ids, err := cs.store.WriteBlocks(kept)
	if err != nil {
		return nil, err
	}

	next := cs
	for i, block := range kept {
		next = next.addBlockNoValidation(block, ids[i])
	}
	return next, nil
}

// addBlockNoValidation folds a single already-persisted block into a
// new CoinState, applying the fork-choice rule: extend the current
// chain directly when possible, otherwise adopt the new block only if
// it is taller, or equally tall with a lexicographically smaller hash
// (spec.md §4.F; the lowest-hash tie-break discourages the kind of
// micro-fork thrashing a first-seen rule invites).
func (cs *CoinState) addBlockNoValidation(block *wire.Block, blockID int64) *CoinState {
	next := &CoinState{
		store:             cs.store,
		immutabilityFence: blockID,
	}

	switch {
	case cs.currentChainHash.IsZero() && cs.headBlock == nil:
		next.currentChainHash = block.Hash()
		next.headBlock = block
	case cs.currentChainHash == block.Header.Summary.PreviousBlockHash:
		next.currentChainHash = block.Hash()
		next.headBlock = block
	case block.Height() > cs.headBlock.Height() ||
		(block.Height() == cs.headBlock.Height() && block.Hash().Less(cs.headBlock.Hash())):
		Log.Infof("chain tip changed from %s (height %d) to %s (height %d)",
			cs.headBlock.Hash(), cs.headBlock.Height(), block.Hash(), block.Height())
		next.currentChainHash = block.Hash()
		next.headBlock = block
	default:
		next.currentChainHash = cs.currentChainHash
		next.headBlock = cs.headBlock
	}

	next.heads = make(map[chainhash.Hash]*wire.Block, len(cs.heads)+1)
	for h, b := range cs.heads {
		next.heads[h] = b
	}
	next.heads[block.Hash()] = block
	delete(next.heads, block.Header.Summary.PreviousBlockHash)

	if next.immutabilityFence > cs.immutabilityFence {
		// No earlier snapshot can have cached a path through a block
		// that didn't exist yet, so the index can be shared as-is.
		next.blockHashIndex = cs.blockHashIndex
	} else {
		next.blockHashIndex = make(map[chainhash.Hash]indexEntry, len(cs.blockHashIndex))
		for h, e := range cs.blockHashIndex {
			next.blockHashIndex[h] = e
		}
		next.immutabilityFence = cs.immutabilityFence
	}

	var previousBlockID int64
	if cs.HasBlockHash(block.Header.Summary.PreviousBlockHash) {
		previousBlockID = cs.blockHashIndex[block.Header.Summary.PreviousBlockHash].blockID
	} else if block.Height() != 0 {
		panic("blockchain: non-genesis block accepted with unknown parent")
	}
	next.blockHashIndex[block.Hash()] = indexEntry{blockID: blockID, previousBlockID: previousBlockID}

	return next
}

// getBlockIDPath returns the list of database block ids from genesis
// up to and including atHash, indexed by height.
func (cs *CoinState) getBlockIDPath(atHash chainhash.Hash) ([]int64, error) {
	if cs.cachedPath != nil && atHash == cs.currentChainHash {
		return cs.cachedPath, nil
	}

	entry, ok := cs.blockHashIndex[atHash]
	if !ok {
		return nil, fmt.Errorf("blockchain: no path found to block hash %s", atHash)
	}

	var path []int64
	next := entry.blockID
	for next != 0 {
		path = append([]int64{next}, path...)
		e, found := cs.findByBlockID(next)
		if !found {
			break
		}
		next = e.previousBlockID
	}

	if atHash == cs.currentChainHash {
		cs.cachedPath = path
	}
	return path, nil
}

// findByBlockID is a linear fallback used only while walking
// getBlockIDPath; blockHashIndex is keyed by hash, not id, since hash
// lookups dominate in practice (every other caller has a hash, not an
// id, in hand).
func (cs *CoinState) findByBlockID(id int64) (indexEntry, bool) {
	for _, e := range cs.blockHashIndex {
		if e.blockID == id {
			return e, true
		}
	}
	return indexEntry{}, false
}

// BlockAtHeight implements consensus.ChainView against the canonical
// chain.
func (cs *CoinState) BlockAtHeight(height uint64) (*wire.Block, error) {
	return cs.BlockAtHeightOnChain(cs.currentChainHash, height)
}

// BlockAtHeightOnChain returns the block at height on the chain ending
// at headHash.
func (cs *CoinState) BlockAtHeightOnChain(headHash chainhash.Hash, height uint64) (*wire.Block, error) {
	path, err := cs.getBlockIDPath(headHash)
	if err != nil {
		return nil, err
	}
	if height >= uint64(len(path)) {
		return nil, fmt.Errorf("blockchain: no block at height %d on chain %s", height, headHash)
	}
	return cs.store.FetchBlockByID(path[height])
}

// UnspentOutput resolves ref against the canonical chain's unspent set.
func (cs *CoinState) UnspentOutput(ref wire.OutputReference) (wire.Output, bool) {
	out, ok, err := cs.store.UnspentOutput(cs.currentChainHash, ref)
	if err != nil {
		return wire.Output{}, false
	}
	return out, ok
}

// candidateContext implements consensus.BlockContext for a candidate
// block extending the chain at parentHash.
type candidateContext struct {
	cs         *CoinState
	parentHash chainhash.Hash
}

// NewCandidateContext returns the consensus.BlockContext a candidate
// block extending parentHash should be validated against.
func (cs *CoinState) NewCandidateContext(parentHash chainhash.Hash) consensus.BlockContext {
	return &candidateContext{cs: cs, parentHash: parentHash}
}

func (c *candidateContext) BlockAtHeight(height uint64) (*wire.Block, error) {
	return c.cs.BlockAtHeightOnChain(c.parentHash, height)
}

func (c *candidateContext) ParentSummary() (*wire.BlockSummary, bool) {
	if !c.cs.HasBlockHash(c.parentHash) {
		return nil, false
	}
	block, err := c.cs.store.FetchBlockByHash(c.parentHash)
	if err != nil {
		return nil, false
	}
	return &block.Header.Summary, true
}

func (c *candidateContext) UnspentOutput(ref wire.OutputReference) (wire.Output, bool) {
	out, ok, err := c.cs.store.UnspentOutput(c.parentHash, ref)
	if err != nil {
		return wire.Output{}, false
	}
	return out, ok
}

// ForkPoint describes a non-canonical head and the block at which it
// diverges from the canonical chain.
type ForkPoint struct {
	Head               *wire.Block
	CommonAncestorHash chainhash.Hash
}

// Forks reports every tracked head within depth blocks of the tip,
// other than the canonical one itself, along with where it branched
// off.
func (cs *CoinState) Forks(depth uint64) []ForkPoint {
	type byHeight struct {
		hash  chainhash.Hash
		block *wire.Block
	}
	candidates := make([]byHeight, 0, len(cs.heads))
	for h, b := range cs.heads {
		candidates = append(candidates, byHeight{h, b})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].block.Height() > candidates[j].block.Height() })

	var forks []ForkPoint
	for _, c := range candidates {
		if c.hash == cs.currentChainHash {
			continue
		}
		if c.block.Height()+depth < cs.headBlock.Height() {
			continue
		}
		ancestor, ok := cs.findCommonAncestor(c.hash, cs.currentChainHash)
		if !ok {
			continue
		}
		forks = append(forks, ForkPoint{Head: c.block, CommonAncestorHash: ancestor})
	}
	return forks
}

func (cs *CoinState) findCommonAncestor(left, right chainhash.Hash) (chainhash.Hash, bool) {
	leftPath, err := cs.getBlockIDPath(left)
	if err != nil {
		return chainhash.Hash{}, false
	}
	rightPath, err := cs.getBlockIDPath(right)
	if err != nil {
		return chainhash.Hash{}, false
	}
	shortest := len(leftPath)
	if len(rightPath) < shortest {
		shortest = len(rightPath)
	}
	var lastCommon int64
	for i := 0; i < shortest; i++ {
		if leftPath[i] != rightPath[i] {
			break
		}
		lastCommon = leftPath[i]
	}
	if lastCommon == 0 {
		return chainhash.Hash{}, false
	}
	for h, e := range cs.blockHashIndex {
		if e.blockID == lastCommon {
			return h, true
		}
	}
	return chainhash.Hash{}, false
}

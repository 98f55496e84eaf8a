// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"github.com/decred/dcrd/lru"

	"github.com/skepticoin/skepticoin/chainhash"
)

// SeenFilter is a capacity-bounded record of hashes this node has
// already announced or requested, so a flood of duplicate Inventory
// items (block hashes already on disk, transactions already re-gossiped
// back by a peer that just received them) doesn't trigger repeated
// GetData round-trips.
type SeenFilter struct {
	cache lru.KVCache
}

// NewSeenFilter creates a SeenFilter remembering at most maxEntries
// hashes.
func NewSeenFilter(maxEntries uint) *SeenFilter {
	return &SeenFilter{cache: lru.NewKVCache(maxEntries)}
}

// Seen reports whether hash has already been recorded.
func (f *SeenFilter) Seen(hash chainhash.Hash) bool {
	_, ok := f.cache.Lookup(hash)
	return ok
}

// MarkSeen records hash, evicting the least recently used entry if the
// filter is at capacity.
func (f *SeenFilter) MarkSeen(hash chainhash.Hash) {
	f.cache.Add(hash, struct{}{})
}

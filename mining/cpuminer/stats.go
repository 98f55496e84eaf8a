// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cpuminer

import (
	"math/big"
	"sync/atomic"
	"time"

	"github.com/skepticoin/skepticoin/wire"
)

// stats aggregates hash-rate counters across every worker for periodic
// reporting, the Go counterpart of original_source's scripts/mine.py
// stats block (SPEC_FULL.md §4, "SKEPTI/hour" aggregation).
type stats struct {
	windowStart time.Time
	hashes      atomic.Uint64
}

func newStats() *stats {
	return &stats{windowStart: time.Now()}
}

func (s *stats) recordAttempt() {
	s.hashes.Add(1)
}

// hashesPerSecond reports the mean hash rate since the window was last
// reset.
func (s *stats) hashesPerSecond() float64 {
	elapsed := time.Since(s.windowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.hashes.Load()) / elapsed
}

// reset zeroes the counter and restarts the measurement window, called
// after each periodic report so the next figure reflects the most
// recent interval rather than a lifetime average.
func (s *stats) reset() {
	s.hashes.Store(0)
	s.windowStart = time.Now()
}

// expectedSashimiPerHour estimates this node's solo-mining income at
// hashesPerSecond against target: the expected number of hashes needed
// to find one block is 2^256/target, so blocks-per-hour follows
// directly, and each is worth subsidySashimi.
func expectedSashimiPerHour(hashesPerSecond float64, target [wire.TargetSize]byte, subsidySashimi uint64) float64 {
	targetInt := new(big.Int).SetBytes(target[:])
	if targetInt.Sign() == 0 || hashesPerSecond <= 0 {
		return 0
	}
	maxHash := new(big.Int).Lsh(big.NewInt(1), 256)
	expectedHashesPerBlock := new(big.Float).Quo(new(big.Float).SetInt(maxHash), new(big.Float).SetInt(targetInt))
	expected, _ := expectedHashesPerBlock.Float64()
	if expected <= 0 {
		return 0
	}
	blocksPerHour := hashesPerSecond * 3600 / expected
	return blocksPerHour * float64(subsidySashimi)
}

// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consensus

import (
	"encoding/binary"
	"math/big"

	"golang.org/x/crypto/scrypt"

	"github.com/skepticoin/skepticoin/chaincfg"
	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/wire"
)

// scrypt cost parameters for the summary hash (spec.md §4.D). N is
// deliberately memory-hard; r and p are the usual defaults.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ChainView is the read-only chain access a miner or validator needs to
// construct or check a block's chain sample. blockchain.CoinState
// satisfies it; consensus never reaches into storage itself so that
// blockchain can depend on consensus without a cycle.
type ChainView interface {
	// BlockAtHeight returns the block at the given height on the
	// relevant chain, or an error if none exists there yet.
	BlockAtHeight(height uint64) (*wire.Block, error)
}

// SummaryHash computes the scrypt "summary hash" of a block summary at
// the given height. This is the expensive step of the proof of work;
// everything after it is comparatively cheap, which is what lets the
// chain sample and final commitment be recomputed quickly during
// validation. The height, encoded as 8 big-endian bytes, is scrypt's
// salt; the nonce varies the input through Serialize.
func SummaryHash(summary *wire.BlockSummary, height uint64) (chainhash.Hash, error) {
	var salt [8]byte
	binary.BigEndian.PutUint64(salt[:], height)
	raw, err := scrypt.Key(summary.Serialize(), salt[:], scryptN, scryptR, scryptP, chainhash.HashSize)
	if err != nil {
		return chainhash.Hash{}, err
	}
	var h chainhash.Hash
	copy(h[:], raw)
	return h, nil
}

// selectBlockHeight picks the height a chain-sample chunk is drawn from,
// derived from the first 8 bytes of hash modulo the current chain
// height (spec.md §4.D; original pow.py's select_block_height).
func selectBlockHeight(hash chainhash.Hash, currentHeight uint64) uint64 {
	if currentHeight == 0 {
		return 0
	}
	return binary.BigEndian.Uint64(hash[:8]) % currentHeight
}

// selectBlockSlice picks a length-byte window out of serializedBlock,
// starting at an offset derived from hash[8:12] and wrapping around to
// the start of the buffer if the window would run off the end.
func selectBlockSlice(hash chainhash.Hash, serializedBlock []byte, length int) []byte {
	start := int(binary.BigEndian.Uint32(hash[8:12])) % len(serializedBlock)
	out := make([]byte, 0, length)
	for i := 0; i < length; i++ {
		out = append(out, serializedBlock[(start+i)%len(serializedBlock)])
	}
	return out
}

// selectSliceFromChain draws a single SampleSize-byte slice from the
// block at the height selected by hash.
func selectSliceFromChain(hash chainhash.Hash, currentHeight uint64, chain ChainView, length int) ([]byte, error) {
	height := selectBlockHeight(hash, currentHeight)
	block, err := chain.BlockAtHeight(height)
	if err != nil {
		return nil, err
	}
	return selectBlockSlice(hash, block.Serialize(), length), nil
}

// ConstructChainSample builds the SampleCount*SampleSize-byte chain
// sample for a block being mined or validated at currentHeight, seeded
// by the block's summary hash. Each chunk after the first re-seeds the
// selection hash with sha256d(runningHash || chunk), so a miner cannot
// predict later chunks without actually fetching the chain (spec.md
// §4.D; original pow.py's select_n_k_length_slices_from_chain).
func ConstructChainSample(summaryHash chainhash.Hash, currentHeight uint64, chain ChainView) ([wire.SampleTotal]byte, error) {
	var sample [wire.SampleTotal]byte
	runningHash := summaryHash
	for i := 0; i < wire.SampleCount; i++ {
		chunk, err := selectSliceFromChain(runningHash, currentHeight, chain, wire.SampleSize)
		if err != nil {
			return sample, err
		}
		copy(sample[i*wire.SampleSize:], chunk)
		if i != wire.SampleCount-1 {
			runningHash = chainhash.DoubleHashH(append(runningHash.CloneBytes(), chunk...))
		}
	}
	return sample, nil
}

// ConstructPowEvidence computes the full PowEvidence for summary and the
// transactions it commits to: the scrypt summary hash, the chain sample
// drawn from it, and the final blake2b block-hash commitment over all
// three of summary, sample, and serialized transactions.
func ConstructPowEvidence(summary *wire.BlockSummary, txs []*wire.Transaction, chain ChainView) (*wire.PowEvidence, error) {
	summaryHash, err := SummaryHash(summary, summary.Height)
	if err != nil {
		return nil, err
	}
	return ConstructPowEvidenceFromSummaryHash(summaryHash, summary, txs, chain)
}

// ConstructPowEvidenceFromSummaryHash builds the PowEvidence for summary
// given a summary hash that was already computed elsewhere. A mining
// worker does the expensive scrypt step itself and hands the result
// back to its supervisor (spec.md §4.K); reconstructing the evidence
// from that hash, rather than going through ConstructPowEvidence, spares
// the supervisor from repeating the scrypt call per candidate nonce.
func ConstructPowEvidenceFromSummaryHash(summaryHash chainhash.Hash, summary *wire.BlockSummary, txs []*wire.Transaction, chain ChainView) (*wire.PowEvidence, error) {
	var sample [wire.SampleTotal]byte
	var err error
	if summary.Height != 0 {
		sample, err = ConstructChainSample(summaryHash, summary.Height, chain)
		if err != nil {
			return nil, err
		}
	}
	blockHash := chainhash.Blake2b256(summaryHash[:], sample[:], wire.SerializeList(txs))
	return &wire.PowEvidence{
		SummaryHash: summaryHash,
		ChainSample: sample,
		BlockHash:   blockHash,
	}, nil
}

// ValidateProofOfWork checks that a block hash satisfies its target:
// hash, read as a big-endian integer, must be strictly less than
// target.
func ValidateProofOfWork(blockHash chainhash.Hash, target [wire.TargetSize]byte) error {
	h := new(big.Int).SetBytes(blockHash[:])
	t := new(big.Int).SetBytes(target[:])
	if h.Cmp(t) >= 0 {
		return ruleErrorf(ErrValidatePOW, "block hash %s does not beat target %x", blockHash, target)
	}
	return nil
}

// CalculateNewTarget computes the retargeted difficulty given the
// previous target and the wall-clock time actually elapsed, in seconds,
// over the most recent retargeting interval. The result is clamped to
// chaincfg.MaxTarget. Multiplication happens before division to avoid
// losing precision (original consensus.py's calculate_new_target).
func CalculateNewTarget(prevTarget [wire.TargetSize]byte, actualTimePassed int64) [wire.TargetSize]byte {
	prev := new(big.Int).SetBytes(prevTarget[:])
	elapsed := big.NewInt(actualTimePassed)
	newTarget := new(big.Int).Mul(prev, elapsed)
	newTarget.Div(newTarget, big.NewInt(chaincfg.DesiredTargetReadjustmentTimespan))

	max := new(big.Int).SetBytes(chaincfg.MaxTarget[:])
	if newTarget.Cmp(max) > 0 {
		newTarget = max
	}

	var out [wire.TargetSize]byte
	newTarget.FillBytes(out[:])
	return out
}

// CalcTarget determines the target a block at height must carry, given
// its immediate parent's summary and chain access to look up the start
// of the current retargeting interval. Outside a retargeting boundary,
// the target is simply inherited from the parent (spec.md §4.D).
func CalcTarget(height uint64, parent *wire.BlockSummary, chain ChainView) ([wire.TargetSize]byte, error) {
	if height == 0 {
		return chaincfg.InitialTarget, nil
	}
	if height%chaincfg.BlocksBetweenTargetReadjustment != 0 {
		return parent.Target, nil
	}
	intervalStartHeight := height - chaincfg.BlocksBetweenTargetReadjustment
	startBlock, err := chain.BlockAtHeight(intervalStartHeight)
	if err != nil {
		return [wire.TargetSize]byte{}, err
	}
	actualTimePassed := int64(parent.Timestamp) - int64(startBlock.Header.Summary.Timestamp)
	return CalculateNewTarget(parent.Target, actualTimePassed), nil
}

// GetBlockSubsidy returns the coinbase subsidy, in sashimi, for a block
// at the given height: it halves every chaincfg.SubsidyHalvingInterval
// blocks and drops to zero after 64 halvings.
func GetBlockSubsidy(height uint64) uint64 {
	halvings := height / chaincfg.SubsidyHalvingInterval
	if halvings >= 64 {
		return 0
	}
	return uint64(chaincfg.InitialSubsidy) >> halvings
}

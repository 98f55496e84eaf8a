// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/skepticoin/skepticoin/chainhash"
)

// SampleCount and SampleSize determine the total size of a PowEvidence's
// chain sample: SampleCount chunks of SampleSize bytes each, drawn from
// past blocks to prove the miner had chain access (spec.md §4.D).
const (
	SampleCount = 8
	SampleSize  = 4
	SampleTotal = SampleCount * SampleSize
)

// TargetSize is the byte width of a block's target and of the PoW
// block hash it is compared against.
const TargetSize = 32

// BlockSummary is the consensus-critical header content that is fed into
// the proof-of-work summary hash.
type BlockSummary struct {
	Height            uint64
	PreviousBlockHash chainhash.Hash
	MerkleRootHash    chainhash.Hash
	Timestamp         uint32
	Target            [TargetSize]byte
	Nonce             uint32
}

// Serialize returns the canonical byte encoding of the summary.
func (s *BlockSummary) Serialize() []byte {
	buf := make([]byte, 0, 10+chainhash.HashSize*2+4+TargetSize+4)
	buf = putVLQ(buf, s.Height)
	buf = append(buf, s.PreviousBlockHash[:]...)
	buf = append(buf, s.MerkleRootHash[:]...)
	buf = putUint32BE(buf, s.Timestamp)
	buf = append(buf, s.Target[:]...)
	buf = putUint32BE(buf, s.Nonce)
	return buf
}

// Hash returns sha256d(Serialize()).
func (s *BlockSummary) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(s.Serialize())
}

// DeserializeBlockSummary reads a BlockSummary from r.
func DeserializeBlockSummary(r io.Reader) (*BlockSummary, error) {
	s := &BlockSummary{}
	height, err := readVLQ(r)
	if err != nil {
		return nil, err
	}
	s.Height = height

	prev, err := safeRead(r, chainhash.HashSize)
	if err != nil {
		return nil, err
	}
	copy(s.PreviousBlockHash[:], prev)

	merkle, err := safeRead(r, chainhash.HashSize)
	if err != nil {
		return nil, err
	}
	copy(s.MerkleRootHash[:], merkle)

	ts, err := safeRead(r, 4)
	if err != nil {
		return nil, err
	}
	s.Timestamp = beUint32(ts)

	target, err := safeRead(r, TargetSize)
	if err != nil {
		return nil, err
	}
	copy(s.Target[:], target)

	nonce, err := safeRead(r, 4)
	if err != nil {
		return nil, err
	}
	s.Nonce = beUint32(nonce)

	return s, nil
}

// PowEvidence is the proof that a given BlockSummary's nonce produces a
// valid block hash: the expensive scrypt summary hash, the chain sample
// drawn from it, and the final commitment hash over summary+sample+txs.
type PowEvidence struct {
	SummaryHash chainhash.Hash
	ChainSample [SampleTotal]byte
	BlockHash   chainhash.Hash
}

func (e *PowEvidence) serialize(buf []byte) []byte {
	buf = append(buf, e.SummaryHash[:]...)
	buf = append(buf, e.ChainSample[:]...)
	buf = append(buf, e.BlockHash[:]...)
	return buf
}

func readPowEvidence(r io.Reader) (*PowEvidence, error) {
	e := &PowEvidence{}
	sh, err := safeRead(r, chainhash.HashSize)
	if err != nil {
		return nil, err
	}
	copy(e.SummaryHash[:], sh)

	sample, err := safeRead(r, SampleTotal)
	if err != nil {
		return nil, err
	}
	copy(e.ChainSample[:], sample)

	bh, err := safeRead(r, chainhash.HashSize)
	if err != nil {
		return nil, err
	}
	copy(e.BlockHash[:], bh)

	return e, nil
}

// BlockHeader bundles the version, summary and PoW evidence of a block.
type BlockHeader struct {
	Version     uint8
	Summary     BlockSummary
	PowEvidence PowEvidence
}

// Serialize returns the canonical byte encoding of the header.
func (h *BlockHeader) Serialize() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, h.Version)
	buf = append(buf, h.Summary.Serialize()...)
	buf = h.PowEvidence.serialize(buf)
	return buf
}

// Hash returns sha256d(Serialize()), the block's identifier.
func (h *BlockHeader) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(h.Serialize())
}

// DeserializeBlockHeader reads a BlockHeader from r.
func DeserializeBlockHeader(r io.Reader) (*BlockHeader, error) {
	versionB, err := safeRead(r, 1)
	if err != nil {
		return nil, err
	}
	summary, err := DeserializeBlockSummary(r)
	if err != nil {
		return nil, err
	}
	evidence, err := readPowEvidence(r)
	if err != nil {
		return nil, err
	}
	return &BlockHeader{Version: versionB[0], Summary: *summary, PowEvidence: *evidence}, nil
}

// Block is a header plus its non-empty list of transactions, the first
// of which must be the coinbase.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// Serialize returns the canonical byte encoding of the block.
func (b *Block) Serialize() []byte {
	buf := b.Header.Serialize()
	buf = append(buf, SerializeList(b.Transactions)...)
	return buf
}

// Hash returns the block's identifier, which is its header's hash.
func (b *Block) Hash() chainhash.Hash {
	return b.Header.Hash()
}

// Height returns the block's claimed height from its summary.
func (b *Block) Height() uint64 {
	return b.Header.Summary.Height
}

// Coinbase returns the block's first transaction.
func (b *Block) Coinbase() *Transaction {
	return b.Transactions[0]
}

// DeserializeBlock reads a Block from r.
func DeserializeBlock(r io.Reader) (*Block, error) {
	header, err := DeserializeBlockHeader(r)
	if err != nil {
		return nil, err
	}
	count, err := readVLQ(r)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("wire: block has no transactions")
	}
	txs := make([]*Transaction, count)
	for i := range txs {
		tx, err := DeserializeTransaction(r)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return &Block{Header: *header, Transactions: txs}, nil
}

// MerkleRoot computes the Merkle root over the hashes of txs using
// sha256d pairwise concatenation; an odd trailing leaf is promoted
// unchanged to the next level (spec.md §3).
func MerkleRoot(txs []*Transaction) chainhash.Hash {
	level := make([]chainhash.Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash()
	}
	return merkleRootOfHashes(level)
}

func merkleRootOfHashes(level []chainhash.Hash) chainhash.Hash {
	if len(level) == 0 {
		return chainhash.ZeroHash
	}
	for len(level) > 1 {
		next := make([]chainhash.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			concat := make([]byte, 0, chainhash.HashSize*2)
			concat = append(concat, level[i][:]...)
			concat = append(concat, level[i+1][:]...)
			next = append(next, chainhash.DoubleHashH(concat))
		}
		level = next
	}
	return level[0]
}

// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consensus

import (
	"github.com/skepticoin/skepticoin/chaincfg"
	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/wire"
)

// UnspentOutputFunc resolves an output reference against whatever
// unspent-output snapshot a caller has in scope. Callers validating a
// transaction against a coinstate pass a closure bound to the relevant
// block hash; callers doing only stateless checks never need one.
type UnspentOutputFunc func(ref wire.OutputReference) (wire.Output, bool)

// BlockContext is the chain access ValidateBlockInCoinstate needs to
// check a candidate block against the chain it extends: the ability to
// fetch ancestor blocks by height (for retargeting and the chain
// sample), the immediate parent's summary, and the unspent-output set
// as of that parent. blockchain.CoinState builds one of these scoped
// to a specific candidate block before calling into this package.
type BlockContext interface {
	ChainView

	// ParentSummary returns the summary of the block the candidate
	// extends.
	ParentSummary() (*wire.BlockSummary, bool)

	// UnspentOutput resolves ref against the unspent-output set as of
	// the parent block.
	UnspentOutput(ref wire.OutputReference) (wire.Output, bool)
}

// ValidateSashimiRange checks that value is a positive amount no larger
// than the maximum representable supply.
func ValidateSashimiRange(value uint64) error {
	if value == 0 || value > chaincfg.MaxSashimi {
		return ruleError(ErrValidateTransaction, "value out of range")
	}
	return nil
}

// ValidateNonCoinbaseTransactionByItself performs every check on tx
// that does not require chain context.
func ValidateNonCoinbaseTransactionByItself(tx *wire.Transaction) error {
	if len(tx.Inputs) == 0 {
		return ruleError(ErrValidateTransaction, "no inputs")
	}
	if len(tx.Outputs) == 0 {
		return ruleError(ErrValidateTransaction, "no outputs")
	}
	if len(tx.Serialize()) > chaincfg.MaxBlockSize {
		return ruleError(ErrValidateTransaction, "transaction > MaxBlockSize")
	}

	var totalOutput uint64
	for _, out := range tx.Outputs {
		if err := ValidateSashimiRange(out.Value); err != nil {
			return err
		}
		totalOutput += out.Value
	}
	if err := ValidateSashimiRange(totalOutput); err != nil {
		return err
	}

	seen := make(map[wire.OutputReference]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, ok := seen[in.OutputReference]; ok {
			return ruleError(ErrValidateTransaction, "single output reference spent more than once in the same transaction")
		}
		seen[in.OutputReference] = struct{}{}
	}

	for _, in := range tx.Inputs {
		if in.OutputReference.IsThinAir() {
			return ruleError(ErrValidateTransaction, "coinbase-like null reference in non-coinbase transaction")
		}
		if in.Signature.Tag() == wire.SigTagSignableEquivalent {
			return ruleError(ErrValidateTransaction, "placeholder signature used where a real one is expected")
		}
	}
	return nil
}

// ValidateCoinbaseTransactionByItself performs every check on a
// coinbase transaction that does not require chain context. The check
// that its claimed height matches the block's height lives in
// ValidateBlockByItself, since only the block knows its own height.
func ValidateCoinbaseTransactionByItself(tx *wire.Transaction) error {
	if len(tx.Inputs) != 1 {
		return ruleError(ErrValidateTransaction, "coinbase transaction should have precisely 1 input")
	}
	if !tx.Inputs[0].OutputReference.IsThinAir() {
		return ruleError(ErrValidateTransaction, "coinbase must create its value out of thin air")
	}
	coinbaseSig, ok := tx.Inputs[0].Signature.(wire.CoinbaseSignature)
	if !ok {
		return ruleError(ErrValidateTransaction, "a coinbase transaction should carry CoinbaseData")
	}
	if len(coinbaseSig.Data) > wire.MaxCoinbaseRandomDataSize {
		return ruleError(ErrValidateTransaction, "random data > MaxCoinbaseRandomDataSize")
	}
	return nil
}

// ValidateBlockHeaderByItself checks the header's proof of work and
// that its timestamp is not unreasonably far in the future.
func ValidateBlockHeaderByItself(header *wire.BlockHeader, currentTimestamp uint32) error {
	if err := ValidateProofOfWork(header.PowEvidence.BlockHash, header.Summary.Target); err != nil {
		return err
	}
	if header.Summary.Timestamp > currentTimestamp+chaincfg.MaxFutureBlockTime {
		return ruleError(ErrValidateBlockHeader, "block timestamp in the future")
	}
	return nil
}

// ValidateNoDuplicateTransactions checks that no two transactions in
// txs hash the same.
func ValidateNoDuplicateTransactions(txs []*wire.Transaction) error {
	seen := make(map[chainhash.Hash]struct{}, len(txs))
	for _, tx := range txs {
		h := tx.Hash()
		if _, ok := seen[h]; ok {
			return ruleError(ErrValidateTransaction, "duplicate transaction")
		}
		seen[h] = struct{}{}
	}
	return nil
}

// ValidateNoDuplicateOutputReferences checks that no output reference
// is spent by more than one input across all of txs.
func ValidateNoDuplicateOutputReferences(txs []*wire.Transaction) error {
	seen := make(map[wire.OutputReference]struct{})
	for _, tx := range txs {
		for _, in := range tx.Inputs {
			if _, ok := seen[in.OutputReference]; ok {
				return ruleError(ErrValidateTransaction, "duplicate output reference across transactions")
			}
			seen[in.OutputReference] = struct{}{}
		}
	}
	return nil
}

// ValidateBlockByItself performs every check on block that does not
// require chain context: header validity, size, the coinbase's shape
// and claimed height, every other transaction's by-itself validity,
// absence of duplicate transactions or output references, and the
// Merkle root.
func ValidateBlockByItself(block *wire.Block, currentTimestamp uint32) error {
	if err := ValidateBlockHeaderByItself(&block.Header, currentTimestamp); err != nil {
		return err
	}
	if len(block.Transactions) == 0 {
		return ruleError(ErrValidateBlock, "no transactions in block")
	}
	if len(block.Serialize()) > chaincfg.MaxBlockSize {
		return ruleError(ErrValidateBlock, "block > MaxBlockSize")
	}

	coinbase := block.Transactions[0]
	if err := ValidateCoinbaseTransactionByItself(coinbase); err != nil {
		return err
	}
	coinbaseSig := coinbase.Inputs[0].Signature.(wire.CoinbaseSignature)
	if uint64(coinbaseSig.Height) != block.Height() {
		return ruleError(ErrValidateBlock, "block height does not match coinbase height")
	}

	rest := block.Transactions[1:]
	for _, tx := range rest {
		if err := ValidateNonCoinbaseTransactionByItself(tx); err != nil {
			return err
		}
	}
	if err := ValidateNoDuplicateTransactions(rest); err != nil {
		return err
	}
	if err := ValidateNoDuplicateOutputReferences(rest); err != nil {
		return err
	}

	if block.Header.Summary.MerkleRootHash != wire.MerkleRoot(block.Transactions) {
		return ruleError(ErrValidateBlock, "incorrect merkle root hash")
	}
	return nil
}

// GetTransactionFee computes the fee a transaction pays: the sum of
// its spent outputs' values minus the sum of its created outputs'
// values. It assumes tx has already passed by-itself and in-coinstate
// validation.
func GetTransactionFee(tx *wire.Transaction, unspent UnspentOutputFunc) (int64, error) {
	var totalIn int64
	for _, in := range tx.Inputs {
		out, ok := unspent(in.OutputReference)
		if !ok {
			return 0, ruleError(ErrValidateTransaction, "input's output reference does not exist as an unspent out")
		}
		totalIn += int64(out.Value)
	}
	return totalIn - int64(tx.TotalOutputValue()), nil
}

// GetBlockFees sums GetTransactionFee across every non-coinbase
// transaction in a block. Intra-block spending is illegal (checked by
// ValidateNoDuplicateOutputReferences), so unspent does not need to be
// refreshed between transactions.
func GetBlockFees(nonCoinbaseTxs []*wire.Transaction, unspent UnspentOutputFunc) (int64, error) {
	var total int64
	for _, tx := range nonCoinbaseTxs {
		fee, err := GetTransactionFee(tx, unspent)
		if err != nil {
			return 0, err
		}
		total += fee
	}
	return total, nil
}

// ValidateCoinbaseTransactionInCoinstate checks that a block's
// coinbase does not claim more value than the subsidy plus the fees
// collected from the block's other transactions.
func ValidateCoinbaseTransactionInCoinstate(coinbase *wire.Transaction, height uint64, otherTxs []*wire.Transaction, unspent UnspentOutputFunc) error {
	fees, err := GetBlockFees(otherTxs, unspent)
	if err != nil {
		return err
	}
	subsidy := int64(GetBlockSubsidy(height))
	if int64(coinbase.TotalOutputValue()) > fees+subsidy {
		return ruleError(ErrValidateTransaction, "coinbase transaction overspends subsidy and fees")
	}
	return nil
}

// ValidateNonCoinbaseTransactionInCoinstate checks that every input
// spends an output that actually exists unspent, that every spend's
// signature is valid, and that the transaction does not spend more
// than it receives. Unlike Bitcoin, there is no coinbase maturity
// rule: a transaction may spend an output the instant it confirms.
func ValidateNonCoinbaseTransactionInCoinstate(tx *wire.Transaction, unspent UnspentOutputFunc, sigCache *SigCache) error {
	var totalIn uint64
	for _, in := range tx.Inputs {
		out, ok := unspent(in.OutputReference)
		if !ok {
			return ruleError(ErrValidateTransaction, "input's output reference does not exist as an unspent out")
		}
		if err := ValidateSignatureForSpendCached(sigCache, in, out, tx); err != nil {
			return err
		}
		totalIn += out.Value
	}
	if tx.TotalOutputValue() > totalIn {
		return ruleError(ErrValidateTransaction, "transaction overspending")
	}
	return nil
}

// ValidateBlockSummaryInCoinstate checks a candidate block's summary
// against the chain it claims to extend: the parent must be known,
// the timestamp must strictly increase, and the target must match
// what CalcTarget computes.
func ValidateBlockSummaryInCoinstate(summary *wire.BlockSummary, ctx BlockContext) error {
	parent, ok := ctx.ParentSummary()
	if !ok {
		return ruleError(ErrValidateBlockHeader, "previous block hash unknown")
	}
	if summary.Timestamp <= parent.Timestamp {
		return ruleError(ErrValidateBlockHeader, "timestamps must be strictly increasing")
	}
	calculatedTarget, err := CalcTarget(parent.Height+1, parent, ctx)
	if err != nil {
		return err
	}
	if summary.Target != calculatedTarget {
		return ruleError(ErrValidateBlockHeader, "block's reported target incorrect")
	}
	return nil
}

// ValidateBlockInCoinstate performs every check on block that requires
// knowing the chain it extends: the checkpoint rule for heights at or
// below chaincfg.MaxKnownHashHeight, and otherwise full summary,
// proof-of-work-evidence, coinbase and non-coinbase in-coinstate
// validation. Callers must have already called ValidateBlockByItself.
func ValidateBlockInCoinstate(block *wire.Block, ctx BlockContext, sigCache *SigCache) error {
	height := block.Height()
	if height <= chaincfg.MaxKnownHashHeight {
		if known, ok := chaincfg.KnownHashes[height]; ok && block.Hash() != known {
			Log.Warnf("rejecting block %s at checkpointed height %d: expected %s", block.Hash(), height, known)
			return ruleErrorf(ErrValidateBlock, "no forks allowed before block %d", chaincfg.MaxKnownHashHeight)
		}
		// In-coinstate validation is skipped below the checkpoint
		// height entirely; a locally accepted invalid block here can
		// never extend past a checkpoint.
		return nil
	}

	if err := ValidateBlockSummaryInCoinstate(&block.Header.Summary, ctx); err != nil {
		return err
	}

	reconstructed, err := ConstructPowEvidence(&block.Header.Summary, block.Transactions, ctx)
	if err != nil {
		return err
	}
	if block.Header.PowEvidence != *reconstructed {
		return ruleError(ErrValidateBlock, "proof-of-work evidence incorrect")
	}

	if err := ValidateCoinbaseTransactionInCoinstate(block.Coinbase(), height, block.Transactions[1:], ctx.UnspentOutput); err != nil {
		return err
	}
	for _, tx := range block.Transactions[1:] {
		if err := ValidateNonCoinbaseTransactionInCoinstate(tx, ctx.UnspentOutput, sigCache); err != nil {
			return err
		}
	}
	return nil
}

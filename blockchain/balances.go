// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/skepticoin/skepticoin/wire"
)

// PKBalance is the spendable value controlled by a single public key,
// together with the references needed to actually spend it: a wallet
// builds new transaction inputs directly from OutputReferences rather
// than re-deriving them from a scan (original balances.py's PKBalance,
// adapted from a functional full-chain replay to the SQL-join query
// store.UnspentOutputsForPublicKey already does for single outputs).
type PKBalance struct {
	Value            uint64
	OutputReferences []wire.OutputReference
}

// BalanceForPublicKey reports the canonical chain's current balance for
// pubKey: the sum of every output paying it that remains unspent, plus
// the references needed to spend them.
func (cs *CoinState) BalanceForPublicKey(pubKey wire.PublicKey) (PKBalance, error) {
	records, err := cs.store.UnspentOutputsForPublicKey(cs.currentChainHash, pubKey)
	if err != nil {
		return PKBalance{}, err
	}

	bal := PKBalance{OutputReferences: make([]wire.OutputReference, 0, len(records))}
	for _, rec := range records {
		bal.Value += rec.Value
		bal.OutputReferences = append(bal.OutputReferences, wire.OutputReference{
			TxHash: rec.TxHash,
			Index:  rec.Seq,
		})
	}
	return bal, nil
}

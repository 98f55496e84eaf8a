// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/skepticoin/skepticoin/chainhash"
)

// SashimiPerCoin is the number of smallest indivisible units (sashimi)
// per coin.
const SashimiPerCoin = 100_000_000

// MaxSashimi is the maximum value, in sashimi, a single output or the
// sum of a transaction's outputs may carry (spec.md §3).
const MaxSashimi = 2_099_999_986_350_000

// OutputReference identifies a prior transaction output by the hash of
// the transaction that created it and the output's index within that
// transaction. The zero-hash, index-0 reference is reserved to mean
// "thin air" (spec.md GLOSSARY).
type OutputReference struct {
	TxHash chainhash.Hash
	Index  uint32
}

// ThinAir is the reserved OutputReference used by coinbase inputs.
var ThinAir = OutputReference{}

// IsThinAir reports whether r is the reserved thin-air reference.
func (r OutputReference) IsThinAir() bool {
	return r.TxHash.IsZero() && r.Index == 0
}

func (r OutputReference) serialize(buf []byte) []byte {
	buf = append(buf, r.TxHash[:]...)
	return putUint32BE(buf, r.Index)
}

func readOutputReference(r io.Reader) (OutputReference, error) {
	var ref OutputReference
	hb, err := safeRead(r, chainhash.HashSize)
	if err != nil {
		return ref, err
	}
	copy(ref.TxHash[:], hb)
	ib, err := safeRead(r, 4)
	if err != nil {
		return ref, err
	}
	ref.Index = beUint32(ib)
	return ref, nil
}

// Input spends a prior output, authorized by a signature over the
// spending transaction's signable equivalent.
type Input struct {
	OutputReference OutputReference
	Signature       Signature
}

func (in Input) serialize(buf []byte) []byte {
	buf = in.OutputReference.serialize(buf)
	return in.Signature.Serialize(buf)
}

func readInput(r io.Reader) (Input, error) {
	var in Input
	ref, err := readOutputReference(r)
	if err != nil {
		return in, err
	}
	sig, err := readSignature(r)
	if err != nil {
		return in, err
	}
	in.OutputReference = ref
	in.Signature = sig
	return in, nil
}

// Output creates spendable value claimable by whoever controls
// PublicKey. Value is denominated in sashimi and must satisfy
// 0 < Value <= MaxSashimi.
type Output struct {
	Value     uint64
	PublicKey PublicKey
}

func (o Output) serialize(buf []byte) []byte {
	buf = putUint64BE(buf, o.Value)
	return o.PublicKey.Serialize(buf)
}

func readOutput(r io.Reader) (Output, error) {
	var o Output
	vb, err := safeRead(r, 8)
	if err != nil {
		return o, err
	}
	o.Value = beUint64(vb)
	pk, err := readPublicKey(r)
	if err != nil {
		return o, err
	}
	o.PublicKey = pk
	return o, nil
}

// Transaction is the consensus-critical representation of a single
// value transfer. Version is always 0; the field exists so the wire
// format can evolve.
type Transaction struct {
	Version uint8
	Inputs  []Input
	Outputs []Output
}

// Serialize returns the canonical byte encoding of the transaction.
func (tx *Transaction) Serialize() []byte {
	return tx.serialize(false)
}

// SignableEquivalent returns the byte encoding used as the pre-image for
// every input signature: identical to Serialize except every input's
// signature is replaced with the SignableEquivalentSignature placeholder
// (spec.md §3).
func (tx *Transaction) SignableEquivalent() []byte {
	return tx.serialize(true)
}

func (tx *Transaction) serialize(signable bool) []byte {
	buf := make([]byte, 0, 64+64*len(tx.Inputs)+64*len(tx.Outputs))
	buf = append(buf, tx.Version)
	buf = putVLQ(buf, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = in.OutputReference.serialize(buf)
		if signable {
			buf = SignableEquivalentSignature{}.Serialize(buf)
		} else {
			buf = in.Signature.Serialize(buf)
		}
	}
	buf = putVLQ(buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = out.serialize(buf)
	}
	return buf
}

// Hash returns sha256d(Serialize()), the transaction's identifier.
func (tx *Transaction) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(tx.Serialize())
}

// DeserializeTransaction reads a Transaction from r.
func DeserializeTransaction(r io.Reader) (*Transaction, error) {
	versionB, err := safeRead(r, 1)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{Version: versionB[0]}

	numIn, err := readVLQ(r)
	if err != nil {
		return nil, err
	}
	tx.Inputs = make([]Input, numIn)
	for i := range tx.Inputs {
		in, err := readInput(r)
		if err != nil {
			return nil, err
		}
		tx.Inputs[i] = in
	}

	numOut, err := readVLQ(r)
	if err != nil {
		return nil, err
	}
	tx.Outputs = make([]Output, numOut)
	for i := range tx.Outputs {
		out, err := readOutput(r)
		if err != nil {
			return nil, err
		}
		tx.Outputs[i] = out
	}

	return tx, nil
}

// IsCoinbase reports whether tx has the single-input, thin-air-reference,
// CoinbaseSignature shape of a coinbase transaction.
func (tx *Transaction) IsCoinbase() bool {
	if len(tx.Inputs) != 1 {
		return false
	}
	in := tx.Inputs[0]
	if !in.OutputReference.IsThinAir() {
		return false
	}
	_, ok := in.Signature.(CoinbaseSignature)
	return ok
}

// TotalOutputValue sums the transaction's output values. It does not
// check for overflow or the MaxSashimi bound; callers validating a
// transaction must do that separately.
func (tx *Transaction) TotalOutputValue() uint64 {
	var total uint64
	for _, out := range tx.Outputs {
		total += out.Value
	}
	return total
}

// SerializeList encodes a VLQ-length-prefixed list of transactions, used
// both for a Block's transaction list and as an input to the PoW
// block-hash commitment.
func SerializeList(txs []*Transaction) []byte {
	buf := putVLQ(nil, uint64(len(txs)))
	for _, tx := range txs {
		buf = append(buf, tx.Serialize()...)
	}
	return buf
}

// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/hdkeychain/v3"
	"github.com/decred/slog"

	"github.com/skepticoin/skepticoin/blockchain"
	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/consensus"
	"github.com/skepticoin/skepticoin/wire"
)

// Log is the subsystem logger; cmd/skepticoind replaces it with a
// configured backend.
var Log = slog.Disabled

// KeyPoolSize is how many keys are derived into the unused pool at a
// time, on creation and whenever it runs dry, mirroring
// original_source's generate_keys(n=100) default.
const KeyPoolSize = 100

// maxDerivationSkips bounds how many consecutive invalid child indices
// replenish will skip past before giving up; in practice this never
// triggers; it exists only so a pathological seed can't spin forever.
const maxDerivationSkips = 1000

// Wallet is a JSON-persisted, HD-derived collection of key pairs: a
// pool of not-yet-handed-out public keys ready for a coinbase or change
// output, annotations recording what each handed-out key was for, and
// the set of outputs this node has already built (and presumably
// broadcast) a spend for but hasn't yet seen confirmed on chain.
// Grounded on original_source's wallet.py Wallet class.
type Wallet struct {
	mu sync.Mutex

	seed           []byte
	externalChain  *hdkeychain.ExtendedKey
	nextChildIndex uint32

	keypairs             map[wire.SECP256k1PublicKey]*secp256k1.PrivateKey
	unusedPublicKeys     []wire.SECP256k1PublicKey
	publicKeyAnnotations map[wire.SECP256k1PublicKey]string
	spentOutputs         map[wire.OutputReference]struct{}
}

// New creates a wallet from a freshly generated seed, with a full pool
// of derived keys ready to hand out.
func New() (*Wallet, error) {
	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return nil, err
	}
	return newFromSeed(seed)
}

func newFromSeed(seed []byte) (*Wallet, error) {
	master, err := deriveMaster(seed)
	if err != nil {
		return nil, err
	}
	external, err := deriveExternalChain(master)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		seed:                 seed,
		externalChain:        external,
		keypairs:             make(map[wire.SECP256k1PublicKey]*secp256k1.PrivateKey),
		publicKeyAnnotations: make(map[wire.SECP256k1PublicKey]string),
		spentOutputs:         make(map[wire.OutputReference]struct{}),
	}
	if err := w.replenish(KeyPoolSize); err != nil {
		return nil, err
	}
	return w, nil
}

// replenish derives n more keys into the unused pool, skipping any
// child index hdkeychain rejects (per BIP0032, about a 1-in-2^127
// chance per index).
func (w *Wallet) replenish(n int) error {
	skipped := 0
	for added := 0; added < n; {
		priv, pub, err := deriveKeyPair(w.externalChain, w.nextChildIndex)
		w.nextChildIndex++
		if errors.Is(err, errInvalidChild) {
			skipped++
			if skipped > maxDerivationSkips {
				return errWalletExhausted
			}
			continue
		}
		if err != nil {
			return err
		}
		w.keypairs[pub] = priv
		w.unusedPublicKeys = append(w.unusedPublicKeys, pub)
		added++
	}
	Log.Debugf("replenished key pool with %d keys, next child index %d", n, w.nextChildIndex)
	return nil
}

// Contains reports whether the wallet holds the private key for pk.
func (w *Wallet) Contains(pk wire.SECP256k1PublicKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.keypairs[pk]
	return ok
}

// NextUnusedKey pops a never-yet-handed-out public key from the pool,
// annotating it with annotation (e.g. "reserved for potentially mined
// block"), and replenishes the pool first if it has run dry.
func (w *Wallet) NextUnusedKey(annotation string) (wire.SECP256k1PublicKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.unusedPublicKeys) == 0 {
		if err := w.replenish(KeyPoolSize); err != nil {
			return wire.SECP256k1PublicKey{}, err
		}
	}

	pk := w.unusedPublicKeys[len(w.unusedPublicKeys)-1]
	w.unusedPublicKeys = w.unusedPublicKeys[:len(w.unusedPublicKeys)-1]
	w.publicKeyAnnotations[pk] = annotation
	return pk, nil
}

// ownedPublicKeys returns a snapshot of every public key this wallet
// holds a private key for.
func (w *Wallet) ownedPublicKeys() []wire.SECP256k1PublicKey {
	pks := make([]wire.SECP256k1PublicKey, 0, len(w.keypairs))
	for pk := range w.keypairs {
		pks = append(pks, pk)
	}
	return pks
}

// GetBalance sums cs's current balance across every public key this
// wallet owns.
func (w *Wallet) GetBalance(cs *blockchain.CoinState) (uint64, error) {
	w.mu.Lock()
	pks := w.ownedPublicKeys()
	w.mu.Unlock()

	var total uint64
	for _, pk := range pks {
		bal, err := cs.BalanceForPublicKey(pk)
		if err != nil {
			return 0, err
		}
		total += bal.Value
	}
	return total, nil
}

// SignTransaction signs every input of tx against the outputs it
// spends, using this wallet's private keys. unspent must map every
// input's OutputReference to the Output it claims to spend.
func (w *Wallet) SignTransaction(unspent map[wire.OutputReference]wire.Output, tx *wire.Transaction) (*wire.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	digest := chainhash.DoubleHashH(tx.SignableEquivalent())

	signed := make([]wire.Input, len(tx.Inputs))
	for i, in := range tx.Inputs {
		output, ok := unspent[in.OutputReference]
		if !ok {
			return nil, fmt.Errorf("wallet: attempting to sign invalid transaction: unknown output %+v", in.OutputReference)
		}
		pubKey, ok := output.PublicKey.(wire.SECP256k1PublicKey)
		if !ok {
			return nil, fmt.Errorf("wallet: no idea how to sign output with public key type %T", output.PublicKey)
		}
		priv, ok := w.keypairs[pubKey]
		if !ok {
			return nil, fmt.Errorf("wallet: can't sign; no known private key for output %+v", in.OutputReference)
		}
		signed[i] = wire.Input{
			OutputReference: in.OutputReference,
			Signature:       consensus.SignDigest(priv, digest[:]),
		}
	}

	return &wire.Transaction{Inputs: signed, Outputs: tx.Outputs}, nil
}

// CreateSpendTransaction builds and signs a transaction paying value to
// outputPubKey with minersFee left for the miner, collecting inputs
// from every unspent output this wallet owns (skipping any output
// already earmarked by an earlier, not-yet-confirmed spend) and
// returning any excess to changePubKey.
func (w *Wallet) CreateSpendTransaction(
	cs *blockchain.CoinState, value, minersFee uint64, outputPubKey, changePubKey wire.SECP256k1PublicKey,
) (*wire.Transaction, error) {
	w.mu.Lock()
	pks := w.ownedPublicKeys()
	w.mu.Unlock()

	var collected uint64
	var inputs []wire.Input
	unspent := make(map[wire.OutputReference]wire.Output)
	var reserved []wire.OutputReference

	for _, pk := range pks {
		bal, err := cs.BalanceForPublicKey(pk)
		if err != nil {
			return nil, err
		}
		for _, ref := range bal.OutputReferences {
			w.mu.Lock()
			_, alreadyReserved := w.spentOutputs[ref]
			if !alreadyReserved {
				w.spentOutputs[ref] = struct{}{}
			}
			w.mu.Unlock()
			if alreadyReserved {
				continue
			}
			reserved = append(reserved, ref)

			output, ok := cs.UnspentOutput(ref)
			if !ok {
				continue
			}
			unspent[ref] = output
			inputs = append(inputs, wire.Input{OutputReference: ref})
			collected += output.Value

			if collected >= value+minersFee {
				outputs := []wire.Output{{Value: value, PublicKey: outputPubKey}}
				if collected != value+minersFee {
					outputs = append(outputs, wire.Output{Value: collected - (value + minersFee), PublicKey: changePubKey})
				}
				return w.SignTransaction(unspent, &wire.Transaction{Inputs: inputs, Outputs: outputs})
			}
		}
	}

	w.mu.Lock()
	for _, ref := range reserved {
		delete(w.spentOutputs, ref)
	}
	w.mu.Unlock()
	return nil, fmt.Errorf("wallet: insufficient balance: have %d, need %d", collected, value+minersFee)
}

// walletFile is the on-disk JSON shape a Wallet is persisted as. Only
// the seed, the derivation high-water mark, and the bookkeeping that
// can't be re-derived are stored; every key pair is recomputed from
// seed on Load.
type walletFile struct {
	Seed                 string            `json:"seed"`
	NextChildIndex       uint32            `json:"next_child_index"`
	UnusedPublicKeys     []string          `json:"unused_public_keys"`
	PublicKeyAnnotations map[string]string `json:"public_key_annotations"`
	SpentOutputs         []spentOutputJSON `json:"spent_transaction_outputs"`
}

type spentOutputJSON struct {
	TxHash string `json:"tx_hash"`
	Index  uint32 `json:"index"`
}

// Load reads a wallet file from path, re-deriving every key pair up to
// its recorded high-water mark from the stored seed.
func Load(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f walletFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	seed, err := hex.DecodeString(f.Seed)
	if err != nil {
		return nil, fmt.Errorf("wallet: malformed seed: %w", err)
	}
	master, err := deriveMaster(seed)
	if err != nil {
		return nil, err
	}
	external, err := deriveExternalChain(master)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		seed:                 seed,
		externalChain:        external,
		keypairs:             make(map[wire.SECP256k1PublicKey]*secp256k1.PrivateKey),
		publicKeyAnnotations: make(map[wire.SECP256k1PublicKey]string),
		spentOutputs:         make(map[wire.OutputReference]struct{}),
	}

	for i := uint32(0); i < f.NextChildIndex; i++ {
		priv, pub, err := deriveKeyPair(external, i)
		if errors.Is(err, errInvalidChild) {
			continue
		}
		if err != nil {
			return nil, err
		}
		w.keypairs[pub] = priv
	}
	w.nextChildIndex = f.NextChildIndex

	for _, hexPK := range f.UnusedPublicKeys {
		pk, err := decodePublicKeyHex(hexPK)
		if err != nil {
			return nil, err
		}
		w.unusedPublicKeys = append(w.unusedPublicKeys, pk)
	}
	for hexPK, annotation := range f.PublicKeyAnnotations {
		pk, err := decodePublicKeyHex(hexPK)
		if err != nil {
			return nil, err
		}
		w.publicKeyAnnotations[pk] = annotation
	}
	for _, so := range f.SpentOutputs {
		ref, err := decodeOutputReferenceJSON(so)
		if err != nil {
			return nil, err
		}
		w.spentOutputs[ref] = struct{}{}
	}

	return w, nil
}

// Save writes the wallet to path via a temp-file-then-rename, so a
// crash mid-write leaves the previous wallet file intact rather than a
// half-written one (original_source's save_wallet).
func (w *Wallet) Save(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f := walletFile{
		Seed:                 hex.EncodeToString(w.seed),
		NextChildIndex:       w.nextChildIndex,
		PublicKeyAnnotations: make(map[string]string, len(w.publicKeyAnnotations)),
	}
	for _, pk := range w.unusedPublicKeys {
		f.UnusedPublicKeys = append(f.UnusedPublicKeys, hex.EncodeToString(pk.Bytes[:]))
	}
	for pk, annotation := range w.publicKeyAnnotations {
		f.PublicKeyAnnotations[hex.EncodeToString(pk.Bytes[:])] = annotation
	}
	for ref := range w.spentOutputs {
		f.SpentOutputs = append(f.SpentOutputs, spentOutputJSON{TxHash: ref.TxHash.String(), Index: ref.Index})
	}

	data, err := json.MarshalIndent(f, "", "    ")
	if err != nil {
		return err
	}

	tmp := path + ".new"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func decodePublicKeyHex(s string) (wire.SECP256k1PublicKey, error) {
	var pk wire.SECP256k1PublicKey
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != wire.SECP256k1PublicKeySize {
		return pk, fmt.Errorf("wallet: malformed public key %q", s)
	}
	copy(pk.Bytes[:], b)
	return pk, nil
}

func decodeOutputReferenceJSON(so spentOutputJSON) (wire.OutputReference, error) {
	hash, err := chainhash.NewHashFromStr(so.TxHash)
	if err != nil {
		return wire.OutputReference{}, err
	}
	return wire.OutputReference{TxHash: *hash, Index: so.Index}, nil
}

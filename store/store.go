// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store persists the block chain in a SQLite database and
// answers the relational queries the rest of the node needs: block
// lookup by hash or id, the chain's tip candidates, and whether a
// given output is still unspent as of some point on the chain
// (spec.md §4.G prefers these SQL joins over holding the full UTXO set
// in memory, since a node may track several competing forks at once).
package store

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/decred/slog"
	_ "modernc.org/sqlite"

	"github.com/skepticoin/skepticoin/chaincfg"
	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/wire"
)

// Log is the subsystem logger; cmd/skepticoind replaces it with a
// configured backend.
var Log = slog.Disabled

// BlockStore is a SQLite-backed, append-mostly store of every block a
// node has ever accepted, across every fork it has seen. Writes are
// serialized by writeMu: SQLite allows only one writer at a time
// regardless, so the lock avoids "database is locked" churn rather
// than actually protecting Go-side state. Reads go through the same
// *sql.DB and so use its normal connection pool.
type BlockStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the database at path, which may
// be ":memory:" for a throwaway store used in tests. A freshly created
// database is seeded with the network's genesis block.
func Open(path string) (*BlockStore, error) {
	isNew := path == ":memory:"
	if !isNew {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			isNew = true
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &BlockStore{db: db}

	if isNew {
		Log.Infof("creating new block database at %s", path)
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: creating schema: %w", err)
		}
		genesis, err := chaincfg.GenesisBlock()
		if err != nil {
			db.Close()
			return nil, err
		}
		if _, err := s.WriteBlocks([]*wire.Block{genesis}); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: seeding genesis block: %w", err)
		}
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *BlockStore) Close() error {
	return s.db.Close()
}

func nullifyZero(h chainhash.Hash) interface{} {
	if h.IsZero() {
		return nil
	}
	return h[:]
}

func zeroifyNull(b []byte) chainhash.Hash {
	var h chainhash.Hash
	if b != nil {
		copy(h[:], b)
	}
	return h
}

// WriteBlocks persists blocks in a single transaction, in order, and
// returns each block's database id. Writing the same block twice is
// harmless: every insert is "insert or ignore", so re-announced blocks
// are a cheap no-op rather than an error.
func (s *BlockStore) WriteBlocks(blocks []*wire.Block) ([]int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, len(blocks))
	for i, block := range blocks {
		hash := block.Hash()
		summary := block.Header.Summary
		evidence := block.Header.PowEvidence

		_, err := tx.Exec(`
			INSERT OR IGNORE INTO chain (
				block_id, block_hash, version, height, previous_block_id, previous_block_hash,
				merkle_root_hash, timestamp, target, nonce,
				pow_summary_hash, pow_chain_sample, pow_block_hash
			) VALUES (NULL, ?, ?, ?, (SELECT block_id FROM chain WHERE block_hash = ?), ?, ?, ?, ?, ?, ?, ?, ?)`,
			hash[:], block.Header.Version, summary.Height,
			nullifyZero(summary.PreviousBlockHash), nullifyZero(summary.PreviousBlockHash),
			summary.MerkleRootHash[:], summary.Timestamp, summary.Target[:], summary.Nonce,
			evidence.SummaryHash[:], evidence.ChainSample[:], evidence.BlockHash[:],
		)
		if err != nil {
			return nil, fmt.Errorf("store: inserting block %s: %w", hash, err)
		}

		var blockID int64
		if err := tx.QueryRow(`SELECT block_id FROM chain WHERE block_hash = ?`, hash[:]).Scan(&blockID); err != nil {
			return nil, fmt.Errorf("store: reading back block id for %s: %w", hash, err)
		}
		ids[i] = blockID

		for seq, t := range block.Transactions {
			txHash := t.Hash()
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO transaction_locator (transaction_hash, block_hash, transaction_seq) VALUES (?, ?, ?)`,
				txHash[:], hash[:], seq,
			); err != nil {
				return nil, err
			}
			for seq, in := range t.Inputs {
				if _, err := tx.Exec(`
					INSERT OR IGNORE INTO transaction_inputs
						(transaction_hash, seq, output_reference_hash, output_reference_index, signature)
					VALUES (?, ?, ?, ?, ?)`,
					txHash[:], seq, nullifyZero(in.OutputReference.TxHash), in.OutputReference.Index,
					in.Signature.Serialize(nil),
				); err != nil {
					return nil, err
				}
			}
			for seq, out := range t.Outputs {
				if _, err := tx.Exec(`
					INSERT OR IGNORE INTO transaction_outputs (transaction_hash, seq, value, public_key)
					VALUES (?, ?, ?, ?)`,
					txHash[:], seq, out.Value, out.PublicKey.Serialize(nil),
				); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// FetchBlockByID reconstructs the full block stored under id.
func (s *BlockStore) FetchBlockByID(id int64) (*wire.Block, error) {
	row := s.db.QueryRow(`
		SELECT height, previous_block_hash, merkle_root_hash, timestamp, target, nonce,
			pow_summary_hash, pow_chain_sample, pow_block_hash, block_hash
		FROM chain WHERE block_id = ?`, id)

	var (
		height                                                    uint64
		previousBlockHash, merkleRoot, target                     []byte
		timestamp, nonce                                          uint32
		powSummaryHash, powChainSample, powBlockHash, selfBlockHash []byte
	)
	if err := row.Scan(&height, &previousBlockHash, &merkleRoot, &timestamp, &target, &nonce,
		&powSummaryHash, &powChainSample, &powBlockHash, &selfBlockHash); err != nil {
		return nil, fmt.Errorf("store: block not found at block_id %d: %w", id, err)
	}

	txs, err := s.fetchTransactions(selfBlockHash)
	if err != nil {
		return nil, err
	}

	header := wire.BlockHeader{
		Version: 0,
		Summary: wire.BlockSummary{
			Height:            height,
			PreviousBlockHash: zeroifyNull(previousBlockHash),
			Timestamp:         timestamp,
			Nonce:             nonce,
		},
		PowEvidence: wire.PowEvidence{},
	}
	copy(header.Summary.MerkleRootHash[:], merkleRoot)
	copy(header.Summary.Target[:], target)
	copy(header.PowEvidence.SummaryHash[:], powSummaryHash)
	copy(header.PowEvidence.ChainSample[:], powChainSample)
	copy(header.PowEvidence.BlockHash[:], powBlockHash)

	return &wire.Block{Header: header, Transactions: txs}, nil
}

func (s *BlockStore) fetchTransactions(blockHash []byte) ([]*wire.Transaction, error) {
	rows, err := s.db.Query(
		`SELECT transaction_hash FROM transaction_locator WHERE block_hash = ? ORDER BY transaction_seq`, blockHash)
	if err != nil {
		return nil, err
	}
	var order [][]byte
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, err
		}
		order = append(order, h)
	}
	rows.Close()

	type inputRow struct {
		refHash []byte
		refIdx  uint32
		sig     []byte
		seq     int
	}
	inputsByTx := make(map[string][]inputRow)
	for _, txHash := range order {
		rows, err := s.db.Query(`
			SELECT output_reference_hash, output_reference_index, signature, seq
			FROM transaction_inputs WHERE transaction_hash = ? ORDER BY seq`, txHash)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var ir inputRow
			if err := rows.Scan(&ir.refHash, &ir.refIdx, &ir.sig, &ir.seq); err != nil {
				rows.Close()
				return nil, err
			}
			inputsByTx[string(txHash)] = append(inputsByTx[string(txHash)], ir)
		}
		rows.Close()
	}

	type outputRow struct {
		value uint64
		pub   []byte
		seq   int
	}
	outputsByTx := make(map[string][]outputRow)
	for _, txHash := range order {
		rows, err := s.db.Query(`
			SELECT value, public_key, seq FROM transaction_outputs WHERE transaction_hash = ? ORDER BY seq`, txHash)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var or outputRow
			if err := rows.Scan(&or.value, &or.pub, &or.seq); err != nil {
				rows.Close()
				return nil, err
			}
			outputsByTx[string(txHash)] = append(outputsByTx[string(txHash)], or)
		}
		rows.Close()
	}

	txs := make([]*wire.Transaction, len(order))
	for i, txHash := range order {
		tx := &wire.Transaction{}
		for _, ir := range inputsByTx[string(txHash)] {
			sig, err := wire.DeserializeSignature(bytes.NewReader(ir.sig))
			if err != nil {
				return nil, fmt.Errorf("store: corrupt signature for tx %x: %w", txHash, err)
			}
			tx.Inputs = append(tx.Inputs, wire.Input{
				OutputReference: wire.OutputReference{TxHash: zeroifyNull(ir.refHash), Index: ir.refIdx},
				Signature:       sig,
			})
		}
		for _, or := range outputsByTx[string(txHash)] {
			pub, err := wire.DeserializePublicKey(bytes.NewReader(or.pub))
			if err != nil {
				return nil, fmt.Errorf("store: corrupt public key for tx %x: %w", txHash, err)
			}
			tx.Outputs = append(tx.Outputs, wire.Output{Value: or.value, PublicKey: pub})
		}
		txs[i] = tx
	}
	return txs, nil
}

// FetchBlockByHash reconstructs the block with the given hash.
func (s *BlockStore) FetchBlockByHash(hash chainhash.Hash) (*wire.Block, error) {
	var id int64
	if err := s.db.QueryRow(`SELECT block_id FROM chain WHERE block_hash = ?`, hash[:]).Scan(&id); err != nil {
		return nil, fmt.Errorf("store: block hash not found: %s: %w", hash, err)
	}
	return s.FetchBlockByID(id)
}

// IndexEntry is one row of the chain table's identity graph, enough to
// reconstruct every block's ancestry without re-reading transactions.
type IndexEntry struct {
	BlockHash       chainhash.Hash
	BlockID         int64
	PreviousBlockID int64 // 0 if this is a height-0 (genesis) row; block_id is never 0
}

// ChainIndexEntries returns every block's (hash, id, previous id),
// enough for a CoinState to rebuild its in-memory ancestry index.
func (s *BlockStore) ChainIndexEntries() ([]IndexEntry, error) {
	rows, err := s.db.Query(`SELECT block_hash, block_id, previous_block_id FROM chain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var hash []byte
		var e IndexEntry
		var prevID sql.NullInt64
		if err := rows.Scan(&hash, &e.BlockID, &prevID); err != nil {
			return nil, err
		}
		copy(e.BlockHash[:], hash)
		if prevID.Valid {
			e.PreviousBlockID = prevID.Int64
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HeadRow names a chain tip: a block hash nothing else references as
// its parent.
type HeadRow struct {
	BlockHash chainhash.Hash
	BlockID   int64
}

// RecentHeads returns every chain tip within the last depth blocks of
// the tallest known height.
func (s *BlockStore) RecentHeads(depth uint64) ([]HeadRow, error) {
	rows, err := s.db.Query(`
		SELECT block_hash, block_id FROM chain
		WHERE height >= (SELECT max(height) FROM chain) - ?
		AND block_hash NOT IN (SELECT previous_block_hash FROM chain WHERE previous_block_hash IS NOT NULL)`, depth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var heads []HeadRow
	for rows.Next() {
		var h HeadRow
		var hash []byte
		if err := rows.Scan(&hash, &h.BlockID); err != nil {
			return nil, err
		}
		copy(h.BlockHash[:], hash)
		heads = append(heads, h)
	}
	return heads, rows.Err()
}

// CurrentChainHash returns the canonical tip: the greatest height,
// tie-broken by the lexicographically smallest hash.
func (s *BlockStore) CurrentChainHash() (chainhash.Hash, error) {
	var hash []byte
	err := s.db.QueryRow(`
		SELECT block_hash FROM chain
		WHERE height = (SELECT max(height) FROM chain)
		ORDER BY block_hash LIMIT 1`).Scan(&hash)
	if err != nil {
		return chainhash.Hash{}, err
	}
	var h chainhash.Hash
	copy(h[:], hash)
	return h, nil
}

// UnspentOutput reports whether the output ref points to is still
// unspent as of asOf (inclusive): it must exist on asOf's ancestor
// chain and not be consumed by any transaction input also on that
// chain. This is the SQL-join-based balance/UTXO query spec.md §4.G
// calls for, rather than materializing the full UTXO set in memory.
func (s *BlockStore) UnspentOutput(asOf chainhash.Hash, ref wire.OutputReference) (wire.Output, bool, error) {
	row := s.db.QueryRow(`
		WITH RECURSIVE ancestors(block_id) AS (
			SELECT block_id FROM chain WHERE block_hash = ?
			UNION ALL
			SELECT chain.previous_block_id FROM chain
			JOIN ancestors ON chain.block_id = ancestors.block_id
			WHERE chain.previous_block_id IS NOT NULL
		)
		SELECT o.value, o.public_key FROM transaction_outputs o
		JOIN transaction_locator tl ON tl.transaction_hash = o.transaction_hash
		JOIN chain c ON c.block_hash = tl.block_hash
		WHERE o.transaction_hash = ? AND o.seq = ? AND c.block_id IN (SELECT block_id FROM ancestors)
		AND NOT EXISTS (
			SELECT 1 FROM transaction_inputs i
			JOIN transaction_locator tl2 ON tl2.transaction_hash = i.transaction_hash
			JOIN chain c2 ON c2.block_hash = tl2.block_hash
			WHERE i.output_reference_hash = ? AND i.output_reference_index = ?
			AND c2.block_id IN (SELECT block_id FROM ancestors)
		)`,
		asOf[:], ref.TxHash[:], ref.Index, nullifyZero(ref.TxHash), ref.Index)

	var value uint64
	var pubBytes []byte
	switch err := row.Scan(&value, &pubBytes); err {
	case nil:
		pub, err := wire.DeserializePublicKey(bytes.NewReader(pubBytes))
		if err != nil {
			return wire.Output{}, false, err
		}
		return wire.Output{Value: value, PublicKey: pub}, true, nil
	case sql.ErrNoRows:
		return wire.Output{}, false, nil
	default:
		return wire.Output{}, false, err
	}
}

// UnspentOutputRecord is a single unspent output discovered by
// UnspentOutputsForPublicKey: the value and location needed to build a
// wire.OutputReference plus spend it later.
type UnspentOutputRecord struct {
	Value  uint64
	TxHash chainhash.Hash
	Seq    uint32
}

// UnspentOutputsForPublicKey finds every output paying the given
// serialized public key that is still unspent as of asOf's ancestor
// chain. It uses the same ancestor-CTE technique as UnspentOutput,
// filtered by the indexed public_key column instead of a single
// (transaction_hash, seq) pair, so a wallet's balance and spendable-set
// queries never require materializing the chain's full UTXO set
// in memory (spec.md §4.G, §9).
func (s *BlockStore) UnspentOutputsForPublicKey(asOf chainhash.Hash, pubKey wire.PublicKey) ([]UnspentOutputRecord, error) {
	pubBytes := pubKey.Serialize(nil)

	rows, err := s.db.Query(`
		WITH RECURSIVE ancestors(block_id) AS (
			SELECT block_id FROM chain WHERE block_hash = ?
			UNION ALL
			SELECT chain.previous_block_id FROM chain
			JOIN ancestors ON chain.block_id = ancestors.block_id
			WHERE chain.previous_block_id IS NOT NULL
		)
		SELECT o.transaction_hash, o.seq, o.value FROM transaction_outputs o
		JOIN transaction_locator tl ON tl.transaction_hash = o.transaction_hash
		JOIN chain c ON c.block_hash = tl.block_hash
		WHERE o.public_key = ? AND c.block_id IN (SELECT block_id FROM ancestors)
		AND NOT EXISTS (
			SELECT 1 FROM transaction_inputs i
			JOIN transaction_locator tl2 ON tl2.transaction_hash = i.transaction_hash
			JOIN chain c2 ON c2.block_hash = tl2.block_hash
			WHERE i.output_reference_hash = o.transaction_hash AND i.output_reference_index = o.seq
			AND c2.block_id IN (SELECT block_id FROM ancestors)
		)`,
		asOf[:], pubBytes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnspentOutputRecord
	for rows.Next() {
		var txHashBytes []byte
		var rec UnspentOutputRecord
		if err := rows.Scan(&txHashBytes, &rec.Seq, &rec.Value); err != nil {
			return nil, err
		}
		rec.TxHash = zeroifyNull(txHashBytes)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ValidationQueueSize reports how many blocks past the validation
// tracker's watermark remain to be validated.
func (s *BlockStore) ValidationQueueSize() (int64, error) {
	var count int64
	err := s.db.QueryRow(`
		SELECT count(*) FROM chain WHERE block_id > (SELECT block_id FROM validation_tracker LIMIT 1)`).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// SetValidationTracker records the highest block_id known to have
// passed validation.
func (s *BlockStore) SetValidationTracker(blockID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(`INSERT INTO validation_tracker (one, block_id) VALUES (1, ?)
		ON CONFLICT(one) DO UPDATE SET block_id = excluded.block_id`, blockID)
	return err
}

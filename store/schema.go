// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

// schema is executed once against a freshly created database. The
// chain table's pow_* columns and per-row target are persisted
// alongside the summary fields so a block can be fully reconstructed
// from a single table scan plus its two transaction tables.
const schema = `
CREATE TABLE chain (
	block_id INTEGER PRIMARY KEY AUTOINCREMENT,
	block_hash BLOB UNIQUE,
	version INTEGER,
	height INTEGER,
	previous_block_id INTEGER REFERENCES chain(block_id),
	previous_block_hash BLOB REFERENCES chain(block_hash),
	merkle_root_hash BLOB,
	timestamp INTEGER,
	target BLOB,
	nonce INTEGER,
	pow_summary_hash BLOB,
	pow_chain_sample BLOB,
	pow_block_hash BLOB
);

CREATE TABLE transaction_locator (
	transaction_hash BLOB,
	block_hash BLOB REFERENCES chain(block_hash),
	transaction_seq INTEGER,
	PRIMARY KEY(block_hash, transaction_seq)
);

CREATE TABLE transaction_inputs (
	transaction_hash BLOB,
	seq INTEGER,
	output_reference_hash BLOB,
	output_reference_index INTEGER,
	signature BLOB,
	PRIMARY KEY(transaction_hash, seq)
);

CREATE TABLE transaction_outputs (
	transaction_hash BLOB,
	seq INTEGER,
	value INTEGER,
	public_key BLOB,
	PRIMARY KEY(transaction_hash, seq)
);

CREATE TABLE validation_tracker (
	one INTEGER PRIMARY KEY,
	block_id INTEGER
);

CREATE INDEX chain_index ON chain(height, block_id, previous_block_id);
CREATE INDEX id_hash_index ON chain(block_id, block_hash);
CREATE INDEX previous_block_hash_index ON chain(previous_block_hash);
CREATE INDEX tx_hash_index ON transaction_locator(transaction_hash);
CREATE INDEX transaction_output_public_keys ON transaction_outputs(public_key);
CREATE INDEX transaction_inputs_output_reference ON transaction_inputs(output_reference_hash, output_reference_index);
`

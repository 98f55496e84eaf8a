// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addrmgr persists the set of peer addresses a node has learned
// about, across restarts, as a flat JSON file (spec.md §6). It carries
// none of the reconnect-backoff or ban-score bookkeeping that belongs to
// an active connection attempt; package peer owns that, and package p2p
// calls into addrmgr only to record what should survive a restart.
package addrmgr

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/decred/slog"
)

// Log is the subsystem logger; cmd/skepticoind replaces it with a
// configured backend.
var Log = slog.Disabled

// Direction records which side initiated a connection to a peer.
type Direction string

// The two directions a connection can have been established in.
const (
	Outgoing Direction = "OUTGOING"
	Incoming Direction = "INCOMING"
)

// MaxRecords bounds the peer list file: only the most recently seen
// MaxRecords addresses are kept (spec.md §6).
const MaxRecords = 100

// Record is a single persisted peer address.
type Record struct {
	Host      string    `json:"host"`
	Port      uint16    `json:"port"`
	Direction Direction `json:"direction"`
	LastSeen  time.Time `json:"last_seen"`
}

func (r Record) key() string {
	return r.Host + "|" + string(r.Direction)
}

// Manager is a mutex-guarded, most-recent-first list of peer addresses,
// backed by a JSON file on disk.
type Manager struct {
	mu      sync.Mutex
	path    string
	records []Record
}

// Load reads the peer list at path, or starts empty if the file does
// not yet exist.
func Load(path string) (*Manager, error) {
	m := &Manager{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &m.records); err != nil {
		return nil, err
	}
	Log.Infof("loaded %d known peer addresses from %s", len(m.records), path)
	return m, nil
}

// Records returns a snapshot of the known addresses, most recently seen
// first.
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Upsert records host/port/direction as seen at seenAt, moving it to the
// front of the list, and persists the result. An existing entry for the
// same (host, direction) is replaced rather than duplicated, matching
// the "announce yourself every time you say Hello" behavior of the
// handshake (spec.md §4.I).
func (m *Manager) Upsert(host string, port uint16, direction Direction, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := Record{Host: host, Port: port, Direction: direction, LastSeen: seenAt}
	key := rec.key()

	filtered := m.records[:0:0]
	for _, existing := range m.records {
		if existing.key() != key {
			filtered = append(filtered, existing)
		}
	}
	m.records = append([]Record{rec}, filtered...)
	if len(m.records) > MaxRecords {
		m.records = m.records[:MaxRecords]
	}

	return m.save()
}

// save writes the current record list to disk. The caller must hold mu.
func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.records, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

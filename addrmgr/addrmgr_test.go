package addrmgr

import (
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "peers.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.Records()) != 0 {
		t.Fatalf("expected no records, got %d", len(m.Records()))
	}
}

func TestUpsertPersistsAndMovesToFront(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	t0 := time.Unix(1000, 0)
	t1 := time.Unix(2000, 0)

	if err := m.Upsert("10.0.0.1", 2412, Outgoing, t0); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := m.Upsert("10.0.0.2", 2412, Outgoing, t1); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	recs := m.Records()
	if len(recs) != 2 || recs[0].Host != "10.0.0.2" {
		t.Fatalf("expected most-recent-first order, got %+v", recs)
	}

	// Re-upserting an existing (host, direction) replaces it in place at
	// the front rather than duplicating the entry.
	if err := m.Upsert("10.0.0.1", 2412, Outgoing, time.Unix(3000, 0)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	recs = m.Records()
	if len(recs) != 2 {
		t.Fatalf("expected no duplicate entry, got %d records", len(recs))
	}
	if recs[0].Host != "10.0.0.1" {
		t.Fatalf("expected re-upserted host at front, got %+v", recs)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Records()) != 2 {
		t.Fatalf("persisted file did not round trip: got %d records", len(reloaded.Records()))
	}
}

func TestUpsertCapsAtMaxRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for i := 0; i < MaxRecords+10; i++ {
		host := net.JoinHostPort("10.0.0.1", strconv.Itoa(i))
		if err := m.Upsert(host, uint16(i), Incoming, time.Unix(int64(i), 0)); err != nil {
			t.Fatalf("Upsert %d: %v", i, err)
		}
	}
	if len(m.Records()) != MaxRecords {
		t.Fatalf("got %d records, want cap of %d", len(m.Records()), MaxRecords)
	}
}

// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"net"
	"testing"
	"time"

	"github.com/skepticoin/skepticoin/addrmgr"
	"github.com/skepticoin/skepticoin/wire"
)

func TestReconnectBackoffGrowsAndCaps(t *testing.T) {
	if got := ReconnectBackoff(0); got != 10*time.Second {
		t.Fatalf("ban score 0: got %s, want 10s", got)
	}
	if got := ReconnectBackoff(1); got != 20*time.Second {
		t.Fatalf("ban score 1: got %s, want 20s", got)
	}
	if got := ReconnectBackoff(2); got != 40*time.Second {
		t.Fatalf("ban score 2: got %s, want 40s", got)
	}
	if got := ReconnectBackoff(20); got != MaxBanScoreBackoff {
		t.Fatalf("high ban score: got %s, want the %s cap", got, MaxBanScoreBackoff)
	}
}

func TestIsTimeToConnect(t *testing.T) {
	p := &Peer{}
	if !p.IsTimeToConnect(time.Now()) {
		t.Fatal("a peer never dialed before must be time to connect")
	}

	p.LastConnectionAttempt = time.Now()
	p.BanScore = 0
	if p.IsTimeToConnect(time.Now()) {
		t.Fatal("a peer dialed moments ago must not be time to connect yet")
	}
	if !p.IsTimeToConnect(time.Now().Add(11 * time.Second)) {
		t.Fatal("a peer dialed 11s ago at ban score 0 must be time to reconnect")
	}
}

func TestRetired(t *testing.T) {
	p := &Peer{ConnectionAttempts: MaxConnectionAttempts - 1}
	if p.Retired() {
		t.Fatal("must not be retired just below the limit")
	}
	p.ConnectionAttempts = MaxConnectionAttempts
	if !p.Retired() {
		t.Fatal("must be retired at the limit")
	}
}

// testDelegate records every callback a Peer invokes, for assertions in
// the handshake/dispatch tests below.
type testDelegate struct {
	helloCh       chan wire.Hello
	messageCh     chan wire.Message
	disconnectedC chan string
}

func newTestDelegate() *testDelegate {
	return &testDelegate{
		helloCh:       make(chan wire.Hello, 1),
		messageCh:     make(chan wire.Message, 8),
		disconnectedC: make(chan string, 1),
	}
}

func (d *testDelegate) HandleHello(p *Peer, msg wire.Hello)                          { d.helloCh <- msg }
func (d *testDelegate) HandleMessage(p *Peer, h wire.MessageHeader, msg wire.Message) { d.messageCh <- msg }
func (d *testDelegate) HandleDisconnected(p *Peer, reason string)                    { d.disconnectedC <- reason }

func TestHandshakeThenMessageDispatch(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	delegateA := newTestDelegate()
	delegateB := newTestDelegate()

	peerA := NewConnected(connA, "a", 1, addrmgr.Outgoing, 111, delegateA)
	peerB := NewConnected(connB, "b", 2, addrmgr.Incoming, 222, delegateB)

	go peerA.Run(wire.Hello{Versions: []uint32{0}, Nonce: 111, UserAgent: "a"})
	go peerB.Run(wire.Hello{Versions: []uint32{0}, Nonce: 222, UserAgent: "b"})

	select {
	case hello := <-delegateA.helloCh:
		if hello.Nonce != 222 {
			t.Fatalf("peer A received nonce %d, want 222", hello.Nonce)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer A's HandleHello")
	}
	select {
	case hello := <-delegateB.helloCh:
		if hello.Nonce != 111 {
			t.Fatalf("peer B received nonce %d, want 111", hello.Nonce)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer B's HandleHello")
	}

	if !peerA.Active() || !peerB.Active() {
		t.Fatal("both peers should be Active once Hello is exchanged both ways")
	}

	if err := peerA.SendMessage(wire.GetPeers{}, wire.MessageHeader{}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	select {
	case msg := <-delegateB.messageCh:
		if _, ok := msg.(wire.GetPeers); !ok {
			t.Fatalf("peer B received %T, want wire.GetPeers", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer B to receive GetPeers")
	}

	peerA.Close("test done")
	select {
	case <-delegateA.disconnectedC:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HandleDisconnected")
	}
}

func TestNonHelloFirstMessageDisconnects(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	delegateB := newTestDelegate()
	peerB := NewConnected(connB, "b", 2, addrmgr.Incoming, 222, delegateB)
	go peerB.Run(wire.Hello{Versions: []uint32{0}, Nonce: 222})

	// Send a non-Hello message first, bypassing the handshake.
	go wire.WriteFramedMessage(connA, wire.MessageHeader{}, wire.GetPeers{})

	select {
	case reason := <-delegateB.disconnectedC:
		if reason == "" {
			t.Fatal("expected a non-empty disconnect reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect after a non-Hello first message")
	}
	if peerB.HelloReceived() {
		t.Fatal("HelloReceived must remain false")
	}
}

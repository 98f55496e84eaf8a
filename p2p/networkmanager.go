// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package p2p wires package peer's per-connection state machine into a
// running node: which peers are connected, which are remembered for
// reconnection, which blocks/transactions to pull during initial block
// download, and the mempool. Grounded on original_source's
// networking/manager.py (NetworkManager, ChainManager), rewritten
// around goroutines rather than a single-threaded step() loop: each
// connected peer reads on its own goroutine, and every action that
// touches shared state (the peer registry, the mempool, the coinstate)
// goes through mutex-protected methods instead of cooperative
// scheduling (spec.md §4.J's single-threaded ordering guarantee is
// preserved by the mutexes, not by there being only one goroutine).
package p2p

import (
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/skepticoin/skepticoin/addrmgr"
	"github.com/skepticoin/skepticoin/peer"
	"github.com/skepticoin/skepticoin/wire"
)

// Log is the subsystem logger; replace with a configured backend logger
// in cmd/skepticoind.
var Log = slog.Disabled

type addrKey struct {
	host string
	port uint16
}

type peerKey struct {
	addrKey
	direction addrmgr.Direction
}

func keyOf(p *peer.Peer) peerKey {
	return peerKey{addrKey: addrKey{host: p.Host, port: p.Port}, direction: p.Direction}
}

// NetworkManager owns the registry of connected and (remembered)
// disconnected peers. It holds no socket of its own: the Hub dials and
// accepts connections and reports the outcome back here.
type NetworkManager struct {
	mu sync.Mutex

	myAddresses  map[addrKey]struct{}
	connected    map[peerKey]*peer.Peer
	disconnected map[peerKey]*peer.Peer
}

// NewNetworkManager creates an empty peer registry.
func NewNetworkManager() *NetworkManager {
	return &NetworkManager{
		myAddresses:  make(map[addrKey]struct{}),
		connected:    make(map[peerKey]*peer.Peer),
		disconnected: make(map[peerKey]*peer.Peer),
	}
}

// DueForReconnect returns every disconnected outgoing peer whose backoff
// has elapsed and isn't recognized as this node's own address, and
// stamps each as attempted now. The Hub dials each returned peer.
func (nm *NetworkManager) DueForReconnect(now time.Time) []*peer.Peer {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	var due []*peer.Peer
	for _, p := range nm.disconnected {
		if p.Direction != addrmgr.Outgoing || p.Retired() {
			continue
		}
		if _, isSelf := nm.myAddresses[addrKey{p.Host, p.Port}]; isSelf {
			continue
		}
		if p.IsTimeToConnect(now) {
			p.LastConnectionAttempt = now
			p.ConnectionAttempts++
			due = append(due, p)
		}
	}
	return due
}

// HandlePeerConnected registers a newly connected peer, dropping any
// existing connection to the same (host, port, direction) as a
// duplicate.
func (nm *NetworkManager) HandlePeerConnected(p *peer.Peer) {
	nm.mu.Lock()
	key := keyOf(p)
	existing, dup := nm.connected[key]
	nm.connected[key] = p
	delete(nm.disconnected, key)
	nm.mu.Unlock()

	if dup {
		Log.Warnf("%15s duplicate peer, dropping existing connection", p.Host)
		existing.Close("duplicate")
	}
}

// HandlePeerDisconnected moves a connected peer (if outgoing) into the
// disconnected registry for future reconnection attempts.
func (nm *NetworkManager) HandlePeerDisconnected(p *peer.Peer) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	key := keyOf(p)
	delete(nm.connected, key)
	if p.Direction == addrmgr.Outgoing {
		nm.disconnected[key] = p
	}
}

// RememberOutgoing adds host:port as a candidate for outgoing connection
// if it isn't already known, connected or disconnected.
func (nm *NetworkManager) RememberOutgoing(host string, port uint16) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	key := peerKey{addrKey: addrKey{host, port}, direction: addrmgr.Outgoing}
	if _, ok := nm.connected[key]; ok {
		return
	}
	if _, ok := nm.disconnected[key]; ok {
		return
	}
	nm.disconnected[key] = &peer.Peer{Host: host, Port: port, Direction: addrmgr.Outgoing}
}

// MarkSelf records (host, port) as this node's own externally-visible
// address, so it's never dialed as an outgoing peer.
func (nm *NetworkManager) MarkSelf(host string, port uint16) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.myAddresses[addrKey{host, port}] = struct{}{}
}

// ActivePeers returns every connected peer that has completed the Hello
// handshake in both directions.
func (nm *NetworkManager) ActivePeers() []*peer.Peer {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	out := make([]*peer.Peer, 0, len(nm.connected))
	for _, p := range nm.connected {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out
}

// ConnectedOutgoingPeers returns every currently connected peer with
// Outgoing direction, used to build the Peers response.
func (nm *NetworkManager) ConnectedOutgoingPeers() []*peer.Peer {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	out := make([]*peer.Peer, 0)
	for _, p := range nm.connected {
		if p.Direction == addrmgr.Outgoing {
			out = append(out, p)
		}
	}
	return out
}

// DisconnectedOutgoingPeers returns every remembered-but-not-connected
// outgoing peer.
func (nm *NetworkManager) DisconnectedOutgoingPeers() []*peer.Peer {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	out := make([]*peer.Peer, 0)
	for _, p := range nm.disconnected {
		if p.Direction == addrmgr.Outgoing {
			out = append(out, p)
		}
	}
	return out
}

// BroadcastBlock announces a new block to every active peer.
func (nm *NetworkManager) BroadcastBlock(block *wire.Block) {
	nm.broadcast(wire.NewBlockData(block))
}

// BroadcastTransaction announces a new mempool transaction to every
// active peer.
func (nm *NetworkManager) BroadcastTransaction(tx *wire.Transaction) {
	nm.broadcast(wire.NewTransactionData(tx))
}

func (nm *NetworkManager) broadcast(msg wire.Message) {
	for _, p := range nm.ActivePeers() {
		if err := p.SendMessage(msg, wire.MessageHeader{}); err != nil {
			Log.Infof("%15s broadcast error: %v", p.Host, err)
		}
	}
}

// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"testing"
	"time"

	"github.com/skepticoin/skepticoin/addrmgr"
	"github.com/skepticoin/skepticoin/peer"
)

func TestRememberOutgoingIsIdempotent(t *testing.T) {
	nm := NewNetworkManager()
	nm.RememberOutgoing("1.2.3.4", 2412)
	nm.RememberOutgoing("1.2.3.4", 2412)

	got := nm.DisconnectedOutgoingPeers()
	if len(got) != 1 {
		t.Fatalf("expected exactly one remembered peer, got %d", len(got))
	}
}

func TestRememberOutgoingSkipsAlreadyConnectedPeer(t *testing.T) {
	nm := NewNetworkManager()
	p := &peer.Peer{Host: "1.2.3.4", Port: 2412, Direction: addrmgr.Outgoing}
	nm.HandlePeerConnected(p)

	nm.RememberOutgoing("1.2.3.4", 2412)

	if len(nm.DisconnectedOutgoingPeers()) != 0 {
		t.Fatalf("expected an already-connected address to not also be remembered as disconnected")
	}
}

func TestHandlePeerDisconnectedRemembersOutgoingOnly(t *testing.T) {
	nm := NewNetworkManager()
	out := &peer.Peer{Host: "1.2.3.4", Port: 2412, Direction: addrmgr.Outgoing}
	in := &peer.Peer{Host: "5.6.7.8", Port: 2412, Direction: addrmgr.Incoming}

	nm.HandlePeerConnected(out)
	nm.HandlePeerConnected(in)
	nm.HandlePeerDisconnected(out)
	nm.HandlePeerDisconnected(in)

	if len(nm.DisconnectedOutgoingPeers()) != 1 {
		t.Fatalf("expected only the outgoing peer to be remembered after disconnecting")
	}
	if len(nm.ConnectedOutgoingPeers()) != 0 {
		t.Fatalf("expected no peers to remain connected")
	}
}

func TestDueForReconnectHonorsBackoffAndSelfAddress(t *testing.T) {
	nm := NewNetworkManager()
	now := time.Unix(1_700_000_000, 0)

	nm.RememberOutgoing("1.2.3.4", 2412)
	nm.RememberOutgoing("5.6.7.8", 2412)
	nm.MarkSelf("5.6.7.8", 2412)

	due := nm.DueForReconnect(now)
	if len(due) != 1 || due[0].Host != "1.2.3.4" {
		t.Fatalf("expected only the non-self address to be due for reconnect, got %d entries", len(due))
	}

	// Immediately after the stamped attempt, backoff has not elapsed.
	if got := nm.DueForReconnect(now.Add(time.Second)); len(got) != 0 {
		t.Fatalf("expected no peer to be due again before its backoff elapses, got %d", len(got))
	}

	// Past the base backoff window, it's due again.
	if got := nm.DueForReconnect(now.Add(peer.ReconnectBackoff(0) + time.Second)); len(got) != 1 {
		t.Fatalf("expected the peer to be due again once backoff has elapsed, got %d", len(got))
	}
}

// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/skepticoin/skepticoin/addrmgr"
	"github.com/skepticoin/skepticoin/chainhash"
	"github.com/skepticoin/skepticoin/consensus"
	"github.com/skepticoin/skepticoin/peer"
	"github.com/skepticoin/skepticoin/store"
	"github.com/skepticoin/skepticoin/wire"
)

// DefaultTickInterval is how often the Hub checks for due reconnects,
// GetPeers refreshes and IBD requests, absent an explicit interval
// (original_source's local_peer.py runs its selector loop with a 1
// second timeout for the same purpose).
const DefaultTickInterval = 1 * time.Second

// DialTimeout bounds a single outgoing connection attempt.
const DialTimeout = 10 * time.Second

// MaxPeersInResponse caps how many addresses a Peers message carries,
// matching original_source's hardcoded 1000.
const MaxPeersInResponse = 1000

// Hub is the node's local peer: it owns the listening socket, dials
// disconnected peers that are due for a reconnection attempt, and
// implements peer.Delegate to turn wire messages into calls against
// NetworkManager, ChainManager and the block store. It is the Go
// counterpart of original_source's networking/local_peer.py LocalPeer
// and networking/remote_peer.py's per-connection handlers, collapsed
// into one reactor because Go peers already run their own read loop as
// a goroutine instead of sharing a single-threaded selector.
type Hub struct {
	NetworkManager *NetworkManager
	ChainManager   *ChainManager
	Store          *store.BlockStore
	AddrMgr        *addrmgr.Manager
	SeenFilter     *SeenFilter
	SigCache       *consensus.SigCache

	LocalNonce uint32
	Port       uint16
	UserAgent  string

	listener net.Listener
}

// NewHub wires up a Hub ready to Run.
func NewHub(nm *NetworkManager, cm *ChainManager, st *store.BlockStore, am *addrmgr.Manager,
	sigCache *consensus.SigCache, localNonce uint32, port uint16, userAgent string) *Hub {
	return &Hub{
		NetworkManager: nm,
		ChainManager:   cm,
		Store:          st,
		AddrMgr:        am,
		SeenFilter:     NewSeenFilter(50_000),
		SigCache:       sigCache,
		LocalNonce:     localNonce,
		Port:           port,
		UserAgent:      userAgent,
	}
}

// Run listens on listenAddr (unless empty, which disables incoming
// connections entirely, as "dont_listen" does for secondary miner
// processes in original_source) and drives the reconnect/GetPeers/IBD
// tick loop on tickInterval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, listenAddr string, tickInterval time.Duration) error {
	if listenAddr != "" {
		ln, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return err
		}
		h.listener = ln
		go h.acceptLoop()
	}

	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if h.listener != nil {
				h.listener.Close()
			}
			return ctx.Err()
		case now := <-ticker.C:
			h.tick(now)
		}
	}
}

func (h *Hub) acceptLoop() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			return
		}
		go h.handleAccepted(conn)
	}
}

func (h *Hub) handleAccepted(conn net.Conn) {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		conn.Close()
		return
	}

	p := peer.NewConnected(conn, host, uint16(port), addrmgr.Incoming, h.LocalNonce, h)
	p.Run(h.buildHello(p))
}

// tick fires reconnect dials, periodic GetPeers refreshes and the IBD
// step, once per tickInterval.
func (h *Hub) tick(now time.Time) {
	for _, due := range h.NetworkManager.DueForReconnect(now) {
		go h.dial(due)
	}

	active := h.NetworkManager.ActivePeers()
	for _, ap := range active {
		if ap.WaitingForPeers() {
			continue
		}
		last := ap.LastGetPeersSentAt.Load()
		if last != 0 && now.Sub(time.Unix(last, 0)) < peer.GetPeersInterval {
			continue
		}
		if err := ap.SendMessage(wire.GetPeers{}, wire.MessageHeader{}); err == nil {
			ap.SetWaitingForPeers(true)
			ap.MarkGetPeersSent(now)
		}
	}

	if chosen, msg, ok := h.ChainManager.Step(now, active); ok {
		if err := chosen.SendMessage(msg, wire.MessageHeader{}); err != nil {
			Log.Infof("%15s get-blocks send failed: %v", chosen.Host, err)
		}
	}
}

func (h *Hub) dial(due *peer.Peer) {
	addr := net.JoinHostPort(due.Host, strconv.Itoa(int(due.Port)))
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		Log.Debugf("%15s dial failed: %v", due.Host, err)
		return
	}

	p := peer.NewConnected(conn, due.Host, due.Port, addrmgr.Outgoing, h.LocalNonce, h)
	p.BanScore = due.BanScore
	p.ConnectionAttempts = due.ConnectionAttempts
	p.LastConnectionAttempt = due.LastConnectionAttempt
	p.Run(h.buildHello(p))
}

func (h *Hub) buildHello(p *peer.Peer) wire.Hello {
	return wire.Hello{
		Versions:  []uint32{0},
		YourIP:    ipv4MappedBytes(p.Host),
		YourPort:  p.Port,
		MyIP:      [16]byte{}, // unspecified, per spec.md §4.H: no IPv6 support
		MyPort:    h.Port,
		Nonce:     h.LocalNonce,
		UserAgent: h.UserAgent,
	}
}

// HandleHello implements peer.Delegate.
func (h *Hub) HandleHello(p *peer.Peer, msg wire.Hello) {
	h.NetworkManager.HandlePeerConnected(p)

	if p.Direction == addrmgr.Incoming {
		// Also remember the reverse (outgoing) address so this node can
		// reconnect the other way after a restart, mirroring
		// remote_peer.py's handle_hello_message_received.
		h.NetworkManager.RememberOutgoing(p.Host, msg.MyPort)
	}

	if p.Direction == addrmgr.Outgoing && msg.Nonce == h.LocalNonce {
		h.NetworkManager.MarkSelf(p.Host, p.Port)
		p.Close("connection to self")
		return
	}

	if h.AddrMgr != nil {
		if err := h.AddrMgr.Upsert(p.Host, p.Port, p.Direction, time.Now()); err != nil {
			Log.Warnf("%15s failed to persist peer address: %v", p.Host, err)
		}
	}
}

// HandleDisconnected implements peer.Delegate.
func (h *Hub) HandleDisconnected(p *peer.Peer, reason string) {
	h.NetworkManager.HandlePeerDisconnected(p)
}

// HandleMessage implements peer.Delegate, dispatching on the concrete
// wire message type the way remote_peer.py's handle_message_received
// does with isinstance checks.
func (h *Hub) HandleMessage(p *peer.Peer, header wire.MessageHeader, msg wire.Message) {
	switch m := msg.(type) {
	case wire.GetBlocks:
		h.handleGetBlocks(p, header, m)
	case wire.Inventory:
		h.handleInventory(p, header, m)
	case wire.GetData:
		h.handleGetData(p, header, m)
	case wire.Data:
		h.handleData(p, header, m)
	case wire.GetPeers:
		h.handleGetPeers(p, header)
	case wire.Peers:
		h.handlePeersReceived(m)
	}
}

func (h *Hub) handleGetBlocks(p *peer.Peer, header wire.MessageHeader, msg wire.GetBlocks) {
	cs := h.ChainManager.CoinState()

	startHeight := uint64(1)
	found := false

	for _, psh := range msg.PotentialStartHashes {
		if !cs.HasBlockHash(psh) {
			continue
		}
		known, err := h.Store.FetchBlockByHash(psh)
		if err != nil || known == nil {
			continue
		}

		candidateHeight := known.Height() + 1
		if candidateHeight > cs.Head().Height {
			// We have no new info beyond what this peer already has.
			p.SendMessage(wire.Inventory{}, header)
			return
		}

		atHeight, err := cs.BlockAtHeight(candidateHeight)
		if err != nil {
			continue
		}
		if atHeight.Header.Summary.PreviousBlockHash == psh {
			startHeight = candidateHeight
			found = true
			break
		}
	}
	if !found {
		startHeight = 1
	}

	maxHeight := cs.Head().Height + 1
	var items []wire.InventoryItem
	for height := startHeight; height < maxHeight && uint64(len(items)) < GetBlocksInventorySize; height++ {
		block, err := cs.BlockAtHeight(height)
		if err != nil {
			break
		}
		items = append(items, wire.InventoryItem{DataType: wire.DataTypeBlock, Hash: block.Hash()})
	}
	p.SendMessage(wire.Inventory{Items: items}, header)
}

func (h *Hub) handleInventory(p *peer.Peer, header wire.MessageHeader, msg wire.Inventory) {
	if len(msg.Items) > GetBlocksInventorySize {
		p.Close("inventory message too large")
		return
	}

	if len(msg.Items) == 0 {
		p.LastEmptyInventoryResponseAt.Store(time.Now().Unix())
		p.SetWaitingForInventory(false)
		return
	}

	cs := h.ChainManager.CoinState()
	for _, item := range msg.Items {
		if item.DataType != wire.DataTypeBlock {
			continue
		}
		if cs.HasBlockHash(item.Hash) || h.SeenFilter.Seen(item.Hash) {
			continue
		}
		h.SeenFilter.MarkSeen(item.Hash)
		p.SendMessage(wire.GetData{DataType: wire.DataTypeBlock, Hash: item.Hash}, header)
	}

	// Speed optimization: immediately ask for more, continuing from the
	// last hash this batch announced (remote_peer.py does the same).
	last := msg.Items[len(msg.Items)-1].Hash
	p.SendMessage(wire.GetBlocks{PotentialStartHashes: []chainhash.Hash{last}}, header)
}

func (h *Hub) handleGetData(p *peer.Peer, header wire.MessageHeader, msg wire.GetData) {
	switch msg.DataType {
	case wire.DataTypeBlock:
		block, err := h.Store.FetchBlockByHash(msg.Hash)
		if err != nil || block == nil {
			return // silently ignore, as remote_peer.py does for unknown hashes
		}
		p.SendMessage(wire.NewBlockData(block), header)
	case wire.DataTypeTransaction:
		tx, ok := h.ChainManager.TransactionByHash(msg.Hash)
		if !ok {
			return
		}
		p.SendMessage(wire.NewTransactionData(tx), header)
	}
}

func (h *Hub) handleData(p *peer.Peer, header wire.MessageHeader, msg wire.Data) {
	switch msg.DataType {
	case wire.DataTypeBlock:
		block, err := msg.Block()
		if err != nil {
			p.Close("malformed block data")
			return
		}
		h.handleBlockReceived(p, header, block)
	case wire.DataTypeTransaction:
		tx, err := msg.Transaction()
		if err != nil {
			p.Close("malformed transaction data")
			return
		}
		h.handleTransactionReceived(tx)
	}
}

func (h *Hub) handleBlockReceived(p *peer.Peer, header wire.MessageHeader, block *wire.Block) {
	hash := block.Hash()
	h.SeenFilter.MarkSeen(hash)

	cs := h.ChainManager.CoinState()
	if cs.HasBlockHash(hash) {
		return
	}
	if !cs.HasBlockHash(block.Header.Summary.PreviousBlockHash) {
		// Not uncommon (a block raced ahead of its parent); no special
		// handling needed, the parent will arrive via its own Inventory.
		Log.Infof("%15s block received out of order for height %d", p.Host, block.Height())
		return
	}

	if err := consensus.ValidateBlockByItself(block, uint32(time.Now().Unix())); err != nil {
		Log.Infof("%15s invalid block: %v", p.Host, err)
		return
	}

	next, err := h.ChainManager.AddBlock(block)
	if err != nil {
		Log.Infof("%15s invalid block in coinstate: %v", p.Host, err)
		return
	}

	if _, err := h.Store.WriteBlocks([]*wire.Block{block}); err != nil {
		Log.Errorf("%15s failed to persist block %s: %v", p.Host, hash, err)
	}

	if header.InResponseTo == 0 && next.HeadBlock().Hash() == hash {
		// header.InResponseTo == 0 is a proxy for "not during IBD": an
		// unsolicited Data push is how a freshly-mined block arrives.
		// Blocks fetched to catch up shouldn't be re-announced, since
		// becoming our head mid-IBD says nothing about the real chain.
		h.NetworkManager.BroadcastBlock(block)
	}
}

func (h *Hub) handleTransactionReceived(tx *wire.Transaction) {
	hash := tx.Hash()
	if h.ChainManager.ContainsTransaction(hash) {
		return
	}
	if err := h.ChainManager.AddTransactionToPool(tx); err != nil {
		Log.Debugf("rejected transaction %s: %v", hash, err)
		return
	}
	h.NetworkManager.BroadcastTransaction(tx)
}

func (h *Hub) handleGetPeers(p *peer.Peer, header wire.MessageHeader) {
	now := uint32(time.Now().Unix())
	var peers []wire.Peer

	for _, op := range h.NetworkManager.ConnectedOutgoingPeers() {
		if int(op.BanScore) >= peer.MaxConnectionAttempts {
			continue
		}
		peers = append(peers, wire.Peer{LastSeen: now, IPv6: ipv4MappedBytes(op.Host), Port: op.Port})
	}
	for _, op := range h.NetworkManager.DisconnectedOutgoingPeers() {
		if int(op.BanScore) >= peer.MaxConnectionAttempts {
			continue
		}
		peers = append(peers, wire.Peer{LastSeen: 0, IPv6: ipv4MappedBytes(op.Host), Port: op.Port})
	}
	if len(peers) > MaxPeersInResponse {
		peers = peers[:MaxPeersInResponse]
	}

	p.SendMessage(wire.Peers{Peers: peers}, header)
}

func (h *Hub) handlePeersReceived(msg wire.Peers) {
	// Peers learned this way must not overwrite an existing ban score,
	// to avoid being flooded with nonsense addresses; RememberOutgoing
	// already no-ops if the key is known either way.
	for _, announced := range msg.Peers {
		host, ok := hostFromIPv4Mapped(announced.IPv6)
		if !ok {
			continue // IPv6-only address: unsupported per spec.md's Non-goals
		}
		h.NetworkManager.RememberOutgoing(host, announced.Port)
	}
}

// ipv4MappedBytes encodes host (expected to be a dotted-quad IPv4
// address) as an IPv4-mapped IPv6 address. Hosts that don't parse as
// IPv4 encode as the unspecified address.
func ipv4MappedBytes(host string) [16]byte {
	var out [16]byte
	ip := net.ParseIP(host)
	if ip4 := ip.To4(); ip4 != nil {
		out[10] = 0xff
		out[11] = 0xff
		copy(out[12:], ip4)
	}
	return out
}

// hostFromIPv4Mapped decodes an IPv4-mapped IPv6 address back to a
// dotted-quad string. ok is false for any other address family, which
// this node cannot dial (spec.md's Non-goals exclude IPv6).
func hostFromIPv4Mapped(b [16]byte) (string, bool) {
	for i := 0; i < 10; i++ {
		if b[i] != 0 {
			return "", false
		}
	}
	if b[10] != 0xff || b[11] != 0xff {
		return "", false
	}
	return net.IP(b[12:16]).String(), true
}

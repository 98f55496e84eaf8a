// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/skepticoin/skepticoin/chainhash"
)

// UserAgentMaxSize bounds Hello.UserAgent, which is length-prefixed by a
// single byte.
const UserAgentMaxSize = 255

// helloReservedSize is the number of reserved zero bytes at the end of a
// Hello message, left for future extension.
const helloReservedSize = 256

// Hello is the first message exchanged on every new connection. Nonce
// lets a node recognize and drop a connection to itself.
type Hello struct {
	Versions []uint32
	YourIP   [16]byte
	YourPort uint16
	MyIP     [16]byte
	MyPort   uint16
	Nonce    uint32
	UserAgent string
}

// Command implements Message.
func (Hello) Command() uint16 { return CmdHello }

func (h Hello) encode(buf []byte) []byte {
	buf = putVLQ(buf, uint64(len(h.Versions)))
	for _, v := range h.Versions {
		buf = putUint32BE(buf, v)
	}
	buf = append(buf, h.YourIP[:]...)
	buf = putUint16BE(buf, h.YourPort)
	buf = append(buf, h.MyIP[:]...)
	buf = putUint16BE(buf, h.MyPort)
	buf = putUint32BE(buf, h.Nonce)
	ua := []byte(h.UserAgent)
	buf = append(buf, byte(len(ua)))
	buf = append(buf, ua...)
	buf = append(buf, make([]byte, helloReservedSize)...)
	return buf
}

func decodeHello(r io.Reader) (Message, error) {
	h := Hello{}
	numVersions, err := readVLQ(r)
	if err != nil {
		return nil, err
	}
	h.Versions = make([]uint32, numVersions)
	for i := range h.Versions {
		vb, err := safeRead(r, 4)
		if err != nil {
			return nil, err
		}
		h.Versions[i] = beUint32(vb)
	}
	yourIP, err := safeRead(r, 16)
	if err != nil {
		return nil, err
	}
	copy(h.YourIP[:], yourIP)
	yourPort, err := safeRead(r, 2)
	if err != nil {
		return nil, err
	}
	h.YourPort = beUint16(yourPort)
	myIP, err := safeRead(r, 16)
	if err != nil {
		return nil, err
	}
	copy(h.MyIP[:], myIP)
	myPort, err := safeRead(r, 2)
	if err != nil {
		return nil, err
	}
	h.MyPort = beUint16(myPort)
	nonce, err := safeRead(r, 4)
	if err != nil {
		return nil, err
	}
	h.Nonce = beUint32(nonce)
	uaLen, err := safeRead(r, 1)
	if err != nil {
		return nil, err
	}
	ua, err := safeRead(r, int(uaLen[0]))
	if err != nil {
		return nil, err
	}
	h.UserAgent = string(ua)
	if _, err := safeRead(r, helloReservedSize); err != nil {
		return nil, err
	}
	return h, nil
}

// GetBlocks requests a chain of blocks beginning right after whichever of
// PotentialStartHashes the peer has, and ending at StopHash (or the
// peer's head, if StopHash is the zero hash).
type GetBlocks struct {
	PotentialStartHashes []chainhash.Hash
	StopHash             chainhash.Hash
}

// Command implements Message.
func (GetBlocks) Command() uint16 { return CmdGetBlocks }

func (g GetBlocks) encode(buf []byte) []byte {
	buf = putVLQ(buf, uint64(len(g.PotentialStartHashes)))
	for _, h := range g.PotentialStartHashes {
		buf = append(buf, h[:]...)
	}
	return append(buf, g.StopHash[:]...)
}

func decodeGetBlocks(r io.Reader) (Message, error) {
	g := GetBlocks{}
	count, err := readVLQ(r)
	if err != nil {
		return nil, err
	}
	g.PotentialStartHashes = make([]chainhash.Hash, count)
	for i := range g.PotentialStartHashes {
		hb, err := safeRead(r, chainhash.HashSize)
		if err != nil {
			return nil, err
		}
		copy(g.PotentialStartHashes[i][:], hb)
	}
	sh, err := safeRead(r, chainhash.HashSize)
	if err != nil {
		return nil, err
	}
	copy(g.StopHash[:], sh)
	return g, nil
}

// Inventory item data-type discriminants.
const (
	DataTypeBlock       uint16 = 0x0000
	DataTypeHeader      uint16 = 0x0001
	DataTypeTransaction uint16 = 0x0002
)

// InventoryItem identifies a single block, header or transaction by hash.
type InventoryItem struct {
	DataType uint16
	Hash     chainhash.Hash
}

func (i InventoryItem) serialize(buf []byte) []byte {
	buf = putUint16BE(buf, i.DataType)
	return append(buf, i.Hash[:]...)
}

func readInventoryItem(r io.Reader) (InventoryItem, error) {
	var item InventoryItem
	dt, err := safeRead(r, 2)
	if err != nil {
		return item, err
	}
	item.DataType = beUint16(dt)
	hb, err := safeRead(r, chainhash.HashSize)
	if err != nil {
		return item, err
	}
	copy(item.Hash[:], hb)
	return item, nil
}

// Inventory announces items a peer has available, without sending their
// full content.
type Inventory struct {
	Items []InventoryItem
}

// Command implements Message.
func (Inventory) Command() uint16 { return CmdInventory }

func (inv Inventory) encode(buf []byte) []byte {
	buf = putVLQ(buf, uint64(len(inv.Items)))
	for _, it := range inv.Items {
		buf = it.serialize(buf)
	}
	return buf
}

func decodeInventory(r io.Reader) (Message, error) {
	count, err := readVLQ(r)
	if err != nil {
		return nil, err
	}
	items := make([]InventoryItem, count)
	for i := range items {
		item, err := readInventoryItem(r)
		if err != nil {
			return nil, err
		}
		items[i] = item
	}
	return Inventory{Items: items}, nil
}

// GetData requests the full content of a single previously-announced
// item.
type GetData struct {
	DataType uint16
	Hash     chainhash.Hash
}

// Command implements Message.
func (GetData) Command() uint16 { return CmdGetData }

func (g GetData) encode(buf []byte) []byte {
	buf = putUint16BE(buf, g.DataType)
	return append(buf, g.Hash[:]...)
}

func decodeGetData(r io.Reader) (Message, error) {
	dt, err := safeRead(r, 2)
	if err != nil {
		return nil, err
	}
	hb, err := safeRead(r, chainhash.HashSize)
	if err != nil {
		return nil, err
	}
	var g GetData
	g.DataType = beUint16(dt)
	copy(g.Hash[:], hb)
	return g, nil
}

// Data carries the serialized content of a single block, header or
// transaction, answering a prior GetData.
type Data struct {
	DataType uint16
	Payload  []byte
}

// Command implements Message.
func (Data) Command() uint16 { return CmdData }

func (d Data) encode(buf []byte) []byte {
	buf = putUint16BE(buf, d.DataType)
	return append(buf, d.Payload...)
}

func decodeData(r io.Reader) (Message, error) {
	dt, err := safeRead(r, 2)
	if err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Data{DataType: beUint16(dt), Payload: payload}, nil
}

// Block decodes the Data payload as a Block. The caller must check
// DataType == DataTypeBlock first.
func (d Data) Block() (*Block, error) {
	if d.DataType != DataTypeBlock {
		return nil, fmt.Errorf("wire: data type 0x%04x is not a block", d.DataType)
	}
	return DeserializeBlock(byteReader(d.Payload))
}

// Header decodes the Data payload as a BlockHeader. The caller must check
// DataType == DataTypeHeader first.
func (d Data) Header() (*BlockHeader, error) {
	if d.DataType != DataTypeHeader {
		return nil, fmt.Errorf("wire: data type 0x%04x is not a header", d.DataType)
	}
	return DeserializeBlockHeader(byteReader(d.Payload))
}

// Transaction decodes the Data payload as a Transaction. The caller must
// check DataType == DataTypeTransaction first.
func (d Data) Transaction() (*Transaction, error) {
	if d.DataType != DataTypeTransaction {
		return nil, fmt.Errorf("wire: data type 0x%04x is not a transaction", d.DataType)
	}
	return DeserializeTransaction(byteReader(d.Payload))
}

// NewBlockData serializes b into a Data message.
func NewBlockData(b *Block) Data {
	return Data{DataType: DataTypeBlock, Payload: b.Serialize()}
}

// NewHeaderData serializes h into a Data message.
func NewHeaderData(h *BlockHeader) Data {
	return Data{DataType: DataTypeHeader, Payload: h.Serialize()}
}

// NewTransactionData serializes tx into a Data message.
func NewTransactionData(tx *Transaction) Data {
	return Data{DataType: DataTypeTransaction, Payload: tx.Serialize()}
}

// GetPeers requests the recipient's known-peer list. It carries no body.
type GetPeers struct{}

// Command implements Message.
func (GetPeers) Command() uint16 { return CmdGetPeers }

func (GetPeers) encode(buf []byte) []byte { return buf }

func decodeGetPeers(r io.Reader) (Message, error) {
	return GetPeers{}, nil
}

// Peer is a single entry in a Peers message: an address last seen
// connectable at the given unix timestamp.
type Peer struct {
	LastSeen uint32
	IPv6     [16]byte
	Port     uint16
}

func (p Peer) serialize(buf []byte) []byte {
	buf = putUint32BE(buf, p.LastSeen)
	buf = append(buf, p.IPv6[:]...)
	return putUint16BE(buf, p.Port)
}

func readPeer(r io.Reader) (Peer, error) {
	var p Peer
	lsb, err := safeRead(r, 4)
	if err != nil {
		return p, err
	}
	p.LastSeen = beUint32(lsb)
	ipb, err := safeRead(r, 16)
	if err != nil {
		return p, err
	}
	copy(p.IPv6[:], ipb)
	portb, err := safeRead(r, 2)
	if err != nil {
		return p, err
	}
	p.Port = beUint16(portb)
	return p, nil
}

// Peers answers a GetPeers with a list of addresses known to be reachable.
type Peers struct {
	Peers []Peer
}

// Command implements Message.
func (Peers) Command() uint16 { return CmdPeers }

func (p Peers) encode(buf []byte) []byte {
	buf = putVLQ(buf, uint64(len(p.Peers)))
	for _, peer := range p.Peers {
		buf = peer.serialize(buf)
	}
	return buf
}

func decodePeers(r io.Reader) (Message, error) {
	count, err := readVLQ(r)
	if err != nil {
		return nil, err
	}
	peers := make([]Peer, count)
	for i := range peers {
		peer, err := readPeer(r)
		if err != nil {
			return nil, err
		}
		peers[i] = peer
	}
	return Peers{Peers: peers}, nil
}

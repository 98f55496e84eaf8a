// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"fmt"
	"io"
)

// Magic is the 4-byte value that prefixes every framed message on the
// wire, guarding against misframed or cross-network traffic.
var Magic = [4]byte{'M', 'A', 'J', 'I'}

// MaxMessageSize is the largest payload (header + body) the framing
// layer will accept before closing the connection (spec.md §4.H).
const MaxMessageSize = 32 * 1024 * 1024

// HeaderSize is the fixed wire size of a MessageHeader: 1 version byte,
// three u32 fields, one u64 field, and 32 reserved bytes.
const HeaderSize = 1 + 4 + 4 + 4 + 8 + 32

// MessageHeader precedes every message body on the wire.
type MessageHeader struct {
	Version       uint8
	Timestamp     uint32
	ID            uint32
	InResponseTo  uint32
	Context       uint64
}

func (h *MessageHeader) serialize() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = append(buf, h.Version)
	buf = putUint32BE(buf, h.Timestamp)
	buf = putUint32BE(buf, h.ID)
	buf = putUint32BE(buf, h.InResponseTo)
	buf = putUint64BE(buf, h.Context)
	buf = append(buf, make([]byte, 32)...)
	return buf
}

func deserializeMessageHeader(b []byte) (MessageHeader, error) {
	if len(b) != HeaderSize {
		return MessageHeader{}, fmt.Errorf("wire: header must be %d bytes, got %d", HeaderSize, len(b))
	}
	h := MessageHeader{
		Version:      b[0],
		Timestamp:    beUint32(b[1:5]),
		ID:           beUint32(b[5:9]),
		InResponseTo: beUint32(b[9:13]),
		Context:      beUint64(b[13:21]),
	}
	return h, nil
}

// Message type discriminants (spec.md §4.H).
const (
	CmdHello     uint16 = 0x0000
	CmdGetBlocks uint16 = 0x0001
	CmdInventory uint16 = 0x0002
	CmdGetData   uint16 = 0x0003
	CmdData      uint16 = 0x0004
	CmdGetPeers  uint16 = 0x0005
	CmdPeers     uint16 = 0x0006
)

// Message is implemented by every p2p message body.
type Message interface {
	Command() uint16
	encode(buf []byte) []byte
}

func decodeMessage(command uint16, body []byte) (Message, error) {
	r := bytes.NewReader(body)
	versionB, err := safeRead(r, 1)
	if err != nil {
		return nil, err
	}
	if versionB[0] != 0 {
		return nil, fmt.Errorf("wire: unsupported message version %d", versionB[0])
	}
	switch command {
	case CmdHello:
		return decodeHello(r)
	case CmdGetBlocks:
		return decodeGetBlocks(r)
	case CmdInventory:
		return decodeInventory(r)
	case CmdGetData:
		return decodeGetData(r)
	case CmdData:
		return decodeData(r)
	case CmdGetPeers:
		return decodeGetPeers(r)
	case CmdPeers:
		return decodePeers(r)
	default:
		return nil, fmt.Errorf("wire: unknown message command 0x%04x", command)
	}
}

// WriteFramedMessage writes Magic || length || header || command ||
// version(0) || body to w.
func WriteFramedMessage(w io.Writer, header MessageHeader, msg Message) error {
	body := msg.encode(nil)
	payload := make([]byte, 0, HeaderSize+2+1+len(body))
	payload = append(payload, header.serialize()...)
	payload = putUint16BE(payload, msg.Command())
	payload = append(payload, 0) // message version
	payload = append(payload, body...)

	if len(payload) > MaxMessageSize {
		return fmt.Errorf("wire: message of %d bytes exceeds maximum of %d", len(payload), MaxMessageSize)
	}

	frame := make([]byte, 0, 4+4+len(payload))
	frame = append(frame, Magic[:]...)
	frame = putUint32BE(frame, uint32(len(payload)))
	frame = append(frame, payload...)

	_, err := w.Write(frame)
	return err
}

// ReadFramedMessage reads one complete framed message from r, validating
// the magic prefix and enforcing MaxMessageSize before attempting to
// allocate or decode the body.
func ReadFramedMessage(r io.Reader) (MessageHeader, Message, error) {
	magicB, err := safeRead(r, 4)
	if err != nil {
		return MessageHeader{}, nil, err
	}
	if !bytes.Equal(magicB, Magic[:]) {
		return MessageHeader{}, nil, fmt.Errorf("wire: bad magic %x", magicB)
	}

	lenB, err := safeRead(r, 4)
	if err != nil {
		return MessageHeader{}, nil, err
	}
	length := beUint32(lenB)
	if length > MaxMessageSize {
		return MessageHeader{}, nil, fmt.Errorf("wire: framed length %d exceeds maximum %d", length, MaxMessageSize)
	}
	if length < HeaderSize+3 {
		return MessageHeader{}, nil, fmt.Errorf("wire: framed length %d too small for header+command", length)
	}

	payload, err := safeRead(r, int(length))
	if err != nil {
		return MessageHeader{}, nil, err
	}

	header, err := deserializeMessageHeader(payload[:HeaderSize])
	if err != nil {
		return MessageHeader{}, nil, err
	}
	command := beUint16(payload[HeaderSize : HeaderSize+2])
	body := payload[HeaderSize+2:]

	msg, err := decodeMessage(command, body)
	if err != nil {
		return MessageHeader{}, nil, err
	}
	return header, msg, nil
}

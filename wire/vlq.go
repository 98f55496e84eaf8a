// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"errors"
	"io"
)

// byteReader adapts a byte slice to io.Reader for the Deserialize*
// functions, which all read incrementally rather than taking []byte
// directly.
func byteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// ErrTruncated is returned by safeRead and friends when fewer bytes than
// requested remain in the stream. Per spec.md §4.A, truncation is a
// distinct error kind from a structurally invalid encoding: the caller
// is expected to drop the message and disconnect the peer rather than
// attempt to interpret a partial read.
var ErrTruncated = errors.New("wire: truncated stream")

// safeRead reads exactly n bytes from r, returning ErrTruncated instead
// of io.ErrUnexpectedEOF when fewer bytes are available. This is the Go
// expression of the spec's safe_read(n).
func safeRead(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrTruncated
	}
	return buf, nil
}

// putVLQ appends the variable-length-quantity encoding of v to buf and
// returns the result. VLQ encodes non-negative integers most-significant-
// group first, 7 bits per byte, with the high bit of every byte but the
// last set to signal continuation. Zero encodes as the single byte 0x00.
func putVLQ(buf []byte, v uint64) []byte {
	// Collect 7-bit groups, least significant first, then emit most
	// significant first per the wire format.
	var groups []byte
	groups = append(groups, byte(v&0x7f))
	v >>= 7
	for v > 0 {
		groups = append(groups, byte(v&0x7f))
		v >>= 7
	}
	for i := len(groups) - 1; i >= 0; i-- {
		b := groups[i]
		if i != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
	}
	return buf
}

// serializeVLQ returns the VLQ encoding of v.
func serializeVLQ(v uint64) []byte {
	return putVLQ(nil, v)
}

// readVLQ reads and decodes a VLQ-encoded unsigned integer from r.
func readVLQ(r io.Reader) (uint64, error) {
	var v uint64
	for {
		b, err := safeRead(r, 1)
		if err != nil {
			return 0, err
		}
		v = (v << 7) | uint64(b[0]&0x7f)
		if b[0]&0x80 == 0 {
			return v, nil
		}
	}
}

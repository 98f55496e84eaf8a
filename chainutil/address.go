// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainutil provides helpers for displaying and parsing values
// that cross the boundary between the wire format and a human: coin
// amounts and addresses.
package chainutil

import (
	"encoding/hex"
	"errors"

	"github.com/skepticoin/skepticoin/wire"
)

const (
	addressPrefix = "SKE"
	addressSuffix = "PTI"
	// AddressLength is the total length, in ASCII characters, of an
	// encoded address: the prefix, hex(64-byte public key), and suffix.
	AddressLength = len(addressPrefix) + wire.SECP256k1PublicKeySize*2 + len(addressSuffix)
)

// ErrMalformedAddress is returned by DecodeAddress when its input does
// not have the SKE...PTI shape of a valid address.
var ErrMalformedAddress = errors.New("chainutil: malformed address")

// EncodeAddress renders pk as the external address format
// "SKE" || hex(64-byte public key) || "PTI".
func EncodeAddress(pk wire.SECP256k1PublicKey) string {
	return addressPrefix + hex.EncodeToString(pk.Bytes[:]) + addressSuffix
}

// DecodeAddress parses an address produced by EncodeAddress back into a
// public key.
func DecodeAddress(address string) (wire.SECP256k1PublicKey, error) {
	var pk wire.SECP256k1PublicKey
	if len(address) != AddressLength {
		return pk, ErrMalformedAddress
	}
	if address[:len(addressPrefix)] != addressPrefix {
		return pk, ErrMalformedAddress
	}
	if address[len(address)-len(addressSuffix):] != addressSuffix {
		return pk, ErrMalformedAddress
	}
	body := address[len(addressPrefix) : len(address)-len(addressSuffix)]
	decoded, err := hex.DecodeString(body)
	if err != nil {
		return pk, ErrMalformedAddress
	}
	copy(pk.Bytes[:], decoded)
	return pk, nil
}

// IsValidAddress reports whether address parses as a well-formed
// address, without returning the decoded key.
func IsValidAddress(address string) bool {
	_, err := DecodeAddress(address)
	return err == nil
}

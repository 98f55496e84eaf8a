// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package consensus implements the proof-of-work protocol and the
// stateless and stateful validation rules every block and transaction
// must satisfy (spec.md §4.D, §4.E).
package consensus

import (
	"fmt"

	"github.com/decred/slog"
)

// Log is the subsystem logger; cmd/skepticoind replaces it with a
// configured backend.
var Log = slog.Disabled

// ErrorKind identifies a class of rule violation. Callers branch on kind
// with errors.Is rather than parsing message text (spec.md §7's error
// taxonomy: SerializationTruncation, ValidateTransaction, ValidatePOW,
// ValidateBlockHeader, ValidateBlock).
type ErrorKind string

// Error satisfies the error interface so an ErrorKind on its own can be
// compared with errors.Is against a wrapped RuleError.
func (k ErrorKind) Error() string {
	return string(k)
}

// Error kinds, one per validation stage: proof of work, block header,
// whole block and transaction.
const (
	ErrValidatePOW         = ErrorKind("ValidatePOW")
	ErrValidateBlockHeader = ErrorKind("ValidateBlockHeader")
	ErrValidateBlock       = ErrorKind("ValidateBlock")
	ErrValidateTransaction = ErrorKind("ValidateTransaction")
)

// RuleError identifies a consensus rule violation. It always wraps one
// of the ErrorKind constants above, so callers can use errors.Is(err,
// consensus.ErrValidateBlock) etc. regardless of the specific message.
type RuleError struct {
	Kind        ErrorKind
	Description string
}

// Error implements the error interface.
func (e RuleError) Error() string {
	return e.Description
}

// Unwrap allows errors.Is(err, ErrValidateBlock) to succeed for any
// RuleError of that kind.
func (e RuleError) Unwrap() error {
	return e.Kind
}

func ruleError(kind ErrorKind, desc string) RuleError {
	return RuleError{Kind: kind, Description: desc}
}

func ruleErrorf(kind ErrorKind, format string, args ...interface{}) RuleError {
	return RuleError{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainutil

import (
	"fmt"

	"github.com/skepticoin/skepticoin/wire"
)

// Amount represents a quantity of skepticoin, stored internally in
// sashimi the way every wire value is, so no conversion is needed at
// the consensus boundary.
type Amount int64

// NewAmount creates an Amount from whole coins, truncating any fraction
// of a sashimi, and rejects values that fall outside the valid range.
func NewAmount(coins float64) (Amount, error) {
	sashimi := int64(coins * wire.SashimiPerCoin)
	if sashimi < 0 || sashimi > wire.MaxSashimi {
		return 0, fmt.Errorf("chainutil: %.8f coins is outside the valid range", coins)
	}
	return Amount(sashimi), nil
}

// ToCoin returns the amount expressed in whole coins.
func (a Amount) ToCoin() float64 {
	return float64(a) / wire.SashimiPerCoin
}

// String formats the amount the way the rest of the ecosystem expects
// to see it reported: a fixed-point coin quantity followed by the
// "SKEPTI" unit.
func (a Amount) String() string {
	return fmt.Sprintf("%.8f SKEPTI", a.ToCoin())
}

// FormatSashimi formats a raw sashimi value the same way, for call
// sites that don't otherwise need an Amount.
func FormatSashimi(sashimi uint64) string {
	return Amount(sashimi).String()
}

// FormatHashrate formats a hashes-per-second figure in kilohashes per
// second with one decimal place, e.g. 12300 becomes "12.3 kH/s".
func FormatHashrate(hashesPerSecond float64) string {
	return fmt.Sprintf("%.1f kH/s", hashesPerSecond/1000)
}

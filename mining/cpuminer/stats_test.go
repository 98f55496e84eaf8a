// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cpuminer

import (
	"testing"

	"github.com/skepticoin/skepticoin/wire"
)

func TestExpectedSashimiPerHourScalesWithHashrate(t *testing.T) {
	var target [wire.TargetSize]byte
	target[0] = 0x01 // 2^248: about one hash in 256 wins

	slow := expectedSashimiPerHour(1, target, 100)
	fast := expectedSashimiPerHour(2, target, 100)
	if fast <= slow {
		t.Fatalf("expected income to grow with hashrate: slow=%v fast=%v", slow, fast)
	}
}

func TestExpectedSashimiPerHourZeroCases(t *testing.T) {
	var maxTarget [wire.TargetSize]byte
	for i := range maxTarget {
		maxTarget[i] = 0xff
	}

	if got := expectedSashimiPerHour(0, maxTarget, 100); got != 0 {
		t.Fatalf("expected zero income at zero hashrate, got %v", got)
	}

	var zeroTarget [wire.TargetSize]byte
	if got := expectedSashimiPerHour(1000, zeroTarget, 100); got != 0 {
		t.Fatalf("expected zero income against a zero target, got %v", got)
	}
}

func TestExpectedSashimiPerHourScalesWithSubsidy(t *testing.T) {
	var target [wire.TargetSize]byte
	target[0] = 0x01

	low := expectedSashimiPerHour(1, target, 100)
	high := expectedSashimiPerHour(1, target, 200)
	if high != 2*low {
		t.Fatalf("expected income to scale linearly with subsidy: low=%v high=%v", low, high)
	}
}

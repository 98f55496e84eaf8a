// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"

	"github.com/skepticoin/skepticoin/addrmgr"
	"github.com/skepticoin/skepticoin/blockchain"
	"github.com/skepticoin/skepticoin/consensus"
	"github.com/skepticoin/skepticoin/mining/cpuminer"
	"github.com/skepticoin/skepticoin/p2p"
	"github.com/skepticoin/skepticoin/peer"
	"github.com/skepticoin/skepticoin/store"
	"github.com/skepticoin/skepticoin/wallet"
)

// logRotator is written to by the backend logger and rotates the
// on-disk log file. It is nil until initLogRotator sets it, and
// logWriter discards writes while it is nil.
var logRotator *rotator.Rotator

// backendLog is the root logger backend every subsystem logger is
// carved out of. Startup log lines go to stdout only, matching the
// pattern of every dcrd-family daemon: file logging isn't available
// until the data directory is known.
var backendLog = slog.NewBackend(os.Stdout)

// subsystemLoggers maps each subsystem tag used in --debuglevel to the
// package-level Logger variable it controls.
var subsystemLoggers = map[string]*slog.Logger{
	"CNSS": &consensus.Log,
	"BCHN": &blockchain.Log,
	"STOR": &store.Log,
	"PEER": &peer.Log,
	"PEEX": &p2p.Log,
	"ADDR": &addrmgr.Log,
	"WLLT": &wallet.Log,
	"MINR": &cpuminer.Log,
}

var log = backendLog.Logger("SKPD")

// initLogRotator starts log rotation against logFile, writing both to
// stdout and to the rotated file from then on, mirroring the
// dcrd-family initLogRotator helper: the daemon always logs to a file
// once it knows where, in addition to the console.
func initLogRotator(logFile string) error {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r

	backendLog = slog.NewBackend(io.MultiWriter(os.Stdout, &logWriter{}))
	log = backendLog.Logger("SKPD")
	for tag, logger := range subsystemLoggers {
		*logger = backendLog.Logger(tag)
	}
	return nil
}

// logWriter forwards to logRotator, and discards writes while
// logRotator is nil (before initLogRotator has set it).
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	if logRotator == nil {
		return len(p), nil
	}
	return logRotator.Write(p)
}

// setLogLevels applies debugLevel, a "LEVEL" or comma-separated
// "SUBSYSTEM=LEVEL,..." string, to every subsystem logger (same syntax
// as every dcrd-family --debuglevel flag).
func setLogLevels(debugLevel string) error {
	if debugLevel == "" {
		return nil
	}
	if level, ok := slog.LevelFromString(debugLevel); ok {
		setLogLevel(level)
		return nil
	}

	for _, entry := range splitDebugLevel(debugLevel) {
		subsystem, levelStr, ok := splitOnce(entry, '=')
		if !ok {
			return fmt.Errorf("invalid debug level entry %q", entry)
		}
		logger, ok := subsystemLoggers[subsystem]
		if !ok {
			return fmt.Errorf("unknown subsystem %q", subsystem)
		}
		level, ok := slog.LevelFromString(levelStr)
		if !ok {
			return fmt.Errorf("invalid debug level %q for subsystem %q", levelStr, subsystem)
		}
		(*logger).SetLevel(level)
	}
	return nil
}

func setLogLevel(level slog.Level) {
	log.SetLevel(level)
	for _, logger := range subsystemLoggers {
		(*logger).SetLevel(level)
	}
}

func splitDebugLevel(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func splitOnce(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

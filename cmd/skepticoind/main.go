// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command skepticoind is the skepticoin full node daemon: it opens the
// block store and wallet, joins the peer-to-peer network, validates and
// relays blocks and transactions, and optionally mines.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/skepticoin/skepticoin/addrmgr"
	"github.com/skepticoin/skepticoin/blockchain"
	"github.com/skepticoin/skepticoin/consensus"
	"github.com/skepticoin/skepticoin/mining/cpuminer"
	"github.com/skepticoin/skepticoin/p2p"
	"github.com/skepticoin/skepticoin/store"
	"github.com/skepticoin/skepticoin/wallet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	if !cfg.NoFileLog {
		if err := initLogRotator(filepath.Join(cfg.DataDir, defaultLogFilename)); err != nil {
			return err
		}
	}
	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return err
	}
	log.Infof("skepticoind starting, data directory %s", cfg.DataDir)

	st, err := store.Open(cfg.dataSubDir(defaultDatabaseName))
	if err != nil {
		return fmt.Errorf("opening block store: %w", err)
	}
	defer st.Close()

	cs, err := blockchain.Load(st)
	if err != nil {
		return fmt.Errorf("loading chain state: %w", err)
	}
	log.Infof("chain loaded at height %d, tip %s", cs.Head().Height, cs.HeadBlock().Hash())

	w, err := loadOrCreateWallet(cfg.dataSubDir(defaultWalletFilename))
	if err != nil {
		return fmt.Errorf("loading wallet: %w", err)
	}

	am, err := addrmgr.Load(cfg.dataSubDir(defaultPeersFilename))
	if err != nil {
		return fmt.Errorf("loading address manager: %w", err)
	}

	sigCache := consensus.NewSigCache(100_000)
	nm := p2p.NewNetworkManager()
	cm := p2p.NewChainManager(cs, time.Now(), sigCache)

	for _, rec := range am.Records() {
		if rec.Direction == addrmgr.Outgoing {
			nm.RememberOutgoing(rec.Host, rec.Port)
		}
	}
	for _, addr := range cfg.ConnectPeer {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid --connect address %q: %w", addr, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid --connect port %q: %w", addr, err)
		}
		nm.RememberOutgoing(host, uint16(port))
	}

	localNonce := rand.Uint32()
	listenPort := uint16(0)
	if cfg.Listen != "" {
		if _, portStr, err := net.SplitHostPort(cfg.Listen); err == nil {
			if p, err := strconv.ParseUint(portStr, 10, 16); err == nil {
				listenPort = uint16(p)
			}
		}
	}
	hub := p2p.NewHub(nm, cm, st, am, sigCache, localNonce, listenPort, cfg.UserAgent)

	ctx, cancel := signalContext()
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hub.Run(ctx, cfg.Listen, p2p.DefaultTickInterval); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("p2p hub: %w", err)
		}
	}()

	if cfg.Mine {
		supervisor := cpuminer.New(cm, nm, st, w, cfg.Workers, cfg.UserAgent)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("cpu miner: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		log.Errorf("shutting down due to: %v", err)
	}

	wg.Wait()

	if err := w.Save(cfg.dataSubDir(defaultWalletFilename)); err != nil {
		log.Errorf("saving wallet on shutdown: %v", err)
	}
	log.Infof("skepticoind shut down cleanly")
	return nil
}

// loadOrCreateWallet loads the wallet at path, creating a fresh one (and
// saving it immediately) if none exists yet.
func loadOrCreateWallet(path string) (*wallet.Wallet, error) {
	w, err := wallet.Load(path)
	if err == nil {
		return w, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	log.Infof("no wallet found at %s, creating a new one", path)
	w, err = wallet.New()
	if err != nil {
		return nil, err
	}
	if err := w.Save(path); err != nil {
		return nil, err
	}
	return w, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, the
// same graceful-shutdown trigger every dcrd-family daemon's main.go
// installs via its own interruptListener.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

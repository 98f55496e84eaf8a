// Copyright (c) 2024 The Skepticoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	flags "github.com/jessevdk/go-flags"

	"github.com/skepticoin/skepticoin/chaincfg"
)

const (
	defaultConfigFilename = "skepticoin.conf"
	defaultDataDirname    = "data"
	defaultLogFilename    = "skepticoind.log"
	defaultWalletFilename = "wallet.json"
	defaultPeersFilename  = "peers.json"
	defaultDatabaseName   = "blocks.db"
	defaultWorkers        = 1
)

// config holds every configuration value skepticoind can be started
// with, sourced from (in increasing priority) defaults, the config
// file, and the command line — the same layering every dcrd-family
// daemon's config.go applies via go-flags' combined INI-then-flags
// parse.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`

	Listen      string   `long:"listen" description:"Address to listen for incoming p2p connections, or empty to disable listening"`
	ConnectPeer []string `long:"connect" description:"Remote host:port to connect to at startup (may be repeated)"`

	Mine    bool `long:"mine" description:"Enable the built-in CPU miner"`
	Workers int  `long:"miningworkers" description:"Number of CPU mining worker goroutines"`

	DebugLevel string `long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical, or subsystem=level,..."`
	NoFileLog  bool   `long:"nofilelogging" description:"Disable logging to a file"`

	UserAgent string `long:"useragent" description:"User agent string announced to peers and embedded in mined coinbases"`
}

// defaultConfig returns a config with every field set to its default
// value, before the config file or command line are applied.
func defaultConfig() config {
	return config{
		ConfigFile: defaultConfigFile(),
		DataDir:    defaultHomeDir(),
		Listen:     fmt.Sprintf(":%d", chaincfg.DefaultPort),
		Workers:    defaultWorkers,
		DebugLevel: "info",
		UserAgent:  "/skepticoind:0.1.0/",
	}
}

// defaultHomeDir returns the OS-appropriate default application data
// directory, mirroring the dcrd-family appDataDir helper.
func defaultHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if runtime.GOOS == "windows" {
			return filepath.Join(home, "Skepticoin")
		}
		return filepath.Join(home, ".skepticoin")
	}
	return "."
}

func defaultConfigFile() string {
	return filepath.Join(defaultHomeDir(), defaultConfigFilename)
}

func (c *config) dataSubDir(name string) string {
	return filepath.Join(c.DataDir, name)
}

// loadConfig parses the config file (if present) and then the command
// line over top of it, matching every dcrd-family binary's two-pass
// go-flags parse: flags.NewParser with IniParse for the file, then
// Parse again for the command line so flags always win.
func loadConfig() (*config, []string, error) {
	preCfg := defaultConfig()
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash)
	_, err := preParser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	if preCfg.ShowVersion {
		fmt.Println("skepticoind version 0.1.0")
		os.Exit(0)
	}

	cfg := defaultConfig()
	cfg.ConfigFile = preCfg.ConfigFile
	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		parser := flags.NewParser(&cfg, flags.Default)
		if err := flags.NewIniParser(parser).ParseFile(cfg.ConfigFile); err != nil {
			return nil, nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	parser := flags.NewParser(&cfg, flags.Default)
	remaining, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	if cfg.DataDir == "" {
		cfg.DataDir = defaultHomeDir()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = defaultWorkers
	}

	return &cfg, remaining, nil
}

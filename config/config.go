// Package config centralises the knobs exposed on the command line and
// gives them production defaults.
package config

import (
	flag "github.com/spf13/pflag"
)

const (
	// DefaultListenAddr is the TCP address the daemon binds by default.
	DefaultListenAddr = ":25225"
	// DefaultDataDir is the segment directory used when none is given.
	DefaultDataDir = "db"
	// DefaultWorkers is the fixed worker pool size (§4.4).
	DefaultWorkers = 4
	// DefaultMaxSegmentSize is production's segment rollover threshold.
	DefaultMaxSegmentSize = 64 * 1024 * 1024
)

// Config holds everything main needs to boot the daemon.
type Config struct {
	ListenAddr     string
	DataDir        string
	Workers        int
	MaxSegmentSize int64
	Verbose        bool
}

// New returns a Config populated with production defaults.
func New() *Config {
	return &Config{
		ListenAddr:     DefaultListenAddr,
		DataDir:        DefaultDataDir,
		Workers:        DefaultWorkers,
		MaxSegmentSize: DefaultMaxSegmentSize,
	}
}

// BindFlags registers cfg's fields on fs, to be parsed by the caller.
func (cfg *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVarP(&cfg.ListenAddr, "addr", "a", cfg.ListenAddr, "TCP address to listen on")
	fs.StringVarP(&cfg.DataDir, "data-dir", "d", cfg.DataDir, "path to the segment data directory")
	fs.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "number of worker goroutines serving connections")
	fs.Int64Var(&cfg.MaxSegmentSize, "max-segment-size", cfg.MaxSegmentSize, "segment rollover threshold in bytes")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug-level logging")
}

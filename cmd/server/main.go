// Command bitdbd runs the storage daemon: it opens (or bootstraps) a
// segment directory and serves GET/PUT requests over a line-based TCP
// protocol until it receives SIGINT or SIGTERM.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/epokhe/bitdbd/config"
	"github.com/epokhe/bitdbd/core"
	"github.com/epokhe/bitdbd/server"
)

func main() {
	cfg := config.New()
	fs := flag.NewFlagSet("bitdbd", flag.ExitOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	log := newLogger(cfg.Verbose)
	defer log.Sync() // nolint:errcheck

	db, err := core.Open(cfg.DataDir,
		core.WithMaxSegmentSize(cfg.MaxSegmentSize),
		core.WithLogger(log),
	)
	if err != nil {
		log.Fatalw("could not open data directory", "dir", cfg.DataDir, "err", err)
	}

	srv, err := server.New(db, cfg.ListenAddr, cfg.Workers, log)
	if err != nil {
		log.Fatalw("could not start listener", "addr", cfg.ListenAddr, "err", err)
	}

	go func() {
		if err := srv.Serve(); err != nil {
			log.Errorw("serve exited with error", "err", err)
		}
	}()
	log.Infow("listening", "addr", srv.Addr().String(), "data_dir", cfg.DataDir, "workers", cfg.Workers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received shutdown signal", "signal", sig.String())

	if err := srv.Shutdown(); err != nil {
		log.Errorw("shutdown error", "err", err)
	}
	if err := db.Close(); err != nil {
		log.Errorw("db close error", "err", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"

	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger.Sugar()
}

// Package server implements the TCP front end: the accept loop, the
// fixed-size worker pool that serves connections, and the line-based
// request protocol (§4.4).
package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/epokhe/bitdbd/core"
)

// Server owns a listener, a worker pool, and the set of connections
// currently assigned to a worker, so Shutdown can interrupt any blocked
// reads by closing them directly — the Go-native substitute for the
// original daemon's SIGUSR1-driven self-pipe trick.
type Server struct {
	db   *core.DB
	log  *zap.SugaredLogger
	pool *workerPool

	ln net.Listener

	activeConns sync.Map // net.Conn -> struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a Server bound to addr with workers worker goroutines. It
// does not start accepting connections; call Serve for that.
func New(db *core.DB, addr string, workers int, log *zap.SugaredLogger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", addr, err)
	}

	s := &Server{
		db:   db,
		log:  log,
		ln:   ln,
		done: make(chan struct{}),
	}
	s.pool = newWorkerPool(workers, s.handleConn, log)

	return s, nil
}

// Addr returns the server's bound listen address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs the accept loop until the listener is closed by Shutdown.
// The accept loop sheds load per §4.4: if every worker is already busy,
// a newly accepted connection is closed immediately instead of queued.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warnw("accept error", "err", err)
			continue
		}

		if !s.pool.tryEnqueue(conn) {
			s.log.Debugw("worker pool saturated, shedding connection", "remote", conn.RemoteAddr())
			_ = conn.Close()
		}
	}
}

// handleConn serves request lines on conn until EOF, a protocol-fatal
// I/O error, or Shutdown closes the connection out from under it.
func (s *Server) handleConn(conn net.Conn) {
	s.activeConns.Store(conn, struct{}{})
	defer func() {
		s.activeConns.Delete(conn)
		_ = conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		if err := dispatch(s.db, line, r, w, s.log); err != nil {
			s.log.Debugw("connection closed on dispatch error", "remote", conn.RemoteAddr(), "err", err)
			_ = w.Flush()
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// Shutdown stops accepting new connections, closes every connection
// currently assigned to a worker (interrupting any blocked read), and
// waits for all workers to drain.
func (s *Server) Shutdown() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.done)
		closeErr = s.ln.Close()

		s.activeConns.Range(func(key, _ any) bool {
			conn := key.(net.Conn)
			_ = conn.Close()
			return true
		})

		s.pool.stop()
	})
	return closeErr
}

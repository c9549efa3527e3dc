package server

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/epokhe/bitdbd/core"
)

func newTestServer(t *testing.T, workers int) (*Server, *core.DB) {
	t.Helper()

	db, err := core.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv, err := New(db, "127.0.0.1:0", workers, zap.NewNop().Sugar())
	require.NoError(t, err)

	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return srv, db
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerPutThenGet(t *testing.T) {
	srv, _ := newTestServer(t, 2)
	conn := dial(t, srv)
	r := bufio.NewReader(conn)

	_, err := fmt.Fprintf(conn, "PUT foo 3\r\nbar")
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "+OK\r\n", line)

	_, err = fmt.Fprintf(conn, "GET foo\r\n")
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "+OK 3\r\n", line)

	body := make([]byte, 3)
	_, err = r.Read(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("bar"), body)
}

func TestServerGetMissingKey(t *testing.T) {
	srv, _ := newTestServer(t, 2)
	conn := dial(t, srv)
	r := bufio.NewReader(conn)

	_, err := fmt.Fprintf(conn, "GET nope\r\n")
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "-KEYNOTFOUND\r\n", line)
}

func TestServerGetNoKey(t *testing.T) {
	srv, _ := newTestServer(t, 2)
	conn := dial(t, srv)
	r := bufio.NewReader(conn)

	_, err := fmt.Fprintf(conn, "GET\r\n")
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "-NOKEY\r\n", line)
}

func TestServerPutBadSize(t *testing.T) {
	srv, _ := newTestServer(t, 2)
	conn := dial(t, srv)
	r := bufio.NewReader(conn)

	_, err := fmt.Fprintf(conn, "PUT foo notanumber\r\n")
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "-BADSIZE\r\n", line)
}

func TestServerUnknownVerb(t *testing.T) {
	srv, _ := newTestServer(t, 2)
	conn := dial(t, srv)
	r := bufio.NewReader(conn)

	_, err := fmt.Fprintf(conn, "FROB foo\r\n")
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "-BADTOKEN\r\n", line)
}

func TestServerShedsConnectionsWhenSaturated(t *testing.T) {
	srv, _ := newTestServer(t, 1)

	// hold the single worker hostage with a connection that never sends
	// a full line, so tryEnqueue fails for the next connection.
	blocker, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = blocker.Close() })
	_, _ = fmt.Fprintf(blocker, "GET ") // no CRLF yet: worker is parked in ReadString

	// give the worker a chance to dequeue the blocker before the next dial
	time.Sleep(50 * time.Millisecond)

	shed, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shed.Close() })

	buf := make([]byte, 1)
	shed.SetReadDeadline(time.Now().Add(time.Second))
	_, err = shed.Read(buf)
	assert.Error(t, err, "a shed connection should be closed by the server, not served")
}

func TestServerShutdownInterruptsBlockedRead(t *testing.T) {
	srv, _ := newTestServer(t, 1)

	conn := dial(t, srv)
	_, _ = fmt.Fprintf(conn, "GET ") // park the worker mid-read, no CRLF
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = srv.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return; a blocked worker read was not interrupted")
	}
}

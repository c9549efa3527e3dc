package core

import (
	"os"
	"testing"
)

// setupTempDB opens a DB in a fresh temp directory and registers cleanup
// with tb. Tests that need to exercise rotation pass WithMaxSegmentSize
// with a small value instead of writing megabytes of fixtures.
func setupTempDB(tb testing.TB, opts ...Option) (db *DB, dir string) {
	tb.Helper()

	dir, err := os.MkdirTemp("", "bitdbd_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp: %v", err)
	}

	db, err = Open(dir, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		tb.Fatalf("Open(%q): %v", dir, err)
	}

	tb.Cleanup(func() {
		_ = db.Close()
		_ = os.RemoveAll(dir)
	})

	return db, dir
}

package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// DefaultMaxSegmentSize is the production segment rollover threshold.
// Tests override it with a small value via WithMaxSegmentSize to exercise
// rotation without writing 64 MiB of fixtures (data model invariant I3).
const DefaultMaxSegmentSize = 64 * 1024 * 1024

var segmentFileRe = regexp.MustCompile(`^bit_db[0-9]+$`)

// DB is the storage engine: a directory of segments plus the registry
// and locking discipline described in §4.3.
type DB struct {
	dir string
	reg *registry
	log *zap.SugaredLogger
}

// Option configures a DB at Open time.
type Option func(*DB)

// WithMaxSegmentSize overrides DefaultMaxSegmentSize.
func WithMaxSegmentSize(n int64) Option {
	return func(db *DB) { db.reg.maxSegmentSize = n }
}

// WithLogger installs a structured logger. Without this option, Open
// installs zap.NewNop().Sugar(), matching the teacher's habit of letting
// log output go unobserved in tests that don't assert on it.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(db *DB) { db.log = log }
}

// Open bootstraps a DB rooted at dir: it scans for existing segment
// files matching bit_db<N>, sorts them numerically, reopens each, and
// creates one fresh active segment if the directory was empty (§4.5).
func Open(dir string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", dir, err)
	}

	db := &DB{
		dir: dir,
		reg: newRegistry(dir, DefaultMaxSegmentSize),
		log: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(db)
	}

	ids, err := discoverSegmentIDs(dir)
	if err != nil {
		return nil, fmt.Errorf("discover segments: %w", err)
	}

	for _, id := range ids {
		seg, err := bootstrapSegment(db.dir, id, db.log)
		if err != nil {
			for _, s := range db.reg.all() {
				_ = s.close()
			}
			return nil, fmt.Errorf("bootstrap segment %d: %w", id, err)
		}
		db.reg.append(seg)
	}

	db.warnOrphanedFiles(ids)

	if len(db.reg.all()) == 0 {
		if _, err := db.reg.rotate(); err != nil {
			return nil, fmt.Errorf("create initial segment: %w", err)
		}
		db.log.Infow("created initial segment", "dir", dir)
	}

	return db, nil
}

// discoverSegmentIDs scans dir for files matching ^bit_db[0-9]+$ and
// returns their numeric suffixes in ascending order.
func discoverSegmentIDs(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var ids []int
	for _, e := range entries {
		if e.IsDir() || !segmentFileRe.MatchString(e.Name()) {
			continue
		}
		n, err := strconv.Atoi(e.Name()[len("bit_db"):])
		if err != nil {
			continue // shouldn't happen given the regex, but don't fail bootstrap over it
		}
		ids = append(ids, n)
	}

	sort.Ints(ids)
	return ids, nil
}

// bootstrapSegment connects to segment id at dir, creating it first if
// it's missing or has an invalid magic header — the "init then retry
// once, hard-exit on second failure" recovery of §4.5. "Hard-exit" here
// means: return an error for the caller (Open, and ultimately
// cmd/server's main) to treat as fatal; this package never calls
// os.Exit itself.
func bootstrapSegment(dir string, id int, log *zap.SugaredLogger) (*segment, error) {
	path := segmentPath(dir, id)

	seg, err := connectSegment(id, path)
	if err == nil {
		return seg, nil
	}

	if !errors.Is(err, ErrBadMagic) && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	log.Warnw("segment missing or corrupt header, recreating", "path", path, "cause", err)
	if err := initSegment(path); err != nil {
		return nil, fmt.Errorf("recreate %q: %w", path, err)
	}

	seg, err = connectSegment(id, path)
	if err != nil {
		return nil, fmt.Errorf("connect %q after recreate: %w", path, err)
	}
	return seg, nil
}

// warnOrphanedFiles compares the segment ids found on disk against what
// bootstrap loaded and logs a warning about anything unaccounted for —
// e.g. leftovers from an interrupted administrative operation. Never
// fatal: an orphan is a diagnostic, not a correctness problem.
func (db *DB) warnOrphanedFiles(loadedIDs []int) {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		db.log.Warnw("could not scan data directory for orphans", "err", err)
		return
	}

	expected := mapset.NewSet[string]()
	for _, id := range loadedIDs {
		expected.Add(filepath.Base(segmentPath(db.dir, id)))
	}

	actual := mapset.NewSet[string]()
	for _, e := range entries {
		if !e.IsDir() && segmentFileRe.MatchString(e.Name()) {
			actual.Add(e.Name())
		}
	}

	if orphans := actual.Difference(expected); orphans.Cardinality() != 0 {
		db.log.Warnw("orphaned segment files on disk", "files", orphans.ToSlice())
	}
}

// Get scans segments oldest-to-newest and returns the value from the
// first one that has key, per §4.3. Within a single segment a later Put
// of the same key overwrites its index entry, but across a segment
// rotation the oldest copy still wins the scan.
func (db *DB) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrKeyNotFound)
	}
	return db.reg.get(key)
}

// Put appends key/value to the active segment, rotating to a fresh
// segment first if the active one is full (§3 I3, §4.3).
func (db *DB) Put(key, value []byte) error {
	if len(key) == 0 {
		return errors.New("core: empty key")
	}
	_, err := db.reg.put(key, value)
	return err
}

// SegmentCount reports the number of open segments.
func (db *DB) SegmentCount() int {
	return db.reg.len()
}

// DiskSize returns the sum of all on-disk segment file sizes.
func (db *DB) DiskSize() (int64, error) {
	var total int64
	for _, seg := range db.reg.all() {
		info, err := seg.file.Stat()
		if err != nil {
			return 0, fmt.Errorf("stat segment %d: %w", seg.id, err)
		}
		total += info.Size()
	}
	return total, nil
}

// PersistAll writes every open segment's index to its sidecar. Called
// during graceful shutdown (§4.5); safe to call more than once.
func (db *DB) PersistAll() error {
	var firstErr error
	for _, seg := range db.reg.all() {
		if err := seg.persistIndex(); err != nil {
			db.log.Errorw("failed to persist segment index", "segment", seg.id, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close persists every segment's index, then closes every open file.
func (db *DB) Close() error {
	persistErr := db.PersistAll()

	var firstErr error
	for _, seg := range db.reg.all() {
		seg.destroyConn()
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return firstErr
	}
	return persistErr
}

// Package core implements the storage engine: segment files, the
// checksummed index sidecar, and the segment registry that serialises
// writers to the active segment while letting readers scan segments
// concurrently.
package core

import "errors"

// ErrKeyNotFound is returned when a key is absent from a particular
// segment's index. The registry retries the next segment before
// surfacing this to the caller.
var ErrKeyNotFound = errors.New("core: key not found")

// ErrKeyNotFoundOnDisk is the I1-verification failure: the index pointed
// at an offset whose on-disk record's key bytes differ from the
// requested key. Treated identically to ErrKeyNotFound by callers, but
// kept distinct so bugs in index maintenance are diagnosable.
var ErrKeyNotFoundOnDisk = errors.New("core: indexed offset holds a different key")

// ErrBadMagic is returned by connectSegment when a segment file's header
// does not start with the magic sequence.
var ErrBadMagic = errors.New("core: bad magic sequence")

// ErrChecksumMismatch is returned by loadSidecar when a sidecar's trailing
// SHA-256 does not match its body.
var ErrChecksumMismatch = errors.New("core: sidecar checksum mismatch")

// ErrKeyTooLong is returned by Put when a key exceeds the maximum
// indexable length.
var ErrKeyTooLong = errors.New("core: key too long")

// ErrProtocol classifies a malformed request line at the wire level
// (unrecognised verb, missing key, missing or invalid size). The
// server package maps it to the appropriate negative response tag
// rather than surfacing it to a caller.
var ErrProtocol = errors.New("core: protocol error")

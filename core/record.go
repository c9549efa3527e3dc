package core

import (
	"encoding/binary"
	"fmt"
	"io"
)

// magicSeq is the 4-byte file-type marker required at offset 0 of every
// valid segment (data model invariant I4). It is written and read as a
// little-endian u32 explicitly, rather than relying on native ordering.
const magicSeq uint32 = 0x123FFABC

const magicLen = 4

// writeMagic writes the magic sequence to w.
func writeMagic(w io.Writer) error {
	var buf [magicLen]byte
	binary.LittleEndian.PutUint32(buf[:], magicSeq)
	_, err := w.Write(buf[:])
	return err
}

// checkMagic reads magicLen bytes from r and reports ErrBadMagic if they
// don't match magicSeq.
func checkMagic(r io.Reader) error {
	var buf [magicLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if binary.LittleEndian.Uint32(buf[:]) != magicSeq {
		return ErrBadMagic
	}
	return nil
}

// writeRecord emits one record of:
//
//	key_len(u64 LE) | key_bytes (key, NUL-terminated) | value_len(u64 LE) | value_bytes
//
// as a single buffered write, and returns its total length. The trailing
// NUL on the key is part of the on-disk record per the data model; it is
// stripped again on read.
func writeRecord(w io.Writer, key, value []byte) (int64, error) {
	keyLen := len(key) + 1 // +1 for the trailing NUL
	total := 8 + keyLen + 8 + len(value)
	buf := make([]byte, total)

	sb := buf
	binary.LittleEndian.PutUint64(sb, uint64(keyLen))
	sb = sb[8:]

	copy(sb, key)
	sb[len(key)] = 0
	sb = sb[keyLen:]

	binary.LittleEndian.PutUint64(sb, uint64(len(value)))
	sb = sb[8:]

	copy(sb, value)

	n, err := w.Write(buf)
	return int64(n), err
}

// recordKeyAt reads a record's key (without its trailing NUL) and the
// length of its value field, given the record's starting offset.
func recordKeyAt(r io.ReaderAt, off int64) (key []byte, keyFieldLen int64, valLen int64, err error) {
	var hdr [8]byte
	if _, err = r.ReadAt(hdr[:], off); err != nil {
		return nil, 0, 0, fmt.Errorf("read key length: %w", err)
	}
	keyLen := int64(binary.LittleEndian.Uint64(hdr[:]))
	if keyLen <= 0 {
		return nil, 0, 0, fmt.Errorf("implausible key length %d", keyLen)
	}

	keyBuf := make([]byte, keyLen)
	if _, err = r.ReadAt(keyBuf, off+8); err != nil {
		return nil, 0, 0, fmt.Errorf("read key bytes: %w", err)
	}

	var valHdr [8]byte
	if _, err = r.ReadAt(valHdr[:], off+8+keyLen); err != nil {
		return nil, 0, 0, fmt.Errorf("read value length: %w", err)
	}
	valLen = int64(binary.LittleEndian.Uint64(valHdr[:]))

	// strip the trailing NUL
	return keyBuf[:keyLen-1], keyLen, valLen, nil
}

// recordValueAt reads the value payload for a record whose key field has
// length keyFieldLen and whose value field has length valLen, located at
// off.
func recordValueAt(r io.ReaderAt, off, keyFieldLen, valLen int64) ([]byte, error) {
	buf := make([]byte, valLen)
	if valLen == 0 {
		return buf, nil
	}
	valOff := off + 8 + keyFieldLen + 8
	if _, err := r.ReadAt(buf, valOff); err != nil {
		return nil, fmt.Errorf("read value bytes: %w", err)
	}
	return buf, nil
}

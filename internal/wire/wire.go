// Package wire frames stored values so a store can tell its own entries from
// foreign or truncated bytes and carry an absolute expiry alongside them.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1

	headerLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("kvcache: corrupt entry")
	magic4     = [...]byte{'K', 'V', 'C', 'E'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1=entry) | expiresAt(i64 be, unix nanos, 0=never) | vlen(u32 be) | payload(vlen)
func Encode(expiresAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(unixNanos(expiresAt)))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode returns a payload sub-slice of b (zero-copy). Trailing bytes are
// rejected.
func Decode(b []byte) (expiresAt time.Time, payload []byte, err error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return time.Time{}, nil, ErrCorrupt
	}

	off := 6

	if exp := int64(binary.BigEndian.Uint64(b[off : off+8])); exp != 0 {
		expiresAt = time.Unix(0, exp)
	}
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // strict framing
		return time.Time{}, nil, ErrCorrupt
	}

	return expiresAt, b[off : off+vlen], nil
}

// WithExpiry rewrites the expiry field of an encoded entry in place and
// returns b. The payload is left untouched.
func WithExpiry(b []byte, expiresAt time.Time) ([]byte, error) {
	if _, _, err := Decode(b); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint64(b[6:14], uint64(unixNanos(expiresAt)))
	return b, nil
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

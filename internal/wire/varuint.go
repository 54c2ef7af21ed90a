// Package wire implements the framed binary wire protocol: the lib0-style
// variable-length unsigned integer encoding, and the outer envelope and
// message-kind payload codecs built on top of it. The codec is pure: no I/O,
// no allocation sharing across calls.
package wire

import "errors"

// ErrTruncated is returned when a varuint's continuation bit is set on the
// last available byte of the buffer.
var ErrTruncated = errors.New("wire: truncated varuint")

// PutUvarint appends x to buf using the lib0 little-endian 7-bit-group
// encoding; exported for other wire-adjacent codecs (e.g. internal/awareness)
// that need the same varint scheme without duplicating it.
func PutUvarint(buf []byte, x uint64) []byte { return putUvarint(buf, x) }

// GetUvarint decodes a varuint from the front of b. Exported twin of
// PutUvarint.
func GetUvarint(b []byte) (x uint64, rest []byte, err error) { return getUvarint(b) }

// PutBytes writes a varuint length prefix followed by b. Exported twin used
// by internal/awareness.
func PutBytes(buf []byte, b []byte) []byte { return putBytes(buf, b) }

// GetBytes reads a length-prefixed byte slice from the front of b.
// Exported twin used by internal/awareness.
func GetBytes(b []byte) (value []byte, rest []byte, err error) { return getBytes(b) }

// putUvarint appends x to buf using the lib0 little-endian 7-bit-group
// encoding: each byte carries 7 bits of the value, high bit set if another
// byte follows.
func putUvarint(buf []byte, x uint64) []byte {
	for x >= 0x80 {
		buf = append(buf, byte(x)|0x80)
		x >>= 7
	}
	return append(buf, byte(x))
}

// getUvarint decodes a varuint from the front of b, returning the value and
// the remaining bytes.
func getUvarint(b []byte) (x uint64, rest []byte, err error) {
	var shift uint
	for i := 0; i < len(b); i++ {
		c := b[i]
		x |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return x, b[i+1:], nil
		}
		shift += 7
		if shift >= 64 {
			return 0, nil, errors.New("wire: varuint overflow")
		}
	}
	return 0, nil, ErrTruncated
}

// putBytes writes a varuint length prefix followed by b.
func putBytes(buf []byte, b []byte) []byte {
	buf = putUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// getBytes reads a length-prefixed byte slice from the front of b.
func getBytes(b []byte) (value []byte, rest []byte, err error) {
	n, rest, err := getUvarint(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, ErrTruncated
	}
	return rest[:n], rest[n:], nil
}

// putString writes a varuint length prefix followed by the UTF-8 bytes of s.
func putString(buf []byte, s string) []byte {
	return putBytes(buf, []byte(s))
}

// getString reads a length-prefixed UTF-8 string from the front of b.
func getString(b []byte) (value string, rest []byte, err error) {
	raw, rest, err := getBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(raw), rest, nil
}

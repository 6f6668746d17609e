// Package binutil provides the small set of length-prefixed binary
// encode/decode helpers shared by the partition frame layout, the RPC wire
// codec, and the checkpoint writer, so all three speak the exact same
// "4-byte length then bytes" convention spec.md's wire format calls for.
package binutil

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// ErrTruncated is returned when a buffer ends before a length-prefixed field
// can be fully read.
var ErrTruncated = xerrors.New("truncated buffer")

// PutUint32 appends a big-endian uint32 to buf.
func PutUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// PutUint64 appends a big-endian uint64 to buf.
func PutUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// PutBytes appends a 4-byte length prefix followed by b to buf.
func PutBytes(buf []byte, b []byte) []byte {
	buf = PutUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// PutString appends a 4-byte length prefix followed by the UTF-8 bytes of s.
func PutString(buf []byte, s string) []byte {
	return PutBytes(buf, []byte(s))
}

// Reader walks a byte slice extracting the fields written by the Put*
// helpers above, tracking a read offset and the first error encountered.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader wraps buf for sequential field extraction.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }

// Remaining reports how many bytes have not yet been consumed.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = ErrTruncated
		return false
	}
	return true
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v
}

// Byte reads a single byte.
func (r *Reader) Byte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

// Uint64 reads a big-endian uint64.
func (r *Reader) Uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v
}

// Bytes reads a 4-byte length prefix followed by that many bytes. The
// returned slice aliases the underlying buffer; callers that retain it
// beyond the lifetime of buf must copy.
func (r *Reader) Bytes() []byte {
	n := r.Uint32()
	if r.err != nil || !r.need(int(n)) {
		return nil
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() string { return string(r.Bytes()) }

package rpc

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// maxFrameSize guards against a corrupt or hostile length prefix causing an
// unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// writeFrame writes a length-prefixed frame (as produced by
// rpcpb.EncodeFrame) to w in a single Write call per logical frame so
// concurrent writers on the same connection must be serialized by the
// caller.
func writeFrame(w io.Writer, frame []byte) error {
	_, err := w.Write(frame)
	return err
}

// readFrame reads one length-prefixed frame from r and returns its body
// (the bytes after the length prefix, i.e. what rpcpb.DecodeHeader expects).
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, xerrors.Errorf("rpc: frame size %d exceeds maximum %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Package rpcpb encodes and decodes the request frames workers exchange
// over the RPC layer, in the exact wire format spec.md §6 specifies: a
// 4-byte length, 1-byte type tag, 8-byte request id, 4-byte source worker
// id, then a type-specific payload.
package rpcpb

import (
	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/worker/binutil"
)

// Type identifies the kind of request a frame carries.
type Type byte

const (
	TypeSendVertex Type = iota + 1
	TypeSendWorkerMessages
	TypeSendPartitionMutations
	TypeSendAggregatorsToWorker
	TypeAddEdge
	TypeRemoveEdge
	TypeAddVertex
	TypeRemoveVertex
	TypeFlush
	// TypeAck is the control message the server sends back once a request
	// has been applied (or recognized as a duplicate), letting
	// waitAllRequests retire its outstanding counter.
	TypeAck
	// TypeError carries a fatal handler error back to the sender.
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeSendVertex:
		return "SEND_VERTEX"
	case TypeSendWorkerMessages:
		return "SEND_WORKER_MESSAGES"
	case TypeSendPartitionMutations:
		return "SEND_PARTITION_MUTATIONS"
	case TypeSendAggregatorsToWorker:
		return "SEND_AGGREGATORS_TO_WORKER"
	case TypeAddEdge:
		return "ADD_EDGE"
	case TypeRemoveEdge:
		return "REMOVE_EDGE"
	case TypeAddVertex:
		return "ADD_VERTEX"
	case TypeRemoveVertex:
		return "REMOVE_VERTEX"
	case TypeFlush:
		return "FLUSH"
	case TypeAck:
		return "ACK"
	case TypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Header is the fixed-size preamble common to every frame.
type Header struct {
	Type           Type
	RequestID      uint64
	SourceWorkerID uint32
}

// EncodeFrame assembles a complete frame: length prefix, header, payload.
func EncodeFrame(h Header, payload []byte) []byte {
	body := make([]byte, 0, 1+8+4+len(payload))
	body = append(body, byte(h.Type))
	body = binutil.PutUint64(body, h.RequestID)
	body = binutil.PutUint32(body, h.SourceWorkerID)
	body = append(body, payload...)

	frame := binutil.PutUint32(make([]byte, 0, 4+len(body)), uint32(len(body)))
	return append(frame, body...)
}

// DecodeHeader parses the fixed preamble from a frame body (the bytes
// following the 4-byte length prefix, which the transport layer strips
// before handing the frame to rpcpb) and returns the header plus the
// remaining payload bytes.
func DecodeHeader(body []byte) (Header, []byte, error) {
	if len(body) < 1+8+4 {
		return Header{}, nil, xerrors.Errorf("rpc frame header: %w", binutil.ErrTruncated)
	}
	h := Header{Type: Type(body[0])}
	r := binutil.NewReader(body[1:])
	h.RequestID = r.Uint64()
	h.SourceWorkerID = r.Uint32()
	if r.Err() != nil {
		return Header{}, nil, xerrors.Errorf("rpc frame header: %w", r.Err())
	}
	return h, body[1+8+4:], nil
}

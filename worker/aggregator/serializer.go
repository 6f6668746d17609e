package aggregator

import (
	"encoding/binary"
	"math"

	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"
)

// Serializer converts aggregator values to and from the any.Any envelope
// the RPC layer ships between workers (spec.md §6's "value bytes" payload).
// Grounded on the teacher's dbspgraph.Serializer contract; TypeUrl carries a
// short tag rather than a real protobuf type URL, same as the teacher's
// linksrus pagerank serializer.
type Serializer interface {
	Serialize(interface{}) (*any.Any, error)
	Unserialize(*any.Any) (interface{}, error)
}

const (
	typeURLInt     = "i"
	typeURLFloat64 = "f"
	typeURLString  = "s"
	typeURLBytes   = "b"
)

// DefaultSerializer handles the value types the built-in accumulators
// produce (int, float64) plus string and raw bytes for user-defined
// aggregators.
type DefaultSerializer struct{}

// Serialize implements Serializer.
func (DefaultSerializer) Serialize(v interface{}) (*any.Any, error) {
	scratch := make([]byte, binary.MaxVarintLen64)
	switch val := v.(type) {
	case int:
		n := binary.PutVarint(scratch, int64(val))
		return &any.Any{TypeUrl: typeURLInt, Value: append([]byte(nil), scratch[:n]...)}, nil
	case float64:
		n := binary.PutUvarint(scratch, math.Float64bits(val))
		return &any.Any{TypeUrl: typeURLFloat64, Value: append([]byte(nil), scratch[:n]...)}, nil
	case string:
		return &any.Any{TypeUrl: typeURLString, Value: []byte(val)}, nil
	case []byte:
		return &any.Any{TypeUrl: typeURLBytes, Value: append([]byte(nil), val...)}, nil
	default:
		return nil, xerrors.Errorf("aggregator serializer: unsupported value type %T", v)
	}
}

// Unserialize implements Serializer.
func (DefaultSerializer) Unserialize(a *any.Any) (interface{}, error) {
	switch a.TypeUrl {
	case typeURLInt:
		v, n := binary.Varint(a.Value)
		if n <= 0 {
			return nil, xerrors.Errorf("aggregator serializer: malformed int value")
		}
		return int(v), nil
	case typeURLFloat64:
		v, n := binary.Uvarint(a.Value)
		if n <= 0 {
			return nil, xerrors.Errorf("aggregator serializer: malformed float64 value")
		}
		return math.Float64frombits(v), nil
	case typeURLString:
		return string(a.Value), nil
	case typeURLBytes:
		return append([]byte(nil), a.Value...), nil
	default:
		return nil, xerrors.Errorf("aggregator serializer: unknown type url %q", a.TypeUrl)
	}
}

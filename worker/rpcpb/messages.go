package rpcpb

import (
	"sort"

	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/worker/binutil"
	"github.com/dreamware-labs/bspworker/worker/partition"
)

// RawMessage is the wire-level representation of a single user message: an
// opaque byte slice. The MESSAGE_VALUE_CLASS configuration key governs how
// a higher layer decodes these bytes into a concrete message.Message; rpcpb
// only ever moves bytes.
type RawMessage []byte

// Type implements message.Message.
func (RawMessage) Type() string { return "raw" }

// VertexRecord is the (id, value, edges) triple the send-vertex payload
// repeats once per vertex.
type VertexRecord struct {
	ID     partition.ID
	Value  []byte
	Edges  []EdgeRecord
	Halted bool
}

// EdgeRecord is the (target, value) pair an edge contributes to the wire.
type EdgeRecord struct {
	Target partition.ID
	Value  []byte
}

func putVertexRecord(buf []byte, v VertexRecord) []byte {
	buf = binutil.PutBytes(buf, v.ID.Bytes())
	buf = binutil.PutBytes(buf, v.Value)
	if v.Halted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binutil.PutUint32(buf, uint32(len(v.Edges)))
	for _, e := range v.Edges {
		buf = binutil.PutBytes(buf, e.Target.Bytes())
		buf = binutil.PutBytes(buf, e.Value)
	}
	return buf
}

func readVertexRecord(r *binutil.Reader) VertexRecord {
	v := VertexRecord{
		ID:    partition.NewID(append([]byte(nil), r.Bytes()...)),
		Value: append([]byte(nil), r.Bytes()...),
	}
	v.Halted = r.Byte() == 1
	n := r.Uint32()
	v.Edges = make([]EdgeRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		v.Edges = append(v.Edges, EdgeRecord{
			Target: partition.NewID(append([]byte(nil), r.Bytes()...)),
			Value:  append([]byte(nil), r.Bytes()...),
		})
	}
	return v
}

// SendVertexPayload carries the vertices of one partition from an input
// reader's owning worker to the worker that will host them.
type SendVertexPayload struct {
	PartitionID uint32
	Vertices    []VertexRecord
}

// Encode implements the send-vertex payload layout of spec.md §6.
func (p SendVertexPayload) Encode() []byte {
	buf := binutil.PutUint32(nil, p.PartitionID)
	buf = binutil.PutUint32(buf, uint32(len(p.Vertices)))
	for _, v := range p.Vertices {
		buf = putVertexRecord(buf, v)
	}
	return buf
}

// DecodeSendVertexPayload parses a send-vertex payload.
func DecodeSendVertexPayload(buf []byte) (SendVertexPayload, error) {
	r := binutil.NewReader(buf)
	p := SendVertexPayload{PartitionID: r.Uint32()}
	n := r.Uint32()
	p.Vertices = make([]VertexRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		p.Vertices = append(p.Vertices, readVertexRecord(r))
	}
	if r.Err() != nil {
		return SendVertexPayload{}, xerrors.Errorf("decoding send-vertex payload: %w", r.Err())
	}
	return p, nil
}

// VertexMessages pairs a destination vertex id with the raw messages
// addressed to it within one partition.
type VertexMessages struct {
	VertexID partition.ID
	Messages []RawMessage
}

// PartitionMessages groups VertexMessages under their destination
// partition, as spec.md §6's send-worker-messages payload does.
type PartitionMessages struct {
	PartitionID uint32
	Vertices    []VertexMessages
}

// SendWorkerMessagesPayload is the full payload of a send-worker-messages
// request: a list of (partition-id, list of (vertex-id, list of message
// bytes)), each list 4-byte count prefixed.
type SendWorkerMessagesPayload struct {
	Partitions []PartitionMessages
}

// Encode implements the send-worker-messages payload layout.
func (p SendWorkerMessagesPayload) Encode() []byte {
	buf := binutil.PutUint32(nil, uint32(len(p.Partitions)))
	for _, part := range p.Partitions {
		buf = binutil.PutUint32(buf, part.PartitionID)
		buf = binutil.PutUint32(buf, uint32(len(part.Vertices)))
		for _, vm := range part.Vertices {
			buf = binutil.PutBytes(buf, vm.VertexID.Bytes())
			buf = binutil.PutUint32(buf, uint32(len(vm.Messages)))
			for _, m := range vm.Messages {
				buf = binutil.PutBytes(buf, m)
			}
		}
	}
	return buf
}

// DecodeSendWorkerMessagesPayload parses a send-worker-messages payload.
func DecodeSendWorkerMessagesPayload(buf []byte) (SendWorkerMessagesPayload, error) {
	r := binutil.NewReader(buf)
	var out SendWorkerMessagesPayload
	partCount := r.Uint32()
	out.Partitions = make([]PartitionMessages, 0, partCount)
	for i := uint32(0); i < partCount; i++ {
		part := PartitionMessages{PartitionID: r.Uint32()}
		vCount := r.Uint32()
		part.Vertices = make([]VertexMessages, 0, vCount)
		for j := uint32(0); j < vCount; j++ {
			vm := VertexMessages{VertexID: partition.NewID(append([]byte(nil), r.Bytes()...))}
			mCount := r.Uint32()
			vm.Messages = make([]RawMessage, 0, mCount)
			for k := uint32(0); k < mCount; k++ {
				vm.Messages = append(vm.Messages, append(RawMessage(nil), r.Bytes()...))
			}
			part.Vertices = append(part.Vertices, vm)
		}
		out.Partitions = append(out.Partitions, part)
	}
	if r.Err() != nil {
		return SendWorkerMessagesPayload{}, xerrors.Errorf("decoding send-worker-messages payload: %w", r.Err())
	}
	return out, nil
}

// VertexChangeset is the wire form of one vertex id's mutation.ChangeSet.
type VertexChangeset struct {
	VertexID           partition.ID
	AddedVertices      []VertexRecord
	RemoveVertexCount  uint32
	AddedEdges         []EdgeRecord
	RemovedEdgeTargets []partition.ID
}

// SendPartitionMutationsPayload is a partition id followed by a list of
// (vertex-id, changeset) pairs, per spec.md §6.
type SendPartitionMutationsPayload struct {
	PartitionID uint32
	Changes     []VertexChangeset
}

// Encode implements the send-partition-mutations payload layout.
func (p SendPartitionMutationsPayload) Encode() []byte {
	buf := binutil.PutUint32(nil, p.PartitionID)
	buf = binutil.PutUint32(buf, uint32(len(p.Changes)))
	for _, cs := range p.Changes {
		buf = binutil.PutBytes(buf, cs.VertexID.Bytes())
		buf = binutil.PutUint32(buf, uint32(len(cs.AddedVertices)))
		for _, v := range cs.AddedVertices {
			buf = putVertexRecord(buf, v)
		}
		buf = binutil.PutUint32(buf, cs.RemoveVertexCount)
		buf = binutil.PutUint32(buf, uint32(len(cs.AddedEdges)))
		for _, e := range cs.AddedEdges {
			buf = binutil.PutBytes(buf, e.Target.Bytes())
			buf = binutil.PutBytes(buf, e.Value)
		}
		buf = binutil.PutUint32(buf, uint32(len(cs.RemovedEdgeTargets)))
		for _, t := range cs.RemovedEdgeTargets {
			buf = binutil.PutBytes(buf, t.Bytes())
		}
	}
	return buf
}

// DecodeSendPartitionMutationsPayload parses a send-partition-mutations
// payload.
func DecodeSendPartitionMutationsPayload(buf []byte) (SendPartitionMutationsPayload, error) {
	r := binutil.NewReader(buf)
	out := SendPartitionMutationsPayload{PartitionID: r.Uint32()}
	changeCount := r.Uint32()
	out.Changes = make([]VertexChangeset, 0, changeCount)
	for i := uint32(0); i < changeCount; i++ {
		cs := VertexChangeset{VertexID: partition.NewID(append([]byte(nil), r.Bytes()...))}

		addedVCount := r.Uint32()
		cs.AddedVertices = make([]VertexRecord, 0, addedVCount)
		for j := uint32(0); j < addedVCount; j++ {
			cs.AddedVertices = append(cs.AddedVertices, readVertexRecord(r))
		}

		cs.RemoveVertexCount = r.Uint32()

		addedECount := r.Uint32()
		cs.AddedEdges = make([]EdgeRecord, 0, addedECount)
		for j := uint32(0); j < addedECount; j++ {
			cs.AddedEdges = append(cs.AddedEdges, EdgeRecord{
				Target: partition.NewID(append([]byte(nil), r.Bytes()...)),
				Value:  append([]byte(nil), r.Bytes()...),
			})
		}

		removedCount := r.Uint32()
		cs.RemovedEdgeTargets = make([]partition.ID, 0, removedCount)
		for j := uint32(0); j < removedCount; j++ {
			cs.RemovedEdgeTargets = append(cs.RemovedEdgeTargets, partition.NewID(append([]byte(nil), r.Bytes()...)))
		}

		out.Changes = append(out.Changes, cs)
	}
	if r.Err() != nil {
		return SendPartitionMutationsPayload{}, xerrors.Errorf("decoding send-partition-mutations payload: %w", r.Err())
	}
	return out, nil
}

// ReservedAggregatorCountName is the wire name of the reserved request-count
// aggregator (spec.md §6's "<COUNT>"), mirrored here so the RPC layer can
// special-case it without importing the aggregator package.
const ReservedAggregatorCountName = "<COUNT>"

// AggregatorRecord is one named aggregator value in a
// send-aggregators-to-worker payload. The reserved name "<COUNT>" carries a
// 64-bit request count instead of a serializer-produced value.
type AggregatorRecord struct {
	Name  string
	Class string
	Value []byte
}

// SendAggregatorsToWorkerPayload mirrors spec.md §6: a 4-byte count, then
// per aggregator the UTF name, UTF class identifier, and value bytes.
type SendAggregatorsToWorkerPayload struct {
	Aggregators []AggregatorRecord
}

// Encode implements the send-aggregators-to-worker payload layout. Records
// are written in name order so two encodings of the same map produce the
// same bytes.
func (p SendAggregatorsToWorkerPayload) Encode() []byte {
	records := append([]AggregatorRecord(nil), p.Aggregators...)
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	buf := binutil.PutUint32(nil, uint32(len(records)))
	for _, rec := range records {
		buf = binutil.PutString(buf, rec.Name)
		buf = binutil.PutString(buf, rec.Class)
		buf = binutil.PutBytes(buf, rec.Value)
	}
	return buf
}

// DecodeSendAggregatorsToWorkerPayload parses a send-aggregators-to-worker
// payload.
func DecodeSendAggregatorsToWorkerPayload(buf []byte) (SendAggregatorsToWorkerPayload, error) {
	r := binutil.NewReader(buf)
	var out SendAggregatorsToWorkerPayload
	n := r.Uint32()
	out.Aggregators = make([]AggregatorRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		out.Aggregators = append(out.Aggregators, AggregatorRecord{
			Name:  r.String(),
			Class: r.String(),
			Value: append([]byte(nil), r.Bytes()...),
		})
	}
	if r.Err() != nil {
		return SendAggregatorsToWorkerPayload{}, xerrors.Errorf("decoding send-aggregators-to-worker payload: %w", r.Err())
	}
	return out, nil
}

// PutRequestCount encodes the reserved "<COUNT>" aggregator's value bytes.
func PutRequestCount(n uint64) []byte { return binutil.PutUint64(nil, n) }

// RequestCount decodes the reserved "<COUNT>" aggregator's value bytes.
func RequestCount(value []byte) (uint64, error) {
	r := binutil.NewReader(value)
	n := r.Uint64()
	if r.Err() != nil {
		return 0, xerrors.Errorf("decoding request count: %w", r.Err())
	}
	return n, nil
}

// SingleEdgePayload is the payload shared by the add-edge and remove-edge
// control requests: the source vertex id plus the target (and, for
// add-edge, the edge value).
type SingleEdgePayload struct {
	VertexID partition.ID
	Target   partition.ID
	Value    []byte // unused for remove-edge
}

// Encode writes vertex id, target id, value.
func (p SingleEdgePayload) Encode() []byte {
	buf := binutil.PutBytes(nil, p.VertexID.Bytes())
	buf = binutil.PutBytes(buf, p.Target.Bytes())
	buf = binutil.PutBytes(buf, p.Value)
	return buf
}

// DecodeSingleEdgePayload parses a SingleEdgePayload.
func DecodeSingleEdgePayload(buf []byte) (SingleEdgePayload, error) {
	r := binutil.NewReader(buf)
	p := SingleEdgePayload{
		VertexID: partition.NewID(append([]byte(nil), r.Bytes()...)),
		Target:   partition.NewID(append([]byte(nil), r.Bytes()...)),
		Value:    append([]byte(nil), r.Bytes()...),
	}
	if r.Err() != nil {
		return SingleEdgePayload{}, xerrors.Errorf("decoding edge payload: %w", r.Err())
	}
	return p, nil
}

// SingleVertexPayload is the payload shared by the add-vertex and
// remove-vertex control requests.
type SingleVertexPayload struct {
	Vertex VertexRecord // unused (ID only) for remove-vertex
}

// Encode writes the vertex record.
func (p SingleVertexPayload) Encode() []byte {
	return putVertexRecord(nil, p.Vertex)
}

// DecodeSingleVertexPayload parses a SingleVertexPayload.
func DecodeSingleVertexPayload(buf []byte) (SingleVertexPayload, error) {
	r := binutil.NewReader(buf)
	p := SingleVertexPayload{Vertex: readVertexRecord(r)}
	if r.Err() != nil {
		return SingleVertexPayload{}, xerrors.Errorf("decoding vertex payload: %w", r.Err())
	}
	return p, nil
}

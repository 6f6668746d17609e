package checkpoint

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/bspgraph/message"
	"github.com/dreamware-labs/bspworker/worker/aggregator"
	"github.com/dreamware-labs/bspworker/worker/binutil"
	"github.com/dreamware-labs/bspworker/worker/msgstore"
	"github.com/dreamware-labs/bspworker/worker/partition"
	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

func filePath(dir string, superstep int) string {
	return filepath.Join(dir, fmt.Sprintf("superstep-%010d.ckpt", superstep))
}

// Writer persists a worker's state at a superstep boundary. It satisfies
// superstep.CheckpointWriter.
type Writer struct {
	cfg Config
}

// NewWriter validates cfg and ensures cfg.Dir exists.
func NewWriter(cfg Config) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("checkpoint.NewWriter: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, xerrors.Errorf("checkpoint.NewWriter: creating %q: %w", cfg.Dir, err)
	}
	return &Writer{cfg: cfg}, nil
}

// Write encodes partitions, the messages queued in inbox.Next(superstep)
// (the input of the following superstep's compute phase), and every
// aggregator's finalized value, then renames the
// result into place so a concurrent reader never observes a partial file.
func (w *Writer) Write(superstep int, partitions partition.Store, inbox *msgstore.Inbox, aggregators *aggregator.Service) error {
	buf := binutil.PutUint32(nil, uint32(superstep))

	partitionBlobs, err := w.encodePartitions(partitions)
	if err != nil {
		return xerrors.Errorf("encoding partitions: %w", err)
	}
	buf = binutil.PutUint32(buf, uint32(len(partitionBlobs)))
	for _, blob := range partitionBlobs {
		buf = binutil.PutBytes(buf, blob)
	}

	msgBlob, err := w.encodeMessages(inbox.Next(superstep))
	if err != nil {
		return xerrors.Errorf("encoding pending messages: %w", err)
	}
	buf = binutil.PutBytes(buf, msgBlob)

	aggrBlob, err := w.encodeAggregators(aggregators)
	if err != nil {
		return xerrors.Errorf("encoding aggregators: %w", err)
	}
	buf = binutil.PutBytes(buf, aggrBlob)

	return w.writeFile(superstep, buf)
}

func (w *Writer) encodePartitions(store partition.Store) ([][]byte, error) {
	var blobs [][]byte
	var walkErr error
	store.Iterate(func(pid uint32) bool {
		p, err := store.Get(pid)
		if err != nil {
			walkErr = xerrors.Errorf("reading partition %d: %w", pid, err)
			return false
		}
		var records []rpcpb.VertexRecord
		p.Iterate(func(v *partition.Vertex) bool {
			records = append(records, vertexToRecord(v))
			return true
		})
		payload := rpcpb.SendVertexPayload{PartitionID: pid, Vertices: records}
		blobs = append(blobs, payload.Encode())
		return true
	})
	return blobs, walkErr
}

func (w *Writer) encodeMessages(store *msgstore.Store) ([]byte, error) {
	dests := store.DestinationVertices()
	vms := make([]rpcpb.VertexMessages, 0, len(dests))
	for _, id := range dests {
		msgs := store.Messages(id)
		raws := make([]rpcpb.RawMessage, 0, len(msgs))
		for _, m := range msgs {
			raw, err := w.cfg.Codec.Encode(m)
			if err != nil {
				return nil, xerrors.Errorf("encoding message for vertex %q: %w", id.String(), err)
			}
			raws = append(raws, raw)
		}
		vms = append(vms, rpcpb.VertexMessages{VertexID: id, Messages: raws})
	}
	payload := rpcpb.SendWorkerMessagesPayload{Partitions: []rpcpb.PartitionMessages{{Vertices: vms}}}
	return payload.Encode(), nil
}

func (w *Writer) encodeAggregators(aggregators *aggregator.Service) ([]byte, error) {
	values, err := aggregator.SerializeValues(aggregators, w.cfg.Serializer, false)
	if err != nil {
		return nil, err
	}
	records := make([]rpcpb.AggregatorRecord, 0, len(values))
	for name, val := range values {
		records = append(records, rpcpb.AggregatorRecord{Name: name, Class: val.TypeUrl, Value: val.Value})
	}
	payload := rpcpb.SendAggregatorsToWorkerPayload{Aggregators: records}
	return payload.Encode(), nil
}

func (w *Writer) writeFile(superstep int, buf []byte) error {
	path := filePath(w.cfg.Dir, superstep)
	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, buf, 0o644); err != nil {
		return xerrors.Errorf("writing checkpoint file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return xerrors.Errorf("renaming checkpoint file into place: %w", err)
	}
	return nil
}

// Snapshot is the decoded contents of one checkpoint file.
type Snapshot struct {
	Superstep   int
	Partitions  []*partition.Partition
	Messages    map[partition.ID][]message.Message
	Aggregators map[string]interface{}
}

// Reader loads checkpoint files a Writer produced.
type Reader struct {
	cfg Config
}

// NewReader validates cfg.
func NewReader(cfg Config) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("checkpoint.NewReader: %w", err)
	}
	return &Reader{cfg: cfg}, nil
}

// Latest returns the highest superstep with a checkpoint file present, or
// (0, false, nil) if cfg.Dir does not exist or holds no checkpoint files.
func (r *Reader) Latest() (int, bool, error) {
	entries, err := ioutil.ReadDir(r.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, xerrors.Errorf("listing %q: %w", r.cfg.Dir, err)
	}
	found := false
	var latest int
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "superstep-%010d.ckpt", &n); err != nil {
			continue
		}
		if !found || n > latest {
			latest, found = n, true
		}
	}
	return latest, found, nil
}

// Read decodes the checkpoint file for the given superstep.
func (r *Reader) Read(superstep int) (Snapshot, error) {
	path := filePath(r.cfg.Dir, superstep)
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return Snapshot{}, xerrors.Errorf("reading checkpoint file %q: %w", path, err)
	}

	reader := binutil.NewReader(buf)
	snap := Snapshot{Superstep: int(reader.Uint32())}

	partCount := reader.Uint32()
	for i := uint32(0); i < partCount; i++ {
		blob := reader.Bytes()
		payload, err := rpcpb.DecodeSendVertexPayload(blob)
		if err != nil {
			return Snapshot{}, xerrors.Errorf("decoding partition %d: %w", i, err)
		}
		p := partition.NewPartition(payload.PartitionID)
		for _, rec := range payload.Vertices {
			p.Put(recordToVertex(rec))
		}
		snap.Partitions = append(snap.Partitions, p)
	}

	msgPayload, err := rpcpb.DecodeSendWorkerMessagesPayload(reader.Bytes())
	if err != nil {
		return Snapshot{}, xerrors.Errorf("decoding pending messages: %w", err)
	}
	snap.Messages = make(map[partition.ID][]message.Message)
	for _, part := range msgPayload.Partitions {
		for _, vm := range part.Vertices {
			msgs := make([]message.Message, 0, len(vm.Messages))
			for _, raw := range vm.Messages {
				m, err := r.cfg.Codec.Decode(raw)
				if err != nil {
					return Snapshot{}, xerrors.Errorf("decoding message for vertex %q: %w", vm.VertexID.String(), err)
				}
				msgs = append(msgs, m)
			}
			snap.Messages[vm.VertexID] = msgs
		}
	}

	aggrPayload, err := rpcpb.DecodeSendAggregatorsToWorkerPayload(reader.Bytes())
	if err != nil {
		return Snapshot{}, xerrors.Errorf("decoding aggregators: %w", err)
	}
	snap.Aggregators = make(map[string]interface{}, len(aggrPayload.Aggregators))
	for _, rec := range aggrPayload.Aggregators {
		val, err := r.cfg.Serializer.Unserialize(&any.Any{TypeUrl: rec.Class, Value: rec.Value})
		if err != nil {
			return Snapshot{}, xerrors.Errorf("unserializing aggregator %q: %w", rec.Name, err)
		}
		snap.Aggregators[rec.Name] = val
	}

	if reader.Err() != nil {
		return Snapshot{}, xerrors.Errorf("decoding checkpoint file %q: %w", path, reader.Err())
	}
	return snap, nil
}

// Restore loads a snapshot into a fresh partition store, the inbox buffer
// inbox.Next(snap.Superstep) (the current buffer of the superstep after the
// snapshot's), and the aggregator registry. It is the counterpart a worker resuming from the
// last checkpoint calls instead of replaying its input splits.
func (r *Reader) Restore(snap Snapshot, store partition.Store, inbox *msgstore.Inbox, aggregators *aggregator.Service) error {
	for _, p := range snap.Partitions {
		if err := store.Add(p); err != nil {
			return xerrors.Errorf("restoring partition %d: %w", p.ID(), err)
		}
	}
	next := inbox.Next(snap.Superstep)
	for id, msgs := range snap.Messages {
		for _, m := range msgs {
			next.AddMessage(id, m)
		}
	}
	for name, val := range snap.Aggregators {
		if aggr := aggregators.Aggregator(name); aggr != nil {
			aggr.Set(val)
		}
	}
	return nil
}

func vertexToRecord(v *partition.Vertex) rpcpb.VertexRecord {
	edges := make([]rpcpb.EdgeRecord, len(v.Edges))
	for i, e := range v.Edges {
		edges[i] = rpcpb.EdgeRecord{Target: e.Target, Value: e.Value}
	}
	return rpcpb.VertexRecord{ID: v.ID, Value: v.Value, Edges: edges, Halted: v.Halted}
}

func recordToVertex(rec rpcpb.VertexRecord) *partition.Vertex {
	edges := make([]partition.Edge, len(rec.Edges))
	for i, e := range rec.Edges {
		edges[i] = partition.Edge{Target: e.Target, Value: e.Value}
	}
	return &partition.Vertex{ID: rec.ID, Value: rec.Value, Edges: edges, Halted: rec.Halted}
}

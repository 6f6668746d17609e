package partition

import (
	"sort"

	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/worker/binutil"
)

// Encode serializes p into its byte-array representation: partition id,
// vertex count, then per vertex (in sorted id order) its id, value, and
// edges. This is the representation the disk-backed store spills to disk;
// no configuration key selects it, and resident partitions always stay in
// their map form.
func (p *Partition) Encode() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, 0, 64*len(p.vertices))
	buf = binutil.PutUint32(buf, p.id)
	buf = binutil.PutUint32(buf, uint32(p.vertexCount))

	ids := make([]ID, 0, len(p.vertices))
	for id := range p.vertices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		v := p.vertices[id]
		buf = binutil.PutBytes(buf, v.ID.Bytes())
		buf = binutil.PutString(buf, v.ValueType)
		buf = binutil.PutBytes(buf, v.Value)
		buf = binutil.PutUint32(buf, uint32(len(v.Edges)))
		for _, e := range v.Edges {
			buf = binutil.PutBytes(buf, e.Target.Bytes())
			buf = binutil.PutString(buf, e.ValueType)
			buf = binutil.PutBytes(buf, e.Value)
		}
	}
	return buf
}

// Decode reconstructs a Partition from the bytes produced by Encode.
func Decode(buf []byte) (*Partition, error) {
	r := binutil.NewReader(buf)
	id := r.Uint32()
	count := r.Uint32()

	p := NewPartition(id)
	for i := uint32(0); i < count; i++ {
		v := &Vertex{
			ID:        NewID(append([]byte(nil), r.Bytes()...)),
			ValueType: r.String(),
			Value:     append([]byte(nil), r.Bytes()...),
		}
		edgeCount := r.Uint32()
		v.Edges = make([]Edge, 0, edgeCount)
		for j := uint32(0); j < edgeCount; j++ {
			v.Edges = append(v.Edges, Edge{
				Target:    NewID(append([]byte(nil), r.Bytes()...)),
				ValueType: r.String(),
				Value:     append([]byte(nil), r.Bytes()...),
			})
		}
		if r.Err() != nil {
			return nil, xerrors.Errorf("decoding partition frame: %w", r.Err())
		}
		p.putLocked(v)
	}
	if r.Err() != nil {
		return nil, xerrors.Errorf("decoding partition frame: %w", r.Err())
	}
	return p, nil
}

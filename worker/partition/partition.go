package partition

import (
	"sort"
	"sync"
)

// Partition is a disjoint subset of vertices owned by exactly one worker
// within a superstep. Its id never changes once created; vertex and edge
// counts are cached and kept in sync with every mutation.
//
// A Partition exposes two physical representations over the same
// underlying state: the live object map (MapLayout, i.e. the struct itself,
// used while the partition is resident and being computed over) and a
// serialized byte-array form (FrameLayout, produced by Encode/decoded by
// Decode) used for disk spill and wire transfer.
type Partition struct {
	mu sync.Mutex

	id       uint32
	vertices map[ID]*Vertex

	vertexCount int
	edgeCount   int
}

// NewPartition creates an empty partition with the given id.
func NewPartition(id uint32) *Partition {
	return &Partition{
		id:       id,
		vertices: make(map[ID]*Vertex),
	}
}

// ID returns the partition's dense, non-negative id.
func (p *Partition) ID() uint32 { return p.id }

// VertexCount returns the cached vertex count.
func (p *Partition) VertexCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vertexCount
}

// EdgeCount returns the cached edge count across every vertex in the
// partition.
func (p *Partition) EdgeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.edgeCount
}

// Put inserts or overwrites the vertex with the same id, recalculating the
// cached counts.
func (p *Partition) Put(v *Vertex) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.putLocked(v)
}

func (p *Partition) putLocked(v *Vertex) {
	if old, ok := p.vertices[v.ID]; ok {
		p.edgeCount -= len(old.Edges)
	} else {
		p.vertexCount++
	}
	p.vertices[v.ID] = v
	p.edgeCount += len(v.Edges)
}

// Get returns a borrowed reference to the vertex with the given id.
func (p *Partition) Get(id ID) (*Vertex, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.vertices[id]
	return v, ok
}

// Remove deletes the vertex with the given id and reports whether it was
// present.
func (p *Partition) Remove(id ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.vertices[id]
	if !ok {
		return false
	}
	p.edgeCount -= len(v.Edges)
	p.vertexCount--
	delete(p.vertices, id)
	return true
}

// Take removes and returns the vertex with the given id, transferring
// ownership to the caller. Unlike Remove, it hands back the detached
// vertex so callers (the mutation resolver) can mutate it freely without
// corrupting the partition's cached counts.
func (p *Partition) Take(id ID) (*Vertex, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.vertices[id]
	if !ok {
		return nil, false
	}
	p.edgeCount -= len(v.Edges)
	p.vertexCount--
	delete(p.vertices, id)
	return v, true
}

// Has reports whether a vertex with the given id is present.
func (p *Partition) Has(id ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.vertices[id]
	return ok
}

// Iterate invokes fn for every vertex in the partition in sorted id order,
// the order the mutation resolver and checkpoint writer both rely on for
// determinism. Iteration stops early if fn returns false.
func (p *Partition) Iterate(fn func(*Vertex) bool) {
	p.mu.Lock()
	ids := make([]ID, 0, len(p.vertices))
	for id := range p.vertices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	verts := make([]*Vertex, len(ids))
	for i, id := range ids {
		verts[i] = p.vertices[id]
	}
	p.mu.Unlock()

	for _, v := range verts {
		if !fn(v) {
			return
		}
	}
}

// Merge folds the vertices of other into p. A vertex id present in both is
// resolved last-write-wins: other's vertex overwrites p's (see the
// partition-merge open question decided in favor of this policy).
func (p *Partition) Merge(other *Partition) {
	other.mu.Lock()
	incoming := make([]*Vertex, 0, len(other.vertices))
	for _, v := range other.vertices {
		incoming = append(incoming, v)
	}
	other.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range incoming {
		p.putLocked(v)
	}
}

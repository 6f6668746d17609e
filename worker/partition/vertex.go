package partition

// Edge is a directed pair (target vertex id, value). Edges are owned by
// their source Vertex; multi-edges to the same target are permitted.
type Edge struct {
	Target    ID
	Value     []byte
	ValueType string
}

// Vertex is a single vertex owned by exactly one Partition at any instant.
// Value and edge values are carried as encoded bytes plus a type hint so the
// partition store never needs to know the concrete Go type a vertex program
// works with; the vertex program encodes and decodes these bytes itself.
type Vertex struct {
	ID        ID
	Value     []byte
	ValueType string
	Edges     []Edge
	Halted    bool
}

// Clone returns a deep copy of v so callers can mutate the result without
// racing with concurrent readers of the original.
func (v *Vertex) Clone() *Vertex {
	cp := &Vertex{
		ID:        v.ID,
		Value:     append([]byte(nil), v.Value...),
		ValueType: v.ValueType,
		Halted:    v.Halted,
		Edges:     make([]Edge, len(v.Edges)),
	}
	for i, e := range v.Edges {
		cp.Edges[i] = Edge{
			Target:    e.Target,
			Value:     append([]byte(nil), e.Value...),
			ValueType: e.ValueType,
		}
	}
	return cp
}

// RemoveEdge removes the first edge whose target matches dst and reports
// whether an edge was removed.
func (v *Vertex) RemoveEdge(dst ID) bool {
	for i, e := range v.Edges {
		if e.Target == dst {
			v.Edges = append(v.Edges[:i], v.Edges[i+1:]...)
			return true
		}
	}
	return false
}

// AddEdge appends a new outgoing edge.
func (v *Vertex) AddEdge(e Edge) { v.Edges = append(v.Edges, e) }

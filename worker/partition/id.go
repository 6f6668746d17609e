// Package partition owns a worker's share of the graph: the Vertex/Edge/
// Partition data model and the resident and disk-backed stores that hold
// partitions in memory or spill them to disk under a resident cap.
package partition

// ID is an opaque, comparable, totally ordered vertex identifier. Vertex ids
// arrive from input readers as raw bytes; ID wraps them in a string so it can
// serve directly as a map key without committing the rest of the package to
// any particular concrete id type (spec's VERTEX_ID_CLASS selects the codec
// that produced the bytes, not the representation here).
type ID string

// NewID wraps raw vertex id bytes as an ID.
func NewID(b []byte) ID { return ID(b) }

// Bytes returns the raw bytes backing this ID.
func (id ID) Bytes() []byte { return []byte(id) }

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

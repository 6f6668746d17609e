// Package wcc is the worker runtime's built-in vertex program: weakly
// connected components by minimum-label propagation. Grounded in the
// teacher's bspgraph.ComputeFunc contract (Chapter08/bspgraph/graph_test.go's
// broadcast-then-adopt-value pattern) adapted to superstep.ComputeFunc's
// partition-owned Vertex, wire-encoded messages, and Halted-driven
// convergence. Dynamically loaded, user-supplied vertex programs are out of
// scope for this runtime, so cmd/bspworker wires this package in directly as
// the worker's sole compute function.
package wcc

import (
	"github.com/dreamware-labs/bspworker/bspgraph/message"
	"github.com/dreamware-labs/bspworker/worker/partition"
	"github.com/dreamware-labs/bspworker/worker/rpcpb"
	"github.com/dreamware-labs/bspworker/worker/superstep"
)

// label returns v's current component label: its own id's bytes until a
// smaller label has been adopted from a neighbor.
func label(v *partition.Vertex) []byte {
	if len(v.Value) == 0 {
		return v.ID.Bytes()
	}
	return v.Value
}

func less(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// ComputeFunc broadcasts each vertex's current label to its neighbors every
// superstep, adopts the smallest label received, and halts once a superstep
// produces no change; a component converges once every member vertex has
// halted and no further label-change messages are in flight.
func ComputeFunc(vc *superstep.VertexContext, v *partition.Vertex, msgs message.Iterator) error {
	current := label(v)
	changed := false

	for msgs.Next() {
		raw, ok := msgs.Message().(rpcpb.RawMessage)
		if !ok {
			continue
		}
		if less([]byte(raw), current) {
			current = append([]byte(nil), raw...)
			changed = true
		}
	}

	if vc.Superstep() == 0 {
		v.Value = current
		return vc.BroadcastToNeighbors(v, rpcpb.RawMessage(current))
	}

	if !changed {
		v.Halted = true
		return nil
	}

	v.Value = current
	return vc.BroadcastToNeighbors(v, rpcpb.RawMessage(current))
}

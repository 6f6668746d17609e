package mutation

import (
	"fmt"
	"testing"

	gc "gopkg.in/check.v1"

	"github.com/dreamware-labs/bspworker/worker/partition"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(ResolverTestSuite))

type ResolverTestSuite struct{}

// TestSendPartitionMutations mirrors the send-partition-mutations scenario:
// for ids 0..10, each carrying 3 add-vertex (values 0..2), 2 remove-vertex,
// 5 add-edge (edge values 0,2,4,6,8), 7 remove-edge.
func (s *ResolverTestSuite) TestSendPartitionMutations(c *gc.C) {
	p := partition.NewPartition(1)
	buf := New()

	for i := 0; i <= 10; i++ {
		id := partition.NewID([]byte(fmt.Sprint(i)))
		for v := 0; v < 3; v++ {
			buf.AddVertex(id, &partition.Vertex{ID: id, Value: []byte{byte(v)}})
		}
		for j := 0; j < 2; j++ {
			buf.RemoveVertex(id)
		}
		for e := 0; e < 5; e++ {
			buf.AddEdge(id, partition.Edge{Target: partition.NewID([]byte("t")), Value: []byte{byte(e * 2)}})
		}
		for e := 0; e < 7; e++ {
			buf.RemoveEdge(id, partition.NewID([]byte("t")))
		}
	}

	r := &Resolver{CreateVertexOnMessages: false}
	r.Apply(p, buf.Drain(), nil)

	// Every id had a remove-vertex request (step 2) followed by 3
	// add-vertex requests (step 3 adopts the first, value 0), then 5
	// add-edge requests applied in step 5. The 7 remove-edge requests in
	// step 1 ran before the vertex was recreated in step 3, so they find
	// nothing to prune and are warned, not applied.
	sumIDs := 0
	addedValueSum := 0
	addedEdgeValueSum := 0
	count := 0
	p.Iterate(func(v *partition.Vertex) bool {
		count++
		var id int
		fmt.Sscan(v.ID.String(), &id)
		sumIDs += id
		addedValueSum += int(v.Value[0])
		for _, e := range v.Edges {
			addedEdgeValueSum += int(e.Value[0])
		}
		return true
	})

	c.Assert(count, gc.Equals, 11)
	c.Assert(sumIDs, gc.Equals, 55)
	c.Assert(addedValueSum, gc.Equals, 0) // first add-vertex carried value 0
	c.Assert(addedEdgeValueSum, gc.Equals, 20)
}

func (s *ResolverTestSuite) TestSynthesizesVertexForAddedEdge(c *gc.C) {
	p := partition.NewPartition(1)
	buf := New()
	id := partition.NewID([]byte("ghost"))

	r := &Resolver{CreateVertexOnMessages: true}
	r.Apply(p, buf.Drain(), nil) // nothing buffered, no-op

	buf2 := New()
	buf2.AddEdge(id, partition.Edge{Target: partition.NewID([]byte("x"))})
	r.Apply(p, buf2.Drain(), func(partition.ID) bool { return false })

	v, ok := p.Get(id)
	c.Assert(ok, gc.Equals, true)
	c.Assert(v.Edges, gc.HasLen, 1)
}

func (s *ResolverTestSuite) TestIgnoresAddVertexWhenAlreadyExists(c *gc.C) {
	p := partition.NewPartition(1)
	id := partition.NewID([]byte("v1"))
	p.Put(&partition.Vertex{ID: id, Value: []byte{9}})

	buf := New()
	buf.AddVertex(id, &partition.Vertex{ID: id, Value: []byte{1}})

	r := &Resolver{}
	r.Apply(p, buf.Drain(), nil)

	v, ok := p.Get(id)
	c.Assert(ok, gc.Equals, true)
	c.Assert(v.Value[0], gc.Equals, byte(9))
}

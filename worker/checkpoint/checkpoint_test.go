package checkpoint

import (
	"io/ioutil"
	"os"
	"testing"

	gc "gopkg.in/check.v1"

	"github.com/dreamware-labs/bspworker/bspgraph"
	bspaggregator "github.com/dreamware-labs/bspworker/bspgraph/aggregator"
	"github.com/dreamware-labs/bspworker/bspgraph/message"
	"github.com/dreamware-labs/bspworker/worker/aggregator"
	"github.com/dreamware-labs/bspworker/worker/msgstore"
	"github.com/dreamware-labs/bspworker/worker/partition"
	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(CheckpointTestSuite))

type CheckpointTestSuite struct {
	dir string
}

func (s *CheckpointTestSuite) SetUpTest(c *gc.C) {
	dir, err := ioutil.TempDir("", "bspworker-checkpoint-")
	c.Assert(err, gc.IsNil)
	s.dir = dir
}

func (s *CheckpointTestSuite) TearDownTest(c *gc.C) {
	os.RemoveAll(s.dir)
}

// rawCodec round-trips message.Message values that are already
// rpcpb.RawMessage, the same concrete message type the superstep package's
// tests use.
type rawCodec struct{}

func (rawCodec) Encode(m message.Message) (rpcpb.RawMessage, error) {
	return m.(rpcpb.RawMessage), nil
}

func (rawCodec) Decode(raw rpcpb.RawMessage) (message.Message, error) {
	return raw, nil
}

func (s *CheckpointTestSuite) TestWriteReadRoundTrip(c *gc.C) {
	store := partition.NewResidentStore()
	p := partition.NewPartition(0)
	idA := partition.NewID([]byte("a"))
	idB := partition.NewID([]byte("b"))
	p.Put(&partition.Vertex{ID: idA, Value: []byte("va"), Edges: []partition.Edge{{Target: idB, Value: []byte("ev")}}})
	p.Put(&partition.Vertex{ID: idB, Value: []byte("vb"), Halted: true})
	c.Assert(store.Add(p), gc.IsNil)

	inbox := msgstore.NewInbox(4, nil)
	inbox.Next(0).AddMessage(idB, rpcpb.RawMessage("ping"))

	aggregators := aggregator.New()
	c.Assert(aggregators.Register("counter", aggregator.Persistent, func() bspgraph.Aggregator {
		return new(bspaggregator.IntAccumulator)
	}), gc.IsNil)
	aggregators.Aggregator("counter").Aggregate(7)

	w, err := NewWriter(Config{Dir: s.dir, Codec: rawCodec{}})
	c.Assert(err, gc.IsNil)
	c.Assert(w.Write(0, store, inbox, aggregators), gc.IsNil)

	r, err := NewReader(Config{Dir: s.dir, Codec: rawCodec{}})
	c.Assert(err, gc.IsNil)

	latest, ok, err := r.Latest()
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, true)
	c.Assert(latest, gc.Equals, 0)

	snap, err := r.Read(0)
	c.Assert(err, gc.IsNil)
	c.Assert(snap.Superstep, gc.Equals, 0)
	c.Assert(snap.Partitions, gc.HasLen, 1)
	c.Assert(snap.Partitions[0].ID(), gc.Equals, uint32(0))
	c.Assert(snap.Partitions[0].VertexCount(), gc.Equals, 2)

	vb, ok := snap.Partitions[0].Get(idB)
	c.Assert(ok, gc.Equals, true)
	c.Assert(vb.Halted, gc.Equals, true)

	va, ok := snap.Partitions[0].Get(idA)
	c.Assert(ok, gc.Equals, true)
	c.Assert(va.Edges, gc.HasLen, 1)
	c.Assert(va.Edges[0].Target, gc.Equals, idB)

	c.Assert(snap.Messages[idB], gc.HasLen, 1)
	c.Assert(string(snap.Messages[idB][0].(rpcpb.RawMessage)), gc.Equals, "ping")

	c.Assert(snap.Aggregators["counter"], gc.Equals, 7)

	restoredStore := partition.NewResidentStore()
	restoredInbox := msgstore.NewInbox(4, nil)
	restoredAggregators := aggregator.New()
	c.Assert(restoredAggregators.Register("counter", aggregator.Persistent, func() bspgraph.Aggregator {
		return new(bspaggregator.IntAccumulator)
	}), gc.IsNil)

	c.Assert(r.Restore(snap, restoredStore, restoredInbox, restoredAggregators), gc.IsNil)
	c.Assert(restoredStore.Has(0), gc.Equals, true)
	c.Assert(restoredInbox.Next(0).HasMessages(idB), gc.Equals, true)
	c.Assert(restoredAggregators.Aggregator("counter").Get(), gc.Equals, 7)
}

func (s *CheckpointTestSuite) TestLatestWithNoCheckpoints(c *gc.C) {
	r, err := NewReader(Config{Dir: s.dir, Codec: rawCodec{}})
	c.Assert(err, gc.IsNil)
	_, ok, err := r.Latest()
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, false)
}

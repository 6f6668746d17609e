package aggregator

import (
	"testing"

	"github.com/golang/protobuf/ptypes/any"
	gc "gopkg.in/check.v1"

	"github.com/dreamware-labs/bspworker/bspgraph"
	bspaggr "github.com/dreamware-labs/bspworker/bspgraph/aggregator"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(ServiceTestSuite))

type ServiceTestSuite struct{}

func (s *ServiceTestSuite) TestRegisterAndLookup(c *gc.C) {
	svc := New()
	err := svc.Register("sum", Transient, func() bspgraph.Aggregator { return new(bspaggr.IntAccumulator) })
	c.Assert(err, gc.IsNil)

	aggr := svc.Aggregator("sum")
	c.Assert(aggr, gc.Not(gc.IsNil))
	aggr.Aggregate(5)
	c.Assert(aggr.Get(), gc.Equals, 5)

	err = svc.Register("sum", Transient, func() bspgraph.Aggregator { return new(bspaggr.IntAccumulator) })
	c.Assert(err, gc.ErrorMatches, `.*already registered.*`)

	c.Assert(svc.Aggregator("missing"), gc.IsNil)
}

func (s *ServiceTestSuite) TestResetTransientLeavesPersistentAlone(c *gc.C) {
	svc := New()
	c.Assert(svc.Register("transient", Transient, func() bspgraph.Aggregator { return new(bspaggr.IntAccumulator) }), gc.IsNil)
	c.Assert(svc.Register("persistent", Persistent, func() bspgraph.Aggregator { return new(bspaggr.IntAccumulator) }), gc.IsNil)

	svc.Aggregator("transient").Aggregate(10)
	svc.Aggregator("persistent").Aggregate(10)

	svc.ResetTransient()

	c.Assert(svc.Aggregator("transient").Get(), gc.Equals, 0)
	c.Assert(svc.Aggregator("persistent").Get(), gc.Equals, 10)
}

func (s *ServiceTestSuite) TestRequestCountAggregatorIsReserved(c *gc.C) {
	svc := New()
	c.Assert(svc.RegisterRequestCountAggregator(), gc.IsNil)

	aggr := svc.Aggregator(ReservedRequestCountName)
	c.Assert(aggr, gc.Not(gc.IsNil))
	aggr.Aggregate(1)
	aggr.Aggregate(1)
	c.Assert(aggr.Get(), gc.Equals, 2)
}

func (s *ServiceTestSuite) TestMergeSerializeSetRoundTrip(c *gc.C) {
	owner := New()
	c.Assert(owner.Register("count", Persistent, func() bspgraph.Aggregator { return new(bspaggr.IntAccumulator) }), gc.IsNil)

	peer := New()
	c.Assert(peer.Register("count", Persistent, func() bspgraph.Aggregator { return new(bspaggr.IntAccumulator) }), gc.IsNil)
	peer.Aggregator("count").Aggregate(7)

	ser := DefaultSerializer{}
	deltas, err := SerializeValues(peer, ser, true)
	c.Assert(err, gc.IsNil)
	c.Assert(deltas, gc.HasLen, 1)

	c.Assert(MergeDeltas(owner, deltas, ser), gc.IsNil)
	c.Assert(owner.Aggregator("count").Get(), gc.Equals, 7)

	finalized, err := SerializeValues(owner, ser, false)
	c.Assert(err, gc.IsNil)

	worker2 := New()
	c.Assert(worker2.Register("count", Persistent, func() bspgraph.Aggregator { return new(bspaggr.IntAccumulator) }), gc.IsNil)
	c.Assert(SetValues(worker2, finalized, ser), gc.IsNil)
	c.Assert(worker2.Aggregator("count").Get(), gc.Equals, 7)
}

func (s *ServiceTestSuite) TestMergeUnknownAggregatorFails(c *gc.C) {
	owner := New()
	ser := DefaultSerializer{}
	val, err := ser.Serialize(1)
	c.Assert(err, gc.IsNil)

	err = MergeDeltas(owner, map[string]*any.Any{"unregistered": val}, ser)
	c.Assert(err, gc.ErrorMatches, `.*not registered locally.*`)
}

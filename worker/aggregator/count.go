package aggregator

import (
	bspaggr "github.com/dreamware-labs/bspworker/bspgraph/aggregator"
)

// RequestCountAggregator tallies the in-flight request count a worker's RPC
// client reports during the flow-control verification spec.md §4.4
// mentions. It is a thin alias over IntAccumulator: Aggregate(1) per
// dispatched request, Delta() consumed at barrier time.
type RequestCountAggregator struct {
	bspaggr.IntAccumulator
}

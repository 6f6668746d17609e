package superstep

// State is one stage of the per-worker superstep state machine spec.md §4.6
// names. Controller.RunSuperstep steps through these values in order instead
// of the teacher's PreStep/PostStep/PostStepKeepRunning callback trio
// (Chapter08/bspgraph/executor.go), since the worker's superstep needs
// explicit phases the RPC layer and coordination service both observe.
type State int

const (
	StateSetup State = iota
	StateInputSplits
	StateVertexExchange
	StateCompute
	StateFlushRequests
	StateBarrier
	StateApplyMutations
	StateRollMessages
	StateFinalizeAggregators
	StateNextSuperstep
	StateTerminate
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "SETUP"
	case StateInputSplits:
		return "INPUT_SPLITS"
	case StateVertexExchange:
		return "VERTEX_EXCHANGE"
	case StateCompute:
		return "COMPUTE"
	case StateFlushRequests:
		return "FLUSH_REQUESTS"
	case StateBarrier:
		return "BARRIER"
	case StateApplyMutations:
		return "APPLY_MUTATIONS"
	case StateRollMessages:
		return "ROLL_MESSAGES"
	case StateFinalizeAggregators:
		return "FINALIZE_AGGREGATORS"
	case StateNextSuperstep:
		return "NEXT_SUPERSTEP"
	case StateTerminate:
		return "TERMINATE"
	default:
		return "UNKNOWN"
	}
}

package aggregator

import (
	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"
)

// MergeDeltas folds a peer's per-aggregator partial values into this
// service's local aggregators. Generalized from the teacher's
// mergeWorkerAggregatorDeltas, which ran master-side over every connected
// worker's reported deltas; here the same fold runs worker-side over the
// partials the owning worker receives from its peers at barrier time.
func MergeDeltas(s *Service, deltas map[string]*any.Any, ser Serializer) error {
	for name, raw := range deltas {
		aggr := s.Aggregator(name)
		if aggr == nil {
			return xerrors.Errorf("peer sent a value for aggregator %q which is not registered locally", name)
		}
		val, err := ser.Unserialize(raw)
		if err != nil {
			return xerrors.Errorf("unable to unserialize delta value for aggregator %q: %w", name, err)
		}
		aggr.Aggregate(val)
	}
	return nil
}

// SerializeValues snapshots every registered aggregator. When deltaOnly is
// true, Delta() is used (the change since the last call, for shipping a
// worker-local partial at barrier time); otherwise Get() is used (the
// finalized value, for broadcasting at the start of the next superstep).
func SerializeValues(s *Service, ser Serializer, deltaOnly bool) (map[string]*any.Any, error) {
	names := s.Names()
	if len(names) == 0 {
		return nil, nil
	}

	out := make(map[string]*any.Any, len(names))
	for _, name := range names {
		aggr := s.Aggregator(name)
		var v interface{}
		if deltaOnly {
			v = aggr.Delta()
		} else {
			v = aggr.Get()
		}
		serialized, err := ser.Serialize(v)
		if err != nil {
			return nil, xerrors.Errorf("unable to serialize value for aggregator %q: %w", name, err)
		}
		out[name] = serialized
	}
	return out, nil
}

// SetValues overwrites every named aggregator with the finalized value a
// peer broadcast, as the teacher's setAggregatorValues does for the
// master-to-worker direction.
func SetValues(s *Service, values map[string]*any.Any, ser Serializer) error {
	for name, raw := range values {
		aggr := s.Aggregator(name)
		if aggr == nil {
			return xerrors.Errorf("peer sent a value for aggregator %q which is not registered locally", name)
		}
		val, err := ser.Unserialize(raw)
		if err != nil {
			return xerrors.Errorf("unable to unserialize value for aggregator %q: %w", name, err)
		}
		aggr.Set(val)
	}
	return nil
}

// Package aggregator tracks worker-local aggregator state and implements
// the delta-merge-broadcast dance that folds per-partition-worker partials
// into a single value visible to the next superstep (spec.md §4.4).
package aggregator

import (
	"sync"

	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/bspgraph"
)

// Kind distinguishes the two aggregator name-spaces spec.md §3 describes.
type Kind int

const (
	// Transient aggregators are reset to their zero value at the start of
	// every superstep.
	Transient Kind = iota
	// Persistent aggregators accumulate across the whole job.
	Persistent
)

// ReservedRequestCountName is the aggregator name reserved for the
// in-flight request count workers exchange during flow-control
// verification (spec.md §4.4 last line).
const ReservedRequestCountName = "<COUNT>"

type entry struct {
	kind Kind
	// factory creates a fresh instance; it is kept for every kind, but
	// ResetTransient calls it again only for Transient aggregators.
	// Persistent ones are never replaced.
	factory func() bspgraph.Aggregator
	aggr    bspgraph.Aggregator
}

// Service is a worker-local aggregator registry. Registration happens once,
// during setup, mirroring spec.md's "registration ... occurs in the
// master-compute phase and is broadcast with the values" — here each worker
// registers locally before the first superstep (runtime.NewNode registers
// the reserved request-count aggregator).
type Service struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty aggregator service.
func New() *Service {
	return &Service{entries: make(map[string]*entry)}
}

// Register adds a new aggregator under name. factory must return a fresh,
// zero-valued instance of the aggregator's concrete type; it is invoked
// immediately to populate the initial value and again by ResetTransient for
// every Transient aggregator at the start of a superstep.
func (s *Service) Register(name string, kind Kind, factory func() bspgraph.Aggregator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return xerrors.Errorf("aggregator %q already registered", name)
	}
	s.entries[name] = &entry{kind: kind, factory: factory, aggr: factory()}
	return nil
}

// Aggregator returns the aggregator registered under name, implementing
// bspgraph.Graph's own Aggregator lookup contract so a Service can back a
// graph's RegisterAggregator/Aggregator pair directly.
func (s *Service) Aggregator(name string) bspgraph.Aggregator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil
	}
	return e.aggr
}

// Names returns the registered aggregator names in no particular order.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// ResetTransient replaces every Transient aggregator with a fresh instance,
// as spec.md §3 requires at the start of each superstep. Persistent
// aggregators are left untouched.
func (s *Service) ResetTransient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.kind == Transient {
			e.aggr = e.factory()
		}
	}
}

// RegisterRequestCountAggregator registers the reserved request-count
// aggregator used for inter-worker flow-control verification. It is a
// Transient aggregator: the count resets every superstep.
func (s *Service) RegisterRequestCountAggregator() error {
	return s.Register(ReservedRequestCountName, Transient, func() bspgraph.Aggregator {
		return new(RequestCountAggregator)
	})
}

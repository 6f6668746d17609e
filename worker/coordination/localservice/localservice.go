// Package localservice implements coordination.Service entirely in memory,
// for tests and single-process demos. It mirrors the teacher's
// masterStepBarrier channel-based rendezvous (dbspgraph/barrier.go)
// generalized from a fixed step-type enum into an arbitrary path namespace.
package localservice

import (
	"context"
	"sync"

	"github.com/dreamware-labs/bspworker/worker/coordination"
)

type node struct {
	value     []byte
	ephemeral bool
}

// Service is an in-memory coordination.Service.
type Service struct {
	mu       sync.Mutex
	nodes    map[string]*node
	watchers map[string][]chan coordination.Event
}

// New creates an empty Service.
func New() *Service {
	return &Service{
		nodes:    make(map[string]*node),
		watchers: make(map[string][]chan coordination.Event),
	}
}

func (s *Service) create(path string, value []byte, ephemeral bool) error {
	s.mu.Lock()
	if _, exists := s.nodes[path]; exists {
		s.mu.Unlock()
		return coordination.ErrAlreadyExists
	}
	s.nodes[path] = &node{value: value, ephemeral: ephemeral}
	watchers := append([]chan coordination.Event(nil), s.watchers[path]...)
	s.mu.Unlock()

	broadcast(watchers, coordination.Event{Type: coordination.EventCreated, Path: path, Value: value})
	return nil
}

// CreateEphemeral implements coordination.Service.
func (s *Service) CreateEphemeral(_ context.Context, path string, value []byte) error {
	return s.create(path, value, true)
}

// CreatePersistent implements coordination.Service.
func (s *Service) CreatePersistent(_ context.Context, path string, value []byte) error {
	return s.create(path, value, false)
}

// Read implements coordination.Service.
func (s *Service) Read(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	if !ok {
		return nil, coordination.ErrNotExist
	}
	return append([]byte(nil), n.value...), nil
}

// Watch implements coordination.Service. The returned channel is buffered
// so a slow consumer cannot block CreateEphemeral/Delete callers; it closes
// when ctx is done.
func (s *Service) Watch(ctx context.Context, path string) (<-chan coordination.Event, error) {
	ch := make(chan coordination.Event, 16)
	s.mu.Lock()
	s.watchers[path] = append(s.watchers[path], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		watchers := s.watchers[path]
		for i, w := range watchers {
			if w == ch {
				s.watchers[path] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// Delete implements coordination.Service.
func (s *Service) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	if _, ok := s.nodes[path]; !ok {
		s.mu.Unlock()
		return coordination.ErrNotExist
	}
	delete(s.nodes, path)
	watchers := append([]chan coordination.Event(nil), s.watchers[path]...)
	s.mu.Unlock()

	broadcast(watchers, coordination.Event{Type: coordination.EventDeleted, Path: path})
	return nil
}

func broadcast(watchers []chan coordination.Event, ev coordination.Event) {
	for _, w := range watchers {
		select {
		case w <- ev:
		default: // drop on a full buffer rather than block the writer
		}
	}
}

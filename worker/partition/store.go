package partition

import (
	"sync"

	"golang.org/x/xerrors"
)

// ErrNotExist is returned by Get/Remove when the requested partition is
// not present.
var ErrNotExist = xerrors.New("partition does not exist")

// Store is the common contract shared by the resident and disk-backed
// partition stores (spec.md §4.1).
type Store interface {
	// Add inserts p. If a partition with the same id already exists, the
	// two are merged (see Partition.Merge) rather than replaced.
	Add(p *Partition) error

	// Get returns a live, borrowed reference to the partition with the
	// given id.
	Get(id uint32) (*Partition, error)

	// Remove detaches and returns the partition, transferring ownership
	// to the caller.
	Remove(id uint32) (*Partition, error)

	// Delete discards the partition and any backing resources.
	Delete(id uint32) error

	// Has reports whether a partition with the given id is present.
	Has(id uint32) bool

	// Iterate invokes fn once per partition id currently present. The
	// order is unspecified but stable within a superstep.
	Iterate(fn func(id uint32) bool)

	// Count returns the number of distinct ids currently added and not
	// removed/deleted.
	Count() int

	// Close releases any resources (open files, etc).
	Close() error
}

// NewStore builds the store variant selected by cfg: a disk-backed store
// when ResidentCap > 0 (USE_OUT_OF_CORE_GRAPH), a purely resident store
// otherwise.
func NewStore(cfg StoreConfig) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("partition.NewStore: %w", err)
	}
	if cfg.ResidentCap > 0 {
		return NewDiskBackedStore(cfg)
	}
	return NewResidentStore(), nil
}

// ResidentStore holds every partition in memory, guarded by per-id locking
// for get/add composition (spec.md §5).
type ResidentStore struct {
	mu         sync.Mutex
	partitions map[uint32]*Partition
	idLocks    map[uint32]*sync.Mutex
}

// NewResidentStore creates an empty, fully in-memory partition store.
func NewResidentStore() *ResidentStore {
	return &ResidentStore{
		partitions: make(map[uint32]*Partition),
		idLocks:    make(map[uint32]*sync.Mutex),
	}
}

func (s *ResidentStore) lockFor(id uint32) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.idLocks[id]
	if !ok {
		l = new(sync.Mutex)
		s.idLocks[id] = l
	}
	return l
}

// Add implements Store.
func (s *ResidentStore) Add(p *Partition) error {
	l := s.lockFor(p.ID())
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	existing, ok := s.partitions[p.ID()]
	s.mu.Unlock()

	if ok {
		existing.Merge(p)
		return nil
	}

	s.mu.Lock()
	s.partitions[p.ID()] = p
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *ResidentStore) Get(id uint32) (*Partition, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	p, ok := s.partitions[id]
	s.mu.Unlock()
	if !ok {
		return nil, xerrors.Errorf("get partition %d: %w", id, ErrNotExist)
	}
	return p, nil
}

// Remove implements Store.
func (s *ResidentStore) Remove(id uint32) (*Partition, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	p, ok := s.partitions[id]
	if ok {
		delete(s.partitions, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil, xerrors.Errorf("remove partition %d: %w", id, ErrNotExist)
	}
	return p, nil
}

// Delete implements Store.
func (s *ResidentStore) Delete(id uint32) error {
	_, err := s.Remove(id)
	return err
}

// Has implements Store.
func (s *ResidentStore) Has(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.partitions[id]
	return ok
}

// Iterate implements Store.
func (s *ResidentStore) Iterate(fn func(id uint32) bool) {
	s.mu.Lock()
	ids := make([]uint32, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if !fn(id) {
			return
		}
	}
}

// Count implements Store.
func (s *ResidentStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.partitions)
}

// Close implements Store. The resident store owns no external resources.
func (s *ResidentStore) Close() error { return nil }

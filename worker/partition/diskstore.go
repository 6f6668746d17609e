package partition

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var spillBucket = []byte("partition")
var spillKey = []byte("data")

type residentEntry struct {
	id        uint32
	partition *Partition
	elem      *list.Element
}

// DiskBackedStore holds at most ResidentCap partitions in memory and spills
// the least-recently-used one to a bbolt-backed file when a new partition
// would exceed the cap (spec.md §4.1). Eviction runs inside the same
// critical section as the insertion that triggered it; concurrent Gets for a
// non-resident partition dedup so exactly one load occurs.
type DiskBackedStore struct {
	cfg StoreConfig

	mu       sync.Mutex // guards lru, resident, onDisk
	lru      *list.List
	resident map[uint32]*residentEntry
	onDisk   map[uint32]struct{}

	idLocks sync.Map // uint32 -> *sync.Mutex, get/add composition per id
	loading sync.Map // uint32 -> *sync.WaitGroup, in-flight load dedup
}

// NewDiskBackedStore creates a disk-backed partition store rooted at
// cfg.Dir, keeping at most cfg.ResidentCap partitions in memory.
func NewDiskBackedStore(cfg StoreConfig) (*DiskBackedStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("partition.NewDiskBackedStore: %w", err)
	}
	if cfg.ResidentCap <= 0 {
		return nil, xerrors.New("partition.NewDiskBackedStore: ResidentCap must be > 0")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, xerrors.Errorf("creating partition spill directory: %w", err)
	}

	s := &DiskBackedStore{
		cfg:      cfg,
		lru:      list.New(),
		resident: make(map[uint32]*residentEntry),
		onDisk:   make(map[uint32]struct{}),
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, xerrors.Errorf("scanning partition spill directory: %w", err)
	}
	for _, e := range entries {
		var id uint32
		if _, err := fmt.Sscanf(e.Name(), "partition-%d.bin", &id); err == nil {
			s.onDisk[id] = struct{}{}
		}
	}

	return s, nil
}

func (s *DiskBackedStore) spillPath(id uint32) string {
	return filepath.Join(s.cfg.Dir, fmt.Sprintf("partition-%d.bin", id))
}

func (s *DiskBackedStore) lockFor(id uint32) *sync.Mutex {
	l, _ := s.idLocks.LoadOrStore(id, new(sync.Mutex))
	return l.(*sync.Mutex)
}

// touchLocked moves id to the front of the LRU list. Caller holds s.mu.
func (s *DiskBackedStore) touchLocked(e *residentEntry) {
	s.lru.MoveToFront(e.elem)
}

// insertLocked adds p as the most-recently-used resident partition,
// evicting the LRU tail to disk if that would exceed ResidentCap. Caller
// holds s.mu.
func (s *DiskBackedStore) insertLocked(p *Partition) error {
	entry := &residentEntry{id: p.ID(), partition: p}
	entry.elem = s.lru.PushFront(entry)
	s.resident[p.ID()] = entry
	delete(s.onDisk, p.ID())

	if len(s.resident) <= s.cfg.ResidentCap {
		return nil
	}

	tail := s.lru.Back()
	victim := tail.Value.(*residentEntry)
	s.lru.Remove(tail)
	delete(s.resident, victim.id)

	if err := s.writeSpill(victim.id, victim.partition); err != nil {
		return xerrors.Errorf("evicting partition %d to disk: %w", victim.id, err)
	}
	s.onDisk[victim.id] = struct{}{}
	s.cfg.Logger.WithFields(loggerFields(victim.id)).Debug("evicted partition to disk")
	return nil
}

func (s *DiskBackedStore) writeSpill(id uint32, p *Partition) error {
	db, err := bolt.Open(s.spillPath(id), 0o644, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(spillBucket)
		if err != nil {
			return err
		}
		return b.Put(spillKey, p.Encode())
	})
}

func (s *DiskBackedStore) readSpill(id uint32) (*Partition, error) {
	db, err := bolt.Open(s.spillPath(id), 0o644, nil)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var buf []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(spillBucket)
		if b == nil {
			return xerrors.New("spill file missing partition bucket")
		}
		buf = append([]byte(nil), b.Get(spillKey)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Decode(buf)
}

// loadDeduped loads partition id from disk into residency, deduplicating
// concurrent loads of the same id so exactly one disk read occurs. It must
// be called without s.mu held.
func (s *DiskBackedStore) loadDeduped(id uint32) (*Partition, error) {
	for {
		wgIface, loaded := s.loading.LoadOrStore(id, new(sync.WaitGroup))
		wg := wgIface.(*sync.WaitGroup)
		if loaded {
			wg.Wait()
			s.mu.Lock()
			entry, ok := s.resident[id]
			s.mu.Unlock()
			if ok {
				return entry.partition, nil
			}
			continue // the load that completed may have evicted us again; retry
		}

		wg.Add(1)
		p, err := s.readSpill(id)
		if err == nil {
			s.mu.Lock()
			err = s.insertLocked(p)
			s.mu.Unlock()
		}
		s.loading.Delete(id)
		wg.Done()
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Add implements Store.
func (s *DiskBackedStore) Add(p *Partition) error {
	l := s.lockFor(p.ID())
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	if entry, ok := s.resident[p.ID()]; ok {
		entry.partition.Merge(p)
		s.touchLocked(entry)
		s.mu.Unlock()
		return nil
	}
	_, onDisk := s.onDisk[p.ID()]
	s.mu.Unlock()

	if !onDisk {
		s.mu.Lock()
		err := s.insertLocked(p)
		s.mu.Unlock()
		return err
	}

	existing, err := s.loadDeduped(p.ID())
	if err != nil {
		return xerrors.Errorf("add partition %d: loading resident copy for merge: %w", p.ID(), err)
	}
	existing.Merge(p)
	return nil
}

// Get implements Store.
func (s *DiskBackedStore) Get(id uint32) (*Partition, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	if entry, ok := s.resident[id]; ok {
		s.touchLocked(entry)
		s.mu.Unlock()
		return entry.partition, nil
	}
	_, onDisk := s.onDisk[id]
	s.mu.Unlock()

	if !onDisk {
		return nil, xerrors.Errorf("get partition %d: %w", id, ErrNotExist)
	}
	return s.loadDeduped(id)
}

// Remove implements Store.
func (s *DiskBackedStore) Remove(id uint32) (*Partition, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	p, err := s.getNoLock(id)
	if err != nil {
		return nil, xerrors.Errorf("remove partition %d: %w", id, err)
	}

	s.mu.Lock()
	if entry, ok := s.resident[id]; ok {
		s.lru.Remove(entry.elem)
		delete(s.resident, id)
	}
	delete(s.onDisk, id)
	s.mu.Unlock()

	_ = os.Remove(s.spillPath(id))
	return p, nil
}

// Delete implements Store.
func (s *DiskBackedStore) Delete(id uint32) error {
	_, err := s.Remove(id)
	return err
}

func (s *DiskBackedStore) getNoLock(id uint32) (*Partition, error) {
	s.mu.Lock()
	if entry, ok := s.resident[id]; ok {
		s.mu.Unlock()
		return entry.partition, nil
	}
	_, onDisk := s.onDisk[id]
	s.mu.Unlock()
	if !onDisk {
		return nil, ErrNotExist
	}
	return s.loadDeduped(id)
}

// Has implements Store.
func (s *DiskBackedStore) Has(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resident[id]; ok {
		return true
	}
	_, ok := s.onDisk[id]
	return ok
}

// Iterate implements Store.
func (s *DiskBackedStore) Iterate(fn func(id uint32) bool) {
	s.mu.Lock()
	seen := make(map[uint32]struct{}, len(s.resident)+len(s.onDisk))
	ids := make([]uint32, 0, len(s.resident)+len(s.onDisk))
	for id := range s.resident {
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for id := range s.onDisk {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		if !fn(id) {
			return
		}
	}
}

// Count implements Store.
func (s *DiskBackedStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(s.resident)
	for id := range s.onDisk {
		if _, ok := s.resident[id]; !ok {
			count++
		}
	}
	return count
}

// Close implements Store. The disk-backed store keeps no spill file open
// between operations, so Close is a no-op kept for interface symmetry.
func (s *DiskBackedStore) Close() error { return nil }

func loggerFields(id uint32) map[string]interface{} {
	return map[string]interface{}{"partition_id": id}
}

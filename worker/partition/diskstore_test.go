package partition

import (
	"sync"

	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(DiskBackedStoreTestSuite))

type DiskBackedStoreTestSuite struct {
	dir   string
	store *DiskBackedStore
}

func (s *DiskBackedStoreTestSuite) SetUpTest(c *gc.C) {
	s.dir = c.MkDir()
	store, err := NewDiskBackedStore(StoreConfig{ResidentCap: 2, Dir: s.dir})
	c.Assert(err, gc.IsNil)
	s.store = store
}

func (s *DiskBackedStoreTestSuite) TestEvictsLeastRecentlyUsed(c *gc.C) {
	c.Assert(s.store.Add(NewPartition(1)), gc.IsNil)
	c.Assert(s.store.Add(NewPartition(2)), gc.IsNil)
	c.Assert(s.store.Add(NewPartition(3)), gc.IsNil) // evicts 1, the LRU tail

	c.Assert(s.store.Count(), gc.Equals, 3)
	c.Assert(s.store.Has(1), gc.Equals, true)

	// Reloading 1 from disk should succeed and make it resident again,
	// evicting whichever partition is now the LRU tail.
	p1, err := s.store.Get(1)
	c.Assert(err, gc.IsNil)
	c.Assert(p1.ID(), gc.Equals, uint32(1))
}

func (s *DiskBackedStoreTestSuite) TestAddMergesAfterReload(c *gc.C) {
	first := NewPartition(1)
	first.Put(vertex("v1"))
	c.Assert(s.store.Add(first), gc.IsNil)

	c.Assert(s.store.Add(NewPartition(2)), gc.IsNil)
	c.Assert(s.store.Add(NewPartition(3)), gc.IsNil) // evicts partition 1 to disk

	second := NewPartition(1)
	second.Put(vertex("v2"))
	c.Assert(s.store.Add(second), gc.IsNil)

	got, err := s.store.Get(1)
	c.Assert(err, gc.IsNil)
	c.Assert(got.VertexCount(), gc.Equals, 2)
}

func (s *DiskBackedStoreTestSuite) TestConcurrentGetDedupsLoad(c *gc.C) {
	c.Assert(s.store.Add(NewPartition(1)), gc.IsNil)
	c.Assert(s.store.Add(NewPartition(2)), gc.IsNil)
	c.Assert(s.store.Add(NewPartition(3)), gc.IsNil) // evicts 1 to disk

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.Get(1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		c.Assert(err, gc.IsNil)
	}
}

func (s *DiskBackedStoreTestSuite) TestDeleteRemovesSpillFile(c *gc.C) {
	c.Assert(s.store.Add(NewPartition(1)), gc.IsNil)
	c.Assert(s.store.Add(NewPartition(2)), gc.IsNil)
	c.Assert(s.store.Add(NewPartition(3)), gc.IsNil) // evicts 1 to disk

	c.Assert(s.store.Delete(1), gc.IsNil)
	c.Assert(s.store.Has(1), gc.Equals, false)
	_, err := s.store.Get(1)
	c.Assert(err, gc.ErrorMatches, ".*partition does not exist.*")
}

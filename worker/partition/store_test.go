package partition

import (
	"testing"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(ResidentStoreTestSuite))

type ResidentStoreTestSuite struct {
	store *ResidentStore
}

func (s *ResidentStoreTestSuite) SetUpTest(c *gc.C) {
	s.store = NewResidentStore()
}

func vertex(id string) *Vertex { return &Vertex{ID: NewID([]byte(id))} }

// TestReadWrite mirrors the partition store read/write scenario: add
// partitions {1:{v1,v2}, 2:{v3}, 2:{v4}, 3:{v5}, 1:{v6}, 4:{v7}}, then
// progressively remove/delete and check counts.
func (s *ResidentStoreTestSuite) TestReadWrite(c *gc.C) {
	p1 := NewPartition(1)
	p1.Put(vertex("v1"))
	p1.Put(vertex("v2"))
	c.Assert(s.store.Add(p1), gc.IsNil)

	p2a := NewPartition(2)
	p2a.Put(vertex("v3"))
	c.Assert(s.store.Add(p2a), gc.IsNil)

	p2b := NewPartition(2)
	p2b.Put(vertex("v4"))
	c.Assert(s.store.Add(p2b), gc.IsNil)

	p3 := NewPartition(3)
	p3.Put(vertex("v5"))
	c.Assert(s.store.Add(p3), gc.IsNil)

	p1b := NewPartition(1)
	p1b.Put(vertex("v6"))
	c.Assert(s.store.Add(p1b), gc.IsNil)

	p4 := NewPartition(4)
	p4.Put(vertex("v7"))
	c.Assert(s.store.Add(p4), gc.IsNil)

	c.Assert(s.store.Count(), gc.Equals, 4)

	got1, err := s.store.Get(1)
	c.Assert(err, gc.IsNil)
	c.Assert(got1.VertexCount(), gc.Equals, 3)

	got2, err := s.store.Get(2)
	c.Assert(err, gc.IsNil)
	c.Assert(got2.VertexCount(), gc.Equals, 2)

	got3, err := s.store.Get(3)
	c.Assert(err, gc.IsNil)
	c.Assert(got3.VertexCount(), gc.Equals, 1)

	got4, err := s.store.Get(4)
	c.Assert(err, gc.IsNil)
	c.Assert(got4.VertexCount(), gc.Equals, 1)

	_, err = s.store.Remove(3)
	c.Assert(err, gc.IsNil)
	c.Assert(s.store.Has(3), gc.Equals, false)
	c.Assert(s.store.Count(), gc.Equals, 3)

	c.Assert(s.store.Delete(2), gc.IsNil)
	c.Assert(s.store.Count(), gc.Equals, 2)
}

func (s *ResidentStoreTestSuite) TestGetMissing(c *gc.C) {
	_, err := s.store.Get(42)
	c.Assert(err, gc.ErrorMatches, ".*partition does not exist.*")
}

func (s *ResidentStoreTestSuite) TestIterateUnique(c *gc.C) {
	for _, id := range []uint32{1, 2, 3} {
		c.Assert(s.store.Add(NewPartition(id)), gc.IsNil)
	}

	seen := make(map[uint32]int)
	s.store.Iterate(func(id uint32) bool {
		seen[id]++
		return true
	})
	c.Assert(len(seen), gc.Equals, 3)
	for id, n := range seen {
		c.Assert(n, gc.Equals, 1, gc.Commentf("id %d", id))
	}
}

package partition

import (
	"fmt"

	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(FrameTestSuite))

type FrameTestSuite struct{}

// TestRoundTrip mirrors the serialized-layout partition round-trip
// scenario: 7 vertices with no edges placed into partition 3, encoded then
// decoded into a fresh partition.
func (s *FrameTestSuite) TestRoundTrip(c *gc.C) {
	p := NewPartition(3)
	for i := 1; i <= 7; i++ {
		p.Put(&Vertex{ID: NewID([]byte(fmt.Sprintf("%d", i)))})
	}

	encoded := p.Encode()
	decoded, err := Decode(encoded)
	c.Assert(err, gc.IsNil)

	c.Assert(decoded.ID(), gc.Equals, uint32(3))
	c.Assert(decoded.VertexCount(), gc.Equals, 7)
	c.Assert(decoded.EdgeCount(), gc.Equals, 0)
}

func (s *FrameTestSuite) TestRoundTripWithEdgesAndValues(c *gc.C) {
	p := NewPartition(9)
	p.Put(&Vertex{
		ID:        NewID([]byte("a")),
		Value:     []byte("hello"),
		ValueType: "string",
		Edges: []Edge{
			{Target: NewID([]byte("b")), Value: []byte{1}, ValueType: "int"},
			{Target: NewID([]byte("c")), Value: []byte{2}, ValueType: "int"},
		},
	})

	decoded, err := Decode(p.Encode())
	c.Assert(err, gc.IsNil)
	c.Assert(decoded.VertexCount(), gc.Equals, 1)
	c.Assert(decoded.EdgeCount(), gc.Equals, 2)

	v, ok := decoded.Get(NewID([]byte("a")))
	c.Assert(ok, gc.Equals, true)
	c.Assert(string(v.Value), gc.Equals, "hello")
	c.Assert(v.ValueType, gc.Equals, "string")
	c.Assert(v.Edges[0].Target, gc.Equals, NewID([]byte("b")))
}

func (s *FrameTestSuite) TestDecodeTruncated(c *gc.C) {
	_, err := Decode([]byte{0, 0, 0, 1})
	c.Assert(err, gc.ErrorMatches, ".*truncated buffer.*")
}

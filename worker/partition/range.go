package partition

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// Range represents a contiguous UUID region split into a number of
// partitions. Vertex ids are arbitrary opaque bytes, not UUIDs; HashID below
// maps an ID deterministically into the UUID space that Range operates over
// so the master's range-partitioning assignment can be reused unchanged.
type Range struct {
	start       uuid.UUID
	rangeSplits []uuid.UUID
}

// NewFullRange creates a range spanning the entire UUID value space, split
// into numPartitions pieces.
func NewFullRange(numPartitions int) (*Range, error) {
	return NewRange(
		uuid.Nil,
		uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff"),
		numPartitions,
	)
}

// NewRange creates a new range [start, end) split into numPartitions pieces.
func NewRange(start, end uuid.UUID, numPartitions int) (*Range, error) {
	if bytes.Compare(start[:], end[:]) >= 0 {
		return nil, xerrors.Errorf("range start UUID must be less than the end UUID")
	} else if numPartitions <= 0 {
		return nil, xerrors.Errorf("number of partitions must be at least equal to 1")
	}

	partSize := big.NewInt(0)
	partSize.Sub(big.NewInt(0).SetBytes(end[:]), big.NewInt(0).SetBytes(start[:]))
	partSize.Div(partSize.Add(partSize, big.NewInt(1)), big.NewInt(int64(numPartitions)))

	var (
		to     uuid.UUID
		err    error
		ranges = make([]uuid.UUID, numPartitions)
		tok    = big.NewInt(0)
	)
	for partition := 0; partition < numPartitions; partition++ {
		if partition == numPartitions-1 {
			to = end
		} else {
			tok.Mul(partSize, big.NewInt(int64(partition+1)))
			if to, err = uuid.FromBytes(leftPad16(tok.Bytes())); err != nil {
				return nil, xerrors.Errorf("partition range: %w", err)
			}
		}
		ranges[partition] = to
	}

	return &Range{start: start, rangeSplits: ranges}, nil
}

func leftPad16(b []byte) []byte {
	if len(b) >= 16 {
		return b[len(b)-16:]
	}
	out := make([]byte, 16)
	copy(out[16-len(b):], b)
	return out
}

// Extents returns the [start, end) extents of the entire range.
func (r *Range) Extents() (uuid.UUID, uuid.UUID) {
	return r.start, r.rangeSplits[len(r.rangeSplits)-1]
}

// PartitionExtents returns the [start, end) range for the given partition
// index.
func (r *Range) PartitionExtents(partition int) (uuid.UUID, uuid.UUID, error) {
	if partition < 0 || partition >= len(r.rangeSplits) {
		return uuid.Nil, uuid.Nil, xerrors.Errorf("invalid partition index")
	}
	if partition == 0 {
		return r.start, r.rangeSplits[0], nil
	}
	return r.rangeSplits[partition-1], r.rangeSplits[partition], nil
}

// PartitionForUUID returns the partition index the given UUID belongs to.
func (r *Range) PartitionForUUID(id uuid.UUID) (int, error) {
	partIndex := sort.Search(len(r.rangeSplits), func(n int) bool {
		return bytes.Compare(id[:], r.rangeSplits[n][:]) < 0
	})

	if bytes.Compare(id[:], r.start[:]) < 0 || partIndex >= len(r.rangeSplits) {
		return -1, xerrors.Errorf("unable to detect partition for ID %q", id)
	}
	return partIndex, nil
}

// HashID deterministically maps a vertex ID into the UUID space so
// PartitionForUUID can assign it to a partition.
func HashID(id ID) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, id.Bytes())
}

// PartitionForID is a convenience wrapper combining HashID and
// PartitionForUUID.
func (r *Range) PartitionForID(id ID) (int, error) {
	return r.PartitionForUUID(HashID(id))
}

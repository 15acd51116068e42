package partitions

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/notargets/BoxHalo/box"
)

// DistributionMap assigns exactly one owning rank to every partition index
// of a BoxArray. Several entries may share a rank. It is immutable once built.
type DistributionMap struct {
	// Ranks[i] owns partition entry i
	ranks  []int
	nprocs int
}

// NewDistributionMap validates ranks against nprocs and copies them
func NewDistributionMap(ranks []int, nprocs int) (DistributionMap, error) {
	if nprocs <= 0 {
		return DistributionMap{}, fmt.Errorf("invalid process count %d", nprocs)
	}
	if len(ranks) == 0 {
		return DistributionMap{}, fmt.Errorf("ownership map cannot be empty")
	}
	for i, r := range ranks {
		if r < 0 || r >= nprocs {
			return DistributionMap{}, fmt.Errorf("partition %d: rank %d outside [0,%d)", i, r, nprocs)
		}
	}
	dm := DistributionMap{ranks: make([]int, len(ranks)), nprocs: nprocs}
	copy(dm.ranks, ranks)
	return dm, nil
}

// SingleRank assigns n entries to rank 0 of a one-process run
func SingleRank(n int) DistributionMap {
	dm, err := NewDistributionMap(make([]int, n), 1)
	if err != nil {
		panic(err)
	}
	return dm
}

// Owner returns the rank that owns partition entry i
func (dm DistributionMap) Owner(i int) int {
	return dm.ranks[i]
}

// Len returns the number of partition entries
func (dm DistributionMap) Len() int {
	return len(dm.ranks)
}

// NProcs returns the process count the map was validated against
func (dm DistributionMap) NProcs() int {
	return dm.nprocs
}

// Ranks returns a copy of the rank list
func (dm DistributionMap) Ranks() []int {
	out := make([]int, len(dm.ranks))
	copy(out, dm.ranks)
	return out
}

// IndicesOf returns the partition indices owned by rank, ascending
func (dm DistributionMap) IndicesOf(rank int) []int {
	var idx []int
	for i, r := range dm.ranks {
		if r == rank {
			idx = append(idx, i)
		}
	}
	return idx
}

// Validate checks that the map covers ba entry for entry
func (dm DistributionMap) Validate(ba box.BoxArray) error {
	if dm.Len() != ba.Len() {
		return fmt.Errorf("ownership map length %d != partition size %d", dm.Len(), ba.Len())
	}
	return nil
}

// Equal compares two maps by value
func (dm DistributionMap) Equal(o DistributionMap) bool {
	if dm.nprocs != o.nprocs || len(dm.ranks) != len(o.ranks) {
		return false
	}
	for i := range dm.ranks {
		if dm.ranks[i] != o.ranks[i] {
			return false
		}
	}
	return true
}

// Hash is an FNV-1a digest of the rank list
func (dm DistributionMap) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(dm.nprocs))
	h.Write(buf[:])
	for _, r := range dm.ranks {
		binary.LittleEndian.PutUint64(buf[:], uint64(r))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// PartitionStats summarizes how many cells each rank owns
type PartitionStats struct {
	NumPartitions int
	NumProcs      int
	CellsPerRank  []int
	BoxesPerRank  []int
	MinCells      int
	MaxCells      int
	AvgCells      float64
	Imbalance     float64 // MaxCells / AvgCells
}

// Statistics computes load balance metrics of dm over ba
func (dm DistributionMap) Statistics(ba box.BoxArray) PartitionStats {
	stats := PartitionStats{
		NumPartitions: ba.Len(),
		NumProcs:      dm.nprocs,
		CellsPerRank:  make([]int, dm.nprocs),
		BoxesPerRank:  make([]int, dm.nprocs),
		MinCells:      math.MaxInt32,
	}

	for i, r := range dm.ranks {
		stats.CellsPerRank[r] += ba.Get(i).NumPts()
		stats.BoxesPerRank[r]++
	}

	total := 0
	for _, c := range stats.CellsPerRank {
		total += c
		stats.MinCells = min(stats.MinCells, c)
		stats.MaxCells = max(stats.MaxCells, c)
	}
	stats.AvgCells = float64(total) / float64(dm.nprocs)
	if stats.AvgCells > 0 {
		stats.Imbalance = float64(stats.MaxCells) / stats.AvgCells
	}

	return stats
}

package partitions

import (
	"fmt"
	"math"
	"sort"

	"github.com/notargets/BoxHalo/box"
)

// PartitionStrategy defines how boxes are assigned to ranks
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive boxes
	RoundRobin                              // Distribute cyclically

	// Load-aware strategies
	SpaceFillingCurve // Morton order of box centers, split by cell count
	Knapsack          // Largest box first onto the least loaded rank
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "roundrobin"
	case SpaceFillingCurve:
		return "sfc"
	case Knapsack:
		return "knapsack"
	default:
		return fmt.Sprintf("PartitionStrategy(%d)", int(s))
	}
}

// ParseStrategy maps a strategy name back to its value
func ParseStrategy(name string) (PartitionStrategy, error) {
	for _, s := range []PartitionStrategy{BlockPartition, RoundRobin, SpaceFillingCurve, Knapsack} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown partition strategy %q", name)
}

// PartitionBuilder assigns the entries of a BoxArray to ranks
type PartitionBuilder struct {
	NumProcs int
	Strategy PartitionStrategy
}

// Build creates an ownership map for ba
func (pb *PartitionBuilder) Build(ba box.BoxArray) (DistributionMap, error) {
	if pb.NumProcs <= 0 {
		return DistributionMap{}, fmt.Errorf("invalid process count %d", pb.NumProcs)
	}

	ranks, err := pb.assignBoxes(ba)
	if err != nil {
		return DistributionMap{}, err
	}

	dm, err := NewDistributionMap(ranks, pb.NumProcs)
	if err != nil {
		return DistributionMap{}, fmt.Errorf("invalid ownership map: %w", err)
	}
	return dm, nil
}

// assignBoxes returns the rank of every partition entry
func (pb *PartitionBuilder) assignBoxes(ba box.BoxArray) ([]int, error) {
	n := ba.Len()
	ranks := make([]int, n)

	switch pb.Strategy {
	case BlockPartition:
		// Simple block partitioning
		perRank := int(math.Ceil(float64(n) / float64(pb.NumProcs)))
		for i := 0; i < n; i++ {
			ranks[i] = min(i/perRank, pb.NumProcs-1)
		}

	case RoundRobin:
		for i := 0; i < n; i++ {
			ranks[i] = i % pb.NumProcs
		}

	case SpaceFillingCurve:
		order := mortonOrder(ba)
		splitByWeight(ba, order, pb.NumProcs, ranks)

	case Knapsack:
		knapsack(ba, pb.NumProcs, ranks)

	default:
		return nil, fmt.Errorf("unknown partition strategy %v", pb.Strategy)
	}

	return ranks, nil
}

// mortonOrder sorts partition indices by the Z-order key of their centers
func mortonOrder(ba box.BoxArray) []int {
	lo := ba.MinimalBox().Lo
	keys := make([]uint64, ba.Len())
	order := make([]int, ba.Len())
	for i := range order {
		order[i] = i
		keys[i] = mortonKey(ba.Get(i).Center().Sub(lo))
	}
	sort.SliceStable(order, func(a, b int) bool {
		return keys[order[a]] < keys[order[b]]
	})
	return order
}

// mortonKey interleaves the low 21 bits of each coordinate
func mortonKey(iv box.IntVect) uint64 {
	var key uint64
	for bit := 0; bit < 21; bit++ {
		for d := 0; d < box.SpaceDim; d++ {
			key |= uint64((iv[d]>>bit)&1) << (bit*box.SpaceDim + d)
		}
	}
	return key
}

// splitByWeight walks order and cuts it into nprocs contiguous runs of
// roughly equal cell count
func splitByWeight(ba box.BoxArray, order []int, nprocs int, ranks []int) {
	total := ba.NumPts()
	target := float64(total) / float64(nprocs)
	acc := 0
	for _, i := range order {
		r := int(float64(acc) / target)
		ranks[i] = min(r, nprocs-1)
		acc += ba.Get(i).NumPts()
	}
}

// knapsack gives each box, largest first, to the currently lightest rank.
// Ties go to the lower rank so the result is deterministic.
func knapsack(ba box.BoxArray, nprocs int, ranks []int) {
	order := make([]int, ba.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return ba.Get(order[a]).NumPts() > ba.Get(order[b]).NumPts()
	})

	load := make([]int, nprocs)
	for _, i := range order {
		best := 0
		for r := 1; r < nprocs; r++ {
			if load[r] < load[best] {
				best = r
			}
		}
		ranks[i] = best
		load[best] += ba.Get(i).NumPts()
	}
}

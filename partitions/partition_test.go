package partitions

import (
	"testing"

	"github.com/notargets/BoxHalo/box"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grid8x8(maxSize int) box.BoxArray {
	domain := box.NewBox(box.IntVect{0, 0, 0}, box.IntVect{7, 7, 0})
	return box.NewBoxArray(domain).MaxSize(box.IntVect{maxSize, maxSize, 1})
}

func TestNewDistributionMap_Validation(t *testing.T) {
	_, err := NewDistributionMap([]int{0, 1, 2}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partition 2")

	_, err = NewDistributionMap([]int{0, -1}, 2)
	require.Error(t, err)

	_, err = NewDistributionMap(nil, 2)
	require.Error(t, err)

	_, err = NewDistributionMap([]int{0}, 0)
	require.Error(t, err)

	dm, err := NewDistributionMap([]int{0, 1, 1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, dm.Len())
	assert.Equal(t, 2, dm.NProcs())
	assert.Equal(t, []int{0, 3}, dm.IndicesOf(0))
	assert.Equal(t, []int{1, 2}, dm.IndicesOf(1))
	assert.Equal(t, 1, dm.Owner(2))
}

func TestDistributionMap_EqualAndHash(t *testing.T) {
	a, err := NewDistributionMap([]int{0, 1}, 2)
	require.NoError(t, err)
	b, err := NewDistributionMap([]int{0, 1}, 2)
	require.NoError(t, err)
	c, err := NewDistributionMap([]int{1, 0}, 2)
	require.NoError(t, err)
	d, err := NewDistributionMap([]int{0, 1}, 3)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d), "process count is part of identity")

	// Ranks returns a copy
	r := a.Ranks()
	r[0] = 1
	assert.Equal(t, 0, a.Owner(0))
}

func TestPartitionBuilder_Strategies(t *testing.T) {
	ba := grid8x8(2) // 16 boxes of 2x2

	for _, strategy := range []PartitionStrategy{BlockPartition, RoundRobin, SpaceFillingCurve, Knapsack} {
		t.Run(strategy.String(), func(t *testing.T) {
			pb := &PartitionBuilder{NumProcs: 4, Strategy: strategy}
			dm, err := pb.Build(ba)
			require.NoError(t, err)
			require.NoError(t, dm.Validate(ba))

			stats := dm.Statistics(ba)
			t.Logf("%s: cells per rank %v, imbalance %.2f", strategy, stats.CellsPerRank, stats.Imbalance)

			// Equal boxes split evenly under every strategy
			assert.Equal(t, []int{16, 16, 16, 16}, stats.CellsPerRank)
			assert.Equal(t, []int{4, 4, 4, 4}, stats.BoxesPerRank)
			assert.InDelta(t, 1.0, stats.Imbalance, 1e-12)

			// Deterministic
			again, err := pb.Build(ba)
			require.NoError(t, err)
			assert.True(t, dm.Equal(again))
		})
	}
}

func TestPartitionBuilder_BlockAndRoundRobinLayout(t *testing.T) {
	ba := grid8x8(4) // 4 boxes

	dm, err := (&PartitionBuilder{NumProcs: 2, Strategy: BlockPartition}).Build(ba)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1}, dm.Ranks())

	dm, err = (&PartitionBuilder{NumProcs: 2, Strategy: RoundRobin}).Build(ba)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 1}, dm.Ranks())

	// More ranks than boxes leaves the extra ranks idle
	dm, err = (&PartitionBuilder{NumProcs: 8, Strategy: BlockPartition}).Build(ba)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, dm.Ranks())
}

func TestPartitionBuilder_KnapsackBalancesUnevenBoxes(t *testing.T) {
	ba := box.NewBoxArray(
		box.NewBox(box.IntVect{0, 0, 0}, box.IntVect{7, 7, 0}),   // 64
		box.NewBox(box.IntVect{8, 0, 0}, box.IntVect{11, 7, 0}),  // 32
		box.NewBox(box.IntVect{12, 0, 0}, box.IntVect{15, 7, 0}), // 32
	)
	dm, err := (&PartitionBuilder{NumProcs: 2, Strategy: Knapsack}).Build(ba)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1}, dm.Ranks())
	assert.Equal(t, []int{64, 64}, dm.Statistics(ba).CellsPerRank)
}

func TestPartitionBuilder_InvalidProcs(t *testing.T) {
	_, err := (&PartitionBuilder{NumProcs: 0}).Build(grid8x8(4))
	assert.Error(t, err)
}

func TestPartitionBuilder_UnknownStrategy(t *testing.T) {
	_, err := (&PartitionBuilder{NumProcs: 2, Strategy: PartitionStrategy(9)}).Build(grid8x8(4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PartitionStrategy(9)")
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("sfc")
	require.NoError(t, err)
	assert.Equal(t, SpaceFillingCurve, s)

	_, err = ParseStrategy("metis")
	assert.Error(t, err)
}

func TestSingleRank(t *testing.T) {
	dm := SingleRank(3)
	assert.Equal(t, []int{0, 0, 0}, dm.Ranks())
	assert.Equal(t, 1, dm.NProcs())
}

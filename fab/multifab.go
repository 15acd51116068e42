package fab

import (
	"fmt"

	"github.com/notargets/BoxHalo/box"
	"github.com/notargets/BoxHalo/partitions"
)

// MultiFab is a distributed array: one FArrayBox per partition entry owned
// by this rank, each covering its box grown by NGrow.
//
// All local blocks share one contiguous allocation.
// Layout: [Block 0 Data][Block 1 Data]...[Block N-1 Data] over local blocks
// in partition order; block i starts at GlobalData[offsets[i]].
type MultiFab struct {
	ba    box.BoxArray
	dm    partitions.DistributionMap
	rank  int
	ncomp int
	ngrow box.IntVect

	// Contiguous storage for every local block
	GlobalData []float64

	// offsets[i] is the start of partition i's data, -1 when not local
	offsets []int
	fabs    []*FArrayBox
	local   []int
}

// NewMultiFab allocates the blocks of ba owned by rank under dm
func NewMultiFab(ba box.BoxArray, dm partitions.DistributionMap, rank, ncomp int, ngrow box.IntVect) *MultiFab {
	if err := dm.Validate(ba); err != nil {
		panic(fmt.Sprintf("NewMultiFab: %v", err))
	}
	if rank < 0 || rank >= dm.NProcs() {
		panic(fmt.Sprintf("NewMultiFab: rank %d outside [0,%d)", rank, dm.NProcs()))
	}
	for d := range ngrow {
		if ngrow[d] < 0 {
			panic(fmt.Sprintf("NewMultiFab: negative halo %v", ngrow))
		}
	}

	mf := &MultiFab{
		ba:      ba,
		dm:      dm,
		rank:    rank,
		ncomp:   ncomp,
		ngrow:   ngrow,
		offsets: make([]int, ba.Len()),
		fabs:    make([]*FArrayBox, ba.Len()),
		local:   dm.IndicesOf(rank),
	}

	// Calculate offsets and total size
	total := 0
	for i := range mf.offsets {
		mf.offsets[i] = -1
	}
	for _, i := range mf.local {
		mf.offsets[i] = total
		total += ncomp * ba.Get(i).GrowVect(ngrow).NumPts()
	}

	mf.GlobalData = make([]float64, total)
	for _, i := range mf.local {
		n := ncomp * ba.Get(i).GrowVect(ngrow).NumPts()
		start := mf.offsets[i]
		mf.fabs[i] = newFArrayBoxOn(i, ba.Get(i), ngrow, ncomp, mf.GlobalData[start:start+n:start+n])
	}

	return mf
}

// BoxArray returns the partition the array was built on
func (mf *MultiFab) BoxArray() box.BoxArray { return mf.ba }

// DistributionMap returns the ownership map the array was built on
func (mf *MultiFab) DistributionMap() partitions.DistributionMap { return mf.dm }

// Rank returns the rank whose blocks this array holds
func (mf *MultiFab) Rank() int { return mf.rank }

// NComp returns the number of components per cell
func (mf *MultiFab) NComp() int { return mf.ncomp }

// NGrow returns the halo width per axis
func (mf *MultiFab) NGrow() box.IntVect { return mf.ngrow }

// Size returns the number of partition entries, local or not
func (mf *MultiFab) Size() int { return mf.ba.Len() }

// LocalIndices returns the partition indices held by this rank
func (mf *MultiFab) LocalIndices() []int {
	out := make([]int, len(mf.local))
	copy(out, mf.local)
	return out
}

// IsLocal reports whether partition entry i lives on this rank
func (mf *MultiFab) IsLocal(i int) bool {
	return i >= 0 && i < len(mf.fabs) && mf.fabs[i] != nil
}

// Fab returns the block of partition entry i. Asking for a block owned by
// another rank is a contract violation.
func (mf *MultiFab) Fab(i int) *FArrayBox {
	if !mf.IsLocal(i) {
		panic(fmt.Sprintf("partition %d is not owned by rank %d", i, mf.rank))
	}
	return mf.fabs[i]
}

// GetPartitionData returns the raw storage of partition entry i, nil when
// the entry is not local
func (mf *MultiFab) GetPartitionData(i int) []float64 {
	if !mf.IsLocal(i) {
		return nil
	}
	start := mf.offsets[i]
	return mf.GlobalData[start : start+mf.ncomp*mf.fabs[i].Box().NumPts()]
}

// SetVal fills every local block, halos included, with v
func (mf *MultiFab) SetVal(v float64) {
	for i := range mf.GlobalData {
		mf.GlobalData[i] = v
	}
}

// ForEachValid calls fn for every valid cell of every local block
func (mf *MultiFab) ForEachValid(fn func(f *FArrayBox, iv box.IntVect)) {
	for _, i := range mf.local {
		f := mf.fabs[i]
		f.ValidBox().ForEachCell(func(iv box.IntVect) { fn(f, iv) })
	}
}

package fab

import (
	"fmt"

	"github.com/notargets/BoxHalo/box"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FArrayBox is one local data block: the values of NComp components over a
// valid box grown by a halo. Storage is a dense matrix with one row per
// component and one column per cell of the grown box, cells in Box.Index
// order, so each component is contiguous.
type FArrayBox struct {
	index int
	valid box.Box
	ngrow box.IntVect
	bx    box.Box
	ncomp int
	data  *mat.Dense
}

// NewFArrayBox allocates a zeroed block for valid grown by ngrow
func NewFArrayBox(index int, valid box.Box, ngrow box.IntVect, ncomp int) *FArrayBox {
	bx := valid.GrowVect(ngrow)
	return newFArrayBoxOn(index, valid, ngrow, ncomp, make([]float64, ncomp*bx.NumPts()))
}

// newFArrayBoxOn wraps storage that the caller sized to ncomp*grown.NumPts()
func newFArrayBoxOn(index int, valid box.Box, ngrow box.IntVect, ncomp int, storage []float64) *FArrayBox {
	if ncomp <= 0 {
		panic(fmt.Sprintf("partition %d: component count %d must be positive", index, ncomp))
	}
	if valid.IsEmpty() {
		panic(fmt.Sprintf("partition %d: empty valid box %v", index, valid))
	}
	bx := valid.GrowVect(ngrow)
	return &FArrayBox{
		index: index,
		valid: valid,
		ngrow: ngrow,
		bx:    bx,
		ncomp: ncomp,
		data:  mat.NewDense(ncomp, bx.NumPts(), storage),
	}
}

// Index returns the partition index this block belongs to
func (f *FArrayBox) Index() int { return f.index }

// ValidBox returns the region the block owns
func (f *FArrayBox) ValidBox() box.Box { return f.valid }

// Box returns the region covered by storage: the valid box plus halo
func (f *FArrayBox) Box() box.Box { return f.bx }

// NGrow returns the halo width per axis
func (f *FArrayBox) NGrow() box.IntVect { return f.ngrow }

// NComp returns the number of components
func (f *FArrayBox) NComp() int { return f.ncomp }

// Data exposes the backing matrix (components x cells)
func (f *FArrayBox) Data() *mat.Dense { return f.data }

// Component returns the contiguous values of component c
func (f *FArrayBox) Component(c int) []float64 {
	return f.data.RawRowView(c)
}

// Get returns the value of component c at iv
func (f *FArrayBox) Get(iv box.IntVect, c int) float64 {
	f.checkCell(iv)
	return f.data.At(c, f.bx.Index(iv))
}

// Set stores v in component c at iv
func (f *FArrayBox) Set(iv box.IntVect, c int, v float64) {
	f.checkCell(iv)
	f.data.Set(c, f.bx.Index(iv), v)
}

// SetVal fills every component of the whole block with v
func (f *FArrayBox) SetVal(v float64) {
	for c := 0; c < f.ncomp; c++ {
		row := f.data.RawRowView(c)
		for i := range row {
			row[i] = v
		}
	}
}

// SetValBox fills components [comp, comp+ncomp) over bx with v
func (f *FArrayBox) SetValBox(v float64, bx box.Box, comp, ncomp int) {
	f.checkRegion(bx, comp, ncomp)
	f.forEachRun(bx, func(off, n int) {
		for c := comp; c < comp+ncomp; c++ {
			row := f.data.RawRowView(c)[off : off+n]
			for i := range row {
				row[i] = v
			}
		}
	})
}

// Copy copies components [scomp, scomp+ncomp) of src over srcBox into
// components [dcomp, dcomp+ncomp) of f over dstBox. The boxes must have the
// same shape; src may be f itself.
func (f *FArrayBox) Copy(src *FArrayBox, srcBox box.Box, scomp int, dstBox box.Box, dcomp, ncomp int) {
	f.transfer(src, srcBox, scomp, dstBox, dcomp, ncomp, func(dst, s []float64) { copy(dst, s) })
}

// Plus adds src values into f with the same addressing as Copy
func (f *FArrayBox) Plus(src *FArrayBox, srcBox box.Box, scomp int, dstBox box.Box, dcomp, ncomp int) {
	f.transfer(src, srcBox, scomp, dstBox, dcomp, ncomp, floats.Add)
}

func (f *FArrayBox) transfer(src *FArrayBox, srcBox box.Box, scomp int, dstBox box.Box, dcomp, ncomp int,
	op func(dst, s []float64)) {
	if srcBox.Size() != dstBox.Size() {
		panic(fmt.Sprintf("partition %d: source region %v and destination region %v differ in shape",
			f.index, srcBox, dstBox))
	}
	src.checkRegion(srcBox, scomp, ncomp)
	f.checkRegion(dstBox, dcomp, ncomp)

	nx := srcBox.Length(0)
	var s, d box.IntVect
	for k := 0; k < srcBox.Length(2); k++ {
		for j := 0; j < srcBox.Length(1); j++ {
			s = box.IntVect{srcBox.Lo[0], srcBox.Lo[1] + j, srcBox.Lo[2] + k}
			d = box.IntVect{dstBox.Lo[0], dstBox.Lo[1] + j, dstBox.Lo[2] + k}
			sOff, dOff := src.bx.Index(s), f.bx.Index(d)
			for c := 0; c < ncomp; c++ {
				sRow := src.data.RawRowView(scomp + c)[sOff : sOff+nx]
				dRow := f.data.RawRowView(dcomp + c)[dOff : dOff+nx]
				op(dRow, sRow)
			}
		}
	}
}

// CopyToMem writes components [scomp, scomp+ncomp) over bx into dst,
// component-major with cells in Index order of bx. It returns the number of
// values written, bx.NumPts()*ncomp.
func (f *FArrayBox) CopyToMem(bx box.Box, scomp, ncomp int, dst []float64) int {
	n := bx.NumPts() * ncomp
	if len(dst) < n {
		panic(fmt.Sprintf("partition %d: CopyToMem needs %d values, buffer holds %d", f.index, n, len(dst)))
	}
	f.checkRegion(bx, scomp, ncomp)
	npts := bx.NumPts()
	pos := 0
	f.forEachRun(bx, func(off, run int) {
		for c := 0; c < ncomp; c++ {
			copy(dst[c*npts+pos:c*npts+pos+run], f.data.RawRowView(scomp + c)[off:off+run])
		}
		pos += run
	})
	return n
}

// CopyFromMem reads values laid out as by CopyToMem into components
// [dcomp, dcomp+ncomp) over bx. It returns the number of values consumed.
func (f *FArrayBox) CopyFromMem(bx box.Box, dcomp, ncomp int, src []float64) int {
	return f.fromMem(bx, dcomp, ncomp, src, func(dst, s []float64) { copy(dst, s) })
}

// PlusFromMem is CopyFromMem that adds instead of overwriting
func (f *FArrayBox) PlusFromMem(bx box.Box, dcomp, ncomp int, src []float64) int {
	return f.fromMem(bx, dcomp, ncomp, src, floats.Add)
}

func (f *FArrayBox) fromMem(bx box.Box, dcomp, ncomp int, src []float64, op func(dst, s []float64)) int {
	n := bx.NumPts() * ncomp
	if len(src) < n {
		panic(fmt.Sprintf("partition %d: CopyFromMem needs %d values, buffer holds %d", f.index, n, len(src)))
	}
	f.checkRegion(bx, dcomp, ncomp)
	npts := bx.NumPts()
	pos := 0
	f.forEachRun(bx, func(off, run int) {
		for c := 0; c < ncomp; c++ {
			op(f.data.RawRowView(dcomp + c)[off:off+run], src[c*npts+pos:c*npts+pos+run])
		}
		pos += run
	})
	return n
}

// forEachRun calls fn with the storage offset and length of every
// contiguous x-run of bx, in Index order of bx
func (f *FArrayBox) forEachRun(bx box.Box, fn func(off, n int)) {
	nx := bx.Length(0)
	for k := bx.Lo[2]; k <= bx.Hi[2]; k++ {
		for j := bx.Lo[1]; j <= bx.Hi[1]; j++ {
			fn(f.bx.Index(box.IntVect{bx.Lo[0], j, k}), nx)
		}
	}
}

func (f *FArrayBox) checkRegion(bx box.Box, comp, ncomp int) {
	if !f.bx.Contains(bx) {
		panic(fmt.Sprintf("partition %d: region %v outside block %v", f.index, bx, f.bx))
	}
	if comp < 0 || ncomp <= 0 || comp+ncomp > f.ncomp {
		panic(fmt.Sprintf("partition %d: components [%d,%d) outside [0,%d)", f.index, comp, comp+ncomp, f.ncomp))
	}
}

func (f *FArrayBox) checkCell(iv box.IntVect) {
	if !f.bx.ContainsCell(iv) {
		panic(fmt.Sprintf("partition %d: cell %v outside block %v", f.index, iv, f.bx))
	}
}

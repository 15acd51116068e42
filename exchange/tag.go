// Package exchange fills the halo regions of distributed arrays. It builds
// communication patterns from a partition, an ownership map and a halo
// width, caches them by structural key, and executes them as local block
// copies plus one aggregated message per peer rank.
package exchange

import (
	"errors"
	"fmt"

	"github.com/notargets/BoxHalo/box"
)

var (
	// ErrPrecondition marks inputs that violate the construction contract
	ErrPrecondition = errors.New("precondition violated")
	// ErrTransport marks a failed send or receive; callers treat it as fatal
	ErrTransport = errors.New("transport failure")
	// ErrSizeMismatch marks a message whose length disagrees with the pattern
	ErrSizeMismatch = errors.New("message size mismatch")
	// ErrChecksum marks a validated message whose checksum does not match
	ErrChecksum = errors.New("message checksum mismatch")
)

// Kind selects which halo cells a pattern moves
type Kind int

const (
	// FillPeriodic copies periodic images of valid cells into halos
	FillPeriodic Kind = iota
	// FillBoundary also copies unshifted neighbour cells into halos
	FillBoundary
	// SumPeriodic adds halo values into the valid cells they are periodic images of
	SumPeriodic
)

func (k Kind) String() string {
	switch k {
	case FillPeriodic:
		return "FillPeriodic"
	case FillBoundary:
		return "FillBoundary"
	case SumPeriodic:
		return "SumPeriodic"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// accumulates reports whether applying a tag adds rather than overwrites
func (k Kind) accumulates() bool {
	return k == SumPeriodic
}

// Tag is one copy instruction: SrcBox of block SrcIndex goes to DstBox of
// block DstIndex. The boxes have the same shape; any periodic shift is
// folded into their coordinates.
type Tag struct {
	SrcIndex int
	DstIndex int
	SrcBox   box.Box
	DstBox   box.Box
}

// Shift returns the translation from source to destination coordinates
func (t Tag) Shift() box.IntVect {
	return t.DstBox.Lo.Sub(t.SrcBox.Lo)
}

// NumPts returns the number of cells the tag moves
func (t Tag) NumPts() int {
	return t.DstBox.NumPts()
}

func (t Tag) String() string {
	return fmt.Sprintf("%d%v -> %d%v", t.SrcIndex, t.SrcBox, t.DstIndex, t.DstBox)
}

// threadSafe reports whether the tags can be applied in any order at once:
// no two write overlapping cells of one block, and none reads cells that
// another writes. Node-centered blocks share boundary nodes, so a periodic
// image can land on a node that a reverse tag reads.
func threadSafe(tags []Tag) bool {
	// positions of the tags writing each block
	writers := make(map[int][]int)
	for k, t := range tags {
		for _, w := range writers[t.DstIndex] {
			if tags[w].DstBox.Intersects(t.DstBox) {
				return false
			}
		}
		writers[t.DstIndex] = append(writers[t.DstIndex], k)
	}
	for k, t := range tags {
		for _, w := range writers[t.SrcIndex] {
			if w != k && tags[w].DstBox.Intersects(t.SrcBox) {
				return false
			}
		}
	}
	return true
}

func volume(tags []Tag) int {
	n := 0
	for _, t := range tags {
		n += t.NumPts()
	}
	return n
}

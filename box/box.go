package box

import (
	"fmt"
)

// IndexType records, per axis, whether a Box indexes cells or nodes.
// Bit d set means axis d is node-centered.
type IndexType uint8

const (
	// CellType is cell-centered on every axis
	CellType IndexType = 0
	// NodeType is node-centered on every axis
	NodeType IndexType = 1<<SpaceDim - 1
)

// IsNode reports whether axis d is node-centered
func (t IndexType) IsNode(d int) bool {
	return t&(1<<d) != 0
}

// IsCell reports whether axis d is cell-centered
func (t IndexType) IsCell(d int) bool {
	return !t.IsNode(d)
}

// SetNode returns t with axis d switched to node-centered
func (t IndexType) SetNode(d int) IndexType {
	return t | 1<<d
}

func (t IndexType) String() string {
	var s [SpaceDim]int
	for d := range s {
		if t.IsNode(d) {
			s[d] = 1
		}
	}
	return fmt.Sprintf("(%d,%d,%d)", s[0], s[1], s[2])
}

// Box is an axis-aligned rectangle in integer index space. Lo and Hi are
// inclusive. A Box with Lo[d] > Hi[d] on any axis is empty; empty boxes come
// out of intersections and are never valid partition entries.
//
// Box is an immutable value type: every operation returns a new Box and
// boxes compare with ==.
type Box struct {
	Lo, Hi IntVect
	Type   IndexType
}

// NewBox returns a cell-centered box
func NewBox(lo, hi IntVect) Box {
	return Box{Lo: lo, Hi: hi, Type: CellType}
}

// NewNodeBox returns a box that is node-centered on every axis
func NewNodeBox(lo, hi IntVect) Box {
	return Box{Lo: lo, Hi: hi, Type: NodeType}
}

// IsEmpty reports whether the box contains no points
func (b Box) IsEmpty() bool {
	for d := 0; d < SpaceDim; d++ {
		if b.Lo[d] > b.Hi[d] {
			return true
		}
	}
	return false
}

// Length returns the number of points along axis d
func (b Box) Length(d int) int {
	return max(b.Hi[d]-b.Lo[d]+1, 0)
}

// Size returns the number of points along each axis
func (b Box) Size() IntVect {
	var sz IntVect
	for d := range sz {
		sz[d] = b.Length(d)
	}
	return sz
}

// NumPts returns the total number of points in the box
func (b Box) NumPts() int {
	n := 1
	for d := 0; d < SpaceDim; d++ {
		n *= b.Length(d)
	}
	return n
}

// Shift translates the box by iv
func (b Box) Shift(iv IntVect) Box {
	b.Lo = b.Lo.Add(iv)
	b.Hi = b.Hi.Add(iv)
	return b
}

// Grow grows the box by n on every side of every axis
func (b Box) Grow(n int) Box {
	return b.GrowVect(Uniform(n))
}

// GrowVect grows the box by iv[d] on both sides of axis d
func (b Box) GrowVect(iv IntVect) Box {
	b.Lo = b.Lo.Sub(iv)
	b.Hi = b.Hi.Add(iv)
	return b
}

// GrowDir grows the box by n on both sides of axis d only
func (b Box) GrowDir(d, n int) Box {
	b.Lo[d] -= n
	b.Hi[d] += n
	return b
}

// SurroundingNodes converts every cell-centered axis to the nodes that bound it
func (b Box) SurroundingNodes() Box {
	for d := 0; d < SpaceDim; d++ {
		b = b.SurroundingNodesDir(d)
	}
	return b
}

// SurroundingNodesDir converts axis d to node-centered if it is not already
func (b Box) SurroundingNodesDir(d int) Box {
	if b.Type.IsCell(d) {
		b.Hi[d]++
		b.Type = b.Type.SetNode(d)
	}
	return b
}

// Intersect returns the common region of b and o; it may be empty.
// Both boxes must share an index type.
func (b Box) Intersect(o Box) Box {
	if b.Type != o.Type {
		panic(fmt.Sprintf("box intersection with mismatched index types %v and %v", b.Type, o.Type))
	}
	return Box{Lo: b.Lo.Max(o.Lo), Hi: b.Hi.Min(o.Hi), Type: b.Type}
}

// Intersects reports whether b and o share at least one point. Node boxes
// that touch at a face share the nodes on that face.
func (b Box) Intersects(o Box) bool {
	return !b.Intersect(o).IsEmpty()
}

// Contains reports whether every point of o lies in b
func (b Box) Contains(o Box) bool {
	if o.IsEmpty() || b.Type != o.Type {
		return false
	}
	return b.Lo.AllLE(o.Lo) && o.Hi.AllLE(b.Hi)
}

// ContainsCell reports whether iv lies in b
func (b Box) ContainsCell(iv IntVect) bool {
	return b.Lo.AllLE(iv) && iv.AllLE(b.Hi)
}

// Index returns the linear offset of iv in b with axis 0 varying fastest.
// The caller guarantees iv lies in b.
func (b Box) Index(iv IntVect) int {
	nx, ny := b.Length(0), b.Length(1)
	return (iv[0] - b.Lo[0]) + nx*((iv[1]-b.Lo[1])+ny*(iv[2]-b.Lo[2]))
}

// ForEachCell calls fn for every point of b in Index order
func (b Box) ForEachCell(fn func(iv IntVect)) {
	if b.IsEmpty() {
		return
	}
	var iv IntVect
	for iv[2] = b.Lo[2]; iv[2] <= b.Hi[2]; iv[2]++ {
		for iv[1] = b.Lo[1]; iv[1] <= b.Hi[1]; iv[1]++ {
			for iv[0] = b.Lo[0]; iv[0] <= b.Hi[0]; iv[0]++ {
				fn(iv)
			}
		}
	}
}

// Center returns the midpoint of the box, rounded down
func (b Box) Center() IntVect {
	var c IntVect
	for d := range c {
		c[d] = b.Lo[d] + (b.Hi[d]-b.Lo[d])/2
	}
	return c
}

func (b Box) String() string {
	return fmt.Sprintf("(%v %v %v)", b.Lo, b.Hi, b.Type)
}

package box

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// BoxArray is an ordered, immutable list of boxes describing how a domain is
// divided. The position of a box is its partition index, the stable identity
// used by ownership maps, data blocks and communication tags.
type BoxArray struct {
	boxes []Box
}

// NewBoxArray copies boxes into a BoxArray. It panics if the list is empty,
// contains an empty box, or mixes index types.
func NewBoxArray(boxes ...Box) BoxArray {
	if len(boxes) == 0 {
		panic("BoxArray cannot be empty")
	}
	for i, b := range boxes {
		if b.IsEmpty() {
			panic(fmt.Sprintf("partition %d: empty box %v", i, b))
		}
		if b.Type != boxes[0].Type {
			panic(fmt.Sprintf("partition %d: index type %v differs from %v", i, b.Type, boxes[0].Type))
		}
	}
	ba := BoxArray{boxes: make([]Box, len(boxes))}
	copy(ba.boxes, boxes)
	return ba
}

// Len returns the number of partition entries
func (ba BoxArray) Len() int {
	return len(ba.boxes)
}

// Get returns the box at partition index i
func (ba BoxArray) Get(i int) Box {
	return ba.boxes[i]
}

// Boxes returns a copy of the box list
func (ba BoxArray) Boxes() []Box {
	out := make([]Box, len(ba.boxes))
	copy(out, ba.boxes)
	return out
}

// Type returns the common index type of the boxes
func (ba BoxArray) Type() IndexType {
	if len(ba.boxes) == 0 {
		return CellType
	}
	return ba.boxes[0].Type
}

// NumPts returns the total number of points over all boxes
func (ba BoxArray) NumPts() int {
	n := 0
	for _, b := range ba.boxes {
		n += b.NumPts()
	}
	return n
}

// MinimalBox returns the smallest box containing every entry
func (ba BoxArray) MinimalBox() Box {
	mb := ba.boxes[0]
	for _, b := range ba.boxes[1:] {
		mb.Lo = mb.Lo.Min(b.Lo)
		mb.Hi = mb.Hi.Max(b.Hi)
	}
	return mb
}

// Equal compares two arrays by value: same boxes in the same order
func (ba BoxArray) Equal(o BoxArray) bool {
	if len(ba.boxes) != len(o.boxes) {
		return false
	}
	if len(ba.boxes) > 0 && &ba.boxes[0] == &o.boxes[0] {
		return true
	}
	for i := range ba.boxes {
		if ba.boxes[i] != o.boxes[i] {
			return false
		}
	}
	return true
}

// Hash is an FNV-1a digest of the box list. Equal arrays hash equally.
func (ba BoxArray) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, b := range ba.boxes {
		for d := 0; d < SpaceDim; d++ {
			binary.LittleEndian.PutUint64(buf[:], uint64(b.Lo[d]))
			h.Write(buf[:])
			binary.LittleEndian.PutUint64(buf[:], uint64(b.Hi[d]))
			h.Write(buf[:])
		}
		h.Write([]byte{byte(b.Type)})
	}
	return h.Sum64()
}

// MaxSize chops every box so that no box is longer than maxSize[d] along
// axis d. Order is preserved: pieces of box i precede pieces of box i+1 and
// are listed with axis 0 varying fastest.
func (ba BoxArray) MaxSize(maxSize IntVect) BoxArray {
	for d := range maxSize {
		if maxSize[d] <= 0 {
			panic(fmt.Sprintf("MaxSize: non-positive size %d on axis %d", maxSize[d], d))
		}
	}
	var out []Box
	for _, b := range ba.boxes {
		out = append(out, chop(b, maxSize)...)
	}
	return BoxArray{boxes: out}
}

func chop(b Box, maxSize IntVect) []Box {
	var cuts [SpaceDim][][2]int
	for d := 0; d < SpaceDim; d++ {
		n := b.Length(d)
		pieces := (n + maxSize[d] - 1) / maxSize[d]
		// Spread the remainder over the leading pieces
		base, extra := n/pieces, n%pieces
		lo := b.Lo[d]
		for p := 0; p < pieces; p++ {
			w := base
			if p < extra {
				w++
			}
			cuts[d] = append(cuts[d], [2]int{lo, lo + w - 1})
			lo += w
		}
	}
	var out []Box
	for _, cz := range cuts[2] {
		for _, cy := range cuts[1] {
			for _, cx := range cuts[0] {
				out = append(out, Box{
					Lo:   IntVect{cx[0], cy[0], cz[0]},
					Hi:   IntVect{cx[1], cy[1], cz[1]},
					Type: b.Type,
				})
			}
		}
	}
	return out
}

func (ba BoxArray) String() string {
	return fmt.Sprintf("BoxArray(%d boxes)", len(ba.boxes))
}

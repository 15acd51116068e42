package geometry

import (
	"testing"

	"github.com/notargets/BoxHalo/box"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func domain8x8() box.Box {
	return box.NewBox(box.IntVect{0, 0, 0}, box.IntVect{7, 7, 0})
}

func TestPeriodicShift_NoPeriodicAxis(t *testing.T) {
	g := New(domain8x8(), [3]bool{false, false, false})
	left := box.NewBox(box.IntVect{0, 0, 0}, box.IntVect{3, 7, 0})
	right := box.NewBox(box.IntVect{4, 0, 0}, box.IntVect{7, 7, 0})

	cases := []struct {
		name           string
		target, source box.Box
	}{
		{"overlapping", left.Grow(1), left},
		{"adjacent", left.Grow(1), right},
		{"far apart", left, right.Shift(box.IntVect{100, 0, 0})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Empty(t, g.PeriodicShift(tc.target, tc.source))
		})
	}
}

func TestPeriodicShift_ZeroShiftNeverReported(t *testing.T) {
	g := New(domain8x8(), [3]bool{true, true, false})
	b := box.NewBox(box.IntVect{2, 2, 0}, box.IntVect{5, 5, 0})

	// b intersects itself unshifted, but no periodic image reaches it
	assert.Empty(t, g.PeriodicShift(b, b))
}

func TestPeriodicShift_WrapsAcrossX(t *testing.T) {
	g := New(domain8x8(), [3]bool{true, true, false})
	left := box.NewBox(box.IntVect{0, 0, 0}, box.IntVect{3, 7, 0})
	right := box.NewBox(box.IntVect{4, 0, 0}, box.IntVect{7, 7, 0})

	// The halo of the left box reaches x=-1, which is the right box shifted by -8
	shifts := g.PeriodicShift(left.GrowDir(0, 1), right)
	require.Len(t, shifts, 1)
	assert.Equal(t, box.IntVect{-8, 0, 0}, shifts[0])

	// With a full halo the y-wrapped images touch the corners too, and the
	// y-only images of the right box reach the corner cells at x=4
	shifts = g.PeriodicShift(left.GrowVect(box.GhostVect(1, 2)), right)
	assert.Equal(t, []box.IntVect{
		{-8, -8, 0},
		{-8, 0, 0},
		{-8, 8, 0},
		{0, -8, 0},
		{0, 8, 0},
	}, shifts)
}

func TestPeriodicShift_OnlyPeriodicAxesShift(t *testing.T) {
	g := New(domain8x8(), [3]bool{true, false, false})
	bottom := box.NewBox(box.IntVect{0, 0, 0}, box.IntVect{7, 3, 0})
	top := box.NewBox(box.IntVect{0, 4, 0}, box.IntVect{7, 7, 0})

	// Not periodic in y, so the y-face halo of the bottom box never sees a
	// wrapped image of the top box
	assert.Empty(t, g.PeriodicShift(bottom.GrowDir(1, 1), top))

	// The bottom box wraps onto itself in x
	shifts := g.PeriodicShift(bottom.GrowVect(box.GhostVect(1, 2)), bottom)
	assert.Equal(t, []box.IntVect{{-8, 0, 0}, {8, 0, 0}}, shifts)
}

func TestPeriodicShift_Deterministic(t *testing.T) {
	g := New(box.NewBox(box.IntVect{0, 0, 0}, box.IntVect{3, 3, 3}), [3]bool{true, true, true})
	b := box.NewBox(box.IntVect{0, 0, 0}, box.IntVect{3, 3, 3})
	first := g.PeriodicShift(b.Grow(1), b)
	second := PeriodicShift(g, b.Grow(1), b)

	// All 26 neighbouring images of a box that fills the domain
	assert.Len(t, first, 26)
	assert.Equal(t, first, second)
}

func TestPeriodicShift_NodeTouchingFace(t *testing.T) {
	g := New(domain8x8(), [3]bool{true, false, false})
	nodeDomain := g.DomainFor(box.CellType.SetNode(0))
	assert.Equal(t, 9, nodeDomain.Length(0))

	// A node box ending on the hi face shares that face with the lo face
	// of the next periodic image.
	lo := box.Box{Lo: box.IntVect{0, 0, 0}, Hi: box.IntVect{0, 7, 0}, Type: nodeDomain.Type}
	hi := box.Box{Lo: box.IntVect{8, 0, 0}, Hi: box.IntVect{8, 7, 0}, Type: nodeDomain.Type}
	assert.Equal(t, []box.IntVect{{-8, 0, 0}}, g.PeriodicShift(lo, hi))
}

func TestGeometry_Period(t *testing.T) {
	g := New(domain8x8(), [3]bool{true, false, false})
	assert.Equal(t, 8, g.Period(0))
	assert.Panics(t, func() { g.Period(1) })
	assert.True(t, g.IsAnyPeriodic())
	assert.False(t, g.IsAllPeriodic())
}

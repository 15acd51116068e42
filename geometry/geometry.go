package geometry

import (
	"fmt"

	"github.com/notargets/BoxHalo/box"
)

// Geometry is the periodicity descriptor of a computational domain: the
// cell-centered domain box plus a periodic flag per axis. It is set once at
// domain setup; changing it invalidates every communication pattern built
// against the old value.
type Geometry struct {
	Domain   box.Box
	Periodic [box.SpaceDim]bool
}

// New returns a Geometry for a cell-centered domain
func New(domain box.Box, periodic [box.SpaceDim]bool) Geometry {
	if domain.IsEmpty() {
		panic(fmt.Sprintf("geometry: empty domain %v", domain))
	}
	if domain.Type != box.CellType {
		panic(fmt.Sprintf("geometry: domain %v must be cell-centered", domain))
	}
	return Geometry{Domain: domain, Periodic: periodic}
}

// IsPeriodic reports whether axis d wraps around
func (g Geometry) IsPeriodic(d int) bool {
	return g.Periodic[d]
}

// IsAnyPeriodic reports whether at least one axis wraps around
func (g Geometry) IsAnyPeriodic() bool {
	for _, p := range g.Periodic {
		if p {
			return true
		}
	}
	return false
}

// IsAllPeriodic reports whether every axis wraps around
func (g Geometry) IsAllPeriodic() bool {
	for _, p := range g.Periodic {
		if !p {
			return false
		}
	}
	return true
}

// Period returns the domain length along periodic axis d
func (g Geometry) Period(d int) int {
	if !g.Periodic[d] {
		panic(fmt.Sprintf("geometry: axis %d is not periodic", d))
	}
	return g.Domain.Length(d)
}

// DomainFor returns the domain in the index space of t: node-centered axes of
// t get the nodes surrounding the cell domain.
func (g Geometry) DomainFor(t box.IndexType) box.Box {
	dom := g.Domain
	for d := 0; d < box.SpaceDim; d++ {
		if t.IsNode(d) {
			dom = dom.SurroundingNodesDir(d)
		}
	}
	return dom
}

// PeriodicShift returns every shift that translates src so that it
// intersects target, using only whole periods along periodic axes. The zero
// shift is never returned, even when src and target overlap as given, so the
// result is empty when no axis is periodic.
//
// Shifts are ordered with axis 0 outermost and each axis walking -1, 0, +1
// periods, which makes the output deterministic.
func (g Geometry) PeriodicShift(target, src box.Box) []box.IntVect {
	if !g.IsAnyPeriodic() {
		return nil
	}

	var span [box.SpaceDim][]int
	for d := 0; d < box.SpaceDim; d++ {
		if g.Periodic[d] {
			L := g.Domain.Length(d)
			span[d] = []int{-L, 0, L}
		} else {
			span[d] = []int{0}
		}
	}

	var out []box.IntVect
	for _, sx := range span[0] {
		for _, sy := range span[1] {
			for _, sz := range span[2] {
				shift := box.IntVect{sx, sy, sz}
				if shift.IsZero() {
					continue
				}
				if target.Intersects(src.Shift(shift)) {
					out = append(out, shift)
				}
			}
		}
	}
	return out
}

// PeriodicShift is the standalone form of Geometry.PeriodicShift for
// geometric code that holds a Geometry by value.
func PeriodicShift(g Geometry, target, src box.Box) []box.IntVect {
	return g.PeriodicShift(target, src)
}

func (g Geometry) String() string {
	return fmt.Sprintf("Geometry{domain: %v, periodic: %v}", g.Domain, g.Periodic)
}

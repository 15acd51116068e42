package exchange

import (
	"fmt"
	"maps"
	"slices"
	"unsafe"

	"github.com/notargets/BoxHalo/box"
	"github.com/notargets/BoxHalo/geometry"
)

// Pattern is one rank's view of a halo exchange: the copies it performs
// locally and the tags it packs for, or unpacks from, every peer rank.
//
// Tag lists appear in the same global order on every rank, so the tags a
// sender packs for a peer line up one to one with the tags the peer unpacks.
type Pattern struct {
	Key      Key
	Geometry geometry.Geometry
	Rank     int

	// Both blocks owned by Rank
	LocTags []Tag
	// Source owned by Rank, keyed by the destination's owner
	SndTags map[int][]Tag
	// Destination owned by Rank, keyed by the source's owner
	RcvTags map[int][]Tag

	// Cell counts per peer; multiply by ncomp for message lengths
	SndVols map[int]int
	RcvVols map[int]int

	// Peer ranks in ascending order
	SndRanks []int
	RcvRanks []int

	// The list's tags may run concurrently: no overlapping writes, and no
	// tag reads cells another one writes
	ThreadSafeLoc bool
	ThreadSafeRcv bool

	// Set by the cache when a lookup hits this pattern
	Reused bool
}

// BuildPattern computes rank's pattern for key. Every rank derives its own
// view independently from the same global inputs.
func BuildPattern(key Key, geom geometry.Geometry, rank int) (*Pattern, error) {
	if err := checkBuildInputs(key, geom); err != nil {
		return nil, err
	}
	dm := key.DistributionMap
	if rank < 0 || rank >= dm.NProcs() {
		return nil, fmt.Errorf("%w: rank %d outside [0,%d)", ErrPrecondition, rank, dm.NProcs())
	}

	p := &Pattern{
		Key:      key,
		Geometry: geom,
		Rank:     rank,
		SndTags:  make(map[int][]Tag),
		RcvTags:  make(map[int][]Tag),
		SndVols:  make(map[int]int),
		RcvVols:  make(map[int]int),
	}

	involvesRank := func(dst, src int) bool {
		return dm.Owner(dst) == rank || dm.Owner(src) == rank
	}
	forEachTag(key, geom, involvesRank, func(t Tag) {
		dstOwner, srcOwner := dm.Owner(t.DstIndex), dm.Owner(t.SrcIndex)
		switch {
		case dstOwner == rank && srcOwner == rank:
			p.LocTags = append(p.LocTags, t)
		case srcOwner == rank:
			p.SndTags[dstOwner] = append(p.SndTags[dstOwner], t)
			p.SndVols[dstOwner] += t.NumPts()
		default:
			p.RcvTags[srcOwner] = append(p.RcvTags[srcOwner], t)
			p.RcvVols[srcOwner] += t.NumPts()
		}
	})

	p.SndRanks = slices.Sorted(maps.Keys(p.SndTags))
	p.RcvRanks = slices.Sorted(maps.Keys(p.RcvTags))

	p.ThreadSafeLoc = threadSafe(p.LocTags)
	var allRcv []Tag
	for _, r := range p.RcvRanks {
		allRcv = append(allRcv, p.RcvTags[r]...)
	}
	p.ThreadSafeRcv = threadSafe(allRcv)

	return p, nil
}

// GlobalTags returns every tag of key regardless of ownership, in the
// order each rank's lists are filtered from
func GlobalTags(key Key, geom geometry.Geometry) ([]Tag, error) {
	if err := checkBuildInputs(key, geom); err != nil {
		return nil, err
	}
	var tags []Tag
	forEachTag(key, geom, func(int, int) bool { return true }, func(t Tag) {
		tags = append(tags, t)
	})
	return tags, nil
}

func checkBuildInputs(key Key, geom geometry.Geometry) error {
	if err := key.validate(); err != nil {
		return err
	}
	if key.Domain != geom.Domain {
		return fmt.Errorf("%w: key domain %v does not match geometry domain %v",
			ErrPrecondition, key.Domain, geom.Domain)
	}
	for d := 0; d < box.SpaceDim; d++ {
		if geom.IsPeriodic(d) && key.NGrow[d] > geom.Period(d) {
			return fmt.Errorf("%w: halo width %d exceeds period %d on axis %d",
				ErrPrecondition, key.NGrow[d], geom.Period(d), d)
		}
	}
	return nil
}

// forEachTag emits tags for every (dst, src) pair accepted by include, in
// dst-major, src-minor order
func forEachTag(key Key, geom geometry.Geometry, include func(dst, src int) bool, emit func(Tag)) {
	ba := key.BoxArray
	ng := key.NGrow
	domain := geom.DomainFor(ba.Type())

	if key.Kind == SumPeriodic {
		for i := 0; i < ba.Len(); i++ {
			dst := ba.Get(i).Intersect(domain)
			if dst.IsEmpty() {
				continue
			}
			for j := 0; j < ba.Len(); j++ {
				if !include(i, j) {
					continue
				}
				src := ba.Get(j).GrowVect(ng)
				for _, s := range geom.PeriodicShift(dst, src) {
					dbx := dst.Intersect(src.Shift(s))
					emit(Tag{SrcIndex: j, DstIndex: i, SrcBox: dbx.Shift(s.Neg()), DstBox: dbx})
				}
			}
		}
		return
	}

	for i := 0; i < ba.Len(); i++ {
		valid := ba.Get(i)
		grown := valid.GrowVect(ng)
		if key.Kind == FillPeriodic && domain.Contains(grown) {
			// No halo cell of this block lies outside the domain
			continue
		}
		dests := haloRegions(valid, ng, key.Corners)
		if len(dests) == 0 {
			continue
		}
		for j := 0; j < ba.Len(); j++ {
			if !include(i, j) {
				continue
			}
			src := ba.Get(j).Intersect(domain)
			if src.IsEmpty() {
				continue
			}
			shifts := geom.PeriodicShift(grown, src)
			if key.Kind == FillBoundary && i != j {
				shifts = append([]box.IntVect{box.Zero}, shifts...)
			}
			for _, s := range shifts {
				shifted := src.Shift(s)
				for _, dest := range dests {
					dbx := dest.Intersect(shifted)
					if dbx.IsEmpty() {
						continue
					}
					emit(Tag{SrcIndex: j, DstIndex: i, SrcBox: dbx.Shift(s.Neg()), DstBox: dbx})
				}
			}
		}
	}
}

// haloRegions returns the parts of valid's halo that may receive data. With
// corners the whole grown box is used; without, one face slab per axis, so
// cells reachable only through an edge or corner are left alone. The slabs
// overlap only inside valid.
func haloRegions(valid box.Box, ng box.IntVect, corners bool) []box.Box {
	if ng.IsZero() {
		return nil
	}
	if corners {
		return []box.Box{valid.GrowVect(ng)}
	}
	var slabs []box.Box
	for d := 0; d < box.SpaceDim; d++ {
		if ng[d] > 0 {
			slabs = append(slabs, valid.GrowDir(d, ng[d]))
		}
	}
	return slabs
}

// Empty reports whether the rank has nothing to copy, send or receive
func (p *Pattern) Empty() bool {
	return len(p.LocTags) == 0 && len(p.SndTags) == 0 && len(p.RcvTags) == 0
}

// NumTags counts local, send and receive tags
func (p *Pattern) NumTags() int {
	n := len(p.LocTags)
	for _, tags := range p.SndTags {
		n += len(tags)
	}
	for _, tags := range p.RcvTags {
		n += len(tags)
	}
	return n
}

// Bytes estimates the memory held by the tag lists
func (p *Pattern) Bytes() int {
	return p.NumTags() * int(unsafe.Sizeof(Tag{}))
}

// Verify checks that every tag stays inside its blocks and that source and
// destination regions have the same shape
func (p *Pattern) Verify() error {
	ba := p.Key.BoxArray
	check := func(t Tag) error {
		if t.SrcBox.Size() != t.DstBox.Size() {
			return fmt.Errorf("tag %v: source and destination shapes differ", t)
		}
		if !ba.Get(t.SrcIndex).GrowVect(p.Key.NGrow).Contains(t.SrcBox) {
			return fmt.Errorf("tag %v: source region outside block %d", t, t.SrcIndex)
		}
		if !ba.Get(t.DstIndex).GrowVect(p.Key.NGrow).Contains(t.DstBox) {
			return fmt.Errorf("tag %v: destination region outside block %d", t, t.DstIndex)
		}
		return nil
	}
	for _, t := range p.LocTags {
		if err := check(t); err != nil {
			return err
		}
	}
	for _, r := range p.SndRanks {
		for _, t := range p.SndTags[r] {
			if err := check(t); err != nil {
				return err
			}
		}
	}
	for _, r := range p.RcvRanks {
		for _, t := range p.RcvTags[r] {
			if err := check(t); err != nil {
				return err
			}
		}
	}
	return nil
}

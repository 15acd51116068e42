package exchange

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/notargets/BoxHalo/box"
	"github.com/notargets/BoxHalo/fab"
	"github.com/notargets/BoxHalo/partitions"
)

// Key identifies a communication pattern by value. Two keys built from
// distinct but identical partitions and ownership maps are equal.
//
// Periodicity flags are not part of the key. Generation is bumped by
// Context.SetGeometry, so keys minted under an old geometry never match.
type Key struct {
	BoxArray        box.BoxArray
	DistributionMap partitions.DistributionMap
	Domain          box.Box
	NGrow           box.IntVect
	Corners         bool
	Kind            Kind
	Generation      uint64
}

// KeyFor builds the key that exchanging mf over domain would use
func KeyFor(mf *fab.MultiFab, domain box.Box, kind Kind, corners bool, generation uint64) Key {
	if kind == SumPeriodic {
		corners = true
	}
	return Key{
		BoxArray:        mf.BoxArray(),
		DistributionMap: mf.DistributionMap(),
		Domain:          domain,
		NGrow:           mf.NGrow(),
		Corners:         corners,
		Kind:            kind,
		Generation:      generation,
	}
}

// Equal compares every field by value
func (k Key) Equal(o Key) bool {
	return k.Domain == o.Domain &&
		k.NGrow == o.NGrow &&
		k.Corners == o.Corners &&
		k.Kind == o.Kind &&
		k.Generation == o.Generation &&
		k.DistributionMap.Equal(o.DistributionMap) &&
		k.BoxArray.Equal(o.BoxArray)
}

// Hash combines the partition and ownership digests with the scalar fields
func (k Key) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	put(k.BoxArray.Hash())
	put(k.DistributionMap.Hash())
	for d := 0; d < box.SpaceDim; d++ {
		put(uint64(k.Domain.Lo[d]))
		put(uint64(k.Domain.Hi[d]))
		put(uint64(k.NGrow[d]))
	}
	flags := uint64(k.Kind) << 1
	if k.Corners {
		flags |= 1
	}
	put(flags)
	put(k.Generation)
	return h.Sum64()
}

func (k Key) validate() error {
	if k.BoxArray.Len() == 0 {
		return fmt.Errorf("%w: empty partition", ErrPrecondition)
	}
	if err := k.DistributionMap.Validate(k.BoxArray); err != nil {
		return fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	for d := 0; d < box.SpaceDim; d++ {
		if k.NGrow[d] < 0 {
			return fmt.Errorf("%w: negative halo width %v", ErrPrecondition, k.NGrow)
		}
	}
	if k.Kind < FillPeriodic || k.Kind > SumPeriodic {
		return fmt.Errorf("%w: unknown kind %v", ErrPrecondition, k.Kind)
	}
	return nil
}

func (k Key) String() string {
	return fmt.Sprintf("Key{%v, %d boxes, nprocs %d, domain %v, ngrow %v, corners %t, gen %d}",
		k.Kind, k.BoxArray.Len(), k.DistributionMap.NProcs(), k.Domain, k.NGrow, k.Corners, k.Generation)
}

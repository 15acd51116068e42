package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/notargets/BoxHalo/box"
	"github.com/notargets/BoxHalo/comm"
	"github.com/notargets/BoxHalo/fab"
	"github.com/notargets/BoxHalo/geometry"
	"github.com/notargets/BoxHalo/partitions"
)

// sentinel marks halo cells no exchange should touch; analytic values are
// never negative
const sentinel = -1.0

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func box2D(xlo, ylo, xhi, yhi int) box.Box {
	return box.NewBox(box.IntVect{xlo, ylo, 0}, box.IntVect{xhi, yhi, 0})
}

// twoBoxScenario is the 8x8 doubly periodic domain cut into left and right
// halves owned by ranks 0 and 1
func twoBoxScenario(t *testing.T) (geometry.Geometry, box.BoxArray, partitions.DistributionMap) {
	geom := geometry.New(box2D(0, 0, 7, 7), [box.SpaceDim]bool{true, true, false})
	ba := box.NewBoxArray(box2D(0, 0, 3, 7), box2D(4, 0, 7, 7))
	dm, err := partitions.NewDistributionMap([]int{0, 1}, 2)
	require.NoError(t, err)
	return geom, ba, dm
}

// wrap maps iv into the domain along periodic axes
func wrap(geom geometry.Geometry, iv box.IntVect) box.IntVect {
	for d := 0; d < box.SpaceDim; d++ {
		if !geom.IsPeriodic(d) {
			continue
		}
		L := geom.Period(d)
		lo := geom.Domain.Lo[d]
		iv[d] = ((iv[d]-lo)%L+L)%L + lo
	}
	return iv
}

// analytic is a distinct value per in-domain cell and component
func analytic(iv box.IntVect, c int) float64 {
	return float64(1_000_000*c + 10_000*iv[0] + 100*iv[1] + iv[2])
}

// fillAnalytic sets every valid cell to its analytic value and every halo
// cell to sentinel
func fillAnalytic(mf *fab.MultiFab) {
	mf.SetVal(sentinel)
	mf.ForEachValid(func(f *fab.FArrayBox, iv box.IntVect) {
		for c := 0; c < f.NComp(); c++ {
			f.Set(iv, c, analytic(iv, c))
		}
	})
}

// expectedHalo returns the value a halo cell should hold after an exchange
// of kind, and false when the exchange must leave it alone
func expectedHalo(geom geometry.Geometry, valid box.Box, iv box.IntVect, c int, kind Kind, corners bool) (float64, bool) {
	out := 0
	for d := 0; d < box.SpaceDim; d++ {
		if iv[d] < valid.Lo[d] || iv[d] > valid.Hi[d] {
			out++
		}
	}
	if !corners && out > 1 {
		return 0, false
	}
	if kind == FillPeriodic && geom.Domain.ContainsCell(iv) {
		return 0, false
	}
	w := wrap(geom, iv)
	if !geom.Domain.ContainsCell(w) {
		return 0, false
	}
	return analytic(w, c), true
}

// checkHalos asserts every halo cell of every local block of mf
func checkHalos(t *testing.T, geom geometry.Geometry, mf *fab.MultiFab, kind Kind, corners bool) {
	t.Helper()
	bad := 0
	for _, i := range mf.LocalIndices() {
		f := mf.Fab(i)
		f.Box().ForEachCell(func(iv box.IntVect) {
			if f.ValidBox().ContainsCell(iv) {
				return
			}
			for c := 0; c < f.NComp(); c++ {
				want, filled := expectedHalo(geom, f.ValidBox(), iv, c, kind, corners)
				if !filled {
					want = sentinel
				}
				if got := f.Get(iv, c); got != want {
					if bad < 10 {
						t.Errorf("block %d cell %v comp %d: got %v, want %v", i, iv, c, got, want)
					}
					bad++
				}
			}
		})
	}
	if bad > 0 {
		t.Errorf("%d halo values wrong", bad)
	}
}

// runWorld drives fn once per rank of an in-process world
func runWorld(t *testing.T, n int, fn func(ctx context.Context, tr comm.Transport) error) {
	t.Helper()
	w := comm.NewLocalWorld(n)
	require.NoError(t, w.Run(testContext(t), fn))
	require.Equal(t, 0, w.Pending(), "unreceived messages left in the world")
}

// buildAll builds the pattern of every rank for key
func buildAll(t *testing.T, key Key, geom geometry.Geometry) []*Pattern {
	t.Helper()
	patterns := make([]*Pattern, key.DistributionMap.NProcs())
	for r := range patterns {
		p, err := BuildPattern(key, geom, r)
		require.NoError(t, err)
		patterns[r] = p
	}
	return patterns
}

func makeKey(ba box.BoxArray, dm partitions.DistributionMap, geom geometry.Geometry, ng box.IntVect, kind Kind, corners bool) Key {
	if kind == SumPeriodic {
		corners = true
	}
	return Key{
		BoxArray:        ba,
		DistributionMap: dm,
		Domain:          geom.Domain,
		NGrow:           ng,
		Corners:         corners,
		Kind:            kind,
	}
}

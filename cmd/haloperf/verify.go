package main

import (
	"github.com/notargets/BoxHalo/box"
	"github.com/notargets/BoxHalo/exchange"
	"github.com/notargets/BoxHalo/fab"
	"github.com/notargets/BoxHalo/geometry"
)

const unset = -1.0

func cellValue(iv box.IntVect, c int) float64 {
	return float64(c)*1e9 + float64(iv[0])*1e6 + float64(iv[1])*1e3 + float64(iv[2])
}

// initialize sets valid cells to a value unique to their position and halos
// to unset
func initialize(mf *fab.MultiFab) {
	mf.SetVal(unset)
	mf.ForEachValid(func(f *fab.FArrayBox, iv box.IntVect) {
		for c := 0; c < f.NComp(); c++ {
			f.Set(iv, c, cellValue(iv, c))
		}
	})
}

// verifyHalos counts halo values that differ from the periodic image the
// exchange kind should have copied there
func verifyHalos(geom geometry.Geometry, mf *fab.MultiFab, kind exchange.Kind, corners bool) (checked, wrong int) {
	for _, i := range mf.LocalIndices() {
		f := mf.Fab(i)
		valid := f.ValidBox()
		f.Box().ForEachCell(func(iv box.IntVect) {
			if valid.ContainsCell(iv) {
				return
			}
			want, filled := expected(geom, valid, iv, kind, corners)
			for c := 0; c < f.NComp(); c++ {
				v := unset
				if filled {
					v = want + float64(c)*1e9
				}
				checked++
				if f.Get(iv, c) != v {
					wrong++
				}
			}
		})
	}
	return checked, wrong
}

func expected(geom geometry.Geometry, valid box.Box, iv box.IntVect, kind exchange.Kind, corners bool) (float64, bool) {
	out := 0
	for d := 0; d < box.SpaceDim; d++ {
		if iv[d] < valid.Lo[d] || iv[d] > valid.Hi[d] {
			out++
		}
	}
	if !corners && out > 1 {
		return 0, false
	}
	if kind == exchange.FillPeriodic && geom.Domain.ContainsCell(iv) {
		return 0, false
	}
	for d := 0; d < box.SpaceDim; d++ {
		if geom.IsPeriodic(d) {
			L, lo := geom.Period(d), geom.Domain.Lo[d]
			iv[d] = ((iv[d]-lo)%L+L)%L + lo
		}
	}
	if !geom.Domain.ContainsCell(iv) {
		return 0, false
	}
	return cellValue(iv, 0), true
}

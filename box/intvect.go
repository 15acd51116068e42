package box

import (
	"fmt"
)

// SpaceDim is the number of index-space axes. 2D problems use a degenerate
// third axis (Lo[2] == Hi[2], no ghost cells, never periodic).
const SpaceDim = 3

// IntVect is a point in integer index space
type IntVect [SpaceDim]int

// Zero is the origin of index space
var Zero = IntVect{}

// Unit returns the IntVect that is 1 along axis d and 0 elsewhere
func Unit(d int) IntVect {
	var iv IntVect
	iv[d] = 1
	return iv
}

// Uniform returns an IntVect with n on every axis
func Uniform(n int) IntVect {
	var iv IntVect
	for d := range iv {
		iv[d] = n
	}
	return iv
}

// GhostVect returns n on the first dim axes and 0 on the rest.
// Used to size halos for problems with fewer than SpaceDim active axes.
func GhostVect(n, dim int) IntVect {
	if dim < 1 || dim > SpaceDim {
		panic(fmt.Sprintf("GhostVect: dim %d out of range [1,%d]", dim, SpaceDim))
	}
	var iv IntVect
	for d := 0; d < dim; d++ {
		iv[d] = n
	}
	return iv
}

func (v IntVect) Add(o IntVect) IntVect {
	for d := range v {
		v[d] += o[d]
	}
	return v
}

func (v IntVect) Sub(o IntVect) IntVect {
	for d := range v {
		v[d] -= o[d]
	}
	return v
}

func (v IntVect) Neg() IntVect {
	for d := range v {
		v[d] = -v[d]
	}
	return v
}

// Scale multiplies every component by n
func (v IntVect) Scale(n int) IntVect {
	for d := range v {
		v[d] *= n
	}
	return v
}

// Min returns the componentwise minimum
func (v IntVect) Min(o IntVect) IntVect {
	for d := range v {
		v[d] = min(v[d], o[d])
	}
	return v
}

// Max returns the componentwise maximum
func (v IntVect) Max(o IntVect) IntVect {
	for d := range v {
		v[d] = max(v[d], o[d])
	}
	return v
}

// AllLE reports whether v[d] <= o[d] on every axis
func (v IntVect) AllLE(o IntVect) bool {
	for d := range v {
		if v[d] > o[d] {
			return false
		}
	}
	return true
}

// IsZero reports whether every component is zero
func (v IntVect) IsZero() bool {
	return v == Zero
}

func (v IntVect) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v[0], v[1], v[2])
}

// Package geometry provides the 4x4 affine transforms that tie voxel indices
// to physical (scanner) coordinates, and the mapping of voxel positions
// between two independently oriented voxel grids.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrSingularAffine is returned when an affine cannot be inverted.
var ErrSingularAffine = errors.New("singular affine")

// DefaultAffineTolerance is the largest element-wise difference for which two
// affines are considered to describe the same voxel grid.
const DefaultAffineTolerance = 1e-4

// singularTolerance is the smallest determinant accepted as invertible.
const singularTolerance = 1e-12

// Affine maps a homogeneous voxel index (i, j, k, 1) to a physical
// coordinate (x, y, z, 1). Rows are indexed first.
type Affine [4][4]float64

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Scale returns a diagonal transform with the given voxel sizes.
func Scale(sx, sy, sz float64) Affine {
	a := Identity()
	a[0][0] = sx
	a[1][1] = sy
	a[2][2] = sz
	return a
}

// Centered returns the canonical output frame for an array of the given
// shape: identity rotation and unit voxel size, translated so that voxel
// index shape/2 lands on the physical origin.
func Centered(shape [3]int) Affine {
	a := Identity()
	for axis := 0; axis < 3; axis++ {
		a[axis][3] = -float64(shape[axis]) / 2
	}
	return a
}

// FromDense copies a 4x4 gonum matrix into an Affine.
func FromDense(m mat.Matrix) Affine {
	var a Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a[i][j] = m.At(i, j)
		}
	}
	return a
}

// Dense returns the transform as a gonum matrix.
func (a Affine) Dense() *mat.Dense {
	data := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		data = append(data, a[i][:]...)
	}
	return mat.NewDense(4, 4, data)
}

// Apply transforms a point through the affine.
func (a Affine) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0][0]*p.X + a[0][1]*p.Y + a[0][2]*p.Z + a[0][3],
		Y: a[1][0]*p.X + a[1][1]*p.Y + a[1][2]*p.Z + a[1][3],
		Z: a[2][0]*p.X + a[2][1]*p.Y + a[2][2]*p.Z + a[2][3],
	}
}

// Inverse returns the physical-to-voxel transform. It fails with
// ErrSingularAffine rather than returning a meaningless matrix.
func (a Affine) Inverse() (Affine, error) {
	d := a.Dense()
	det := mat.Det(d)
	if math.IsNaN(det) || math.Abs(det) < singularTolerance {
		return Affine{}, fmt.Errorf("%w: determinant %g", ErrSingularAffine, det)
	}

	var inv mat.Dense
	if err := inv.Inverse(d); err != nil {
		return Affine{}, fmt.Errorf("%w: %v", ErrSingularAffine, err)
	}
	return FromDense(&inv), nil
}

// Mul returns the composition a·b, i.e. b is applied first.
func (a Affine) Mul(b Affine) Affine {
	var out mat.Dense
	out.Mul(a.Dense(), b.Dense())
	return FromDense(&out)
}

// Shifted returns the affine of a sub-array whose index origin sits at
// offset in the grid described by a.
func (a Affine) Shifted(offset r3.Vec) Affine {
	out := a
	origin := a.Apply(offset)
	out[0][3], out[1][3], out[2][3] = origin.X, origin.Y, origin.Z
	return out
}

// Equal reports whether every element of a and b differs by at most tol.
func (a Affine) Equal(b Affine, tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(a[i][j]-b[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

// VoxelSize returns the length of each index axis in physical units.
func (a Affine) VoxelSize() r3.Vec {
	col := func(j int) float64 {
		return r3.Norm(r3.Vec{X: a[0][j], Y: a[1][j], Z: a[2][j]})
	}
	return r3.Vec{X: col(0), Y: col(1), Z: col(2)}
}

func (a Affine) String() string {
	return fmt.Sprintf("[%v %v %v %v]", a[0], a[1], a[2], a[3])
}

// Component returns the value of p along axis 0, 1 or 2.
func Component(p r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	case 2:
		return p.Z
	default:
		panic(fmt.Sprintf("geometry: illegal axis %d", axis))
	}
}

// AxisVec returns the vector whose only non-zero component is v along axis.
func AxisVec(axis int, v float64) r3.Vec {
	switch axis {
	case 0:
		return r3.Vec{X: v}
	case 1:
		return r3.Vec{Y: v}
	case 2:
		return r3.Vec{Z: v}
	default:
		panic(fmt.Sprintf("geometry: illegal axis %d", axis))
	}
}

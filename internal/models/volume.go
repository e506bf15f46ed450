package models

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"ctroiprep/pkg/geometry"
)

// Shape holds the number of voxels along each index axis (i, j, k).
type Shape [3]int

// Len returns the number of voxels in an array of this shape.
func (s Shape) Len() int {
	return s[0] * s[1] * s[2]
}

// Valid reports whether every dimension is positive.
func (s Shape) Valid() bool {
	return s[0] > 0 && s[1] > 0 && s[2] > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s[0], s[1], s[2])
}

// Volume represents a 3D scan or label mask together with the affine that
// places its voxels in physical space
type Volume struct {
	// Data is the 3D volume data as a 1D array with axis 0 varying fastest,
	// the same order NIfTI stores voxels on disk
	Data []float64

	// Shape is the number of voxels along each axis
	Shape Shape

	// Affine maps voxel indices to physical coordinates
	Affine geometry.Affine
}

// NewVolume allocates a zero-filled volume
func NewVolume(shape Shape, affine geometry.Affine) *Volume {
	return &Volume{
		Data:   make([]float64, shape.Len()),
		Shape:  shape,
		Affine: affine,
	}
}

// Index returns the position of voxel (i, j, k) in Data
func (v *Volume) Index(i, j, k int) int {
	return k*v.Shape[0]*v.Shape[1] + j*v.Shape[0] + i
}

// At returns the sample at voxel (i, j, k)
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Index(i, j, k)]
}

// Set stores a sample at voxel (i, j, k)
func (v *Volume) Set(i, j, k int, value float64) {
	v.Data[v.Index(i, j, k)] = value
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return len(v.Data)
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{Data: data, Shape: v.Shape, Affine: v.Affine}
}

// Fill sets every voxel inside the half-open box [lo, hi) to value.
// It is used to paint synthetic structures into test volumes and masks.
func (v *Volume) Fill(lo, hi [3]int, value float64) {
	for k := lo[2]; k < hi[2]; k++ {
		for j := lo[1]; j < hi[1]; j++ {
			for i := lo[0]; i < hi[0]; i++ {
				v.Set(i, j, k, value)
			}
		}
	}
}

// SubVolume copies the half-open box [lo, hi) into a new volume whose
// affine is shifted so that every voxel keeps its physical position.
// The box must lie inside the volume.
func (v *Volume) SubVolume(lo, hi [3]int) *Volume {
	shape := Shape{hi[0] - lo[0], hi[1] - lo[1], hi[2] - lo[2]}
	offset := r3.Vec{X: float64(lo[0]), Y: float64(lo[1]), Z: float64(lo[2])}
	out := NewVolume(shape, v.Affine.Shifted(offset))

	for k := 0; k < shape[2]; k++ {
		for j := 0; j < shape[1]; j++ {
			src := v.Index(lo[0], lo[1]+j, lo[2]+k)
			dst := out.Index(0, j, k)
			copy(out.Data[dst:dst+shape[0]], v.Data[src:src+shape[0]])
		}
	}
	return out
}

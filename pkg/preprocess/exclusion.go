package preprocess

import (
	"errors"
	"fmt"

	"ctroiprep/internal/models"
)

// ErrShapeMismatch is returned when a mask does not share the volume's grid.
var ErrShapeMismatch = errors.New("mask and volume shapes differ")

// Binarize returns a 0/1 copy of mask where samples >= threshold are set.
func Binarize(mask *models.Volume, threshold float64) *models.Volume {
	out := models.NewVolume(mask.Shape, mask.Affine)
	for i, v := range mask.Data {
		if v >= threshold {
			out.Data[i] = 1
		}
	}
	return out
}

// Dilate grows the non-zero region of mask by radius voxels using a cubic
// structuring element: a voxel becomes set when any set voxel lies within
// Chebyshev distance radius. The cube is separable, so the work is three
// running-window passes, one per axis.
func Dilate(mask *models.Volume, radius int) *models.Volume {
	out := models.NewVolume(mask.Shape, mask.Affine)
	for i, v := range mask.Data {
		if v != 0 {
			out.Data[i] = 1
		}
	}
	if radius <= 0 {
		return out
	}

	shape := mask.Shape
	for axis := 0; axis < 3; axis++ {
		n := shape[axis]
		step := 1
		for a := 0; a < axis; a++ {
			step *= shape[a]
		}

		// prefix[i] counts set samples in line[:i]
		prefix := make([]int, n+1)
		for base := 0; base < len(out.Data); base++ {
			// base must be the first sample of a line along axis
			if (base/step)%n != 0 {
				continue
			}
			for i := 0; i < n; i++ {
				prefix[i+1] = prefix[i]
				if out.Data[base+i*step] != 0 {
					prefix[i+1]++
				}
			}
			if prefix[n] == 0 {
				continue
			}
			for i := 0; i < n; i++ {
				lo, hi := i-radius, i+radius+1
				if lo < 0 {
					lo = 0
				}
				if hi > n {
					hi = n
				}
				if prefix[hi]-prefix[lo] > 0 {
					out.Data[base+i*step] = 1
				}
			}
		}
	}
	return out
}

// ExcludeOutside returns a copy of vol where every voxel not covered by mask
// is replaced with fill.
func ExcludeOutside(vol, mask *models.Volume, fill float64) (*models.Volume, error) {
	if vol.Shape != mask.Shape {
		return nil, fmt.Errorf("%w: volume %s, mask %s", ErrShapeMismatch, vol.Shape, mask.Shape)
	}

	out := vol.Clone()
	for i, m := range mask.Data {
		if m == 0 {
			out.Data[i] = fill
		}
	}
	return out, nil
}

package interpolation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"ctroiprep/internal/models"
	"ctroiprep/pkg/geometry"
)

// ResampleToSpace samples src on the voxel grid described by shape and
// affine, so both volumes can be indexed together. Every target voxel is
// mapped through physical space into src and read with trilinear weights;
// positions outside src read as zero.
func (r *Resampler) ResampleToSpace(src *models.Volume, shape models.Shape, affine geometry.Affine) (*models.Volume, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("%w: target shape %s", ErrDegenerateResample, shape)
	}
	mapper, err := geometry.NewMapper(affine, src.Affine)
	if err != nil {
		return nil, err
	}

	out := models.NewVolume(shape, affine)
	parallelFor(shape[2], r.workers, func(start, end int) {
		for k := start; k < end; k++ {
			for j := 0; j < shape[1]; j++ {
				for i := 0; i < shape[0]; i++ {
					p := mapper.MapPoint(r3.Vec{X: float64(i), Y: float64(j), Z: float64(k)})
					out.Set(i, j, k, trilinear(src, p))
				}
			}
		}
	})
	return out, nil
}

// trilinear reads src at a continuous voxel position, treating everything
// outside the array as zero.
func trilinear(src *models.Volume, p r3.Vec) float64 {
	x0, y0, z0 := math.Floor(p.X), math.Floor(p.Y), math.Floor(p.Z)
	fx, fy, fz := p.X-x0, p.Y-y0, p.Z-z0
	i0, j0, k0 := int(x0), int(y0), int(z0)

	var sum float64
	for dk := 0; dk < 2; dk++ {
		wz := 1 - fz
		if dk == 1 {
			wz = fz
		}
		k := k0 + dk
		if wz == 0 || k < 0 || k >= src.Shape[2] {
			continue
		}
		for dj := 0; dj < 2; dj++ {
			wy := 1 - fy
			if dj == 1 {
				wy = fy
			}
			j := j0 + dj
			if wy == 0 || j < 0 || j >= src.Shape[1] {
				continue
			}
			for di := 0; di < 2; di++ {
				wx := 1 - fx
				if di == 1 {
					wx = fx
				}
				i := i0 + di
				if wx == 0 || i < 0 || i >= src.Shape[0] {
					continue
				}
				sum += wx * wy * wz * src.At(i, j, k)
			}
		}
	}
	return sum
}

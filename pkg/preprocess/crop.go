// Package preprocess implements the per-case preprocessing pipeline that turns a
// CT scan and its anatomical label masks into a canonical region of interest:
// body-mask exclusion, cropping, resampling, intensity normalization and
// re-anchoring of the physical frame.
package preprocess

import (
	"errors"
	"fmt"

	"ctroiprep/internal/models"
	"ctroiprep/pkg/roi"
)

// ErrOutOfBoundsCrop is returned when crop bounds leave the source array.
var ErrOutOfBoundsCrop = errors.New("crop bounds outside volume")

// CheckBounds verifies that the half-open crop box lies inside shape and is
// not empty. Bounds are never clamped: a box that leaves the array points to
// a wrong landmark or a wrong mapping upstream.
func CheckBounds(shape models.Shape, b roi.Bounds) error {
	lo, hi := b.Min(), b.Max()
	for axis := 0; axis < 3; axis++ {
		if lo[axis] < 0 || hi[axis] > shape[axis] || lo[axis] >= hi[axis] {
			return fmt.Errorf("%w: axis %d range [%d:%d] for shape %s", ErrOutOfBoundsCrop, axis, lo[axis], hi[axis], shape)
		}
	}
	return nil
}

// Crop returns vol[x_min:x_max, y_min:y_max, z_min:z_max]. The returned
// volume's affine keeps every voxel at its original physical position.
func Crop(vol *models.Volume, b roi.Bounds) (*models.Volume, error) {
	if err := CheckBounds(vol.Shape, b); err != nil {
		return nil, err
	}
	return vol.SubVolume(b.Min(), b.Max()), nil
}

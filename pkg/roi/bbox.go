// Package roi turns anatomical label masks into cropping planes.
//
// Bounding boxes are computed per label, then a declarative Spec says which
// side of which label's box bounds each of the six faces of the region of
// interest, and by how many voxels it is padded.
package roi

import (
	"errors"
	"fmt"

	"ctroiprep/internal/models"
)

var (
	// ErrEmptyMask means a mask exists but has no foreground voxel.
	ErrEmptyMask = errors.New("mask has no foreground voxels")

	// ErrMissingLabel means a label referenced by a ROI Spec has no mask or box.
	ErrMissingLabel = errors.New("label not available")
)

// Box is an axis-aligned voxel-index bounding box. Both corners are inclusive.
type Box struct {
	Min [3]int
	Max [3]int
}

// Bound returns the box corner selected by t along axis.
func (b Box) Bound(t BoundType, axis int) int {
	if t == BoundMax {
		return b.Max[axis]
	}
	return b.Min[axis]
}

// Contains reports whether voxel (i, j, k) lies inside the box.
func (b Box) Contains(i, j, k int) bool {
	p := [3]int{i, j, k}
	for axis := 0; axis < 3; axis++ {
		if p[axis] < b.Min[axis] || p[axis] > b.Max[axis] {
			return false
		}
	}
	return true
}

// FindBoundingBox returns the tight box around every non-zero voxel of mask.
// Restricting the search to part of the mask is the caller's job: pass a
// sub-volume.
func FindBoundingBox(mask *models.Volume) (Box, error) {
	nx, ny, nz := mask.Shape[0], mask.Shape[1], mask.Shape[2]
	box := Box{
		Min: [3]int{nx, ny, nz},
		Max: [3]int{-1, -1, -1},
	}

	found := false
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			row := mask.Data[mask.Index(0, j, k) : mask.Index(0, j, k)+nx]
			for i, v := range row {
				if v == 0 {
					continue
				}
				found = true
				p := [3]int{i, j, k}
				for axis := 0; axis < 3; axis++ {
					if p[axis] < box.Min[axis] {
						box.Min[axis] = p[axis]
					}
					if p[axis] > box.Max[axis] {
						box.Max[axis] = p[axis]
					}
				}
			}
		}
	}

	if !found {
		return Box{}, fmt.Errorf("%w (shape %s)", ErrEmptyMask, mask.Shape)
	}
	return box, nil
}

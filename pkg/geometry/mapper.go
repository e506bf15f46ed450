package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// PlanePoint is a single cropping plane: a voxel index along one axis.
// The remaining two axes are placeholders and are discarded after mapping.
type PlanePoint struct {
	Axis  int
	Index float64
}

// Mapper converts voxel indices of a source grid into voxel indices of a
// target grid by passing through physical space.
type Mapper struct {
	source        Affine
	targetInverse Affine
}

// NewMapper prepares a mapping from the source grid to the target grid.
// The target affine must be invertible.
func NewMapper(source, target Affine) (*Mapper, error) {
	inv, err := target.Inverse()
	if err != nil {
		return nil, fmt.Errorf("failed to invert target affine: %w", err)
	}
	return &Mapper{source: source, targetInverse: inv}, nil
}

// MapPoint maps a continuous source voxel index to a continuous target voxel index.
func (m *Mapper) MapPoint(p r3.Vec) r3.Vec {
	physical := m.source.Apply(p)
	return m.targetInverse.Apply(physical)
}

// MapPlanes maps each plane into the target grid and returns the rounded
// target index along the plane's own axis, one value per input point.
func (m *Mapper) MapPlanes(points []PlanePoint) ([]int, error) {
	out := make([]int, len(points))
	for i, p := range points {
		if p.Axis < 0 || p.Axis > 2 {
			return nil, fmt.Errorf("plane %d: illegal axis %d", i, p.Axis)
		}
		mapped := m.MapPoint(AxisVec(p.Axis, p.Index))
		out[i] = int(math.RoundToEven(Component(mapped, p.Axis)))
	}
	return out, nil
}

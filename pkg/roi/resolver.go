package roi

import (
	"fmt"
	"math"

	"ctroiprep/internal/models"
	"ctroiprep/pkg/geometry"
)

// Boxes maps a rule's box key to its bounding box.
type Boxes map[string]Box

// ComputeBoxes finds the bounding box of every label the Spec's planes read.
// Each label's mask is scanned once; limited rules scan a sub-volume cut
// below the referenced bound. A limit label on another voxel grid than the
// searched label has its bound mapped through physical space; tol decides
// when two grids are the same.
func ComputeBoxes(masks map[string]*models.Volume, spec *Spec, tol float64) (Boxes, error) {
	boxes := make(Boxes)

	plain := func(label string) (Box, error) {
		if box, ok := boxes[label]; ok {
			return box, nil
		}
		mask, ok := masks[label]
		if !ok || mask == nil {
			return Box{}, fmt.Errorf("%w: no mask for %q", ErrMissingLabel, label)
		}
		box, err := FindBoundingBox(mask)
		if err != nil {
			return Box{}, fmt.Errorf("label %q: %w", label, err)
		}
		boxes[label] = box
		return box, nil
	}

	for _, p := range Planes {
		rule := spec.Rule(p)
		if rule.Limit == nil {
			if _, err := plain(rule.Label); err != nil {
				return nil, err
			}
			continue
		}

		key := rule.key()
		if _, ok := boxes[key]; ok {
			continue
		}
		limitBox, err := plain(rule.Limit.Label)
		if err != nil {
			return nil, err
		}
		mask, ok := masks[rule.Label]
		if !ok || mask == nil {
			return nil, fmt.Errorf("%w: no mask for %q", ErrMissingLabel, rule.Label)
		}

		axis := rule.Limit.Axis
		end := limitBox.Bound(rule.Limit.Type, axis)
		first, last, err := limitRange(masks[rule.Limit.Label].Affine, mask, axis, end, tol)
		if err != nil {
			return nil, fmt.Errorf("label %q below %s %s: %w", rule.Label, rule.Limit.Label, rule.Limit.Type, err)
		}
		lower, upper := [3]int{}, [3]int(mask.Shape)
		lower[axis], upper[axis] = first, last
		box, err := FindBoundingBox(mask.SubVolume(lower, upper))
		if err != nil {
			return nil, fmt.Errorf("label %q below %s %s: %w", rule.Label, rule.Limit.Label, rule.Limit.Type, err)
		}
		box.Min[axis] += first
		box.Max[axis] += first
		boxes[key] = box
	}

	return boxes, nil
}

// limitRange returns the half-open index range [first, last) of mask along
// axis that lies below index end of the limit grid.
func limitRange(limit geometry.Affine, mask *models.Volume, axis, end int, tol float64) (int, int, error) {
	n := mask.Shape[axis]
	first, last := 0, end
	if !limit.Equal(mask.Affine, tol) {
		m, err := geometry.NewMapper(limit, mask.Affine)
		if err != nil {
			return 0, 0, err
		}
		at := geometry.Component(m.MapPoint(geometry.AxisVec(axis, float64(end))), axis)
		before := geometry.Component(m.MapPoint(geometry.AxisVec(axis, float64(end-1))), axis)
		cut := int(math.RoundToEven(at))
		if before <= at {
			last = cut
		} else {
			// The axis runs the other way in the mask grid.
			first, last = cut+1, n
		}
	}
	first, last = max(first, 0), min(last, n)
	if last <= first {
		return 0, 0, ErrEmptyMask
	}
	return first, last, nil
}

// Resolve turns boxes into the six cropping planes, still in the masks' own
// voxel grid. Min planes are padded downwards and max planes upwards.
func Resolve(boxes Boxes, spec *Spec) (Bounds, error) {
	var bounds Bounds
	for _, p := range Planes {
		rule := spec.Rule(p)
		box, ok := boxes[rule.key()]
		if !ok {
			return Bounds{}, fmt.Errorf("%w: no bounding box for %q (%s plane)", ErrMissingLabel, rule.Label, p)
		}

		v := box.Bound(rule.Type, p.Axis())
		if p.IsMin() {
			v -= rule.Padding
		} else {
			v += rule.Padding
		}
		bounds[p] = v
	}
	return bounds, nil
}

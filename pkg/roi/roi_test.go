package roi

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"ctroiprep/internal/models"
	"ctroiprep/pkg/geometry"
)

func cuboidMask(shape models.Shape, lo, hi [3]int) *models.Volume {
	m := models.NewVolume(shape, geometry.Identity())
	m.Fill(lo, hi, 1)
	return m
}

func TestFindBoundingBoxCuboid(t *testing.T) {
	mask := cuboidMask(models.Shape{100, 100, 100}, [3]int{40, 41, 42}, [3]int{50, 60, 43})

	box, err := FindBoundingBox(mask)
	if err != nil {
		t.Fatalf("FindBoundingBox failed: %v", err)
	}
	if box.Min != [3]int{40, 41, 42} || box.Max != [3]int{49, 59, 42} {
		t.Errorf("Unexpected box %+v", box)
	}
}

func TestFindBoundingBoxTight(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	shape := models.Shape{17, 11, 9}

	for trial := 0; trial < 20; trial++ {
		mask := models.NewVolume(shape, geometry.Identity())
		n := 1 + rng.Intn(30)
		for p := 0; p < n; p++ {
			mask.Set(rng.Intn(shape[0]), rng.Intn(shape[1]), rng.Intn(shape[2]), float64(1+rng.Intn(3)))
		}

		box, err := FindBoundingBox(mask)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}

		// Every true voxel is inside, and every face touches a true voxel.
		var touches [3][2]bool
		for k := 0; k < shape[2]; k++ {
			for j := 0; j < shape[1]; j++ {
				for i := 0; i < shape[0]; i++ {
					if mask.At(i, j, k) == 0 {
						continue
					}
					if !box.Contains(i, j, k) {
						t.Fatalf("trial %d: voxel (%d,%d,%d) outside box %+v", trial, i, j, k, box)
					}
					p := [3]int{i, j, k}
					for axis := 0; axis < 3; axis++ {
						touches[axis][0] = touches[axis][0] || p[axis] == box.Min[axis]
						touches[axis][1] = touches[axis][1] || p[axis] == box.Max[axis]
					}
				}
			}
		}
		for axis := 0; axis < 3; axis++ {
			if box.Min[axis] > box.Max[axis] {
				t.Errorf("trial %d: min > max on axis %d", trial, axis)
			}
			if !touches[axis][0] || !touches[axis][1] {
				t.Errorf("trial %d: box %+v is not tight on axis %d", trial, box, axis)
			}
		}
	}
}

func TestFindBoundingBoxEmpty(t *testing.T) {
	mask := models.NewVolume(models.Shape{8, 8, 8}, geometry.Identity())
	if _, err := FindBoundingBox(mask); !errors.Is(err, ErrEmptyMask) {
		t.Errorf("Expected ErrEmptyMask, got %v", err)
	}
}

// cubeSpec crops from label a's lower corner to label b's upper corner on every axis.
func cubeSpec(pad int) *Spec {
	lower := func() BoundRule { return BoundRule{Label: "a", Task: "total", Type: BoundMin, Padding: pad} }
	upper := func() BoundRule { return BoundRule{Label: "b", Task: "total", Type: BoundMax, Padding: pad} }
	return &Spec{
		Left: lower(), Right: upper(),
		Back: lower(), Front: upper(),
		Down: lower(), Up: upper(),
		Outside: OutsideRule{Label: "body", Task: "body", Padding: 3},
	}
}

func TestResolvePadding(t *testing.T) {
	shape := models.Shape{100, 100, 100}
	masks := map[string]*models.Volume{
		"a": cuboidMask(shape, [3]int{40, 40, 40}, [3]int{50, 50, 50}),
		"b": cuboidMask(shape, [3]int{60, 60, 60}, [3]int{70, 70, 70}),
	}
	spec := cubeSpec(2)

	boxes, err := ComputeBoxes(masks, spec, geometry.DefaultAffineTolerance)
	if err != nil {
		t.Fatalf("ComputeBoxes failed: %v", err)
	}
	bounds, err := Resolve(boxes, spec)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := Bounds{38, 71, 38, 71, 38, 71}
	if bounds != want {
		t.Errorf("Expected %v, got %v", want, bounds)
	}
	if bounds.Min() != [3]int{38, 38, 38} || bounds.Max() != [3]int{71, 71, 71} {
		t.Errorf("Unexpected min/max %v %v", bounds.Min(), bounds.Max())
	}
}

func TestResolveMixedLandmarks(t *testing.T) {
	shape := models.Shape{64, 64, 64}
	masks := map[string]*models.Volume{
		"skull":        cuboidMask(shape, [3]int{10, 20, 40}, [3]int{54, 50, 63}),
		"vertebrae_C3": cuboidMask(shape, [3]int{28, 30, 30}, [3]int{36, 38, 34}),
		"vertebrae_C7": cuboidMask(shape, [3]int{29, 32, 10}, [3]int{35, 40, 14}),
		"body":         cuboidMask(shape, [3]int{5, 5, 0}, [3]int{59, 58, 64}),
	}
	spec := &Spec{
		Left:    BoundRule{Label: "skull", Type: BoundMin, Padding: 2},
		Right:   BoundRule{Label: "skull", Type: BoundMax, Padding: 2},
		Back:    BoundRule{Label: "vertebrae_C7", Type: BoundMin, Padding: 5},
		Front:   BoundRule{Label: "body", Type: BoundMax, Padding: 5},
		Down:    BoundRule{Label: "vertebrae_C7", Type: BoundMin, Padding: 2},
		Up:      BoundRule{Label: "vertebrae_C3", Type: BoundMax, Padding: 5},
		Outside: OutsideRule{Label: "body", Padding: 7},
	}

	boxes, err := ComputeBoxes(masks, spec, geometry.DefaultAffineTolerance)
	if err != nil {
		t.Fatalf("ComputeBoxes failed: %v", err)
	}
	bounds, err := Resolve(boxes, spec)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := Bounds{8, 55, 27, 62, 8, 38}
	if bounds != want {
		t.Errorf("Expected %v, got %v", want, bounds)
	}
}

func TestComputeBoxesLimit(t *testing.T) {
	shape := models.Shape{32, 32, 32}
	skin := cuboidMask(shape, [3]int{4, 4, 0}, [3]int{28, 20, 32})
	// A nose sticking out near the top of the head.
	skin.Fill([3]int{14, 20, 24}, [3]int{18, 26, 28}, 1)
	masks := map[string]*models.Volume{
		"skin":  skin,
		"hyoid": cuboidMask(shape, [3]int{14, 10, 12}, [3]int{18, 14, 15}),
	}

	spec := cubeSpec(0)
	spec.Front = BoundRule{
		Label: "skin",
		Type:  BoundMax,
		Limit: &Limit{Label: "hyoid", Type: BoundMin, Axis: 2},
	}
	spec.Back = BoundRule{Label: "skin", Type: BoundMin}
	spec.Left, spec.Right = spec.Back, spec.Front
	spec.Left.Label, spec.Right.Label = "hyoid", "hyoid"
	spec.Right.Type = BoundMax
	spec.Right.Limit = nil
	spec.Down, spec.Up = spec.Left, spec.Right

	boxes, err := ComputeBoxes(masks, spec, geometry.DefaultAffineTolerance)
	if err != nil {
		t.Fatalf("ComputeBoxes failed: %v", err)
	}
	if boxes["skin"].Max[1] != 25 {
		t.Errorf("Unrestricted skin box should include the nose, got %+v", boxes["skin"])
	}

	bounds, err := Resolve(boxes, spec)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if bounds.YMax() != 19 {
		t.Errorf("Skin searched below the hyoid should end at y=19, got %d", bounds.YMax())
	}
	if bounds.YMin() != 4 {
		t.Errorf("Expected y min 4, got %d", bounds.YMin())
	}
}

// limitedFrontSpec reads every plane from "hyoid" except the front, which is
// the skin searched below the hyoid.
func limitedFrontSpec() *Spec {
	plain := BoundRule{Label: "hyoid", Type: BoundMin}
	spec := &Spec{Left: plain, Right: plain, Back: plain, Front: plain, Down: plain, Up: plain}
	spec.Front = BoundRule{
		Label: "skin",
		Type:  BoundMax,
		Limit: &Limit{Label: "hyoid", Type: BoundMin, Axis: 2},
	}
	return spec
}

func TestComputeBoxesLimitOnCoarserGrid(t *testing.T) {
	skin := cuboidMask(models.Shape{64, 64, 64}, [3]int{4, 4, 0}, [3]int{28, 20, 64})
	skin.Fill([3]int{14, 20, 28}, [3]int{18, 26, 34}, 1) // below the hyoid
	skin.Fill([3]int{14, 20, 44}, [3]int{18, 30, 50}, 1) // above it

	// Hyoid voxels are 2 units wide, so z=20 there is z=40 in the skin grid.
	hyoid := models.NewVolume(models.Shape{32, 32, 32}, geometry.Scale(2, 2, 2))
	hyoid.Fill([3]int{7, 5, 20}, [3]int{9, 7, 22}, 1)

	spec := limitedFrontSpec()
	boxes, err := ComputeBoxes(map[string]*models.Volume{"skin": skin, "hyoid": hyoid}, spec, geometry.DefaultAffineTolerance)
	if err != nil {
		t.Fatalf("ComputeBoxes failed: %v", err)
	}
	box := boxes[spec.Front.key()]
	if box.Max[2] != 39 {
		t.Errorf("Search should stop below z=40, got %+v", box)
	}
	if box.Max[1] != 25 {
		t.Errorf("Expected the lower bump only (y max 25), got %+v", box)
	}
}

func TestComputeBoxesLimitOnFlippedGrid(t *testing.T) {
	// Skin index k sits at physical z = 63 - k.
	flipped := geometry.Identity()
	flipped[2][2] = -1
	flipped[2][3] = 63
	skin := models.NewVolume(models.Shape{64, 64, 64}, flipped)
	skin.Fill([3]int{4, 4, 0}, [3]int{28, 20, 64}, 1)
	skin.Fill([3]int{14, 20, 24}, [3]int{18, 26, 30}, 1) // physical z 34..39
	skin.Fill([3]int{14, 20, 0}, [3]int{18, 30, 20}, 1)  // physical z 44..63

	hyoid := cuboidMask(models.Shape{64, 64, 64}, [3]int{14, 10, 40}, [3]int{18, 14, 42})

	spec := limitedFrontSpec()
	boxes, err := ComputeBoxes(map[string]*models.Volume{"skin": skin, "hyoid": hyoid}, spec, geometry.DefaultAffineTolerance)
	if err != nil {
		t.Fatalf("ComputeBoxes failed: %v", err)
	}
	box := boxes[spec.Front.key()]
	if box.Min[2] != 24 || box.Max[2] != 63 {
		t.Errorf("Expected skin rows 24..63 (physical z below 40), got %+v", box)
	}
	if box.Max[1] != 25 {
		t.Errorf("Expected the lower bump only (y max 25), got %+v", box)
	}
}

func TestComputeBoxesMissingLabel(t *testing.T) {
	masks := map[string]*models.Volume{
		"a": cuboidMask(models.Shape{8, 8, 8}, [3]int{1, 1, 1}, [3]int{3, 3, 3}),
	}
	if _, err := ComputeBoxes(masks, cubeSpec(1), geometry.DefaultAffineTolerance); !errors.Is(err, ErrMissingLabel) {
		t.Errorf("Expected ErrMissingLabel, got %v", err)
	}
}

func TestComputeBoxesEmptyLabel(t *testing.T) {
	shape := models.Shape{8, 8, 8}
	masks := map[string]*models.Volume{
		"a": cuboidMask(shape, [3]int{1, 1, 1}, [3]int{3, 3, 3}),
		"b": models.NewVolume(shape, geometry.Identity()),
	}
	if _, err := ComputeBoxes(masks, cubeSpec(1), geometry.DefaultAffineTolerance); !errors.Is(err, ErrEmptyMask) {
		t.Errorf("Expected ErrEmptyMask, got %v", err)
	}
}

func TestResolveMissingBox(t *testing.T) {
	boxes := Boxes{"a": {Min: [3]int{1, 1, 1}, Max: [3]int{2, 2, 2}}}
	if _, err := Resolve(boxes, cubeSpec(0)); !errors.Is(err, ErrMissingLabel) {
		t.Errorf("Expected ErrMissingLabel, got %v", err)
	}
}

func TestPlanePoints(t *testing.T) {
	b := Bounds{1, 2, 3, 4, 5, 6}
	points := b.PlanePoints()
	wantAxes := []int{0, 0, 1, 1, 2, 2}
	for i, p := range points {
		if p.Axis != wantAxes[i] || p.Index != float64(b[i]) {
			t.Errorf("point %d: got %+v", i, p)
		}
	}
}

func TestSpecValidate(t *testing.T) {
	if err := cubeSpec(2).Validate(); err != nil {
		t.Errorf("Valid spec rejected: %v", err)
	}

	bad := []func(s *Spec){
		func(s *Spec) { s.Up.Label = "" },
		func(s *Spec) { s.Left.Type = "middle" },
		func(s *Spec) { s.Front.Padding = -1 },
		func(s *Spec) { s.Back.Limit = &Limit{Label: "x", Type: BoundMin, Axis: 3} },
		func(s *Spec) { s.Outside.Label = "" },
		func(s *Spec) { s.Outside.Padding = -2 },
	}
	for i, mutate := range bad {
		s := cubeSpec(2)
		mutate(s)
		if err := s.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestLabelsAndTasks(t *testing.T) {
	s := cubeSpec(0)
	s.Front.Task = "total_v1"
	s.Front.Limit = &Limit{Label: "hyoid", Type: BoundMin, Axis: 2}

	labels := s.Labels()
	slices.Sort(labels)
	if !slices.Equal(labels, []string{"a", "b", "body", "hyoid"}) {
		t.Errorf("Unexpected labels %v", labels)
	}

	tasks := s.RequiredTasks()
	slices.Sort(tasks)
	if !slices.Equal(tasks, []string{"body", "total"}) {
		t.Errorf("Unexpected tasks %v", tasks)
	}
}

package roi

import (
	"fmt"

	"github.com/samber/lo"

	"ctroiprep/pkg/geometry"
)

// BoundType selects the lower or upper corner of a label's bounding box.
type BoundType string

const (
	BoundMin BoundType = "min"
	BoundMax BoundType = "max"
)

// Plane is one face of the region of interest. Planes come in min/max pairs
// per axis: axis 0 is left/right, axis 1 back/front, axis 2 down/up.
type Plane int

const (
	Left Plane = iota
	Right
	Back
	Front
	Down
	Up
)

// Planes lists every face in Bounds order.
var Planes = []Plane{Left, Right, Back, Front, Down, Up}

var planeNames = [...]string{"left", "right", "back", "front", "down", "up"}

func (p Plane) String() string {
	if p < Left || p > Up {
		return fmt.Sprintf("plane(%d)", int(p))
	}
	return planeNames[p]
}

// Axis returns the voxel axis the plane cuts.
func (p Plane) Axis() int { return int(p) / 2 }

// IsMin reports whether the plane is the lower face of its axis.
func (p Plane) IsMin() bool { return int(p)%2 == 0 }

// Limit restricts the search for a label's box to indices strictly below
// another label's bound along Axis. A skin outline, for instance, is only
// looked for below the top of a landmark bone.
type Limit struct {
	Label string    `yaml:"label"`
	Type  BoundType `yaml:"type"`
	Axis  int       `yaml:"axis"`
}

// BoundRule declares how one plane is derived from a label's bounding box.
type BoundRule struct {
	// Label is the anatomical structure whose mask defines the plane
	Label string `yaml:"label"`

	// Task is the segmentation task that produces the mask
	Task string `yaml:"task"`

	// Type picks the min or max corner of the box along the plane's axis
	Type BoundType `yaml:"type"`

	// Padding in voxels of the mask's own grid, applied before any mapping
	Padding int `yaml:"padding"`

	// Limit optionally restricts where the label's box is searched
	Limit *Limit `yaml:"limit,omitempty"`
}

// key identifies the box a rule reads; limited searches get their own box.
func (r BoundRule) key() string {
	if r.Limit == nil {
		return r.Label
	}
	return fmt.Sprintf("%s<%s.%s[%d]", r.Label, r.Limit.Label, r.Limit.Type, r.Limit.Axis)
}

// OutsideRule names the body silhouette used to blank everything outside
// the patient, and how far to dilate it.
type OutsideRule struct {
	Label   string `yaml:"label"`
	Task    string `yaml:"task"`
	Padding int    `yaml:"padding"`
}

// Spec is the complete ROI bound specification.
type Spec struct {
	Left    BoundRule   `yaml:"left"`
	Right   BoundRule   `yaml:"right"`
	Back    BoundRule   `yaml:"back"`
	Front   BoundRule   `yaml:"front"`
	Down    BoundRule   `yaml:"down"`
	Up      BoundRule   `yaml:"up"`
	Outside OutsideRule `yaml:"outside"`
}

// Rule returns the rule for plane p.
func (s *Spec) Rule(p Plane) BoundRule {
	switch p {
	case Left:
		return s.Left
	case Right:
		return s.Right
	case Back:
		return s.Back
	case Front:
		return s.Front
	case Down:
		return s.Down
	case Up:
		return s.Up
	default:
		panic(fmt.Sprintf("roi: illegal plane %d", int(p)))
	}
}

// Validate checks that every plane and the outside rule are usable.
func (s *Spec) Validate() error {
	for _, p := range Planes {
		r := s.Rule(p)
		if r.Label == "" {
			return fmt.Errorf("%s: label is required", p)
		}
		if r.Type != BoundMin && r.Type != BoundMax {
			return fmt.Errorf("%s: type must be %q or %q, got %q", p, BoundMin, BoundMax, r.Type)
		}
		if r.Padding < 0 {
			return fmt.Errorf("%s: padding must be non-negative, got %d", p, r.Padding)
		}
		if l := r.Limit; l != nil {
			if l.Label == "" {
				return fmt.Errorf("%s: limit label is required", p)
			}
			if l.Type != BoundMin && l.Type != BoundMax {
				return fmt.Errorf("%s: limit type must be %q or %q, got %q", p, BoundMin, BoundMax, l.Type)
			}
			if l.Axis < 0 || l.Axis > 2 {
				return fmt.Errorf("%s: limit axis must be 0, 1 or 2, got %d", p, l.Axis)
			}
		}
	}
	if s.Outside.Label == "" {
		return fmt.Errorf("outside: label is required")
	}
	if s.Outside.Padding < 0 {
		return fmt.Errorf("outside: padding must be non-negative, got %d", s.Outside.Padding)
	}
	return nil
}

// Labels returns every label the Spec reads, without duplicates.
func (s *Spec) Labels() []string {
	var labels []string
	for _, p := range Planes {
		r := s.Rule(p)
		labels = append(labels, r.Label)
		if r.Limit != nil {
			labels = append(labels, r.Limit.Label)
		}
	}
	labels = append(labels, s.Outside.Label)
	return lo.Uniq(labels)
}

// RequiredTasks returns the segmentation tasks that must run to produce every
// label. The legacy "total_v1" task is served by "total" and is not listed.
func (s *Spec) RequiredTasks() []string {
	tasks := lo.Map(Planes, func(p Plane, _ int) string { return s.Rule(p).Task })
	tasks = append(tasks, s.Outside.Task)
	return lo.Without(lo.Uniq(tasks), "", "total_v1")
}

// Bounds holds the six resolved planes, indexed by Plane.
type Bounds [6]int

func (b Bounds) XMin() int { return b[Left] }
func (b Bounds) XMax() int { return b[Right] }
func (b Bounds) YMin() int { return b[Back] }
func (b Bounds) YMax() int { return b[Front] }
func (b Bounds) ZMin() int { return b[Down] }
func (b Bounds) ZMax() int { return b[Up] }

// Min returns the lower plane of every axis.
func (b Bounds) Min() [3]int { return [3]int{b[Left], b[Back], b[Down]} }

// Max returns the upper plane of every axis.
func (b Bounds) Max() [3]int { return [3]int{b[Right], b[Front], b[Up]} }

// PlanePoints returns the planes as points for geometry.Mapper.
func (b Bounds) PlanePoints() []geometry.PlanePoint {
	points := make([]geometry.PlanePoint, len(Planes))
	for _, p := range Planes {
		points[p] = geometry.PlanePoint{Axis: p.Axis(), Index: float64(b[p])}
	}
	return points
}

func (b Bounds) String() string {
	return fmt.Sprintf("x[%d:%d] y[%d:%d] z[%d:%d]", b[Left], b[Right], b[Back], b[Front], b[Down], b[Up])
}

package interpolation

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"ctroiprep/internal/models"
	"ctroiprep/pkg/geometry"
)

// rampVolume fills a volume with a linear function of the voxel index.
func rampVolume(shape models.Shape) *models.Volume {
	v := models.NewVolume(shape, geometry.Identity())
	for k := 0; k < shape[2]; k++ {
		for j := 0; j < shape[1]; j++ {
			for i := 0; i < shape[0]; i++ {
				v.Set(i, j, k, float64(3*i-2*j+k))
			}
		}
	}
	return v
}

func TestResampleShape(t *testing.T) {
	sources := []models.Shape{{1, 1, 1}, {1, 7, 3}, {2, 2, 2}, {33, 20, 5}, {64, 64, 64}}
	targets := []models.Shape{{1, 1, 1}, {4, 4, 4}, {16, 3, 9}, {64, 64, 64}}

	for _, method := range []Method{Cubic, Linear} {
		r := NewResampler(method, 3)
		for _, src := range sources {
			for _, dst := range targets {
				out, err := r.Resample(rampVolume(src), dst)
				if err != nil {
					t.Fatalf("%s %s->%s: %v", method, src, dst, err)
				}
				if out.Shape != dst || len(out.Data) != dst.Len() {
					t.Errorf("%s %s->%s: got shape %s with %d samples", method, src, dst, out.Shape, len(out.Data))
				}
			}
		}
	}
}

func TestResamplePreservesLinearField(t *testing.T) {
	src := rampVolume(models.Shape{9, 5, 4})
	dst := models.Shape{17, 9, 7}

	for _, method := range []Method{Cubic, Linear} {
		out, err := NewResampler(method, 2).Resample(src, dst)
		if err != nil {
			t.Fatalf("Resample failed: %v", err)
		}

		for k := 0; k < dst[2]; k++ {
			for j := 0; j < dst[1]; j++ {
				for i := 0; i < dst[0]; i++ {
					x := float64(i) * 8 / 16
					y := float64(j) * 4 / 8
					z := float64(k) * 3 / 6
					want := 3*x - 2*y + z
					if got := out.At(i, j, k); math.Abs(got-want) > 1e-9 {
						t.Fatalf("%s: voxel (%d,%d,%d) expected %f, got %f", method, i, j, k, want, got)
					}
				}
			}
		}
	}
}

func TestResampleKeepsCorners(t *testing.T) {
	src := models.NewVolume(models.Shape{6, 6, 6}, geometry.Identity())
	for i := range src.Data {
		src.Data[i] = math.Sin(float64(i))
	}

	out, err := NewResampler(Cubic, 1).Resample(src, models.Shape{11, 4, 9})
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if math.Abs(out.At(0, 0, 0)-src.At(0, 0, 0)) > 1e-9 {
		t.Errorf("First corner should be preserved")
	}
	if math.Abs(out.At(10, 3, 8)-src.At(5, 5, 5)) > 1e-9 {
		t.Errorf("Last corner should be preserved")
	}
}

func TestResampleSingletonAxis(t *testing.T) {
	src := models.NewVolume(models.Shape{1, 3, 1}, geometry.Identity())
	src.Data = []float64{4, 5, 6}

	out, err := NewResampler(Cubic, 1).Resample(src, models.Shape{5, 3, 2})
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	for k := 0; k < 2; k++ {
		for j := 0; j < 3; j++ {
			for i := 0; i < 5; i++ {
				if out.At(i, j, k) != src.Data[j] {
					t.Errorf("voxel (%d,%d,%d): expected %f, got %f", i, j, k, src.Data[j], out.At(i, j, k))
				}
			}
		}
	}
}

func TestResampleDegenerate(t *testing.T) {
	r := NewResampler(Linear, 1)
	if _, err := r.Resample(rampVolume(models.Shape{4, 4, 4}), models.Shape{4, 0, 4}); !errors.Is(err, ErrDegenerateResample) {
		t.Errorf("Expected ErrDegenerateResample for target, got %v", err)
	}

	empty := &models.Volume{Shape: models.Shape{0, 4, 4}, Affine: geometry.Identity()}
	if _, err := r.Resample(empty, models.Shape{4, 4, 4}); !errors.Is(err, ErrDegenerateResample) {
		t.Errorf("Expected ErrDegenerateResample for source, got %v", err)
	}
}

func TestResampleAffine(t *testing.T) {
	src := rampVolume(models.Shape{33, 10, 2})
	out, err := NewResampler(Linear, 1).Resample(src, models.Shape{64, 10, 1})
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	want := geometry.Scale(32.0/63.0, 1, 1)
	if !out.Affine.Equal(want, 1e-12) {
		t.Errorf("Expected affine %v, got %v", want, out.Affine)
	}
}

func TestResampleDoesNotAliasInput(t *testing.T) {
	src := rampVolume(models.Shape{3, 3, 3})
	out, err := NewResampler(Cubic, 1).Resample(src, src.Shape)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	out.Data[0] = 99
	if src.Data[0] == 99 {
		t.Error("Resample returned the input's storage")
	}
}

func TestScaleFactors(t *testing.T) {
	f := ScaleFactors(models.Shape{128, 1, 50}, models.Shape{64, 4, 100})
	if f != [3]float64{0.5, 4, 2} {
		t.Errorf("Unexpected factors %v", f)
	}
}

func TestParseMethod(t *testing.T) {
	cases := map[string]Method{"cubic": Cubic, "": Cubic, "Linear": Linear, "trilinear": Linear}
	for s, want := range cases {
		got, err := ParseMethod(s)
		if err != nil || got != want {
			t.Errorf("ParseMethod(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseMethod("lanczos"); err == nil {
		t.Error("Expected an error for an unknown method")
	}
}

func TestResampleToSpaceSameGrid(t *testing.T) {
	src := rampVolume(models.Shape{6, 5, 4})
	out, err := NewResampler(Linear, 2).ResampleToSpace(src, src.Shape, src.Affine)
	if err != nil {
		t.Fatalf("ResampleToSpace failed: %v", err)
	}
	for i := range src.Data {
		if math.Abs(out.Data[i]-src.Data[i]) > 1e-12 {
			t.Fatalf("sample %d: expected %f, got %f", i, src.Data[i], out.Data[i])
		}
	}
}

func TestResampleToSpaceCoarserGrid(t *testing.T) {
	// A 1 mm mask seen from a 2 mm grid: target voxel i sits on source voxel 2i.
	src := models.NewVolume(models.Shape{20, 20, 20}, geometry.Identity())
	src.Fill([3]int{4, 4, 4}, [3]int{12, 12, 12}, 1)

	out, err := NewResampler(Linear, 2).ResampleToSpace(src, models.Shape{10, 10, 10}, geometry.Scale(2, 2, 2))
	if err != nil {
		t.Fatalf("ResampleToSpace failed: %v", err)
	}
	for k := 0; k < 10; k++ {
		for j := 0; j < 10; j++ {
			for i := 0; i < 10; i++ {
				inside := i >= 2 && i < 6 && j >= 2 && j < 6 && k >= 2 && k < 6
				if got := out.At(i, j, k); (got == 1) != inside {
					t.Fatalf("voxel (%d,%d,%d): got %f, inside=%v", i, j, k, got, inside)
				}
			}
		}
	}
}

func TestTrilinearOutsideIsZero(t *testing.T) {
	src := models.NewVolume(models.Shape{2, 2, 2}, geometry.Identity())
	for i := range src.Data {
		src.Data[i] = 1
	}
	if v := trilinear(src, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}); math.Abs(v-1) > 1e-12 {
		t.Errorf("Expected 1 inside, got %f", v)
	}
	if v := trilinear(src, r3.Vec{X: 1.5, Y: 0, Z: 0}); math.Abs(v-0.5) > 1e-12 {
		t.Errorf("Expected 0.5 half outside, got %f", v)
	}
	if v := trilinear(src, r3.Vec{X: -3, Y: 0, Z: 0}); v != 0 {
		t.Errorf("Expected 0 outside, got %f", v)
	}
}

func TestResampleToSpaceSingularSource(t *testing.T) {
	src := models.NewVolume(models.Shape{2, 2, 2}, geometry.Scale(1, 0, 1))
	_, err := NewResampler(Linear, 1).ResampleToSpace(src, src.Shape, geometry.Identity())
	if !errors.Is(err, geometry.ErrSingularAffine) {
		t.Errorf("Expected ErrSingularAffine, got %v", err)
	}
}

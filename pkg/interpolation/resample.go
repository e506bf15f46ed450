package interpolation

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"

	"gonum.org/v1/gonum/interp"

	"ctroiprep/internal/models"
	"ctroiprep/pkg/geometry"
)

// ErrDegenerateResample is returned when a source or target dimension is not positive.
var ErrDegenerateResample = errors.New("degenerate resample shape")

// Method selects the 1D interpolant used along each axis
type Method int

const (
	// Cubic fits a natural cubic spline through every line of samples
	Cubic Method = iota
	// Linear interpolates between neighbouring samples
	Linear
)

func (m Method) String() string {
	switch m {
	case Cubic:
		return "cubic"
	case Linear:
		return "linear"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod converts a configuration string into a Method
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "cubic", "":
		return Cubic, nil
	case "linear", "trilinear":
		return Linear, nil
	default:
		return Cubic, fmt.Errorf("unknown interpolation method %q", s)
	}
}

// ScaleFactors returns the per-axis zoom target/source. A source dimension
// of 1 yields the ratio itself; no axis is treated specially.
func ScaleFactors(source, target models.Shape) [3]float64 {
	var f [3]float64
	for axis := 0; axis < 3; axis++ {
		f[axis] = float64(target[axis]) / float64(source[axis])
	}
	return f
}

// Resampler interpolates volumes onto a new voxel grid, one axis at a time
type Resampler struct {
	method  Method
	workers int
}

// NewResampler creates a resampler. A non-positive worker count uses every CPU.
func NewResampler(method Method, workers int) *Resampler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Resampler{method: method, workers: workers}
}

// Resample produces a volume of exactly the target shape. The first and last
// samples of every axis are aligned with the first and last source samples,
// so each axis is stretched independently by (n_in-1)/(n_out-1).
func (r *Resampler) Resample(vol *models.Volume, target models.Shape) (*models.Volume, error) {
	if !vol.Shape.Valid() {
		return nil, fmt.Errorf("%w: source shape %s", ErrDegenerateResample, vol.Shape)
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: target shape %s", ErrDegenerateResample, target)
	}

	out := vol
	for axis := 0; axis < 3; axis++ {
		if out.Shape[axis] == target[axis] {
			continue
		}
		out = r.resampleAxis(out, axis, target[axis])
	}
	if out == vol {
		out = vol.Clone()
	}

	var step [3]float64
	for axis := 0; axis < 3; axis++ {
		step[axis] = samplePitch(vol.Shape[axis], target[axis])
	}
	out.Affine = vol.Affine.Mul(geometry.Scale(step[0], step[1], step[2]))
	return out, nil
}

// samplePitch is the distance, in source voxels, between two output samples.
func samplePitch(in, out int) float64 {
	if out <= 1 {
		return 1
	}
	return float64(in-1) / float64(out-1)
}

// resampleAxis interpolates every line running along axis to n samples.
func (r *Resampler) resampleAxis(vol *models.Volume, axis, n int) *models.Volume {
	shape := vol.Shape
	outShape := shape
	outShape[axis] = n
	out := models.NewVolume(outShape, vol.Affine)

	in := shape[axis]
	strideIn := stride(shape, axis)
	strideOut := stride(outShape, axis)

	// Lines are enumerated by the two remaining axes.
	a, b := otherAxes(axis)
	lines := shape[a] * shape[b]

	pitch := samplePitch(in, n)
	coords := make([]float64, n)
	for o := range coords {
		coords[o] = math.Min(float64(o)*pitch, float64(in-1))
	}

	parallelFor(lines, r.workers, func(start, end int) {
		xs := make([]float64, in)
		for i := range xs {
			xs[i] = float64(i)
		}
		ys := make([]float64, in)
		predictor := newPredictor(r.method, in)

		var idx [3]int
		for line := start; line < end; line++ {
			idx[a] = line % shape[a]
			idx[b] = line / shape[a]
			idx[axis] = 0
			baseIn := vol.Index(idx[0], idx[1], idx[2])
			baseOut := out.Index(idx[0], idx[1], idx[2])

			for i := 0; i < in; i++ {
				ys[i] = vol.Data[baseIn+i*strideIn]
			}

			if predictor == nil {
				for o := 0; o < n; o++ {
					out.Data[baseOut+o*strideOut] = ys[0]
				}
				continue
			}
			if err := predictor.Fit(xs, ys); err != nil {
				// xs is strictly increasing and has at least two samples.
				panic(fmt.Sprintf("interpolation: fit failed: %v", err))
			}
			for o, x := range coords {
				out.Data[baseOut+o*strideOut] = predictor.Predict(x)
			}
		}
	})

	return out
}

// newPredictor returns the interpolant for a line of n samples, or nil when
// the line is a single sample and every output takes its value.
func newPredictor(method Method, n int) interp.FittablePredictor {
	switch {
	case n < 2:
		return nil
	case method == Linear || n < 3:
		return &interp.PiecewiseLinear{}
	default:
		return &interp.NaturalCubic{}
	}
}

// stride is the distance in Data between neighbours along axis.
func stride(shape models.Shape, axis int) int {
	s := 1
	for i := 0; i < axis; i++ {
		s *= shape[i]
	}
	return s
}

func otherAxes(axis int) (int, int) {
	switch axis {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

// parallelFor splits [0, n) into one contiguous chunk per worker.
func parallelFor(n, workers int, fn func(start, end int)) {
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

package preprocess

import (
	"fmt"

	"github.com/rs/zerolog"

	"ctroiprep/internal/logging"
	"ctroiprep/internal/models"
	"ctroiprep/pkg/geometry"
	"ctroiprep/pkg/interpolation"
	"ctroiprep/pkg/roi"
)

// Params holds the per-run preprocessing parameters.
type Params struct {
	// Spec declares how the ROI planes and the body silhouette are derived
	// from the label masks.
	Spec *roi.Spec

	// TargetShape is the shape of every canonical output volume.
	TargetShape models.Shape

	// MinHU and MaxHU bound the intensity window. MinHU doubles as the
	// value written outside the body.
	MinHU float64
	MaxHU float64

	// AffineTolerance decides when a mask and the scan share a voxel grid.
	AffineTolerance float64

	// BodyThreshold binarizes a body mask after it has been resampled into
	// the scan's grid.
	BodyThreshold float64

	// Method is the interpolant used by the resampler.
	Method interpolation.Method

	// Workers bounds the goroutines a single case may use inside a stage.
	Workers int

	// Logger receives per-stage debug records.
	Logger zerolog.Logger
}

// Case is the input of one pipeline run.
type Case struct {
	// Name identifies the case in logs and error reports.
	Name string

	// Volume is the scan the output is cut from.
	Volume *models.Volume

	// Masks holds the label masks keyed by label name. Each mask carries its
	// own affine, which may differ from the scan's.
	Masks map[string]*models.Volume
}

// Result is the outcome of one successful pipeline run.
type Result struct {
	// Volume is the canonical output: TargetShape samples in [0, 1] on a
	// centered unit grid.
	Volume *models.Volume

	// MaskBounds are the resolved planes in the masks' own grid.
	MaskBounds roi.Bounds

	// CropBounds are the planes used to crop the scan, in the scan's grid.
	CropBounds roi.Bounds

	// Stats summarizes the output intensities.
	Stats Stats
}

// Pipeline runs the preprocessing stages for one case at a time. It holds no
// per-case state, so one Pipeline may serve many goroutines.
type Pipeline struct {
	params    Params
	resampler *interpolation.Resampler
	log       zerolog.Logger
}

// NewPipeline validates params and creates a pipeline.
func NewPipeline(params Params) (*Pipeline, error) {
	if params.Spec == nil {
		return nil, fmt.Errorf("ROI spec is required")
	}
	if err := params.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ROI spec: %w", err)
	}
	if !params.TargetShape.Valid() {
		return nil, fmt.Errorf("%w: target shape %s", interpolation.ErrDegenerateResample, params.TargetShape)
	}
	if !(params.MinHU < params.MaxHU) {
		return nil, fmt.Errorf("%w: [%g, %g]", ErrInvalidRange, params.MinHU, params.MaxHU)
	}
	if params.AffineTolerance < 0 {
		return nil, fmt.Errorf("affine tolerance must be non-negative, got %g", params.AffineTolerance)
	}
	if params.BodyThreshold <= 0 {
		params.BodyThreshold = 0.5
	}

	return &Pipeline{
		params:    params,
		resampler: interpolation.NewResampler(params.Method, params.Workers),
		log:       logging.For(params.Logger, logging.ComponentPipeline),
	}, nil
}

// Process runs every stage on c, strictly in order:
//  1. bounding boxes of the referenced labels
//  2. the six ROI planes in mask space
//  3. mapping of the planes into the scan's grid
//  4. blanking of everything outside the dilated body mask
//  5. cropping
//  6. resampling to the target shape
//  7. intensity normalization
//  8. re-anchoring of the output frame
//
// Any precondition violation aborts the case with an error; nothing is
// replaced with a default.
func (p *Pipeline) Process(c *Case) (*Result, error) {
	log := p.log.With().Str("case", c.Name).Logger()
	spec := p.params.Spec

	if c.Volume == nil {
		return nil, fmt.Errorf("case %q has no scan", c.Name)
	}

	log.Debug().Msg("Step 1: computing bounding boxes")
	boxes, err := roi.ComputeBoxes(c.Masks, spec, p.params.AffineTolerance)
	if err != nil {
		return nil, fmt.Errorf("failed to compute bounding boxes: %w", err)
	}

	log.Debug().Msg("Step 2: resolving ROI planes")
	maskBounds, err := roi.Resolve(boxes, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ROI bounds: %w", err)
	}
	log.Debug().Stringer("bounds", maskBounds).Msg("ROI planes in mask space")

	log.Debug().Msg("Step 3: mapping planes into the scan grid")
	cropBounds, err := p.mapBounds(c, maskBounds)
	if err != nil {
		return nil, fmt.Errorf("failed to map ROI bounds: %w", err)
	}
	log.Debug().Stringer("bounds", cropBounds).Msg("ROI planes in scan space")

	log.Debug().Msg("Step 4: removing everything outside the body")
	body, err := p.bodyMask(c)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare body mask: %w", err)
	}
	dilated := Dilate(body, spec.Outside.Padding)
	scan, err := ExcludeOutside(c.Volume, dilated, p.params.MinHU)
	if err != nil {
		return nil, fmt.Errorf("failed to exclude outside of body: %w", err)
	}

	log.Debug().Msg("Step 5: cropping")
	cropped, err := Crop(scan, cropBounds)
	if err != nil {
		return nil, fmt.Errorf("failed to crop scan: %w", err)
	}

	log.Debug().
		Stringer("from", cropped.Shape).
		Stringer("to", p.params.TargetShape).
		Floats64("zoom", scaleSlice(interpolation.ScaleFactors(cropped.Shape, p.params.TargetShape))).
		Msg("Step 6: resampling")
	resampled, err := p.resampler.Resample(cropped, p.params.TargetShape)
	if err != nil {
		return nil, fmt.Errorf("failed to resample: %w", err)
	}

	log.Debug().Msg("Step 7: normalizing intensities")
	normalized, err := Normalize(resampled, p.params.MinHU, p.params.MaxHU)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize: %w", err)
	}

	log.Debug().Msg("Step 8: re-anchoring output frame")
	Reanchor(normalized)

	return &Result{
		Volume:     normalized,
		MaskBounds: maskBounds,
		CropBounds: cropBounds,
		Stats:      ComputeStats(normalized),
	}, nil
}

// Reanchor replaces the volume's affine with the canonical centered unit grid.
func Reanchor(vol *models.Volume) {
	vol.Affine = geometry.Centered(vol.Shape)
}

// sameGrid reports whether a mask can be indexed with the scan's indices.
func (p *Pipeline) sameGrid(mask, scan *models.Volume) bool {
	return mask.Affine.Equal(scan.Affine, p.params.AffineTolerance)
}

// mapBounds converts each plane from its own mask's grid into the scan's
// grid. Padding has already been applied in mask space. A flipped axis can
// swap the order of a min/max pair; the pair is then put back in order.
func (p *Pipeline) mapBounds(c *Case, b roi.Bounds) (roi.Bounds, error) {
	var out roi.Bounds
	mappers := make(map[string]*geometry.Mapper)
	points := b.PlanePoints()

	for _, plane := range roi.Planes {
		label := p.params.Spec.Rule(plane).Label
		mask := c.Masks[label]
		if mask == nil {
			return out, fmt.Errorf("%w: no mask for %q", roi.ErrMissingLabel, label)
		}
		if p.sameGrid(mask, c.Volume) {
			out[plane] = b[plane]
			continue
		}

		m, ok := mappers[label]
		if !ok {
			var err error
			m, err = geometry.NewMapper(mask.Affine, c.Volume.Affine)
			if err != nil {
				return out, err
			}
			mappers[label] = m
		}
		mapped, err := m.MapPlanes(points[plane : plane+1])
		if err != nil {
			return out, err
		}
		out[plane] = mapped[0]
	}

	for axis := 0; axis < 3; axis++ {
		lo, hi := roi.Plane(2*axis), roi.Plane(2*axis+1)
		if out[lo] > out[hi] {
			out[lo], out[hi] = out[hi], out[lo]
		}
	}
	return out, nil
}

// bodyMask returns the outside rule's mask on the scan's grid. A mask from
// another grid is resampled and thresholded at BodyThreshold.
func (p *Pipeline) bodyMask(c *Case) (*models.Volume, error) {
	label := p.params.Spec.Outside.Label
	mask := c.Masks[label]
	if mask == nil {
		return nil, fmt.Errorf("%w: no mask for %q", roi.ErrMissingLabel, label)
	}

	body := mask
	if !p.sameGrid(mask, c.Volume) || mask.Shape != c.Volume.Shape {
		p.log.Debug().Str("case", c.Name).Str("label", label).Msg("resampling body mask into scan grid")
		resampled, err := p.resampler.ResampleToSpace(mask, c.Volume.Shape, c.Volume.Affine)
		if err != nil {
			return nil, err
		}
		body = Binarize(resampled, p.params.BodyThreshold)
	}

	for _, v := range body.Data {
		if v != 0 {
			return body, nil
		}
	}
	return nil, fmt.Errorf("label %q: %w", label, roi.ErrEmptyMask)
}

func scaleSlice(f [3]float64) []float64 {
	return f[:]
}

package preprocess

import (
	"errors"
	"fmt"
	"math"

	"ctroiprep/internal/models"
)

// ErrInvalidRange is returned when an intensity window has min >= max.
var ErrInvalidRange = errors.New("invalid intensity range")

// NormalizeValue clips v to [lo, hi] and rescales it to [0, 1].
// NaN samples are treated as lo.
func NormalizeValue(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v) || v <= lo:
		return 0
	case v >= hi:
		return 1
	default:
		return (v - lo) / (hi - lo)
	}
}

// Normalize returns a copy of vol with every sample clipped to [minHU, maxHU]
// and linearly rescaled to [0, 1].
func Normalize(vol *models.Volume, minHU, maxHU float64) (*models.Volume, error) {
	if !(minHU < maxHU) {
		return nil, fmt.Errorf("%w: [%g, %g]", ErrInvalidRange, minHU, maxHU)
	}

	out := models.NewVolume(vol.Shape, vol.Affine)
	for i, v := range vol.Data {
		out.Data[i] = NormalizeValue(v, minHU, maxHU)
	}
	return out, nil
}

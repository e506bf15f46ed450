package preprocess

import (
	"errors"

	"ctroiprep/pkg/geometry"
	"ctroiprep/pkg/interpolation"
	"ctroiprep/pkg/roi"
)

// Error kinds reported for a failed case.
const (
	KindEmptyMask          = "EmptyMaskError"
	KindMissingLabel       = "MissingLabelError"
	KindSingularAffine     = "SingularAffineError"
	KindOutOfBoundsCrop    = "OutOfBoundsCropError"
	KindDegenerateResample = "DegenerateResampleError"
	KindOther              = "Error"
)

// ErrorKind classifies err into one of the pipeline's failure kinds.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, roi.ErrEmptyMask):
		return KindEmptyMask
	case errors.Is(err, roi.ErrMissingLabel):
		return KindMissingLabel
	case errors.Is(err, geometry.ErrSingularAffine):
		return KindSingularAffine
	case errors.Is(err, ErrOutOfBoundsCrop):
		return KindOutOfBoundsCrop
	case errors.Is(err, interpolation.ErrDegenerateResample):
		return KindDegenerateResample
	default:
		return KindOther
	}
}

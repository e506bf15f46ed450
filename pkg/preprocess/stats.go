package preprocess

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctroiprep/internal/models"
)

// Stats summarizes the intensities of a canonical output volume
type Stats struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64

	// AirFraction is the share of voxels at the bottom of the window,
	// i.e. air or blanked outside-body voxels
	AirFraction float64
}

// ComputeStats summarizes vol. An empty volume yields zero stats.
func ComputeStats(vol *models.Volume) Stats {
	if len(vol.Data) == 0 {
		return Stats{}
	}

	mean, std := stat.MeanStdDev(vol.Data, nil)
	air := 0
	for _, v := range vol.Data {
		if v == 0 {
			air++
		}
	}
	return Stats{
		Mean:        mean,
		StdDev:      std,
		Min:         floats.Min(vol.Data),
		Max:         floats.Max(vol.Data),
		AirFraction: float64(air) / float64(len(vol.Data)),
	}
}

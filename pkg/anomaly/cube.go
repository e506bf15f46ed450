// Package anomaly injects synthetic abnormalities into preprocessed volumes
// to build evaluation sets with a known ground truth.
package anomaly

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"ctroiprep/internal/models"
	"ctroiprep/pkg/nifti"
)

// DefaultValue is written into injected cubes. Preprocessed volumes are
// normalized, so 1 is the brightest possible intensity.
const DefaultValue = 1.0

// ErrCubeTooLarge means the cube cannot be placed in the middle half of an axis.
var ErrCubeTooLarge = errors.New("cube does not fit in the central region")

// InjectCube paints a size^3 cube of value into vol. The cube's lower corner
// is drawn uniformly from [n/4, 3n/4-size) on every axis, which keeps the
// anomaly well inside the region of interest. It returns the corner.
func InjectCube(vol *models.Volume, size int, value float64, rng *rand.Rand) ([3]int, error) {
	var corner [3]int
	if size <= 0 {
		return corner, fmt.Errorf("cube size must be positive, got %d", size)
	}
	for axis, n := range vol.Shape {
		first, end := n/4, 3*n/4-size
		if end <= first {
			return corner, fmt.Errorf("%w: size %d on axis %d of length %d", ErrCubeTooLarge, size, axis, n)
		}
		corner[axis] = first + rng.Intn(end-first)
	}

	vol.Fill(corner, [3]int{corner[0] + size, corner[1] + size, corner[2] + size}, value)
	return corner, nil
}

// OutputName names the anomalous copy of a preprocessed scan: the case name
// (everything before the first underscore) plus the cube size.
func OutputName(scanFile string, size int) string {
	base := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(scanFile), ".gz"), ".nii")
	caseName, _, _ := strings.Cut(base, "_")
	return fmt.Sprintf("%s_ANOMALY_CUBE%d.nii.gz", caseName, size)
}

// Generator writes anomalous copies of randomly chosen preprocessed scans.
type Generator struct {
	Sizes  []int
	Value  float64
	Rand   *rand.Rand
	Logger zerolog.Logger
}

// Generate picks count scans from inputDir and writes one copy per cube size
// into outputDir. It returns the written paths.
func (g *Generator) Generate(inputDir, outputDir string, count int) ([]string, error) {
	if count < 0 {
		return nil, fmt.Errorf("scan count must be non-negative, got %d", count)
	}
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	scans := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		name := e.Name()
		return name, !e.IsDir() && !strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".nii.gz")
	})
	sort.Strings(scans)

	if count > len(scans) {
		return nil, fmt.Errorf("requested %d scans but only %d are available in %s", count, len(scans), inputDir)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	for _, idx := range g.Rand.Perm(len(scans))[:count] {
		src := filepath.Join(inputDir, scans[idx])
		vol, err := nifti.Read(src)
		if err != nil {
			return written, err
		}

		for _, size := range g.Sizes {
			out := vol.Clone()
			corner, err := InjectCube(out, size, g.Value, g.Rand)
			if err != nil {
				return written, fmt.Errorf("%s: %w", scans[idx], err)
			}

			dst := filepath.Join(outputDir, OutputName(scans[idx], size))
			if err := nifti.Write(dst, out); err != nil {
				return written, err
			}
			g.Logger.Info().
				Str("scan", scans[idx]).
				Int("size", size).
				Ints("corner", corner[:]).
				Str("output", dst).
				Msg("Injected cube anomaly")
			written = append(written, dst)
		}
	}
	return written, nil
}

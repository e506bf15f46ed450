// Package batch discovers cases on disk and runs the per-case pipeline over
// them on a bounded worker pool.
package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/lo"
)

// Layout describes where the files of one case live.
//
//	<data>/<case>/<ScanFile>
//	<data>/<case>/<SegmentationDir>/<label><MaskExt>
//	<output>/<case><OutputSuffix>
type Layout struct {
	// ScanFile is the scan's file name inside the case directory
	ScanFile string `yaml:"scanFile"`

	// SegmentationDir holds one mask file per label
	SegmentationDir string `yaml:"segmentationDir"`

	// MaskExt is appended to a label name to get its mask file name
	MaskExt string `yaml:"maskExt"`

	// OutputSuffix is appended to the case name to get the output file name
	OutputSuffix string `yaml:"outputSuffix"`
}

// DefaultLayout returns the layout produced by the segmentation step.
func DefaultLayout() Layout {
	return Layout{
		ScanFile:        "ct_scan.nii.gz",
		SegmentationDir: "segmentation",
		MaskExt:         ".nii.gz",
		OutputSuffix:    "_preprocessed.nii.gz",
	}
}

// Validate checks that every file name component is set.
func (l Layout) Validate() error {
	switch {
	case l.ScanFile == "":
		return fmt.Errorf("layout: scan file name is required")
	case l.SegmentationDir == "":
		return fmt.Errorf("layout: segmentation directory is required")
	case l.MaskExt == "":
		return fmt.Errorf("layout: mask extension is required")
	case l.OutputSuffix == "":
		return fmt.Errorf("layout: output suffix is required")
	}
	return nil
}

// ScanPath returns the scan file of the case in caseDir.
func (l Layout) ScanPath(caseDir string) string {
	return filepath.Join(caseDir, l.ScanFile)
}

// MaskPath returns the mask file of label for the case in caseDir.
func (l Layout) MaskPath(caseDir, label string) string {
	return filepath.Join(caseDir, l.SegmentationDir, label+l.MaskExt)
}

// OutputPath returns where the preprocessed scan of caseName is written.
func (l Layout) OutputPath(outputDir, caseName string) string {
	return filepath.Join(outputDir, caseName+l.OutputSuffix)
}

// Case is one case directory.
type Case struct {
	Name string
	Dir  string
}

// DiscoverCases lists every sub-directory of dataDir that holds a scan file,
// sorted by name. Directories without a scan are ignored.
func DiscoverCases(dataDir string, layout Layout) ([]Case, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}

	cases := lo.FilterMap(entries, func(e os.DirEntry, _ int) (Case, bool) {
		if !e.IsDir() {
			return Case{}, false
		}
		dir := filepath.Join(dataDir, e.Name())
		if _, err := os.Stat(layout.ScanPath(dir)); err != nil {
			return Case{}, false
		}
		return Case{Name: e.Name(), Dir: dir}, true
	})
	sort.Slice(cases, func(i, j int) bool { return cases[i].Name < cases[j].Name })
	return cases, nil
}

// CheckSegmentation returns the labels whose mask file is missing for the
// case in caseDir. An empty result means the case is ready to process.
func CheckSegmentation(caseDir string, layout Layout, labels []string) []string {
	return lo.Filter(labels, func(label string, _ int) bool {
		_, err := os.Stat(layout.MaskPath(caseDir, label))
		return err != nil
	})
}

// OutputExists reports whether the case already has a preprocessed output.
func OutputExists(outputDir string, layout Layout, c Case) bool {
	_, err := os.Stat(layout.OutputPath(outputDir, c.Name))
	return err == nil
}

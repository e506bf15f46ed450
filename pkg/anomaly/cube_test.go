package anomaly

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"ctroiprep/internal/models"
	"ctroiprep/pkg/geometry"
	"ctroiprep/pkg/nifti"
)

func TestInjectCubePlacement(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	shape := models.Shape{40, 32, 24}

	for trial := 0; trial < 50; trial++ {
		vol := models.NewVolume(shape, geometry.Identity())
		corner, err := InjectCube(vol, 5, DefaultValue, rng)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}

		for axis, n := range shape {
			if corner[axis] < n/4 || corner[axis] >= 3*n/4-5 {
				t.Fatalf("trial %d: corner %v outside the central region on axis %d", trial, corner, axis)
			}
		}

		count := 0
		for _, v := range vol.Data {
			if v == DefaultValue {
				count++
			}
		}
		if count != 125 {
			t.Fatalf("trial %d: expected 125 cube voxels, got %d", trial, count)
		}
		if vol.At(corner[0], corner[1], corner[2]) != DefaultValue || vol.At(corner[0]+4, corner[1]+4, corner[2]+4) != DefaultValue {
			t.Fatalf("trial %d: cube not anchored at %v", trial, corner)
		}
	}
}

func TestInjectCubeTooLarge(t *testing.T) {
	vol := models.NewVolume(models.Shape{16, 16, 16}, geometry.Identity())
	if _, err := InjectCube(vol, 8, 1, rand.New(rand.NewSource(1))); !errors.Is(err, ErrCubeTooLarge) {
		t.Errorf("Expected ErrCubeTooLarge, got %v", err)
	}
	if _, err := InjectCube(vol, 0, 1, rand.New(rand.NewSource(1))); err == nil {
		t.Error("Expected an error for a zero-size cube")
	}
}

func TestOutputName(t *testing.T) {
	tests := map[string]string{
		"case12_preprocessed.nii.gz":    "case12_ANOMALY_CUBE10.nii.gz",
		"/data/out/P3_preprocessed.nii": "P3_ANOMALY_CUBE10.nii.gz",
		"plain.nii.gz":                  "plain_ANOMALY_CUBE10.nii.gz",
	}
	for in, want := range tests {
		if got := OutputName(in, 10); got != want {
			t.Errorf("OutputName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerate(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "synthetic")
	for _, name := range []string{"a_preprocessed.nii.gz", "b_preprocessed.nii.gz", "c_preprocessed.nii.gz"} {
		vol := models.NewVolume(models.Shape{24, 24, 24}, geometry.Centered([3]int{24, 24, 24}))
		if err := nifti.Write(filepath.Join(in, name), vol); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(in, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	g := &Generator{
		Sizes:  []int{3, 5},
		Value:  DefaultValue,
		Rand:   rand.New(rand.NewSource(7)),
		Logger: zerolog.Nop(),
	}
	written, err := g.Generate(in, out, 2)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(written) != 4 {
		t.Fatalf("Expected 4 files, got %d: %v", len(written), written)
	}

	vol, err := nifti.Read(written[1])
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, v := range vol.Data {
		if v == DefaultValue {
			count++
		}
	}
	if count != 125 {
		t.Errorf("Expected a 5^3 cube in %s, got %d voxels", written[1], count)
	}

	if _, err := g.Generate(in, out, 4); err == nil {
		t.Error("Expected an error when asking for more scans than available")
	}
	if _, err := g.Generate(in, out, -1); err == nil {
		t.Error("Expected an error for a negative scan count")
	}
}

func TestGenerateIgnoresHiddenFiles(t *testing.T) {
	in := t.TempDir()
	// Leftover of an interrupted atomic write.
	vol := models.NewVolume(models.Shape{24, 24, 24}, geometry.Identity())
	if err := nifti.Write(filepath.Join(in, ".a_preprocessed.nii.gz"), vol); err != nil {
		t.Fatal(err)
	}

	g := &Generator{Sizes: []int{3}, Value: DefaultValue, Rand: rand.New(rand.NewSource(1)), Logger: zerolog.Nop()}
	written, err := g.Generate(in, t.TempDir(), 1)
	if err == nil {
		t.Errorf("Hidden files must not count as scans, wrote %v", written)
	}
}

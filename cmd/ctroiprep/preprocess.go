package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"ctroiprep/internal/logging"
	"ctroiprep/internal/models"
	"ctroiprep/pkg/batch"
	"ctroiprep/pkg/config"
	"ctroiprep/pkg/interpolation"
	"ctroiprep/pkg/nifti"
	"ctroiprep/pkg/preprocess"
	"ctroiprep/pkg/roi"
)

// runPreprocess processes every case under dataDir.
func runPreprocess(ctx context.Context, cfg *config.Config, dataDir string, logger zerolog.Logger) error {
	method, err := interpolation.ParseMethod(cfg.Processing.Method)
	if err != nil {
		return err
	}
	pipeline, err := preprocess.NewPipeline(preprocess.Params{
		Spec:            &cfg.ROI,
		TargetShape:     models.Shape(cfg.TargetShape),
		MinHU:           cfg.Intensity.MinHU,
		MaxHU:           cfg.Intensity.MaxHU,
		AffineTolerance: cfg.Processing.AffineTolerance,
		BodyThreshold:   cfg.Processing.BodyThreshold,
		Method:          method,
		Workers:         cfg.Processing.NumCores,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	cases, err := batch.DiscoverCases(dataDir, cfg.Layout)
	if err != nil {
		return err
	}

	runID := batch.NewRunID()
	log := logging.For(logger, logging.ComponentBatch).With().Str("run_id", runID).Logger()

	var errorLog *batch.ErrorLog
	if cfg.Output.ErrorLog != "" {
		errorLog, err = batch.OpenErrorLog(filepath.Join(cfg.Output.Dir, cfg.Output.ErrorLog), runID)
		if err != nil {
			return err
		}
		defer errorLog.Close()
	}

	labels := cfg.ROI.Labels()
	runner := &batch.Runner{
		Workers: cfg.Processing.CaseWorkers,
		Process: func(_ context.Context, c batch.Case) error {
			output := cfg.Layout.OutputPath(cfg.Output.Dir, c.Name)
			if !cfg.Output.Overwrite && batch.OutputExists(cfg.Output.Dir, cfg.Layout, c) {
				return batch.ErrSkipped
			}

			input, err := loadCase(c, cfg.Layout, labels)
			if err != nil {
				return err
			}
			res, err := pipeline.Process(input)
			if err != nil {
				return err
			}
			if err := writeAtomic(output, res.Volume); err != nil {
				return err
			}

			log.Debug().
				Str("case", c.Name).
				Stringer("crop", res.CropBounds).
				Float64("mean", res.Stats.Mean).
				Float64("air", res.Stats.AirFraction).
				Msg("Output written")
			return nil
		},
		OnProgress: func(completed, total int, r batch.CaseResult) {
			ev := log.Info()
			switch r.Status {
			case batch.StatusFailed:
				kind := preprocess.ErrorKind(r.Err)
				ev = log.Error().Err(r.Err).Str("kind", kind)
				if errorLog != nil {
					errorLog.Record(r.Case, kind, r.Err)
				}
			case batch.StatusCanceled:
				ev = log.Warn()
			}
			ev.Str("case", r.Case.Name).
				Str("status", string(r.Status)).
				Dur("took", r.Duration).
				Msgf("[%d/%d]", completed, total)
		},
	}

	log.Info().Int("cases", len(cases)).Int("workers", runner.Workers).Msg("Starting preprocessing")
	results := runner.Run(ctx, cases)

	s := batch.Summarize(results)
	log.Info().
		Int("done", s.Done).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Int("canceled", s.Canceled).
		Msg("Preprocessing complete")
	if s.Canceled > 0 {
		return ctx.Err()
	}
	return nil
}

// loadCase reads the scan and every mask the ROI spec refers to.
func loadCase(c batch.Case, layout batch.Layout, labels []string) (*preprocess.Case, error) {
	scan, err := nifti.Read(layout.ScanPath(c.Dir))
	if err != nil {
		return nil, err
	}

	masks := make(map[string]*models.Volume, len(labels))
	for _, label := range labels {
		mask, err := nifti.Read(layout.MaskPath(c.Dir, label))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", roi.ErrMissingLabel, err)
		}
		if err != nil {
			return nil, err
		}
		masks[label] = mask
	}
	return &preprocess.Case{Name: c.Name, Volume: scan, Masks: masks}, nil
}

// writeAtomic writes vol to a hidden temporary file next to path and renames
// it into place, so an interrupted write never looks like a finished case.
func writeAtomic(path string, vol *models.Volume) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary output: %w", err)
	}
	tmp := f.Name()

	err = f.Chmod(0o644)
	if err == nil && strings.HasSuffix(path, ".gz") {
		err = nifti.EncodeGzip(f, vol)
	} else if err == nil {
		err = nifti.Encode(f, vol)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ctroiprep/internal/logging"
	"ctroiprep/pkg/anomaly"
	"ctroiprep/pkg/batch"
	"ctroiprep/pkg/config"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "YAML configuration file (defaults are used if it does not exist)")
	dataDir := flag.String("data", "", "Directory holding one sub-directory per case")
	outputDir := flag.String("output", "", "Directory for preprocessed volumes (overrides the config)")
	workers := flag.Int("workers", 0, "Number of cases processed at once (overrides the config)")
	overwrite := flag.Bool("overwrite", false, "Reprocess cases whose output already exists")
	check := flag.Bool("check", false, "Only report cases with missing segmentation masks")
	initConfig := flag.String("init-config", "", "Write a default configuration file to this path and exit")
	anomalies := flag.Bool("anomalies", false, "Inject synthetic cube anomalies into preprocessed volumes")
	anomalySizes := flag.String("anomaly-sizes", "", "Comma-separated cube sizes (overrides the config)")
	anomalyCount := flag.Int("anomaly-count", 0, "Number of scans that receive anomalies (overrides the config)")
	seed := flag.Int64("seed", 0, "Random seed for anomaly placement (0 uses the clock)")
	verbose := flag.Bool("verbose", false, "Log every pipeline stage")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags that were set explicitly win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Output.Dir = *outputDir
		case "workers":
			cfg.Processing.CaseWorkers = *workers
		case "overwrite":
			cfg.Output.Overwrite = *overwrite
		case "verbose":
			cfg.Output.Verbose = *verbose
		case "anomaly-count":
			cfg.Anomaly.Count = *anomalyCount
		}
	})
	if *anomalySizes != "" {
		sizes, err := parseSizes(*anomalySizes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -anomaly-sizes: %v\n", err)
			os.Exit(1)
		}
		cfg.Anomaly.Sizes = sizes
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewConsole(logging.Level(cfg.Output.Verbose))
	log := logging.For(logger, logging.ComponentCLI)

	if !*anomalies && *dataDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(cfg, *dataDir, *check, *anomalies, *seed, logger); err != nil {
		log.Error().Err(err).Msg("Run failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, dataDir string, check, anomalies bool, seed int64, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case anomalies:
		return runAnomalies(cfg, seed, logger)
	case check:
		return runCheck(cfg, dataDir, logging.For(logger, logging.ComponentCLI))
	default:
		return runPreprocess(ctx, cfg, dataDir, logger)
	}
}

func parseSizes(s string) ([]int, error) {
	var sizes []int
	for _, field := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("size must be positive, got %d", n)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

// runCheck lists every case whose segmentation is incomplete.
func runCheck(cfg *config.Config, dataDir string, log zerolog.Logger) error {
	cases, err := batch.DiscoverCases(dataDir, cfg.Layout)
	if err != nil {
		return err
	}

	labels := cfg.ROI.Labels()
	incomplete := 0
	for _, c := range cases {
		missing := batch.CheckSegmentation(c.Dir, cfg.Layout, labels)
		if len(missing) == 0 {
			continue
		}
		incomplete++
		log.Warn().Str("case", c.Name).Strs("missing", missing).Msg("Segmentation incomplete")
	}

	log.Info().
		Int("cases", len(cases)).
		Int("incomplete", incomplete).
		Strs("tasks", cfg.ROI.RequiredTasks()).
		Msg("Segmentation check complete")
	return nil
}

// runAnomalies writes anomalous copies of preprocessed volumes.
func runAnomalies(cfg *config.Config, seed int64, logger zerolog.Logger) error {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &anomaly.Generator{
		Sizes:  cfg.Anomaly.Sizes,
		Value:  cfg.Anomaly.Value,
		Rand:   rand.New(rand.NewSource(seed)),
		Logger: logging.For(logger, logging.ComponentCLI),
	}
	written, err := g.Generate(cfg.Output.Dir, cfg.Anomaly.OutputDir, cfg.Anomaly.Count)
	if err != nil {
		return fmt.Errorf("failed to generate anomalies: %w", err)
	}
	logger.Info().Int("files", len(written)).Int64("seed", seed).Msg("Synthetic anomalies generated")
	return nil
}

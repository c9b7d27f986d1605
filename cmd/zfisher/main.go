package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"zfisher/internal/models"
	"zfisher/pkg/config"
	"zfisher/pkg/detection"
	"zfisher/pkg/export"
	"zfisher/pkg/loader"
	"zfisher/pkg/logger"
	"zfisher/pkg/segmentation"
	"zfisher/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Channel directory of Z-plane images, or a session root with one directory per channel")
	channel := flag.String("channel", "", "Channel to detect nuclei on (default from config, DAPI)")
	configPath := flag.String("config", "", "YAML configuration file")
	initConfig := flag.String("init-config", "", "Write a default configuration file to this path and exit")
	zStride := flag.Int("z-stride", 0, "Keep every n-th Z plane before inference")
	xyScale := flag.Float64("xy-scale", 0, "In-plane downsampling factor in (0, 1]")
	outputCSV := flag.String("output", "", "Centroid CSV file (default <output dir>/<channel>_centroids.csv)")
	outputJSON := flag.String("json", "", "Optional JSON file with the full detection result")
	outputPlot := flag.String("plot", "", "Optional PNG scatter plot of the centroids")
	outputPreview := flag.String("preview", "", "Max-projection preview with centroid markers (default <output dir>/<channel>_preview.png)")
	segmenterURL := flag.String("segmenter-url", "", "Base URL of the model server")
	backend := flag.String("backend", "", "Segmentation backend: auto, remote or threshold")
	slicesDir := flag.String("slices-dir", "", "Optional directory to save the channel's slices along all axes")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(exitFailure)
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return
	}

	// Validate inputs
	if *inputDir == "" {
		flag.Usage()
		os.Exit(exitConfiguration)
	}

	// Flags override the configuration file
	cfg, err := resolveConfig(*configPath, func(cfg *config.Config) {
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "channel":
				cfg.Input.Channel = *channel
			case "z-stride":
				cfg.Detection.ZStride = *zStride
			case "xy-scale":
				cfg.Detection.XYScale = *xyScale
			case "segmenter-url":
				cfg.Segmentation.Endpoint = *segmenterURL
			case "backend":
				cfg.Segmentation.Backend = *backend
			case "verbose":
				cfg.Output.Verbose = *verbose
			}
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}

	log := logger.New(cfg.Output.Verbose)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paths := outputPaths{
		csv:     *outputCSV,
		json:    *outputJSON,
		plot:    *outputPlot,
		preview: *outputPreview,
		slices:  *slicesDir,
	}
	if err := run(ctx, cfg, *inputDir, paths, log); err != nil {
		log.Error("detection failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// errConfiguration marks a configuration file or flag value that cannot be used
var errConfiguration = errors.New("invalid configuration")

// resolveConfig loads the configuration file, if any, applies the flag
// overrides and validates the result
func resolveConfig(path string, override func(*config.Config)) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errConfiguration, err)
		}
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errConfiguration, err)
	}
	return cfg, nil
}

type outputPaths struct {
	csv, json, plot, preview, slices string
}

func run(ctx context.Context, cfg *config.Config, inputDir string, paths outputPaths, log *zap.Logger) error {
	voxel := models.VoxelSize{
		Z: cfg.Input.VoxelSize.Z,
		Y: cfg.Input.VoxelSize.Y,
		X: cfg.Input.VoxelSize.X,
	}
	session, err := loader.New(log).LoadSession(inputDir, voxel)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", inputDir, err)
	}

	channel := cfg.Input.Channel
	if len(session.Channels) == 1 {
		channel = session.Channels[0]
	}
	vol, err := session.Channel(channel)
	if err != nil {
		return err
	}

	selection, err := segmentation.Select(ctx, cfg, log)
	if err != nil {
		return err
	}

	pipeline := detection.NewPipeline(selection.Segmenter, detection.Options{
		Diameter:         cfg.Segmentation.Diameter,
		Do3D:             cfg.Segmentation.Do3D,
		StitchThreshold:  cfg.Segmentation.StitchThreshold,
		BatchSize:        cfg.Segmentation.BatchSize,
		UseGPU:           selection.UseGPU,
		MaxReducedVoxels: cfg.Detection.MaxReducedVoxels,
	}, log)

	plan := detection.Plan{ZStride: cfg.Detection.ZStride, XYScale: cfg.Detection.XYScale}

	startTime := time.Now()
	result, err := pipeline.Detect(ctx, vol, plan)
	if err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	if paths.csv == "" {
		paths.csv = filepath.Join(cfg.Output.Dir, channel+"_centroids.csv")
	}
	if err := export.SaveCSV(paths.csv, result); err != nil {
		return fmt.Errorf("failed to write centroids: %w", err)
	}
	if paths.json != "" {
		if err := export.SaveJSON(paths.json, result); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	if paths.plot != "" {
		if err := export.PlotCentroids(result, paths.plot); err != nil {
			return fmt.Errorf("failed to plot centroids: %w", err)
		}
	}
	if paths.preview == "" && cfg.Output.SavePreview {
		paths.preview = filepath.Join(cfg.Output.Dir, channel+"_preview.png")
	}
	viewer := visualization.NewViewer(vol)
	if paths.preview != "" {
		img := viewer.RenderCentroids(result.Centroids, visualization.ChannelColor(channel))
		if err := visualization.SavePreview(img, paths.preview, cfg.Output.PreviewMaxDim); err != nil {
			log.Warn("failed to save preview", zap.String("path", paths.preview), zap.Error(err))
		}
	}

	if paths.slices != "" {
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(paths.slices, axis)
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Warn("failed to save slices", zap.String("axis", axis), zap.Error(err))
			}
		}
	}

	fmt.Printf("Channel:        %s\n", channel)
	fmt.Printf("Backend:        %s (gpu=%t)\n", result.Backend, selection.UseGPU)
	fmt.Printf("Volume shape:   %s\n", result.Shape)
	fmt.Printf("Reduced shape:  %s\n", result.ReducedShape)
	fmt.Printf("Nuclei found:   %d\n", len(result.Centroids))
	fmt.Printf("Detection time: %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Centroids:      %s\n", paths.csv)

	return nil
}

// Process exit codes
const (
	exitFailure       = 1
	exitConfiguration = 2
	exitResources     = 3
)

// exitCode distinguishes configuration problems from runtime failures
func exitCode(err error) int {
	switch {
	case errors.Is(err, errConfiguration), errors.Is(err, detection.ErrConfiguration):
		return exitConfiguration
	case errors.Is(err, detection.ErrResourceExhausted):
		return exitResources
	default:
		return exitFailure
	}
}

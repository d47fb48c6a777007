package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"nwquant/internal/export"
	"nwquant/internal/imageio"
	"nwquant/internal/logger"
	"nwquant/pkg/config"
	"nwquant/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "nwquant.yaml", "Path to the YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	outputDir := flag.String("output", "", "Output directory (overrides output.dir)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (overrides processing.numCores)")
	verbose := flag.Bool("verbose", false, "Enable debug logging (overrides output.verbose)")
	logFormat := flag.String("log-format", "", "Log format, console or json (overrides output.logFormat)")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Command line flags win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Output.Dir = *outputDir
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "verbose":
			cfg.Output.Verbose = *verbose
		case "log-format":
			cfg.Output.LogFormat = *logFormat
		}
	})

	params, err := pipeline.ParamsFromConfig(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Println("================================")
	fmt.Println("NEUTRON RADIOGRAPHY WATER QUANTIFICATION")
	fmt.Println("================================")

	processor := pipeline.NewProcessor(params, pipeline.FileLoader{},
		logger.New(cfg.Output.LogFormat, cfg.Output.Verbose))

	startTime := time.Now()
	results, err := processor.Process()
	if err != nil {
		log.Fatalf("Processing failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nProcessing completed successfully in %.2f seconds!\n", processingTime.Seconds())
	printSummary(results)

	if cfg.Output.SaveImages {
		if err := saveImages(cfg.Output.Dir, results); err != nil {
			log.Fatalf("Failed to save images: %v", err)
		}
	}
	if cfg.Output.HDF5 != "" {
		path := filepath.Join(cfg.Output.Dir, cfg.Output.HDF5)
		if err := export.Write(path, results); err != nil {
			log.Fatalf("Failed to write HDF5 results: %v", err)
		}
		fmt.Printf("Results written to: %s\n", path)
	}
}

func printSummary(res *pipeline.Results) {
	if res.Attenuation != nil {
		lo, hi := valueRange(res.Attenuation.RawMatrix().Data)
		fmt.Printf("Sample attenuation range: %.4f .. %.4f\n", lo, hi)
	}

	if len(res.OpenBeamDots) > 0 {
		fmt.Printf("\nBlack-body correction:\n")
		fmt.Printf("=======================================\n")
		fmt.Printf("Dots located: %d\n", len(res.OpenBeamDots))
		worst := 0.0
		for _, r := range res.Residuals {
			worst = math.Max(worst, r.RMSE)
		}
		fmt.Printf("Largest dot RMSE of the open-beam scatter fit: %.4f\n", worst)
	}

	if res.Calibration != nil {
		line := res.Calibration
		fmt.Printf("\nStep-wedge calibration:\n")
		fmt.Printf("=======================================\n")
		for _, s := range res.Steps {
			fmt.Printf("- thickness %.3f: attenuation %.4f ± %.4f\n", s.Thickness, s.Mean, s.Std)
		}
		fmt.Printf("Attenuation coefficient (μ): %.4f ± %.4f\n", line.Slope, line.SlopeErr)
		if !line.ThroughOrigin {
			fmt.Printf("Intercept: %.4f ± %.4f\n", line.Intercept, line.InterceptErr)
		}
		fmt.Printf("R²: %.5f\n", line.RSquared)
	}

	if res.Front != nil {
		fit := res.Front.Fit
		fmt.Printf("\nFront tracking:\n")
		fmt.Printf("=======================================\n")
		fmt.Printf("Frames: %d, fitted range: %d..%d\n", len(res.Front.Positions), res.Front.Start, res.Front.End-1)
		fmt.Printf("Washburn k: %.5g ± %.2g\n", fit.K, fit.KStdErr)
		fmt.Printf("Residual variance: %.4g\n", fit.ResidualVariance)
	}
}

// saveImages writes every result image as a 16-bit TIFF preview under dir,
// one subdirectory per stage.
func saveImages(dir string, res *pipeline.Results) error {
	images := res.Images()
	if len(images) == 0 {
		return nil
	}
	fmt.Printf("\nImages saved to %s:\n", dir)
	for _, out := range images {
		path := filepath.Join(dir, out.Stage.String(), out.Name+".tif")
		lo, hi, err := imageio.SaveTIFF(path, out.Image, 0, 0)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		fmt.Printf("- %s (0..65535 maps %.4g..%.4g)\n", rel, lo, hi)
	}
	return nil
}

func valueRange(values []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(os.Stderr, "Runs the normalization, scatter correction, calibration and front\n")
		fmt.Fprintf(os.Stderr, "tracking stages described by the configuration file.\n\n")
		flag.PrintDefaults()
	}
}

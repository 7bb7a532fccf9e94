package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"flimfit/internal/logger"
	"flimfit/internal/models"
	"flimfit/pkg/chunky"
	"flimfit/pkg/config"
	"flimfit/pkg/decay"
	"flimfit/pkg/engine"
	"flimfit/pkg/excitation"
	"flimfit/pkg/fitmodel"
	"flimfit/pkg/preview"
)

// lifetimeParam is the solver index of the first lifetime for every shape
const lifetimeParam = 3

func main() {
	configPath := flag.String("config", "flimfit.yaml", "YAML configuration file")
	inputPath := flag.String("input", "", "FITS cube of decay histograms (x, y, bins[, channels])")
	excitationPath := flag.String("excitation", "", "Instrument response file (.irf, .ics, .fits); overrides the config")
	outputDir := flag.String("output", "", "Output directory; overrides the config")
	numCores := flag.Int("cores", 0, "Number of parallel fits (default: from config)")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *excitationPath != "" {
		cfg.Excitation.File = *excitationPath
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}

	log := newLogger(cfg)

	fmt.Println("================================")
	fmt.Println("FLUORESCENCE LIFETIME DECAY FITTING")
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = fitAndRemember(ctx, cfg, *configPath, *inputPath, log)
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Println("\nFit cancelled, no output written.")
		stop()
		os.Exit(1)
	case err != nil:
		log.Error().Err(err).Msg("fit failed")
		stop()
		os.Exit(1)
	}
}

// fitAndRemember runs the fit and, only when it produced output, saves the
// preferences it updated back to configPath.
func fitAndRemember(ctx context.Context, cfg *config.Config, configPath, inputPath string, log zerolog.Logger) error {
	if err := run(ctx, cfg, inputPath, log); err != nil {
		return err
	}
	if err := config.SaveConfig(cfg, configPath); err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("preferences not saved")
	}
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := logger.ParseLevel(cfg.Output.LogLevel)
	if !cfg.Output.Verbose && level < zerolog.WarnLevel {
		level = zerolog.WarnLevel
	}
	if cfg.Output.LogJSON {
		return logger.New(os.Stderr, level)
	}
	return logger.NewConsole(level)
}

func run(ctx context.Context, cfg *config.Config, inputPath string, log zerolog.Logger) error {
	ds, err := decay.LoadFITS(inputPath)
	if err != nil {
		return err
	}
	log.Info().
		Str("input", inputPath).
		Int("width", ds.Width()).
		Int("height", ds.Height()).
		Int("channels", ds.Channels()).
		Int("bins", ds.Bins()).
		Msg("decay data loaded")

	settings, err := cfg.FitSettings(ds.Bins())
	if err != nil {
		return err
	}
	if cfg.Excitation.File != "" {
		curve := loadExcitation(cfg, ds, &settings, logger.Component(log, "excitation"))
		if curve != nil {
			settings.Prompt = curve.Prompt(1)
			cfg.RememberExcitation(curve.Name)
		}
	}

	regions, err := cfg.ROIs()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if cfg.Output.MetricsAddr != "" {
		go serveMetrics(cfg.Output.MetricsAddr, reg, log)
	}

	colorizer := preview.NewColorizer(ds.Width(), ds.Height(),
		settings.OutputChannel(settings.Channel), lifetimeParam,
		cfg.Output.LifetimeMin, cfg.Output.LifetimeMax)

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMetrics(engine.NewMetrics(reg)),
		engine.WithSink(colorizer),
		engine.WithProgress(progressLogger(log)),
	}
	if !cfg.Processing.Chunky {
		opts = append(opts, engine.WithIterator(func(w, h int) chunky.Iterator {
			return chunky.NewRowMajor(w, h)
		}))
	}
	eng := engine.New(opts...)

	fmt.Printf("Fitting %v with %v (%v noise), region %v...\n",
		settings.Function, settings.Algorithm, settings.NoiseModel, settings.Region)
	startTime := time.Now()
	res, err := eng.Fit(ctx, ds, regions, settings)
	if err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nFit completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("- Fitted: %d\n", res.Stats.Fitted)
	fmt.Printf("- Failed: %d\n", res.Stats.Failed)
	if settings.Region == fitmodel.Each {
		fmt.Printf("- Below threshold or outside regions: %d\n", res.Stats.Skipped)
		fmt.Printf("- Batches: %d\n", res.Stats.Batches)
	} else {
		printUnits(res.Units, settings.Function)
	}

	return saveOutputs(cfg, res, settings, colorizer)
}

// loadExcitation reads the configured excitation and places its cursors.
// Read errors are logged and leave the fit without an instrument response.
func loadExcitation(cfg *config.Config, ds *decay.Dataset, s *models.FitSettings, log zerolog.Logger) *excitation.Curve {
	curve, err := excitation.Load(cfg.Excitation.File, s.TimeInc)
	if err != nil {
		log.Error().Err(err).Msg("no excitation curve produced")
		return nil
	}
	if curve.Bins() != ds.Bins() {
		log.Error().
			Int("excitation", curve.Bins()).
			Int("decay", ds.Bins()).
			Msg("excitation bin count does not match the data")
		return nil
	}

	switch {
	case cfg.Excitation.Estimate:
		cursors, err := excitation.EstimateCursors(s.TimeInc, curve.Values(), decay.Summed(ds, s.Channel))
		if err != nil {
			log.Warn().Err(err).Msg("cursor estimation failed, using the whole curve")
			break
		}
		curve.ApplyCursors(cursors)
		s.FitStart, s.FitStop = cursors.DecayStart, cursors.DecayStop
		log.Info().
			Int("excitationStart", cursors.ExcitationStart).
			Int("excitationStop", cursors.ExcitationStop).
			Float64("base", cursors.ExcitationBase).
			Int("fitStart", cursors.DecayStart).
			Int("fitStop", cursors.DecayStop).
			Msg("cursors estimated")
	case cfg.Excitation.Stop > cfg.Excitation.Start:
		curve.Start, curve.Stop = cfg.Excitation.Start, cfg.Excitation.Stop
		curve.Base = cfg.Excitation.Base
	}
	return curve
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}

// progressLogger reports every tenth of the image.
func progressLogger(log zerolog.Logger) engine.ProgressFunc {
	next := 0
	return func(done, total int) {
		if total == 0 || done*10 < next*total {
			return
		}
		log.Info().Int("done", done).Int("total", total).Msg("fitting")
		next = done*10/total + 1
	}
}

func printUnits(units []*models.FitUnit, fn fitmodel.FitFunction) {
	labels := fn.UILabels()
	for _, u := range units {
		if u.Failed() {
			fmt.Printf("(%d, %d) channel %d: fit failed\n", u.X, u.Y, u.Channel)
			continue
		}
		values := fitmodel.ValuesToUIOrder(fn, u.Params)
		parts := make([]string, len(labels))
		for i, label := range labels {
			parts[i] = fmt.Sprintf("%s=%.4g", label, values[i])
		}
		fmt.Printf("(%d, %d) channel %d: %s X2=%.4g\n",
			u.X, u.Y, u.Channel, strings.Join(parts, " "), u.Params[0])
	}
}

func saveOutputs(cfg *config.Config, res *engine.Result, s models.FitSettings, colorizer *preview.Colorizer) error {
	dir := cfg.Output.Dir
	written, err := preview.SavePlanes(res.Volume, s.Function, dir)
	if err != nil {
		return err
	}

	img := colorizer.Image()
	if s.Region != fitmodel.Each {
		img = preview.RenderPlane(res.Volume, 0, lifetimeParam, cfg.Output.LifetimeMin, cfg.Output.LifetimeMax)
	}
	previewPath := filepath.Join(dir, "lifetime.png")
	if err := preview.SavePNG(img, previewPath, cfg.Output.PreviewScale); err != nil {
		return err
	}

	fmt.Printf("\nOutputs saved to: %s\n", dir)
	fmt.Printf("- %d parameter planes (16-bit TIFF)\n", len(written))
	fmt.Printf("- Lifetime preview: %s\n", previewPath)
	return nil
}

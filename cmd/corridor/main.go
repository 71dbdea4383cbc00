// Command corridor buffers the river centerline into a corridor polygon and
// cuts it into fixed-length segments, writing both as GeoJSON.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/riverscan/riverscan/internal/adapters/filestore"
	natsadapter "github.com/riverscan/riverscan/internal/adapters/nats"
	"github.com/riverscan/riverscan/internal/core/ports"
	"github.com/riverscan/riverscan/internal/core/usecases"
	"github.com/riverscan/riverscan/internal/pkg/config"
	"github.com/riverscan/riverscan/internal/pkg/logging"
	"github.com/riverscan/riverscan/internal/pkg/metrics"
	"github.com/riverscan/riverscan/internal/pkg/telemetry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("corridor failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("corridor", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default ./config.yaml if present)")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "text or json")
	fs.String("planar-crs", "", "projected CRS for buffering and segmenting (default EPSG:32722)")
	fs.Float64("buffer", 0, "corridor half-width in meters (default 2500)")
	fs.Float64("segment-length", 0, "segment length in meters (default 1000)")
	fs.String("output-dir", "", "directory for the GeoJSON outputs (default gis_outputs)")
	fs.String("nats-url", "", "publish stage events to this NATS server")
	fs.String("metrics-textfile", "", "write Prometheus metrics to this file on exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load("riverscan-corridor", fs)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}
	if cfg.Metrics.Textfile != "" {
		defer flushMetrics(cfg.Metrics.Textfile)
	}

	// NATS
	var events ports.EventPublisher
	if cfg.NATS.URL != "" {
		pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable, stage events disabled", "error", err)
		} else {
			defer pub.Close()
			events = pub
		}
	}

	centerline, err := cfg.Corridor.CenterlineValue()
	if err != nil {
		return err
	}

	svc := usecases.NewCorridorService(filestore.NewGeoJSONStore(), events)
	res, err := svc.Run(ctx, usecases.CorridorInput{
		Centerline:          centerline,
		PlanarCRS:           cfg.Corridor.PlanarCRS,
		BufferMeters:        cfg.Corridor.BufferMeters,
		SegmentLengthMeters: cfg.Corridor.SegmentLengthMeters,
	}, usecases.CorridorOutput{
		Dir:          cfg.Corridor.OutputDir,
		CorridorFile: cfg.Corridor.CorridorFile,
		SegmentsFile: cfg.Corridor.SegmentsFile,
	})
	if err != nil {
		return err
	}

	slog.Info("corridor complete",
		"segments", len(res.Segments.Segments),
		"length_km", res.ProjectedLength/1000,
		"area_km2", res.Corridor.AreaSquareMeters/1e6,
		"corridor_file", res.CorridorPath,
		"segments_file", res.SegmentsPath,
	)
	return nil
}

func flushMetrics(path string) {
	if err := metrics.WriteTextfile(path); err != nil {
		slog.Warn("metrics textfile not written", "file", path, "error", err)
	}
}

// Command matchtiles joins river segments with the LiDAR tiles whose
// footprints they cross and writes the enriched segments as GeoJSON.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/riverscan/riverscan/internal/adapters/filestore"
	statushttp "github.com/riverscan/riverscan/internal/adapters/http"
	"github.com/riverscan/riverscan/internal/adapters/las"
	natsadapter "github.com/riverscan/riverscan/internal/adapters/nats"
	"github.com/riverscan/riverscan/internal/adapters/postgres"
	"github.com/riverscan/riverscan/internal/adapters/valkey"
	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/core/ports"
	"github.com/riverscan/riverscan/internal/core/usecases"
	"github.com/riverscan/riverscan/internal/pkg/config"
	"github.com/riverscan/riverscan/internal/pkg/logging"
	"github.com/riverscan/riverscan/internal/pkg/metrics"
	"github.com/riverscan/riverscan/internal/pkg/telemetry"
)

const watchDurable = "riverscan-matchtiles"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("matchtiles failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("matchtiles", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default ./config.yaml if present)")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "text or json")
	fs.String("segments", "", "segments GeoJSON (default gis_outputs/river_segments.geojson)")
	fs.String("tile-dir", "", "directory of .las/.laz tiles (default lidar_data)")
	fs.String("output", "", "output GeoJSON (default gis_outputs/river_segments_with_lidar.geojson)")
	fs.String("target-crs", "", "CRS the join runs in (default EPSG:32722)")
	fs.String("default-crs", "", "CRS assumed for a segments file without one (default EPSG:4326)")
	fs.Bool("export", false, "also upsert matched segments into PostGIS")
	fs.String("nats-url", "", "publish stage events to this NATS server")
	fs.String("valkey-addr", "", "cache tile headers in this Valkey server")
	fs.String("metrics-textfile", "", "write Prometheus metrics to this file on exit")
	fs.String("status-addr", "", "serve health, status and metrics here while watching, e.g. :8090")
	watch := fs.Bool("watch", false, "stay running and re-match after every completed fetch (needs --nats-url)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load("riverscan-matchtiles", fs)
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

	var checks []statushttp.ReadinessCheck

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

	// Database
	var segRepo ports.SegmentRepository
	if cfg.Database.Enabled {
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		defer db.Close()
		segRepo = postgres.NewSegmentRepo(db)
		checks = append(checks, statushttp.ReadinessCheck{Name: "database", Check: db.Ping})
	}

	// Tile header cache
	var reader ports.TileMetadataReader = las.NewReader()
	if cfg.Cache.ValkeyAddr != "" {
		cache, err := valkey.New(cfg.Cache.ValkeyAddr)
		if err != nil {
			slog.Warn("valkey unavailable, tile headers not cached", "error", err)
		} else {
			defer cache.Close()
			reader = valkey.NewTileMetadataCache(reader, cache, time.Duration(cfg.Cache.TTL)*time.Second)
			checks = append(checks, statushttp.ReadinessCheck{Name: "cache", Check: cache.Ping, Optional: true})
		}
	}

	svc := usecases.NewMatchService(filestore.NewGeoJSONStore(), reader, segRepo, events)
	in := usecases.MatchInput{
		SegmentsPath: cfg.Match.SegmentsFile,
		TileDir:      cfg.Match.TileDir,
		OutputPath:   cfg.Match.OutputFile,
		TargetCRS:    cfg.Match.TargetCRS,
		DefaultCRS:   cfg.Match.DefaultCRS,
		Dataset:      cfg.Match.Dataset,
	}

	if *watch {
		w := &watcher{svc: svc, in: in, board: usecases.NewStatusBoard(), checks: checks}
		return w.run(ctx, cfg.NATS.URL, cfg.Server.Addr)
	}

	summary, err := svc.Run(ctx, in)
	if err != nil {
		return err
	}
	slog.Info("match complete",
		"segments", summary.Segments,
		"matched", summary.Matched,
		"output", in.OutputPath,
	)
	return nil
}

// watcher re-runs the match every time a fetch stage completes.
type watcher struct {
	svc    *usecases.MatchService
	in     usecases.MatchInput
	board  *usecases.StatusBoard
	checks []statushttp.ReadinessCheck
}

// run blocks until ctx is cancelled. A failed match is logged, recorded and
// its event redelivered.
func (w *watcher) run(ctx context.Context, url, statusAddr string) error {
	if url == "" {
		return fmt.Errorf("%w: --watch needs a NATS url", domain.ErrInvalidInput)
	}
	sub, err := natsadapter.NewSubscriber(url)
	if err != nil {
		return err
	}
	defer sub.Close()
	w.checks = append(w.checks, statushttp.ReadinessCheck{Name: "nats", Check: sub.Ping})

	if err := sub.SubscribeStageCompleted(ctx, domain.StageFetch, watchDurable, w.onFetch); err != nil {
		return err
	}
	slog.Info("watching for completed fetches", "nats", url)

	if statusAddr != "" {
		app := statushttp.NewApp(&statushttp.Dependencies{Status: w.board, Checks: w.checks})
		if err := statushttp.Serve(ctx, app, statusAddr); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	} else {
		<-ctx.Done()
	}
	slog.Info("shutdown signal received")
	return nil
}

func (w *watcher) onFetch(ctx context.Context, ev domain.StageEvent) error {
	slog.Info("fetch completed, re-matching", "dir", ev.Output, "downloaded", ev.Counts["downloaded"])
	start := time.Now()
	summary, err := w.svc.Run(ctx, w.in)

	var counts map[string]int
	if summary != nil {
		counts = summary.Counts()
	}
	w.board.Record(domain.StageMatch, start, counts, err)
	if err != nil {
		return err
	}
	slog.Info("match complete", "segments", summary.Segments, "matched", summary.Matched)
	return nil
}

func flushMetrics(path string) {
	if err := metrics.WriteTextfile(path); err != nil {
		slog.Warn("metrics textfile not written", "file", path, "error", err)
	}
}

// Command fetchtiles downloads the LiDAR tiles of an Earthdata collection that
// intersect a bounding box.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/riverscan/riverscan/internal/adapters/earthdata"
	natsadapter "github.com/riverscan/riverscan/internal/adapters/nats"
	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/core/ports"
	"github.com/riverscan/riverscan/internal/core/usecases"
	"github.com/riverscan/riverscan/internal/pkg/config"
	"github.com/riverscan/riverscan/internal/pkg/logging"
	"github.com/riverscan/riverscan/internal/pkg/metrics"
	"github.com/riverscan/riverscan/internal/pkg/telemetry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fetchtiles failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("fetchtiles", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default ./config.yaml if present)")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "text or json")
	fs.String("dataset", "", "collection DOI (default 10.3334/ORNLDAAC/1644)")
	fs.StringSlice("bbox", nil, "min_lon,min_lat,max_lon,max_lat; use --bbox=... for negative values")
	fs.String("download-dir", "", "directory tiles are saved to (default lidar_data)")
	fs.StringSlice("extensions", nil, "only download files with these extensions, e.g. .laz")
	fs.String("auth-strategy", "", "netrc or environment")
	fs.String("netrc", "", "netrc file (default $NETRC or ~/.netrc)")
	fs.String("nats-url", "", "publish stage events to this NATS server")
	fs.String("metrics-textfile", "", "write Prometheus metrics to this file on exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load("riverscan-fetchtiles", fs)
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

	bounds, err := domain.BoundsFromSlice(cfg.Fetch.BBox)
	if err != nil {
		return err
	}

	creds, err := earthdata.LoadCredentials(earthdata.CredentialOptions{
		Strategy:  cfg.Earthdata.Strategy,
		NetrcPath: cfg.Earthdata.NetrcPath,
		Username:  cfg.Earthdata.Username,
		Password:  cfg.Earthdata.Password,
	})
	if err != nil {
		return err
	}

	client, err := earthdata.NewClient(earthdata.Config{
		URSURL:      cfg.Earthdata.URSURL,
		CMRURL:      cfg.Earthdata.CMRURL,
		PageSize:    cfg.Earthdata.PageSize,
		Timeout:     time.Duration(cfg.Earthdata.Timeout) * time.Second,
		Credentials: creds,
	})
	if err != nil {
		return err
	}

	svc := usecases.NewFetchService(client, events)
	res, err := svc.Run(ctx, usecases.FetchInput{
		DatasetID:  cfg.Fetch.DatasetID,
		Bounds:     bounds,
		Dir:        cfg.Fetch.Dir,
		Extensions: cfg.Fetch.Extensions,
	})
	if err != nil {
		return err
	}

	slog.Info("fetch complete",
		"found", res.Found,
		"downloaded", res.Downloaded,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"tiles_on_disk", len(res.Paths),
	)
	return nil
}

func flushMetrics(path string) {
	if err := metrics.WriteTextfile(path); err != nil {
		slog.Warn("metrics textfile not written", "file", path, "error", err)
	}
}

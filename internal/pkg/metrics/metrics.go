package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// Corridor metrics
	SegmentsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riverscan",
		Subsystem: "corridor",
		Name:      "segments_built_total",
		Help:      "Total river segments generated from the centerline",
	})

	CorridorArea = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "riverscan",
		Subsystem: "corridor",
		Name:      "area_square_meters",
		Help:      "Area of the last buffered corridor",
	})

	// Fetch metrics
	TilesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riverscan",
		Subsystem: "fetch",
		Name:      "tiles_total",
		Help:      "Tile files handled by the fetcher, by outcome",
	}, []string{"outcome"}) // found, downloaded, skipped, failed

	BytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riverscan",
		Subsystem: "fetch",
		Name:      "downloaded_bytes_total",
		Help:      "Total bytes written by tile downloads",
	})

	// Match metrics
	TilesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riverscan",
		Subsystem: "match",
		Name:      "tiles_scanned_total",
		Help:      "Tile headers scanned, by CRS status",
	}, []string{"crs_status"}) // verified, assumed, skipped

	SegmentsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riverscan",
		Subsystem: "match",
		Name:      "segments_total",
		Help:      "Segments joined against tiles, by result",
	}, []string{"result"}) // matched, unmatched

	SegmentsExported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riverscan",
		Subsystem: "db",
		Name:      "segments_exported_total",
		Help:      "Segments upserted into the export table",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "riverscan",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock duration of a pipeline stage",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
	}, []string{"stage"})

	// Status server metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riverscan",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Requests served by the status server",
	}, []string{"method", "path", "status"})
)

// ObserveStage records the time elapsed since start for a stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// WriteTextfile dumps the default registry in the node_exporter textfile
// format. Run-once tools call it on exit since nothing scrapes them.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Middleware counts status server requests by route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		status := strconv.Itoa(c.Response().StatusCode())
		httpRequestsTotal.WithLabelValues(c.Method(), path, status).Inc()
		return err
	}
}

// Handler returns a Fiber handler serving the Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

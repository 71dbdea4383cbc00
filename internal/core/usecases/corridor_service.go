package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/paulmach/orb/planar"

	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/core/ports"
	"github.com/riverscan/riverscan/internal/pkg/geospatial"
	"github.com/riverscan/riverscan/internal/pkg/metrics"
	"github.com/riverscan/riverscan/internal/pkg/telemetry"
)

// CorridorInput describes the corridor to build.
type CorridorInput struct {
	Centerline          domain.Centerline
	PlanarCRS           string
	BufferMeters        float64
	SegmentLengthMeters float64
}

// CorridorOutput names the files Run writes.
type CorridorOutput struct {
	Dir          string
	CorridorFile string
	SegmentsFile string
}

// CorridorResult holds the corridor and segments in the planar CRS.
type CorridorResult struct {
	Corridor        domain.Corridor
	Segments        domain.SegmentCollection
	PlanarCRS       geospatial.CRS
	ProjectedLength float64 // meters, in the planar CRS
	GeodesicLength  float64 // meters, haversine over the input coordinates
	CorridorPath    string
	SegmentsPath    string
}

// CorridorService builds the river corridor and its fixed-length segments.
type CorridorService struct {
	store  ports.FeatureStore
	events ports.EventPublisher
}

// NewCorridorService creates a new CorridorService. events may be nil.
func NewCorridorService(store ports.FeatureStore, events ports.EventPublisher) *CorridorService {
	return &CorridorService{store: store, events: events}
}

// Build projects the centerline, buffers it and cuts it into segments.
func (s *CorridorService) Build(ctx context.Context, in CorridorInput) (*CorridorResult, error) {
	_, span := telemetry.Tracer().Start(ctx, telemetry.SpanCorridorBuild)
	defer span.End()

	if err := in.Centerline.Validate(); err != nil {
		return nil, err
	}
	if in.BufferMeters <= 0 {
		return nil, fmt.Errorf("%w: buffer distance must be positive, got %g", domain.ErrInvalidInput, in.BufferMeters)
	}
	if in.SegmentLengthMeters <= 0 {
		return nil, fmt.Errorf("%w: segment length must be positive, got %g", domain.ErrInvalidInput, in.SegmentLengthMeters)
	}
	crs, err := geospatial.ParseCRS(in.PlanarCRS)
	if err != nil {
		return nil, fmt.Errorf("planar crs: %w", err)
	}
	if !crs.Planar() {
		return nil, fmt.Errorf("%w: %s is not a projected CRS", domain.ErrInvalidInput, crs)
	}

	lonLat := in.Centerline.LineString()
	line := geospatial.ReprojectLineString(lonLat, geospatial.WGS84, crs)
	length := planar.Length(line)
	geodesic := geospatial.HaversineLength(lonLat)
	slog.Info("centerline projected",
		"crs", crs.String(),
		"projected_km", length/1000,
		"geodesic_km", geodesic/1000,
	)

	polygon, err := geospatial.BufferLine(line, in.BufferMeters, geospatial.DefaultQuadrantSegments)
	if err != nil {
		return nil, fmt.Errorf("buffer centerline: %w", err)
	}
	area := math.Abs(planar.Area(polygon))
	slog.Info("corridor buffered", "buffer_m", in.BufferMeters, "area_km2", area/1e6)

	toLonLat := geospatial.Transformer(crs, geospatial.WGS84)
	pieces := geospatial.SegmentLine(line, in.SegmentLengthMeters)
	segments := make([]domain.Segment, len(pieces))
	for i, piece := range pieces {
		c := toLonLat(geospatial.LineCentroid(piece))
		segments[i] = domain.Segment{
			ID:          i,
			Geometry:    piece,
			CentroidLat: c[1],
			CentroidLon: c[0],
		}
	}
	slog.Info("centerline segmented", "segments", len(segments), "segment_length_m", in.SegmentLengthMeters)

	metrics.SegmentsBuilt.Add(float64(len(segments)))
	metrics.CorridorArea.Set(area)

	return &CorridorResult{
		Corridor: domain.Corridor{
			Polygon:          polygon,
			CRS:              crs.String(),
			BufferMeters:     in.BufferMeters,
			AreaSquareMeters: area,
		},
		Segments:        domain.SegmentCollection{CRS: crs.String(), Segments: segments},
		PlanarCRS:       crs,
		ProjectedLength: length,
		GeodesicLength:  geodesic,
	}, nil
}

// Run builds the corridor and writes both layers as EPSG:4326 GeoJSON. A write
// failure is returned together with the in-memory result.
func (s *CorridorService) Run(ctx context.Context, in CorridorInput, out CorridorOutput) (*CorridorResult, error) {
	start := time.Now()
	defer metrics.ObserveStage(domain.StageCorridor, start)

	res, err := s.Build(ctx, in)
	if err != nil {
		return nil, err
	}

	_, span := telemetry.Tracer().Start(ctx, telemetry.SpanCorridorWrite)
	defer span.End()

	crs := res.PlanarCRS
	corridor := res.Corridor
	corridor.Polygon = geospatial.ReprojectPolygon(res.Corridor.Polygon, crs, geospatial.WGS84)
	corridor.CRS = geospatial.WGS84.String()

	segs := domain.SegmentCollection{CRS: geospatial.WGS84.String(), Segments: make([]domain.Segment, len(res.Segments.Segments))}
	for i, seg := range res.Segments.Segments {
		seg.Geometry = geospatial.ReprojectLineString(seg.Geometry, crs, geospatial.WGS84)
		segs.Segments[i] = seg
	}

	res.CorridorPath = filepath.Join(out.Dir, out.CorridorFile)
	res.SegmentsPath = filepath.Join(out.Dir, out.SegmentsFile)

	var errs []error
	if err := s.store.WriteCorridor(res.CorridorPath, corridor); err != nil {
		errs = append(errs, fmt.Errorf("write corridor: %w", err))
	} else {
		slog.Info("corridor saved", "file", res.CorridorPath)
	}
	if err := s.store.WriteSegments(res.SegmentsPath, segs); err != nil {
		errs = append(errs, fmt.Errorf("write segments: %w", err))
	} else {
		slog.Info("segments saved", "file", res.SegmentsPath)
	}
	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}

	publishStage(ctx, s.events, domain.StageCorridor, res.SegmentsPath, map[string]int{
		"segments": len(segs.Segments),
	})
	return res, nil
}

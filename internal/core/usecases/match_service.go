package usecases

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/core/ports"
	"github.com/riverscan/riverscan/internal/pkg/geospatial"
	"github.com/riverscan/riverscan/internal/pkg/metrics"
	"github.com/riverscan/riverscan/internal/pkg/telemetry"
)

// MatchInput names the matcher's inputs and output.
type MatchInput struct {
	SegmentsPath string
	TileDir      string
	OutputPath   string
	TargetCRS    string
	// DefaultCRS is assumed for a segments file that declares none.
	DefaultCRS string
	// Dataset labels rows in the optional database export.
	Dataset string
}

// MatchSummary reports the outcome of a match run.
type MatchSummary struct {
	Segments        int
	Matched         int
	Unmatched       int
	TilesProcessed  int
	TilesSkipped    int
	TilesAssumedCRS int
}

// Counts flattens the summary for events and status reports.
func (m *MatchSummary) Counts() map[string]int {
	return map[string]int{
		"segments":          m.Segments,
		"matched":           m.Matched,
		"unmatched":         m.Unmatched,
		"tiles_processed":   m.TilesProcessed,
		"tiles_skipped":     m.TilesSkipped,
		"tiles_assumed_crs": m.TilesAssumedCRS,
	}
}

// TileScan is the result of reading every tile header in a directory.
type TileScan struct {
	Tiles   []domain.Tile
	Skipped []string
}

// AssumedCRS counts tiles whose footprint was taken as-is.
func (t *TileScan) AssumedCRS() int {
	n := 0
	for _, tile := range t.Tiles {
		if tile.CRSStatus == domain.CRSAssumed {
			n++
		}
	}
	return n
}

// MatchService joins river segments with the point-cloud tiles covering them.
type MatchService struct {
	store   ports.FeatureStore
	reader  ports.TileMetadataReader
	segRepo ports.SegmentRepository
	events  ports.EventPublisher
}

// NewMatchService creates a new MatchService. segRepo and events may be nil.
func NewMatchService(store ports.FeatureStore, reader ports.TileMetadataReader, segRepo ports.SegmentRepository, events ports.EventPublisher) *MatchService {
	return &MatchService{store: store, reader: reader, segRepo: segRepo, events: events}
}

// LoadSegments reads a segments file and reprojects it into target. A file
// without a declared CRS is taken to be in def.
func (s *MatchService) LoadSegments(path string, target, def geospatial.CRS) (domain.SegmentCollection, error) {
	sc, err := s.store.ReadSegments(path)
	if err != nil {
		return domain.SegmentCollection{}, err
	}

	src := def
	if sc.CRS != "" {
		if src, err = geospatial.ParseCRS(sc.CRS); err != nil {
			return domain.SegmentCollection{}, fmt.Errorf("segments file %s: %w", path, err)
		}
	} else {
		slog.Warn("segments file declares no CRS, assuming default", "file", path, "crs", def.String())
	}

	if !src.Equal(target) {
		for i := range sc.Segments {
			sc.Segments[i].Geometry = geospatial.ReprojectLineString(sc.Segments[i].Geometry, src, target)
		}
		slog.Info("segments reprojected", "from", src.String(), "to", target.String())
	}
	sc.CRS = target.String()
	return sc, nil
}

// LoadTiles reads the header of every .las/.laz file in dir, in name order,
// and builds each footprint in target. Tiles with unreadable headers or
// unsupported coordinate systems are skipped.
func (s *MatchService) LoadTiles(dir string, target geospatial.CRS) (*TileScan, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: tile directory %s", domain.ErrMissingInput, dir)
		}
		return nil, fmt.Errorf("%w: tile directory %s: %v", domain.ErrMissingInput, dir, err)
	}

	scan := &TileScan{}
	for _, e := range entries {
		if e.IsDir() || !isTileFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())

		md, err := s.reader.ReadMetadata(path)
		if err != nil {
			slog.Warn("skipping tile with unreadable header", "file", path, "error", err)
			scan.Skipped = append(scan.Skipped, path)
			metrics.TilesScanned.WithLabelValues("skipped").Inc()
			continue
		}

		tile := domain.Tile{Path: path, Bounds: md.Bounds}
		box := md.Bounds.ToPolygon()
		if md.EPSG == 0 {
			slog.Warn("tile header has no CRS, assuming target CRS", "file", path, "crs", target.String())
			tile.CRSStatus = domain.CRSAssumed
			tile.Footprint = box
		} else {
			src, err := geospatial.FromEPSG(md.EPSG)
			if err != nil {
				slog.Warn("skipping tile with unsupported CRS", "file", path, "epsg", md.EPSG, "error", err)
				scan.Skipped = append(scan.Skipped, path)
				metrics.TilesScanned.WithLabelValues("skipped").Inc()
				continue
			}
			tile.SourceCRS = src.String()
			tile.CRSStatus = domain.CRSVerified
			tile.Footprint = geospatial.ReprojectPolygon(box, src, target)
		}

		slog.Debug("tile scanned", "file", path, "crs", tile.SourceCRS, "status", tile.CRSStatus.String(), "source", md.CRSSource)
		metrics.TilesScanned.WithLabelValues(tile.CRSStatus.String()).Inc()
		scan.Tiles = append(scan.Tiles, tile)
	}
	return scan, nil
}

// tileEntry adapts a tile for the R-tree.
type tileEntry struct {
	id   string
	tile *domain.Tile
	rect rtreego.Rect
}

func (e *tileEntry) Bounds() rtreego.Rect {
	return e.rect
}

// Join attaches to every segment the sorted paths of the tiles whose footprint
// it intersects. Segments come back in input order with geometry and ids
// untouched; unmatched segments get an empty, non-nil list.
func (s *MatchService) Join(segments []domain.Segment, tiles []domain.Tile) []domain.Segment {
	tree := rtreego.NewTree(2, 25, 50)
	for i := range tiles {
		tree.Insert(&tileEntry{
			id:   tiles[i].Path,
			tile: &tiles[i],
			rect: boundRect(tiles[i].Footprint.Bound()),
		})
	}

	out := make([]domain.Segment, len(segments))
	for i, seg := range segments {
		matched := map[string]bool{}
		assumed := map[string]bool{}
		for _, sp := range tree.SearchIntersect(boundRect(seg.Geometry.Bound())) {
			e := sp.(*tileEntry)
			if !geospatial.LineIntersectsPolygon(seg.Geometry, e.tile.Footprint) {
				continue
			}
			matched[e.id] = true
			if e.tile.CRSStatus == domain.CRSAssumed {
				assumed[e.id] = true
			}
		}
		seg.MatchedTileIDs = sortedKeys(matched)
		seg.AssumedCRSTileIDs = sortedKeys(assumed)
		out[i] = seg
	}
	return out
}

// Run joins the segments file with the tile directory and writes the
// enriched segments as EPSG:4326 GeoJSON.
func (s *MatchService) Run(ctx context.Context, in MatchInput) (*MatchSummary, error) {
	start := time.Now()
	defer metrics.ObserveStage(domain.StageMatch, start)

	target, err := geospatial.ParseCRS(in.TargetCRS)
	if err != nil {
		return nil, fmt.Errorf("target crs: %w", err)
	}
	def, err := geospatial.ParseCRS(in.DefaultCRS)
	if err != nil {
		return nil, fmt.Errorf("default crs: %w", err)
	}

	if _, err := os.Stat(in.SegmentsPath); err != nil {
		return nil, fmt.Errorf("%w: segments file %s", domain.ErrMissingInput, in.SegmentsPath)
	}
	if info, err := os.Stat(in.TileDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: tile directory %s", domain.ErrMissingInput, in.TileDir)
	}

	_, loadSpan := telemetry.Tracer().Start(ctx, telemetry.SpanMatchLoad)
	sc, err := s.LoadSegments(in.SegmentsPath, target, def)
	loadSpan.End()
	if err != nil {
		return nil, err
	}
	slog.Info("segments loaded", "file", in.SegmentsPath, "count", len(sc.Segments))

	_, scanSpan := telemetry.Tracer().Start(ctx, telemetry.SpanMatchScanTiles)
	scan, err := s.LoadTiles(in.TileDir, target)
	scanSpan.End()
	if err != nil {
		return nil, err
	}
	if len(scan.Tiles) == 0 {
		return nil, fmt.Errorf("%w: %s (%d skipped)", domain.ErrNoTiles, in.TileDir, len(scan.Skipped))
	}
	logExtents(sc.Segments, scan.Tiles, target)

	_, joinSpan := telemetry.Tracer().Start(ctx, telemetry.SpanMatchJoin)
	joined := s.Join(sc.Segments, scan.Tiles)
	joinSpan.End()

	summary := &MatchSummary{
		Segments:        len(joined),
		TilesProcessed:  len(scan.Tiles),
		TilesSkipped:    len(scan.Skipped),
		TilesAssumedCRS: scan.AssumedCRS(),
	}
	for _, seg := range joined {
		if len(seg.MatchedTileIDs) > 0 {
			summary.Matched++
		} else {
			summary.Unmatched++
		}
	}
	metrics.SegmentsMatched.WithLabelValues("matched").Add(float64(summary.Matched))
	metrics.SegmentsMatched.WithLabelValues("unmatched").Add(float64(summary.Unmatched))

	out := domain.SegmentCollection{CRS: geospatial.WGS84.String(), Segments: make([]domain.Segment, len(joined))}
	for i, seg := range joined {
		seg.Geometry = geospatial.ReprojectLineString(seg.Geometry, target, geospatial.WGS84)
		out.Segments[i] = seg
	}

	_, writeSpan := telemetry.Tracer().Start(ctx, telemetry.SpanMatchWrite)
	err = s.store.WriteSegments(in.OutputPath, out)
	writeSpan.End()
	if err != nil {
		return summary, fmt.Errorf("write %s: %w", in.OutputPath, err)
	}
	slog.Info("matched segments saved", "file", in.OutputPath)

	if s.segRepo != nil {
		exportCtx, exportSpan := telemetry.Tracer().Start(ctx, telemetry.SpanMatchExport)
		err := s.segRepo.UpsertBatch(exportCtx, in.Dataset, out.Segments)
		exportSpan.End()
		if err != nil {
			return summary, fmt.Errorf("export segments: %w", err)
		}
		metrics.SegmentsExported.Add(float64(len(out.Segments)))
		slog.Info("segments exported", "dataset", in.Dataset, "count", len(out.Segments))
	}

	slog.Info("match summary",
		"segments", summary.Segments,
		"matched", summary.Matched,
		"unmatched", summary.Unmatched,
		"tiles_processed", summary.TilesProcessed,
		"tiles_skipped", summary.TilesSkipped,
		"tiles_assumed_crs", summary.TilesAssumedCRS,
	)
	if summary.TilesAssumedCRS > 0 {
		slog.Warn("some tiles had no CRS and were assumed to be in the target CRS; check assumed_crs_tile_ids",
			"tiles", summary.TilesAssumedCRS, "crs", target.String())
	}
	if summary.Unmatched > 0 {
		slog.Warn("segments without intersecting tiles", "count", summary.Unmatched)
	}

	publishStage(ctx, s.events, domain.StageMatch, in.OutputPath, summary.Counts())
	return summary, nil
}

func isTileFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".las", ".laz":
		return true
	}
	return false
}

// rectEpsilon pads every box on all sides. The R-tree only reports boxes that
// overlap with positive area, so boxes that merely touch need the padding to
// reach the exact intersection test. It also keeps boxes of vertical or
// horizontal segments valid.
const rectEpsilon = 1e-6

func boundRect(b orb.Bound) rtreego.Rect {
	lengths := []float64{
		b.Max[0] - b.Min[0] + 2*rectEpsilon,
		b.Max[1] - b.Min[1] + 2*rectEpsilon,
	}
	rect, _ := rtreego.NewRect(rtreego.Point{b.Min[0] - rectEpsilon, b.Min[1] - rectEpsilon}, lengths)
	return rect
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func logExtents(segments []domain.Segment, tiles []domain.Tile, crs geospatial.CRS) {
	if len(segments) == 0 {
		return
	}
	segBound := segments[0].Geometry.Bound()
	for _, seg := range segments[1:] {
		segBound = segBound.Union(seg.Geometry.Bound())
	}
	tileBound := tiles[0].Footprint.Bound()
	for _, t := range tiles[1:] {
		tileBound = tileBound.Union(t.Footprint.Bound())
	}
	slog.Debug("extents before join",
		"crs", crs.String(),
		"segments", segBound,
		"tiles", tileBound,
		"overlap", segBound.Intersects(tileBound),
	)
}

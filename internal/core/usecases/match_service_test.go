package usecases_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/paulmach/orb"

	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/core/usecases"
	"github.com/riverscan/riverscan/internal/pkg/geospatial"
)

var utm22S = mustCRS("EPSG:32722")

func mustCRS(s string) geospatial.CRS {
	c, err := geospatial.ParseCRS(s)
	if err != nil {
		panic(err)
	}
	return c
}

func box(minX, minY, maxX, maxY float64) orb.Bound {
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// planarSegments is three segments in EPSG:32722; the last lies far from every tile.
func planarSegments() domain.SegmentCollection {
	return domain.SegmentCollection{
		CRS: "EPSG:32722",
		Segments: []domain.Segment{
			{ID: 0, Geometry: orb.LineString{{232000, 8767000}, {233000, 8767000}}, Properties: map[string]any{"name": "upper"}},
			{ID: 1, Geometry: orb.LineString{{233000, 8767000}, {234000, 8767000}}},
			{ID: 2, Geometry: orb.LineString{{240000, 8780000}, {241000, 8780000}}},
		},
	}
}

// tileFixture lays out a tile directory and a reader describing its headers.
func tileFixture(t *testing.T) (string, *mockReader) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"a.laz", "b.las", "c.LAZ", "bad.laz", "d.laz", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("LASF"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reader := &mockReader{
		byName: map[string]domain.TileMetadata{
			"a.laz": {Bounds: box(231500, 8766500, 232500, 8767500), EPSG: 32722, CRSSource: "geokeys"},
			"b.las": {Bounds: box(232800, 8766900, 233200, 8767100)},
			// SIRGAS 2000 / UTM 22S, reprojected to the target
			"c.LAZ": {Bounds: box(233500, 8766000, 234500, 8768000), EPSG: 31982, CRSSource: "wkt"},
			"d.laz": {Bounds: box(0, 0, 10, 10), EPSG: 2193},
		},
		errs: map[string]error{"bad.laz": errors.New("not a LAS file")},
	}
	return dir, reader
}

func TestMatchService_Run(t *testing.T) {
	tileDir, reader := tileFixture(t)
	segPath := filepath.Join(t.TempDir(), "river_segments.geojson")
	if err := os.WriteFile(segPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := newMockStore()
	store.readFn = func(path string) (domain.SegmentCollection, error) { return planarSegments(), nil }
	repo := &mockSegmentRepo{}
	pub := &mockPublisher{}
	svc := usecases.NewMatchService(store, reader, repo, pub)

	out := filepath.Join(t.TempDir(), "river_segments_with_lidar.geojson")
	summary, err := svc.Run(context.Background(), usecases.MatchInput{
		SegmentsPath: segPath,
		TileDir:      tileDir,
		OutputPath:   out,
		TargetCRS:    "EPSG:32722",
		DefaultCRS:   "EPSG:4326",
		Dataset:      "xingu",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := usecases.MatchSummary{Segments: 3, Matched: 2, Unmatched: 1, TilesProcessed: 3, TilesSkipped: 2, TilesAssumedCRS: 1}
	if *summary != want {
		t.Errorf("summary = %+v, want %+v", *summary, want)
	}
	for _, name := range reader.calls {
		if name == "notes.txt" {
			t.Error("non-tile files must not be read")
		}
	}

	written, ok := store.segments[out]
	if !ok {
		t.Fatal("output not written")
	}
	if written.CRS != "EPSG:4326" {
		t.Errorf("output CRS = %s, want EPSG:4326", written.CRS)
	}

	a, b, c := filepath.Join(tileDir, "a.laz"), filepath.Join(tileDir, "b.las"), filepath.Join(tileDir, "c.LAZ")
	expect := []struct {
		matched []string
		assumed []string
	}{
		{[]string{a, b}, []string{b}},
		{[]string{b, c}, []string{b}},
		{[]string{}, []string{}},
	}
	for i, seg := range written.Segments {
		if seg.ID != i {
			t.Errorf("segment %d reordered to id %d", i, seg.ID)
		}
		if !reflect.DeepEqual(seg.MatchedTileIDs, expect[i].matched) {
			t.Errorf("segment %d matched = %#v, want %#v", i, seg.MatchedTileIDs, expect[i].matched)
		}
		if !reflect.DeepEqual(seg.AssumedCRSTileIDs, expect[i].assumed) {
			t.Errorf("segment %d assumed = %#v, want %#v", i, seg.AssumedCRSTileIDs, expect[i].assumed)
		}
		p := seg.Geometry[0]
		if p[0] < -54 || p[0] > -53 || p[1] < -12 || p[1] > -10.9 {
			t.Errorf("segment %d not written in lon/lat: %v", i, p)
		}
	}
	if written.Segments[0].Properties["name"] != "upper" {
		t.Error("input properties must be preserved")
	}

	if repo.dataset != "xingu" || len(repo.segments) != 3 {
		t.Errorf("export got dataset %q with %d segments", repo.dataset, len(repo.segments))
	}
	if len(pub.events) != 1 || pub.events[0].Stage != domain.StageMatch || pub.events[0].Counts["matched"] != 2 {
		t.Errorf("unexpected events: %+v", pub.events)
	}
}

func TestMatchService_Run_NoTiles(t *testing.T) {
	tileDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tileDir, "bad.laz"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	segPath := filepath.Join(t.TempDir(), "s.geojson")
	if err := os.WriteFile(segPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := newMockStore()
	store.readFn = func(path string) (domain.SegmentCollection, error) { return planarSegments(), nil }
	reader := &mockReader{errs: map[string]error{"bad.laz": errors.New("truncated")}}
	svc := usecases.NewMatchService(store, reader, nil, nil)

	_, err := svc.Run(context.Background(), usecases.MatchInput{
		SegmentsPath: segPath, TileDir: tileDir, OutputPath: "out.geojson",
		TargetCRS: "EPSG:32722", DefaultCRS: "EPSG:4326",
	})
	if !errors.Is(err, domain.ErrNoTiles) {
		t.Fatalf("expected ErrNoTiles, got %v", err)
	}
	if len(store.segments) != 0 {
		t.Error("no output should be written without tiles")
	}
}

func TestMatchService_Run_MissingInputs(t *testing.T) {
	tileDir, reader := tileFixture(t)
	segPath := filepath.Join(t.TempDir(), "s.geojson")
	if err := os.WriteFile(segPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := usecases.NewMatchService(newMockStore(), reader, nil, nil)

	tests := []struct {
		name string
		in   usecases.MatchInput
	}{
		{"segments file", usecases.MatchInput{SegmentsPath: filepath.Join(tileDir, "missing.geojson"), TileDir: tileDir}},
		{"tile dir", usecases.MatchInput{SegmentsPath: segPath, TileDir: filepath.Join(tileDir, "nope")}},
		{"tile dir is a file", usecases.MatchInput{SegmentsPath: segPath, TileDir: segPath}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.TargetCRS = "EPSG:32722"
			tt.in.DefaultCRS = "EPSG:4326"
			if _, err := svc.Run(context.Background(), tt.in); !errors.Is(err, domain.ErrMissingInput) {
				t.Errorf("expected ErrMissingInput, got %v", err)
			}
		})
	}
}

func TestMatchService_Run_ExportFailure(t *testing.T) {
	tileDir, reader := tileFixture(t)
	segPath := filepath.Join(t.TempDir(), "s.geojson")
	if err := os.WriteFile(segPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := newMockStore()
	store.readFn = func(path string) (domain.SegmentCollection, error) { return planarSegments(), nil }
	repo := &mockSegmentRepo{err: errors.New("connection refused")}
	svc := usecases.NewMatchService(store, reader, repo, nil)

	summary, err := svc.Run(context.Background(), usecases.MatchInput{
		SegmentsPath: segPath, TileDir: tileDir, OutputPath: "out.geojson",
		TargetCRS: "EPSG:32722", DefaultCRS: "EPSG:4326",
	})
	if err == nil {
		t.Fatal("expected export error")
	}
	if summary == nil || summary.Matched != 2 {
		t.Errorf("summary should survive a failed export: %+v", summary)
	}
	if _, ok := store.segments["out.geojson"]; !ok {
		t.Error("file output must be written before the export")
	}
}

func TestMatchService_LoadSegments_DefaultCRS(t *testing.T) {
	store := newMockStore()
	store.readFn = func(path string) (domain.SegmentCollection, error) {
		return domain.SegmentCollection{Segments: []domain.Segment{
			{ID: 0, Geometry: orb.LineString{{-53.446, -11.133}, {-53.416, -11.096}}},
		}}, nil
	}
	svc := usecases.NewMatchService(store, &mockReader{}, nil, nil)

	sc, err := svc.LoadSegments("s.geojson", utm22S, geospatial.WGS84)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.CRS != "EPSG:32722" {
		t.Errorf("CRS = %s, want EPSG:32722", sc.CRS)
	}
	p := sc.Segments[0].Geometry[0]
	if math.Abs(p[0]-232834.45) > 0.5 || math.Abs(p[1]-8768213.0) > 0.5 {
		t.Errorf("first vertex = %v, want ~(232834.45, 8768213.0)", p)
	}
}

func TestMatchService_LoadSegments_UnknownCRS(t *testing.T) {
	store := newMockStore()
	store.readFn = func(path string) (domain.SegmentCollection, error) {
		return domain.SegmentCollection{CRS: "EPSG:2193"}, nil
	}
	svc := usecases.NewMatchService(store, &mockReader{}, nil, nil)

	if _, err := svc.LoadSegments("s.geojson", utm22S, geospatial.WGS84); !errors.Is(err, geospatial.ErrUnsupportedCRS) {
		t.Errorf("expected ErrUnsupportedCRS, got %v", err)
	}
}

func TestMatchService_LoadTiles(t *testing.T) {
	dir, reader := tileFixture(t)
	svc := usecases.NewMatchService(newMockStore(), reader, nil, nil)

	scan, err := svc.LoadTiles(dir, utm22S)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scan.Tiles) != 3 || len(scan.Skipped) != 2 {
		t.Fatalf("got %d tiles and %d skipped", len(scan.Tiles), len(scan.Skipped))
	}
	if scan.AssumedCRS() != 1 {
		t.Errorf("assumed = %d, want 1", scan.AssumedCRS())
	}

	for _, tile := range scan.Tiles {
		switch filepath.Base(tile.Path) {
		case "b.las":
			if tile.CRSStatus != domain.CRSAssumed || tile.SourceCRS != "" {
				t.Errorf("b.las should be assumed, got %v %q", tile.CRSStatus, tile.SourceCRS)
			}
			if tile.Footprint.Bound() != tile.Bounds {
				t.Error("assumed footprint must be the raw header box")
			}
		case "c.LAZ":
			if tile.CRSStatus != domain.CRSVerified || tile.SourceCRS != "EPSG:31982" {
				t.Errorf("c.LAZ should be verified EPSG:31982, got %v %q", tile.CRSStatus, tile.SourceCRS)
			}
			fb := tile.Footprint.Bound()
			if math.Abs(fb.Min[0]-233500) > 1 || math.Abs(fb.Max[1]-8768000) > 1 {
				t.Errorf("reprojected footprint %v drifted from %v", fb, tile.Bounds)
			}
		}
	}
}

func TestMatchService_LoadTiles_MissingDir(t *testing.T) {
	svc := usecases.NewMatchService(newMockStore(), &mockReader{}, nil, nil)
	if _, err := svc.LoadTiles(filepath.Join(t.TempDir(), "none"), utm22S); !errors.Is(err, domain.ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}
}

func TestMatchService_Join(t *testing.T) {
	svc := usecases.NewMatchService(newMockStore(), &mockReader{}, nil, nil)

	tiles := []domain.Tile{
		// same file name in two directories stays two tiles
		{Path: "/x/a.laz", Footprint: box(0, 0, 5, 5).ToPolygon()},
		{Path: "/y/a.laz", Footprint: box(4, 4, 6, 6).ToPolygon()},
		// bbox overlaps the diagonal but the footprint does not
		{Path: "/x/corner.laz", Footprint: box(8, 0, 10, 2).ToPolygon()},
		// touches the vertical segment only along its edge
		{Path: "/x/edge.laz", Footprint: box(20, 0, 22, 10).ToPolygon(), CRSStatus: domain.CRSAssumed},
	}
	segments := []domain.Segment{
		{ID: 7, Geometry: orb.LineString{{0, 0}, {10, 10}}},
		{ID: 3, Geometry: orb.LineString{{20, 2}, {20, 8}}},
		{ID: 9, Geometry: orb.LineString{{50, 50}, {60, 60}}},
	}

	got := svc.Join(segments, tiles)
	if len(got) != 3 || got[0].ID != 7 || got[1].ID != 3 || got[2].ID != 9 {
		t.Fatalf("join must keep input order and ids: %+v", got)
	}
	if !reflect.DeepEqual(got[0].MatchedTileIDs, []string{"/x/a.laz", "/y/a.laz"}) {
		t.Errorf("diagonal matched %v, want [/x/a.laz /y/a.laz]", got[0].MatchedTileIDs)
	}
	if !reflect.DeepEqual(got[1].MatchedTileIDs, []string{"/x/edge.laz"}) || !reflect.DeepEqual(got[1].AssumedCRSTileIDs, []string{"/x/edge.laz"}) {
		t.Errorf("vertical segment matched %v assumed %v", got[1].MatchedTileIDs, got[1].AssumedCRSTileIDs)
	}
	if got[2].MatchedTileIDs == nil || len(got[2].MatchedTileIDs) != 0 {
		t.Errorf("unmatched segment must carry an empty list, got %#v", got[2].MatchedTileIDs)
	}
	if !reflect.DeepEqual(segments[0].Geometry, got[0].Geometry) {
		t.Error("join must not alter geometry")
	}
}

func TestMatchService_Join_TouchingBoundaries(t *testing.T) {
	svc := usecases.NewMatchService(newMockStore(), &mockReader{}, nil, nil)

	tiles := []domain.Tile{{Path: "/tiles/t.laz", Footprint: box(0, 0, 100, 100).ToPolygon()}}
	tests := []struct {
		name string
		line orb.LineString
		want []string
	}{
		{"starts on right edge", orb.LineString{{100, 50}, {200, 60}}, []string{"/tiles/t.laz"}},
		{"lies on top edge", orb.LineString{{10, 100}, {90, 100}}, []string{"/tiles/t.laz"}},
		{"leaves from corner", orb.LineString{{100, 100}, {150, 150}}, []string{"/tiles/t.laz"}},
		{"ends on bottom edge", orb.LineString{{50, -80}, {50, 0}}, []string{"/tiles/t.laz"}},
		{"just outside", orb.LineString{{100.01, 50}, {200, 60}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.Join([]domain.Segment{{ID: 1, Geometry: tt.line}}, tiles)
			if !reflect.DeepEqual(got[0].MatchedTileIDs, tt.want) {
				t.Errorf("matched %#v, want %#v", got[0].MatchedTileIDs, tt.want)
			}
		})
	}
}

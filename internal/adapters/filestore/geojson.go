// Package filestore persists corridors and segments as GeoJSON files.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/pkg/geospatial"
)

// Feature property names.
const (
	PropSegmentID         = "segment_id"
	PropCentroidLat       = "centroid_lat"
	PropCentroidLon       = "centroid_lon"
	PropMatchedTileIDs    = "matched_tile_ids"
	PropAssumedCRSTileIDs = "assumed_crs_tile_ids"

	PropCorridorID = "id"
	PropBufferM    = "buffer_m"
	PropAreaKm2    = "area_km2"
)

const crs84URN = "urn:ogc:def:crs:OGC:1.3:CRS84"

// GeoJSONStore reads and writes pipeline GeoJSON files.
type GeoJSONStore struct{}

// NewGeoJSONStore creates a GeoJSON store.
func NewGeoJSONStore() *GeoJSONStore {
	return &GeoJSONStore{}
}

// WriteCorridor writes the corridor polygon as a one-feature collection.
func (s *GeoJSONStore) WriteCorridor(path string, c domain.Corridor) error {
	f := geojson.NewFeature(c.Polygon)
	f.Properties[PropCorridorID] = 1
	f.Properties[PropBufferM] = c.BufferMeters
	f.Properties[PropAreaKm2] = c.AreaSquareMeters / 1e6

	fc := geojson.NewFeatureCollection().Append(f)
	if err := setCRS(fc, c.CRS); err != nil {
		return err
	}
	return writeAtomic(path, fc)
}

// WriteSegments writes one LineString feature per segment, in order.
func (s *GeoJSONStore) WriteSegments(path string, sc domain.SegmentCollection) error {
	fc := geojson.NewFeatureCollection()
	for _, seg := range sc.Segments {
		f := geojson.NewFeature(seg.Geometry)
		for k, v := range seg.Properties {
			f.Properties[k] = v
		}
		f.Properties[PropSegmentID] = seg.ID
		f.Properties[PropCentroidLat] = seg.CentroidLat
		f.Properties[PropCentroidLon] = seg.CentroidLon
		if seg.MatchedTileIDs != nil {
			f.Properties[PropMatchedTileIDs] = seg.MatchedTileIDs
			f.Properties[PropAssumedCRSTileIDs] = nonNil(seg.AssumedCRSTileIDs)
		}
		fc.Append(f)
	}
	if err := setCRS(fc, sc.CRS); err != nil {
		return err
	}
	return writeAtomic(path, fc)
}

// ReadSegments loads a segments file. Properties other than the ones this
// package writes are kept in Segment.Properties. CRS is empty when the file
// declares none.
func (s *GeoJSONStore) ReadSegments(path string) (domain.SegmentCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.SegmentCollection{}, fmt.Errorf("%w: segments file %s", domain.ErrMissingInput, path)
		}
		return domain.SegmentCollection{}, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return domain.SegmentCollection{}, fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidInput, path, err)
	}

	crs, err := readCRS(fc)
	if err != nil {
		return domain.SegmentCollection{}, fmt.Errorf("%s: %w", path, err)
	}

	out := domain.SegmentCollection{CRS: crs, Segments: make([]domain.Segment, 0, len(fc.Features))}
	for i, f := range fc.Features {
		seg, err := segmentFromFeature(f, i)
		if err != nil {
			return domain.SegmentCollection{}, fmt.Errorf("%w: %s feature %d: %v", domain.ErrInvalidInput, path, i, err)
		}
		out.Segments = append(out.Segments, seg)
	}
	return out, nil
}

func segmentFromFeature(f *geojson.Feature, index int) (domain.Segment, error) {
	ls, ok := f.Geometry.(orb.LineString)
	if !ok {
		return domain.Segment{}, fmt.Errorf("geometry is %T, want LineString", f.Geometry)
	}

	seg := domain.Segment{ID: index, Geometry: ls}
	for k, v := range f.Properties {
		switch k {
		case PropSegmentID:
			id, err := toInt(v)
			if err != nil {
				return domain.Segment{}, fmt.Errorf("%s: %w", k, err)
			}
			seg.ID = id
		case PropCentroidLat:
			seg.CentroidLat, _ = v.(float64)
		case PropCentroidLon:
			seg.CentroidLon, _ = v.(float64)
		case PropMatchedTileIDs:
			seg.MatchedTileIDs = toStrings(v)
		case PropAssumedCRSTileIDs:
			seg.AssumedCRSTileIDs = toStrings(v)
		default:
			if seg.Properties == nil {
				seg.Properties = make(map[string]any)
			}
			seg.Properties[k] = v
		}
	}
	return seg, nil
}

// setCRS adds the GDAL-style named crs member.
func setCRS(fc *geojson.FeatureCollection, id string) error {
	name := crs84URN
	if id != "" {
		c, err := geospatial.ParseCRS(id)
		if err != nil {
			return err
		}
		if !c.Equal(geospatial.WGS84) {
			name = "urn:ogc:def:crs:EPSG::" + strconv.Itoa(c.EPSG)
		}
	}
	fc.ExtraMembers = geojson.Properties{
		"crs": map[string]any{
			"type":       "name",
			"properties": map[string]any{"name": name},
		},
	}
	return nil
}

func readCRS(fc *geojson.FeatureCollection) (string, error) {
	member, ok := fc.ExtraMembers["crs"].(map[string]any)
	if !ok {
		return "", nil
	}
	props, _ := member["properties"].(map[string]any)
	name, _ := props["name"].(string)
	if name == "" {
		return "", nil
	}
	c, err := geospatial.ParseCRS(name)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// writeAtomic writes to a temporary file next to path and renames it into
// place, creating the parent directory if needed.
func writeAtomic(path string, fc *geojson.FeatureCollection) error {
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	case int:
		return n, nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

func toStrings(v any) []string {
	out := []string{}
	switch vs := v.(type) {
	case []string:
		out = append(out, vs...)
	case []any:
		for _, s := range vs {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package domain

import (
	"fmt"

	"github.com/paulmach/orb"
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeoLineString represents an ordered sequence of geographic coordinates.
type GeoLineString struct {
	Coordinates []GeoPoint `json:"coordinates"`
}

// Centerline is the river path the corridor and segments are derived from.
type Centerline = GeoLineString

// LineString returns the coordinates as a lon/lat orb.LineString.
func (l GeoLineString) LineString() orb.LineString {
	ls := make(orb.LineString, len(l.Coordinates))
	for i, c := range l.Coordinates {
		ls[i] = orb.Point{c.Lon, c.Lat}
	}
	return ls
}

// Validate checks that the line has at least two valid coordinates.
func (l GeoLineString) Validate() error {
	if len(l.Coordinates) < 2 {
		return fmt.Errorf("%w: centerline needs at least 2 coordinates, got %d", ErrInvalidInput, len(l.Coordinates))
	}
	for i, c := range l.Coordinates {
		if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
			return fmt.Errorf("%w: centerline coordinate %d out of range (lat=%f lon=%f)", ErrInvalidInput, i, c.Lat, c.Lon)
		}
	}
	return nil
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// BoundsFromSlice reads (min_lon, min_lat, max_lon, max_lat), the order archive
// search APIs use.
func BoundsFromSlice(v []float64) (Bounds, error) {
	if len(v) != 4 {
		return Bounds{}, fmt.Errorf("%w: bounding box needs 4 values, got %d", ErrInvalidInput, len(v))
	}
	b := Bounds{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	return b, b.Validate()
}

// Validate checks ordering and coordinate ranges.
func (b Bounds) Validate() error {
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return fmt.Errorf("%w: bounding box min must be below max (%+v)", ErrInvalidInput, b)
	}
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("%w: bounding box out of range (%+v)", ErrInvalidInput, b)
	}
	return nil
}

// Bound returns the box as a lon/lat orb.Bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

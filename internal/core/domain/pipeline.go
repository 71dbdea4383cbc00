package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// Segment is a fixed-length sub-span of the centerline, the unit of spatial matching.
type Segment struct {
	ID          int            `json:"segment_id"`
	Geometry    orb.LineString `json:"-"`
	CentroidLat float64        `json:"centroid_lat"`
	CentroidLon float64        `json:"centroid_lon"`

	// MatchedTileIDs is nil until the matcher runs; afterwards it is always
	// non-nil (empty when no tile intersects).
	MatchedTileIDs []string `json:"matched_tile_ids,omitempty"`
	// AssumedCRSTileIDs is the subset of MatchedTileIDs whose tiles carried no
	// CRS and were taken to already be in the target CRS.
	AssumedCRSTileIDs []string `json:"assumed_crs_tile_ids,omitempty"`

	// Properties holds any extra attributes read from an input file.
	Properties map[string]any `json:"-"`
}

// SegmentCollection is an ordered list of segments in one CRS.
type SegmentCollection struct {
	CRS      string // e.g. "EPSG:32722"; empty when the source declared none
	Segments []Segment
}

// Corridor is the centerline buffered by a fixed planar distance.
type Corridor struct {
	Polygon          orb.Polygon
	CRS              string
	BufferMeters     float64
	AreaSquareMeters float64
}

// CRSStatus records how a tile's coordinate system was established.
type CRSStatus int

const (
	// CRSVerified means the CRS was read from the tile header and the footprint reprojected.
	CRSVerified CRSStatus = iota
	// CRSAssumed means the header carried no CRS and the raw bounds were used as-is.
	CRSAssumed
)

func (s CRSStatus) String() string {
	switch s {
	case CRSVerified:
		return "verified"
	case CRSAssumed:
		return "assumed"
	default:
		return "unknown"
	}
}

// TileMetadata is what a tile header yields: native bounds and an optional EPSG code.
type TileMetadata struct {
	Bounds    orb.Bound
	EPSG      int    // 0 when the header carries no usable CRS
	CRSSource string // "wkt", "geokeys" or ""
}

// Tile is a point-cloud file with its footprint in the target CRS.
type Tile struct {
	Path      string
	Bounds    orb.Bound // native header bounds
	SourceCRS string    // empty when CRSStatus is CRSAssumed
	CRSStatus CRSStatus
	Footprint orb.Polygon
}

// TileDescriptor is one archive search hit.
type TileDescriptor struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	URLs   []string `json:"urls"`
	SizeMB float64  `json:"size_mb,omitempty"`
}

// StageEvent announces that a pipeline stage finished writing its outputs.
type StageEvent struct {
	Stage      string         `json:"stage"`
	Output     string         `json:"output"`
	Counts     map[string]int `json:"counts,omitempty"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Stage names.
const (
	StageCorridor = "corridor"
	StageFetch    = "fetch"
	StageMatch    = "match"
)

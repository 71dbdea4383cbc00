package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/riverscan/riverscan/internal/core/domain"
)

const upsertSegmentSQL = `
	INSERT INTO river_segments (dataset, segment_id, geom, centroid_lat, centroid_lon,
	                            matched_tile_ids, assumed_crs_tile_ids, properties, updated_at)
	VALUES ($1, $2, ST_SetSRID(ST_GeomFromText($3), 4326), $4, $5, $6, $7, $8, now())
	ON CONFLICT (dataset, segment_id) DO UPDATE
	SET geom = EXCLUDED.geom,
	    centroid_lat = EXCLUDED.centroid_lat,
	    centroid_lon = EXCLUDED.centroid_lon,
	    matched_tile_ids = EXCLUDED.matched_tile_ids,
	    assumed_crs_tile_ids = EXCLUDED.assumed_crs_tile_ids,
	    properties = EXCLUDED.properties,
	    updated_at = now()
`

// SegmentRepo implements ports.SegmentRepository with pgx and PostGIS.
type SegmentRepo struct {
	db *DB
}

// NewSegmentRepo creates a new SegmentRepo.
func NewSegmentRepo(db *DB) *SegmentRepo {
	return &SegmentRepo{db: db}
}

// UpsertBatch inserts or updates segments keyed by (dataset, segment_id).
// Geometries must be lon/lat (EPSG:4326).
func (r *SegmentRepo) UpsertBatch(ctx context.Context, dataset string, segments []domain.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range segments {
		batch.Queue(upsertSegmentSQL, segmentArgs(dataset, s)...)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, s := range segments {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec segment %d: %w", s.ID, err)
		}
	}
	return nil
}

// CountUnmatched returns how many segments of a dataset have no tile.
func (r *SegmentRepo) CountUnmatched(ctx context.Context, dataset string) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM river_segments
		WHERE dataset = $1 AND cardinality(matched_tile_ids) = 0
	`, dataset).Scan(&n)
	return n, err
}

func segmentArgs(dataset string, s domain.Segment) []any {
	props := s.Properties
	if props == nil {
		props = map[string]any{}
	}
	return []any{
		dataset,
		s.ID,
		wkt.MarshalString(s.Geometry),
		s.CentroidLat,
		s.CentroidLon,
		nonNil(s.MatchedTileIDs),
		nonNil(s.AssumedCRSTileIDs),
		props,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

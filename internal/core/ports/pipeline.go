package ports

import (
	"context"

	"github.com/riverscan/riverscan/internal/core/domain"
)

// TileArchive searches a remote archive and downloads tile files.
type TileArchive interface {
	Authenticate(ctx context.Context) error
	Search(ctx context.Context, datasetID string, bounds domain.Bounds) ([]domain.TileDescriptor, error)
	// Download writes url to destPath and returns the number of bytes written.
	Download(ctx context.Context, url, destPath string) (int64, error)
}

// TileMetadataReader extracts bounds and CRS from a tile file header.
type TileMetadataReader interface {
	ReadMetadata(path string) (domain.TileMetadata, error)
}

// FeatureStore persists corridors and segment collections.
type FeatureStore interface {
	WriteCorridor(path string, corridor domain.Corridor) error
	WriteSegments(path string, segments domain.SegmentCollection) error
	ReadSegments(path string) (domain.SegmentCollection, error)
}

// SegmentRepository exports matched segments to a database.
type SegmentRepository interface {
	UpsertBatch(ctx context.Context, dataset string, segments []domain.Segment) error
}

// EventPublisher announces finished pipeline stages.
type EventPublisher interface {
	PublishStageCompleted(ctx context.Context, event domain.StageEvent) error
}

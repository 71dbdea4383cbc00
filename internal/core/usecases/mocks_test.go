package usecases_test

import (
	"context"
	"os"
	"path/filepath"

	"github.com/riverscan/riverscan/internal/core/domain"
)

// --- Mock FeatureStore ---

type mockStore struct {
	readFn func(path string) (domain.SegmentCollection, error)

	writeCorridorErr error
	writeSegmentsErr error

	corridors map[string]domain.Corridor
	segments  map[string]domain.SegmentCollection
}

func newMockStore() *mockStore {
	return &mockStore{
		corridors: map[string]domain.Corridor{},
		segments:  map[string]domain.SegmentCollection{},
	}
}

func (m *mockStore) WriteCorridor(path string, c domain.Corridor) error {
	if m.writeCorridorErr != nil {
		return m.writeCorridorErr
	}
	m.corridors[path] = c
	return nil
}

func (m *mockStore) WriteSegments(path string, sc domain.SegmentCollection) error {
	if m.writeSegmentsErr != nil {
		return m.writeSegmentsErr
	}
	m.segments[path] = sc
	return nil
}

func (m *mockStore) ReadSegments(path string) (domain.SegmentCollection, error) {
	if m.readFn != nil {
		return m.readFn(path)
	}
	return domain.SegmentCollection{}, nil
}

// --- Mock TileArchive ---

type mockArchive struct {
	authFn     func(ctx context.Context) error
	searchFn   func(ctx context.Context, datasetID string, b domain.Bounds) ([]domain.TileDescriptor, error)
	downloadFn func(ctx context.Context, url, dest string) (int64, error)

	searchCalls   int
	downloadCalls []string
}

func (m *mockArchive) Authenticate(ctx context.Context) error {
	if m.authFn != nil {
		return m.authFn(ctx)
	}
	return nil
}

func (m *mockArchive) Search(ctx context.Context, datasetID string, b domain.Bounds) ([]domain.TileDescriptor, error) {
	m.searchCalls++
	if m.searchFn != nil {
		return m.searchFn(ctx, datasetID, b)
	}
	return nil, nil
}

func (m *mockArchive) Download(ctx context.Context, url, dest string) (int64, error) {
	m.downloadCalls = append(m.downloadCalls, url)
	if m.downloadFn != nil {
		return m.downloadFn(ctx, url, dest)
	}
	data := []byte("LASF" + url)
	return int64(len(data)), os.WriteFile(dest, data, 0o644)
}

// --- Mock TileMetadataReader ---

type mockReader struct {
	byName map[string]domain.TileMetadata
	errs   map[string]error
	calls  []string
}

func (m *mockReader) ReadMetadata(path string) (domain.TileMetadata, error) {
	name := filepath.Base(path)
	m.calls = append(m.calls, name)
	if err, ok := m.errs[name]; ok {
		return domain.TileMetadata{}, err
	}
	return m.byName[name], nil
}

// --- Mock SegmentRepository ---

type mockSegmentRepo struct {
	dataset  string
	segments []domain.Segment
	err      error
}

func (m *mockSegmentRepo) UpsertBatch(ctx context.Context, dataset string, segments []domain.Segment) error {
	m.dataset = dataset
	m.segments = segments
	return m.err
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	events []domain.StageEvent
	err    error
}

func (m *mockPublisher) PublishStageCompleted(ctx context.Context, ev domain.StageEvent) error {
	m.events = append(m.events, ev)
	return m.err
}

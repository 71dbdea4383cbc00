package usecases_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/core/usecases"
)

var xinguBounds = domain.Bounds{MinLon: -53.5, MinLat: -11.5, MaxLon: -52.9, MaxLat: -10.9}

func twoGranules() []domain.TileDescriptor {
	return []domain.TileDescriptor{
		{ID: "G1", URLs: []string{
			"https://data.example.org/xingu/NP_T-0001.laz",
			"https://data.example.org/xingu/NP_T-0001.xml",
		}},
		{ID: "G2", URLs: []string{
			"https://data.example.org/xingu/NP_T-0002.laz?token=abc",
		}},
	}
}

func TestFetchService_Run(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lidar_data")
	archive := &mockArchive{
		searchFn: func(ctx context.Context, datasetID string, b domain.Bounds) ([]domain.TileDescriptor, error) {
			if datasetID != "10.3334/ORNLDAAC/1644" {
				t.Errorf("unexpected dataset %q", datasetID)
			}
			if b != xinguBounds {
				t.Errorf("unexpected bounds %+v", b)
			}
			return twoGranules(), nil
		},
		downloadFn: func(ctx context.Context, url, dest string) (int64, error) {
			if !strings.HasSuffix(dest, ".part") {
				t.Errorf("download must go to a partial file, got %s", dest)
			}
			return 4, os.WriteFile(dest, []byte("LASF"), 0o644)
		},
	}
	pub := &mockPublisher{}
	svc := usecases.NewFetchService(archive, pub)

	res, err := svc.Run(context.Background(), usecases.FetchInput{
		DatasetID:  "10.3334/ORNLDAAC/1644",
		Bounds:     xinguBounds,
		Dir:        dir,
		Extensions: []string{".laz"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Found != 2 || res.Downloaded != 2 || res.Skipped != 0 || res.Failed != 0 {
		t.Errorf("unexpected counts: %+v", res)
	}
	if len(archive.downloadCalls) != 2 {
		t.Errorf("expected 2 downloads (xml filtered), got %v", archive.downloadCalls)
	}

	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "NP_T-0001.laz,NP_T-0002.laz" {
		t.Errorf("unexpected files on disk: %v", names)
	}

	if len(pub.events) != 1 || pub.events[0].Stage != domain.StageFetch || pub.events[0].Counts["downloaded"] != 2 {
		t.Errorf("unexpected events: %+v", pub.events)
	}
}

func TestFetchService_Run_Idempotent(t *testing.T) {
	dir := t.TempDir()
	archive := &mockArchive{
		searchFn: func(ctx context.Context, datasetID string, b domain.Bounds) ([]domain.TileDescriptor, error) {
			return twoGranules(), nil
		},
	}
	svc := usecases.NewFetchService(archive, nil)
	in := usecases.FetchInput{DatasetID: "ds", Bounds: xinguBounds, Dir: dir, Extensions: []string{"laz"}}

	if _, err := svc.Run(context.Background(), in); err != nil {
		t.Fatalf("first run: %v", err)
	}
	archive.downloadCalls = nil

	res, err := svc.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Skipped != 2 || res.Downloaded != 0 {
		t.Errorf("second run should skip everything: %+v", res)
	}
	if len(archive.downloadCalls) != 0 {
		t.Errorf("no downloads expected on re-run, got %v", archive.downloadCalls)
	}
	if len(res.Paths) != 2 {
		t.Errorf("skipped files must still be listed, got %v", res.Paths)
	}
}

func TestFetchService_Run_EmptyFileIsDownloadedAgain(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "NP_T-0001.laz"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	archive := &mockArchive{
		searchFn: func(ctx context.Context, datasetID string, b domain.Bounds) ([]domain.TileDescriptor, error) {
			return twoGranules()[:1], nil
		},
	}
	svc := usecases.NewFetchService(archive, nil)

	res, err := svc.Run(context.Background(), usecases.FetchInput{DatasetID: "ds", Bounds: xinguBounds, Dir: dir, Extensions: []string{".laz"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Downloaded != 1 || res.Skipped != 0 {
		t.Errorf("zero-byte file should be replaced: %+v", res)
	}
}

func TestFetchService_Run_FailuresAreCounted(t *testing.T) {
	dir := t.TempDir()
	archive := &mockArchive{
		searchFn: func(ctx context.Context, datasetID string, b domain.Bounds) ([]domain.TileDescriptor, error) {
			return twoGranules(), nil
		},
		downloadFn: func(ctx context.Context, url, dest string) (int64, error) {
			if strings.Contains(url, "0002") {
				_ = os.WriteFile(dest, []byte("LA"), 0o644)
				return 2, errors.New("connection reset")
			}
			return 4, os.WriteFile(dest, []byte("LASF"), 0o644)
		},
	}
	pub := &mockPublisher{}
	svc := usecases.NewFetchService(archive, pub)

	res, err := svc.Run(context.Background(), usecases.FetchInput{DatasetID: "ds", Bounds: xinguBounds, Dir: dir})
	if err != nil {
		t.Fatalf("per-file failures must not fail the run: %v", err)
	}
	// no extension filter: the xml sidecar is downloaded too
	if res.Downloaded != 2 || res.Failed != 1 {
		t.Errorf("unexpected counts: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "NP_T-0002.laz.part")); !os.IsNotExist(err) {
		t.Error("partial file should be removed after a failed download")
	}
	if _, err := os.Stat(filepath.Join(dir, "NP_T-0002.laz")); !os.IsNotExist(err) {
		t.Error("failed download must not leave a final file")
	}
	if len(pub.events) != 1 || pub.events[0].Counts["failed"] != 1 {
		t.Errorf("unexpected events: %+v", pub.events)
	}
}

func TestFetchService_Run_AuthenticationFailure(t *testing.T) {
	archive := &mockArchive{
		authFn: func(ctx context.Context) error { return errors.New("bad credentials") },
	}
	svc := usecases.NewFetchService(archive, nil)

	_, err := svc.Run(context.Background(), usecases.FetchInput{DatasetID: "ds", Bounds: xinguBounds, Dir: t.TempDir()})
	if !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if archive.searchCalls != 0 {
		t.Error("search must not run after a failed login")
	}
}

func TestFetchService_Run_SearchFailure(t *testing.T) {
	archive := &mockArchive{
		searchFn: func(ctx context.Context, datasetID string, b domain.Bounds) ([]domain.TileDescriptor, error) {
			return nil, errors.New("cmr unavailable")
		},
	}
	svc := usecases.NewFetchService(archive, nil)

	_, err := svc.Run(context.Background(), usecases.FetchInput{DatasetID: "ds", Bounds: xinguBounds, Dir: t.TempDir()})
	if !errors.Is(err, domain.ErrArchiveSearch) {
		t.Fatalf("expected ErrArchiveSearch, got %v", err)
	}
}

func TestFetchService_Run_NoGranules(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "new")
	archive := &mockArchive{}
	pub := &mockPublisher{}
	svc := usecases.NewFetchService(archive, pub)

	res, err := svc.Run(context.Background(), usecases.FetchInput{DatasetID: "ds", Bounds: xinguBounds, Dir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Found != 0 || res.Downloaded != 0 {
		t.Errorf("unexpected counts: %+v", res)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Error("download directory should be created")
	}
	if len(archive.downloadCalls) != 0 || len(pub.events) != 0 {
		t.Error("nothing should happen after an empty search")
	}
}

func TestFetchService_Run_DirIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "lidar_data")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	archive := &mockArchive{}
	svc := usecases.NewFetchService(archive, nil)

	_, err := svc.Run(context.Background(), usecases.FetchInput{DatasetID: "ds", Bounds: xinguBounds, Dir: file})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if archive.searchCalls != 0 {
		t.Error("search must not run when the directory is unusable")
	}
}

func TestFetchService_Run_InvalidInput(t *testing.T) {
	svc := usecases.NewFetchService(&mockArchive{}, nil)

	tests := []struct {
		name string
		in   usecases.FetchInput
	}{
		{"no dataset", usecases.FetchInput{Bounds: xinguBounds, Dir: "d"}},
		{"inverted bbox", usecases.FetchInput{DatasetID: "ds", Bounds: domain.Bounds{MinLon: 1, MaxLon: 0, MinLat: 0, MaxLat: 1}, Dir: "d"}},
		{"no dir", usecases.FetchInput{DatasetID: "ds", Bounds: xinguBounds}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Run(context.Background(), tt.in); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

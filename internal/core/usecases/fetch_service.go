package usecases

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/core/ports"
	"github.com/riverscan/riverscan/internal/pkg/metrics"
	"github.com/riverscan/riverscan/internal/pkg/telemetry"
)

const partSuffix = ".part"

// FetchInput describes which tiles to download and where.
type FetchInput struct {
	DatasetID string
	Bounds    domain.Bounds
	Dir       string
	// Extensions limits downloads to these file extensions; empty keeps all.
	Extensions []string
}

// FetchResult counts what happened to each file.
type FetchResult struct {
	Found      int // granules returned by the search
	Downloaded int
	Skipped    int // already present and non-empty
	Failed     int
	Paths      []string // every tile present locally after the run
}

// FetchService downloads archive tiles covering a bounding box.
type FetchService struct {
	archive ports.TileArchive
	events  ports.EventPublisher
}

// NewFetchService creates a new FetchService. events may be nil.
func NewFetchService(archive ports.TileArchive, events ports.EventPublisher) *FetchService {
	return &FetchService{archive: archive, events: events}
}

// Run authenticates, searches and downloads every matching file that is not
// already on disk. Per-file failures are counted and do not stop the run.
func (s *FetchService) Run(ctx context.Context, in FetchInput) (*FetchResult, error) {
	start := time.Now()
	defer metrics.ObserveStage(domain.StageFetch, start)

	if in.DatasetID == "" {
		return nil, fmt.Errorf("%w: dataset id is required", domain.ErrInvalidInput)
	}
	if err := in.Bounds.Validate(); err != nil {
		return nil, err
	}
	if in.Dir == "" {
		return nil, fmt.Errorf("%w: download directory is required", domain.ErrInvalidInput)
	}

	authCtx, authSpan := telemetry.Tracer().Start(ctx, telemetry.SpanFetchAuth)
	err := s.archive.Authenticate(authCtx)
	authSpan.End()
	if err != nil {
		if !errors.Is(err, domain.ErrAuthentication) {
			err = fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
		}
		return nil, err
	}
	slog.Info("authenticated with archive")

	if err := ensureDir(in.Dir); err != nil {
		return nil, err
	}

	searchCtx, searchSpan := telemetry.Tracer().Start(ctx, telemetry.SpanFetchSearch)
	granules, err := s.archive.Search(searchCtx, in.DatasetID, in.Bounds)
	searchSpan.End()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArchiveSearch, err)
	}

	res := &FetchResult{Found: len(granules)}
	metrics.TilesFetched.WithLabelValues("found").Add(float64(len(granules)))
	if len(granules) == 0 {
		slog.Info("no granules found", "dataset", in.DatasetID, "bbox", in.Bounds)
		return res, nil
	}
	slog.Info("granules found", "dataset", in.DatasetID, "count", len(granules))

	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanFetchDownload)
	defer span.End()

	for _, g := range granules {
		for _, u := range g.URLs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if !matchesExtension(u, in.Extensions) {
				continue
			}
			s.fetchOne(ctx, g, u, in.Dir, res)
		}
	}

	slog.Info("fetch finished",
		"found", res.Found,
		"downloaded", res.Downloaded,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"dir", in.Dir,
	)
	if res.Failed > 0 {
		slog.Warn("some files could not be downloaded", "failed", res.Failed)
	}

	publishStage(ctx, s.events, domain.StageFetch, in.Dir, map[string]int{
		"found":      res.Found,
		"downloaded": res.Downloaded,
		"skipped":    res.Skipped,
		"failed":     res.Failed,
	})
	return res, nil
}

func (s *FetchService) fetchOne(ctx context.Context, g domain.TileDescriptor, rawURL, dir string, res *FetchResult) {
	name := fileName(rawURL)
	if name == "" {
		slog.Warn("cannot derive file name from url", "granule", g.ID, "url", rawURL)
		res.Failed++
		metrics.TilesFetched.WithLabelValues("failed").Inc()
		return
	}
	dest := filepath.Join(dir, name)

	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		slog.Debug("already downloaded", "file", dest)
		res.Skipped++
		res.Paths = append(res.Paths, dest)
		metrics.TilesFetched.WithLabelValues("skipped").Inc()
		return
	}

	part := dest + partSuffix
	n, err := s.archive.Download(ctx, rawURL, part)
	if err == nil {
		err = os.Rename(part, dest)
	}
	if err != nil {
		_ = os.Remove(part)
		slog.Warn("download failed", "granule", g.ID, "url", rawURL, "error", err)
		res.Failed++
		metrics.TilesFetched.WithLabelValues("failed").Inc()
		return
	}

	slog.Info("downloaded", "file", dest, "bytes", n)
	res.Downloaded++
	res.Paths = append(res.Paths, dest)
	metrics.TilesFetched.WithLabelValues("downloaded").Inc()
	metrics.BytesDownloaded.Add(float64(n))
}

// ensureDir creates dir if missing and refuses a non-directory in its place.
func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("%w: %s exists but is not a directory", domain.ErrInvalidInput, dir)
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("creating download directory", "dir", dir)
		return os.MkdirAll(dir, 0o755)
	default:
		return err
	}
}

func fileName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func matchesExtension(rawURL string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	name := strings.ToLower(fileName(rawURL))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"

	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/core/ports"
)

// ErrMiss is returned by a store when the key is absent.
var ErrMiss = errors.New("cache miss")

const (
	keyPrefix      = "riverscan:tile:"
	requestTimeout = 2 * time.Second
)

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// cachedMetadata is the stored form of domain.TileMetadata.
type cachedMetadata struct {
	Bounds    [4]float64 `json:"bounds"` // min_x, min_y, max_x, max_y
	EPSG      int        `json:"epsg"`
	CRSSource string     `json:"crs_source,omitempty"`
}

// TileMetadataCache wraps a TileMetadataReader and remembers header results
// per file version (path, size and modification time), so re-scanning an
// unchanged tile directory skips the header parse. Cache failures fall back
// to the wrapped reader; read errors are never cached.
type TileMetadataCache struct {
	next  ports.TileMetadataReader
	store store
	ttl   time.Duration
}

// NewTileMetadataCache creates a cache in front of next.
func NewTileMetadataCache(next ports.TileMetadataReader, cache *Cache, ttl time.Duration) *TileMetadataCache {
	return &TileMetadataCache{next: next, store: cache, ttl: ttl}
}

// ReadMetadata implements ports.TileMetadataReader.
func (c *TileMetadataCache) ReadMetadata(path string) (domain.TileMetadata, error) {
	key, err := tileKey(path)
	if err != nil {
		return c.next.ReadMetadata(path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if raw, err := c.store.Get(ctx, key); err == nil {
		var cm cachedMetadata
		if err := json.Unmarshal(raw, &cm); err == nil {
			return cm.metadata(), nil
		}
	} else if !errors.Is(err, ErrMiss) {
		slog.Debug("tile cache read failed", "file", path, "error", err)
	}

	md, err := c.next.ReadMetadata(path)
	if err != nil {
		return md, err
	}

	raw, _ := json.Marshal(fromMetadata(md))
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		slog.Debug("tile cache write failed", "file", path, "error", err)
	}
	return md, nil
}

func tileKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s:%d:%d", keyPrefix, abs, info.Size(), info.ModTime().UnixNano()), nil
}

func fromMetadata(md domain.TileMetadata) cachedMetadata {
	return cachedMetadata{
		Bounds:    [4]float64{md.Bounds.Min[0], md.Bounds.Min[1], md.Bounds.Max[0], md.Bounds.Max[1]},
		EPSG:      md.EPSG,
		CRSSource: md.CRSSource,
	}
}

func (cm cachedMetadata) metadata() domain.TileMetadata {
	return domain.TileMetadata{
		Bounds: orb.Bound{
			Min: orb.Point{cm.Bounds[0], cm.Bounds[1]},
			Max: orb.Point{cm.Bounds[2], cm.Bounds[3]},
		},
		EPSG:      cm.EPSG,
		CRSSource: cm.CRSSource,
	}
}

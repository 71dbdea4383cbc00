package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/pkg/geospatial"
)

// Config holds all pipeline configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Corridor  CorridorConfig  `mapstructure:"corridor"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Earthdata EarthdataConfig `mapstructure:"earthdata"`
	Match     MatchConfig     `mapstructure:"match"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CorridorConfig drives the corridor/segment builder.
type CorridorConfig struct {
	// Centerline holds [lon, lat] pairs.
	Centerline          [][]float64 `mapstructure:"centerline"`
	PlanarCRS           string      `mapstructure:"planar_crs"`
	BufferMeters        float64     `mapstructure:"buffer_m"`
	SegmentLengthMeters float64     `mapstructure:"segment_length_m"`
	OutputDir           string      `mapstructure:"output_dir"`
	CorridorFile        string      `mapstructure:"corridor_file"`
	SegmentsFile        string      `mapstructure:"segments_file"`
}

// CenterlineValue converts the configured pairs into a domain.Centerline.
func (c CorridorConfig) CenterlineValue() (domain.Centerline, error) {
	var cl domain.Centerline
	for i, p := range c.Centerline {
		if len(p) != 2 {
			return domain.Centerline{}, fmt.Errorf("%w: centerline point %d needs [lon, lat], got %v", domain.ErrInvalidInput, i, p)
		}
		cl.Coordinates = append(cl.Coordinates, domain.GeoPoint{Lon: p[0], Lat: p[1]})
	}
	return cl, cl.Validate()
}

// FetchConfig drives the tile fetcher.
type FetchConfig struct {
	DatasetID  string    `mapstructure:"dataset_id"`
	BBox       []float64 `mapstructure:"bbox"` // min_lon, min_lat, max_lon, max_lat
	Dir        string    `mapstructure:"dir"`
	Extensions []string  `mapstructure:"extensions"`
}

type EarthdataConfig struct {
	Strategy  string `mapstructure:"strategy"`
	NetrcPath string `mapstructure:"netrc_path"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	URSURL    string `mapstructure:"urs_url"`
	CMRURL    string `mapstructure:"cmr_url"`
	PageSize  int    `mapstructure:"page_size"`
	Timeout   int    `mapstructure:"timeout"` // seconds, per request
}

// MatchConfig drives the segment/tile matcher.
type MatchConfig struct {
	SegmentsFile string `mapstructure:"segments_file"`
	TileDir      string `mapstructure:"tile_dir"`
	OutputFile   string `mapstructure:"output_file"`
	TargetCRS    string `mapstructure:"target_crs"`
	DefaultCRS   string `mapstructure:"default_crs"`
	Dataset      string `mapstructure:"dataset"` // label for exported rows
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// NATSConfig enables stage notifications when URL is set.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// CacheConfig enables the Valkey tile header cache when ValkeyAddr is set.
type CacheConfig struct {
	ValkeyAddr string `mapstructure:"valkey_addr"`
	TTL        int    `mapstructure:"ttl"` // seconds
}

// ServerConfig enables the status server of long-running modes when Addr is set.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
	Enabled     bool   `mapstructure:"enabled"`
}

// MetricsConfig names a node_exporter textfile to write on exit; empty disables it.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// flagKeys maps command-line flag names to config keys. Only flags a tool
// actually defines are bound.
var flagKeys = map[string]string{
	"log-level":        "log.level",
	"log-format":       "log.format",
	"planar-crs":       "corridor.planar_crs",
	"buffer":           "corridor.buffer_m",
	"segment-length":   "corridor.segment_length_m",
	"output-dir":       "corridor.output_dir",
	"dataset":          "fetch.dataset_id",
	"bbox":             "fetch.bbox",
	"download-dir":     "fetch.dir",
	"extensions":       "fetch.extensions",
	"auth-strategy":    "earthdata.strategy",
	"netrc":            "earthdata.netrc_path",
	"segments":         "match.segments_file",
	"tile-dir":         "match.tile_dir",
	"output":           "match.output_file",
	"target-crs":       "match.target_crs",
	"default-crs":      "match.default_crs",
	"export":           "database.enabled",
	"nats-url":         "nats.url",
	"valkey-addr":      "cache.valkey_addr",
	"status-addr":      "server.addr",
	"metrics-textfile": "metrics.textfile",
}

// Load reads configuration from defaults, an optional config file, environment
// variables and the given flags, in increasing order of precedence. flags may
// be nil.
func Load(service string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("corridor.centerline", [][]float64{{-53.446, -11.133}, {-53.416, -11.096}})
	v.SetDefault("corridor.planar_crs", "EPSG:32722")
	v.SetDefault("corridor.buffer_m", 2500.0)
	v.SetDefault("corridor.segment_length_m", 1000.0)
	v.SetDefault("corridor.output_dir", "gis_outputs")
	v.SetDefault("corridor.corridor_file", "river_corridor_5km.geojson")
	v.SetDefault("corridor.segments_file", "river_segments.geojson")

	v.SetDefault("fetch.dataset_id", "10.3334/ORNLDAAC/1644")
	v.SetDefault("fetch.bbox", []float64{-53.5, -11.5, -52.9, -10.9})
	v.SetDefault("fetch.dir", "lidar_data")
	v.SetDefault("fetch.extensions", []string{})

	v.SetDefault("earthdata.strategy", "netrc")
	v.SetDefault("earthdata.netrc_path", "")
	v.SetDefault("earthdata.username", "")
	v.SetDefault("earthdata.password", "")
	v.SetDefault("earthdata.urs_url", "https://urs.earthdata.nasa.gov")
	v.SetDefault("earthdata.cmr_url", "https://cmr.earthdata.nasa.gov")
	v.SetDefault("earthdata.page_size", 500)
	v.SetDefault("earthdata.timeout", 600)

	v.SetDefault("match.segments_file", "gis_outputs/river_segments.geojson")
	v.SetDefault("match.tile_dir", "lidar_data")
	v.SetDefault("match.output_file", "gis_outputs/river_segments_with_lidar.geojson")
	v.SetDefault("match.target_crs", "EPSG:32722")
	v.SetDefault("match.default_crs", "EPSG:4326")
	v.SetDefault("match.dataset", "xingu")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "riverscan")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "riverscan")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("nats.url", "")
	v.SetDefault("cache.valkey_addr", "")
	v.SetDefault("cache.ttl", 7*24*3600)
	v.SetDefault("server.addr", "")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("metrics.textfile", "")

	// Config file (optional)
	configFile := ""
	if flags != nil {
		configFile, _ = flags.GetString("config")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		_ = v.ReadInConfig() // OK if missing
	}

	// Environment variables: RIVERSCAN_MATCH_TILE_DIR → match.tile_dir
	v.SetEnvPrefix("RIVERSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if _, err := c.Corridor.CenterlineValue(); err != nil {
		errs = append(errs, "corridor.centerline: "+err.Error())
	}
	if crs, err := geospatial.ParseCRS(c.Corridor.PlanarCRS); err != nil {
		errs = append(errs, "corridor.planar_crs: "+err.Error())
	} else if !crs.Planar() {
		errs = append(errs, fmt.Sprintf("corridor.planar_crs must be a projected CRS, got %s", crs))
	}
	if c.Corridor.BufferMeters <= 0 {
		errs = append(errs, fmt.Sprintf("corridor.buffer_m must be positive, got %g", c.Corridor.BufferMeters))
	}
	if c.Corridor.SegmentLengthMeters <= 0 {
		errs = append(errs, fmt.Sprintf("corridor.segment_length_m must be positive, got %g", c.Corridor.SegmentLengthMeters))
	}
	if c.Corridor.CorridorFile == "" || c.Corridor.SegmentsFile == "" {
		errs = append(errs, "corridor.corridor_file and corridor.segments_file are required")
	}

	if c.Fetch.DatasetID == "" {
		errs = append(errs, "fetch.dataset_id is required")
	}
	if _, err := domain.BoundsFromSlice(c.Fetch.BBox); err != nil {
		errs = append(errs, "fetch.bbox: "+err.Error())
	}
	if c.Fetch.Dir == "" {
		errs = append(errs, "fetch.dir is required")
	}
	switch c.Earthdata.Strategy {
	case "netrc", "environment":
	default:
		errs = append(errs, fmt.Sprintf("earthdata.strategy must be netrc or environment, got %q", c.Earthdata.Strategy))
	}
	if c.Earthdata.PageSize <= 0 || c.Earthdata.PageSize > 2000 {
		errs = append(errs, fmt.Sprintf("earthdata.page_size must be 1-2000, got %d", c.Earthdata.PageSize))
	}
	if c.Earthdata.Timeout < 0 {
		errs = append(errs, "earthdata.timeout must not be negative")
	}

	if c.Match.SegmentsFile == "" || c.Match.TileDir == "" || c.Match.OutputFile == "" {
		errs = append(errs, "match.segments_file, match.tile_dir and match.output_file are required")
	}
	if _, err := geospatial.ParseCRS(c.Match.TargetCRS); err != nil {
		errs = append(errs, "match.target_crs: "+err.Error())
	}
	if _, err := geospatial.ParseCRS(c.Match.DefaultCRS); err != nil {
		errs = append(errs, "match.default_crs: "+err.Error())
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	}
	if c.Cache.ValkeyAddr != "" && c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Sprintf("cache.ttl must be positive, got %d", c.Cache.TTL))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, "telemetry.endpoint is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

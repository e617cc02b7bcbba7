package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/downfa11-org/readindex/util"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables of a read index container.
type Config struct {
	LogLevel util.LogLevel `yaml:"log_level" json:"log_level"`

	// Durable storage
	DataDir string `yaml:"data_dir" json:"data.dir"`

	// Read index
	MaxRedirectDepth int   `yaml:"max_redirect_depth" json:"max.redirect.depth"`
	MaxReadBytes     int64 `yaml:"max_read_bytes" json:"max.read.bytes"`

	// Cache
	CacheCapacity     int  `yaml:"cache_capacity" json:"cache.capacity"`
	CacheSkipChecksum bool `yaml:"cache_skip_checksum" json:"cache.skip.checksum"`

	// Unflushed bytes per segment that trigger a flush to storage on append. 0 disables it.
	FlushThresholdBytes int64 `yaml:"flush_threshold_bytes" json:"flush.threshold.bytes"`

	// Metrics
	EnableExporter bool `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int  `yaml:"exporter_port" json:"exporter.port"`
}

const (
	DefaultDataDir             = "readindex-data"
	DefaultMaxRedirectDepth    = 64
	DefaultMaxReadBytes        = 16 << 20
	DefaultCacheCapacity       = 4096
	DefaultFlushThresholdBytes = 4 << 20
	DefaultExporterPort        = 9100
)

// LoadConfig builds a Config from, in increasing precedence: flag defaults, the config file
// (--config or CONFIG_PATH), READINDEX_* environment variables and explicitly set flags.
func LoadConfig(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("readindex", pflag.ContinueOnError)

	configPath := fs.String("config", "", "Path to YAML or JSON (comments allowed) config file")
	logLevelStr := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	dataDir := fs.String("data-dir", DefaultDataDir, "Directory holding segment storage files")
	maxDepth := fs.Int("max-redirect-depth", DefaultMaxRedirectDepth, "Merge redirects followed before a read fails")
	maxRead := fs.Int64("max-read-bytes", DefaultMaxReadBytes, "Largest window a single read may cover")
	cacheCapacity := fs.Int("cache-capacity", DefaultCacheCapacity, "Number of blocks kept in the cache")
	skipChecksum := fs.Bool("cache-skip-checksum", false, "Do not verify cached block checksums on read")
	flushThreshold := fs.Int64("flush-threshold-bytes", DefaultFlushThresholdBytes, "Unflushed bytes that trigger a flush (0 = manual)")
	exporter := fs.Bool("exporter", false, "Enable Prometheus exporter")
	exporterPort := fs.Int("exporter-port", DefaultExporterPort, "Exporter port")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	cfg := &Config{
		DataDir:             *dataDir,
		MaxRedirectDepth:    *maxDepth,
		MaxReadBytes:        *maxRead,
		CacheCapacity:       *cacheCapacity,
		CacheSkipChecksum:   *skipChecksum,
		FlushThresholdBytes: *flushThreshold,
		EnableExporter:      *exporter,
		ExporterPort:        *exporterPort,
	}
	cfg.LogLevel, _ = util.ParseLogLevel(*logLevelStr)

	if *configPath != "" {
		if err := loadFile(*configPath, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel, _ = util.ParseLogLevel(*logLevelStr)
		case "data-dir":
			cfg.DataDir = *dataDir
		case "max-redirect-depth":
			cfg.MaxRedirectDepth = *maxDepth
		case "max-read-bytes":
			cfg.MaxReadBytes = *maxRead
		case "cache-capacity":
			cfg.CacheCapacity = *cacheCapacity
		case "cache-skip-checksum":
			cfg.CacheSkipChecksum = *skipChecksum
		case "flush-threshold-bytes":
			cfg.FlushThresholdBytes = *flushThreshold
		case "exporter":
			cfg.EnableExporter = *exporter
		case "exporter-port":
			cfg.ExporterPort = *exporterPort
		}
	})

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".hujson", ".jsonc":
		std, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := json.Unmarshal(std, cfg); err != nil {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	return nil
}

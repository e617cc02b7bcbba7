package config

import (
	"os"
	"strings"

	"github.com/downfa11-org/readindex/util"
)

func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.MaxRedirectDepth <= 0 {
		util.Warn("Invalid max_redirect_depth (%d), defaulting to %d", cfg.MaxRedirectDepth, DefaultMaxRedirectDepth)
		cfg.MaxRedirectDepth = DefaultMaxRedirectDepth
	}
	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = DefaultMaxReadBytes
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.FlushThresholdBytes < 0 {
		cfg.FlushThresholdBytes = 0
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = DefaultExporterPort
	}
	if cfg.LogLevel < util.LogLevelDebug || cfg.LogLevel > util.LogLevelError {
		cfg.LogLevel = util.LogLevelInfo
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("READINDEX_LOG_LEVEL"); v != "" {
		if level, ok := util.ParseLogLevel(v); ok {
			cfg.LogLevel = level
		}
	}
	overrideEnvString(&cfg.DataDir, "READINDEX_DATA_DIR")
	overrideEnvInt(&cfg.MaxRedirectDepth, "READINDEX_MAX_REDIRECT_DEPTH")
	overrideEnvInt64(&cfg.MaxReadBytes, "READINDEX_MAX_READ_BYTES")
	overrideEnvInt(&cfg.CacheCapacity, "READINDEX_CACHE_CAPACITY")
	overrideEnvBool(&cfg.CacheSkipChecksum, "READINDEX_CACHE_SKIP_CHECKSUM")
	overrideEnvInt64(&cfg.FlushThresholdBytes, "READINDEX_FLUSH_THRESHOLD_BYTES")
	overrideEnvBool(&cfg.EnableExporter, "READINDEX_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "READINDEX_EXPORTER_PORT")
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvInt64(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt64(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

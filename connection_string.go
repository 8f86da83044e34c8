package minikv

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/RichardKnop/minikv/internal/minikv"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// ConnectionConfig holds parsed connection string parameters
type ConnectionConfig struct {
	Path       string // Store directory, or data file with NoSubdir
	MapSize    int64  // Memory map size in bytes (default: 0 = stored size or 10MiB)
	MaxReaders int    // Reader slots (default: 126)
	LogLevel   string // Log level: debug, info, warn, error (default: warn)
	Sync       bool   // fsync on commit (default: false)
	AutoGrow   bool   // Grow the map instead of failing when full (default: false)
	MaxMapSize int64  // Upper bound for AutoGrow (default: 0 = unbounded)
	NoSubdir   bool   // Path is the data file (default: false)
	ReadOnly   bool   // Open read-only (default: false)
	CacheSize  int64  // Decoded pages to cache (default: 1024)
}

// DefaultConnectionConfig returns default configuration
func DefaultConnectionConfig(path string) *ConnectionConfig {
	return &ConnectionConfig{
		Path:       path,
		MaxReaders: minikv.DefaultMaxReaders,
		LogLevel:   "warn",
		CacheSize:  minikv.DefaultCacheSize,
	}
}

// ParseConnectionString parses a connection string with optional query parameters.
//
// Format: /path/to/store?param1=value1&param2=value2
//
// Supported parameters:
//   - map_size=25MB|26214400 : Memory map size, humanized or in bytes
//   - max_readers=N          : Maximum concurrent read transactions (default: 126)
//   - log_level=debug|info|warn|error : Set logging level (default: warn)
//   - sync=true|false        : fsync on every commit (default: false)
//   - auto_grow=true|false   : Grow the map when full (default: false)
//   - max_map_size=1GB       : Limit for auto_grow
//   - no_subdir=true|false   : Path is the data file, not a directory
//   - read_only=true|false   : Open read-only
//   - cache_size=N           : Decoded pages kept in memory (0 disables)
//
// Examples:
//   - "./data"                             : Default settings
//   - "./data?map_size=25MiB"              : Larger map
//   - "./data?max_readers=200&sync=true"   : More readers, durable commits
func ParseConnectionString(connStr string) (*ConnectionConfig, error) {
	// Split on first '?' to separate path from query params
	parts := strings.SplitN(connStr, "?", 2)

	if parts[0] == "" {
		return nil, fmt.Errorf("invalid connection string: path cannot be empty")
	}
	config := DefaultConnectionConfig(parts[0])

	// No query parameters
	if len(parts) == 1 {
		return config, nil
	}

	// Parse query parameters
	queryParams, err := url.ParseQuery(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid connection string query parameters: %w", err)
	}

	if s := queryParams.Get("map_size"); s != "" {
		size, err := parseSize(s)
		if err != nil {
			return nil, fmt.Errorf("invalid map_size parameter: %w", err)
		}
		config.MapSize = size
	}

	if s := queryParams.Get("max_map_size"); s != "" {
		size, err := parseSize(s)
		if err != nil {
			return nil, fmt.Errorf("invalid max_map_size parameter: %w", err)
		}
		config.MaxMapSize = size
	}

	if s := queryParams.Get("max_readers"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid max_readers parameter: must be a positive integer, got %q", s)
		}
		if n < 1 {
			return nil, fmt.Errorf("invalid max_readers parameter: must be at least 1, got %d", n)
		}
		config.MaxReaders = n
	}

	if s := queryParams.Get("cache_size"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cache_size parameter: must be a positive integer, got %q", s)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid cache_size parameter: must be non-negative, got %d", n)
		}
		config.CacheSize = n
	}

	// Parse log_level parameter
	if logLevel := queryParams.Get("log_level"); logLevel != "" {
		logLevel = strings.ToLower(logLevel)
		switch logLevel {
		case "debug", "info", "warn", "error":
			config.LogLevel = logLevel
		default:
			return nil, fmt.Errorf("invalid log_level parameter: must be 'debug', 'info', 'warn', or 'error', got %q", logLevel)
		}
	}

	flags := []struct {
		name  string
		value *bool
	}{
		{"sync", &config.Sync},
		{"auto_grow", &config.AutoGrow},
		{"no_subdir", &config.NoSubdir},
		{"read_only", &config.ReadOnly},
	}
	for _, flag := range flags {
		s := queryParams.Get(flag.name)
		if s == "" {
			continue
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s parameter: must be 'true' or 'false', got %q", flag.name, s)
		}
		*flag.value = b
	}

	return config, nil
}

// parseSize accepts plain byte counts and humanized sizes like 25MB or 1GiB.
func parseSize(s string) (int64, error) {
	size, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if size > math.MaxInt64 {
		return 0, fmt.Errorf("size %q too large", s)
	}
	return int64(size), nil
}

// Options converts the configuration into Open options.
func (c *ConnectionConfig) Options() []Option {
	opts := []Option{
		WithMapSize(c.MapSize),
		WithMaxReaders(c.MaxReaders),
		WithLogLevel(c.LogLevel),
		WithSync(c.Sync),
		WithNoSubdir(c.NoSubdir),
		WithReadOnly(c.ReadOnly),
		WithCacheSize(c.CacheSize),
	}
	if c.AutoGrow {
		opts = append(opts, WithAutoGrow(c.MaxMapSize))
	}
	return opts
}

// GetZapLevel converts log level string to zap.Level
func (c *ConnectionConfig) GetZapLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	}
}

package minikv

import (
	"github.com/RichardKnop/minikv/internal/minikv"
	"go.uber.org/zap"
)

type config struct {
	options  minikv.Options
	logger   *zap.Logger
	logLevel string
}

func defaultConfig() *config {
	return &config{
		options:  minikv.DefaultOptions(),
		logLevel: "warn",
	}
}

// Option configures Open.
type Option func(*config)

// WithMapSize sets the size of the memory map in bytes, the hard limit
// on how large the store may grow.
func WithMapSize(size int64) Option {
	return func(c *config) {
		c.options.MapSize = size
	}
}

func WithMaxReaders(n int) Option {
	return func(c *config) {
		c.options.MaxReaders = n
	}
}

func WithCreateIfMissing(create bool) Option {
	return func(c *config) {
		c.options.CreateIfMissing = create
	}
}

func WithErrorIfExists(fail bool) Option {
	return func(c *config) {
		c.options.ErrorIfExists = fail
	}
}

func WithReadOnly(readOnly bool) Option {
	return func(c *config) {
		c.options.ReadOnly = readOnly
	}
}

// WithNoSubdir treats the path as the data file itself.
func WithNoSubdir(noSubdir bool) Option {
	return func(c *config) {
		c.options.NoSubdir = noSubdir
	}
}

func WithSync(sync bool) Option {
	return func(c *config) {
		c.options.Sync = sync
	}
}

// WithAutoGrow lets the map double when full, up to maxSize bytes
// (0 for no limit).
func WithAutoGrow(maxSize int64) Option {
	return func(c *config) {
		c.options.AutoGrow = true
		c.options.MaxMapSize = maxSize
	}
}

func WithCacheSize(pages int64) Option {
	return func(c *config) {
		c.options.CacheSize = pages
	}
}

// WithLogger uses logger instead of building one from the log level.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithLogLevel(level string) Option {
	return func(c *config) {
		c.logLevel = level
	}
}

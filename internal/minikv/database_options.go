package minikv

import (
	"fmt"
)

const (
	DefaultMapSize   = 10 << 20 // 10 MiB
	DefaultCacheSize = 1024     // decoded pages
	DataFileName     = "data.mdb"
)

type Options struct {
	// MapSize is the size of the memory map and therefore the largest the
	// store may grow to. Zero uses the size recorded in the store, or
	// DefaultMapSize for a new one.
	MapSize    int64
	MaxReaders int

	CreateIfMissing bool
	ErrorIfExists   bool
	ReadOnly        bool
	// NoSubdir treats the path as the data file instead of a directory
	// holding DataFileName.
	NoSubdir bool
	// Sync fsyncs the data file before and after the meta page is written.
	Sync bool

	// AutoGrow doubles the map instead of failing with ErrMapFull, up to
	// MaxMapSize when that is set.
	AutoGrow   bool
	MaxMapSize int64

	// CacheSize is the number of decoded pages kept in memory, 0 disables.
	CacheSize int64
}

func DefaultOptions() Options {
	return Options{
		MaxReaders:      DefaultMaxReaders,
		CreateIfMissing: true,
		CacheSize:       DefaultCacheSize,
	}
}

func (o Options) Validate() error {
	if o.MapSize < 0 {
		return fmt.Errorf("%w: map size cannot be negative", ErrInvalidOptions)
	}
	if o.MapSize > 0 && o.MapSize < minMapPages*PageSize {
		return fmt.Errorf("%w: map size must be at least %d bytes", ErrInvalidOptions, minMapPages*PageSize)
	}
	if o.MaxReaders < 1 {
		return fmt.Errorf("%w: max readers must be at least 1", ErrInvalidOptions)
	}
	if o.MaxMapSize < 0 {
		return fmt.Errorf("%w: max map size cannot be negative", ErrInvalidOptions)
	}
	if o.MaxMapSize > 0 && o.MapSize > o.MaxMapSize {
		return fmt.Errorf("%w: map size %d exceeds max map size %d", ErrInvalidOptions, o.MapSize, o.MaxMapSize)
	}
	if o.CacheSize < 0 {
		return fmt.Errorf("%w: cache size cannot be negative", ErrInvalidOptions)
	}
	if o.ReadOnly && o.ErrorIfExists {
		return fmt.Errorf("%w: read-only store must exist", ErrInvalidOptions)
	}
	return nil
}

// roundMapSize rounds size up to a whole number of pages.
func roundMapSize(size int64) int64 {
	if rem := size % PageSize; rem != 0 {
		size += PageSize - rem
	}
	return size
}

package minikv

import (
	"context"
	"fmt"

	"github.com/RichardKnop/minikv/internal/minikv"
	"github.com/RichardKnop/minikv/internal/pkg/logging"
	"go.uber.org/zap"
)

type (
	ReadTx          = minikv.ReadTx
	WriteTx         = minikv.WriteTx
	Cursor          = minikv.Cursor
	Iterator        = minikv.Iterator
	IteratorOptions = minikv.IteratorOptions
	Stat            = minikv.Stat
)

var (
	ErrMapFull        = minikv.ErrMapFull
	ErrReadersFull    = minikv.ErrReadersFull
	ErrNotFound       = minikv.ErrNotFound
	ErrCorrupted      = minikv.ErrCorrupted
	ErrIO             = minikv.ErrIO
	ErrClosed         = minikv.ErrClosed
	ErrTxDone         = minikv.ErrTxDone
	ErrReadOnly       = minikv.ErrReadOnly
	ErrEmptyKey       = minikv.ErrEmptyKey
	ErrKeyTooLarge    = minikv.ErrKeyTooLarge
	ErrValueTooLarge  = minikv.ErrValueTooLarge
	ErrIteratorEnd    = minikv.ErrIteratorEnd
	ErrIteratorClosed = minikv.ErrIteratorClosed
	ErrInvalidOptions = minikv.ErrInvalidOptions
	ErrExists         = minikv.ErrExists
	ErrDoesNotExist   = minikv.ErrDoesNotExist
)

const (
	PageSize          = minikv.PageSize
	MaxKeySize        = minikv.MaxKeySize
	DefaultMapSize    = minikv.DefaultMapSize
	DefaultMaxReaders = minikv.DefaultMaxReaders
	Version           = minikv.Version
)

// DB is an embedded key value store backed by a memory mapped file.
// It is safe for concurrent use; writes are serialised.
type DB struct {
	db         *minikv.Database
	logger     *zap.Logger
	ownsLogger bool
}

// Open opens or creates the store at path. By default path is a
// directory holding the data file.
func Open(path string, opts ...Option) (*DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger
	ownsLogger := false
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.logLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		ownsLogger = true
	}

	db, err := minikv.Open(context.Background(), logger, path, cfg.options)
	if err != nil {
		return nil, err
	}

	return &DB{
		db:         db,
		logger:     logger,
		ownsLogger: ownsLogger,
	}, nil
}

// OpenConnectionString opens a store described by a connection string,
// see ParseConnectionString.
func OpenConnectionString(connStr string, opts ...Option) (*DB, error) {
	connConfig, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	return Open(connConfig.Path, append(connConfig.Options(), opts...)...)
}

// Close releases the store. Closing twice returns ErrClosed.
func (d *DB) Close() error {
	err := d.db.Close()
	if d.ownsLogger && err == nil {
		_ = d.logger.Sync()
	}
	return err
}

func (d *DB) Path() string {
	return d.db.Path()
}

func (d *DB) Put(ctx context.Context, key, value []byte) error {
	return d.db.Put(ctx, key, value)
}

func (d *DB) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.db.Get(key)
}

// GetString is Get for values holding text.
func (d *DB) GetString(ctx context.Context, key []byte) (string, error) {
	value, err := d.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (d *DB) Delete(ctx context.Context, key []byte) error {
	return d.db.Delete(ctx, key)
}

// NewIterator starts a range scan. The iterator holds a reader slot
// until closed.
func (d *DB) NewIterator(options IteratorOptions) (*Iterator, error) {
	return d.db.NewIterator(options)
}

func (d *DB) ApproximateSize(ctx context.Context, start, end []byte) (uint64, error) {
	return d.db.ApproximateSize(ctx, start, end)
}

func (d *DB) Property(name string) (string, bool) {
	return d.db.Property(name)
}

func (d *DB) Stat() (Stat, error) {
	return d.db.Stat()
}

// Backup writes a consistent copy of the store to a new file at path.
func (d *DB) Backup(ctx context.Context, path string, compress bool) error {
	return d.db.BackupFile(ctx, path, compress)
}

// Grow enlarges the memory map to size bytes.
func (d *DB) Grow(ctx context.Context, size int64) error {
	return d.db.Grow(ctx, size)
}

func (d *DB) BeginRead() (*ReadTx, error) {
	return d.db.BeginRead()
}

func (d *DB) BeginWrite(ctx context.Context) (*WriteTx, error) {
	return d.db.BeginWrite(ctx)
}

// Update runs fn in a write transaction, committing when it returns nil.
func (d *DB) Update(ctx context.Context, fn func(tx *WriteTx) error) error {
	return d.db.Update(ctx, fn)
}

// View runs fn in a read transaction.
func (d *DB) View(fn func(tx *ReadTx) error) error {
	return d.db.View(fn)
}

// Restore rebuilds a store at path from a backup made with Backup.
// With noSubdir path names the data file, otherwise its directory.
func Restore(ctx context.Context, backupPath, path string, noSubdir bool) error {
	return minikv.Restore(ctx, backupPath, minikv.DataFilePath(path, noSubdir))
}

package minikv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const Version = "0.1.0"

// Database is an open store: the data file, its map, the reader table
// and the transaction manager tying them together.
type Database struct {
	path      string
	filePath  string
	logger    *zap.Logger
	options   Options
	file      DataFile
	pager     *Pager
	readers   *ReaderTable
	txManager *TransactionManager
}

// DataFilePath resolves the data file for a store location.
func DataFilePath(path string, noSubdir bool) string {
	if noSubdir {
		return path
	}
	return filepath.Join(path, DataFileName)
}

// Open opens the store at path, creating it when allowed.
func Open(ctx context.Context, logger *zap.Logger, path string, options Options) (*Database, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	filePath, err := prepareLocation(path, options)
	if err != nil {
		return nil, err
	}

	flag := os.O_RDWR | os.O_CREATE
	if options.ReadOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(filePath, flag, 0o644)
	if err != nil {
		return nil, ioError("open "+filePath, err)
	}

	db, err := OpenFile(ctx, logger, path, file, options)
	if err != nil {
		return nil, multierr.Append(err, file.Close())
	}
	return db, nil
}

func prepareLocation(path string, options Options) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path cannot be empty", ErrInvalidOptions)
	}

	dir := path
	if options.NoSubdir {
		dir = filepath.Dir(path)
	}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !options.CreateIfMissing || options.ReadOnly {
			return "", fmt.Errorf("%w: %s", ErrDoesNotExist, dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", ioError("create "+dir, err)
		}
	case err != nil:
		return "", ioError("stat "+dir, err)
	case !info.IsDir():
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidOptions, dir)
	}

	filePath := DataFilePath(path, options.NoSubdir)
	info, err = os.Stat(filePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !options.CreateIfMissing || options.ReadOnly {
			return "", fmt.Errorf("%w: %s", ErrDoesNotExist, filePath)
		}
	case err != nil:
		return "", ioError("stat "+filePath, err)
	case info.IsDir():
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidOptions, filePath)
	case options.ErrorIfExists && info.Size() > 0:
		return "", fmt.Errorf("%w: %s", ErrExists, filePath)
	}

	return filePath, nil
}

// OpenFile opens a store on an already opened data file. The database
// takes ownership of the file and closes it on Close.
func OpenFile(ctx context.Context, logger *zap.Logger, path string, file DataFile, options Options) (*Database, error) {
	if err := lockFile(file, !options.ReadOnly); err != nil {
		return nil, err
	}

	db, err := openLocked(ctx, logger, path, file, options)
	if err != nil {
		return nil, multierr.Append(err, unlockFile(file))
	}
	return db, nil
}

func openLocked(ctx context.Context, logger *zap.Logger, path string, file DataFile, options Options) (*Database, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, ioError("stat "+file.Name(), err)
	}

	var meta *Meta
	if info.Size() == 0 {
		if options.ReadOnly {
			return nil, fmt.Errorf("%w: %s is empty", ErrDoesNotExist, file.Name())
		}
		meta, err = initFile(file, options)
		if err != nil {
			return nil, err
		}
	} else {
		meta, err = readMeta(file)
		if err != nil {
			return nil, err
		}
		if info.Size() < int64(meta.NextPage)*PageSize {
			return nil, corruptedf("data file of %d bytes truncated, meta expects %d pages", info.Size(), meta.NextPage)
		}
	}

	mapSize := options.MapSize
	if mapSize == 0 {
		mapSize = int64(meta.MapSize)
	}
	if mapSize == 0 {
		mapSize = DefaultMapSize
	}
	mapSize = roundMapSize(max(mapSize, minMapPages*PageSize))
	if used := int64(meta.NextPage) * PageSize; mapSize < used {
		logger.Warn("map size smaller than data, using data size",
			zap.Int64("map_size", mapSize),
			zap.Int64("used", used),
		)
		mapSize = used
	}

	pager, err := NewPager(logger, file, mapSize, options.CacheSize)
	if err != nil {
		return nil, err
	}

	free, err := loadFreeList(pager, meta)
	if err != nil {
		return nil, multierr.Append(err, pager.Close())
	}

	readers := NewReaderTable(options.MaxReaders)
	db := &Database{
		path:     path,
		filePath: file.Name(),
		logger:   logger,
		options:  options,
		file:     file,
		pager:    pager,
		readers:  readers,
		txManager: NewTransactionManager(logger, pager, readers, meta, free, TransactionManagerOptions{
			Sync:       options.Sync,
			ReadOnly:   options.ReadOnly,
			AutoGrow:   options.AutoGrow,
			MaxMapSize: options.MaxMapSize,
		}),
	}

	logger.Sugar().With(
		"path", db.filePath,
		"tx_id", meta.TxID,
		"map_size", mapSize,
		"next_page", meta.NextPage,
		"free_pages", len(free),
	).Debug("opened database")

	return db, nil
}

// initFile writes both meta pages of an empty store.
func initFile(file DataFile, options Options) (*Meta, error) {
	mapSize := options.MapSize
	if mapSize == 0 {
		mapSize = DefaultMapSize
	}
	meta := newMeta(uint64(roundMapSize(mapSize)))

	for idx := PageIndex(0); idx < metaPages; idx++ {
		buf, err := meta.marshalAt(idx, nil)
		if err != nil {
			return nil, err
		}
		if _, err := file.WriteAt(buf, int64(idx)*PageSize); err != nil {
			return nil, ioError("initialise meta pages", err)
		}
	}
	if err := file.Sync(); err != nil {
		return nil, ioError("sync", err)
	}
	return meta, nil
}

func readMeta(file DataFile) (*Meta, error) {
	buf := make([]byte, metaPages*PageSize)
	if _, err := file.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, ioError("read meta pages", err)
	}
	return pickMeta(buf[:PageSize], buf[PageSize:])
}

func loadFreeList(pager *Pager, meta *Meta) ([]PageIndex, error) {
	if meta.FreeList == 0 {
		return nil, nil
	}
	if meta.FreeList < metaPages || uint64(meta.FreeList)+uint64(meta.FreeListPages) > uint64(meta.NextPage) {
		return nil, corruptedf("freelist run %d+%d outside of %d pages", meta.FreeList, meta.FreeListPages, meta.NextPage)
	}
	aPage, err := pager.ReadRun(meta.FreeList, PageTypeFreeList)
	if err != nil {
		return nil, err
	}
	for _, id := range aPage.FreeListPage.IDs {
		if id < metaPages || id >= meta.NextPage {
			return nil, corruptedf("freelist holds page %d outside of %d pages", id, meta.NextPage)
		}
	}
	return aPage.FreeListPage.IDs, nil
}

// Close waits for an active write transaction to finish and releases
// the map and the file. Read transactions still open fail with
// ErrClosed afterwards.
func (d *Database) Close() error {
	if err := d.txManager.Close(context.Background()); err != nil {
		return err
	}

	var err error
	err = multierr.Append(err, d.pager.Close())
	err = multierr.Append(err, unlockFile(d.file))
	err = multierr.Append(err, d.file.Close())

	d.logger.Debug("closed database", zap.String("path", d.filePath))

	return err
}

func (d *Database) Path() string {
	return d.path
}

func (d *Database) FilePath() string {
	return d.filePath
}

func (d *Database) Options() Options {
	return d.options
}

func (d *Database) BeginRead() (*ReadTx, error) {
	return d.txManager.BeginRead()
}

func (d *Database) BeginWrite(ctx context.Context) (*WriteTx, error) {
	return d.txManager.BeginWrite(ctx)
}

func (d *Database) Update(ctx context.Context, fn func(tx *WriteTx) error) error {
	return d.txManager.Update(ctx, fn)
}

func (d *Database) View(fn func(tx *ReadTx) error) error {
	return d.txManager.View(fn)
}

func (d *Database) Get(key []byte) ([]byte, error) {
	var value []byte
	err := d.View(func(tx *ReadTx) error {
		v, err := tx.Get(key)
		value = v
		return err
	})
	return value, err
}

func (d *Database) Put(ctx context.Context, key, value []byte) error {
	return d.Update(ctx, func(tx *WriteTx) error {
		return tx.Put(key, value)
	})
}

func (d *Database) Delete(ctx context.Context, key []byte) error {
	return d.Update(ctx, func(tx *WriteTx) error {
		return tx.Delete(key)
	})
}

type BatchOpType int

const (
	BatchPut BatchOpType = iota + 1
	BatchDelete
)

type BatchOp struct {
	Type  BatchOpType
	Key   []byte
	Value []byte
}

// Batch applies ops in order inside one write transaction. Deleting a
// missing key is not an error.
func (d *Database) Batch(ctx context.Context, ops []BatchOp) error {
	return d.Update(ctx, func(tx *WriteTx) error {
		for i, op := range ops {
			var err error
			switch op.Type {
			case BatchPut:
				err = tx.Put(op.Key, op.Value)
			case BatchDelete:
				err = tx.Delete(op.Key)
				if errors.Is(err, ErrNotFound) {
					err = nil
				}
			default:
				err = fmt.Errorf("unknown batch operation type %d", op.Type)
			}
			if err != nil {
				return fmt.Errorf("batch operation %d: %w", i, err)
			}
		}
		return nil
	})
}

// NewIterator opens a read transaction owned by the returned iterator.
func (d *Database) NewIterator(options IteratorOptions) (*Iterator, error) {
	tx, err := d.BeginRead()
	if err != nil {
		return nil, err
	}
	it, err := NewIterator(tx, options)
	if err != nil {
		return nil, multierr.Append(err, tx.Close())
	}
	return it, nil
}

// ApproximateSize sums key and value lengths from start up to and
// including the first key >= end. Nil bounds are open.
func (d *Database) ApproximateSize(ctx context.Context, start, end []byte) (uint64, error) {
	var size uint64
	err := d.View(func(tx *ReadTx) error {
		cursor, err := tx.Cursor()
		if err != nil {
			return err
		}

		var ok bool
		if start != nil {
			ok = cursor.Seek(start)
		} else {
			ok = cursor.First()
		}
		for n := 0; ok; n++ {
			if n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			key := cursor.currentKey()
			size += uint64(len(key)) + uint64(cursor.ValueSize())
			if end != nil && bytes.Compare(key, end) >= 0 {
				break
			}
			ok = cursor.Next()
		}
		return cursor.Err()
	})
	return size, err
}

// Grow enlarges the map to at least size bytes.
func (d *Database) Grow(ctx context.Context, size int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: map size must be positive", ErrInvalidOptions)
	}
	return d.txManager.Grow(ctx, size)
}

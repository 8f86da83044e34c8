package minikv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()

	db, err := Open(t.TempDir(), append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestDB_PutGetDelete(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		db  = openTestDB(t)
	)

	require.NoError(t, db.Put(ctx, []byte("name"), []byte("minikv")))

	value, err := db.Get(ctx, []byte("name"))
	require.NoError(t, err)
	assert.Equal(t, []byte("minikv"), value)

	s, err := db.GetString(ctx, []byte("name"))
	require.NoError(t, err)
	assert.Equal(t, "minikv", s)

	require.NoError(t, db.Delete(ctx, []byte("name")))
	_, err = db.GetString(ctx, []byte("name"))
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, db.Delete(ctx, []byte("name")), ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = db.Get(cancelled, []byte("name"))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, db.Put(cancelled, []byte("a"), []byte("b")), context.Canceled)
}

func TestDB_Batch(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		db  = openTestDB(t)
	)

	key := []byte("k1")
	batch := db.NewBatch().
		Put(key, []byte("v1")).
		Put([]byte("k2"), []byte("v2")).
		Del([]byte("missing"))
	// the batch owns copies
	key[0] = 'x'
	assert.Equal(t, 3, batch.Len())

	require.NoError(t, batch.Write(ctx))
	assert.Equal(t, 0, batch.Len())

	s, err := db.GetString(ctx, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, "v1", s)

	require.NoError(t, db.Batch(ctx,
		BatchOp{Type: BatchDelete, Key: []byte("k1")},
		BatchOp{Type: BatchPut, Key: []byte("k3"), Value: []byte("v3")},
	))
	_, err = db.Get(ctx, []byte("k1"))
	require.ErrorIs(t, err, ErrNotFound)

	batch.Put([]byte("k4"), []byte("v4")).Put(nil, []byte("bad"))
	require.ErrorIs(t, batch.Write(ctx), ErrEmptyKey)
	assert.Equal(t, 2, batch.Len(), "failed batch is kept")
	_, err = db.Get(ctx, []byte("k4"))
	require.ErrorIs(t, err, ErrNotFound)

	batch.Clear()
	assert.Equal(t, 0, batch.Len())
}

func TestDB_Transactions(t *testing.T) {
	t.Parallel()

	var (
		ctx     = context.Background()
		db      = openTestDB(t)
		errStop = errors.New("stop")
	)

	err := db.Update(ctx, func(tx *WriteTx) error {
		for i := 0; i < 10; i++ {
			if err := tx.Put([]byte(fmt.Sprintf("key%d", i)), []byte("value")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = db.Update(ctx, func(tx *WriteTx) error {
		if err := tx.Delete([]byte("key0")); err != nil {
			return err
		}
		return errStop
	})
	require.ErrorIs(t, err, errStop)

	err = db.View(func(tx *ReadTx) error {
		cursor, err := tx.Cursor()
		if err != nil {
			return err
		}
		count := 0
		for ok := cursor.First(); ok; ok = cursor.Next() {
			count++
		}
		assert.Equal(t, 10, count)
		return cursor.Err()
	})
	require.NoError(t, err)

	it, err := db.NewIterator(IteratorOptions{GTE: []byte("key5"), Limit: 2})
	require.NoError(t, err)
	defer it.Close()

	key, _, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("key5"), key)
	key, _, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("key6"), key)
	_, _, err = it.Next()
	require.ErrorIs(t, err, ErrIteratorEnd)
}

func TestDB_StatAndProperty(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		db  = openTestDB(t, WithMapSize(25<<20), WithMaxReaders(10))
	)

	require.NoError(t, db.Put(ctx, []byte("a"), []byte("1")))

	stat, err := db.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(25<<20), stat.MapSize)
	assert.Equal(t, 10, stat.MaxReaders)
	assert.Equal(t, uint64(1), stat.Entries)

	version, ok := db.Property("minikv.version")
	require.True(t, ok)
	assert.Equal(t, Version, version)

	size, err := db.ApproximateSize(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), size)

	require.NoError(t, db.Grow(ctx, 30<<20))
	stat, err = db.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(30<<20), stat.MapSize)
}

func TestDB_BackupRestore(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		db  = openTestDB(t)
		dir = t.TempDir()
	)

	for i := 0; i < 100; i++ {
		require.NoError(t, db.Put(ctx, []byte(fmt.Sprintf("key%03d", i)), []byte(fmt.Sprintf("value%03d", i))))
	}

	backupPath := filepath.Join(dir, "backup.xz")
	require.NoError(t, db.Backup(ctx, backupPath, true))

	restorePath := filepath.Join(dir, "restored.mdb")
	require.NoError(t, Restore(ctx, backupPath, restorePath, true))

	restored, err := Open(restorePath, WithNoSubdir(true), WithReadOnly(true), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer restored.Close()

	s, err := restored.GetString(ctx, []byte("key042"))
	require.NoError(t, err)
	assert.Equal(t, "value042", s)
	require.ErrorIs(t, restored.Put(ctx, []byte("a"), []byte("b")), ErrReadOnly)
}

func TestOpenConnectionString(t *testing.T) {
	t.Parallel()

	var (
		ctx  = context.Background()
		path = filepath.Join(t.TempDir(), "store.mdb")
	)

	db, err := OpenConnectionString(path+"?map_size=1MiB&max_readers=2&no_subdir=true&auto_grow=true&max_map_size=4MiB", WithLogger(zap.NewNop()))
	require.NoError(t, err)

	assert.Equal(t, path, db.Path())
	stat, err := db.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), stat.MapSize)
	assert.Equal(t, 2, stat.MaxReaders)

	// auto grow kicks in past the initial map
	value := make([]byte, 512<<10)
	for i := 0; i < 4; i++ {
		require.NoError(t, db.Put(ctx, []byte(fmt.Sprintf("key%d", i)), value))
	}
	stat, err = db.Stat()
	require.NoError(t, err)
	assert.Greater(t, stat.MapSize, int64(1<<20))

	require.NoError(t, db.Close())
	require.ErrorIs(t, db.Close(), ErrClosed)

	_, err = OpenConnectionString("?map_size=1MiB")
	require.Error(t, err)
	_, err = OpenConnectionString(path + "?max_readers=zero")
	require.Error(t, err)
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "missing"), WithCreateIfMissing(false), WithLogger(zap.NewNop()))
	require.ErrorIs(t, err, ErrDoesNotExist)

	_, err = Open(t.TempDir(), WithMaxReaders(0), WithLogger(zap.NewNop()))
	require.ErrorIs(t, err, ErrInvalidOptions)

	_, err = Open(t.TempDir(), WithLogLevel("loud"))
	require.Error(t, err)
}

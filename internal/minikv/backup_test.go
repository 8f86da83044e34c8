package minikv

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackup_RoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name     string
		Compress bool
	}{
		{"Plain", false},
		{"Compressed", true},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			t.Parallel()

			var (
				ctx      = context.Background()
				db       = newTestDB(t)
				expected = map[string][]byte{}
				dir      = t.TempDir()
			)

			for i := 0; i < 200; i++ {
				key, value := gen.Key(), gen.Value()
				require.NoError(t, db.Put(ctx, key, value))
				expected[string(key)] = value
			}

			backupPath := filepath.Join(dir, "backup.mdb")
			require.NoError(t, db.BackupFile(ctx, backupPath, aTestCase.Compress))

			// later writes are not part of the backup
			require.NoError(t, db.Put(ctx, []byte("after backup"), []byte("x")))

			restored := filepath.Join(dir, "restored")
			require.NoError(t, Restore(ctx, backupPath, filepath.Join(restored, DataFileName)))

			restoredDB := openTestDB(t, restored)
			defer restoredDB.Close()

			meta := restoredDB.txManager.Current()
			assert.Equal(t, db.txManager.Current().StoreID, meta.StoreID)
			assert.Equal(t, uint64(len(expected)), meta.Entries)
			checkTree(t, restoredDB)
			assertContents(t, restoredDB, expected)

			_, err := restoredDB.Get([]byte("after backup"))
			require.ErrorIs(t, err, ErrNotFound)

			// the restored store takes writes
			require.NoError(t, restoredDB.Put(ctx, []byte("restored"), []byte("y")))
		})
	}
}

func TestBackup_Compresses(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		db  = newTestDB(t)
		dir = t.TempDir()
	)

	for i := 0; i < 100; i++ {
		require.NoError(t, db.Put(ctx, testKey(i), bytes.Repeat([]byte("a"), 1000)))
	}

	plain := filepath.Join(dir, "plain")
	compressed := filepath.Join(dir, "compressed")
	require.NoError(t, db.BackupFile(ctx, plain, false))
	require.NoError(t, db.BackupFile(ctx, compressed, true))

	plainInfo, err := os.Stat(plain)
	require.NoError(t, err)
	compressedInfo, err := os.Stat(compressed)
	require.NoError(t, err)

	meta := db.txManager.Current()
	assert.Equal(t, int64(meta.NextPage)*PageSize, plainInfo.Size())
	assert.Less(t, compressedInfo.Size(), plainInfo.Size())
}

func TestBackup_Errors(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		db  = newTestDB(t)
		dir = t.TempDir()
	)

	fillDB(t, db, 100)

	backupPath := filepath.Join(dir, "backup.mdb")
	require.NoError(t, db.BackupFile(ctx, backupPath, false))

	// never overwrites
	err := db.BackupFile(ctx, backupPath, false)
	require.ErrorIs(t, err, ErrIO)
	err = Restore(ctx, backupPath, backupPath)
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, ErrExists)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	failedPath := filepath.Join(dir, "cancelled.mdb")
	require.ErrorIs(t, db.BackupFile(cancelled, failedPath, false), context.Canceled)
	assert.NoFileExists(t, failedPath)

	// a truncated backup cannot be restored
	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	truncated := filepath.Join(dir, "truncated.mdb")
	require.NoError(t, os.WriteFile(truncated, data[:len(data)-PageSize], 0o644))

	restored := filepath.Join(dir, "restored.mdb")
	require.ErrorIs(t, Restore(ctx, truncated, restored), ErrCorrupted)
	assert.NoFileExists(t, restored)

	short := filepath.Join(dir, "short.mdb")
	require.NoError(t, os.WriteFile(short, data[:100], 0o644))
	require.ErrorIs(t, Restore(ctx, short, restored), ErrCorrupted)
}

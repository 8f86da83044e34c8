package minikv

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var gen = newDataGen(time.Now().Unix())

type dataGen struct {
	*gofakeit.Faker
}

func newDataGen(seed int64) *dataGen {
	g := dataGen{
		Faker: gofakeit.New(seed),
	}

	return &g
}

// Key returns a random key between 1 and 64 bytes.
func (g *dataGen) Key() []byte {
	return []byte(g.LetterN(uint(g.IntRange(1, 64))))
}

// Value returns a random value, roughly one in ten large enough to
// need an overflow run.
func (g *dataGen) Value() []byte {
	if g.IntRange(0, 9) == 0 {
		return []byte(g.LetterN(uint(g.IntRange(maxInlineCellSize, 3*PageSize))))
	}
	return []byte(g.Sentence(g.IntRange(1, 20)))
}

func testOptions(opts ...func(*Options)) Options {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func openTestDB(t *testing.T, dir string, opts ...func(*Options)) *Database {
	t.Helper()

	db, err := Open(context.Background(), zap.NewNop(), dir, testOptions(opts...))
	require.NoError(t, err)

	return db
}

func newTestDB(t *testing.T, opts ...func(*Options)) *Database {
	t.Helper()

	db := openTestDB(t, t.TempDir(), opts...)
	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testKey(i int) []byte {
	return []byte(fmt.Sprintf("key%06d", i))
}

func testValue(i int) []byte {
	return []byte(fmt.Sprintf("value%06d", i))
}

type treeStats struct {
	depth         uint32
	entries       uint64
	branchPages   uint64
	leafPages     uint64
	overflowPages uint64
}

// checkTree walks the whole snapshot verifying ordering and balance and
// that the page accounting in the meta matches what is reachable.
func checkTree(t *testing.T, db *Database) {
	t.Helper()

	tx, err := db.BeginRead()
	require.NoError(t, err)
	defer tx.Close()

	meta := tx.Meta()
	stats := treeStats{}
	if meta.Root != 0 {
		walkTree(t, tx, meta.Root, nil, nil, 1, &stats)
	}

	require.Equal(t, meta.Depth, stats.depth, "depth")
	require.Equal(t, meta.Entries, stats.entries, "entries")
	require.Equal(t, meta.BranchPages, stats.branchPages, "branch pages")
	require.Equal(t, meta.LeafPages, stats.leafPages, "leaf pages")
	require.Equal(t, meta.OverflowPages, stats.overflowPages, "overflow pages")

	// every page ever allocated is either reachable, the free list or free
	used := stats.branchPages + stats.leafPages + stats.overflowPages + uint64(meta.FreeListPages)
	require.Equal(t, uint64(meta.NextPage-metaPages), used+uint64(db.txManager.FreePages()), "leaked pages")
}

func walkTree(t *testing.T, tx *ReadTx, idx PageIndex, low, high []byte, level uint32, stats *treeStats) {
	aPage, err := tx.readPage(idx)
	require.NoError(t, err)

	if aPage.LeafNode != nil {
		if stats.depth == 0 {
			stats.depth = level
		}
		require.Equal(t, stats.depth, level, "leaves at different depths")
		require.LessOrEqual(t, aPage.Size(), uint64(PageSize))
		stats.leafPages++

		for i, aCell := range aPage.LeafNode.Cells {
			if i > 0 {
				require.Equal(t, -1, bytes.Compare(aPage.LeafNode.Cells[i-1].Key, aCell.Key), "leaf keys out of order")
			}
			if low != nil {
				require.GreaterOrEqual(t, bytes.Compare(aCell.Key, low), 0)
			}
			if high != nil {
				require.Equal(t, -1, bytes.Compare(aCell.Key, high))
			}
			if aCell.IsOverflow() {
				stats.overflowPages += uint64(overflowPages(aCell.ValueSize))
			}
			stats.entries++
		}
		return
	}

	require.NotNil(t, aPage.BranchNode)
	require.LessOrEqual(t, aPage.Size(), uint64(PageSize))
	stats.branchPages++

	cells := aPage.BranchNode.Cells
	for i, aCell := range cells {
		childLow := low
		if i > 0 {
			childLow = aCell.Key
		}
		childHigh := high
		if i+1 < len(cells) {
			childHigh = cells[i+1].Key
		}
		walkTree(t, tx, aCell.Child, childLow, childHigh, level+1, stats)
	}
}

package minikv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTakeRun(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		ids       []PageIndex
		n         uint32
		first     PageIndex
		ok        bool
		remaining []PageIndex
	}{
		{"empty", nil, 1, 0, false, nil},
		{"single page", []PageIndex{4, 9}, 1, 4, true, []PageIndex{9}},
		{"run in the middle", []PageIndex{3, 5, 6, 7, 10}, 3, 5, true, []PageIndex{3, 10}},
		{"run at the end", []PageIndex{3, 5, 8, 9}, 2, 8, true, []PageIndex{3, 5}},
		{"no run long enough", []PageIndex{3, 4, 6, 7}, 3, 0, false, []PageIndex{3, 4, 6, 7}},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.name, func(t *testing.T) {
			ids := append([]PageIndex(nil), aTestCase.ids...)
			remaining, first, ok := takeRun(ids, aTestCase.n)
			assert.Equal(t, aTestCase.ok, ok)
			assert.Equal(t, aTestCase.first, first)
			assert.Equal(t, aTestCase.remaining, remaining)
		})
	}
}

func TestFreeList_Release(t *testing.T) {
	t.Parallel()

	f := newFreeList([]PageIndex{9, 3, 3})
	assert.Equal(t, []PageIndex{3, 9}, f.free())

	f.commit(5, f.free(), []PageIndex{12, 11})
	f.commit(6, f.free(), []PageIndex{20})
	assert.Equal(t, 5, f.count())
	assert.Equal(t, []PageIndex{11, 12, 20}, f.pendingIDs())

	// a reader still on snapshot 5 can see pages freed by 6
	f.release(5)
	assert.Equal(t, []PageIndex{3, 9, 11, 12}, f.free())
	assert.Equal(t, []PageIndex{20}, f.pendingIDs())

	f.release(6)
	assert.Equal(t, []PageIndex{3, 9, 11, 12, 20}, f.free())
	assert.Empty(t, f.pendingIDs())
	assert.Equal(t, 5, f.count())
}

func TestFreeListPages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(1), freeListPages(0))
	assert.Equal(t, uint32(1), freeListPages((PageSize-PageHeaderSize-4)/4))
	assert.Equal(t, uint32(2), freeListPages((PageSize-PageHeaderSize-4)/4+1))
}

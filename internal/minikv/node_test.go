package minikv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeafNode_Search(t *testing.T) {
	t.Parallel()

	node := &LeafNode{}
	for _, k := range []string{"b", "d", "f"} {
		idx, found := node.Search([]byte(k))
		require.False(t, found)
		node.Insert(idx, inlineCell([]byte(k), []byte(k)))
	}

	testCases := []struct {
		key   string
		idx   int
		found bool
	}{
		{"a", 0, false},
		{"b", 0, true},
		{"c", 1, false},
		{"d", 1, true},
		{"f", 2, true},
		{"g", 3, false},
	}

	for _, aTestCase := range testCases {
		idx, found := node.Search([]byte(aTestCase.key))
		assert.Equal(t, aTestCase.idx, idx, aTestCase.key)
		assert.Equal(t, aTestCase.found, found, aTestCase.key)
	}
}

func TestLeafNode_Split(t *testing.T) {
	t.Parallel()

	node := &LeafNode{}
	// one big cell followed by many small ones
	node.Cells = append(node.Cells, inlineCell([]byte("a"), make([]byte, 900)))
	for i := 0; i < 30; i++ {
		node.Cells = append(node.Cells, inlineCell(testKey(i), make([]byte, 90)))
	}

	total := node.Size()
	right := node.Split()

	require.NotEmpty(t, node.Cells)
	require.NotEmpty(t, right.Cells)
	assert.Equal(t, total, node.Size()+right.Size())
	// halves balanced by bytes, not by count
	assert.Less(t, len(node.Cells), len(right.Cells))
	assert.InDelta(t, float64(node.Size()), float64(right.Size()), 100)
}

func TestBranchNode_ChildIndex(t *testing.T) {
	t.Parallel()

	node := &BranchNode{Cells: []BranchCell{
		{Child: 10},
		{Key: []byte("g"), Child: 11},
		{Key: []byte("p"), Child: 12},
	}}

	testCases := []struct {
		key   string
		child int
	}{
		{"a", 0},
		{"f", 0},
		{"g", 1},
		{"h", 1},
		{"p", 2},
		{"z", 2},
	}

	for _, aTestCase := range testCases {
		assert.Equal(t, aTestCase.child, node.ChildIndex([]byte(aTestCase.key)), aTestCase.key)
	}
}

func TestBranchNode_Split(t *testing.T) {
	t.Parallel()

	node := &BranchNode{Cells: []BranchCell{{Child: 100}}}
	for i := 1; i < 10; i++ {
		node.Cells = append(node.Cells, BranchCell{Key: testKey(i), Child: PageIndex(100 + i)})
	}

	right, separator := node.Split()

	require.NotEmpty(t, node.Cells)
	require.NotEmpty(t, right.Cells)
	assert.Nil(t, right.Cells[0].Key)
	assert.Equal(t, testKey(len(node.Cells)), separator)
	assert.Equal(t, PageIndex(100+len(node.Cells)), right.Cells[0].Child)
	assert.Equal(t, 10, len(node.Cells)+len(right.Cells))
}

func TestSplitIndex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, splitIndex([]uint64{5, 5}))
	assert.Equal(t, 2, splitIndex([]uint64{1, 1, 1, 1}))
	assert.Equal(t, 1, splitIndex([]uint64{100, 1, 1, 1}))
	assert.Equal(t, 3, splitIndex([]uint64{1, 1, 1, 100}))
}

package minikv

import (
	"bytes"
	"slices"
)

// child(4) + key size(2)
const branchCellHeaderSize = 6

// BranchCell points at a child holding keys >= Key. The first cell of a
// branch always has an empty key and covers everything below the second.
type BranchCell struct {
	Key   []byte
	Child PageIndex
}

func (c *BranchCell) Size() uint64 {
	return branchCellHeaderSize + uint64(len(c.Key))
}

func (c *BranchCell) Marshal(buf []byte) ([]byte, error) {
	size := c.Size()
	if uint64(cap(buf)) >= size {
		buf = buf[:size]
	} else {
		buf = make([]byte, size)
	}

	i := uint64(0)
	marshalUint32(buf, uint32(c.Child), i)
	i += 4
	marshalUint16(buf, uint16(len(c.Key)), i)
	i += 2
	copy(buf[i:], c.Key)
	i += uint64(len(c.Key))

	return buf[:i], nil
}

func (c *BranchCell) Unmarshal(buf []byte) (uint64, error) {
	if len(buf) < branchCellHeaderSize {
		return 0, corruptedf("truncated branch cell")
	}

	i := uint64(0)
	c.Child = PageIndex(unmarshalUint32(buf, i))
	i += 4
	keySize := uint64(unmarshalUint16(buf, i))
	i += 2
	if i+keySize > uint64(len(buf)) {
		return 0, corruptedf("branch cell key of %d bytes truncated", keySize)
	}
	c.Key = nil
	if keySize > 0 {
		c.Key = buf[i : i+keySize : i+keySize]
	}
	i += keySize

	return i, nil
}

type BranchNode struct {
	Cells []BranchCell
}

func (n *BranchNode) Clone() *BranchNode {
	return &BranchNode{
		Cells: slices.Clone(n.Cells),
	}
}

func (n *BranchNode) Size() uint64 {
	size := uint64(0)
	for i := range n.Cells {
		size += n.Cells[i].Size()
	}
	return size
}

func (n *BranchNode) Marshal(buf []byte) ([]byte, error) {
	i := uint64(0)
	for idx := range n.Cells {
		cbuf, err := n.Cells[idx].Marshal(buf[i:])
		if err != nil {
			return nil, err
		}
		i += uint64(len(cbuf))
	}
	return buf[:i], nil
}

func (n *BranchNode) Unmarshal(buf []byte, cells int) error {
	if cells == 0 {
		return corruptedf("branch without children")
	}
	n.Cells = make([]BranchCell, cells)
	i := uint64(0)
	for idx := 0; idx < cells; idx++ {
		ci, err := n.Cells[idx].Unmarshal(buf[i:])
		if err != nil {
			return err
		}
		i += ci
	}
	return nil
}

// ChildIndex returns the cell whose subtree may contain key.
func (n *BranchNode) ChildIndex(key []byte) int {
	// first cell with Key > key, then step back one
	idx, _ := slices.BinarySearchFunc(n.Cells[1:], key, func(c BranchCell, k []byte) int {
		if bytes.Compare(c.Key, k) <= 0 {
			return -1
		}
		return 1
	})
	return idx
}

func (n *BranchNode) Insert(idx int, aCell BranchCell) {
	n.Cells = slices.Insert(n.Cells, idx, aCell)
}

func (n *BranchNode) Delete(idx int) BranchCell {
	aCell := n.Cells[idx]
	n.Cells = slices.Delete(n.Cells, idx, idx+1)
	return aCell
}

// Split moves the upper part of the cells into a new node and returns
// it with the separator key that now belongs in the parent.
func (n *BranchNode) Split() (*BranchNode, []byte) {
	sizes := make([]uint64, len(n.Cells))
	for i := range n.Cells {
		sizes[i] = n.Cells[i].Size()
	}
	at := splitIndex(sizes)

	right := &BranchNode{Cells: slices.Clone(n.Cells[at:])}
	separator := right.Cells[0].Key
	right.Cells[0].Key = nil
	n.Cells = slices.Clip(n.Cells[:at])

	return right, separator
}

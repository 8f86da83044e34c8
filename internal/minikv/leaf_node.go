package minikv

import (
	"bytes"
	"slices"

	"github.com/RichardKnop/minikv/pkg/bitwise"
)

const (
	cellFlagOverflow = 0
)

// flags(1) + key size(2) + value size(4)
const cellHeaderSize = 7

type Cell struct {
	Flags     uint8
	Key       []byte
	Value     []byte // inline value, nil when the value lives in an overflow run
	ValueSize uint32
	Overflow  PageIndex
}

func (c *Cell) IsOverflow() bool {
	return bitwise.IsSet(c.Flags, cellFlagOverflow)
}

func (c *Cell) Size() uint64 {
	if c.IsOverflow() {
		return cellHeaderSize + uint64(len(c.Key)) + 4
	}
	return cellHeaderSize + uint64(len(c.Key)) + uint64(len(c.Value))
}

func (c *Cell) Marshal(buf []byte) ([]byte, error) {
	size := c.Size()
	if uint64(cap(buf)) >= size {
		buf = buf[:size]
	} else {
		buf = make([]byte, size)
	}

	i := uint64(0)

	buf[i] = c.Flags
	i += 1
	marshalUint16(buf, uint16(len(c.Key)), i)
	i += 2
	marshalUint32(buf, c.ValueSize, i)
	i += 4
	copy(buf[i:], c.Key)
	i += uint64(len(c.Key))

	if c.IsOverflow() {
		marshalUint32(buf, uint32(c.Overflow), i)
		i += 4
	} else {
		copy(buf[i:], c.Value)
		i += uint64(len(c.Value))
	}

	return buf[:i], nil
}

func (c *Cell) Unmarshal(buf []byte) (uint64, error) {
	if len(buf) < cellHeaderSize {
		return 0, corruptedf("truncated leaf cell")
	}

	i := uint64(0)

	c.Flags = buf[i]
	i += 1
	keySize := uint64(unmarshalUint16(buf, i))
	i += 2
	c.ValueSize = unmarshalUint32(buf, i)
	i += 4

	if i+keySize > uint64(len(buf)) {
		return 0, corruptedf("leaf cell key of %d bytes truncated", keySize)
	}
	c.Key = buf[i : i+keySize : i+keySize]
	i += keySize

	if c.IsOverflow() {
		if i+4 > uint64(len(buf)) {
			return 0, corruptedf("leaf cell overflow pointer truncated")
		}
		c.Value = nil
		c.Overflow = PageIndex(unmarshalUint32(buf, i))
		i += 4
		return i, nil
	}

	valueSize := uint64(c.ValueSize)
	if i+valueSize > uint64(len(buf)) {
		return 0, corruptedf("leaf cell value of %d bytes truncated", valueSize)
	}
	c.Value = buf[i : i+valueSize : i+valueSize]
	c.Overflow = 0
	i += valueSize

	return i, nil
}

func inlineCell(key, value []byte) Cell {
	return Cell{
		Key:       bytes.Clone(key),
		Value:     append(make([]byte, 0, len(value)), value...),
		ValueSize: uint32(len(value)),
	}
}

func overflowCell(key []byte, valueSize uint32, overflow PageIndex) Cell {
	return Cell{
		Flags:     bitwise.Set(uint8(0), cellFlagOverflow),
		Key:       bytes.Clone(key),
		ValueSize: valueSize,
		Overflow:  overflow,
	}
}

// fitsInline reports whether a key value pair can be stored without
// an overflow run.
func fitsInline(key, value []byte) bool {
	return cellHeaderSize+len(key)+len(value) <= maxInlineCellSize
}

type LeafNode struct {
	Cells []Cell
}

// Clone creates a shallow copy of the leaf node, key and value slices are
// shared since cells are only ever replaced, never modified in place.
func (n *LeafNode) Clone() *LeafNode {
	return &LeafNode{
		Cells: slices.Clone(n.Cells),
	}
}

func (n *LeafNode) Size() uint64 {
	size := uint64(0)
	for i := range n.Cells {
		size += n.Cells[i].Size()
	}
	return size
}

func (n *LeafNode) Marshal(buf []byte) ([]byte, error) {
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

func (n *LeafNode) Unmarshal(buf []byte, cells int) error {
	n.Cells = make([]Cell, cells)
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

// Search returns the position of the first cell with a key >= key
// and whether that cell holds exactly key.
func (n *LeafNode) Search(key []byte) (int, bool) {
	return slices.BinarySearchFunc(n.Cells, key, func(c Cell, k []byte) int {
		return bytes.Compare(c.Key, k)
	})
}

func (n *LeafNode) Insert(idx int, aCell Cell) {
	n.Cells = slices.Insert(n.Cells, idx, aCell)
}

func (n *LeafNode) Delete(idx int) Cell {
	aCell := n.Cells[idx]
	n.Cells = slices.Delete(n.Cells, idx, idx+1)
	return aCell
}

// Split moves the upper part of the cells into a new node, balancing
// the two halves by bytes rather than by count.
func (n *LeafNode) Split() *LeafNode {
	sizes := make([]uint64, len(n.Cells))
	for i := range n.Cells {
		sizes[i] = n.Cells[i].Size()
	}
	at := splitIndex(sizes)

	right := &LeafNode{Cells: slices.Clone(n.Cells[at:])}
	n.Cells = slices.Clip(n.Cells[:at])
	return right
}

// splitIndex picks the position that minimises the larger half. Both
// halves keep at least one element.
func splitIndex(sizes []uint64) int {
	if len(sizes) < 2 {
		return len(sizes)
	}

	total := uint64(0)
	for _, s := range sizes {
		total += s
	}

	var (
		best     = 1
		bestCost = ^uint64(0)
		left     uint64
	)
	for i := 1; i < len(sizes); i++ {
		left += sizes[i-1]
		cost := max(left, total-left)
		if cost < bestCost {
			best, bestCost = i, cost
		}
	}
	return best
}

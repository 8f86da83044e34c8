package minikv

import (
	"bytes"
)

type cursorElem struct {
	page  *Page
	index int
}

// Cursor walks the leaves of one snapshot in key order. Positioning
// methods return false once the cursor falls off either end; Err tells
// an exhausted cursor apart from a failed one.
type Cursor struct {
	src   pageSource
	root  PageIndex
	stack []cursorElem
	err   error
}

func newCursor(src pageSource, root PageIndex) *Cursor {
	return &Cursor{
		src:   src,
		root:  root,
		stack: make([]cursorElem, 0, 4),
	}
}

func (c *Cursor) Err() error {
	return c.err
}

// Valid reports whether the cursor sits on an entry.
func (c *Cursor) Valid() bool {
	if c.err != nil || len(c.stack) == 0 {
		return false
	}
	top := c.stack[len(c.stack)-1]
	return top.page.LeafNode != nil && top.index >= 0 && top.index < len(top.page.LeafNode.Cells)
}

func (c *Cursor) First() bool {
	c.reset()
	if c.root == 0 {
		return false
	}
	if !c.descend(c.root, false) {
		return false
	}
	return c.settleForward()
}

func (c *Cursor) Last() bool {
	c.reset()
	if c.root == 0 {
		return false
	}
	if !c.descend(c.root, true) {
		return false
	}
	return c.settleBackward()
}

// Seek moves to the first entry with a key >= key.
func (c *Cursor) Seek(key []byte) bool {
	c.reset()
	if c.root == 0 {
		return false
	}

	idx := c.root
	for depth := 0; ; depth++ {
		if depth >= maxTreeDepth {
			return c.fail(corruptedf("tree deeper than %d levels", maxTreeDepth))
		}
		aPage, err := c.src.readPage(idx)
		if err != nil {
			return c.fail(err)
		}
		if aPage.BranchNode != nil {
			ci := aPage.BranchNode.ChildIndex(key)
			c.stack = append(c.stack, cursorElem{page: aPage, index: ci})
			idx = aPage.BranchNode.Cells[ci].Child
			continue
		}
		if aPage.LeafNode == nil {
			return c.fail(corruptedf("page %d is neither branch nor leaf", aPage.Index))
		}
		i, _ := aPage.LeafNode.Search(key)
		c.stack = append(c.stack, cursorElem{page: aPage, index: i})
		return c.settleForward()
	}
}

// SeekLE moves to the last entry with a key <= key.
func (c *Cursor) SeekLE(key []byte) bool {
	if !c.Seek(key) {
		if c.err != nil {
			return false
		}
		return c.Last()
	}
	if bytes.Equal(c.currentKey(), key) {
		return true
	}
	return c.Prev()
}

func (c *Cursor) Next() bool {
	if !c.Valid() {
		return false
	}
	c.stack[len(c.stack)-1].index++
	return c.settleForward()
}

func (c *Cursor) Prev() bool {
	if !c.Valid() {
		return false
	}
	c.stack[len(c.stack)-1].index--
	return c.settleBackward()
}

// Key returns a copy of the current key.
func (c *Cursor) Key() []byte {
	if !c.Valid() {
		return nil
	}
	return bytes.Clone(c.currentKey())
}

// Value returns a copy of the current value, reading overflow runs.
func (c *Cursor) Value() ([]byte, error) {
	if !c.Valid() {
		return nil, ErrNotFound
	}
	top := c.stack[len(c.stack)-1]
	return cellValue(c.src, &top.page.LeafNode.Cells[top.index])
}

// ValueSize returns the length of the current value without reading it.
func (c *Cursor) ValueSize() uint32 {
	if !c.Valid() {
		return 0
	}
	top := c.stack[len(c.stack)-1]
	return top.page.LeafNode.Cells[top.index].ValueSize
}

func (c *Cursor) currentKey() []byte {
	top := c.stack[len(c.stack)-1]
	return top.page.LeafNode.Cells[top.index].Key
}

func (c *Cursor) reset() {
	c.stack = c.stack[:0]
	c.err = nil
}

func (c *Cursor) fail(err error) bool {
	c.err = err
	c.stack = c.stack[:0]
	return false
}

// descend pushes the leftmost (or rightmost) path below idx.
func (c *Cursor) descend(idx PageIndex, rightmost bool) bool {
	for depth := len(c.stack); ; depth++ {
		if depth >= maxTreeDepth {
			return c.fail(corruptedf("tree deeper than %d levels", maxTreeDepth))
		}
		aPage, err := c.src.readPage(idx)
		if err != nil {
			return c.fail(err)
		}
		switch {
		case aPage.BranchNode != nil:
			i := 0
			if rightmost {
				i = len(aPage.BranchNode.Cells) - 1
			}
			c.stack = append(c.stack, cursorElem{page: aPage, index: i})
			idx = aPage.BranchNode.Cells[i].Child
		case aPage.LeafNode != nil:
			i := 0
			if rightmost {
				i = len(aPage.LeafNode.Cells) - 1
			}
			c.stack = append(c.stack, cursorElem{page: aPage, index: i})
			return true
		default:
			return c.fail(corruptedf("page %d is neither branch nor leaf", aPage.Index))
		}
	}
}

// settleForward moves past the end of exhausted leaves into the next
// non-empty leaf.
func (c *Cursor) settleForward() bool {
	for {
		top := c.stack[len(c.stack)-1]
		if top.index < len(top.page.LeafNode.Cells) {
			return true
		}

		// pop the leaf and advance the nearest branch that has more children
		c.stack = c.stack[:len(c.stack)-1]
		for {
			if len(c.stack) == 0 {
				return false
			}
			parent := &c.stack[len(c.stack)-1]
			parent.index++
			if parent.index < len(parent.page.BranchNode.Cells) {
				break
			}
			c.stack = c.stack[:len(c.stack)-1]
		}
		parent := c.stack[len(c.stack)-1]
		if !c.descend(parent.page.BranchNode.Cells[parent.index].Child, false) {
			return false
		}
	}
}

func (c *Cursor) settleBackward() bool {
	for {
		top := c.stack[len(c.stack)-1]
		if top.index >= 0 && top.index < len(top.page.LeafNode.Cells) {
			return true
		}

		c.stack = c.stack[:len(c.stack)-1]
		for {
			if len(c.stack) == 0 {
				return false
			}
			parent := &c.stack[len(c.stack)-1]
			parent.index--
			if parent.index >= 0 {
				break
			}
			c.stack = c.stack[:len(c.stack)-1]
		}
		parent := c.stack[len(c.stack)-1]
		if !c.descend(parent.page.BranchNode.Cells[parent.index].Child, true) {
			return false
		}
	}
}

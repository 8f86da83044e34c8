package minikv

import (
	"bytes"
)

// Deeper than any tree a 32 bit page space can hold; guards against
// cycles in a corrupted file.
const maxTreeDepth = 32

// treeSearch walks from root to the leaf that may hold key.
func treeSearch(src pageSource, root PageIndex, key []byte) (*Page, int, bool, error) {
	if root == 0 {
		return nil, 0, false, nil
	}

	aPage, err := src.readPage(root)
	if err != nil {
		return nil, 0, false, err
	}
	for depth := 0; aPage.BranchNode != nil; depth++ {
		if depth >= maxTreeDepth {
			return nil, 0, false, corruptedf("tree deeper than %d levels", maxTreeDepth)
		}
		child := aPage.BranchNode.Cells[aPage.BranchNode.ChildIndex(key)].Child
		aPage, err = src.readPage(child)
		if err != nil {
			return nil, 0, false, err
		}
	}
	if aPage.LeafNode == nil {
		return nil, 0, false, corruptedf("page %d is not a leaf", aPage.Index)
	}

	idx, found := aPage.LeafNode.Search(key)
	return aPage, idx, found, nil
}

func treeGet(src pageSource, root PageIndex, key []byte) ([]byte, error) {
	leaf, idx, found, err := treeSearch(src, root, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return cellValue(src, &leaf.LeafNode.Cells[idx])
}

// cellValue returns a copy of the value that the caller owns.
func cellValue(src pageSource, aCell *Cell) ([]byte, error) {
	if !aCell.IsOverflow() {
		return append(make([]byte, 0, len(aCell.Value)), aCell.Value...), nil
	}
	data, err := src.readOverflow(aCell.Overflow, aCell.ValueSize)
	if err != nil {
		return nil, err
	}
	return append(make([]byte, 0, len(data)), data...), nil
}

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return treeGet(tx, tx.meta.Root, key)
}

// Cursor iterates the tree as modified so far. It must not be used
// across a Put or Delete.
func (tx *WriteTx) Cursor() (*Cursor, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	return newCursor(tx, tx.meta.Root), nil
}

func (tx *WriteTx) Put(key, value []byte) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	if err := tx.put(key, value); err != nil {
		return tx.fail(err)
	}
	return nil
}

func (tx *WriteTx) Delete(key []byte) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	_, _, found, err := treeSearch(tx, tx.meta.Root, key)
	if err != nil {
		return tx.fail(err)
	}
	if !found {
		return ErrNotFound
	}

	if err := tx.delete(key); err != nil {
		return tx.fail(err)
	}
	return nil
}

type pathElem struct {
	page  *Page
	index int // child taken in a branch, cell position in a leaf
}

func (tx *WriteTx) put(key, value []byte) error {
	if tx.meta.Root == 0 {
		root, err := tx.newNodePage(PageTypeLeaf)
		if err != nil {
			return err
		}
		tx.meta.Root = root.Index
		tx.meta.Depth = 1
	}

	path, err := tx.writablePath(key)
	if err != nil {
		return err
	}

	aCell, err := tx.newCell(key, value)
	if err != nil {
		return err
	}

	last := len(path) - 1
	leaf := path[last].page.LeafNode
	idx, found := leaf.Search(key)
	if found {
		tx.freeCell(leaf.Cells[idx])
		leaf.Cells[idx] = aCell
	} else {
		leaf.Insert(idx, aCell)
		tx.meta.Entries++
	}
	path[last].index = idx

	return tx.splitPath(path, last)
}

func (tx *WriteTx) delete(key []byte) error {
	path, err := tx.writablePath(key)
	if err != nil {
		return err
	}

	leaf := path[len(path)-1].page.LeafNode
	idx, found := leaf.Search(key)
	if !found {
		return corruptedf("key vanished from leaf %d", path[len(path)-1].page.Index)
	}
	tx.freeCell(leaf.Delete(idx))
	tx.meta.Entries--

	if err := tx.rebalance(path); err != nil {
		return err
	}
	return tx.collapseRoot()
}

// writablePath copies every page from the root down to the leaf for key
// into the transaction, relinking parents to the copies.
func (tx *WriteTx) writablePath(key []byte) ([]pathElem, error) {
	aPage, err := tx.writablePage(tx.meta.Root)
	if err != nil {
		return nil, err
	}
	tx.meta.Root = aPage.Index

	path := make([]pathElem, 0, tx.meta.Depth)
	for len(path) < maxTreeDepth {
		if aPage.LeafNode != nil {
			idx, _ := aPage.LeafNode.Search(key)
			return append(path, pathElem{page: aPage, index: idx}), nil
		}
		if aPage.BranchNode == nil {
			return nil, corruptedf("page %d is neither branch nor leaf", aPage.Index)
		}

		ci := aPage.BranchNode.ChildIndex(key)
		path = append(path, pathElem{page: aPage, index: ci})

		child, err := tx.writableChild(aPage, ci)
		if err != nil {
			return nil, err
		}
		aPage = child
	}
	return nil, corruptedf("tree deeper than %d levels", maxTreeDepth)
}

// writablePage returns a page the transaction may modify. Committed
// pages are copied to a fresh page and the original is freed.
func (tx *WriteTx) writablePage(idx PageIndex) (*Page, error) {
	if aPage, ok := tx.dirty[idx]; ok {
		return aPage, nil
	}

	original, err := tx.Transaction.readPage(idx)
	if err != nil {
		return nil, err
	}
	newIdx, err := tx.allocate(1)
	if err != nil {
		return nil, err
	}

	aCopy := original.Clone()
	aCopy.Index = newIdx
	aCopy.TxID = tx.ID
	tx.dirty[newIdx] = aCopy
	tx.freePages(idx, 1)

	return aCopy, nil
}

func (tx *WriteTx) writableChild(parent *Page, i int) (*Page, error) {
	child, err := tx.writablePage(parent.BranchNode.Cells[i].Child)
	if err != nil {
		return nil, err
	}
	parent.BranchNode.Cells[i].Child = child.Index
	return child, nil
}

func (tx *WriteTx) newNodePage(pageType PageType) (*Page, error) {
	idx, err := tx.allocate(1)
	if err != nil {
		return nil, err
	}

	aPage := &Page{Index: idx, TxID: tx.ID}
	switch pageType {
	case PageTypeLeaf:
		aPage.LeafNode = &LeafNode{}
		tx.meta.LeafPages++
	case PageTypeBranch:
		aPage.BranchNode = &BranchNode{}
		tx.meta.BranchPages++
	}
	tx.dirty[idx] = aPage

	return aPage, nil
}

func (tx *WriteTx) freeNodePage(aPage *Page) {
	if aPage.LeafNode != nil {
		tx.meta.LeafPages--
	} else if aPage.BranchNode != nil {
		tx.meta.BranchPages--
	}
	tx.freePages(aPage.Index, 1)
}

// newCell stores the value inline when it fits, otherwise in a fresh
// overflow run.
func (tx *WriteTx) newCell(key, value []byte) (Cell, error) {
	if fitsInline(key, value) {
		return inlineCell(key, value), nil
	}

	pages := overflowPages(uint32(len(value)))
	idx, err := tx.allocate(pages)
	if err != nil {
		return Cell{}, err
	}
	tx.dirty[idx] = &Page{
		Index:        idx,
		TxID:         tx.ID,
		OverflowPage: &OverflowPage{Data: bytes.Clone(value)},
	}
	tx.meta.OverflowPages += uint64(pages)

	return overflowCell(key, uint32(len(value)), idx), nil
}

func (tx *WriteTx) freeCell(aCell Cell) {
	if !aCell.IsOverflow() {
		return
	}
	pages := overflowPages(aCell.ValueSize)
	tx.freePages(aCell.Overflow, pages)
	tx.meta.OverflowPages -= uint64(pages)
}

// splitPath splits overfull pages from level upwards. A root split adds
// a new root above it.
func (tx *WriteTx) splitPath(path []pathElem, level int) error {
	for l := level; l >= 0; l-- {
		aPage := path[l].page
		if aPage.Size() <= PageSize {
			return nil
		}

		right, separator, err := tx.splitPage(aPage)
		if err != nil {
			return err
		}

		if l == 0 {
			root, err := tx.newNodePage(PageTypeBranch)
			if err != nil {
				return err
			}
			root.BranchNode.Cells = []BranchCell{
				{Child: aPage.Index},
				{Key: separator, Child: right.Index},
			}
			tx.meta.Root = root.Index
			tx.meta.Depth++
			return nil
		}

		parent := path[l-1]
		parent.page.BranchNode.Insert(parent.index+1, BranchCell{Key: separator, Child: right.Index})
	}
	return nil
}

func (tx *WriteTx) splitPage(aPage *Page) (*Page, []byte, error) {
	if aPage.LeafNode != nil {
		right, err := tx.newNodePage(PageTypeLeaf)
		if err != nil {
			return nil, nil, err
		}
		right.LeafNode = aPage.LeafNode.Split()
		return right, bytes.Clone(right.LeafNode.Cells[0].Key), nil
	}

	right, err := tx.newNodePage(PageTypeBranch)
	if err != nil {
		return nil, nil, err
	}
	node, separator := aPage.BranchNode.Split()
	right.BranchNode = node
	return right, separator, nil
}

func underfilled(aPage *Page) bool {
	if aPage.LeafNode != nil && len(aPage.LeafNode.Cells) == 0 {
		return true
	}
	if aPage.BranchNode != nil && len(aPage.BranchNode.Cells) < 2 {
		return true
	}
	return aPage.Size() < minFillSize
}

// rebalance walks up from the leaf merging underfilled pages into a
// sibling, or sharing cells with it when both do not fit in one page.
func (tx *WriteTx) rebalance(path []pathElem) error {
	for l := len(path) - 1; l > 0; l-- {
		if !underfilled(path[l].page) {
			return nil
		}

		parentPage := path[l-1].page
		parent := parentPage.BranchNode
		if len(parent.Cells) < 2 {
			continue
		}

		leftIdx := path[l-1].index - 1
		if leftIdx < 0 {
			leftIdx = 0
		}
		left, err := tx.writableChild(parentPage, leftIdx)
		if err != nil {
			return err
		}
		right, err := tx.writableChild(parentPage, leftIdx+1)
		if err != nil {
			return err
		}

		if merged := tx.mergeSiblings(parent, leftIdx, left, right); !merged {
			// the separator changed and may no longer fit in the parent
			return tx.splitPath(path, l-1)
		}
	}
	return nil
}

// mergeSiblings folds right into left when the result fits a page and
// returns true. Otherwise it spreads the cells evenly over both.
func (tx *WriteTx) mergeSiblings(parent *BranchNode, leftIdx int, left, right *Page) bool {
	separator := parent.Cells[leftIdx+1].Key

	if left.LeafNode != nil {
		cells := append(left.LeafNode.Cells[:len(left.LeafNode.Cells):len(left.LeafNode.Cells)], right.LeafNode.Cells...)
		combined := &LeafNode{Cells: cells}
		if PageHeaderSize+combined.Size() <= PageSize {
			left.LeafNode = combined
			tx.freeNodePage(right)
			parent.Delete(leftIdx + 1)
			return true
		}

		right.LeafNode = combined.Split()
		left.LeafNode = combined
		parent.Cells[leftIdx+1].Key = bytes.Clone(right.LeafNode.Cells[0].Key)
		return false
	}

	// pull the separator down as the key of the first right child
	rightCells := right.BranchNode.Clone().Cells
	rightCells[0].Key = separator
	cells := append(left.BranchNode.Cells[:len(left.BranchNode.Cells):len(left.BranchNode.Cells)], rightCells...)
	combined := &BranchNode{Cells: cells}
	if PageHeaderSize+combined.Size() <= PageSize {
		left.BranchNode = combined
		tx.freeNodePage(right)
		parent.Delete(leftIdx + 1)
		return true
	}

	node, newSeparator := combined.Split()
	right.BranchNode = node
	left.BranchNode = combined
	parent.Cells[leftIdx+1].Key = newSeparator
	return false
}

// collapseRoot removes branch roots with a single child and drops an
// empty leaf root, leaving an empty tree.
func (tx *WriteTx) collapseRoot() error {
	for tx.meta.Root != 0 {
		root, err := tx.readPage(tx.meta.Root)
		if err != nil {
			return err
		}

		switch {
		case root.BranchNode != nil && len(root.BranchNode.Cells) == 1:
			child := root.BranchNode.Cells[0].Child
			tx.freeNodePage(root)
			tx.meta.Root = child
			tx.meta.Depth--
		case root.LeafNode != nil && len(root.LeafNode.Cells) == 0:
			tx.freeNodePage(root)
			tx.meta.Root = 0
			tx.meta.Depth = 0
			return nil
		default:
			return nil
		}
	}
	return nil
}

package minikv

import (
	"fmt"
)

const (
	PageSize = 4096 // 4 kilobytes

	// PageHeaderSize is the fixed header at the start of every page
	// index(4) + type(1) + flags(1) + cells(2) + overflow(4) + txid(8)
	PageHeaderSize = 20

	// Keys share a page with at least three other cells so a
	// branch always fans out.
	MaxKeySize = 511

	// Values are length prefixed with a uint32 on disk.
	MaxValueSize = 1<<31 - 1

	// Cells larger than this spill their value into an overflow run.
	maxInlineCellSize = (PageSize - PageHeaderSize) / 4

	// Nodes smaller than this get merged with a sibling after a delete.
	minFillSize = PageSize / 4

	// Page 0 and 1 hold the two meta pages.
	metaPages = 2

	// Smallest map that fits both metas plus a few tree pages.
	minMapPages = 8
)

type PageIndex uint32

type TxID uint64

type PageType byte

const (
	PageTypeMeta PageType = iota + 1
	PageTypeBranch
	PageTypeLeaf
	PageTypeOverflow
	PageTypeFreeList
)

func (t PageType) String() string {
	switch t {
	case PageTypeMeta:
		return "meta"
	case PageTypeBranch:
		return "branch"
	case PageTypeLeaf:
		return "leaf"
	case PageTypeOverflow:
		return "overflow"
	case PageTypeFreeList:
		return "freelist"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

type PageHeader struct {
	Index    PageIndex
	Type     PageType
	Flags    uint8
	Cells    uint16
	Overflow uint32 // pages following this one in the same run
	TxID     TxID
}

func (h *PageHeader) Marshal(buf []byte) {
	i := uint64(0)
	marshalUint32(buf, uint32(h.Index), i)
	i += 4
	buf[i] = byte(h.Type)
	i += 1
	buf[i] = h.Flags
	i += 1
	marshalUint16(buf, h.Cells, i)
	i += 2
	marshalUint32(buf, h.Overflow, i)
	i += 4
	marshalUint64(buf, uint64(h.TxID), i)
}

func (h *PageHeader) Unmarshal(buf []byte) error {
	if len(buf) < PageHeaderSize {
		return corruptedf("page header needs %d bytes, got %d", PageHeaderSize, len(buf))
	}
	i := uint64(0)
	h.Index = PageIndex(unmarshalUint32(buf, i))
	i += 4
	h.Type = PageType(buf[i])
	i += 1
	h.Flags = buf[i]
	i += 1
	h.Cells = unmarshalUint16(buf, i)
	i += 2
	h.Overflow = unmarshalUint32(buf, i)
	i += 4
	h.TxID = TxID(unmarshalUint64(buf, i))
	return nil
}

// Pages returns the length of the run starting at this page.
func (h *PageHeader) Pages() uint32 {
	return h.Overflow + 1
}

type Page struct {
	Index        PageIndex
	TxID         TxID
	BranchNode   *BranchNode
	LeafNode     *LeafNode
	OverflowPage *OverflowPage
	FreeListPage *FreeListPage

	// runPages pads the run to the length that was allocated for it.
	runPages uint32
}

// Clone creates a copy of the page for copy-on-write. Keys and values
// are shared, the cell slices are not.
func (p *Page) Clone() *Page {
	pageCopy := &Page{
		Index: p.Index,
		TxID:  p.TxID,
	}

	if p.LeafNode != nil {
		pageCopy.LeafNode = p.LeafNode.Clone()
	} else if p.BranchNode != nil {
		pageCopy.BranchNode = p.BranchNode.Clone()
	} else if p.OverflowPage != nil {
		pageCopy.OverflowPage = &OverflowPage{Data: p.OverflowPage.Data}
	} else if p.FreeListPage != nil {
		pageCopy.FreeListPage = &FreeListPage{IDs: append([]PageIndex(nil), p.FreeListPage.IDs...)}
	}

	return pageCopy
}

func (p *Page) Type() PageType {
	switch {
	case p.LeafNode != nil:
		return PageTypeLeaf
	case p.BranchNode != nil:
		return PageTypeBranch
	case p.OverflowPage != nil:
		return PageTypeOverflow
	case p.FreeListPage != nil:
		return PageTypeFreeList
	default:
		return 0
	}
}

// Size is the number of bytes the page occupies once marshaled,
// header included.
func (p *Page) Size() uint64 {
	switch {
	case p.LeafNode != nil:
		return PageHeaderSize + p.LeafNode.Size()
	case p.BranchNode != nil:
		return PageHeaderSize + p.BranchNode.Size()
	case p.OverflowPage != nil:
		return PageHeaderSize + p.OverflowPage.Size()
	case p.FreeListPage != nil:
		return PageHeaderSize + p.FreeListPage.Size()
	default:
		return PageHeaderSize
	}
}

// Pages returns how many consecutive pages the marshaled page spans.
func (p *Page) Pages() uint32 {
	return max(pagesFor(p.Size()), p.runPages)
}

func pagesFor(size uint64) uint32 {
	return uint32((size + PageSize - 1) / PageSize)
}

// Marshal writes the page into buf, which must hold Pages()*PageSize bytes.
func (p *Page) Marshal(buf []byte) ([]byte, error) {
	pages := p.Pages()
	size := uint64(pages) * PageSize
	if uint64(cap(buf)) >= size {
		buf = buf[:size]
		clear(buf)
	} else {
		buf = make([]byte, size)
	}

	header := PageHeader{
		Index:    p.Index,
		Type:     p.Type(),
		Overflow: pages - 1,
		TxID:     p.TxID,
	}

	body := buf[PageHeaderSize:]
	switch header.Type {
	case PageTypeLeaf:
		if p.Size() > PageSize {
			return nil, fmt.Errorf("leaf page %d overflows by %d bytes", p.Index, p.Size()-PageSize)
		}
		header.Cells = uint16(len(p.LeafNode.Cells))
		p.LeafNode.Marshal(body)
	case PageTypeBranch:
		if p.Size() > PageSize {
			return nil, fmt.Errorf("branch page %d overflows by %d bytes", p.Index, p.Size()-PageSize)
		}
		header.Cells = uint16(len(p.BranchNode.Cells))
		p.BranchNode.Marshal(body)
	case PageTypeOverflow:
		p.OverflowPage.Marshal(body)
	case PageTypeFreeList:
		p.FreeListPage.Marshal(body)
	default:
		return nil, fmt.Errorf("page %d has no content", p.Index)
	}
	header.Marshal(buf)

	return buf, nil
}

// UnmarshalPage decodes a page. For multi page runs buf must span the
// whole run.
func UnmarshalPage(buf []byte) (*Page, error) {
	var header PageHeader
	if err := header.Unmarshal(buf); err != nil {
		return nil, err
	}
	if uint64(len(buf)) < uint64(header.Pages())*PageSize {
		return nil, corruptedf("page %d run of %d pages truncated", header.Index, header.Pages())
	}

	aPage := &Page{
		Index: header.Index,
		TxID:  header.TxID,
	}
	// Decoded nodes must not alias the map, the pages may be reused later.
	body := append([]byte(nil), buf[PageHeaderSize:uint64(header.Pages())*PageSize]...)

	switch header.Type {
	case PageTypeLeaf:
		aPage.LeafNode = &LeafNode{}
		if err := aPage.LeafNode.Unmarshal(body, int(header.Cells)); err != nil {
			return nil, fmt.Errorf("leaf page %d: %w", header.Index, err)
		}
	case PageTypeBranch:
		aPage.BranchNode = &BranchNode{}
		if err := aPage.BranchNode.Unmarshal(body, int(header.Cells)); err != nil {
			return nil, fmt.Errorf("branch page %d: %w", header.Index, err)
		}
	case PageTypeOverflow:
		aPage.OverflowPage = &OverflowPage{}
		if err := aPage.OverflowPage.Unmarshal(body); err != nil {
			return nil, fmt.Errorf("overflow page %d: %w", header.Index, err)
		}
	case PageTypeFreeList:
		aPage.FreeListPage = &FreeListPage{}
		if err := aPage.FreeListPage.Unmarshal(body); err != nil {
			return nil, fmt.Errorf("freelist page %d: %w", header.Index, err)
		}
	default:
		return nil, corruptedf("page %d has unexpected type %s", header.Index, header.Type)
	}

	return aPage, nil
}

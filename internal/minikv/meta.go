package minikv

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const (
	metaMagic   uint32 = 0xBEEFC0DE
	metaVersion uint32 = 1

	// magic(4) version(4) page size(4) map size(8) txid(8) root(4)
	// freelist(4) freelist pages(4) next page(4) depth(4) entries(8)
	// branch(8) leaf(8) overflow(8) store id(16)
	metaBodySize = 96
	checksumSize = 32
)

// Meta describes one committed snapshot of the store. Two copies live
// in pages 0 and 1; transaction T writes page T%2 so the previous
// snapshot survives a torn write.
type Meta struct {
	PageSize      uint32
	MapSize       uint64
	TxID          TxID
	Root          PageIndex // 0 when the tree is empty
	FreeList      PageIndex // 0 when nothing is free
	FreeListPages uint32
	NextPage      PageIndex // first page never allocated
	Depth         uint32
	Entries       uint64
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	StoreID       uuid.UUID
}

func newMeta(mapSize uint64) *Meta {
	return &Meta{
		PageSize: PageSize,
		MapSize:  mapSize,
		NextPage: metaPages,
		StoreID:  uuid.New(),
	}
}

func (m *Meta) pageIndex() PageIndex {
	return PageIndex(m.TxID % metaPages)
}

func (m *Meta) Marshal(buf []byte) ([]byte, error) {
	return m.marshalAt(m.pageIndex(), buf)
}

func (m *Meta) marshalAt(idx PageIndex, buf []byte) ([]byte, error) {
	if uint64(cap(buf)) >= PageSize {
		buf = buf[:PageSize]
		clear(buf)
	} else {
		buf = make([]byte, PageSize)
	}

	header := PageHeader{
		Index: idx,
		Type:  PageTypeMeta,
		TxID:  m.TxID,
	}
	header.Marshal(buf)

	i := uint64(PageHeaderSize)
	marshalUint32(buf, metaMagic, i)
	i += 4
	marshalUint32(buf, metaVersion, i)
	i += 4
	marshalUint32(buf, m.PageSize, i)
	i += 4
	marshalUint64(buf, m.MapSize, i)
	i += 8
	marshalUint64(buf, uint64(m.TxID), i)
	i += 8
	marshalUint32(buf, uint32(m.Root), i)
	i += 4
	marshalUint32(buf, uint32(m.FreeList), i)
	i += 4
	marshalUint32(buf, m.FreeListPages, i)
	i += 4
	marshalUint32(buf, uint32(m.NextPage), i)
	i += 4
	marshalUint32(buf, m.Depth, i)
	i += 4
	marshalUint64(buf, m.Entries, i)
	i += 8
	marshalUint64(buf, m.BranchPages, i)
	i += 8
	marshalUint64(buf, m.LeafPages, i)
	i += 8
	marshalUint64(buf, m.OverflowPages, i)
	i += 8
	copy(buf[i:], m.StoreID[:])
	i += 16

	sum := blake3.Sum256(buf[:i])
	copy(buf[i:], sum[:])

	return buf, nil
}

// UnmarshalMeta decodes and verifies a meta page.
func UnmarshalMeta(buf []byte) (*Meta, error) {
	if len(buf) < PageHeaderSize+metaBodySize+checksumSize {
		return nil, corruptedf("meta page truncated")
	}

	var header PageHeader
	if err := header.Unmarshal(buf); err != nil {
		return nil, err
	}
	if header.Type != PageTypeMeta {
		return nil, corruptedf("page %d is %s, expected meta", header.Index, header.Type)
	}

	end := uint64(PageHeaderSize + metaBodySize)
	sum := blake3.Sum256(buf[:end])
	if !bytes.Equal(sum[:], buf[end:end+checksumSize]) {
		return nil, corruptedf("meta page %d checksum mismatch", header.Index)
	}

	i := uint64(PageHeaderSize)
	if magic := unmarshalUint32(buf, i); magic != metaMagic {
		return nil, corruptedf("meta page %d bad magic %#x", header.Index, magic)
	}
	i += 4
	if version := unmarshalUint32(buf, i); version != metaVersion {
		return nil, corruptedf("meta page %d unsupported version %d", header.Index, version)
	}
	i += 4

	m := &Meta{}
	m.PageSize = unmarshalUint32(buf, i)
	i += 4
	if m.PageSize != PageSize {
		return nil, corruptedf("meta page %d has page size %d, expected %d", header.Index, m.PageSize, PageSize)
	}
	m.MapSize = unmarshalUint64(buf, i)
	i += 8
	m.TxID = TxID(unmarshalUint64(buf, i))
	i += 8
	m.Root = PageIndex(unmarshalUint32(buf, i))
	i += 4
	m.FreeList = PageIndex(unmarshalUint32(buf, i))
	i += 4
	m.FreeListPages = unmarshalUint32(buf, i)
	i += 4
	m.NextPage = PageIndex(unmarshalUint32(buf, i))
	i += 4
	m.Depth = unmarshalUint32(buf, i)
	i += 4
	m.Entries = unmarshalUint64(buf, i)
	i += 8
	m.BranchPages = unmarshalUint64(buf, i)
	i += 8
	m.LeafPages = unmarshalUint64(buf, i)
	i += 8
	m.OverflowPages = unmarshalUint64(buf, i)
	i += 8
	copy(m.StoreID[:], buf[i:i+16])

	if m.NextPage < metaPages {
		return nil, corruptedf("meta page %d next page %d overlaps metas", header.Index, m.NextPage)
	}

	return m, nil
}

// pickMeta returns the newest valid meta of the two. When neither
// verifies the store cannot be opened.
func pickMeta(first, second []byte) (*Meta, error) {
	m0, err0 := UnmarshalMeta(first)
	m1, err1 := UnmarshalMeta(second)
	switch {
	case err0 != nil && err1 != nil:
		return nil, corruptedf("no valid meta page: %v; %v", err0, err1)
	case err0 != nil:
		return m1, nil
	case err1 != nil:
		return m0, nil
	case m1.TxID > m0.TxID:
		return m1, nil
	default:
		return m0, nil
	}
}

package minikv

// OverflowPage holds a value too large to live in a leaf. The data
// spans as many consecutive pages as it needs.
type OverflowPage struct {
	Data []byte
}

func (p *OverflowPage) Size() uint64 {
	return 4 + uint64(len(p.Data))
}

func (p *OverflowPage) Marshal(buf []byte) ([]byte, error) {
	i := uint64(0)
	marshalUint32(buf, uint32(len(p.Data)), i)
	i += 4
	copy(buf[i:], p.Data)
	i += uint64(len(p.Data))
	return buf[:i], nil
}

func (p *OverflowPage) Unmarshal(buf []byte) error {
	if len(buf) < 4 {
		return corruptedf("overflow page truncated")
	}
	size := uint64(unmarshalUint32(buf, 0))
	if 4+size > uint64(len(buf)) {
		return corruptedf("overflow data of %d bytes exceeds run", size)
	}
	p.Data = buf[4 : 4+size : 4+size]
	return nil
}

// overflowPages returns the run length needed for a value of size bytes.
func overflowPages(size uint32) uint32 {
	return pagesFor(PageHeaderSize + 4 + uint64(size))
}

package minikv

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pager reads pages through a read-only shared memory map and writes
// them with positioned writes on the file. Growing the map creates a new
// mapping; older mappings stay valid until Close since readers may still
// hold slices into them.
type Pager struct {
	logger *zap.Logger
	file   DataFile
	cache  *nodeCache

	mu         sync.RWMutex
	region     *mmapRegion
	oldRegions []*mmapRegion
	mapSize    int64
}

func NewPager(logger *zap.Logger, file DataFile, mapSize int64, cachePages int64) (*Pager, error) {
	if mapSize < minMapPages*PageSize {
		return nil, fmt.Errorf("%w: map size %d smaller than %d pages", ErrInvalidOptions, mapSize, minMapPages)
	}
	region, err := mapFile(file, mapSize)
	if err != nil {
		return nil, err
	}
	cache, err := newNodeCache(cachePages)
	if err != nil {
		return nil, multierr.Append(err, region.unmap())
	}

	return &Pager{
		logger:  logger,
		file:    file,
		cache:   cache,
		region:  region,
		mapSize: mapSize,
	}, nil
}

func (p *Pager) MapSize() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mapSize
}

// MaxPages is the number of pages that fit in the current map.
func (p *Pager) MaxPages() uint64 {
	return uint64(p.MapSize()) / PageSize
}

// ReadNode returns the decoded branch or leaf page at idx.
func (p *Pager) ReadNode(idx PageIndex) (*Page, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	buf, err := p.slice(idx, 1)
	if err != nil {
		return nil, err
	}
	var header PageHeader
	if err := header.Unmarshal(buf); err != nil {
		return nil, err
	}
	if header.Index != idx {
		return nil, corruptedf("page %d header claims index %d", idx, header.Index)
	}
	if header.Type != PageTypeLeaf && header.Type != PageTypeBranch {
		return nil, corruptedf("page %d is %s, expected branch or leaf", idx, header.Type)
	}

	if aPage, ok := p.cache.get(idx, header.TxID); ok {
		return aPage, nil
	}

	aPage, err := UnmarshalPage(buf)
	if err != nil {
		return nil, err
	}
	p.cache.put(aPage)

	return aPage, nil
}

// ReadRun returns the decoded overflow or freelist run starting at idx.
func (p *Pager) ReadRun(idx PageIndex, expected PageType) (*Page, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	buf, err := p.slice(idx, 1)
	if err != nil {
		return nil, err
	}
	var header PageHeader
	if err := header.Unmarshal(buf); err != nil {
		return nil, err
	}
	if header.Index != idx {
		return nil, corruptedf("page %d header claims index %d", idx, header.Index)
	}
	if header.Type != expected {
		return nil, corruptedf("page %d is %s, expected %s", idx, header.Type, expected)
	}

	run, err := p.slice(idx, header.Pages())
	if err != nil {
		return nil, err
	}
	return UnmarshalPage(run)
}

// CopyPages copies n raw pages starting at idx into dst.
func (p *Pager) CopyPages(dst []byte, idx PageIndex, n uint32) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	buf, err := p.slice(idx, n)
	if err != nil {
		return err
	}
	copy(dst, buf)
	return nil
}

func (p *Pager) slice(idx PageIndex, n uint32) ([]byte, error) {
	if p.region == nil {
		return nil, ErrClosed
	}
	start := uint64(idx) * PageSize
	end := start + uint64(n)*PageSize
	if end > uint64(len(p.region.data)) {
		return nil, corruptedf("pages %d..%d outside of map of %d bytes", idx, uint64(idx)+uint64(n)-1, len(p.region.data))
	}
	return p.region.data[start:end], nil
}

// WritePages marshals and writes each page at its offset.
func (p *Pager) WritePages(pages []*Page) error {
	var buf []byte
	for _, aPage := range pages {
		data, err := aPage.Marshal(buf)
		if err != nil {
			return fmt.Errorf("marshal page %d: %w", aPage.Index, err)
		}
		if _, err := p.file.WriteAt(data, int64(aPage.Index)*PageSize); err != nil {
			return ioError(fmt.Sprintf("write page %d", aPage.Index), err)
		}
		buf = data
	}
	return nil
}

// WriteMeta writes the meta into the slot owned by its transaction id.
func (p *Pager) WriteMeta(m *Meta) error {
	return p.writeMetaAt(m.pageIndex(), m)
}

func (p *Pager) writeMetaAt(idx PageIndex, m *Meta) error {
	buf, err := m.marshalAt(idx, nil)
	if err != nil {
		return err
	}
	if _, err := p.file.WriteAt(buf, int64(idx)*PageSize); err != nil {
		return ioError(fmt.Sprintf("write meta page %d", idx), err)
	}
	return nil
}

// Extend grows the file to cover pages pages. Pages allocated and freed
// within one transaction are never written, yet lie below the next page.
func (p *Pager) Extend(pages PageIndex) error {
	info, err := p.file.Stat()
	if err != nil {
		return ioError("stat "+p.file.Name(), err)
	}
	size := int64(pages) * PageSize
	if info.Size() >= size {
		return nil
	}
	if err := p.file.Truncate(size); err != nil {
		return ioError("extend "+p.file.Name(), err)
	}
	return nil
}

func (p *Pager) Sync() error {
	if err := p.file.Sync(); err != nil {
		return ioError("sync", err)
	}
	return nil
}

// Grow remaps the file with a larger size. Shrinking is not supported.
func (p *Pager) Grow(newSize int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if newSize <= p.mapSize {
		return nil
	}
	if p.region == nil {
		return ErrClosed
	}
	region, err := mapFile(p.file, newSize)
	if err != nil {
		return err
	}

	p.logger.Sugar().With(
		"from", p.mapSize,
		"to", newSize,
	).Debug("grow map")

	p.oldRegions = append(p.oldRegions, p.region)
	p.region = region
	p.mapSize = newSize

	return nil
}

func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache.close()

	var err error
	for _, region := range p.oldRegions {
		err = multierr.Append(err, region.unmap())
	}
	p.oldRegions = nil
	if p.region != nil {
		err = multierr.Append(err, p.region.unmap())
		p.region = nil
	}
	return err
}

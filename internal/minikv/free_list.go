package minikv

import (
	"maps"
	"slices"
)

// FreeListPage persists the ids of every reusable page. Like overflow
// data it may span a run of pages.
type FreeListPage struct {
	IDs []PageIndex
}

func (p *FreeListPage) Size() uint64 {
	return 4 + 4*uint64(len(p.IDs))
}

func (p *FreeListPage) Marshal(buf []byte) ([]byte, error) {
	i := uint64(0)
	marshalUint32(buf, uint32(len(p.IDs)), i)
	i += 4
	for _, id := range p.IDs {
		marshalUint32(buf, uint32(id), i)
		i += 4
	}
	return buf[:i], nil
}

func (p *FreeListPage) Unmarshal(buf []byte) error {
	if len(buf) < 4 {
		return corruptedf("freelist page truncated")
	}
	count := uint64(unmarshalUint32(buf, 0))
	if 4+4*count > uint64(len(buf)) {
		return corruptedf("freelist of %d ids exceeds run", count)
	}
	p.IDs = make([]PageIndex, 0, count)
	for i := uint64(0); i < count; i++ {
		p.IDs = append(p.IDs, PageIndex(unmarshalUint32(buf, 4+4*i)))
	}
	return nil
}

func freeListPages(count int) uint32 {
	return pagesFor(PageHeaderSize + 4 + 4*uint64(count))
}

// freeList tracks reusable pages between write transactions. Pages freed
// by a transaction stay pending until no reader can still see them.
type freeList struct {
	ids     []PageIndex
	pending map[TxID][]PageIndex
}

func newFreeList(ids []PageIndex) *freeList {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	return &freeList{
		ids:     slices.Compact(ids),
		pending: map[TxID][]PageIndex{},
	}
}

// release makes pages freed by transactions up to and including
// watermark available for reuse.
func (f *freeList) release(watermark TxID) {
	for _, txID := range slices.Sorted(maps.Keys(f.pending)) {
		if txID > watermark {
			break
		}
		f.ids = mergeIDs(f.ids, f.pending[txID])
		delete(f.pending, txID)
	}
}

// commit installs the free ids left over by a write transaction and
// parks the pages it freed.
func (f *freeList) commit(txID TxID, ids, freed []PageIndex) {
	f.ids = ids
	if len(freed) > 0 {
		f.pending[txID] = mergeIDs(nil, freed)
	}
}

func (f *freeList) free() []PageIndex {
	return slices.Clone(f.ids)
}

func (f *freeList) pendingIDs() []PageIndex {
	var ids []PageIndex
	for _, pending := range f.pending {
		ids = mergeIDs(ids, pending)
	}
	return ids
}

func (f *freeList) count() int {
	n := len(f.ids)
	for _, pending := range f.pending {
		n += len(pending)
	}
	return n
}

// takeRun removes the first run of n consecutive ids from the sorted ids.
func takeRun(ids []PageIndex, n uint32) ([]PageIndex, PageIndex, bool) {
	if n == 0 || len(ids) < int(n) {
		return ids, 0, false
	}
	start := 0
	for i := 1; i <= len(ids); i++ {
		if i-start == int(n) {
			first := ids[start]
			return slices.Delete(ids, start, i), first, true
		}
		if i < len(ids) && ids[i] != ids[i-1]+1 {
			start = i
		}
	}
	return ids, 0, false
}

// mergeIDs returns the sorted union of a sorted slice and unsorted ids.
func mergeIDs(sorted []PageIndex, add []PageIndex) []PageIndex {
	out := make([]PageIndex, 0, len(sorted)+len(add))
	out = append(out, sorted...)
	out = append(out, add...)
	slices.Sort(out)
	return slices.Compact(out)
}

func pageRun(first PageIndex, n uint32) []PageIndex {
	ids := make([]PageIndex, 0, n)
	for i := uint32(0); i < n; i++ {
		ids = append(ids, first+PageIndex(i))
	}
	return ids
}

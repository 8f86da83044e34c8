package minikv

import (
	"fmt"
	"sync"
	"time"
)

const DefaultMaxReaders = 126

// ReaderSlot records the snapshot a read transaction pinned.
type ReaderSlot struct {
	index    int
	txID     TxID
	acquired time.Time
	table    *ReaderTable
	released bool
}

func (s *ReaderSlot) TxID() TxID {
	return s.txID
}

func (s *ReaderSlot) Index() int {
	return s.index
}

// Release returns the slot to the table. Releasing twice is a no-op.
func (s *ReaderSlot) Release() {
	s.table.release(s)
}

// ReaderTable is a fixed size table of active readers. The oldest pinned
// snapshot decides which freed pages the writer may reuse.
type ReaderTable struct {
	mu    sync.Mutex
	slots []*ReaderSlot
	free  []int
}

func NewReaderTable(maxReaders int) *ReaderTable {
	if maxReaders <= 0 {
		maxReaders = DefaultMaxReaders
	}
	rt := &ReaderTable{
		slots: make([]*ReaderSlot, maxReaders),
		free:  make([]int, 0, maxReaders),
	}
	// hand out low slots first
	for i := maxReaders - 1; i >= 0; i-- {
		rt.free = append(rt.free, i)
	}
	return rt
}

// Acquire claims a slot and pins the snapshot returned by current. The
// callback runs under the table lock so the writer never sees a slot
// without its snapshot.
func (rt *ReaderTable) Acquire(current func() TxID) (*ReaderSlot, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if len(rt.free) == 0 {
		return nil, fmt.Errorf("%w: all %d slots in use", ErrReadersFull, len(rt.slots))
	}
	idx := rt.free[len(rt.free)-1]
	rt.free = rt.free[:len(rt.free)-1]

	slot := &ReaderSlot{
		index:    idx,
		txID:     current(),
		acquired: time.Now(),
		table:    rt,
	}
	rt.slots[idx] = slot

	return slot, nil
}

func (rt *ReaderTable) release(slot *ReaderSlot) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if slot.released {
		return
	}
	slot.released = true
	rt.slots[slot.index] = nil
	rt.free = append(rt.free, slot.index)
}

// Oldest returns the oldest pinned snapshot, false when nobody reads.
func (rt *ReaderTable) Oldest() (TxID, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var (
		oldest TxID
		found  bool
	)
	for _, slot := range rt.slots {
		if slot == nil {
			continue
		}
		if !found || slot.txID < oldest {
			oldest, found = slot.txID, true
		}
	}
	return oldest, found
}

func (rt *ReaderTable) Active() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.slots) - len(rt.free)
}

func (rt *ReaderTable) Capacity() int {
	return len(rt.slots)
}

package minikv

import (
	"time"
)

type TransactionStatus int

const (
	TxPending TransactionStatus = iota + 1
	TxActive
	TxCommitted
	TxAborted
)

func (s TransactionStatus) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Transaction holds what read and write transactions share: the id and
// the meta snapshot the transaction works against.
type Transaction struct {
	ID        TxID
	StartTime time.Time
	Status    TransactionStatus
	meta      Meta
	manager   *TransactionManager
}

// Meta returns the snapshot as seen by the transaction.
func (tx *Transaction) Meta() Meta {
	return tx.meta
}

func (tx *Transaction) checkActive() error {
	if tx.Status != TxActive {
		return ErrTxDone
	}
	if tx.manager.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (tx *Transaction) readPage(idx PageIndex) (*Page, error) {
	if idx < metaPages || idx >= tx.meta.NextPage {
		return nil, tx.manager.checkCorrupted(corruptedf("page %d outside of snapshot of %d pages", idx, tx.meta.NextPage))
	}
	aPage, err := tx.manager.pager.ReadNode(idx)
	if err != nil {
		return nil, tx.manager.checkCorrupted(err)
	}
	return aPage, nil
}

func (tx *Transaction) readOverflow(idx PageIndex, size uint32) ([]byte, error) {
	pages := overflowPages(size)
	if idx < metaPages || uint64(idx)+uint64(pages) > uint64(tx.meta.NextPage) {
		return nil, tx.manager.checkCorrupted(corruptedf("overflow run %d+%d outside of snapshot of %d pages", idx, pages, tx.meta.NextPage))
	}
	aPage, err := tx.manager.pager.ReadRun(idx, PageTypeOverflow)
	if err != nil {
		return nil, tx.manager.checkCorrupted(err)
	}
	if uint32(len(aPage.OverflowPage.Data)) != size {
		return nil, tx.manager.checkCorrupted(corruptedf("overflow run %d holds %d bytes, cell expects %d", idx, len(aPage.OverflowPage.Data), size))
	}
	return aPage.OverflowPage.Data, nil
}

// ReadTx is a read-only view of the snapshot committed when it began.
// It occupies a reader slot until closed.
type ReadTx struct {
	Transaction
	slot *ReaderSlot
}

func (tx *ReadTx) Get(key []byte) ([]byte, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return treeGet(tx, tx.meta.Root, key)
}

func (tx *ReadTx) Cursor() (*Cursor, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	return newCursor(tx, tx.meta.Root), nil
}

// Close releases the reader slot.
func (tx *ReadTx) Close() error {
	if tx.Status != TxActive {
		return ErrTxDone
	}
	tx.Status = TxCommitted
	tx.slot.Release()
	return nil
}

// WriteTx is the single writer. Pages it touches are copied into dirty
// and only become visible to others on Commit.
type WriteTx struct {
	Transaction
	dirty     map[PageIndex]*Page
	allocated map[PageIndex]uint32 // runs allocated by this transaction
	free      []PageIndex          // sorted ids this transaction may reuse
	freed     []PageIndex          // committed pages this transaction obsoleted
}

func (tx *WriteTx) readPage(idx PageIndex) (*Page, error) {
	if aPage, ok := tx.dirty[idx]; ok {
		return aPage, nil
	}
	return tx.Transaction.readPage(idx)
}

func (tx *WriteTx) readOverflow(idx PageIndex, size uint32) ([]byte, error) {
	if aPage, ok := tx.dirty[idx]; ok && aPage.OverflowPage != nil {
		return aPage.OverflowPage.Data, nil
	}
	return tx.Transaction.readOverflow(idx, size)
}

// allocate returns the first page of a run of n free pages, reusing
// free ids before growing the file.
func (tx *WriteTx) allocate(n uint32) (PageIndex, error) {
	if free, idx, ok := takeRun(tx.free, n); ok {
		tx.free = free
		tx.allocated[idx] = n
		return idx, nil
	}

	next := tx.meta.NextPage
	if err := tx.manager.ensureCapacity(uint64(next) + uint64(n)); err != nil {
		return 0, err
	}
	tx.meta.NextPage += PageIndex(n)
	tx.allocated[next] = n

	return next, nil
}

// freePages releases a run. Runs allocated by this transaction are
// reusable right away, anything older waits for readers to move on.
func (tx *WriteTx) freePages(idx PageIndex, n uint32) {
	if run, ok := tx.allocated[idx]; ok {
		delete(tx.allocated, idx)
		delete(tx.dirty, idx)
		tx.free = mergeIDs(tx.free, pageRun(idx, run))
		return
	}
	tx.freed = append(tx.freed, pageRun(idx, n)...)
}

func (tx *WriteTx) Commit() error {
	return tx.manager.commit(tx)
}

// Abort drops every change. Aborting a finished transaction is a no-op.
func (tx *WriteTx) Abort() {
	tx.manager.rollback(tx)
}

// fail aborts the transaction after an error that left the tree in an
// unknown state.
func (tx *WriteTx) fail(err error) error {
	tx.manager.rollback(tx)
	return err
}

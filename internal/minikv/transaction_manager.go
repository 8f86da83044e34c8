package minikv

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type TransactionManagerOptions struct {
	Sync       bool
	ReadOnly   bool
	AutoGrow   bool
	MaxMapSize int64
}

// TransactionManager serialises writers, hands out reader snapshots and
// publishes committed metas.
type TransactionManager struct {
	logger  *zap.Logger
	pager   *Pager
	readers *ReaderTable
	options TransactionManagerOptions

	writer  chan struct{}
	current atomic.Pointer[Meta]

	mu       sync.Mutex // guards freeList
	freeList *freeList

	corrupted atomic.Bool
	closed    atomic.Bool
}

func NewTransactionManager(logger *zap.Logger, pager *Pager, readers *ReaderTable, meta *Meta, free []PageIndex, options TransactionManagerOptions) *TransactionManager {
	tm := &TransactionManager{
		logger:   logger,
		pager:    pager,
		readers:  readers,
		options:  options,
		writer:   make(chan struct{}, 1),
		freeList: newFreeList(free),
	}
	tm.current.Store(meta)
	return tm
}

// Current returns the latest committed meta.
func (tm *TransactionManager) Current() Meta {
	return *tm.current.Load()
}

func (tm *TransactionManager) FreePages() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.freeList.count()
}

func (tm *TransactionManager) Readers() *ReaderTable {
	return tm.readers
}

func (tm *TransactionManager) BeginRead() (*ReadTx, error) {
	if tm.closed.Load() {
		return nil, ErrClosed
	}

	var meta *Meta
	slot, err := tm.readers.Acquire(func() TxID {
		meta = tm.current.Load()
		return meta.TxID
	})
	if err != nil {
		return nil, err
	}

	return &ReadTx{
		Transaction: Transaction{
			ID:        meta.TxID,
			StartTime: time.Now(),
			Status:    TxActive,
			meta:      *meta,
			manager:   tm,
		},
		slot: slot,
	}, nil
}

func (tm *TransactionManager) BeginWrite(ctx context.Context) (*WriteTx, error) {
	if tm.closed.Load() {
		return nil, ErrClosed
	}
	if tm.options.ReadOnly {
		return nil, ErrReadOnly
	}
	if tm.corrupted.Load() {
		return nil, fmt.Errorf("%w: refusing writes after corruption was detected", ErrCorrupted)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case tm.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if tm.closed.Load() {
		<-tm.writer
		return nil, ErrClosed
	}

	meta := *tm.current.Load()

	// pages freed by transactions every reader has moved past can be reused
	watermark := meta.TxID
	if oldest, ok := tm.readers.Oldest(); ok && oldest < watermark {
		watermark = oldest
	}
	tm.mu.Lock()
	tm.freeList.release(watermark)
	free := tm.freeList.free()
	tm.mu.Unlock()

	tx := &WriteTx{
		Transaction: Transaction{
			ID:        meta.TxID + 1,
			StartTime: time.Now(),
			Status:    TxActive,
			meta:      meta,
			manager:   tm,
		},
		dirty:     map[PageIndex]*Page{},
		allocated: map[PageIndex]uint32{},
		free:      free,
	}

	tm.logger.Debug("begin write transaction", zap.Uint64("tx_id", uint64(tx.ID)))

	return tx, nil
}

// Update runs fn in a write transaction, committing on success.
func (tm *TransactionManager) Update(ctx context.Context, fn func(tx *WriteTx) error) error {
	tx, err := tm.BeginWrite(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Abort()
		return err
	}

	return tx.Commit()
}

// View runs fn in a read transaction.
func (tm *TransactionManager) View(fn func(tx *ReadTx) error) error {
	tx, err := tm.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Close()

	return fn(tx)
}

func (tm *TransactionManager) commit(tx *WriteTx) error {
	if tx.Status != TxActive {
		return ErrTxDone
	}
	if tm.closed.Load() {
		tm.rollback(tx)
		return ErrClosed
	}

	tx.meta.MapSize = uint64(tm.pager.MapSize())
	if len(tx.dirty) == 0 && len(tx.freed) == 0 && tx.meta == *tm.current.Load() {
		tx.Status = TxCommitted
		tm.releaseWriter()
		tm.logger.Debug("commit empty transaction", zap.Uint64("tx_id", uint64(tx.ID)))
		return nil
	}

	meta, err := tm.persist(tx)
	if err != nil {
		tm.rollback(tx)
		return err
	}

	tm.mu.Lock()
	tm.freeList.commit(tx.ID, tx.free, tx.freed)
	tm.mu.Unlock()
	tm.current.Store(meta)

	tx.Status = TxCommitted
	tx.dirty = nil
	tm.releaseWriter()

	tm.logger.Debug("commit transaction",
		zap.Uint64("tx_id", uint64(tx.ID)),
		zap.Uint32("next_page", uint32(meta.NextPage)),
		zap.Uint64("entries", meta.Entries),
	)

	return nil
}

// persist writes the free list, the dirty pages and finally the meta
// page. Until the meta lands the previous snapshot stays authoritative.
func (tm *TransactionManager) persist(tx *WriteTx) (*Meta, error) {
	if tx.meta.FreeList != 0 {
		tx.freePages(tx.meta.FreeList, tx.meta.FreeListPages)
		tx.meta.FreeList, tx.meta.FreeListPages = 0, 0
	}

	tm.mu.Lock()
	pending := tm.freeList.pendingIDs()
	tm.mu.Unlock()

	ids := mergeIDs(mergeIDs(tx.free, pending), tx.freed)
	if len(ids) > 0 {
		n := freeListPages(len(ids))
		idx, err := tx.allocate(n)
		if err != nil {
			return nil, err
		}
		// the run just taken is no longer free
		ids = mergeIDs(mergeIDs(tx.free, pending), tx.freed)
		tx.dirty[idx] = &Page{
			Index:        idx,
			TxID:         tx.ID,
			FreeListPage: &FreeListPage{IDs: ids},
			runPages:     n,
		}
		tx.meta.FreeList, tx.meta.FreeListPages = idx, n
	}

	pages := make([]*Page, 0, len(tx.dirty))
	for _, aPage := range tx.dirty {
		aPage.TxID = tx.ID
		pages = append(pages, aPage)
	}
	slices.SortFunc(pages, func(a, b *Page) int {
		return cmp.Compare(a.Index, b.Index)
	})

	if err := tm.pager.WritePages(pages); err != nil {
		return nil, err
	}
	if tx.meta.NextPage > tm.current.Load().NextPage {
		if err := tm.pager.Extend(tx.meta.NextPage); err != nil {
			return nil, err
		}
	}
	if tm.options.Sync {
		if err := tm.pager.Sync(); err != nil {
			return nil, err
		}
	}

	meta := tx.meta
	meta.TxID = tx.ID
	if err := tm.pager.WriteMeta(&meta); err != nil {
		return nil, err
	}
	if tm.options.Sync {
		if err := tm.pager.Sync(); err != nil {
			return nil, err
		}
	}

	return &meta, nil
}

func (tm *TransactionManager) rollback(tx *WriteTx) {
	if tx.Status != TxActive {
		return
	}
	tx.Status = TxAborted
	tx.dirty = nil
	tx.allocated = nil
	tx.free = nil
	tx.freed = nil
	tm.releaseWriter()

	tm.logger.Debug("rollback transaction", zap.Uint64("tx_id", uint64(tx.ID)))
}

func (tm *TransactionManager) releaseWriter() {
	<-tm.writer
}

// ensureCapacity makes sure the map holds at least pages pages, growing
// it when allowed.
func (tm *TransactionManager) ensureCapacity(pages uint64) error {
	capacity := tm.pager.MaxPages()
	if pages <= capacity {
		return nil
	}
	if !tm.options.AutoGrow {
		return fmt.Errorf("%w: need %d pages, map holds %d", ErrMapFull, pages, capacity)
	}

	size := tm.pager.MapSize()
	for uint64(size)/PageSize < pages {
		size *= 2
	}
	if tm.options.MaxMapSize > 0 && size > tm.options.MaxMapSize {
		size = tm.options.MaxMapSize
		if uint64(size)/PageSize < pages {
			return fmt.Errorf("%w: need %d pages, max map size holds %d", ErrMapFull, pages, uint64(size)/PageSize)
		}
	}

	tm.logger.Info("auto grow map",
		zap.Int64("from", tm.pager.MapSize()),
		zap.Int64("to", size),
	)

	return tm.pager.Grow(size)
}

// Grow enlarges the map to size bytes and records it in a new meta.
func (tm *TransactionManager) Grow(ctx context.Context, size int64) error {
	size = roundMapSize(size)
	return tm.Update(ctx, func(tx *WriteTx) error {
		if size <= tm.pager.MapSize() {
			return nil
		}
		return tm.pager.Grow(size)
	})
}

// checkCorrupted flags the store once corruption shows up, after which
// no further writes are allowed.
func (tm *TransactionManager) checkCorrupted(err error) error {
	if errors.Is(err, ErrCorrupted) && tm.corrupted.CompareAndSwap(false, true) {
		tm.logger.Error("corruption detected, store is now read-only", zap.Error(err))
	}
	return err
}

// Close stops new transactions and waits for the active writer.
func (tm *TransactionManager) Close(ctx context.Context) error {
	if !tm.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	select {
	case tm.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package minikv

import (
	"bytes"
	"errors"
	"sync"
)

// IteratorOptions bound and shape a range scan. With no bounds the whole
// store is visited. Limit 0 means unlimited.
type IteratorOptions struct {
	GT         []byte
	GTE        []byte
	LT         []byte
	LTE        []byte
	Reverse    bool
	Limit      int
	SkipKeys   bool
	SkipValues bool
}

// Iterator is a range scan over the snapshot of the read transaction it
// owns. Close it to release the reader slot.
type Iterator struct {
	mu      sync.Mutex
	tx      *ReadTx
	cursor  *Cursor
	options IteratorOptions

	started    bool // cursor has been positioned
	positioned bool // next call returns the current entry without moving
	done       bool
	closed     bool
	count      int
}

func NewIterator(tx *ReadTx, options IteratorOptions) (*Iterator, error) {
	cursor, err := tx.Cursor()
	if err != nil {
		return nil, err
	}
	return &Iterator{
		tx:      tx,
		cursor:  cursor,
		options: options,
	}, nil
}

// Next returns the next entry in range. Once exhausted it keeps
// returning ErrIteratorEnd.
func (it *Iterator) Next() ([]byte, []byte, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return nil, nil, ErrIteratorClosed
	}
	if err := it.tx.checkActive(); err != nil {
		return nil, nil, err
	}
	if it.done {
		return nil, nil, ErrIteratorEnd
	}

	switch {
	case !it.started:
		it.started = true
		it.start()
	case it.positioned:
	case it.options.Reverse:
		it.cursor.Prev()
	default:
		it.cursor.Next()
	}
	it.positioned = false

	if err := it.cursor.Err(); err != nil {
		return nil, nil, err
	}
	if !it.cursor.Valid() || !it.inRange(it.cursor.currentKey()) || it.limitReached() {
		it.done = true
		return nil, nil, ErrIteratorEnd
	}
	it.count++

	var key, value []byte
	if !it.options.SkipKeys {
		key = it.cursor.Key()
	}
	if !it.options.SkipValues {
		v, err := it.cursor.Value()
		if err != nil {
			return nil, nil, err
		}
		value = v
	}

	return key, value, nil
}

// Seek repositions the iterator so the next call to Next returns the
// first entry >= target, or <= target when iterating in reverse.
func (it *Iterator) Seek(target []byte) error {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return ErrIteratorClosed
	}
	if err := it.tx.checkActive(); err != nil {
		return err
	}
	if err := validateKey(target); err != nil {
		return err
	}

	it.started = true
	it.positioned = true
	it.done = false
	if it.options.Reverse {
		it.cursor.SeekLE(target)
	} else {
		it.cursor.Seek(target)
	}
	return it.cursor.Err()
}

// Close releases the reader slot. Closing twice fails.
func (it *Iterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return ErrIteratorClosed
	}
	it.closed = true
	if err := it.tx.Close(); err != nil && !errors.Is(err, ErrTxDone) {
		return err
	}
	return nil
}

func (it *Iterator) start() {
	o := it.options
	if !o.Reverse {
		switch {
		case o.GT != nil:
			if it.cursor.Seek(o.GT) && bytes.Equal(it.cursor.currentKey(), o.GT) {
				it.cursor.Next()
			}
		case o.GTE != nil:
			it.cursor.Seek(o.GTE)
		default:
			it.cursor.First()
		}
		return
	}

	switch {
	case o.LT != nil:
		if it.cursor.SeekLE(o.LT) && bytes.Equal(it.cursor.currentKey(), o.LT) {
			it.cursor.Prev()
		}
	case o.LTE != nil:
		it.cursor.SeekLE(o.LTE)
	default:
		it.cursor.Last()
	}
}

func (it *Iterator) inRange(key []byte) bool {
	o := it.options
	if o.GT != nil && bytes.Compare(key, o.GT) <= 0 {
		return false
	}
	if o.GTE != nil && bytes.Compare(key, o.GTE) < 0 {
		return false
	}
	if o.LT != nil && bytes.Compare(key, o.LT) >= 0 {
		return false
	}
	if o.LTE != nil && bytes.Compare(key, o.LTE) > 0 {
		return false
	}
	return true
}

func (it *Iterator) limitReached() bool {
	return it.options.Limit > 0 && it.count >= it.options.Limit
}

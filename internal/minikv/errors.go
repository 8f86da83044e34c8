package minikv

import (
	"errors"
	"fmt"
)

var (
	ErrMapFull        = errors.New("MDB_MAP_FULL: Environment mapsize limit reached")
	ErrReadersFull    = errors.New("MDB_READERS_FULL: Environment maxreaders limit reached")
	ErrNotFound       = errors.New("MDB_NOTFOUND: No matching key/data pair found")
	ErrCorrupted      = errors.New("MDB_CORRUPTED: Located page was wrong type")
	ErrIO             = errors.New("MDB_IO: Input/output error")
	ErrClosed         = errors.New("database is closed")
	ErrTxDone         = errors.New("transaction has already been committed or aborted")
	ErrReadOnly       = errors.New("database is opened read-only")
	ErrEmptyKey       = errors.New("key cannot be empty")
	ErrKeyTooLarge    = fmt.Errorf("key cannot be larger than %d bytes", MaxKeySize)
	ErrValueTooLarge  = fmt.Errorf("value cannot be larger than %d bytes", MaxValueSize)
	ErrIteratorEnd    = errors.New("iterator has reached the end")
	ErrIteratorClosed = errors.New("iterator is closed")
	ErrInvalidOptions = errors.New("invalid options")
	ErrExists         = errors.New("database already exists")
	ErrDoesNotExist   = errors.New("database does not exist")
)

func corruptedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupted, fmt.Sprintf(format, args...))
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}

func validateValue(value []byte) error {
	if uint64(len(value)) > MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}

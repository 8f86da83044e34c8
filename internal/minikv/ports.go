package minikv

import (
	"io"
	"os"
)

// DataFile is the backing file of a store. *os.File satisfies it.
type DataFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Fd() uintptr
	Name() string
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
}

// pageSource resolves pages for tree traversal. Read transactions see
// only committed pages, write transactions see their dirty pages first.
type pageSource interface {
	readPage(PageIndex) (*Page, error)
	readOverflow(PageIndex, uint32) ([]byte, error)
}

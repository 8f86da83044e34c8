package minikv

import (
	"strconv"

	"github.com/google/uuid"
)

type Stat struct {
	PageSize      uint32
	MapSize       int64
	LastPage      PageIndex
	LastTxID      TxID
	MaxReaders    int
	NumReaders    int
	Depth         uint32
	Entries       uint64
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	FreePages     int
	StoreID       uuid.UUID
}

func (d *Database) Stat() (Stat, error) {
	if d.txManager.closed.Load() {
		return Stat{}, ErrClosed
	}
	meta := d.txManager.Current()
	return Stat{
		PageSize:      meta.PageSize,
		MapSize:       d.pager.MapSize(),
		LastPage:      meta.NextPage - 1,
		LastTxID:      meta.TxID,
		MaxReaders:    d.readers.Capacity(),
		NumReaders:    d.readers.Active(),
		Depth:         meta.Depth,
		Entries:       meta.Entries,
		BranchPages:   meta.BranchPages,
		LeafPages:     meta.LeafPages,
		OverflowPages: meta.OverflowPages,
		FreePages:     d.txManager.FreePages(),
		StoreID:       meta.StoreID,
	}, nil
}

// Property returns an internal property by name, false when the name
// is unknown or the store is closed.
func (d *Database) Property(name string) (string, bool) {
	s, err := d.Stat()
	if err != nil {
		return "", false
	}

	switch name {
	case "minikv.version":
		return Version, true
	case "minikv.mapsize":
		return strconv.FormatInt(s.MapSize, 10), true
	case "minikv.last_pgno":
		return strconv.FormatUint(uint64(s.LastPage), 10), true
	case "minikv.last_txnid":
		return strconv.FormatUint(uint64(s.LastTxID), 10), true
	case "minikv.maxreaders":
		return strconv.Itoa(s.MaxReaders), true
	case "minikv.numreaders":
		return strconv.Itoa(s.NumReaders), true
	case "minikv.psize":
		return strconv.FormatUint(uint64(s.PageSize), 10), true
	case "minikv.depth":
		return strconv.FormatUint(uint64(s.Depth), 10), true
	case "minikv.branch_pages":
		return strconv.FormatUint(s.BranchPages, 10), true
	case "minikv.leaf_pages":
		return strconv.FormatUint(s.LeafPages, 10), true
	case "minikv.overflow_pages":
		return strconv.FormatUint(s.OverflowPages, 10), true
	case "minikv.entries":
		return strconv.FormatUint(s.Entries, 10), true
	default:
		return "", false
	}
}

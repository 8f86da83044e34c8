package minikv

import (
	"github.com/dgraph-io/ristretto/v2"
)

// nodeCache keeps decoded branch and leaf pages. Entries are validated
// against the transaction id stamped in the page header, so a page that
// was freed and rewritten is never served stale.
type nodeCache struct {
	cache *ristretto.Cache[uint64, *Page]
}

func newNodeCache(maxPages int64) (*nodeCache, error) {
	if maxPages <= 0 {
		return &nodeCache{}, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, *Page]{
		NumCounters:        maxPages * 10,
		MaxCost:            maxPages,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &nodeCache{cache: cache}, nil
}

func (c *nodeCache) get(idx PageIndex, txID TxID) (*Page, bool) {
	if c.cache == nil {
		return nil, false
	}
	aPage, ok := c.cache.Get(uint64(idx))
	if !ok || aPage.TxID != txID {
		return nil, false
	}
	return aPage, true
}

func (c *nodeCache) put(aPage *Page) {
	if c.cache == nil {
		return
	}
	c.cache.Set(uint64(aPage.Index), aPage, 1)
}

func (c *nodeCache) close() {
	if c.cache == nil {
		return
	}
	c.cache.Close()
}

package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/adverant/pdfextract/internal/model"
)

// l1 is the in-memory LRU tier. groupcache's lru.Cache mutates its internal
// list on Get as well as Add, so both are taken under the same mutex rather
// than a RWMutex — a concurrent Get would otherwise race the list pointers.
//
// lru.Cache exposes no key enumeration or associated metadata, which
// InvalidatePDF needs to sweep every entry derived from a given document
// regardless of label/schema, so a parallel key->pdfHash index is
// maintained via the eviction callback. The fingerprint key itself does not
// embed the PDF hash as a literal prefix, so this index — not string
// prefixing — is what makes InvalidatePDF correct.
type l1 struct {
	mu      sync.Mutex
	lru     *lru.Cache
	pdfHash map[model.CacheKey]string
	hits    int64
	misses  int64
}

func newL1(capacity int) *l1 {
	c := &l1{
		lru:     lru.New(capacity),
		pdfHash: make(map[model.CacheKey]string),
	}
	c.lru.OnEvicted = func(key lru.Key, _ interface{}) {
		delete(c.pdfHash, model.CacheKey(key.(string)))
	}
	return c
}

func (c *l1) get(key model.CacheKey) (*model.ExtractionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(lru.Key(string(key)))
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return v.(*model.ExtractionResult), true
}

func (c *l1) put(key model.CacheKey, pdfHash string, result *model.ExtractionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(lru.Key(string(key)), result)
	c.pdfHash[key] = pdfHash
}

// removePrefix evicts every L1 entry derived from the document whose
// content hash is pdfHash, returning the count removed. Used by
// InvalidatePDF.
func (c *l1) removePrefix(pdfHash string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var toRemove []model.CacheKey
	for k, h := range c.pdfHash {
		if h == pdfHash {
			toRemove = append(toRemove, k)
		}
	}
	for _, k := range toRemove {
		c.lru.Remove(lru.Key(string(k)))
	}
	return len(toRemove)
}

func (c *l1) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *l1) stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

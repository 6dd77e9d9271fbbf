package storage

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/cloudomate/objectio/pkg/metrics"
)

// ArcCache fronts the metadata index with an Adaptive Replacement Cache:
// it tracks both recency and frequency, so a scan of cold keys doesn't
// evict hot ones the way a plain LRU would.
type ArcCache struct {
	arc *lru.ARCCache
}

// NewArcCache builds a cache holding up to size entries.
func NewArcCache(size int) *ArcCache {
	arc, err := lru.NewARC(size)
	if err != nil {
		// Only returns an error for size <= 0, which is a caller bug.
		panic(err)
	}
	return &ArcCache{arc: arc}
}

func (c *ArcCache) Get(key MetadataKey) ([]byte, bool) {
	v, ok := c.arc.Get(key)
	if !ok {
		metrics.MetaCacheMissesTotal.Inc()
		return nil, false
	}
	metrics.MetaCacheHitsTotal.Inc()
	return v.([]byte), true
}

func (c *ArcCache) Put(key MetadataKey, value []byte) {
	c.arc.Add(key, value)
}

func (c *ArcCache) Remove(key MetadataKey) {
	c.arc.Remove(key)
}

func (c *ArcCache) Contains(key MetadataKey) bool {
	return c.arc.Contains(key)
}

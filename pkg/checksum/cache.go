package checksum

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemby/basin/pkg/metrics"
	"github.com/cuemby/basin/pkg/storage"
	"github.com/cuemby/basin/pkg/types"
)

// DefaultCacheSize bounds the number of per-bucket entries kept.
const DefaultCacheSize = 10000

type cacheKey struct {
	group  types.GroupID
	bucket string
}

// entry is a memoized fold of (0, checkpoint] for one bucket.
type entry struct {
	checkpoint types.OpID
	count      int64
	checksum   uint32
	isFull     bool
}

// Cache memoizes bucket checksums. A request at checkpoint C with a cached
// value at C' <= C only scans the (C', C] suffix and folds it in; the fold
// (modular checksum sum, count sum, CLEAR disjunction) is associative, so
// any partition of the range produces the same result as a direct scan.
type Cache struct {
	mu    sync.Mutex
	store storage.Store
	lru   *lru.Cache[cacheKey, entry]
}

// NewCache creates a cache over the store. size <= 0 uses DefaultCacheSize.
func NewCache(store storage.Store, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[cacheKey, entry](size)
	if err != nil {
		return nil, fmt.Errorf("checksum cache: %w", err)
	}
	return &Cache{store: store, lru: l}, nil
}

// GetChecksumMap returns the checksum of every requested bucket at the
// checkpoint. Buckets with no ops are present with a zero value so callers
// can distinguish "empty bucket" from "bucket not requested".
func (c *Cache) GetChecksumMap(group types.GroupID, checkpoint types.OpID, buckets []string) (map[string]types.BucketChecksum, error) {
	result := make(map[string]types.BucketChecksum, len(buckets))
	for _, bucket := range buckets {
		cs, err := c.getBucket(group, checkpoint, bucket)
		if err != nil {
			return nil, fmt.Errorf("checksum for bucket %s: %w", bucket, err)
		}
		result[bucket] = cs
	}
	return result, nil
}

func (c *Cache) getBucket(group types.GroupID, checkpoint types.OpID, bucket string) (types.BucketChecksum, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{group: group, bucket: bucket}
	cached, ok := c.lru.Get(key)

	if ok && cached.checkpoint == checkpoint {
		metrics.ChecksumCacheHits.Inc()
		return toBucketChecksum(bucket, cached), nil
	}

	if ok && cached.checkpoint < checkpoint {
		// Fold the (cached, checkpoint] suffix into the memoized value. A
		// CLEAR anywhere in the suffix makes the combined value a full
		// checksum: the bucket was reset after the cached prefix.
		partial, err := c.store.AggregateChecksum(group, bucket, cached.checkpoint, checkpoint)
		if err != nil {
			return types.BucketChecksum{}, err
		}
		metrics.ChecksumCacheHits.Inc()
		combined := entry{
			checkpoint: checkpoint,
			count:      cached.count + partial.Count,
			checksum:   cached.checksum + partial.Checksum,
			isFull:     cached.isFull || partial.HasClear,
		}
		c.lru.Add(key, combined)
		return toBucketChecksum(bucket, combined), nil
	}

	// Nothing usable cached (or the cached value is ahead of the requested
	// checkpoint): compute (0, checkpoint] directly.
	metrics.ChecksumCacheMisses.Inc()
	agg, err := c.store.AggregateChecksum(group, bucket, 0, checkpoint)
	if err != nil {
		return types.BucketChecksum{}, err
	}
	fresh := entry{
		checkpoint: checkpoint,
		count:      agg.Count,
		checksum:   agg.Checksum,
		isFull:     agg.HasClear,
	}
	if !ok || cached.checkpoint < checkpoint {
		c.lru.Add(key, fresh)
	}
	return toBucketChecksum(bucket, fresh), nil
}

// Invalidate drops every cached entry for the group. Used after compaction
// and after admin clears: a CLEAR collapse changes op counts for past
// checkpoints, so memoized values from before it must not be folded
// forward, and cleared groups have nothing left to cache.
func (c *Cache) Invalidate(group types.GroupID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if key.group == group {
			c.lru.Remove(key)
		}
	}
}

func toBucketChecksum(bucket string, e entry) types.BucketChecksum {
	return types.BucketChecksum{
		Bucket:   bucket,
		Count:    e.count,
		Checksum: e.checksum,
		IsFull:   e.isFull,
	}
}

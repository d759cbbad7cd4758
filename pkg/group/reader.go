package group

import (
	"sort"

	"github.com/cuemby/basin/pkg/metrics"
	"github.com/cuemby/basin/pkg/types"
)

// Default read bounds.
const (
	DefaultReadLimit       = 1000
	DefaultChunkLimitBytes = 1024 * 1024
)

// ReadOptions bounds a bucket-data read.
type ReadOptions struct {
	// Limit caps the total ops returned across all buckets. When the scan
	// reads exactly Limit ops the final batch reports has_more, since the
	// cursor may have been truncated mid-bucket.
	Limit int

	// ChunkLimitBytes starts a new output batch once the accumulated
	// serialized size of the current one reaches this many bytes.
	ChunkLimitBytes int
}

// BucketRequest names a bucket and the op id after which to read.
type BucketRequest struct {
	Bucket string
	After  types.OpID
}

// DataIterator is a pull-based cursor over bucket data. Each Next call
// returns one output batch (one bucket's contiguous run of ops) or nil when
// the read is complete. The consumer drives progress; dropping the iterator
// cancels the read with no further storage access.
type DataIterator struct {
	handle     *Handle
	checkpoint types.OpID
	requests   []BucketRequest
	opts       ReadOptions

	idx       int
	remaining int
	done      bool
}

// GetBucketDataBatch reads ops with op ids in (after, checkpoint] for each
// requested bucket, as a lazy sequence of bounded batches ordered by bucket
// name. A reader holding checkpoint C never observes ops above C, even when
// newer flushes land mid-scan.
func (h *Handle) GetBucketDataBatch(checkpoint types.OpID, buckets map[string]types.OpID, opts ReadOptions) *DataIterator {
	if opts.Limit <= 0 {
		opts.Limit = DefaultReadLimit
	}
	if opts.ChunkLimitBytes <= 0 {
		opts.ChunkLimitBytes = DefaultChunkLimitBytes
	}
	requests := make([]BucketRequest, 0, len(buckets))
	for bucket, after := range buckets {
		requests = append(requests, BucketRequest{Bucket: bucket, After: after})
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].Bucket < requests[j].Bucket })
	return &DataIterator{
		handle:     h,
		checkpoint: checkpoint,
		requests:   requests,
		opts:       opts,
		remaining:  opts.Limit,
	}
}

// Next returns the next output batch, or nil when the sequence is drained.
func (it *DataIterator) Next() (*types.SyncBucketData, error) {
	for !it.done {
		if it.idx >= len(it.requests) || it.remaining <= 0 {
			it.done = true
			return nil, nil
		}
		req := &it.requests[it.idx]

		// Fetch one extra op beyond the global budget so has_more can
		// distinguish a drained bucket from a truncated one.
		fetch := it.remaining + 1
		ops, err := it.handle.store.ReadBucketOps(it.handle.groupID, req.Bucket, req.After, it.checkpoint, fetch)
		if err != nil {
			return nil, err
		}
		if len(ops) == 0 {
			it.idx++
			continue
		}

		data := make([]types.OplogEntry, 0, len(ops))
		bytes := 0
		var targetOp types.OpID
		took := 0
		for i := range ops {
			if took >= it.remaining || bytes >= it.opts.ChunkLimitBytes {
				break
			}
			op := &ops[i]
			entry := types.WireEntry(*op)
			data = append(data, entry)
			bytes += len(op.Data) + len(op.RowID) + len(op.Subkey) + 40
			if (op.Kind == types.OpMove || op.Kind == types.OpClear) && op.TargetOp > targetOp {
				targetOp = op.TargetOp
			}
			took++
		}

		after := req.After
		nextAfter := ops[took-1].OpID
		bucketHasMore := len(ops) > took
		it.remaining -= took
		req.After = nextAfter
		if !bucketHasMore {
			it.idx++
		}

		result := &types.SyncBucketData{
			Bucket:    req.Bucket,
			After:     after.String(),
			NextAfter: nextAfter.String(),
			HasMore:   bucketHasMore || it.remaining <= 0,
			Data:      data,
		}
		if targetOp > 0 {
			result.TargetOp = targetOp.String()
		}
		metrics.ReadBatchesTotal.Inc()
		return result, nil
	}
	return nil, nil
}

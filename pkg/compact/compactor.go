package compact

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/basin/pkg/log"
	"github.com/cuemby/basin/pkg/metrics"
	"github.com/cuemby/basin/pkg/storage"
	"github.com/cuemby/basin/pkg/types"
)

// Defaults for compaction options.
const (
	DefaultMemoryLimitMB   = 64
	DefaultMaxOpIDLag      = 1000
	DefaultClearBatchLines = 5000
	DefaultMoveBatchLines  = 2000
	DefaultConcurrency     = 4
)

// Options bounds a compaction pass.
type Options struct {
	// MemoryLimitMB bounds the per-bucket table of tracked source keys.
	// Once exceeded, older ops of untracked keys are left for a later pass.
	MemoryLimitMB int

	// MaxOpIDLag keeps compaction this many op ids behind the group tip,
	// read once at the start of the pass. Unlike the other options, zero is
	// not replaced by a default: it compacts up to the tip itself.
	MaxOpIDLag uint64

	// ClearBatchLines / MoveBatchLines bound the ops rewritten per atomic
	// storage batch.
	ClearBatchLines int
	MoveBatchLines  int

	// Concurrency is the number of buckets compacted in parallel.
	Concurrency int
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.MemoryLimitMB <= 0 {
		opts.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if opts.ClearBatchLines <= 0 {
		opts.ClearBatchLines = DefaultClearBatchLines
	}
	if opts.MoveBatchLines <= 0 {
		opts.MoveBatchLines = DefaultMoveBatchLines
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return opts
}

// Compactor rewrites historical bucket ops into equivalent MOVE and CLEAR
// summaries. Client-observable checksums are preserved: a MOVE keeps the
// checksum of the op it replaces, and a CLEAR carries the modular sum of
// everything it collapsed.
type Compactor struct {
	store   storage.Store
	groupID types.GroupID
	opts    Options
	logger  zerolog.Logger
}

// New creates a compactor for one group.
func New(store storage.Store, groupID types.GroupID, opts Options) *Compactor {
	return &Compactor{
		store:   store,
		groupID: groupID,
		opts:    opts.withDefaults(),
		logger:  log.WithComponent("compact").With().Uint32("group_id", uint32(groupID)).Logger(),
	}
}

// Run executes one compaction pass over every bucket of the group.
func (c *Compactor) Run() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CompactionDuration)
		metrics.CompactionPassesTotal.Inc()
	}()

	group, err := c.store.GetGroup(c.groupID)
	if err != nil {
		return fmt.Errorf("compact group %d: %w", c.groupID, err)
	}
	if uint64(group.LastCheckpoint) <= c.opts.MaxOpIDLag {
		return nil
	}
	// The window is fixed at pass start; ops landing after this point are
	// invisible to the pass.
	windowEnd := types.OpID(uint64(group.LastCheckpoint) - c.opts.MaxOpIDLag)

	buckets, err := c.store.ListBuckets(c.groupID)
	if err != nil {
		return fmt.Errorf("compact group %d: list buckets: %w", c.groupID, err)
	}

	g := new(errgroup.Group)
	g.SetLimit(c.opts.Concurrency)
	for _, bucket := range buckets {
		b := bucket
		g.Go(func() error {
			if err := c.compactBucket(b, windowEnd); err != nil {
				return fmt.Errorf("compact bucket %s: %w", b, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.logger.Info().Uint64("window_end", uint64(windowEnd)).Int("buckets", len(buckets)).
		Msg("Compaction pass complete")
	return nil
}

func (c *Compactor) compactBucket(bucket string, windowEnd types.OpID) error {
	if err := c.rewriteMoves(bucket, windowEnd); err != nil {
		return err
	}
	return c.collapsePrefix(bucket, windowEnd)
}

// rewriteMoves scans the bucket newest-to-oldest tracking the latest op per
// source key, and rewrites every superseded PUT or REMOVE as a MOVE pointing
// at the superseding op, keeping the original checksum.
func (c *Compactor) rewriteMoves(bucket string, windowEnd types.OpID) error {
	memoryLimit := c.opts.MemoryLimitMB * 1024 * 1024
	latest := make(map[string]types.OpID)
	trackedBytes := 0
	var moves []types.BucketOp

	err := c.store.ForEachBucketOpReverse(c.groupID, bucket, windowEnd, func(op types.BucketOp) (bool, error) {
		switch op.Kind {
		case types.OpClear:
			// Everything before an existing CLEAR is already collapsed.
			return false, nil
		case types.OpPut, types.OpRemove:
			key := string(op.SourceKey)
			if target, seen := latest[key]; seen {
				moves = append(moves, types.BucketOp{
					OpID:     op.OpID,
					Bucket:   bucket,
					Kind:     types.OpMove,
					Checksum: op.Checksum,
					TargetOp: target,
				})
				return true, nil
			}
			if trackedBytes < memoryLimit {
				latest[key] = op.OpID
				trackedBytes += len(key) + 8
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	for start := 0; start < len(moves); start += c.opts.MoveBatchLines {
		end := start + c.opts.MoveBatchLines
		if end > len(moves) {
			end = len(moves)
		}
		if err := c.store.RewriteOps(c.groupID, moves[start:end]); err != nil {
			return err
		}
	}
	if len(moves) > 0 {
		metrics.CompactionOpsRewritten.WithLabelValues("move").Add(float64(len(moves)))
		c.logger.Debug().Str("bucket", bucket).Int("moves", len(moves)).Msg("Rewrote superseded ops")
	}
	return nil
}

// collapsePrefix folds a leading run of MOVE / REMOVE / CLEAR ops into a
// single CLEAR whose checksum is the modular sum of the collapsed ops and
// whose target is the largest op id collapsed. Long prefixes collapse in
// bounded batches; each batch merges the CLEAR produced by the previous one.
func (c *Compactor) collapsePrefix(bucket string, windowEnd types.OpID) error {
	collapsed := 0
	for {
		ops, err := c.store.ReadBucketOps(c.groupID, bucket, 0, windowEnd, c.opts.ClearBatchLines)
		if err != nil {
			return err
		}
		prefix := 0
		var sum uint32
		for _, op := range ops {
			if op.Kind == types.OpPut {
				break
			}
			sum += op.Checksum
			prefix++
		}
		if prefix < 2 {
			break
		}
		upTo := ops[prefix-1].OpID
		if err := c.store.ApplyClear(c.groupID, bucket, upTo, sum); err != nil {
			return err
		}
		collapsed += prefix
		// A partial batch means the scan hit a PUT; nothing further to merge.
		if prefix < len(ops) || len(ops) < c.opts.ClearBatchLines {
			break
		}
	}
	if collapsed > 0 {
		metrics.CompactionOpsRewritten.WithLabelValues("clear").Add(float64(collapsed))
		c.logger.Debug().Str("bucket", bucket).Int("collapsed", collapsed).Msg("Collapsed bucket prefix")
	}
	return nil
}

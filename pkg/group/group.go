package group

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/basin/pkg/batch"
	"github.com/cuemby/basin/pkg/checksum"
	"github.com/cuemby/basin/pkg/evaluate"
	"github.com/cuemby/basin/pkg/events"
	"github.com/cuemby/basin/pkg/log"
	"github.com/cuemby/basin/pkg/metrics"
	"github.com/cuemby/basin/pkg/storage"
	"github.com/cuemby/basin/pkg/types"
)

// Handle is the per-group facade over the storage core: the replicator
// opens batches through it, the sync API reads checkpoints, bucket data,
// parameter sets and checksums through it, and admin transitions run
// through it. Shared caches (checksum cache, event notifier) are scoped to
// the handle.
type Handle struct {
	store    storage.Store
	groupID  types.GroupID
	cache    *checksum.Cache
	notifier *events.Notifier
	logger   zerolog.Logger

	mu        sync.Mutex
	batchOpen bool
}

// Options configures a Handle.
type Options struct {
	// ChecksumCacheSize bounds the checksum cache; zero uses the default.
	ChecksumCacheSize int
}

// NewHandle creates a handle for one sync-rule group, creating the group
// record in PROCESSING state if it does not exist.
func NewHandle(store storage.Store, groupID types.GroupID, opts Options) (*Handle, error) {
	cache, err := checksum.NewCache(store, opts.ChecksumCacheSize)
	if err != nil {
		return nil, err
	}
	if _, err := store.GetGroup(groupID); err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		if err := store.PutGroup(&types.Group{ID: groupID, Status: types.GroupProcessing}); err != nil {
			return nil, err
		}
	}
	return &Handle{
		store:    store,
		groupID:  groupID,
		cache:    cache,
		notifier: events.NewNotifier(),
		logger:   log.WithComponent("group").With().Uint32("group_id", uint32(groupID)).Logger(),
	}, nil
}

// Close tears down the handle's shared state.
func (h *Handle) Close() {
	h.notifier.Close()
}

// ID returns the group id.
func (h *Handle) ID() types.GroupID {
	return h.groupID
}

// Listen registers a listener for checkpoint and lifecycle events. The
// caller closes the listener when done.
func (h *Handle) Listen() *events.Listener {
	return h.notifier.Listen()
}

// OpenBatch opens the group's single writer. A second open before the first
// batch closes returns ErrBatchOpen; the returned writer releases the
// advisory lock on Close.
func (h *Handle) OpenBatch(eval evaluate.Evaluator, opts batch.Options) (*batch.Writer, error) {
	group, err := h.store.GetGroup(h.groupID)
	if err != nil {
		return nil, err
	}
	if group.Status == types.GroupTerminated {
		return nil, fmt.Errorf("group %d: %w", h.groupID, types.ErrTerminated)
	}
	if opts.ZeroLSN != "" && group.NoCheckpointBeforeLSN == "" {
		if _, err := h.store.UpdateGroup(h.groupID, func(g *types.Group) error {
			if g.NoCheckpointBeforeLSN == "" {
				g.NoCheckpointBeforeLSN = opts.ZeroLSN
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	h.mu.Lock()
	if h.batchOpen {
		h.mu.Unlock()
		return nil, fmt.Errorf("group %d: %w", h.groupID, types.ErrBatchOpen)
	}
	h.batchOpen = true
	h.mu.Unlock()

	release := func() {
		h.mu.Lock()
		h.batchOpen = false
		h.mu.Unlock()
	}
	return batch.New(h.store, h.groupID, eval, h.notifier, opts, release), nil
}

// ResolveTable resolves an upstream relation to its stable identity and
// annotates it with how the sync rules use it. The caller truncates every
// returned drop table before ingesting through the new identity.
func (h *Handle) ResolveTable(eval evaluate.Evaluator, args storage.ResolveArgs) (*types.SourceTable, []*types.SourceTable, error) {
	args.GroupID = h.groupID
	table, dropTables, err := h.store.ResolveTable(args)
	if err != nil {
		return nil, nil, err
	}
	table.SyncData, table.SyncParameters, table.TriggersEvent = eval.SourceTableInterest(table)
	if len(dropTables) > 0 {
		h.logger.Info().Str("table", table.QualifiedName()).Int("drop_tables", len(dropTables)).
			Msg("Source table identity replaced")
	}
	return table, dropTables, nil
}

// GetCheckpoint returns the current checkpoint descriptor. While the group
// has no visible checkpoint (before the snapshot boundary LSN), it reports
// checkpoint 0 with a nil LSN.
func (h *Handle) GetCheckpoint() (types.CheckpointInfo, error) {
	group, err := h.store.GetGroup(h.groupID)
	if err != nil {
		return types.CheckpointInfo{}, err
	}
	if group.Status == types.GroupTerminated {
		return types.CheckpointInfo{}, fmt.Errorf("group %d: %w", h.groupID, types.ErrNotFound)
	}
	if !group.CheckpointVisible() {
		return types.CheckpointInfo{Checkpoint: types.OpID(0).String()}, nil
	}
	lsn := group.LastCheckpointLSN
	return types.CheckpointInfo{
		Checkpoint: group.LastCheckpoint.String(),
		LSN:        &lsn,
	}, nil
}

// GetParameterSets resolves client sync parameters: for each lookup, the
// latest parameter entry at or before the checkpoint contributes its rows.
// Tombstones contribute nothing. Row order across lookups is unspecified.
func (h *Handle) GetParameterSets(checkpoint types.OpID, lookups [][]byte) ([]types.Row, error) {
	metrics.ParameterQueriesTotal.Inc()
	var result []types.Row
	for _, lookup := range lookups {
		row, err := h.store.LatestParameterRow(h.groupID, lookup, checkpoint)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("parameter lookup: %w", err)
		}
		result = append(result, row.Rows...)
	}
	return result, nil
}

// GetChecksums returns per-bucket aggregate checksums at the checkpoint.
// Every requested bucket is present in the result, zero-valued when empty.
func (h *Handle) GetChecksums(checkpoint types.OpID, buckets []string) (map[string]types.BucketChecksum, error) {
	return h.cache.GetChecksumMap(h.groupID, checkpoint, buckets)
}

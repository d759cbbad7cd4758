package batch

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/basin/pkg/codec"
	"github.com/cuemby/basin/pkg/evaluate"
	"github.com/cuemby/basin/pkg/events"
	"github.com/cuemby/basin/pkg/log"
	"github.com/cuemby/basin/pkg/metrics"
	"github.com/cuemby/basin/pkg/storage"
	"github.com/cuemby/basin/pkg/types"
)

// DefaultFlushThreshold is the buffered-bytes level at which a batch
// auto-flushes.
const DefaultFlushThreshold = 50 * 1024 * 1024

// ChangeTag classifies a row-level change from the replication stream.
type ChangeTag string

const (
	Insert ChangeTag = "INSERT"
	Update ChangeTag = "UPDATE"
	Delete ChangeTag = "DELETE"
)

// Change is one row-level event from the replicator.
type Change struct {
	Tag    ChangeTag
	Table  *types.SourceTable
	Before types.Row
	After  types.Row
}

// Options configures a batch.
type Options struct {
	// ZeroLSN is the LSN considered "before all data"; used when a group
	// record must be created on first open.
	ZeroLSN string

	// StoreCurrentData enables current-data bookkeeping. When disabled
	// (initial snapshot replays), every save is treated as a fresh insert.
	StoreCurrentData bool

	// FlushThreshold is the buffered-bytes level that triggers an automatic
	// flush. Zero means DefaultFlushThreshold.
	FlushThreshold int
}

// Writer is the ingest state machine for one sync-rule group. Exactly one
// Writer is open per group at a time; the group handle enforces this with an
// advisory lock whose release is handed to the Writer.
//
// Changes buffer in memory keyed by (bucket, source key) with latest-wins
// semantics; Flush persists everything in one storage transaction and
// assigns op ids. The enqueue interface is synchronous, but a save that
// crosses the flush threshold suspends on the flush.
type Writer struct {
	mu sync.Mutex

	store    storage.Store
	groupID  types.GroupID
	eval     evaluate.Evaluator
	notifier *events.Notifier
	logger   zerolog.Logger
	id       string
	opts     Options
	release  func()

	buckets     map[string]*bucketBuffer
	bucketOrder []string
	params      []storage.ParameterWrite
	overlay     map[string]*overlayEntry
	dropTables  []string

	bufferedBytes int
	closed        bool
}

// bucketBuffer holds the pending ops of one bucket, keyed by source key,
// preserving the order of first appearance.
type bucketBuffer struct {
	order []string
	ops   map[string]*storage.OpWrite
}

// overlayEntry is the batch-local view of a current-data record: writes in
// this batch that have not flushed yet.
type overlayEntry struct {
	deleted bool
	tableID string
	row     types.CurrentDataRow
}

// New creates a Writer. release is invoked exactly once when the batch
// closes.
func New(store storage.Store, groupID types.GroupID, eval evaluate.Evaluator, notifier *events.Notifier, opts Options, release func()) *Writer {
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = DefaultFlushThreshold
	}
	id := uuid.New().String()
	return &Writer{
		store:    store,
		groupID:  groupID,
		eval:     eval,
		notifier: notifier,
		logger:   log.WithComponent("batch").With().Uint32("group_id", uint32(groupID)).Str("batch_id", id).Logger(),
		id:       id,
		opts:     opts,
		release:  release,
		buckets:  make(map[string]*bucketBuffer),
		overlay:  make(map[string]*overlayEntry),
	}
}

// Save enqueues one row-level change.
func (w *Writer) Save(change Change) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrBatchClosed
	}
	table := change.Table
	if table == nil {
		return fmt.Errorf("save: missing source table")
	}

	record := change.After
	if change.Tag == Delete {
		record = nil
	}

	ident := change.After
	if ident == nil {
		ident = change.Before
	}
	if ident == nil {
		return fmt.Errorf("save %s on %s: no row image", change.Tag, table.QualifiedName())
	}
	afterID, err := codec.ReplicaID(table, ident)
	if err != nil {
		return fmt.Errorf("save on %s: encode replica id: %w", table.QualifiedName(), err)
	}

	// An update that changes the replica identity is a delete of the old
	// identity followed by an insert of the new one.
	if change.Tag == Update && change.Before != nil {
		beforeID, err := codec.ReplicaID(table, change.Before)
		if err != nil {
			return fmt.Errorf("save on %s: encode replica id: %w", table.QualifiedName(), err)
		}
		if string(beforeID) != string(afterID) {
			if err := w.processRow(table, types.SourceKey{TableID: table.ID, ReplicaID: beforeID}, nil); err != nil {
				return err
			}
		}
	}

	key := types.SourceKey{TableID: table.ID, ReplicaID: afterID}
	if err := w.processRow(table, key, record); err != nil {
		return err
	}

	if w.bufferedBytes >= w.opts.FlushThreshold {
		return w.flushLocked("")
	}
	return nil
}

// processRow diffs one source row's new evaluation against its current-data
// record and buffers the resulting ops. A nil record is a delete.
func (w *Writer) processRow(table *types.SourceTable, key types.SourceKey, record types.Row) error {
	cur := w.currentState(key)
	keyStr := overlayKey(key)

	var recordJSON string
	newBuckets := make(map[string]types.CurrentBucket)
	newData := make(map[string]string)
	if record != nil {
		var err error
		recordJSON, err = record.CanonicalJSON()
		if err != nil {
			return fmt.Errorf("row on %s: %w", table.QualifiedName(), err)
		}
	}

	if table.SyncData {
		if record != nil {
			for _, res := range w.eval.EvaluateRow(table, record) {
				if res.Err != nil {
					metrics.EvaluationErrorsTotal.Inc()
					w.logger.Error().Str("table", table.QualifiedName()).Str("error", res.Err.Message).
						Msg("Row evaluation failed")
					continue
				}
				data, err := res.Row.Data.CanonicalJSON()
				if err != nil {
					metrics.EvaluationErrorsTotal.Inc()
					w.logger.Error().Err(err).Str("table", table.QualifiedName()).
						Str("bucket", res.Row.Bucket).Msg("Cannot serialize evaluated row")
					continue
				}
				newBuckets[res.Row.Bucket] = types.CurrentBucket{
					Table: res.Row.Table,
					RowID: res.Row.RowID,
					Hash:  codec.RowHash(res.Row.Table, res.Row.RowID, data),
				}
				newData[res.Row.Bucket] = data
			}
		}

		subkey := codec.Subkey(key.TableID, key.ReplicaID)
		var oldBuckets map[string]types.CurrentBucket
		if cur != nil {
			oldBuckets = cur.Buckets
		}

		// Removals first, then puts, each in sorted bucket order: op ids
		// must be assigned deterministically, and map iteration is not.
		for _, bucket := range sortedBuckets(oldBuckets) {
			if _, still := newBuckets[bucket]; still {
				continue
			}
			old := oldBuckets[bucket]
			w.addOp(bucket, key, storage.OpWrite{
				Bucket:    bucket,
				Kind:      types.OpRemove,
				SourceKey: encodeSourceKey(key),
				Subkey:    subkey,
				Table:     old.Table,
				RowID:     old.RowID,
				Checksum:  codec.OpChecksum(types.OpRemove, old.Table, old.RowID, subkey, ""),
			})
		}
		for _, bucket := range sortedBuckets(newBuckets) {
			entry := newBuckets[bucket]
			old, existed := oldBuckets[bucket]
			if existed && old.Hash == entry.Hash {
				continue
			}
			w.addOp(bucket, key, storage.OpWrite{
				Bucket:    bucket,
				Kind:      types.OpPut,
				SourceKey: encodeSourceKey(key),
				Subkey:    subkey,
				Table:     entry.Table,
				RowID:     entry.RowID,
				Data:      newData[bucket],
				Checksum:  codec.OpChecksum(types.OpPut, entry.Table, entry.RowID, subkey, newData[bucket]),
			})
		}
	}

	var newLookups [][]byte
	if table.SyncParameters {
		var oldLookups [][]byte
		var oldData string
		if cur != nil {
			oldLookups = cur.Lookups
			oldData = cur.Data
		}

		lookupRows := make(map[string][]types.Row)
		if record != nil {
			for _, res := range w.eval.EvaluateParameterRow(table, record) {
				if res.Err != nil {
					metrics.EvaluationErrorsTotal.Inc()
					w.logger.Error().Str("table", table.QualifiedName()).Str("error", res.Err.Message).
						Msg("Parameter evaluation failed")
					continue
				}
				lookupRows[string(res.Parameters.Lookup)] = res.Parameters.Rows
			}
		}
		for l := range lookupRows {
			newLookups = append(newLookups, []byte(l))
		}
		sort.Slice(newLookups, func(i, j int) bool { return string(newLookups[i]) < string(newLookups[j]) })

		// An unchanged record with an unchanged lookup set writes nothing,
		// which is what makes re-applying the same event a no-op. Any
		// change rewrites every current lookup so stale parameter rows
		// cannot survive under an unchanged lookup key.
		unchanged := record != nil && cur != nil && oldData == recordJSON && lookupSetEqual(oldLookups, newLookups)
		if !unchanged {
			lookupOrder := make([]string, 0, len(lookupRows))
			for l := range lookupRows {
				lookupOrder = append(lookupOrder, l)
			}
			sort.Strings(lookupOrder)
			for _, l := range lookupOrder {
				w.addParam(storage.ParameterWrite{
					Lookup:    []byte(l),
					SourceKey: encodeSourceKey(key),
					Rows:      lookupRows[l],
				})
			}
			for _, old := range oldLookups {
				if _, still := lookupRows[string(old)]; still {
					continue
				}
				w.addParam(storage.ParameterWrite{
					Lookup:    old,
					SourceKey: encodeSourceKey(key),
				})
			}
		}
	}

	if !w.opts.StoreCurrentData {
		return nil
	}
	if record == nil {
		if cur != nil {
			w.overlay[keyStr] = &overlayEntry{deleted: true, tableID: key.TableID}
		}
		return nil
	}
	w.overlay[keyStr] = &overlayEntry{
		tableID: key.TableID,
		row: types.CurrentDataRow{
			Data:    recordJSON,
			Buckets: newBuckets,
			Lookups: newLookups,
		},
	}
	return nil
}

// Truncate emits REMOVE ops for every row previously seen in each table and
// forgets their current-data records.
func (w *Writer) Truncate(tables []*types.SourceTable) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrBatchClosed
	}
	for _, table := range tables {
		if err := w.truncateLocked(table); err != nil {
			return err
		}
	}
	if w.bufferedBytes >= w.opts.FlushThreshold {
		return w.flushLocked("")
	}
	return nil
}

func (w *Writer) truncateLocked(table *types.SourceTable) error {
	seen := make(map[string]bool)

	emit := func(key types.SourceKey, row types.CurrentDataRow) {
		subkey := codec.Subkey(key.TableID, key.ReplicaID)
		for _, bucket := range sortedBuckets(row.Buckets) {
			entry := row.Buckets[bucket]
			w.addOp(bucket, key, storage.OpWrite{
				Bucket:    bucket,
				Kind:      types.OpRemove,
				SourceKey: encodeSourceKey(key),
				Subkey:    subkey,
				Table:     entry.Table,
				RowID:     entry.RowID,
				Checksum:  codec.OpChecksum(types.OpRemove, entry.Table, entry.RowID, subkey, ""),
			})
		}
		for _, lookup := range row.Lookups {
			w.addParam(storage.ParameterWrite{Lookup: lookup, SourceKey: encodeSourceKey(key)})
		}
		w.overlay[overlayKey(key)] = &overlayEntry{deleted: true, tableID: key.TableID}
	}

	// Batch-local rows first, then persisted rows not already covered.
	overlayKeys := make([]string, 0, len(w.overlay))
	for k := range w.overlay {
		overlayKeys = append(overlayKeys, k)
	}
	sort.Strings(overlayKeys)
	for _, k := range overlayKeys {
		entry := w.overlay[k]
		if entry.tableID != table.ID || entry.deleted {
			continue
		}
		seen[k] = true
		emit(decodeOverlayKey(k), entry.row)
	}
	err := w.store.ForEachCurrentData(w.groupID, table.ID, func(key types.SourceKey, row types.CurrentDataRow) error {
		if seen[overlayKey(key)] {
			return nil
		}
		if entry, ok := w.overlay[overlayKey(key)]; ok && entry.deleted {
			return nil
		}
		emit(key, row)
		return nil
	})
	if err != nil {
		return fmt.Errorf("truncate %s: %w", table.QualifiedName(), err)
	}
	w.logger.Info().Str("table", table.QualifiedName()).Msg("Table truncated")
	return nil
}

// Drop truncates the tables and removes their registry identities with the
// next flush.
func (w *Writer) Drop(tables []*types.SourceTable) error {
	if err := w.Truncate(tables); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrBatchClosed
	}
	for _, table := range tables {
		w.dropTables = append(w.dropTables, table.ID)
	}
	return nil
}

// Commit marks every change up to lsn as enqueued and flushes, advancing
// the group checkpoint to lsn.
func (w *Writer) Commit(lsn string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrBatchClosed
	}
	return w.flushLocked(lsn)
}

// Keepalive advances last_checkpoint_lsn without emitting ops. Pending
// buffered changes, if any, flush with the same LSN.
func (w *Writer) Keepalive(lsn string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrBatchClosed
	}
	return w.flushLocked(lsn)
}

// Flush persists buffered ops without advancing the LSN.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrBatchClosed
	}
	return w.flushLocked("")
}

// MarkSnapshotDone records snapshot completion for the tables and forbids
// checkpoints before lsn.
func (w *Writer) MarkSnapshotDone(tables []*types.SourceTable, lsn string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrBatchClosed
	}
	ids := make([]string, len(tables))
	for i, t := range tables {
		ids[i] = t.ID
	}
	if err := w.store.MarkSnapshotDone(ids); err != nil {
		return err
	}
	_, err := w.store.UpdateGroup(w.groupID, func(g *types.Group) error {
		if lsn > g.NoCheckpointBeforeLSN {
			g.NoCheckpointBeforeLSN = lsn
		}
		g.SnapshotDone = true
		return nil
	})
	return err
}

// Close releases the batch. Buffered changes that were never flushed are
// abandoned: the checkpoint does not advance and the replicator re-applies
// from the last committed LSN.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.pendingLocked() {
		w.logger.Warn().Int("buffered_bytes", w.bufferedBytes).
			Msg("Batch closed with unflushed changes; abandoning")
	}
	w.buckets = nil
	w.bucketOrder = nil
	w.params = nil
	w.overlay = nil
	if w.release != nil {
		w.release()
		w.release = nil
	}
	return nil
}

func (w *Writer) pendingLocked() bool {
	return len(w.bucketOrder) > 0 || len(w.params) > 0 || len(w.overlay) > 0 || len(w.dropTables) > 0
}

// flushLocked persists all buffered state in one storage transaction. Op
// ids are assigned grouped by bucket in order of first appearance, then by
// source-key first appearance within the bucket; this is the deterministic
// tie-break that makes a retried flush reproduce the same id range.
func (w *Writer) flushLocked(lsn string) error {
	if !w.pendingLocked() && lsn == "" {
		return nil
	}

	f := &storage.Flush{CommitLSN: lsn, DropTableIDs: w.dropTables}
	for _, bucket := range w.bucketOrder {
		buf := w.buckets[bucket]
		for _, key := range buf.order {
			f.Ops = append(f.Ops, *buf.ops[key])
		}
	}
	f.Parameters = w.params
	for k, entry := range w.overlay {
		if entry.deleted {
			f.CurrentDeletes = append(f.CurrentDeletes, decodeOverlayKey(k))
		} else {
			f.CurrentPuts = append(f.CurrentPuts, storage.CurrentWrite{
				Key: decodeOverlayKey(k),
				Row: entry.row,
			})
		}
	}

	timer := metrics.NewTimer()
	checkpoint, err := w.store.ApplyFlush(w.groupID, f)
	if err != nil {
		if errors.Is(err, types.ErrIntegrity) {
			w.reportFatal(err)
		}
		return fmt.Errorf("flush batch: %w", err)
	}
	timer.ObserveDuration(metrics.FlushDuration)
	metrics.BatchFlushesTotal.Inc()
	metrics.FlushedOps.Observe(float64(len(f.Ops)))
	for i := range f.Ops {
		metrics.OpsWrittenTotal.WithLabelValues(string(f.Ops[i].Kind)).Inc()
	}

	w.logger.Debug().Uint64("checkpoint", uint64(checkpoint)).Str("lsn", lsn).
		Int("ops", len(f.Ops)).Int("parameters", len(f.Parameters)).
		Msg("Batch flushed")

	if w.notifier != nil {
		kind := events.CheckpointAdvanced
		if len(f.Ops) == 0 && len(f.Parameters) == 0 {
			kind = events.Keepalive
		}
		w.notifier.Publish(events.Event{
			Kind:       kind,
			GroupID:    uint32(w.groupID),
			Checkpoint: uint64(checkpoint),
			LSN:        lsn,
		})
	}

	w.buckets = make(map[string]*bucketBuffer)
	w.bucketOrder = nil
	w.params = nil
	w.overlay = make(map[string]*overlayEntry)
	w.dropTables = nil
	w.bufferedBytes = 0
	return nil
}

// reportFatal records an integrity violation and stops the group.
func (w *Writer) reportFatal(cause error) {
	w.logger.Error().Err(cause).Msg("Integrity violation; stopping group")
	if _, err := w.store.UpdateGroup(w.groupID, func(g *types.Group) error {
		g.LastFatalError = cause.Error()
		g.Status = types.GroupStopped
		return nil
	}); err != nil {
		w.logger.Error().Err(err).Msg("Failed to record fatal error")
	}
}

// currentState resolves the effective current-data record for a key:
// batch-local overlay first, then storage.
func (w *Writer) currentState(key types.SourceKey) *types.CurrentDataRow {
	if entry, ok := w.overlay[overlayKey(key)]; ok {
		if entry.deleted {
			return nil
		}
		return &entry.row
	}
	if !w.opts.StoreCurrentData {
		return nil
	}
	row, err := w.store.GetCurrentData(w.groupID, key)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			w.logger.Error().Err(err).Msg("Failed to read current data")
		}
		return nil
	}
	return row
}

func (w *Writer) addOp(bucket string, key types.SourceKey, op storage.OpWrite) {
	buf, ok := w.buckets[bucket]
	if !ok {
		buf = &bucketBuffer{ops: make(map[string]*storage.OpWrite)}
		w.buckets[bucket] = buf
		w.bucketOrder = append(w.bucketOrder, bucket)
	}
	keyStr := overlayKey(key)
	if prev, exists := buf.ops[keyStr]; exists {
		w.bufferedBytes -= opSize(prev)
	} else {
		buf.order = append(buf.order, keyStr)
	}
	buf.ops[keyStr] = &op
	w.bufferedBytes += opSize(&op)
}

func (w *Writer) addParam(p storage.ParameterWrite) {
	w.params = append(w.params, p)
	w.bufferedBytes += len(p.Lookup) + len(p.SourceKey) + 64*len(p.Rows) + 32
}

func opSize(op *storage.OpWrite) int {
	return len(op.Bucket) + len(op.SourceKey) + len(op.Subkey) +
		len(op.Table) + len(op.RowID) + len(op.Data) + 64
}

// overlayKey encodes a source key as a map key: table id, NUL, replica id.
func overlayKey(key types.SourceKey) string {
	return key.TableID + "\x00" + string(key.ReplicaID)
}

func decodeOverlayKey(k string) types.SourceKey {
	for i := 0; i < len(k); i++ {
		if k[i] == 0 {
			return types.SourceKey{TableID: k[:i], ReplicaID: []byte(k[i+1:])}
		}
	}
	return types.SourceKey{TableID: k}
}

func encodeSourceKey(key types.SourceKey) []byte {
	b := make([]byte, 0, len(key.TableID)+1+len(key.ReplicaID))
	b = append(b, key.TableID...)
	b = append(b, 0x00)
	b = append(b, key.ReplicaID...)
	return b
}

func sortedBuckets(m map[string]types.CurrentBucket) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupSetEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, l := range a {
		set[string(l)] = true
	}
	for _, l := range b {
		if !set[string(l)] {
			return false
		}
	}
	return true
}

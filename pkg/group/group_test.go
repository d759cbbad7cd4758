package group

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/basin/pkg/batch"
	"github.com/cuemby/basin/pkg/evaluate"
	"github.com/cuemby/basin/pkg/events"
	"github.com/cuemby/basin/pkg/log"
	"github.com/cuemby/basin/pkg/storage"
	"github.com/cuemby/basin/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: "error"})
	m.Run()
}

func newTestHandle(t *testing.T, id types.GroupID) (*Handle, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	handle, err := NewHandle(store, id, Options{})
	require.NoError(t, err)
	t.Cleanup(handle.Close)
	return handle, store
}

func seedOps(t *testing.T, store *storage.BoltStore, id types.GroupID, lsn string, ops ...storage.OpWrite) types.OpID {
	t.Helper()
	checkpoint, err := store.ApplyFlush(id, &storage.Flush{Ops: ops, CommitLSN: lsn})
	require.NoError(t, err)
	return checkpoint
}

func putOp(bucket, rowID string, data string) storage.OpWrite {
	return storage.OpWrite{
		Bucket: bucket, Kind: types.OpPut, Table: "users", RowID: rowID,
		Data: data, Checksum: 1,
	}
}

// nopEvaluator satisfies evaluate.Evaluator for lock tests.
type nopEvaluator struct{}

func (nopEvaluator) EvaluateRow(*types.SourceTable, types.Row) []evaluate.RowResult {
	return nil
}
func (nopEvaluator) EvaluateParameterRow(*types.SourceTable, types.Row) []evaluate.ParameterResult {
	return nil
}
func (nopEvaluator) SourceTableInterest(*types.SourceTable) (bool, bool, bool) {
	return true, false, false
}

func TestResolveTableAnnotates(t *testing.T) {
	handle, _ := newTestHandle(t, 1)

	table, drops, err := handle.ResolveTable(nopEvaluator{}, storage.ResolveArgs{
		ConnectionID: "conn-1",
		RelationID:   100,
		Schema:       "public",
		Name:         "users",
	})
	require.NoError(t, err)
	assert.Empty(t, drops)
	assert.True(t, table.SyncData)
	assert.False(t, table.SyncParameters)
	assert.Equal(t, types.GroupID(1), table.GroupID)
}

func TestNewHandleCreatesGroupRecord(t *testing.T) {
	_, store := newTestHandle(t, 7)

	g, err := store.GetGroup(7)
	require.NoError(t, err)
	assert.Equal(t, types.GroupProcessing, g.Status)
}

func TestGetCheckpointBeforeSnapshotBoundary(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	// No LSN yet: checkpoint 0, nil LSN.
	info, err := handle.GetCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, "0", info.Checkpoint)
	assert.Nil(t, info.LSN)

	// An LSN behind the snapshot boundary still exposes nothing.
	_, err = store.UpdateGroup(1, func(g *types.Group) error {
		g.NoCheckpointBeforeLSN = "0/50"
		return nil
	})
	require.NoError(t, err)
	seedOps(t, store, 1, "0/10", putOp("a", "1", `{}`))

	info, err = handle.GetCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, "0", info.Checkpoint)
	assert.Nil(t, info.LSN)

	// Once the LSN passes the boundary the checkpoint becomes visible.
	seedOps(t, store, 1, "0/60", putOp("a", "2", `{}`))
	info, err = handle.GetCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, "2", info.Checkpoint)
	require.NotNil(t, info.LSN)
	assert.Equal(t, "0/60", *info.LSN)
}

func TestGetCheckpointTerminated(t *testing.T) {
	handle, store := newTestHandle(t, 1)
	_, err := store.UpdateGroup(1, func(g *types.Group) error {
		g.Status = types.GroupTerminated
		return nil
	})
	require.NoError(t, err)

	_, err = handle.GetCheckpoint()
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSingleBatchPerGroup(t *testing.T) {
	handle, _ := newTestHandle(t, 1)

	w, err := handle.OpenBatch(nopEvaluator{}, batch.Options{})
	require.NoError(t, err)

	_, err = handle.OpenBatch(nopEvaluator{}, batch.Options{})
	assert.ErrorIs(t, err, types.ErrBatchOpen)

	// Closing the first batch releases the lock.
	require.NoError(t, w.Close())
	w2, err := handle.OpenBatch(nopEvaluator{}, batch.Options{})
	require.NoError(t, err)
	require.NoError(t, w2.Close())
}

func TestDataIteratorBatchesByBucket(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	checkpoint := seedOps(t, store, 1, "0/10",
		putOp("a", "1", `{"v":1}`),
		putOp("a", "2", `{"v":2}`),
		putOp("b", "1", `{"v":3}`),
	)

	it := handle.GetBucketDataBatch(checkpoint, map[string]types.OpID{"a": 0, "b": 0}, ReadOptions{})

	first, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.Bucket)
	assert.Equal(t, "0", first.After)
	assert.Equal(t, "2", first.NextAfter)
	assert.False(t, first.HasMore)
	require.Len(t, first.Data, 2)
	assert.Equal(t, "1", first.Data[0].OpID)

	second, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "b", second.Bucket)
	assert.Len(t, second.Data, 1)

	done, err := it.Next()
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestDataIteratorHonorsAfterAndCheckpoint(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	seedOps(t, store, 1, "0/10",
		putOp("a", "1", `{}`), putOp("a", "2", `{}`), putOp("a", "3", `{}`))

	// Window (1, 2]: only op 2.
	it := handle.GetBucketDataBatch(2, map[string]types.OpID{"a": 1}, ReadOptions{})
	out, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "2", out.Data[0].OpID)
	// The bucket has an op beyond the checkpoint, which must stay hidden.
	assert.False(t, out.HasMore)
}

func TestDataIteratorGlobalLimit(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	checkpoint := seedOps(t, store, 1, "0/10",
		putOp("a", "1", `{}`), putOp("a", "2", `{}`), putOp("a", "3", `{}`))

	// Limit equal to the op count: everything is returned, and the final
	// batch still reports has_more because the cursor may be truncated.
	it := handle.GetBucketDataBatch(checkpoint, map[string]types.OpID{"a": 0}, ReadOptions{Limit: 3})
	out, err := it.Next()
	require.NoError(t, err)
	require.Len(t, out.Data, 3)
	assert.True(t, out.HasMore)

	next, err := it.Next()
	require.NoError(t, err)
	assert.Nil(t, next)

	// Resuming from next_after drains the rest (nothing) cleanly.
	after, err := types.ParseOpID(out.NextAfter)
	require.NoError(t, err)
	it = handle.GetBucketDataBatch(checkpoint, map[string]types.OpID{"a": after}, ReadOptions{Limit: 3})
	out, err = it.Next()
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDataIteratorChunksBySize(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	big := `{"payload":"` + string(make([]byte, 300)) + `"}`
	checkpoint := seedOps(t, store, 1, "0/10",
		putOp("a", "1", big), putOp("a", "2", big), putOp("a", "3", big))

	it := handle.GetBucketDataBatch(checkpoint, map[string]types.OpID{"a": 0}, ReadOptions{ChunkLimitBytes: 400})

	var batches []*types.SyncBucketData
	for {
		out, err := it.Next()
		require.NoError(t, err)
		if out == nil {
			break
		}
		batches = append(batches, out)
	}
	require.Greater(t, len(batches), 1, "oversized data must split into multiple chunks")

	// All but the last chunk continue the same bucket.
	total := 0
	for i, b := range batches {
		total += len(b.Data)
		if i < len(batches)-1 {
			assert.True(t, b.HasMore)
		} else {
			assert.False(t, b.HasMore)
		}
	}
	assert.Equal(t, 3, total)

	// next_after chains: each batch resumes where the previous ended.
	assert.Equal(t, batches[0].NextAfter, batches[1].After)
}

func TestDataIteratorReportsMoveTarget(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	seedOps(t, store, 1, "0/10", putOp("a", "1", `{}`), putOp("a", "2", `{}`))
	require.NoError(t, store.RewriteOps(1, []types.BucketOp{
		{OpID: 1, Bucket: "a", Kind: types.OpMove, Checksum: 1, TargetOp: 2},
	}))

	it := handle.GetBucketDataBatch(2, map[string]types.OpID{"a": 0}, ReadOptions{})
	out, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "2", out.TargetOp)
}

func TestGetParameterSets(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	_, err := store.ApplyFlush(1, &storage.Flush{
		Parameters: []storage.ParameterWrite{
			{Lookup: []byte("l1"), Rows: []types.Row{{"bucket": types.Text("a")}}},
			{Lookup: []byte("l2"), Rows: []types.Row{{"bucket": types.Text("b")}, {"bucket": types.Text("c")}}},
		},
		CommitLSN: "0/10",
	})
	require.NoError(t, err)

	rows, err := handle.GetParameterSets(10, [][]byte{[]byte("l1"), []byte("l2"), []byte("unknown")})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// A tombstone silences a lookup.
	_, err = store.ApplyFlush(1, &storage.Flush{
		Parameters: []storage.ParameterWrite{{Lookup: []byte("l2")}},
		CommitLSN:  "0/20",
	})
	require.NoError(t, err)

	rows, err = handle.GetParameterSets(10, [][]byte{[]byte("l1"), []byte("l2")})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestGetChecksums(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	checkpoint := seedOps(t, store, 1, "0/10", putOp("a", "1", `{}`), putOp("a", "2", `{}`))

	result, err := handle.GetChecksums(checkpoint, []string{"a", "empty"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result["a"].Count)
	assert.Equal(t, int64(0), result["empty"].Count)
}

func TestAutoActivateDemotesOthers(t *testing.T) {
	handle, store := newTestHandle(t, 2)
	require.NoError(t, store.PutGroup(&types.Group{ID: 1, Status: types.GroupActive}))

	require.NoError(t, handle.AutoActivate())

	g1, err := store.GetGroup(1)
	require.NoError(t, err)
	assert.Equal(t, types.GroupStopped, g1.Status)

	g2, err := store.GetGroup(2)
	require.NoError(t, err)
	assert.Equal(t, types.GroupActive, g2.Status)

	// Re-activating an already active group is fine.
	require.NoError(t, handle.AutoActivate())
}

func TestTerminateClearsStorage(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	seedOps(t, store, 1, "0/10", putOp("a", "1", `{}`))

	require.NoError(t, handle.Terminate(context.Background(), TerminateOptions{}))

	g, err := store.GetGroup(1)
	require.NoError(t, err)
	assert.Equal(t, types.GroupTerminated, g.Status)
	assert.Empty(t, g.LastCheckpointLSN)

	ops, err := store.ReadBucketOps(1, "a", 0, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, ops)

	// A terminated group rejects new batches.
	_, err = handle.OpenBatch(nopEvaluator{}, batch.Options{})
	assert.ErrorIs(t, err, types.ErrTerminated)
}

func TestTerminateKeepStorage(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	seedOps(t, store, 1, "0/10", putOp("a", "1", `{}`))

	keep := false
	require.NoError(t, handle.Terminate(context.Background(), TerminateOptions{ClearStorage: &keep}))

	ops, err := store.ReadBucketOps(1, "a", 0, 100, 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestClearIsIdempotent(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	seedOps(t, store, 1, "0/10", putOp("a", "1", `{}`))

	require.NoError(t, handle.Clear(context.Background()))
	require.NoError(t, handle.Clear(context.Background()))

	ops, err := store.ReadBucketOps(1, "a", 0, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestReportError(t *testing.T) {
	handle, store := newTestHandle(t, 1)

	handle.ReportError(assert.AnError)

	g, err := store.GetGroup(1)
	require.NoError(t, err)
	assert.Equal(t, assert.AnError.Error(), g.LastFatalError)

	// nil is a no-op.
	handle.ReportError(nil)
}

func TestBatchPublishesCheckpointEvents(t *testing.T) {
	handle, _ := newTestHandle(t, 1)

	sub := handle.Listen()
	defer sub.Close()

	w, err := handle.OpenBatch(nopEvaluator{}, batch.Options{})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Keepalive("0/10"))

	event := <-sub.C
	assert.Equal(t, events.Keepalive, event.Kind)
	assert.Equal(t, uint32(1), event.GroupID)
	assert.Equal(t, "0/10", event.LSN)
}

func TestCompactionFinishedNotifiesListeners(t *testing.T) {
	handle, _ := newTestHandle(t, 1)

	sub := handle.Listen()
	defer sub.Close()

	handle.CompactionFinished()

	event := <-sub.C
	assert.Equal(t, events.CompactionDone, event.Kind)
}
